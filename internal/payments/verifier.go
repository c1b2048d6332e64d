package payments

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingSigningSecret = errors.New("payment verifier: signing secret required")
	ErrMissingIssuer        = errors.New("payment verifier: issuer required")
	ErrMissingToken         = errors.New("payment verifier: token required")
	ErrInvalidToken         = errors.New("payment verifier: invalid token")
	ErrExpiredToken         = errors.New("payment verifier: token expired")
)

// VerifierConfig describes how to validate relay-signed payment events.
type VerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// Verifier validates HS256 payment event tokens.
type Verifier struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewVerifier constructs a verifier with the provided configuration.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// VerifyToken validates the token string and returns the decoded event.
func (v *Verifier) VerifyToken(tokenString string) (Event, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Event{}, ErrMissingToken
	}

	claims := &EventClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Event{}, ErrExpiredToken
		}
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Event{}, ErrInvalidToken
	}
	return eventFromClaims(*claims)
}

// VerifyRequest extracts the bearer token from the request and validates it.
func (v *Verifier) VerifyRequest(r *http.Request) (Event, error) {
	if r == nil {
		return Event{}, ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, bearerPrefix) {
		return Event{}, ErrMissingToken
	}
	return v.VerifyToken(strings.TrimPrefix(header, bearerPrefix))
}
