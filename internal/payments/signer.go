package payments

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultEventTTL = 10 * time.Minute

var errMissingPaymentRef = errors.New("payment reference must be provided")

// SignerConfig configures the event signer used by payment relays and tooling.
type SignerConfig struct {
	SigningSecret []byte
	Issuer        string
	TTL           time.Duration
	Clock         func() time.Time
}

// Signer produces payment event tokens accepted by Verifier.
type Signer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewSigner constructs a Signer with sane defaults.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Signer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        cfg.Issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Sign encodes event as an HS256 token.
func (s *Signer) Sign(event Event) (string, error) {
	if event.PaymentRef == "" {
		return "", errMissingPaymentRef
	}

	now := s.clock().UTC()
	claims := EventClaims{
		Mode:                      event.Mode,
		Amount:                    event.Amount.StringFixed(2),
		Content:                   event.Content,
		SyndicateID:               event.SyndicateID,
		AuthorName:                event.AuthorName,
		NotifyEmail:               event.NotifyEmail,
		NotifyOnFunded:            event.NotifyOnFunded,
		NotifyOnEveryContribution: event.NotifyOnEveryContribution,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        event.PaymentRef,
			Subject:   event.PaymentRef,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingSecret)
}
