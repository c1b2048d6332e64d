// Package payments turns relay-signed "payment succeeded" events into settlement calls.
package payments

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

// Mode selects the settlement a payment pays for.
type Mode string

const (
	// ModeSolo pays for a solo displacement bid.
	ModeSolo Mode = "solo"
	// ModeSyndicate pays for a syndicate contribution; no syndicate id opens a new syndicate.
	ModeSyndicate Mode = "syndicate"
)

var (
	ErrInvalidEvent    = errors.New("payments: invalid event")
	ErrUnsupportedMode = errors.New("payments: unsupported mode")
)

// EventClaims is the JWT payload of a payment-succeeded event. The token id is the
// processor's payment reference.
type EventClaims struct {
	Mode                      Mode   `json:"mode"`
	Amount                    string `json:"amount"`
	Content                   string `json:"content,omitempty"`
	SyndicateID               string `json:"syndicate_id,omitempty"`
	AuthorName                string `json:"author_name,omitempty"`
	NotifyEmail               string `json:"notify_email,omitempty"`
	NotifyOnFunded            bool   `json:"notify_on_funded,omitempty"`
	NotifyOnEveryContribution bool   `json:"notify_on_every_contribution,omitempty"`
	jwt.RegisteredClaims
}

// Event is a verified payment-succeeded event.
type Event struct {
	PaymentRef                string
	Mode                      Mode
	Amount                    decimal.Decimal
	Content                   string
	SyndicateID               string
	AuthorName                string
	NotifyEmail               string
	NotifyOnFunded            bool
	NotifyOnEveryContribution bool
}

func eventFromClaims(claims EventClaims) (Event, error) {
	paymentRef := strings.TrimSpace(claims.ID)
	if paymentRef == "" {
		return Event{}, errors.Join(ErrInvalidEvent, errors.New("payment reference required"))
	}
	mode := Mode(strings.ToLower(strings.TrimSpace(string(claims.Mode))))
	if mode != ModeSolo && mode != ModeSyndicate {
		return Event{}, errors.Join(ErrUnsupportedMode, errors.New(string(claims.Mode)))
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(claims.Amount))
	if err != nil {
		return Event{}, errors.Join(ErrInvalidEvent, err)
	}
	if !amount.IsPositive() {
		return Event{}, errors.Join(ErrInvalidEvent, errors.New("amount must be positive"))
	}
	return Event{
		PaymentRef:                paymentRef,
		Mode:                      mode,
		Amount:                    amount,
		Content:                   claims.Content,
		SyndicateID:               strings.TrimSpace(claims.SyndicateID),
		AuthorName:                claims.AuthorName,
		NotifyEmail:               claims.NotifyEmail,
		NotifyOnFunded:            claims.NotifyOnFunded,
		NotifyOnEveryContribution: claims.NotifyOnEveryContribution,
	}, nil
}
