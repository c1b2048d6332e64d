package monolith

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the transactional row store backing the settlement engine. Every
// mutation that moves the occupant baton or a syndicate total is a guarded
// update; callers treat zero affected rows as a lost race.
type Ledger interface {
	// SelectActiveOccupant returns the occupant holding the baton, or nil when storage is empty.
	SelectActiveOccupant(ctx context.Context) (*Occupant, error)
	// SelectLatestInactiveOccupant returns the most recently created archived occupant, or nil.
	SelectLatestInactiveOccupant(ctx context.Context) (*Occupant, error)
	// SelectSyndicate returns the syndicate or nil when it does not exist.
	SelectSyndicate(ctx context.Context, syndicateID string) (*Syndicate, error)
	// ListActiveSyndicates orders by total raised descending, newest first on ties.
	ListActiveSyndicates(ctx context.Context) ([]Syndicate, error)
	// ListContributions returns a syndicate's contributions oldest first.
	ListContributions(ctx context.Context, syndicateID string) ([]Contribution, error)
	// ListContributionsFor returns contributions for several syndicates at once.
	ListContributionsFor(ctx context.Context, syndicateIDs []string) ([]Contribution, error)
	// FindContributionByPaymentRef returns the contribution recorded for ref, or nil.
	FindContributionByPaymentRef(ctx context.Context, paymentRef string) (*Contribution, error)

	InsertOccupant(ctx context.Context, occupant *Occupant) error
	// DeactivateOccupant flips active to false guarded by id and active = true.
	DeactivateOccupant(ctx context.Context, occupantID string) (int64, error)
	InsertSyndicate(ctx context.Context, syndicate *Syndicate) error
	// UpdateSyndicateTotal sets total_raised guarded by status = active and the
	// previously observed total. It returns nil when the guard missed.
	UpdateSyndicateTotal(ctx context.Context, syndicateID string, observedTotal, nextTotal decimal.Decimal) (*Syndicate, error)
	// MarkSyndicateWon flips active to won guarded by status = active.
	MarkSyndicateWon(ctx context.Context, syndicateID string, wonAt time.Time) (int64, error)
	// InsertContribution returns ErrDuplicatePaymentRef on a payment reference collision.
	InsertContribution(ctx context.Context, contribution *Contribution) error

	// WithinTransaction runs fn against a ledger bound to one atomic unit of work.
	// Nested calls open a savepoint.
	WithinTransaction(ctx context.Context, fn func(Ledger) error) error
}
