package monolith

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryActive            = "active = ?"
	queryOccupantGuard     = "id = ? AND active = ?"
	querySyndicateID       = "id = ?"
	querySyndicateStatus   = "status = ?"
	querySyndicateGuard    = "id = ? AND status = ?"
	querySyndicateTotalCAS = "id = ? AND status = ? AND total_raised = ?"
	queryContributionsOf   = "syndicate_id = ?"
	queryContributionsIn   = "syndicate_id IN ?"
	queryPaymentRef        = "payment_ref = ?"
	orderNewestFirst       = "created_at DESC, id DESC"
	orderOldestFirst       = "created_at ASC, id ASC"
	orderLedger            = "total_raised DESC, created_at DESC"
)

// Compile-time check: *GormLedger must satisfy Ledger.
var _ Ledger = (*GormLedger)(nil)

// GormLedger implements Ledger on a gorm connection.
type GormLedger struct {
	db      *gorm.DB
	locking bool
}

// NewGormLedger wraps the provided database handle.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// forRead locks selected rows inside a transaction on dialects with row locks.
// SQLite serializes writers on its single connection instead.
func (l *GormLedger) forRead(ctx context.Context) *gorm.DB {
	query := l.db.WithContext(ctx)
	if l.locking && l.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func (l *GormLedger) SelectActiveOccupant(ctx context.Context) (*Occupant, error) {
	var occupant Occupant
	err := l.forRead(ctx).
		Where(queryActive, true).
		Order(orderNewestFirst).
		Take(&occupant).Error
	return rowOrNil(&occupant, err)
}

func (l *GormLedger) SelectLatestInactiveOccupant(ctx context.Context) (*Occupant, error) {
	var occupant Occupant
	err := l.db.WithContext(ctx).
		Where(queryActive, false).
		Order(orderNewestFirst).
		Take(&occupant).Error
	return rowOrNil(&occupant, err)
}

func (l *GormLedger) SelectSyndicate(ctx context.Context, syndicateID string) (*Syndicate, error) {
	var syndicate Syndicate
	err := l.forRead(ctx).
		Where(querySyndicateID, syndicateID).
		Take(&syndicate).Error
	return rowOrNil(&syndicate, err)
}

func (l *GormLedger) ListActiveSyndicates(ctx context.Context) ([]Syndicate, error) {
	var syndicates []Syndicate
	if err := l.db.WithContext(ctx).
		Where(querySyndicateStatus, SyndicateStatusActive).
		Order(orderLedger).
		Find(&syndicates).Error; err != nil {
		return nil, err
	}
	return syndicates, nil
}

func (l *GormLedger) ListContributions(ctx context.Context, syndicateID string) ([]Contribution, error) {
	var contributions []Contribution
	if err := l.db.WithContext(ctx).
		Where(queryContributionsOf, syndicateID).
		Order(orderOldestFirst).
		Find(&contributions).Error; err != nil {
		return nil, err
	}
	return contributions, nil
}

func (l *GormLedger) ListContributionsFor(ctx context.Context, syndicateIDs []string) ([]Contribution, error) {
	if len(syndicateIDs) == 0 {
		return nil, nil
	}
	var contributions []Contribution
	if err := l.db.WithContext(ctx).
		Where(queryContributionsIn, syndicateIDs).
		Order(orderOldestFirst).
		Find(&contributions).Error; err != nil {
		return nil, err
	}
	return contributions, nil
}

func (l *GormLedger) FindContributionByPaymentRef(ctx context.Context, paymentRef string) (*Contribution, error) {
	var contribution Contribution
	err := l.db.WithContext(ctx).
		Where(queryPaymentRef, paymentRef).
		Take(&contribution).Error
	return rowOrNil(&contribution, err)
}

func (l *GormLedger) InsertOccupant(ctx context.Context, occupant *Occupant) error {
	return l.db.WithContext(ctx).Create(occupant).Error
}

func (l *GormLedger) DeactivateOccupant(ctx context.Context, occupantID string) (int64, error) {
	result := l.db.WithContext(ctx).
		Model(&Occupant{}).
		Where(queryOccupantGuard, occupantID, true).
		Update("active", false)
	return result.RowsAffected, result.Error
}

func (l *GormLedger) InsertSyndicate(ctx context.Context, syndicate *Syndicate) error {
	return l.db.WithContext(ctx).Create(syndicate).Error
}

func (l *GormLedger) UpdateSyndicateTotal(ctx context.Context, syndicateID string, observedTotal, nextTotal decimal.Decimal) (*Syndicate, error) {
	result := l.db.WithContext(ctx).
		Model(&Syndicate{}).
		Where(querySyndicateTotalCAS, syndicateID, SyndicateStatusActive, observedTotal).
		Update("total_raised", nextTotal)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	var updated Syndicate
	if err := l.db.WithContext(ctx).Where(querySyndicateID, syndicateID).Take(&updated).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}

func (l *GormLedger) MarkSyndicateWon(ctx context.Context, syndicateID string, wonAt time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Model(&Syndicate{}).
		Where(querySyndicateGuard, syndicateID, SyndicateStatusActive).
		Updates(map[string]any{
			"status": SyndicateStatusWon,
			"won_at": wonAt,
		})
	return result.RowsAffected, result.Error
}

func (l *GormLedger) InsertContribution(ctx context.Context, contribution *Contribution) error {
	err := l.db.WithContext(ctx).Create(contribution).Error
	if isDuplicateKey(err) {
		return ErrDuplicatePaymentRef
	}
	return err
}

func (l *GormLedger) WithinTransaction(ctx context.Context, fn func(Ledger) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormLedger{db: tx, locking: true})
	})
}

func rowOrNil[T any](row *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}
