package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Event is one row of the notification dedup ledger.
type Event struct {
	EventKey       string    `gorm:"column:event_key;primaryKey;size:512;not null"`
	RecipientEmail string    `gorm:"column:recipient_email;size:320;not null"`
	Kind           Kind      `gorm:"column:kind;size:64;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "notification_events"
}

// EventLedger records notification events. Record reports false when the key already exists.
type EventLedger interface {
	Record(ctx context.Context, eventKey, recipient string, kind Kind) (bool, error)
}

// GormEventLedger stores dedup rows through gorm.
type GormEventLedger struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormEventLedger constructs a dedup ledger on the provided handle.
func NewGormEventLedger(db *gorm.DB, clock func() time.Time) *GormEventLedger {
	if clock == nil {
		clock = time.Now
	}
	return &GormEventLedger{db: db, clock: clock}
}

func (l *GormEventLedger) Record(ctx context.Context, eventKey, recipient string, kind Kind) (bool, error) {
	event := Event{
		EventKey:       eventKey,
		RecipientEmail: recipient,
		Kind:           kind,
		CreatedAt:      l.clock().UTC(),
	}
	err := l.db.WithContext(ctx).Create(&event).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateKey(err) {
		return false, nil
	}
	return false, err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}
