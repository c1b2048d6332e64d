package monolith

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/notifications"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testEpoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "monolith.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.AutoMigrate(&Occupant{}, &Syndicate{}, &Contribution{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := database.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_monolith_history_single_active ON monolith_history (active) WHERE active = true`).Error; err != nil {
		testContext.Fatalf("failed to create active index: %v", err)
	}
	genesis := GenesisOccupant()
	if err := database.Create(&genesis).Error; err != nil {
		testContext.Fatalf("failed to seed genesis: %v", err)
	}
	return database
}

type sequenceIDProvider struct {
	counter atomic.Int64
}

func (p *sequenceIDProvider) NewID() (string, error) {
	return fmt.Sprintf("id-%04d", p.counter.Add(1)), nil
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: testEpoch}
}

// Now advances one second per call so created_at ordering is strict.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func (c *testClock) Advance(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(duration)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notifications.Message
}

func (n *recordingNotifier) Enqueue(message notifications.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) Messages() []notifications.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Message(nil), n.messages...)
}

func (n *recordingNotifier) Keys() []string {
	keys := make([]string, 0)
	for _, message := range n.Messages() {
		keys = append(keys, message.EventKey)
	}
	return keys
}

type serviceFixture struct {
	service  *Service
	database *gorm.DB
	notifier *recordingNotifier
	clock    *testClock
}

func newServiceFixture(testContext *testing.T, wrap func(Ledger) Ledger) serviceFixture {
	testContext.Helper()
	database := openTestDatabase(testContext)
	var ledger Ledger = NewGormLedger(database)
	if wrap != nil {
		ledger = wrap(ledger)
	}
	notifier := &recordingNotifier{}
	clock := newTestClock()
	service, err := NewService(ServiceConfig{
		Ledger:     ledger,
		Notifier:   notifier,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	return serviceFixture{service: service, database: database, notifier: notifier, clock: clock}
}

func (f serviceFixture) activeOccupants(testContext *testing.T) []Occupant {
	testContext.Helper()
	var occupants []Occupant
	if err := f.database.Where("active = ?", true).Find(&occupants).Error; err != nil {
		testContext.Fatalf("failed to load active occupants: %v", err)
	}
	return occupants
}

func (f serviceFixture) activeOccupant(testContext *testing.T) Occupant {
	testContext.Helper()
	occupants := f.activeOccupants(testContext)
	if len(occupants) != 1 {
		testContext.Fatalf("expected exactly one active occupant, got %d", len(occupants))
	}
	return occupants[0]
}

func (f serviceFixture) syndicate(testContext *testing.T, syndicateID string) Syndicate {
	testContext.Helper()
	var syndicate Syndicate
	if err := f.database.Where("id = ?", syndicateID).Take(&syndicate).Error; err != nil {
		testContext.Fatalf("failed to load syndicate %s: %v", syndicateID, err)
	}
	return syndicate
}

func (f serviceFixture) contributionCount(testContext *testing.T, syndicateID string) int64 {
	testContext.Helper()
	var count int64
	if err := f.database.Model(&Contribution{}).Where("syndicate_id = ?", syndicateID).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count contributions: %v", err)
	}
	return count
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func assertMoney(testContext *testing.T, label string, got decimal.Decimal, want string) {
	testContext.Helper()
	if got.StringFixed(moneyPlaces) != money(want).StringFixed(moneyPlaces) {
		testContext.Fatalf("%s: expected %s, got %s", label, want, got.StringFixed(moneyPlaces))
	}
}

// ledgerFaults injects failures into a wrapped ledger, including its transaction-bound copies.
type ledgerFaults struct {
	mu                  sync.Mutex
	staleDeactivate     bool
	markWonErr          error
	markWonMiss         bool
	duplicateInserts    int
	contributionInserts int
	listSyndicatesErr   error
	activeOccupantErr   error
	latestInactiveErr   error
	// occupantGoneInTx hides the active occupant from reads inside a transaction,
	// as a locking read does after a concurrent swap commits.
	occupantGoneInTx    bool
}

type faultLedger struct {
	Ledger
	faults *ledgerFaults
	inTx   bool
}

func withFaults(faults *ledgerFaults) func(Ledger) Ledger {
	return func(inner Ledger) Ledger {
		return &faultLedger{Ledger: inner, faults: faults}
	}
}

func (l *faultLedger) WithinTransaction(ctx context.Context, fn func(Ledger) error) error {
	return l.Ledger.WithinTransaction(ctx, func(tx Ledger) error {
		return fn(&faultLedger{Ledger: tx, faults: l.faults, inTx: true})
	})
}

func (l *faultLedger) SelectActiveOccupant(ctx context.Context) (*Occupant, error) {
	l.faults.mu.Lock()
	injected, gone := l.faults.activeOccupantErr, l.faults.occupantGoneInTx
	l.faults.mu.Unlock()
	if injected != nil {
		return nil, injected
	}
	if gone && l.inTx {
		return nil, nil
	}
	return l.Ledger.SelectActiveOccupant(ctx)
}

func (l *faultLedger) SelectLatestInactiveOccupant(ctx context.Context) (*Occupant, error) {
	l.faults.mu.Lock()
	injected := l.faults.latestInactiveErr
	l.faults.mu.Unlock()
	if injected != nil {
		return nil, injected
	}
	return l.Ledger.SelectLatestInactiveOccupant(ctx)
}

func (l *faultLedger) ListActiveSyndicates(ctx context.Context) ([]Syndicate, error) {
	l.faults.mu.Lock()
	injected := l.faults.listSyndicatesErr
	l.faults.mu.Unlock()
	if injected != nil {
		return nil, injected
	}
	return l.Ledger.ListActiveSyndicates(ctx)
}

func (l *faultLedger) DeactivateOccupant(ctx context.Context, occupantID string) (int64, error) {
	l.faults.mu.Lock()
	stale := l.faults.staleDeactivate
	l.faults.mu.Unlock()
	if stale {
		return 0, nil
	}
	return l.Ledger.DeactivateOccupant(ctx, occupantID)
}

func (l *faultLedger) MarkSyndicateWon(ctx context.Context, syndicateID string, wonAt time.Time) (int64, error) {
	l.faults.mu.Lock()
	injected, miss := l.faults.markWonErr, l.faults.markWonMiss
	l.faults.mu.Unlock()
	if injected != nil {
		return 0, injected
	}
	if miss {
		return 0, nil
	}
	return l.Ledger.MarkSyndicateWon(ctx, syndicateID, wonAt)
}

func (l *faultLedger) InsertContribution(ctx context.Context, contribution *Contribution) error {
	l.faults.mu.Lock()
	l.faults.contributionInserts++
	duplicate := l.faults.duplicateInserts > 0
	if duplicate {
		l.faults.duplicateInserts--
	}
	l.faults.mu.Unlock()
	if duplicate {
		return ErrDuplicatePaymentRef
	}
	return l.Ledger.InsertContribution(ctx, contribution)
}
