package monolith

import (
	"time"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/notifications"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// Notifier accepts fire-and-forget notification messages. Implementations must not
// block on delivery I/O and must never surface delivery failures.
type Notifier interface {
	Enqueue(message notifications.Message)
}

type discardNotifier struct{}

func (discardNotifier) Enqueue(notifications.Message) {}

// ServiceConfig describes the settlement engine dependencies.
type ServiceConfig struct {
	Ledger     Ledger
	Notifier   Notifier
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements the displacement settlement protocol and its read models.
// It keeps no state between calls; all mutual exclusion lives in guarded ledger writes.
type Service struct {
	ledger     Ledger
	notifier   Notifier
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, newServiceError(opServiceNew, reasonMissingLedger, errMissingLedger)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		ledger:     cfg.Ledger,
		notifier:   notifier,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("monolith service error", attrs...)
}

// fail logs the failure and returns the coded service error.
func (s *Service) fail(operation, reason string, cause error, fields ...zap.Field) error {
	s.logError(operation, reason, cause, fields...)
	return newServiceError(operation, reason, cause)
}
