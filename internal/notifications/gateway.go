package notifications

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrDelivery wraps transport failures reported by a Sender.
var ErrDelivery = errors.New("notifications: delivery failed")

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// LogSender writes emails to the log instead of delivering them. It stands in when
// no email provider is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.logger.Warn("email delivery disabled; message logged only",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return nil
}
