package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize       = 64
	defaultDeliveryTimeout = 15 * time.Second
)

var (
	errMissingEventLedger = errors.New("notifications: event ledger is required")
	errMissingSender      = errors.New("notifications: sender is required")
)

// DispatcherConfig configures the notification dispatcher.
type DispatcherConfig struct {
	Events EventLedger
	Sender Sender
	Logger *zap.Logger
	// Workers is the number of background delivery goroutines. Zero delivers inline on Enqueue.
	Workers   int
	QueueSize int
	// DeliveryTimeout bounds one dedup insert plus send.
	DeliveryTimeout time.Duration
}

// Dispatcher layers an idempotency ledger over a Sender. Delivery failures are
// logged and never returned; a failed send after a recorded event is not retried.
type Dispatcher struct {
	events  EventLedger
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	queue  chan Message
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher validates dependencies and starts the configured workers.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Events == nil {
		return nil, errMissingEventLedger
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	dispatcher := &Dispatcher{
		events:  cfg.Events,
		sender:  cfg.Sender,
		logger:  logger,
		timeout: timeout,
	}
	if cfg.Workers > 0 {
		queueSize := cfg.QueueSize
		if queueSize <= 0 {
			queueSize = defaultQueueSize
		}
		dispatcher.queue = make(chan Message, queueSize)
		for worker := 0; worker < cfg.Workers; worker++ {
			dispatcher.wg.Add(1)
			go dispatcher.run()
		}
	}
	return dispatcher, nil
}

// Enqueue schedules message for delivery without blocking the caller on I/O.
// When the queue is full the message is dropped and logged.
func (d *Dispatcher) Enqueue(message Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.queue == nil || d.closed {
		d.deliver(message)
		return
	}
	select {
	case d.queue <- message:
	default:
		d.logger.Error("notification queue full; message dropped",
			zap.String("event_key", message.EventKey),
			zap.String("kind", string(message.Kind)))
	}
}

// Dispatch records the event and sends the email when the event is new.
func (d *Dispatcher) Dispatch(ctx context.Context, message Message) {
	recipient := strings.TrimSpace(message.Recipient)
	if recipient == "" {
		return
	}
	fields := []zap.Field{
		zap.String("event_key", message.EventKey),
		zap.String("recipient", recipient),
		zap.String("kind", string(message.Kind)),
	}

	recorded, err := d.events.Record(ctx, message.EventKey, recipient, message.Kind)
	if err != nil {
		// Ledger unavailable: send without dedup.
		d.logger.Error("failed to record notification event", append(fields, zap.Error(err))...)
	} else if !recorded {
		d.logger.Debug("notification already sent", fields...)
		return
	}

	if err := d.sender.Send(ctx, Email{To: recipient, Subject: message.Subject, Text: message.Body}); err != nil {
		d.logger.Error("failed to send notification email", append(fields, zap.Error(err))...)
		return
	}
	d.logger.Info("notification sent", fields...)
}

// Close stops accepting queued work and waits for in-flight deliveries or ctx expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed || d.queue == nil {
		d.closed = true
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for message := range d.queue {
		d.deliver(message)
	}
}

func (d *Dispatcher) deliver(message Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	d.Dispatch(ctx, message)
}
