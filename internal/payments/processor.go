package payments

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/monolith"
	"go.uber.org/zap"
)

var errMissingSettlement = errors.New("payments: settlement engine is required")

// Settlement is the subset of the settlement engine a payment can trigger.
type Settlement interface {
	AcquireSolo(ctx context.Context, input monolith.AcquireSoloInput) (monolith.AcquireSoloResult, error)
	InitializeSyndicate(ctx context.Context, input monolith.InitializeSyndicateInput) (monolith.SyndicateResult, error)
	ContributeToSyndicate(ctx context.Context, input monolith.ContributeInput) (monolith.SyndicateResult, error)
}

// Outcome reports which settlement ran for an event. Exactly one result is set.
type Outcome struct {
	Mode      Mode
	Solo      *monolith.AcquireSoloResult
	Syndicate *monolith.SyndicateResult
}

// Processor routes verified events to the settlement engine.
type Processor struct {
	settlement Settlement
	logger     *zap.Logger
}

// NewProcessor validates dependencies and constructs a Processor.
func NewProcessor(settlement Settlement, logger *zap.Logger) (*Processor, error) {
	if settlement == nil {
		return nil, errMissingSettlement
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{settlement: settlement, logger: logger}, nil
}

// Process applies event. Settlement errors are returned unchanged so callers can
// classify them with the monolith sentinels.
func (p *Processor) Process(ctx context.Context, event Event) (Outcome, error) {
	fields := []zap.Field{
		zap.String("payment_ref", event.PaymentRef),
		zap.String("mode", string(event.Mode)),
		zap.String("amount", event.Amount.StringFixed(2)),
	}

	switch event.Mode {
	case ModeSolo:
		result, err := p.settlement.AcquireSolo(ctx, monolith.AcquireSoloInput{
			Content:     event.Content,
			BidAmount:   event.Amount,
			AuthorName:  event.AuthorName,
			NotifyEmail: event.NotifyEmail,
		})
		if err != nil {
			p.logger.Warn("payment settlement rejected", append(fields, zap.Error(err))...)
			return Outcome{}, err
		}
		p.logger.Info("payment settled", fields...)
		return Outcome{Mode: ModeSolo, Solo: &result}, nil
	case ModeSyndicate:
		var (
			result monolith.SyndicateResult
			err    error
		)
		if event.SyndicateID == "" {
			result, err = p.settlement.InitializeSyndicate(ctx, monolith.InitializeSyndicateInput{
				ProposedContent:           event.Content,
				InitialContribution:       event.Amount,
				AuthorName:                event.AuthorName,
				NotifyEmail:               event.NotifyEmail,
				NotifyOnFunded:            event.NotifyOnFunded,
				NotifyOnEveryContribution: event.NotifyOnEveryContribution,
				PaymentRef:                event.PaymentRef,
			})
		} else {
			result, err = p.settlement.ContributeToSyndicate(ctx, monolith.ContributeInput{
				SyndicateID:    event.SyndicateID,
				Amount:         event.Amount,
				AuthorName:     event.AuthorName,
				NotifyEmail:    event.NotifyEmail,
				NotifyOnFunded: event.NotifyOnFunded,
				PaymentRef:     event.PaymentRef,
			})
		}
		if err != nil {
			p.logger.Warn("payment settlement rejected", append(fields, zap.Error(err))...)
			return Outcome{}, err
		}
		p.logger.Info("payment settled", append(fields,
			zap.String("syndicate_id", result.Syndicate.ID),
			zap.Bool("coup_executed", result.CoupExecuted),
			zap.Bool("replayed", result.Replayed))...)
		return Outcome{Mode: ModeSyndicate, Syndicate: &result}, nil
	default:
		return Outcome{}, ErrUnsupportedMode
	}
}
