package monolith

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxPaymentRefAttempts = 3
	generatedRefPrefix    = "auto_"
)

// AcquireSoloInput carries a paid solo displacement bid.
type AcquireSoloInput struct {
	Content     string
	BidAmount   decimal.Decimal
	AuthorName  string
	NotifyEmail string
}

// AcquireSoloResult reports the installed occupant and the one it archived.
type AcquireSoloResult struct {
	Monolith  Occupant
	Displaced Occupant
}

// InitializeSyndicateInput carries a new syndicate together with its creator's first payment.
type InitializeSyndicateInput struct {
	ProposedContent           string
	InitialContribution       decimal.Decimal
	AuthorName                string
	NotifyEmail               string
	NotifyOnFunded            bool
	NotifyOnEveryContribution bool
	// PaymentRef is the processor reference; empty generates one.
	PaymentRef string
}

// ContributeInput carries one paid contribution into an active syndicate.
type ContributeInput struct {
	SyndicateID    string
	Amount         decimal.Decimal
	AuthorName     string
	NotifyEmail    string
	NotifyOnFunded bool
	// PaymentRef is the processor reference; empty generates one.
	PaymentRef string
}

// SyndicateResult reports a syndicate after a payment was applied.
type SyndicateResult struct {
	Syndicate    Syndicate
	CoupExecuted bool
	// Replayed is true when the payment reference had already been recorded.
	Replayed bool
}

// AcquireSolo installs a new occupant when the bid meets the displacement cost.
func (s *Service) AcquireSolo(ctx context.Context, input AcquireSoloInput) (AcquireSoloResult, error) {
	content, err := validateInscription(input.Content, "Inscription")
	if err != nil {
		return AcquireSoloResult{}, err
	}
	authorName, err := normalizeOptionalAlias(input.AuthorName, "Author name")
	if err != nil {
		return AcquireSoloResult{}, err
	}
	authorEmail, err := normalizeOptionalEmail(input.NotifyEmail, "Notification email")
	if err != nil {
		return AcquireSoloResult{}, err
	}
	bid := roundMoney(input.BidAmount)
	if !bid.IsPositive() {
		return AcquireSoloResult{}, newValidationError(ReasonInvalidAmount, "Bid amount must be a positive number.")
	}
	if bid.GreaterThan(MaximumAmount) {
		return AcquireSoloResult{}, newValidationError(ReasonInvalidAmount, "Bid amount must be at most %s.", formatMoney(MaximumAmount))
	}

	occupantID, err := s.idProvider.NewID()
	if err != nil {
		return AcquireSoloResult{}, s.fail(opAcquireSolo, reasonIDGenerationFailed, err)
	}

	var result AcquireSoloResult
	err = s.ledger.WithinTransaction(ctx, func(tx Ledger) error {
		current, readErr := tx.SelectActiveOccupant(ctx)
		if readErr != nil {
			return s.fail(opAcquireSolo, reasonOccupantReadFailed, readErr)
		}
		if current == nil {
			// The seeded store always holds a baton; none visible means a concurrent swap won.
			return newConcurrencyError(opAcquireSolo, reasonStaleOccupant, "active occupant changed concurrently")
		}

		floor := MinimumNextBid(current.Valuation)
		if bid.LessThan(floor) {
			return newValidationError(ReasonBidBelowMinimum, "Bid must be at least %s.", formatMoney(floor))
		}

		affected, archiveErr := tx.DeactivateOccupant(ctx, current.ID)
		if archiveErr != nil {
			return s.fail(opAcquireSolo, reasonOccupantArchiveFailed, archiveErr, zap.String("occupant_id", current.ID))
		}
		if affected == 0 {
			return newConcurrencyError(opAcquireSolo, reasonStaleOccupant, "occupant "+current.ID+" was displaced concurrently")
		}

		next := Occupant{
			ID:          occupantID,
			Content:     content,
			Valuation:   bid,
			AuthorName:  authorName,
			AuthorEmail: authorEmail,
			SourceType:  SourceTypeSolo,
			CreatedAt:   s.now(),
			Active:      true,
		}
		if insertErr := tx.InsertOccupant(ctx, &next); insertErr != nil {
			return s.fail(opAcquireSolo, reasonOccupantInsertFailed, insertErr)
		}

		result.Displaced = *current
		result.Displaced.Active = false
		result.Monolith = next
		return nil
	})
	if err != nil {
		return AcquireSoloResult{}, s.classify(opAcquireSolo, err)
	}

	s.loggerOrDefault().Info("solo displacement settled",
		zap.String("occupant_id", result.Monolith.ID),
		zap.String("displaced_id", result.Displaced.ID),
		zap.String("valuation", result.Monolith.Valuation.StringFixed(moneyPlaces)))
	s.notifyDisplacedSolo(result.Displaced, result.Monolith)
	return result, nil
}

// InitializeSyndicate opens a syndicate with its creator's first contribution and
// resolves a coup immediately when that contribution already outbids the occupant.
func (s *Service) InitializeSyndicate(ctx context.Context, input InitializeSyndicateInput) (SyndicateResult, error) {
	content, err := validateInscription(input.ProposedContent, "Proposed inscription")
	if err != nil {
		return SyndicateResult{}, err
	}
	amount, err := validateContribution(input.InitialContribution, "Initial contribution")
	if err != nil {
		return SyndicateResult{}, err
	}
	creatorName, err := normalizeOptionalAlias(input.AuthorName, "Author name")
	if err != nil {
		return SyndicateResult{}, err
	}
	creatorEmail, err := normalizeOptionalEmail(input.NotifyEmail, "Notification email")
	if err != nil {
		return SyndicateResult{}, err
	}

	callerRef := strings.TrimSpace(input.PaymentRef)
	if callerRef != "" {
		replay, found, replayErr := s.replayPayment(ctx, opInitializeSyndicate, callerRef, "")
		if found || replayErr != nil {
			return replay, replayErr
		}
	}

	syndicateID, err := s.idProvider.NewID()
	if err != nil {
		return SyndicateResult{}, s.fail(opInitializeSyndicate, reasonIDGenerationFailed, err)
	}

	var created Syndicate
	err = s.ledger.WithinTransaction(ctx, func(tx Ledger) error {
		now := s.now()
		syndicate := Syndicate{
			ID:                        syndicateID,
			ProposedContent:           content,
			TotalRaised:               amount,
			Status:                    SyndicateStatusActive,
			CreatorName:               creatorName,
			CreatorEmail:              creatorEmail,
			NotifyOnFunded:            input.NotifyOnFunded,
			NotifyOnEveryContribution: input.NotifyOnEveryContribution,
			CreatedAt:                 now,
		}
		if insertErr := tx.InsertSyndicate(ctx, &syndicate); insertErr != nil {
			return s.fail(opInitializeSyndicate, reasonSyndicateInsertFailed, insertErr)
		}
		contribution := Contribution{
			SyndicateID:      syndicateID,
			Amount:           amount,
			ContributorName:  creatorName,
			ContributorEmail: creatorEmail,
			NotifyOnFunded:   input.NotifyOnFunded,
			CreatedAt:        now,
		}
		if _, insertErr := s.insertContribution(ctx, tx, opInitializeSyndicate, contribution, callerRef); insertErr != nil {
			return insertErr
		}
		created = syndicate
		return nil
	})
	if errors.Is(err, ErrDuplicatePaymentRef) && callerRef != "" {
		// Lost the race to another delivery of the same payment.
		return s.replayAfterConflict(ctx, opInitializeSyndicate, callerRef, "")
	}
	if err != nil {
		return SyndicateResult{}, s.classify(opInitializeSyndicate, err)
	}

	s.loggerOrDefault().Info("syndicate initialized",
		zap.String("syndicate_id", created.ID),
		zap.String("total_raised", created.TotalRaised.StringFixed(moneyPlaces)))

	outcome, err := s.resolveCoupIfEligible(ctx, created.ID)
	if err != nil {
		return SyndicateResult{Syndicate: created}, err
	}
	return SyndicateResult{Syndicate: outcome.syndicateOr(created), CoupExecuted: outcome.executed}, nil
}

// ContributeToSyndicate adds a paid contribution to an active syndicate and
// resolves a coup when the new total exceeds the live valuation.
func (s *Service) ContributeToSyndicate(ctx context.Context, input ContributeInput) (SyndicateResult, error) {
	syndicateID := strings.TrimSpace(input.SyndicateID)
	if syndicateID == "" {
		return SyndicateResult{}, newValidationError(ReasonSyndicateIDRequired, "Syndicate id is required.")
	}
	amount, err := validateContribution(input.Amount, "Contribution")
	if err != nil {
		return SyndicateResult{}, err
	}
	contributorName, err := normalizeOptionalAlias(input.AuthorName, "Contributor name")
	if err != nil {
		return SyndicateResult{}, err
	}
	contributorEmail, err := normalizeOptionalEmail(input.NotifyEmail, "Notification email")
	if err != nil {
		return SyndicateResult{}, err
	}

	callerRef := strings.TrimSpace(input.PaymentRef)
	if callerRef != "" {
		replay, found, replayErr := s.replayPayment(ctx, opContribute, callerRef, syndicateID)
		if found || replayErr != nil {
			return replay, replayErr
		}
	}

	var (
		updated  Syndicate
		recorded Contribution
	)
	err = s.ledger.WithinTransaction(ctx, func(tx Ledger) error {
		current, readErr := tx.SelectSyndicate(ctx, syndicateID)
		if readErr != nil {
			return s.fail(opContribute, reasonSyndicateReadFailed, readErr, zap.String("syndicate_id", syndicateID))
		}
		if current == nil {
			return newServiceError(opContribute, reasonSyndicateNotFound, ErrSyndicateNotFound)
		}
		if current.Status != SyndicateStatusActive {
			return newValidationError(ReasonSyndicateInactive, "This syndicate is no longer accepting contributions.")
		}

		nextTotal := roundMoney(current.TotalRaised.Add(amount))
		if nextTotal.GreaterThan(MaximumAmount) {
			return newValidationError(ReasonInvalidAmount, "This syndicate cannot raise more than %s.", formatMoney(MaximumAmount))
		}
		row, updateErr := tx.UpdateSyndicateTotal(ctx, current.ID, current.TotalRaised, nextTotal)
		if updateErr != nil {
			return s.fail(opContribute, reasonSyndicateUpdateFailed, updateErr, zap.String("syndicate_id", current.ID))
		}
		if row == nil {
			return newConcurrencyError(opContribute, reasonSyndicateResolved, "syndicate "+current.ID+" changed concurrently")
		}

		contribution := Contribution{
			SyndicateID:      current.ID,
			Amount:           amount,
			ContributorName:  contributorName,
			ContributorEmail: contributorEmail,
			NotifyOnFunded:   input.NotifyOnFunded,
			CreatedAt:        s.now(),
		}
		inserted, insertErr := s.insertContribution(ctx, tx, opContribute, contribution, callerRef)
		if insertErr != nil {
			return insertErr
		}
		updated = *row
		recorded = inserted
		return nil
	})
	if errors.Is(err, ErrDuplicatePaymentRef) && callerRef != "" {
		return s.replayAfterConflict(ctx, opContribute, callerRef, syndicateID)
	}
	if err != nil {
		return SyndicateResult{}, s.classify(opContribute, err)
	}

	s.loggerOrDefault().Info("syndicate contribution recorded",
		zap.String("syndicate_id", updated.ID),
		zap.String("payment_ref", recorded.PaymentRef),
		zap.String("total_raised", updated.TotalRaised.StringFixed(moneyPlaces)))
	s.notifySyndicateContribution(updated, amount, displayName(contributorName), recorded.PaymentRef)

	outcome, err := s.resolveCoupIfEligible(ctx, updated.ID)
	if err != nil {
		return SyndicateResult{Syndicate: updated}, err
	}
	return SyndicateResult{Syndicate: outcome.syndicateOr(updated), CoupExecuted: outcome.executed}, nil
}

// replayPayment answers a repeated payment reference without recording anything new.
// expectedSyndicateID is empty when the caller is opening a syndicate.
func (s *Service) replayPayment(ctx context.Context, operation, paymentRef, expectedSyndicateID string) (SyndicateResult, bool, error) {
	existing, err := s.ledger.FindContributionByPaymentRef(ctx, paymentRef)
	if err != nil {
		return SyndicateResult{}, false, s.fail(operation, reasonContributionLookup, err, zap.String("payment_ref", paymentRef))
	}
	if existing == nil {
		return SyndicateResult{}, false, nil
	}
	if expectedSyndicateID != "" && existing.SyndicateID != expectedSyndicateID {
		return SyndicateResult{}, true, newValidationError(ReasonPaymentRefMismatch, "Payment reference was already applied to another syndicate.")
	}

	syndicate, err := s.ledger.SelectSyndicate(ctx, existing.SyndicateID)
	if err != nil {
		return SyndicateResult{}, true, s.fail(operation, reasonSyndicateReadFailed, err, zap.String("syndicate_id", existing.SyndicateID))
	}
	if syndicate == nil {
		return SyndicateResult{}, true, s.fail(operation, reasonSyndicateReadFailed, ErrSyndicateNotFound, zap.String("syndicate_id", existing.SyndicateID))
	}

	s.loggerOrDefault().Info("payment reference replayed",
		zap.String("operation", operation),
		zap.String("payment_ref", paymentRef),
		zap.String("syndicate_id", syndicate.ID))

	// A prior delivery may have committed the contribution but failed before the coup.
	outcome, err := s.resolveCoupIfEligible(ctx, syndicate.ID)
	if err != nil {
		return SyndicateResult{Syndicate: *syndicate, Replayed: true}, true, err
	}
	return SyndicateResult{
		Syndicate:    outcome.syndicateOr(*syndicate),
		CoupExecuted: outcome.executed,
		Replayed:     true,
	}, true, nil
}

func (s *Service) replayAfterConflict(ctx context.Context, operation, paymentRef, expectedSyndicateID string) (SyndicateResult, error) {
	replay, found, err := s.replayPayment(ctx, operation, paymentRef, expectedSyndicateID)
	if err != nil {
		return replay, err
	}
	if !found {
		return SyndicateResult{}, s.fail(operation, reasonContributionFailed, ErrDuplicatePaymentRef, zap.String("payment_ref", paymentRef))
	}
	return replay, nil
}

// insertContribution records contribution inside tx. Generated references are
// regenerated on collision; a collision on a caller reference is returned as
// ErrDuplicatePaymentRef so the caller can treat the payment as a replay.
func (s *Service) insertContribution(ctx context.Context, tx Ledger, operation string, contribution Contribution, callerRef string) (Contribution, error) {
	for attempt := 1; attempt <= maxPaymentRefAttempts; attempt++ {
		contributionID, err := s.idProvider.NewID()
		if err != nil {
			return Contribution{}, s.fail(operation, reasonIDGenerationFailed, err)
		}
		contribution.ID = contributionID
		contribution.PaymentRef = callerRef
		if callerRef == "" {
			generated, genErr := s.idProvider.NewID()
			if genErr != nil {
				return Contribution{}, s.fail(operation, reasonIDGenerationFailed, genErr)
			}
			contribution.PaymentRef = generatedRefPrefix + generated
		}

		err = tx.WithinTransaction(ctx, func(savepoint Ledger) error {
			return savepoint.InsertContribution(ctx, &contribution)
		})
		if err == nil {
			return contribution, nil
		}
		if !errors.Is(err, ErrDuplicatePaymentRef) {
			return Contribution{}, s.fail(operation, reasonContributionFailed, err, zap.String("syndicate_id", contribution.SyndicateID))
		}
		if callerRef != "" {
			return Contribution{}, ErrDuplicatePaymentRef
		}
		s.loggerOrDefault().Warn("generated payment reference collided",
			zap.String("payment_ref", contribution.PaymentRef),
			zap.Int("attempt", attempt))
	}
	return Contribution{}, s.fail(operation, reasonContributionFailed, errRefsExhausted, zap.String("syndicate_id", contribution.SyndicateID))
}

// classify passes validation, not-found, concurrency, and coded errors through
// and wraps anything else as a fatal error of operation.
func (s *Service) classify(operation string, err error) error {
	var serviceErr *ServiceError
	switch {
	case errors.Is(err, ErrValidation), errors.As(err, &serviceErr):
		if errors.Is(err, ErrConcurrentSettlement) {
			s.loggerOrDefault().Warn("settlement resolved concurrently", zap.String("operation", operation), zap.Error(err))
		}
		return err
	case errors.Is(err, ErrDuplicatePaymentRef):
		return s.fail(operation, reasonContributionFailed, err)
	default:
		return s.fail(operation, reasonTransactionFailed, err)
	}
}
