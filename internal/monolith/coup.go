package monolith

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

const fundingDay = 24 * time.Hour

type coupOutcome struct {
	executed     bool
	syndicate    *Syndicate
	installed    Occupant
	displaced    Occupant
	contributors []Contribution
}

func (o coupOutcome) syndicateOr(fallback Syndicate) Syndicate {
	if o.syndicate == nil {
		return fallback
	}
	return *o.syndicate
}

// resolveCoupIfEligible installs the syndicate's proposal as the new occupant when
// its total strictly exceeds the live valuation. The occupant swap and the
// active-to-won transition commit together; a syndicate that is no longer active
// is a no-op, so a coup executes at most once.
func (s *Service) resolveCoupIfEligible(ctx context.Context, syndicateID string) (coupOutcome, error) {
	var outcome coupOutcome
	err := s.ledger.WithinTransaction(ctx, func(tx Ledger) error {
		syndicate, err := tx.SelectSyndicate(ctx, syndicateID)
		if err != nil {
			return s.fail(opResolveCoup, reasonSyndicateReadFailed, err, zap.String("syndicate_id", syndicateID))
		}
		if syndicate == nil {
			return newServiceError(opResolveCoup, reasonSyndicateNotFound, ErrSyndicateNotFound)
		}
		outcome.syndicate = syndicate
		if syndicate.Status != SyndicateStatusActive {
			return nil
		}

		current, err := tx.SelectActiveOccupant(ctx)
		if err != nil {
			return s.fail(opResolveCoup, reasonOccupantReadFailed, err)
		}
		if current == nil {
			return newConcurrencyError(opResolveCoup, reasonCoupRace, "active occupant changed concurrently")
		}
		if !syndicate.TotalRaised.GreaterThan(current.Valuation) {
			return nil
		}

		contributions, err := tx.ListContributions(ctx, syndicate.ID)
		if err != nil {
			return s.fail(opResolveCoup, reasonContributorsFailed, err, zap.String("syndicate_id", syndicate.ID))
		}
		contributors := dedupeContributors(contributions)
		now := s.now()

		affected, err := tx.DeactivateOccupant(ctx, current.ID)
		if err != nil {
			return s.fail(opResolveCoup, reasonOccupantArchiveFailed, err, zap.String("occupant_id", current.ID))
		}
		if affected == 0 {
			return newConcurrencyError(opResolveCoup, reasonCoupRace, "occupant "+current.ID+" was displaced concurrently")
		}

		occupantID, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opResolveCoup, reasonIDGenerationFailed, err)
		}
		sourceSyndicateID := syndicate.ID
		days := fundedInDays(syndicate.CreatedAt, now)
		installed := Occupant{
			ID:                occupantID,
			Content:           syndicate.ProposedContent,
			Valuation:         roundMoney(syndicate.TotalRaised),
			AuthorName:        syndicate.CreatorName,
			AuthorEmail:       syndicate.CreatorEmail,
			SourceType:        SourceTypeSyndicate,
			SourceSyndicateID: &sourceSyndicateID,
			FundedByCount:     fundedByCount(contributors),
			FundedInDays:      &days,
			CreatedAt:         now,
			Active:            true,
		}
		if err := tx.InsertOccupant(ctx, &installed); err != nil {
			return s.fail(opResolveCoup, reasonOccupantInsertFailed, err)
		}

		won, err := tx.MarkSyndicateWon(ctx, syndicate.ID, now)
		if err != nil {
			return s.fail(opResolveCoup, reasonMarkWonFailed, err, zap.String("syndicate_id", syndicate.ID))
		}
		if won == 0 {
			return newConcurrencyError(opResolveCoup, reasonSyndicateResolved, "syndicate "+syndicate.ID+" was resolved concurrently")
		}

		resolved := *syndicate
		resolved.Status = SyndicateStatusWon
		resolved.WonAt = &now
		displaced := *current
		displaced.Active = false

		outcome = coupOutcome{
			executed:     true,
			syndicate:    &resolved,
			installed:    installed,
			displaced:    displaced,
			contributors: contributors,
		}
		return nil
	})
	if err != nil {
		return coupOutcome{}, s.classify(opResolveCoup, err)
	}
	if !outcome.executed {
		return outcome, nil
	}

	s.loggerOrDefault().Info("syndicate coup executed",
		zap.String("syndicate_id", outcome.syndicate.ID),
		zap.String("occupant_id", outcome.installed.ID),
		zap.String("displaced_id", outcome.displaced.ID),
		zap.String("valuation", outcome.installed.Valuation.StringFixed(moneyPlaces)))
	s.notifySyndicateFunded(*outcome.syndicate, outcome.contributors, outcome.installed)
	return outcome, nil
}

// fundedInDays counts whole or partial days since creation, minimum one.
func fundedInDays(createdAt, fundedAt time.Time) int {
	elapsed := fundedAt.Sub(createdAt)
	if elapsed <= 0 {
		return 1
	}
	days := int(math.Ceil(float64(elapsed) / float64(fundingDay)))
	if days < 1 {
		return 1
	}
	return days
}

func fundedByCount(contributors []Contribution) *int {
	if len(contributors) == 0 {
		return nil
	}
	count := len(contributors)
	return &count
}
