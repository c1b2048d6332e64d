package monolith

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const recentContributorWindow = 24 * time.Hour

// LandingSnapshot assembles the public read model. Each read degrades on failure:
// the occupant falls back to genesis, syndicates to an empty list, and the latest
// displacement is omitted. Only a canceled request returns an error.
func (s *Service) LandingSnapshot(ctx context.Context) (LandingSnapshot, error) {
	var (
		occupant      *Occupant
		occupantErr   error
		syndicates    []Syndicate
		contributions []Contribution
		previous      *Occupant
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		occupant, occupantErr = s.ledger.SelectActiveOccupant(groupCtx)
		return nil
	})
	group.Go(func() error {
		rows, err := s.ledger.ListActiveSyndicates(groupCtx)
		if err != nil {
			s.loggerOrDefault().Warn("snapshot syndicates unavailable; serving none", zap.Error(err))
			return nil
		}
		syndicates = rows

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		contributions, err = s.ledger.ListContributionsFor(groupCtx, ids)
		if err != nil {
			s.loggerOrDefault().Warn("snapshot contributor metrics unavailable", zap.Error(err))
			contributions = nil
		}
		return nil
	})
	group.Go(func() error {
		row, err := s.ledger.SelectLatestInactiveOccupant(groupCtx)
		if err != nil {
			s.loggerOrDefault().Warn("snapshot latest displacement unavailable", zap.Error(err))
			return nil
		}
		previous = row
		return nil
	})
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return LandingSnapshot{}, newServiceError(opLandingSnapshot, reasonQueryFailed, err)
	}

	monolith := GenesisOccupant()
	switch {
	case occupantErr != nil:
		s.loggerOrDefault().Warn("snapshot occupant unavailable; serving genesis", zap.Error(occupantErr))
	case occupant != nil:
		monolith = *occupant
	}

	cost := MinimumNextBid(monolith.Valuation)
	return LandingSnapshot{
		Monolith:           monolith,
		DisplacementCost:   cost,
		Syndicates:         buildSyndicateViews(syndicates, contributions, cost, s.now()),
		LatestDisplacement: latestDisplacement(previous, monolith),
	}, nil
}

// buildSyndicateViews orders syndicates by total raised descending, newest first on ties.
func buildSyndicateViews(syndicates []Syndicate, contributions []Contribution, target decimal.Decimal, now time.Time) []SyndicateView {
	bySyndicate := make(map[string][]Contribution, len(syndicates))
	for _, contribution := range contributions {
		bySyndicate[contribution.SyndicateID] = append(bySyndicate[contribution.SyndicateID], contribution)
	}
	recentSince := now.Add(-recentContributorWindow)

	views := make([]SyndicateView, 0, len(syndicates))
	for _, syndicate := range syndicates {
		rows := bySyndicate[syndicate.ID]
		recent := make([]Contribution, 0, len(rows))
		for _, row := range rows {
			if !row.CreatedAt.Before(recentSince) {
				recent = append(recent, row)
			}
		}
		views = append(views, SyndicateView{
			Syndicate:              syndicate,
			Target:                 target,
			ProgressRatio:          ProgressRatio(syndicate.TotalRaised, target),
			ContributorCount:       len(dedupeContributors(rows)),
			RecentContributorCount: len(dedupeContributors(recent)),
		})
	}
	slices.SortStableFunc(views, func(left, right SyndicateView) int {
		if cmp := right.TotalRaised.Cmp(left.TotalRaised); cmp != 0 {
			return cmp
		}
		return right.CreatedAt.Compare(left.CreatedAt)
	})
	return views
}

func latestDisplacement(previous *Occupant, current Occupant) *DisplacementEvent {
	if previous == nil {
		return nil
	}
	return &DisplacementEvent{
		PreviousContent:   previous.Content,
		PreviousValuation: previous.Valuation,
		CurrentContent:    current.Content,
		CurrentValuation:  current.Valuation,
		DisplacedAt:       current.CreatedAt,
	}
}
