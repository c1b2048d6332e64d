package monolith

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// ListContributors returns the deduplicated display names of a syndicate's
// contributors in first-contribution order. Emails never leave this package.
func (s *Service) ListContributors(ctx context.Context, syndicateID string) ([]SyndicateContributor, error) {
	syndicateID = strings.TrimSpace(syndicateID)
	if syndicateID == "" {
		return nil, newValidationError(ReasonSyndicateIDRequired, "Syndicate id is required.")
	}

	syndicate, err := s.ledger.SelectSyndicate(ctx, syndicateID)
	if err != nil {
		return nil, s.fail(opListContributors, reasonSyndicateReadFailed, err, zap.String("syndicate_id", syndicateID))
	}
	if syndicate == nil {
		return nil, newServiceError(opListContributors, reasonSyndicateNotFound, ErrSyndicateNotFound)
	}

	contributions, err := s.ledger.ListContributions(ctx, syndicateID)
	if err != nil {
		return nil, s.fail(opListContributors, reasonContributorsFailed, err, zap.String("syndicate_id", syndicateID))
	}

	deduped := dedupeContributors(contributions)
	contributors := make([]SyndicateContributor, 0, len(deduped))
	for _, contribution := range deduped {
		contributors = append(contributors, SyndicateContributor{Name: displayName(contribution.ContributorName)})
	}
	return contributors, nil
}
