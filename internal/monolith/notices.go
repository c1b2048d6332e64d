package monolith

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/notifications"
	"github.com/shopspring/decimal"
)

func (s *Service) notifyDisplacedSolo(displaced, replacement Occupant) {
	if displaced.SourceType != SourceTypeSolo || displaced.AuthorEmail == nil {
		return
	}
	recipient := *displaced.AuthorEmail
	s.notifier.Enqueue(notifications.Message{
		EventKey:  fmt.Sprintf("solo-displaced:%s:%s", displaced.ID, recipient),
		Recipient: recipient,
		Kind:      notifications.KindSoloDisplaced,
		Subject:   "You were displaced on The Monolith",
		Body: fmt.Sprintf("Your inscription was displaced.\n\n"+
			"Previous inscription: %q\n"+
			"New inscription: %q\n"+
			"Current valuation: %s\n\n"+
			"Return to The Monolith to reclaim the summit.",
			displaced.Content, replacement.Content, formatMoney(replacement.Valuation)),
	})
}

func (s *Service) notifySyndicateContribution(syndicate Syndicate, amount decimal.Decimal, contributor, paymentRef string) {
	if !syndicate.NotifyOnEveryContribution || syndicate.CreatorEmail == nil {
		return
	}
	recipient := *syndicate.CreatorEmail
	s.notifier.Enqueue(notifications.Message{
		EventKey:  fmt.Sprintf("syndicate-contribution:%s:%s:%s", syndicate.ID, paymentRef, recipient),
		Recipient: recipient,
		Kind:      notifications.KindSyndicateContribution,
		Subject:   "New Syndicate Contribution",
		Body: fmt.Sprintf("Your syndicate received a new contribution.\n\n"+
			"Contributor: %s\n"+
			"Amount: %s\n"+
			"Syndicate inscription: %q",
			contributor, formatMoney(amount), syndicate.ProposedContent),
	})
}

func (s *Service) notifySyndicateFunded(syndicate Syndicate, contributors []Contribution, installed Occupant) {
	for _, recipient := range fundedRecipients(syndicate, contributors) {
		s.notifier.Enqueue(notifications.Message{
			EventKey:  fmt.Sprintf("syndicate-funded:%s:%s", syndicate.ID, recipient),
			Recipient: recipient,
			Kind:      notifications.KindSyndicateFunded,
			Subject:   "Syndicate Funded on The Monolith",
			Body: fmt.Sprintf("A syndicate you backed has taken over The Monolith.\n\n"+
				"Live inscription: %q\n"+
				"New valuation: %s\n\n"+
				"The monument is live now.",
				installed.Content, formatMoney(installed.Valuation)),
		})
	}
}

// fundedRecipients lists the opted-in creator and contributors, lowercased and
// deduplicated, creator first.
func fundedRecipients(syndicate Syndicate, contributors []Contribution) []string {
	recipients := make([]string, 0, len(contributors)+1)
	seen := make(map[string]struct{}, len(contributors)+1)
	add := func(email *string) {
		if email == nil {
			return
		}
		normalized := strings.ToLower(strings.TrimSpace(*email))
		if normalized == "" {
			return
		}
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		recipients = append(recipients, normalized)
	}
	if syndicate.NotifyOnFunded {
		add(syndicate.CreatorEmail)
	}
	for _, contributor := range contributors {
		if contributor.NotifyOnFunded {
			add(contributor.ContributorEmail)
		}
	}
	return recipients
}
