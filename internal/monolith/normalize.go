package monolith

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const anonymousDisplayName = "Anonymous"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeInscription collapses whitespace runs and trims the result.
func NormalizeInscription(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func validateInscription(raw, label string) (string, error) {
	content := NormalizeInscription(raw)
	if content == "" {
		return "", newValidationError(ReasonContentRequired, "%s is required.", label)
	}
	if utf8.RuneCountInString(content) > MaxInscriptionCharacters {
		return "", newValidationError(ReasonContentTooLong, "%s must be %d characters or fewer.", label, MaxInscriptionCharacters)
	}
	return content, nil
}

func normalizeOptionalAlias(raw, label string) (*string, error) {
	alias := strings.TrimSpace(raw)
	if alias == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(alias) > MaxAliasCharacters {
		return nil, newValidationError(ReasonAliasTooLong, "%s must be %d characters or fewer.", label, MaxAliasCharacters)
	}
	return &alias, nil
}

func normalizeOptionalEmail(raw, label string) (*string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return nil, nil
	}
	if len(email) > MaxEmailCharacters || !emailPattern.MatchString(email) {
		return nil, newValidationError(ReasonInvalidEmail, "%s must be a valid email address.", label)
	}
	return &email, nil
}

func validateContribution(amount decimal.Decimal, label string) (decimal.Decimal, error) {
	rounded := roundMoney(amount)
	if rounded.LessThan(MinimumContribution) {
		return decimal.Zero, newValidationError(ReasonContributionBelowMin, "%s must be at least %s.", label, formatMoney(MinimumContribution))
	}
	if rounded.GreaterThan(MaximumAmount) {
		return decimal.Zero, newValidationError(ReasonInvalidAmount, "%s must be at most %s.", label, formatMoney(MaximumAmount))
	}
	return rounded, nil
}

func displayName(alias *string) string {
	if alias == nil || strings.TrimSpace(*alias) == "" {
		return anonymousDisplayName
	}
	return strings.TrimSpace(*alias)
}

// contributorKey collapses repeat contributors: email first, then a non-anonymous
// name, then the row id. Anonymous repeat contributors are counted once per row.
func contributorKey(contribution Contribution) string {
	if contribution.ContributorEmail != nil {
		if email := strings.ToLower(strings.TrimSpace(*contribution.ContributorEmail)); email != "" {
			return "email:" + email
		}
	}
	name := strings.ToLower(displayName(contribution.ContributorName))
	if name != strings.ToLower(anonymousDisplayName) {
		return "name:" + name
	}
	return "anonymous:" + contribution.ID
}

func dedupeContributors(contributions []Contribution) []Contribution {
	deduped := make([]Contribution, 0, len(contributions))
	seen := make(map[string]struct{}, len(contributions))
	for _, contribution := range contributions {
		key := contributorKey(contribution)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, contribution)
	}
	return deduped
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
