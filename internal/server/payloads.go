package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/monolith"
	"github.com/shopspring/decimal"
)

var errInvalidAmount = errors.New("amount must be a finite number")

type acquireSoloRequestPayload struct {
	Content     string      `json:"content"`
	BidAmount   json.Number `json:"bidAmount"`
	AuthorName  string      `json:"authorName"`
	NotifyEmail string      `json:"notifyEmail"`
}

type initializeSyndicateRequestPayload struct {
	ProposedContent           string      `json:"proposedContent"`
	InitialContribution       json.Number `json:"initialContribution"`
	AuthorName                string      `json:"authorName"`
	NotifyEmail               string      `json:"notifyEmail"`
	NotifyOnFunded            bool        `json:"notifyOnFunded"`
	NotifyOnEveryContribution bool        `json:"notifyOnEveryContribution"`
	PaymentRef                string      `json:"paymentRef"`
}

type contributeRequestPayload struct {
	SyndicateID    string      `json:"syndicateId"`
	Amount         json.Number `json:"amount"`
	AuthorName     string      `json:"authorName"`
	NotifyEmail    string      `json:"notifyEmail"`
	NotifyOnFunded bool        `json:"notifyOnFunded"`
	PaymentRef     string      `json:"paymentRef"`
}

type occupantPayload struct {
	ID                string      `json:"id"`
	Content           string      `json:"content"`
	Valuation         json.Number `json:"valuation"`
	AuthorName        *string     `json:"authorName"`
	SourceType        string      `json:"sourceType"`
	SourceSyndicateID *string     `json:"sourceSyndicateId"`
	FundedByCount     *int        `json:"fundedByCount"`
	FundedInDays      *int        `json:"fundedInDays"`
	CreatedAt         time.Time   `json:"createdAt"`
	Active            bool        `json:"active"`
}

type syndicatePayload struct {
	ID                        string      `json:"id"`
	ProposedContent           string      `json:"proposedContent"`
	TotalRaised               json.Number `json:"totalRaised"`
	Status                    string      `json:"status"`
	CreatorName               *string     `json:"creatorName"`
	NotifyOnFunded            bool        `json:"notifyOnFunded"`
	NotifyOnEveryContribution bool        `json:"notifyOnEveryContribution"`
	WonAt                     *time.Time  `json:"wonAt"`
	CreatedAt                 time.Time   `json:"createdAt"`
}

type syndicateViewPayload struct {
	syndicatePayload
	Target                 json.Number `json:"target"`
	ProgressRatio          float64     `json:"progressRatio"`
	ContributorCount       int         `json:"contributorCount"`
	RecentContributorCount int         `json:"recentContributorCount"`
}

type displacementPayload struct {
	PreviousContent   string      `json:"previousContent"`
	PreviousValuation json.Number `json:"previousValuation"`
	CurrentContent    string      `json:"currentContent"`
	CurrentValuation  json.Number `json:"currentValuation"`
	DisplacedAt       time.Time   `json:"displacedAt"`
}

type snapshotPayload struct {
	Monolith           occupantPayload        `json:"monolith"`
	DisplacementCost   json.Number            `json:"displacementCost"`
	Syndicates         []syndicateViewPayload `json:"syndicates"`
	LatestDisplacement *displacementPayload   `json:"latestDisplacement"`
}

type acquireSoloResponsePayload struct {
	Monolith  occupantPayload  `json:"monolith"`
	Displaced occupantPayload  `json:"displaced"`
	Snapshot  *snapshotPayload `json:"snapshot"`
}

type syndicateResponsePayload struct {
	Syndicate    syndicatePayload `json:"syndicate"`
	CoupExecuted bool             `json:"coupExecuted"`
	Replayed     bool             `json:"replayed"`
	Snapshot     *snapshotPayload `json:"snapshot"`
}

type contributorPayload struct {
	Name string `json:"name"`
}

type contributorsResponsePayload struct {
	SyndicateID  string               `json:"syndicateId"`
	Contributors []contributorPayload `json:"contributors"`
}

type paymentResponsePayload struct {
	Mode      string                      `json:"mode"`
	Solo      *acquireSoloResponsePayload `json:"solo,omitempty"`
	Syndicate *syndicateResponsePayload   `json:"syndicate,omitempty"`
}

type realtimeEventPayload struct {
	Reason      string    `json:"reason"`
	SyndicateID string    `json:"syndicateId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

// parseAmount converts a JSON number into a decimal amount without a float round trip.
func parseAmount(raw json.Number) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw.String())
	if value == "" {
		return decimal.Zero, errInvalidAmount
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errInvalidAmount
	}
	return amount, nil
}

func moneyNumber(value decimal.Decimal) json.Number {
	return json.Number(value.StringFixed(2))
}

func toOccupantPayload(occupant monolith.Occupant) occupantPayload {
	return occupantPayload{
		ID:                occupant.ID,
		Content:           occupant.Content,
		Valuation:         moneyNumber(occupant.Valuation),
		AuthorName:        occupant.AuthorName,
		SourceType:        string(occupant.SourceType),
		SourceSyndicateID: occupant.SourceSyndicateID,
		FundedByCount:     occupant.FundedByCount,
		FundedInDays:      occupant.FundedInDays,
		CreatedAt:         occupant.CreatedAt.UTC(),
		Active:            occupant.Active,
	}
}

func toSyndicatePayload(syndicate monolith.Syndicate) syndicatePayload {
	return syndicatePayload{
		ID:                        syndicate.ID,
		ProposedContent:           syndicate.ProposedContent,
		TotalRaised:               moneyNumber(syndicate.TotalRaised),
		Status:                    string(syndicate.Status),
		CreatorName:               syndicate.CreatorName,
		NotifyOnFunded:            syndicate.NotifyOnFunded,
		NotifyOnEveryContribution: syndicate.NotifyOnEveryContribution,
		WonAt:                     syndicate.WonAt,
		CreatedAt:                 syndicate.CreatedAt.UTC(),
	}
}

func toSnapshotPayload(snapshot monolith.LandingSnapshot) snapshotPayload {
	views := make([]syndicateViewPayload, 0, len(snapshot.Syndicates))
	for _, view := range snapshot.Syndicates {
		views = append(views, syndicateViewPayload{
			syndicatePayload:       toSyndicatePayload(view.Syndicate),
			Target:                 moneyNumber(view.Target),
			ProgressRatio:          view.ProgressRatio,
			ContributorCount:       view.ContributorCount,
			RecentContributorCount: view.RecentContributorCount,
		})
	}
	var displacement *displacementPayload
	if event := snapshot.LatestDisplacement; event != nil {
		displacement = &displacementPayload{
			PreviousContent:   event.PreviousContent,
			PreviousValuation: moneyNumber(event.PreviousValuation),
			CurrentContent:    event.CurrentContent,
			CurrentValuation:  moneyNumber(event.CurrentValuation),
			DisplacedAt:       event.DisplacedAt.UTC(),
		}
	}
	return snapshotPayload{
		Monolith:           toOccupantPayload(snapshot.Monolith),
		DisplacementCost:   moneyNumber(snapshot.DisplacementCost),
		Syndicates:         views,
		LatestDisplacement: displacement,
	}
}

func toSyndicateResponse(result monolith.SyndicateResult, snapshot *snapshotPayload) syndicateResponsePayload {
	return syndicateResponsePayload{
		Syndicate:    toSyndicatePayload(result.Syndicate),
		CoupExecuted: result.CoupExecuted,
		Replayed:     result.Replayed,
		Snapshot:     snapshot,
	}
}

func toAcquireSoloResponse(result monolith.AcquireSoloResult, snapshot *snapshotPayload) acquireSoloResponsePayload {
	return acquireSoloResponsePayload{
		Monolith:  toOccupantPayload(result.Monolith),
		Displaced: toOccupantPayload(result.Displaced),
		Snapshot:  snapshot,
	}
}
