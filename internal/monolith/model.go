package monolith

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType records how an occupant acquired the monument.
type SourceType string

const (
	// SourceTypeSolo marks an occupant installed by a single paid bid.
	SourceTypeSolo SourceType = "solo"
	// SourceTypeSyndicate marks an occupant installed by a funded syndicate coup.
	SourceTypeSyndicate SourceType = "syndicate"
)

// SyndicateStatus enumerates the syndicate lifecycle states.
type SyndicateStatus string

const (
	// SyndicateStatusActive accepts contributions.
	SyndicateStatusActive SyndicateStatus = "active"
	// SyndicateStatusWon is terminal and freezes the raised total.
	SyndicateStatusWon SyndicateStatus = "won"
	// SyndicateStatusArchived is terminal and reserved for cancellation; no flow sets it yet.
	SyndicateStatusArchived SyndicateStatus = "archived"
)

const (
	// MaxInscriptionCharacters bounds normalized occupant and proposal content.
	MaxInscriptionCharacters = 180
	// MaxAliasCharacters bounds author and contributor display names.
	MaxAliasCharacters = 40
	// MaxEmailCharacters bounds notification addresses.
	MaxEmailCharacters = 320
)

// Occupant is one row of the append-only occupant history. At most one row is active.
type Occupant struct {
	ID                string          `gorm:"column:id;primaryKey;size:64;not null"`
	Content           string          `gorm:"column:content;type:text;not null"`
	Valuation         decimal.Decimal `gorm:"column:valuation;type:numeric(12,2);not null"`
	OwnerID           *string         `gorm:"column:owner_id;size:190"`
	AuthorName        *string         `gorm:"column:author_name;size:64"`
	AuthorEmail       *string         `gorm:"column:author_email;size:320"`
	SourceType        SourceType      `gorm:"column:source_type;size:16;not null;default:'solo'"`
	SourceSyndicateID *string         `gorm:"column:source_syndicate_id;size:64"`
	FundedByCount     *int            `gorm:"column:funded_by_count"`
	FundedInDays      *int            `gorm:"column:funded_in_days"`
	CreatedAt         time.Time       `gorm:"column:created_at;not null;index:idx_monolith_history_created"`
	Active            bool            `gorm:"column:active;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Occupant) TableName() string {
	return "monolith_history"
}

// Syndicate pools contributions toward displacing the current occupant.
type Syndicate struct {
	ID                        string          `gorm:"column:id;primaryKey;size:64;not null"`
	ProposedContent           string          `gorm:"column:proposed_content;type:text;not null"`
	TotalRaised               decimal.Decimal `gorm:"column:total_raised;type:numeric(12,2);not null"`
	Status                    SyndicateStatus `gorm:"column:status;size:16;not null;index:idx_syndicates_status"`
	CreatorName               *string         `gorm:"column:creator_name;size:64"`
	CreatorEmail              *string         `gorm:"column:creator_email;size:320"`
	NotifyOnFunded            bool            `gorm:"column:notify_on_funded;not null;default:false"`
	NotifyOnEveryContribution bool            `gorm:"column:notify_on_every_contribution;not null;default:false"`
	WonAt                     *time.Time      `gorm:"column:won_at"`
	CreatedAt                 time.Time       `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Syndicate) TableName() string {
	return "syndicates"
}

// Contribution is an append-only record of one accepted payment into a syndicate.
type Contribution struct {
	ID               string          `gorm:"column:id;primaryKey;size:64;not null"`
	SyndicateID      string          `gorm:"column:syndicate_id;size:64;not null;index:idx_contributions_syndicate"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	ContributorName  *string         `gorm:"column:contributor_name;size:64"`
	ContributorEmail *string         `gorm:"column:contributor_email;size:320"`
	NotifyOnFunded   bool            `gorm:"column:notify_on_funded;not null;default:false"`
	PaymentRef       string          `gorm:"column:payment_ref;size:190;not null;uniqueIndex:idx_contributions_payment_ref"`
	CreatedAt        time.Time       `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Contribution) TableName() string {
	return "contributions"
}

// DisplacementEvent is derived by diffing the latest archived occupant against the live one.
type DisplacementEvent struct {
	PreviousContent   string
	PreviousValuation decimal.Decimal
	CurrentContent    string
	CurrentValuation  decimal.Decimal
	DisplacedAt       time.Time
}

// SyndicateView decorates an active syndicate with progress toward the displacement cost.
type SyndicateView struct {
	Syndicate
	Target                 decimal.Decimal
	ProgressRatio          float64
	ContributorCount       int
	RecentContributorCount int
}

// LandingSnapshot is the public read model.
type LandingSnapshot struct {
	Monolith           Occupant
	DisplacementCost   decimal.Decimal
	Syndicates         []SyndicateView
	LatestDisplacement *DisplacementEvent
}

// SyndicateContributor is the public projection of a deduplicated contributor.
type SyndicateContributor struct {
	Name string
}

// GenesisContent is displayed until the first paid displacement.
const GenesisContent = "THE MONOLITH STANDS EMPTY. INSCRIBE IT."

// GenesisOccupant returns the seed occupant used to initialize storage and as a read fallback.
func GenesisOccupant() Occupant {
	return Occupant{
		ID:         "seed-monolith",
		Content:    GenesisContent,
		Valuation:  decimal.RequireFromString("1.00"),
		SourceType: SourceTypeSolo,
		CreatedAt:  time.Unix(0, 0).UTC(),
		Active:     true,
	}
}
