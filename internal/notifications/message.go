// Package notifications delivers monolith emails at most once per event key.
package notifications

// Kind enumerates the notification categories recorded in the dedup ledger.
type Kind string

const (
	KindSoloDisplaced         Kind = "solo_displaced"
	KindSyndicateFunded       Kind = "syndicate_funded"
	KindSyndicateContribution Kind = "syndicate_contribution"
)

// Message is a single email addressed to one recipient under a semantic event key.
type Message struct {
	EventKey  string
	Recipient string
	Kind      Kind
	Subject   string
	Body      string
}

// Email is the transport-level payload handed to a Sender.
type Email struct {
	To      string
	Subject string
	Text    string
}
