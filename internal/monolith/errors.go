package monolith

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every rejected-input error returned by the settlement engine.
	ErrValidation = errors.New("monolith: validation failed")
	// ErrConcurrentSettlement reports that a guarded update observed zero affected rows.
	ErrConcurrentSettlement = errors.New("monolith: settlement resolved concurrently")
	// ErrSyndicateNotFound reports an unknown syndicate identifier.
	ErrSyndicateNotFound = errors.New("monolith: syndicate not found")
	// ErrDuplicatePaymentRef reports a unique violation on a contribution payment reference.
	ErrDuplicatePaymentRef = errors.New("monolith: duplicate payment reference")

	errMissingLedger     = errors.New("ledger is required")
	errMissingIDProvider = errors.New("id provider is required")
	errRefsExhausted     = errors.New("payment reference retries exhausted")
)

// Validation reasons exposed to API callers.
const (
	ReasonContentRequired       = "content_required"
	ReasonContentTooLong        = "content_too_long"
	ReasonAliasTooLong          = "alias_too_long"
	ReasonInvalidEmail          = "invalid_email"
	ReasonInvalidAmount         = "invalid_amount"
	ReasonBidBelowMinimum       = "bid_below_minimum"
	ReasonContributionBelowMin  = "contribution_below_minimum"
	ReasonSyndicateInactive     = "syndicate_inactive"
	ReasonPaymentRefMismatch    = "payment_ref_mismatch"
	ReasonSyndicateIDRequired   = "syndicate_id_required"
	reasonMissingLedger         = "missing_ledger"
	reasonMissingIDProvider     = "missing_id_provider"
	reasonOccupantReadFailed    = "occupant_read_failed"
	reasonStaleOccupant         = "stale_occupant"
	reasonOccupantArchiveFailed = "occupant_archive_failed"
	reasonOccupantInsertFailed  = "occupant_insert_failed"
	reasonIDGenerationFailed    = "id_generation_failed"
	reasonSyndicateReadFailed   = "syndicate_read_failed"
	reasonSyndicateNotFound     = "syndicate_not_found"
	reasonSyndicateInsertFailed = "syndicate_insert_failed"
	reasonSyndicateUpdateFailed = "syndicate_update_failed"
	reasonSyndicateResolved     = "syndicate_resolved_concurrently"
	reasonContributionFailed    = "contribution_insert_failed"
	reasonContributionLookup    = "contribution_lookup_failed"
	reasonContributorsFailed    = "contributors_read_failed"
	reasonMarkWonFailed         = "mark_won_failed"
	reasonCoupRace              = "coup_race"
	reasonQueryFailed           = "query_failed"
	reasonTransactionFailed     = "transaction_failed"
)

const (
	opServiceNew          = "monolith.service.new"
	opAcquireSolo         = "monolith.acquire_solo"
	opInitializeSyndicate = "monolith.initialize_syndicate"
	opContribute          = "monolith.contribute"
	opResolveCoup         = "monolith.resolve_coup"
	opLandingSnapshot     = "monolith.landing_snapshot"
	opListContributors    = "monolith.list_contributors"
)

// ValidationError describes rejected caller input. No storage mutation precedes it.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrValidation) match any validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ServiceError carries a stable operation.reason code for fatal and concurrency failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func newConcurrencyError(operation, reason, detail string) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %s", ErrConcurrentSettlement, detail))
}
