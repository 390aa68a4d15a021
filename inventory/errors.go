/*
errors.go - Centralized error types for the reconciliation core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match on the sentinels with errors.Is() and extract context
  from the structured wrappers with errors.As().

ERROR CATEGORIES:
  1. Resolution errors  - Unknown or ambiguous store codes
  2. Registry errors    - Correlation uniqueness violations
  3. Ownership errors   - Writes to fields this core does not own
  4. Query errors       - Timed-out aggregations returning partial data

PROPAGATION POLICY:
  Registry and ownership errors are never swallowed; they abort the
  enclosing operation. The reconciliation engine treats a missing
  snapshot or an empty event window as valid state, not an error.

SEE ALSO:
  - registry.go: Produces resolution and registry errors
  - ownership.go: Produces ownership violations
  - query.go: Produces partial results
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreNotFound is returned when a store code resolves in neither scheme.
	ErrStoreNotFound = errors.New("store code not found")

	// ErrItemNotFound is returned when a referenced item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrAmbiguousStoreCode is returned when a code exists in both schemes
	// with different meanings. Resolution never guesses.
	ErrAmbiguousStoreCode = errors.New("ambiguous store code")

	// ErrDuplicateCorrelation is returned when an upsert would leave two
	// active correlations claiming the same code. The loser of a concurrent
	// race must re-read and retry.
	ErrDuplicateCorrelation = errors.New("duplicate active correlation")

	// ErrOwnershipViolation is returned when this core attempts to write a
	// batch-owned field. This is a programming defect, not a runtime state.
	ErrOwnershipViolation = errors.New("ownership violation")

	// ErrPartialResult is returned when an analytics query hit its timeout.
	// The accompanying result carries whatever completed.
	ErrPartialResult = errors.New("partial result: query timed out")

	// ErrUnknownEventType is returned for event types missing from the
	// classification table.
	ErrUnknownEventType = errors.New("unknown event type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmbiguousStoreCodeError reports a code claimed by both schemes.
type AmbiguousStoreCodeError struct {
	Code         string
	SchemeAMatch StoreCorrelation
	SchemeBMatch StoreCorrelation
}

func (e *AmbiguousStoreCodeError) Error() string {
	return fmt.Sprintf("ambiguous store code %q: scheme-A store %q vs scheme-B store %q",
		e.Code, e.SchemeAMatch.DisplayName, e.SchemeBMatch.DisplayName)
}

func (e *AmbiguousStoreCodeError) Unwrap() error { return ErrAmbiguousStoreCode }

// DuplicateCorrelationError reports which code collided.
type DuplicateCorrelationError struct {
	Scheme SchemeHint
	Code   string
}

func (e *DuplicateCorrelationError) Error() string {
	return fmt.Sprintf("duplicate active correlation: %s code %q already claimed", e.Scheme, e.Code)
}

func (e *DuplicateCorrelationError) Unwrap() error { return ErrDuplicateCorrelation }

// OwnershipViolationError reports a write attempt to a field this core
// does not own.
type OwnershipViolationError struct {
	Table  string
	Field  string
	Intent WriteIntent
	Owner  FieldOwner
}

func (e *OwnershipViolationError) Error() string {
	return fmt.Sprintf("ownership violation: %s write to %s.%s owned by %s",
		e.Intent, e.Table, e.Field, e.Owner)
}

func (e *OwnershipViolationError) Unwrap() error { return ErrOwnershipViolation }

// UnknownEventTypeError reports an event type missing from the
// classification table.
type UnknownEventTypeError struct {
	Type EventType
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q: add it to the classification table", e.Type)
}

func (e *UnknownEventTypeError) Unwrap() error { return ErrUnknownEventType }

// PartialResultError wraps an analytics result that ran out of time.
type PartialResultError struct {
	Elapsed string
	Cause   error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("partial result after %s: %v", e.Elapsed, e.Cause)
}

func (e *PartialResultError) Unwrap() error { return ErrPartialResult }

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after a re-read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicateCorrelation)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrAmbiguousStoreCode) ||
		errors.Is(err, ErrDuplicateCorrelation) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.As(err, &ve)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotFound) ||
		errors.Is(err, ErrItemNotFound)
}
