/*
events.go - Scan-event enumeration and classification

PURPOSE:
  Models RFID reader events as a CLOSED enumeration with an explicit
  status-changing classification. A new event type must be deliberately
  added to the classification table; unknown types are rejected rather
  than silently defaulting to one behavior.

CLASSIFICATION:
  Status-changing:     checkout, checkin, transfer, repair-hold
  Non-status-changing: touch, cycle-count

  A touch event confirms presence/location but must NEVER alter the item's
  rentable status. It still counts as activity for staleness analytics.

ORDERING:
  Events for an item are ordered by EventAt, with the insertion sequence
  (Seq) as tie-break. Later sequence wins on equal timestamps.

SEE ALSO:
  - reconcile.go: Consumes the classification
  - store.go: Append-only persistence contract
*/
package inventory

import "time"

// =============================================================================
// EVENT TYPES - Closed enumeration
// =============================================================================

// EventType identifies what a reader reported.
type EventType string

const (
	// Status-changing: these alter the item's rentable state.
	EventCheckout   EventType = "checkout"
	EventCheckin    EventType = "checkin"
	EventTransfer   EventType = "transfer"
	EventRepairHold EventType = "repair-hold"

	// Non-status-changing: presence/location confirmations only.
	EventTouch      EventType = "touch"
	EventCycleCount EventType = "cycle-count"
)

// eventClassification is the single source of truth for which event types
// change status. Adding a type here is a deliberate act; lookups for types
// not in this table fail with ErrUnknownEventType.
var eventClassification = map[EventType]bool{
	EventCheckout:   true,
	EventCheckin:    true,
	EventTransfer:   true,
	EventRepairHold: true,
	EventTouch:      false,
	EventCycleCount: false,
}

// IsStatusChanging reports whether events of type t alter rentable status.
// Unknown types return ErrUnknownEventType, never a silent default.
func IsStatusChanging(t EventType) (bool, error) {
	changes, ok := eventClassification[t]
	if !ok {
		return false, &UnknownEventTypeError{Type: t}
	}
	return changes, nil
}

// KnownEventTypes returns the closed set of event types, status-changing first.
func KnownEventTypes() []EventType {
	return []EventType{
		EventCheckout, EventCheckin, EventTransfer, EventRepairHold,
		EventTouch, EventCycleCount,
	}
}

// =============================================================================
// SCAN EVENT - Append-only reader observation
// =============================================================================

// ScanEvent is one reader observation. Events are APPEND-ONLY: never
// updated, never deleted. Corrections come from later events.
type ScanEvent struct {
	// Seq is assigned by the store on append and defines insertion order.
	// It is the tie-break when two events share an EventAt.
	Seq int64

	ItemID  ItemID
	Type    EventType
	EventAt time.Time

	// ReportedStore is the scheme-A code of the store whose reader saw the
	// tag. ReportedLocation is the zone/bin within that store.
	ReportedStore    string
	ReportedLocation string

	// ReportedStatus is set only for status-changing event types.
	ReportedStatus ItemStatus
}

// Validate checks event shape before append. Deep validation of reader
// payloads is the ingestion collaborator's job; this only guards the
// invariants the reconciliation engine depends on.
func (e ScanEvent) Validate() error {
	if e.ItemID == "" {
		return &ValidationError{Field: "item_id", Reason: "empty"}
	}
	if e.EventAt.IsZero() {
		return &ValidationError{Field: "event_at", Reason: "zero timestamp"}
	}
	changes, err := IsStatusChanging(e.Type)
	if err != nil {
		return err
	}
	if changes && e.ReportedStatus == "" {
		return &ValidationError{Field: "reported_status", Reason: "required for status-changing events"}
	}
	if !changes && e.ReportedStatus != "" {
		return &ValidationError{Field: "reported_status", Reason: "must be empty for non-status-changing events"}
	}
	return nil
}

// After reports whether e is ordered after other: EventAt first, larger
// Seq wins ties.
func (e ScanEvent) After(other ScanEvent) bool {
	if !e.EventAt.Equal(other.EventAt) {
		return e.EventAt.After(other.EventAt)
	}
	return e.Seq > other.Seq
}
