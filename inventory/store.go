/*
store.go - Persistence interfaces for the reconciliation core

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite (store/sqlite) or in-memory
  storage (inventory/store).

KEY INTERFACES:
  CorrelationStore: Store-correlation rows with active-code uniqueness
  ItemStore:        Jointly-owned item rows, preserve/restore staging
  EventStore:       Append-only scan events
  AuditLog:         Append-only correlation audit records

APPEND-ONLY CONTRACTS:
  EventStore and AuditLog expose no Update or Delete. Scan events and
  audit records are immutable once written.

UNIQUENESS:
  UpsertCorrelation must be atomic with respect to concurrent upserts:
  the implementation serializes on the active-code uniqueness constraint
  (a partial unique index in SQLite) and the loser receives
  ErrDuplicateCorrelation with no partial write.

PRESERVE/RESTORE:
  PreserveCorrelationFields and RestoreCorrelationFields each execute as
  one transaction per call. The ownership layer chunks large item sets
  across calls; holds carry RestoredAt so a crashed restore resumes
  idempotently.

SEE ALSO:
  - store/sqlite/sqlite.go: Production implementation
  - inventory/store/memory.go: In-memory implementation for testing
*/
package inventory

import (
	"context"
	"time"
)

// =============================================================================
// CORRELATION STORE
// =============================================================================

// CorrelationStore persists store-correlation rows. Rows are soft-deactivated,
// never hard-deleted.
type CorrelationStore interface {
	// FindActive returns the active correlation claiming code in the given
	// scheme (SchemeA or SchemeB only), or nil if none.
	FindActive(ctx context.Context, scheme SchemeHint, code string) (*StoreCorrelation, error)

	// UpsertCorrelation inserts or updates the active correlation keyed by
	// SchemeACode, atomically validating that no other active row claims
	// either code. Returns the previous row (nil on insert) for audit
	// diffing. Violations return ErrDuplicateCorrelation with no partial
	// write.
	UpsertCorrelation(ctx context.Context, corr StoreCorrelation) (*StoreCorrelation, error)

	// DeactivateCorrelation flips a row inactive by ID. Deactivating an
	// already-inactive row is a no-op.
	DeactivateCorrelation(ctx context.Context, id string) error

	// ListCorrelations returns correlations, optionally including inactive
	// rows, ordered by display name.
	ListCorrelations(ctx context.Context, includeInactive bool) ([]StoreCorrelation, error)
}

// =============================================================================
// ITEM STORE
// =============================================================================

// ItemStore persists item rows and the preserve/restore staging area.
type ItemStore interface {
	// GetItem returns the item or nil if it does not exist.
	GetItem(ctx context.Context, id ItemID) (*Item, error)

	// ListItems returns items matching the filter. When both scheme codes
	// are set on the filter the implementation matches EITHER the derived
	// scheme-A store or the snapshot's scheme-B home store.
	ListItems(ctx context.Context, f ItemFilter) ([]Item, error)

	// CountItems returns the total matching items and how many of them
	// have derived state, for correlation-health analytics.
	CountItems(ctx context.Context, f ItemFilter) (total int, withDerived int, err error)

	// ReplaceFromBatch replaces the ENTIRE row with batch data, nulling the
	// correlation-owned columns. This mirrors how the upstream POS refresh
	// actually writes; callers must bracket it with the preserve/restore
	// hooks in ownership.go.
	ReplaceFromBatch(ctx context.Context, item Item) error

	// UpdateDerived writes ONLY the correlation-owned columns. It is the
	// single write path for derived state and sits behind the ownership
	// guard.
	UpdateDerived(ctx context.Context, id ItemID, storeSchemeA, location string, lastActivity time.Time) error

	// PreserveCorrelationFields snapshots correlation-owned values for the
	// given items into the holding area, one transaction per call.
	// Re-preserving an item replaces its unrestored hold.
	PreserveCorrelationFields(ctx context.Context, ids []ItemID) (int, error)

	// RestoreCorrelationFields writes held values back onto the refreshed
	// rows, one transaction per call, marking holds restored. Items without
	// an unrestored hold are skipped, not errors. Returns how many rows
	// were restored.
	RestoreCorrelationFields(ctx context.Context, ids []ItemID) (int, error)
}

// =============================================================================
// EVENT STORE - Append-only
// =============================================================================

// EventStore persists scan events.
// IMPORTANT: APPEND-ONLY. No Update, No Delete. Ever.
type EventStore interface {
	// AppendEvent persists an event and returns its insertion sequence.
	// This is the ONLY write operation.
	AppendEvent(ctx context.Context, ev ScanEvent) (int64, error)

	// EventsForItem returns events for an item with EventAt >= since,
	// ordered by EventAt then Seq. A zero since returns everything.
	EventsForItem(ctx context.Context, id ItemID, since time.Time) ([]ScanEvent, error)

	// LatestEventSeq returns the newest sequence for an item, 0 if none.
	// Cheap; used as the memoization key component.
	LatestEventSeq(ctx context.Context, id ItemID) (int64, error)

	// GlobalEventSeq returns the newest sequence across all items.
	GlobalEventSeq(ctx context.Context) (int64, error)

	// ItemsWithEventsSince returns distinct item IDs with events after the
	// given sequence. Drives the background refresh trigger.
	ItemsWithEventsSince(ctx context.Context, seq int64) ([]ItemID, error)

	// EventCountsByType aggregates event counts per type for items matching
	// the filter within the range.
	EventCountsByType(ctx context.Context, f ItemFilter, rng DateRange) (map[EventType]int, error)
}

// =============================================================================
// AUDIT LOG - Append-only, separate from any business audit log
// =============================================================================

// AuditLog stores correlation audit records. Also append-only; retention
// and rollup are external concerns.
type AuditLog interface {
	AppendAudit(ctx context.Context, rec CorrelationAuditRecord) error

	// AuditHistory returns records for an entity ordered by ChangedAt then
	// ID, optionally filtered by field name. Offset/limit paging makes the
	// read restartable.
	AuditHistory(ctx context.Context, entityID, fieldName string, offset, limit int) ([]CorrelationAuditRecord, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface. Both the SQLite and in-memory
// implementations satisfy it.
type Store interface {
	CorrelationStore
	ItemStore
	EventStore
	AuditLog
}
