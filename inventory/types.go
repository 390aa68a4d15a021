/*
Package inventory provides the multi-source inventory reconciliation core.

PURPOSE:
  This package contains the domain types and algorithms for tracking rental
  equipment across stores fed by two independent data sources: an append-only
  RFID scan-event log and a batch-refreshed point-of-sale snapshot. The two
  sources use different store-identifier schemes and different cadences; the
  engine here merges them into one consistent view per item.

KEY CONCEPTS IN THIS FILE (types.go):
  - StoreCorrelation: Bidirectional mapping between the two store-code schemes
  - Item: Jointly-owned record (batch-owned vs correlation-owned fields)
  - DerivedItemState: Computed "true current state" of an item
  - SchemeHint: Which identifier namespace a caller-supplied code belongs to

DESIGN PRINCIPLES:
  1. Ownership: Batch-owned and correlation-owned fields are disjoint sets;
     each has exactly one writer (see ownership.go)
  2. Immutability: Scan events are never updated or deleted (see events.go)
  3. Precision: Uses decimal.Decimal for money to avoid floating-point errors
  4. Explicitness: Derived values carry a source tag so a caller can always
     tell which data source produced a number

SEE ALSO:
  - events.go: Scan-event enumeration and classification
  - reconcile.go: Derived-state computation
  - registry.go: Store-code resolution
  - ownership.go: Field ownership enforcement
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ItemID identifies one physically tagged asset.
type ItemID string

// SchemeHint tells the registry which identifier namespace a store code
// belongs to. SchemeAny asks the registry to figure it out, which fails
// loudly if the code exists in both schemes with different meanings.
type SchemeHint string

const (
	SchemeA   SchemeHint = "scheme-a" // RFID-reader side codes
	SchemeB   SchemeHint = "scheme-b" // POS side codes
	SchemeAny SchemeHint = "any"
)

// Sentinel correlation that always exists. Items whose store cannot be
// resolved are attributed to it. It may be deactivated but never deleted.
const (
	UnassignedSchemeA = "UNASSIGNED"
	UnassignedSchemeB = "0"
)

// =============================================================================
// STORE CORRELATION - One row per physical store
// =============================================================================

// StoreCorrelation maps a scheme-A code to its scheme-B counterpart.
// Rows are soft-deactivated, never hard-deleted, so historical joins
// against old codes keep working.
type StoreCorrelation struct {
	ID          string
	SchemeACode string
	SchemeBCode string
	DisplayName string
	Active      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks correlation invariants before persistence.
func (c StoreCorrelation) Validate() error {
	if c.SchemeACode == "" {
		return &ValidationError{Field: "scheme_a_code", Reason: "empty"}
	}
	if c.SchemeBCode == "" {
		return &ValidationError{Field: "scheme_b_code", Reason: "empty"}
	}
	if c.DisplayName == "" {
		return &ValidationError{Field: "display_name", Reason: "empty"}
	}
	return nil
}

// SameStore reports whether two correlations describe the same physical store.
func (c StoreCorrelation) SameStore(other StoreCorrelation) bool {
	return c.SchemeACode == other.SchemeACode && c.SchemeBCode == other.SchemeBCode
}

// =============================================================================
// ITEM - Jointly-owned asset record
// =============================================================================

// ItemStatus is the rentable state of an item. Only status-changing scan
// events or the batch snapshot may set it; touch events never do.
type ItemStatus string

const (
	StatusAvailable  ItemStatus = "available"
	StatusCheckedOut ItemStatus = "checked-out"
	StatusInTransit  ItemStatus = "in-transit"
	StatusInRepair   ItemStatus = "in-repair"
	StatusMissing    ItemStatus = "missing"
)

// Item is one row per tagged asset. The row has two writers:
//
//   Batch-owned fields are written ONLY by the upstream POS refresh
//   (CatalogID, SellPrice, Manufacturer, HomeStoreSchemeB, Snapshot*).
//
//   Correlation-owned fields are written ONLY by this engine
//   (DerivedStoreSchemeA, DerivedLocation, LastCorrelationUpdate).
//
// The ownership map in ownership.go enforces the split. Correlation-owned
// fields are pointers because the upstream refresh replaces whole rows and
// leaves them null until restored.
type Item struct {
	ID ItemID

	// Batch-owned (POS master data).
	CatalogID        string
	SellPrice        decimal.Decimal
	Manufacturer     string
	HomeStoreSchemeB string

	// Batch-owned (POS state as of the last refresh).
	SnapshotStatus   ItemStatus
	SnapshotLocation string
	SnapshotAt       time.Time

	// Correlation-owned (persisted derived state).
	DerivedStoreSchemeA   *string
	DerivedLocation       *string
	LastCorrelationUpdate *time.Time
}

// HasDerivedState reports whether the correlation engine has ever written
// derived state for this item. Used for correlation-health analytics.
func (i Item) HasDerivedState() bool {
	return i.LastCorrelationUpdate != nil
}

// =============================================================================
// DERIVED ITEM STATE - Computed truth, per item
// =============================================================================

// ActivitySource tags which data source produced TrueLastActivity.
type ActivitySource string

const (
	SourceStatusEvent   ActivitySource = "status-event"
	SourceTouchEvent    ActivitySource = "touch-event"
	SourceBatchSnapshot ActivitySource = "batch-snapshot"
)

// DerivedItemState is the reconciled "true state" of an item:
//
//   CurrentStatus/CurrentLocation come from the most recent status-changing
//   event in the lookback window, or from the batch snapshot when it is
//   strictly newer (manual upstream corrections win).
//
//   TrueLastActivity is the most recent timestamp across ALL sources,
//   touch events included, and never moves backward for an item.
//
// See reconcile.go for the merge algorithm.
type DerivedItemState struct {
	ItemID ItemID

	CurrentStatus      ItemStatus
	CurrentLocation    string
	CurrentStoreScheme string // scheme-A code of the store the item is at

	TrueLastActivity time.Time
	Source           ActivitySource

	// LatestEventSeq is the insertion sequence of the newest event seen
	// when this state was computed. It is the memoization key component.
	LatestEventSeq int64
}

// =============================================================================
// CORRELATION HOLD - Preserve/restore staging around batch refreshes
// =============================================================================

// CorrelationHold is a snapshot of an item's correlation-owned fields taken
// immediately before a batch refresh replaces the row. RestoredAt makes the
// restore idempotent: a hold is only applied once, and re-running a crashed
// restore skips already-restored items.
type CorrelationHold struct {
	ItemID                ItemID
	DerivedStoreSchemeA   *string
	DerivedLocation       *string
	LastCorrelationUpdate *time.Time

	PreservedAt time.Time
	RestoredAt  *time.Time
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange is a closed interval used by analytics queries.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range (inclusive).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Valid reports whether the range is well-formed.
func (r DateRange) Valid() bool {
	return !r.To.Before(r.From)
}
