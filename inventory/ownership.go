/*
ownership.go - Field ownership enforcement and the preserve/restore protocol

PURPOSE:
  The item row has two writers that must never touch each other's columns:
  the upstream POS batch refresh owns master data and snapshot state, this
  engine owns derived state. The ownership map here is the single source of
  truth for who may write what, and AssertWritable guards every correlation
  write site.

PRESERVE/RESTORE:
  The upstream refresh cannot do partial updates - it replaces whole rows,
  wiping the correlation-owned columns. The workaround is an explicit
  protocol the batch collaborator must call around its write:

    PreserveBeforeBatchRefresh(ids)   snapshot derived fields into holds
    ... upstream replaces rows ...
    RestoreAfterBatchRefresh(ids)     write held values back

  Both halves are chunked, each chunk in its own storage transaction, and
  holds carry RestoredAt so a crashed restore resumes idempotently. An item
  with no hold (e.g. brand new) restores as a no-op, not an error.

VIOLATIONS:
  A write to a batch-owned field from inside this core is a programming
  defect: it is logged at Error level and rejected with no partial commit.

SEE ALSO:
  - types.go: Item field groups
  - reconcile.go: Uses AssertWritable before persisting derived state
*/
package inventory

import (
	"context"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// OWNERSHIP MAP
// =============================================================================

// FieldOwner names the sole writer of a field.
type FieldOwner string

const (
	OwnerBatch       FieldOwner = "batch-refresh"
	OwnerCorrelation FieldOwner = "correlation-engine"
)

// WriteIntent is who is asking to write.
type WriteIntent = FieldOwner

// itemOwnership is the static ownership map for the items table. The two
// field sets are disjoint by construction; a field missing from this map
// has no classified owner and every write to it is rejected.
var itemOwnership = map[string]FieldOwner{
	// Batch-owned: POS master data and snapshot state.
	"catalog_id":        OwnerBatch,
	"sell_price":        OwnerBatch,
	"manufacturer":      OwnerBatch,
	"home_store_b":      OwnerBatch,
	"snapshot_status":   OwnerBatch,
	"snapshot_location": OwnerBatch,
	"snapshot_at":       OwnerBatch,

	// Correlation-owned: derived state persisted by this engine.
	"derived_store_a":         OwnerCorrelation,
	"derived_location":        OwnerCorrelation,
	"last_correlation_update": OwnerCorrelation,
}

// CorrelationOwnedFields returns the correlation-owned column names, in
// stable order. These are exactly the fields preserved and restored around
// batch refreshes.
func CorrelationOwnedFields() []string {
	return []string{"derived_store_a", "derived_location", "last_correlation_update"}
}

// =============================================================================
// OWNERSHIP GUARD
// =============================================================================

// Guard enforces the ownership map at write sites.
type Guard struct {
	Log *logrus.Logger
}

// NewGuard creates a guard. A nil logger falls back to the logrus default.
func NewGuard(log *logrus.Logger) *Guard {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Guard{Log: log}
}

// AssertWritable returns nil when intent may write table.field, and an
// OwnershipViolationError otherwise. Unknown tables or fields are denied:
// ownership must be deliberately classified.
func (g *Guard) AssertWritable(table, field string, intent WriteIntent) error {
	if table != "items" {
		return g.violation(table, field, intent, "")
	}
	owner, ok := itemOwnership[field]
	if !ok {
		return g.violation(table, field, intent, "")
	}
	if owner != intent {
		return g.violation(table, field, intent, owner)
	}
	return nil
}

func (g *Guard) violation(table, field string, intent WriteIntent, owner FieldOwner) error {
	err := &OwnershipViolationError{Table: table, Field: field, Intent: intent, Owner: owner}
	g.Log.WithFields(logrus.Fields{
		"table":  table,
		"field":  field,
		"intent": intent,
		"owner":  owner,
	}).Error("ownership violation: write rejected")
	return err
}

// =============================================================================
// BATCH COMPATIBILITY LAYER - preserve/restore around whole-row refreshes
// =============================================================================

// DefaultRefreshChunkSize bounds how many items share one storage
// transaction during preserve/restore.
const DefaultRefreshChunkSize = 500

// BatchCompat implements the preserve/restore hooks the batch-refresh
// collaborator must call around its own write.
type BatchCompat struct {
	Items     ItemStore
	ChunkSize int
	Log       *logrus.Logger
}

// NewBatchCompat creates the compatibility layer with the default chunk size.
func NewBatchCompat(items ItemStore, log *logrus.Logger) *BatchCompat {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BatchCompat{Items: items, ChunkSize: DefaultRefreshChunkSize, Log: log}
}

// PreserveBeforeBatchRefresh snapshots correlation-owned field values for
// the given items into the holding area. Chunked; each chunk commits in its
// own transaction, so a crash mid-run leaves earlier chunks preserved and
// the call is safe to repeat.
func (b *BatchCompat) PreserveBeforeBatchRefresh(ctx context.Context, ids []ItemID) (int, error) {
	total := 0
	for _, chunk := range chunkIDs(ids, b.chunkSize()) {
		n, err := b.Items.PreserveCorrelationFields(ctx, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	b.Log.WithField("items", total).Debug("preserved correlation fields before batch refresh")
	return total, nil
}

// RestoreAfterBatchRefresh writes held values back onto the refreshed rows
// for exactly the correlation-owned fields. Items with no unrestored hold
// (new items, or already-restored chunks from a resumed run) are no-ops.
// Returns how many rows were actually restored.
func (b *BatchCompat) RestoreAfterBatchRefresh(ctx context.Context, ids []ItemID) (int, error) {
	total := 0
	for _, chunk := range chunkIDs(ids, b.chunkSize()) {
		n, err := b.Items.RestoreCorrelationFields(ctx, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	b.Log.WithField("items", total).Debug("restored correlation fields after batch refresh")
	return total, nil
}

func (b *BatchCompat) chunkSize() int {
	if b.ChunkSize > 0 {
		return b.ChunkSize
	}
	return DefaultRefreshChunkSize
}

func chunkIDs(ids []ItemID, size int) [][]ItemID {
	var chunks [][]ItemID
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
