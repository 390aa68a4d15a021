/*
audit.go - Correlation audit trail

PURPOSE:
  Every write this core performs against a persisted field produces exactly
  one CorrelationAuditRecord: old value, new value, who, when. The trail is
  append-only and independent of whatever business audit log the
  surrounding reporting features keep.

SEE ALSO:
  - registry.go: Audits upserts and deactivations
  - reconcile.go: Audits derived-state refreshes
  - store.go: AuditLog persistence contract
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT RECORD
// =============================================================================

// CorrelationAuditRecord is one field-level change. Append-only.
type CorrelationAuditRecord struct {
	ID        string
	EntityID  string // correlation ID or item ID
	FieldName string
	OldValue  string
	NewValue  string
	ChangedBy string
	ChangedAt time.Time
}

// NewFieldChange builds an audit record for a single field change.
func NewFieldChange(entityID, field, oldValue, newValue, actor string) CorrelationAuditRecord {
	return CorrelationAuditRecord{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		FieldName: field,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: actor,
		ChangedAt: time.Now().UTC(),
	}
}

// =============================================================================
// AUDIT WRITER - Diff helper shared by registry and reconciler
// =============================================================================

// AuditWriter appends one record per changed field out of an ordered diff.
type AuditWriter struct {
	Log AuditLog
}

// FieldDiff is one before/after pair.
type FieldDiff struct {
	Field string
	Old   string
	New   string
}

// RecordChanges appends a record for every diff whose value actually
// changed. Unchanged fields produce no records.
func (w *AuditWriter) RecordChanges(ctx context.Context, entityID, actor string, diffs []FieldDiff) error {
	for _, d := range diffs {
		if d.Old == d.New {
			continue
		}
		if err := w.Log.AppendAudit(ctx, NewFieldChange(entityID, d.Field, d.Old, d.New, actor)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HISTORY - Pageable read contract
// =============================================================================

// DefaultAuditPageSize bounds unpaged history reads.
const DefaultAuditPageSize = 100

// History returns a page of audit records for an entity. A zero limit uses
// DefaultAuditPageSize. Safe to call repeatedly with increasing offsets;
// records are never mutated or pruned by this core.
func (w *AuditWriter) History(ctx context.Context, entityID, fieldName string, offset, limit int) ([]CorrelationAuditRecord, error) {
	if limit <= 0 {
		limit = DefaultAuditPageSize
	}
	return w.Log.AuditHistory(ctx, entityID, fieldName, offset, limit)
}
