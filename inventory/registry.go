/*
registry.go - Store correlation registry

PURPOSE:
  Maintains the bidirectional mapping between the two store-identifier
  schemes. Every store has a scheme-A code (RFID side) and a scheme-B code
  (POS side); the registry resolves either direction and is the only write
  path for correlation rows.

RESOLUTION:
  Resolve(code, hint) looks the code up in the hinted scheme. With
  SchemeAny it checks scheme-A then scheme-B; if the code is claimed by
  both schemes for DIFFERENT stores, resolution fails with
  ErrAmbiguousStoreCode rather than guessing.

UNIQUENESS:
  At most one ACTIVE correlation per scheme-A code and per scheme-B code.
  The store layer serializes concurrent upserts on that constraint; the
  loser receives ErrDuplicateCorrelation and must re-read and retry.

AUDIT:
  Every upsert and deactivation appends field-level audit records.

SEE ALSO:
  - store.go: CorrelationStore contract
  - query.go: Consumes Resolve for scheme-transparent filtering
*/
package inventory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the service over CorrelationStore. Construct with NewRegistry.
type Registry struct {
	Store CorrelationStore
	Audit *AuditWriter
}

// NewRegistry creates a registry backed by the given store and audit log.
func NewRegistry(store CorrelationStore, audit AuditLog) *Registry {
	return &Registry{
		Store: store,
		Audit: &AuditWriter{Log: audit},
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve returns the active correlation for a caller-supplied code of
// either scheme.
//
//   - hint SchemeA or SchemeB: exact lookup in that scheme.
//   - hint SchemeAny (or empty): scheme-A first, then scheme-B. A code
//     claimed by both schemes for different stores is ambiguous and fails
//     loudly; the same store claiming its own code in both schemes is fine.
//
// A miss returns ErrStoreNotFound.
func (r *Registry) Resolve(ctx context.Context, code string, hint SchemeHint) (*StoreCorrelation, error) {
	switch hint {
	case SchemeA, SchemeB:
		corr, err := r.Store.FindActive(ctx, hint, code)
		if err != nil {
			return nil, err
		}
		if corr == nil {
			return nil, fmt.Errorf("%s code %q: %w", hint, code, ErrStoreNotFound)
		}
		return corr, nil

	case SchemeAny, "":
		byA, err := r.Store.FindActive(ctx, SchemeA, code)
		if err != nil {
			return nil, err
		}
		byB, err := r.Store.FindActive(ctx, SchemeB, code)
		if err != nil {
			return nil, err
		}
		switch {
		case byA != nil && byB != nil && !byA.SameStore(*byB):
			return nil, &AmbiguousStoreCodeError{Code: code, SchemeAMatch: *byA, SchemeBMatch: *byB}
		case byA != nil:
			return byA, nil
		case byB != nil:
			return byB, nil
		default:
			return nil, fmt.Errorf("code %q: %w", code, ErrStoreNotFound)
		}

	default:
		return nil, &ValidationError{Field: "scheme", Reason: "must be scheme-a, scheme-b or any"}
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Upsert creates or updates the active correlation keyed by SchemeACode.
// Both codes must be unique among active rows; violations return
// ErrDuplicateCorrelation with no partial write. Every changed field is
// audited.
func (r *Registry) Upsert(ctx context.Context, corr StoreCorrelation, actor string) (*StoreCorrelation, error) {
	if err := corr.Validate(); err != nil {
		return nil, err
	}
	if corr.ID == "" {
		corr.ID = uuid.NewString()
	}
	corr.Active = true

	prev, err := r.Store.UpsertCorrelation(ctx, corr)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		// Updates keep the existing row identity.
		corr.ID = prev.ID
	}

	diffs := correlationDiffs(prev, corr)
	if err := r.Audit.RecordChanges(ctx, corr.ID, actor, diffs); err != nil {
		return nil, err
	}
	return &corr, nil
}

// Deactivate flips the correlation for code inactive. Idempotent: an
// already-inactive or sentinel-preserving repeat call is a no-op. The
// sentinel pair itself may be deactivated but its row always remains.
func (r *Registry) Deactivate(ctx context.Context, code string, actor string) error {
	corr, err := r.Resolve(ctx, code, SchemeAny)
	if err != nil {
		if IsNotFound(err) {
			// Already inactive (or never existed): idempotent no-op.
			return nil
		}
		return err
	}

	if err := r.Store.DeactivateCorrelation(ctx, corr.ID); err != nil {
		return err
	}
	return r.Audit.RecordChanges(ctx, corr.ID, actor, []FieldDiff{
		{Field: "active", Old: strconv.FormatBool(true), New: strconv.FormatBool(false)},
	})
}

// List returns correlations, optionally including deactivated rows.
func (r *Registry) List(ctx context.Context, includeInactive bool) ([]StoreCorrelation, error) {
	return r.Store.ListCorrelations(ctx, includeInactive)
}

// correlationDiffs builds the field-level diff between the previous row
// (nil on insert) and the upserted row.
func correlationDiffs(prev *StoreCorrelation, next StoreCorrelation) []FieldDiff {
	old := StoreCorrelation{}
	if prev != nil {
		old = *prev
	}
	return []FieldDiff{
		{Field: "scheme_a_code", Old: old.SchemeACode, New: next.SchemeACode},
		{Field: "scheme_b_code", Old: old.SchemeBCode, New: next.SchemeBCode},
		{Field: "display_name", Old: old.DisplayName, New: next.DisplayName},
		{Field: "active", Old: strconv.FormatBool(old.Active), New: strconv.FormatBool(next.Active)},
	}
}

// Sentinel returns the legacy/unassigned correlation pair. Store
// implementations seed it during migration; it is never deleted.
func Sentinel() StoreCorrelation {
	return StoreCorrelation{
		ID:          "sentinel-unassigned",
		SchemeACode: UnassignedSchemeA,
		SchemeBCode: UnassignedSchemeB,
		DisplayName: "Legacy / Unassigned",
		Active:      true,
	}
}
