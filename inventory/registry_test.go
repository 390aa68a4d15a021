package inventory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
	memstore "github.com/warp/inventory-engine/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRegistry(t *testing.T) (*inventory.Registry, *memstore.Memory) {
	t.Helper()
	mem := memstore.NewMemory()
	return inventory.NewRegistry(mem, mem), mem
}

func mustUpsert(t *testing.T, r *inventory.Registry, schemeA, schemeB, name string) *inventory.StoreCorrelation {
	t.Helper()
	corr, err := r.Upsert(context.Background(), inventory.StoreCorrelation{
		SchemeACode: schemeA,
		SchemeBCode: schemeB,
		DisplayName: name,
	}, "test")
	require.NoError(t, err)
	return corr
}

// =============================================================================
// RESOLUTION TESTS
// =============================================================================

func TestRegistry_Resolve_BothSchemesReachSameStore(t *testing.T) {
	// GIVEN: A correlation W-100 <-> 4821
	// WHEN: Resolving by either code
	// THEN: Both resolve to the same store

	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	mustUpsert(t, registry, "W-100", "4821", "Downtown")

	byA, err := registry.Resolve(ctx, "W-100", inventory.SchemeA)
	require.NoError(t, err)
	byB, err := registry.Resolve(ctx, "4821", inventory.SchemeB)
	require.NoError(t, err)
	byAny, err := registry.Resolve(ctx, "4821", inventory.SchemeAny)
	require.NoError(t, err)

	assert.True(t, byA.SameStore(*byB))
	assert.True(t, byA.SameStore(*byAny))
	assert.Equal(t, "Downtown", byA.DisplayName)
}

func TestRegistry_Resolve_UnknownCode_NotFound(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Resolve(context.Background(), "nope", inventory.SchemeAny)

	assert.ErrorIs(t, err, inventory.ErrStoreNotFound)
	assert.True(t, inventory.IsNotFound(err))
}

func TestRegistry_Resolve_CrossSchemeCollision_Ambiguous(t *testing.T) {
	// GIVEN: "77" is store X's scheme-A code AND store Y's scheme-B code
	// WHEN: Resolving "77" without a scheme hint
	// THEN: Resolution refuses to guess

	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	mustUpsert(t, registry, "77", "9001", "Store X")
	mustUpsert(t, registry, "W-200", "77", "Store Y")

	_, err := registry.Resolve(ctx, "77", inventory.SchemeAny)

	require.Error(t, err)
	var ambErr *inventory.AmbiguousStoreCodeError
	require.ErrorAs(t, err, &ambErr)
	assert.Equal(t, "77", ambErr.Code)
	assert.Equal(t, "Store X", ambErr.SchemeAMatch.DisplayName)
	assert.Equal(t, "Store Y", ambErr.SchemeBMatch.DisplayName)

	// A scheme hint disambiguates the same code.
	byA, err := registry.Resolve(ctx, "77", inventory.SchemeA)
	require.NoError(t, err)
	assert.Equal(t, "Store X", byA.DisplayName)
	byB, err := registry.Resolve(ctx, "77", inventory.SchemeB)
	require.NoError(t, err)
	assert.Equal(t, "Store Y", byB.DisplayName)
}

func TestRegistry_Resolve_SameStoreClaimsBothSchemes_NotAmbiguous(t *testing.T) {
	// GIVEN: One store whose codes are spelled the same in both schemes
	// WHEN: Resolving that code with SchemeAny
	// THEN: Not ambiguous; both matches are the same store

	registry, _ := newTestRegistry(t)
	mustUpsert(t, registry, "555", "555", "Twin Codes")

	corr, err := registry.Resolve(context.Background(), "555", inventory.SchemeAny)

	require.NoError(t, err)
	assert.Equal(t, "Twin Codes", corr.DisplayName)
}

// =============================================================================
// UNIQUENESS TESTS
// =============================================================================

func TestRegistry_Upsert_DuplicateSchemeBCode_Rejected(t *testing.T) {
	// GIVEN: Store "4821" already correlated to W-100
	// WHEN: A second store tries to claim scheme-B code 4821
	// THEN: Rejected with DuplicateCorrelationError, retryable after re-read

	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	mustUpsert(t, registry, "W-100", "4821", "Downtown")

	_, err := registry.Upsert(ctx, inventory.StoreCorrelation{
		SchemeACode: "W-300",
		SchemeBCode: "4821",
		DisplayName: "Impostor",
	}, "test")

	require.Error(t, err)
	var dupErr *inventory.DuplicateCorrelationError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "4821", dupErr.Code)
	assert.True(t, inventory.IsRetryable(err))
}

func TestRegistry_Upsert_UpdateKeepsRowIdentity(t *testing.T) {
	// GIVEN: An existing correlation for W-100
	// WHEN: Upserting W-100 again with a new display name
	// THEN: Same row ID, updated fields, no second row

	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	created := mustUpsert(t, registry, "W-100", "4821", "Downtown")

	updated, err := registry.Upsert(ctx, inventory.StoreCorrelation{
		SchemeACode: "W-100",
		SchemeBCode: "4821",
		DisplayName: "Downtown Flagship",
	}, "test")
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)

	list, err := registry.List(ctx, false)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.DisplayName)
	}
	assert.Contains(t, names, "Downtown Flagship")
	assert.NotContains(t, names, "Downtown")
}

func TestRegistry_Upsert_Validation(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Upsert(context.Background(), inventory.StoreCorrelation{
		SchemeACode: "W-100",
	}, "test")

	assert.Error(t, err)
}

// =============================================================================
// DEACTIVATION TESTS
// =============================================================================

func TestRegistry_Deactivate_SoftAndIdempotent(t *testing.T) {
	// GIVEN: An active correlation
	// WHEN: Deactivating it twice
	// THEN: First call deactivates, second is a no-op; the row survives

	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	mustUpsert(t, registry, "W-100", "4821", "Downtown")

	require.NoError(t, registry.Deactivate(ctx, "W-100", "test"))

	_, err := registry.Resolve(ctx, "W-100", inventory.SchemeA)
	assert.ErrorIs(t, err, inventory.ErrStoreNotFound)

	// Idempotent repeat.
	assert.NoError(t, registry.Deactivate(ctx, "W-100", "test"))

	// Soft: the row is still listed when inactive rows are included.
	all, err := registry.List(ctx, true)
	require.NoError(t, err)
	found := false
	for _, c := range all {
		if c.SchemeACode == "W-100" {
			found = true
			assert.False(t, c.Active)
		}
	}
	assert.True(t, found, "deactivated row must survive")
}

func TestRegistry_Deactivate_FreesCodesForReuse(t *testing.T) {
	// GIVEN: A deactivated correlation
	// WHEN: A new store claims the freed scheme-B code
	// THEN: The upsert succeeds; uniqueness binds ACTIVE rows only

	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	mustUpsert(t, registry, "W-100", "4821", "Downtown")
	require.NoError(t, registry.Deactivate(ctx, "W-100", "test"))

	corr := mustUpsert(t, registry, "W-400", "4821", "Successor")

	resolved, err := registry.Resolve(ctx, "4821", inventory.SchemeB)
	require.NoError(t, err)
	assert.Equal(t, corr.ID, resolved.ID)
}

// =============================================================================
// AUDIT TESTS
// =============================================================================

func TestRegistry_Mutations_AreAudited(t *testing.T) {
	// GIVEN: An upsert followed by a deactivation
	// WHEN: Reading the audit history
	// THEN: Field-level records exist with the acting principal

	registry, mem := newTestRegistry(t)
	ctx := context.Background()
	corr := mustUpsert(t, registry, "W-100", "4821", "Downtown")
	require.NoError(t, registry.Deactivate(ctx, "W-100", "ops-jane"))

	records, err := mem.AuditHistory(ctx, corr.ID, "", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	byField := make(map[string][]inventory.CorrelationAuditRecord)
	for _, rec := range records {
		byField[rec.FieldName] = append(byField[rec.FieldName], rec)
	}

	require.NotEmpty(t, byField["scheme_a_code"])
	assert.Equal(t, "", byField["scheme_a_code"][0].OldValue)
	assert.Equal(t, "W-100", byField["scheme_a_code"][0].NewValue)

	// Deactivation flips active true->false under the deactivating actor.
	activeRecs := byField["active"]
	require.NotEmpty(t, activeRecs)
	last := activeRecs[len(activeRecs)-1]
	assert.Equal(t, "true", last.OldValue)
	assert.Equal(t, "false", last.NewValue)
	assert.Equal(t, "ops-jane", last.ChangedBy)
}

func TestRegistry_Upsert_UnchangedFieldsNotAudited(t *testing.T) {
	// GIVEN: An existing correlation
	// WHEN: Re-upserting with only the display name changed
	// THEN: Only the changed field gets a new audit record

	registry, mem := newTestRegistry(t)
	ctx := context.Background()
	corr := mustUpsert(t, registry, "W-100", "4821", "Downtown")

	before, err := mem.AuditHistory(ctx, corr.ID, "scheme_a_code", 0, 0)
	require.NoError(t, err)

	_, err = registry.Upsert(ctx, inventory.StoreCorrelation{
		SchemeACode: "W-100",
		SchemeBCode: "4821",
		DisplayName: "Downtown Flagship",
	}, "test")
	require.NoError(t, err)

	after, err := mem.AuditHistory(ctx, corr.ID, "scheme_a_code", 0, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "unchanged field should not be re-audited")

	nameRecs, err := mem.AuditHistory(ctx, corr.ID, "display_name", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Downtown Flagship", nameRecs[len(nameRecs)-1].NewValue)
}

// =============================================================================
// SENTINEL TESTS
// =============================================================================

func TestSentinel_AlwaysResolvable(t *testing.T) {
	registry, _ := newTestRegistry(t)

	corr, err := registry.Resolve(context.Background(), inventory.UnassignedSchemeA, inventory.SchemeA)

	require.NoError(t, err)
	assert.Equal(t, inventory.UnassignedSchemeB, corr.SchemeBCode)
}
