package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func upsertCorr(t *testing.T, s *sqlite.Store, id, schemeA, schemeB, name string) {
	t.Helper()
	_, err := s.UpsertCorrelation(context.Background(), inventory.StoreCorrelation{
		ID:          id,
		SchemeACode: schemeA,
		SchemeBCode: schemeB,
		DisplayName: name,
		Active:      true,
	})
	require.NoError(t, err)
}

func seedItem(t *testing.T, s *sqlite.Store, id, homeB string, price int64, status inventory.ItemStatus, snapshotAt time.Time) {
	t.Helper()
	err := s.ReplaceFromBatch(context.Background(), inventory.Item{
		ID:               inventory.ItemID(id),
		CatalogID:        "CAT-1",
		SellPrice:        decimal.NewFromInt(price),
		Manufacturer:     "Acme",
		HomeStoreSchemeB: homeB,
		SnapshotStatus:   status,
		SnapshotLocation: "aisle-1",
		SnapshotAt:       snapshotAt,
	})
	require.NoError(t, err)
}

var testTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// CORRELATION TESTS
// =============================================================================

func TestSQLite_Sentinel_SeededOnMigration(t *testing.T) {
	store := newTestStore(t)

	corr, err := store.FindActive(context.Background(), inventory.SchemeA, inventory.UnassignedSchemeA)

	require.NoError(t, err)
	require.NotNil(t, corr)
	assert.Equal(t, inventory.UnassignedSchemeB, corr.SchemeBCode)
}

func TestSQLite_UpsertCorrelation_InsertThenUpdate(t *testing.T) {
	// GIVEN: A fresh correlation
	// WHEN: Upserting the same scheme-A code with new values
	// THEN: The first call inserts (nil prev), the second updates in place

	store := newTestStore(t)
	ctx := context.Background()

	prev, err := store.UpsertCorrelation(ctx, inventory.StoreCorrelation{
		ID: "corr-1", SchemeACode: "W-100", SchemeBCode: "4821", DisplayName: "Downtown", Active: true,
	})
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = store.UpsertCorrelation(ctx, inventory.StoreCorrelation{
		ID: "corr-ignored", SchemeACode: "W-100", SchemeBCode: "4821", DisplayName: "Downtown Flagship", Active: true,
	})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "corr-1", prev.ID)
	assert.Equal(t, "Downtown", prev.DisplayName)

	current, err := store.FindActive(ctx, inventory.SchemeA, "W-100")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "corr-1", current.ID, "update keeps row identity")
	assert.Equal(t, "Downtown Flagship", current.DisplayName)
}

func TestSQLite_UpsertCorrelation_DuplicateSchemeB_Rejected(t *testing.T) {
	store := newTestStore(t)
	upsertCorr(t, store, "corr-1", "W-100", "4821", "Downtown")

	_, err := store.UpsertCorrelation(context.Background(), inventory.StoreCorrelation{
		ID: "corr-2", SchemeACode: "W-200", SchemeBCode: "4821", DisplayName: "Impostor", Active: true,
	})

	require.Error(t, err)
	var dupErr *inventory.DuplicateCorrelationError
	assert.ErrorAs(t, err, &dupErr)
	assert.ErrorIs(t, err, inventory.ErrDuplicateCorrelation)

	// The losing write left nothing behind.
	corr, err := store.FindActive(context.Background(), inventory.SchemeA, "W-200")
	require.NoError(t, err)
	assert.Nil(t, corr)
}

func TestSQLite_Deactivate_FreesCodeForNewRow(t *testing.T) {
	// GIVEN: A deactivated correlation
	// WHEN: A new row claims the freed codes
	// THEN: The partial unique index only binds active rows

	store := newTestStore(t)
	ctx := context.Background()
	upsertCorr(t, store, "corr-1", "W-100", "4821", "Downtown")
	require.NoError(t, store.DeactivateCorrelation(ctx, "corr-1"))

	missing, err := store.FindActive(ctx, inventory.SchemeA, "W-100")
	require.NoError(t, err)
	assert.Nil(t, missing)

	upsertCorr(t, store, "corr-2", "W-100", "4821", "Successor")

	found, err := store.FindActive(ctx, inventory.SchemeB, "4821")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "corr-2", found.ID)

	all, err := store.ListCorrelations(ctx, true)
	require.NoError(t, err)
	active, err := store.ListCorrelations(ctx, false)
	require.NoError(t, err)
	assert.Greater(t, len(all), len(active), "inactive row survives")
}

// =============================================================================
// ITEM TESTS
// =============================================================================

func TestSQLite_ReplaceFromBatch_WipesDerivedColumns(t *testing.T) {
	// GIVEN: An item carrying derived state
	// WHEN: A batch replace lands
	// THEN: Batch columns updated, derived columns NULL again

	store := newTestStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "4821", 100, inventory.StatusAvailable, testTime)
	require.NoError(t, store.UpdateDerived(ctx, "item-1", "W-100", "dock", testTime.Add(time.Hour)))

	withDerived, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, withDerived.DerivedStoreSchemeA)

	seedItem(t, store, "item-1", "4821", 150, inventory.StatusInRepair, testTime.Add(2*time.Hour))

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, item.SellPrice.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, inventory.StatusInRepair, item.SnapshotStatus)
	assert.Nil(t, item.DerivedStoreSchemeA)
	assert.Nil(t, item.DerivedLocation)
	assert.Nil(t, item.LastCorrelationUpdate)
}

func TestSQLite_UpdateDerived_MissingItem(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateDerived(context.Background(), "ghost", "W-100", "dock", testTime)

	assert.ErrorIs(t, err, inventory.ErrItemNotFound)
}

func TestSQLite_ListItems_StoreFilterSpansBothSchemes(t *testing.T) {
	// GIVEN: One item attributed by home store (scheme-B) and one only by
	//        derived store (scheme-A)
	// WHEN: Filtering with both codes of the same store
	// THEN: Both items match via the OR-condition

	store := newTestStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-by-home", "4821", 100, inventory.StatusAvailable, testTime)
	seedItem(t, store, "item-by-derived", "9999", 200, inventory.StatusAvailable, testTime)
	require.NoError(t, store.UpdateDerived(ctx, "item-by-derived", "W-100", "dock", testTime))
	seedItem(t, store, "item-elsewhere", "7777", 300, inventory.StatusAvailable, testTime)

	items, err := store.ListItems(ctx, inventory.ItemFilter{StoreSchemeA: "W-100", StoreSchemeB: "4821"})

	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = string(it.ID)
	}
	assert.ElementsMatch(t, []string{"item-by-home", "item-by-derived"}, ids)

	total, withDerived, err := store.CountItems(ctx, inventory.ItemFilter{StoreSchemeA: "W-100", StoreSchemeB: "4821"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, withDerived)
}

// =============================================================================
// PRESERVE/RESTORE TESTS
// =============================================================================

func TestSQLite_PreserveRestore_RoundTripAgainstRealNulling(t *testing.T) {
	// The full cycle against real SQL: preserve, whole-row replace (columns
	// go NULL), restore brings the exact values back.

	store := newTestStore(t)
	ctx := context.Background()
	derivedAt := testTime.Add(time.Hour)
	seedItem(t, store, "item-1", "4821", 100, inventory.StatusAvailable, testTime)
	require.NoError(t, store.UpdateDerived(ctx, "item-1", "W-100", "dock", derivedAt))

	n, err := store.PreserveCorrelationFields(ctx, []inventory.ItemID{"item-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seedItem(t, store, "item-1", "4821", 120, inventory.StatusAvailable, testTime.Add(2*time.Hour))

	n, err = store.RestoreCorrelationFields(ctx, []inventory.ItemID{"item-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, item.DerivedStoreSchemeA)
	assert.Equal(t, "W-100", *item.DerivedStoreSchemeA)
	require.NotNil(t, item.DerivedLocation)
	assert.Equal(t, "dock", *item.DerivedLocation)
	require.NotNil(t, item.LastCorrelationUpdate)
	assert.True(t, derivedAt.Equal(*item.LastCorrelationUpdate))
	assert.True(t, item.SellPrice.Equal(decimal.NewFromInt(120)), "batch refresh kept")
}

func TestSQLite_Restore_SpentHoldIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "4821", 100, inventory.StatusAvailable, testTime)
	require.NoError(t, store.UpdateDerived(ctx, "item-1", "W-100", "dock", testTime.Add(time.Hour)))

	_, err := store.PreserveCorrelationFields(ctx, []inventory.ItemID{"item-1"})
	require.NoError(t, err)
	n, err := store.RestoreCorrelationFields(ctx, []inventory.ItemID{"item-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Newer derived state must survive a replayed restore.
	newer := testTime.Add(5 * time.Hour)
	require.NoError(t, store.UpdateDerived(ctx, "item-1", "W-200", "bench", newer))

	n, err = store.RestoreCorrelationFields(ctx, []inventory.ItemID{"item-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "W-200", *item.DerivedStoreSchemeA)
}

func TestSQLite_Preserve_RearmsSpentHold(t *testing.T) {
	// A second preserve resets restored_at, arming the hold for the next
	// refresh cycle.
	store := newTestStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-1", "4821", 100, inventory.StatusAvailable, testTime)
	require.NoError(t, store.UpdateDerived(ctx, "item-1", "W-100", "dock", testTime.Add(time.Hour)))
	ids := []inventory.ItemID{"item-1"}

	_, err := store.PreserveCorrelationFields(ctx, ids)
	require.NoError(t, err)
	_, err = store.RestoreCorrelationFields(ctx, ids)
	require.NoError(t, err)

	// Second cycle.
	require.NoError(t, store.UpdateDerived(ctx, "item-1", "W-300", "yard", testTime.Add(2*time.Hour)))
	_, err = store.PreserveCorrelationFields(ctx, ids)
	require.NoError(t, err)
	seedItem(t, store, "item-1", "4821", 100, inventory.StatusAvailable, testTime.Add(3*time.Hour))

	n, err := store.RestoreCorrelationFields(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "W-300", *item.DerivedStoreSchemeA)
}

// =============================================================================
// EVENT TESTS
// =============================================================================

func TestSQLite_Events_OrderedByTimeThenSeq(t *testing.T) {
	// GIVEN: Events appended out of chronological order, two at one instant
	// WHEN: Reading the item's history
	// THEN: Ordered by event_at, seq breaking the tie

	store := newTestStore(t)
	ctx := context.Background()
	tie := testTime.Add(time.Hour)

	appendEv := func(at time.Time, status inventory.ItemStatus) int64 {
		seq, err := store.AppendEvent(ctx, inventory.ScanEvent{
			ItemID:         "item-1",
			Type:           inventory.EventCheckin,
			EventAt:        at,
			ReportedStore:  "W-100",
			ReportedStatus: status,
		})
		require.NoError(t, err)
		return seq
	}

	appendEv(testTime.Add(2*time.Hour), inventory.StatusAvailable)
	first := appendEv(tie, inventory.StatusInRepair)
	second := appendEv(tie, inventory.StatusAvailable)
	appendEv(testTime, inventory.StatusMissing)

	events, err := store.EventsForItem(ctx, "item-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.True(t, testTime.Equal(events[0].EventAt))
	assert.Equal(t, first, events[1].Seq)
	assert.Equal(t, second, events[2].Seq)
	assert.True(t, events[2].After(events[1]), "seq breaks the tie")
	assert.True(t, testTime.Add(2*time.Hour).Equal(events[3].EventAt))
}

func TestSQLite_Events_SinceFilterUsesLexicalTimeOrder(t *testing.T) {
	// Sub-second timestamps must survive the string comparison in SQL.
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.AppendEvent(ctx, inventory.ScanEvent{
			ItemID:  "item-1",
			Type:    inventory.EventTouch,
			EventAt: testTime.Add(time.Duration(i) * 250 * time.Millisecond),
		})
		require.NoError(t, err)
	}

	events, err := store.EventsForItem(ctx, "item-1", testTime.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.True(t, testTime.Add(500*time.Millisecond).Equal(events[0].EventAt))
}

func TestSQLite_AppendEvent_InvalidRejected(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendEvent(context.Background(), inventory.ScanEvent{
		ItemID:  "item-1",
		Type:    inventory.EventCheckout, // status-changing, no status given
		EventAt: testTime,
	})

	require.Error(t, err)
	var ve *inventory.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSQLite_EventSeqWatermarks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seq0, err := store.GlobalEventSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq0)

	for _, id := range []string{"item-a", "item-b", "item-a"} {
		_, err := store.AppendEvent(ctx, inventory.ScanEvent{
			ItemID: inventory.ItemID(id), Type: inventory.EventTouch, EventAt: testTime,
		})
		require.NoError(t, err)
	}

	global, err := store.GlobalEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), global)

	latestA, err := store.LatestEventSeq(ctx, "item-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latestA)

	pending, err := store.ItemsWithEventsSince(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []inventory.ItemID{"item-a", "item-b"}, pending)

	none, err := store.ItemsWithEventsSince(ctx, global)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_EventCountsByType_JoinsItemFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedItem(t, store, "item-in", "4821", 100, inventory.StatusAvailable, testTime)
	seedItem(t, store, "item-out", "9999", 100, inventory.StatusAvailable, testTime)

	events := []inventory.ScanEvent{
		{ItemID: "item-in", Type: inventory.EventCheckout, EventAt: testTime.Add(time.Hour), ReportedStatus: inventory.StatusCheckedOut},
		{ItemID: "item-in", Type: inventory.EventTouch, EventAt: testTime.Add(2 * time.Hour)},
		{ItemID: "item-out", Type: inventory.EventTouch, EventAt: testTime.Add(time.Hour)},
	}
	for _, ev := range events {
		_, err := store.AppendEvent(ctx, ev)
		require.NoError(t, err)
	}

	counts, err := store.EventCountsByType(ctx,
		inventory.ItemFilter{StoreSchemeB: "4821"},
		inventory.DateRange{From: testTime, To: testTime.Add(24 * time.Hour)})

	require.NoError(t, err)
	assert.Equal(t, 1, counts[inventory.EventCheckout])
	assert.Equal(t, 1, counts[inventory.EventTouch], "other store's touch excluded")
}

// =============================================================================
// AUDIT TESTS
// =============================================================================

func TestSQLite_AuditHistory_PagingAndFieldFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.AppendAudit(ctx, inventory.CorrelationAuditRecord{
			ID:        fmt.Sprintf("audit-%d", i),
			EntityID:  "corr-1",
			FieldName: "display_name",
			OldValue:  fmt.Sprintf("v%d", i),
			NewValue:  fmt.Sprintf("v%d", i+1),
			ChangedBy: "test",
			ChangedAt: testTime.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.AppendAudit(ctx, inventory.CorrelationAuditRecord{
		ID: "audit-other", EntityID: "corr-1", FieldName: "active",
		OldValue: "true", NewValue: "false", ChangedBy: "test",
		ChangedAt: testTime.Add(time.Hour),
	}))

	page, err := store.AuditHistory(ctx, "corr-1", "display_name", 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "audit-1", page[0].ID)
	assert.Equal(t, "audit-2", page[1].ID)

	all, err := store.AuditHistory(ctx, "corr-1", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	other, err := store.AuditHistory(ctx, "corr-2", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}
