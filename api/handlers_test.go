package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/api"
	"github.com/warp/inventory-engine/inventory"
	memstore "github.com/warp/inventory-engine/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Memory) {
	t.Helper()
	mem := memstore.NewMemory()
	handler := api.NewHandler(mem, inventory.ReconcilerConfig{}, nil)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, mem
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

var apiTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func createStore(t *testing.T, srv *httptest.Server, schemeA, schemeB, name string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/stores", map[string]string{
		"scheme_a_code": schemeA,
		"scheme_b_code": schemeB,
		"display_name":  name,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func createItem(t *testing.T, srv *httptest.Server, id, homeB string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/batch/items", map[string]string{
		"id":                  id,
		"catalog_id":          "CAT-1",
		"sell_price":          "149.99",
		"manufacturer":        "Acme",
		"home_store_scheme_b": homeB,
		"snapshot_status":     "available",
		"snapshot_location":   "aisle-3",
		"snapshot_at":         apiTime.Format(time.RFC3339),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// STORE ENDPOINT TESTS
// =============================================================================

func TestAPI_StoreLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")

	// Resolve by either scheme.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/stores/resolve?code=4821", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	corr := decode[map[string]any](t, resp)
	assert.Equal(t, "W-100", corr["scheme_a_code"])
	assert.Equal(t, "Downtown", corr["display_name"])

	// Deactivate, then resolution misses.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/stores/W-100/deactivate", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/stores/resolve?code=W-100", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DuplicateCorrelation_Conflict(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/stores", map[string]string{
		"scheme_a_code": "W-200",
		"scheme_b_code": "4821",
		"display_name":  "Impostor",
	})
	resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_AmbiguousCode_Conflict(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "77", "9001", "Store X")
	createStore(t, srv, "W-200", "77", "Store Y")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/stores/resolve?code=77", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A scheme hint disambiguates.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/stores/resolve?code=77&scheme=a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	corr := decode[map[string]any](t, resp)
	assert.Equal(t, "Store X", corr["display_name"])
}

func TestAPI_UpsertStore_MissingFields_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/stores", map[string]string{
		"scheme_a_code": "W-100",
	})
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ITEM AND EVENT ENDPOINT TESTS
// =============================================================================

func TestAPI_ScanEventAndDerivedState(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")
	createItem(t, srv, "item-1", "4821")

	// Append a checkout at the item's endpoint.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/items/item-1/events", map[string]string{
		"type":              "checkout",
		"event_at":          apiTime.Add(time.Hour).Format(time.RFC3339),
		"reported_store":    "W-100",
		"reported_location": "front-desk",
		"reported_status":   "checked-out",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ev := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), ev["seq"])

	// Derived state reflects the event.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/items/item-1/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[map[string]any](t, resp)
	assert.Equal(t, "checked-out", state["current_status"])
	assert.Equal(t, "W-100", state["current_store_scheme_a"])
	assert.Equal(t, "status-event", state["true_last_activity_source"])

	// Event history.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/items/item-1/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]map[string]any](t, resp)
	assert.Len(t, events, 1)
}

func TestAPI_AppendEvent_TouchWithStatus_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	createItem(t, srv, "item-1", "4821")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/items/item-1/events", map[string]string{
		"type":            "touch",
		"event_at":        apiTime.Format(time.RFC3339),
		"reported_status": "available",
	})
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetItemState_MissingItem_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/items/ghost/state", nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ListItems_ByStoreCodeOfEitherScheme(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")
	createItem(t, srv, "item-1", "4821")
	createItem(t, srv, "item-2", "4821")
	createItem(t, srv, "item-3", "9999")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/items?store=W-100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byA := decode[[]map[string]any](t, resp)
	assert.Len(t, byA, 2)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/items?store=4821&scheme=b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byB := decode[[]map[string]any](t, resp)
	assert.Equal(t, len(byA), len(byB))
}

// =============================================================================
// BATCH REFRESH ENDPOINT TESTS
// =============================================================================

func TestAPI_BatchPreserveRestoreFlow(t *testing.T) {
	srv, mem := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")
	createItem(t, srv, "item-1", "4821")

	// Persist derived state directly; the refresh hooks are what's under test.
	ctx := context.Background()
	require.NoError(t, mem.UpdateDerived(ctx, "item-1", "W-100", "dock", apiTime.Add(time.Hour)))

	ids := map[string][]string{"item_ids": {"item-1"}}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/batch/preserve", ids)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preserved := decode[map[string]int](t, resp)
	assert.Equal(t, 1, preserved["preserved"])

	// The refresh replaces the row and wipes derived columns.
	createItem(t, srv, "item-1", "4821")
	wiped, err := mem.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Nil(t, wiped.DerivedStoreSchemeA)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/batch/restore", ids)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	restored := decode[map[string]int](t, resp)
	assert.Equal(t, 1, restored["restored"])

	item, err := mem.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, item.DerivedStoreSchemeA)
	assert.Equal(t, "W-100", *item.DerivedStoreSchemeA)
}

// =============================================================================
// ANALYTICS AND AUDIT ENDPOINT TESTS
// =============================================================================

func TestAPI_Analytics(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")
	createItem(t, srv, "item-1", "4821")
	createItem(t, srv, "item-2", "4821")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/items/item-1/events", map[string]string{
		"type":            "checkout",
		"event_at":        apiTime.Add(time.Hour).Format(time.RFC3339),
		"reported_store":  "W-100",
		"reported_status": "checked-out",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	url := fmt.Sprintf("%s/api/analytics/4821?scheme=b&from=%s&to=%s",
		srv.URL,
		apiTime.Format(time.RFC3339),
		apiTime.Add(24*time.Hour).Format(time.RFC3339))
	resp = doJSON(t, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	analytics := decode[map[string]any](t, resp)

	assert.Equal(t, float64(2), analytics["item_count"])
	assert.Equal(t, "299.98", analytics["total_sell_value"])
	assert.Equal(t, float64(1), analytics["status_changing_events"])
	assert.Equal(t, false, analytics["partial"])
}

func TestAPI_Analytics_MissingRange_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/analytics/W-100", nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_AuditHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	createStore(t, srv, "W-100", "4821", "Downtown")

	resolveResp := doJSON(t, http.MethodGet, srv.URL+"/api/stores/resolve?code=W-100", nil)
	require.Equal(t, http.StatusOK, resolveResp.StatusCode)
	corr := decode[map[string]any](t, resolveResp)
	entityID := corr["id"].(string)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/audit/"+entityID+"?field=scheme_a_code", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decode[[]map[string]any](t, resp)
	require.NotEmpty(t, records)
	assert.Equal(t, "W-100", records[0]["new_value"])
}
