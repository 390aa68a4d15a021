/*
handlers.go - HTTP API handlers for the reconciliation core

PURPOSE:
  Exposes the correlation/reconciliation engine to its external
  collaborators via REST. Handles HTTP request/response and JSON
  serialization, delegating all semantics to the inventory package.

COLLABORATORS AND THEIR ROUTES:
  Administrative (store-config UI):
    GET    /api/stores                       List correlations
    POST   /api/stores                       Upsert correlation
    POST   /api/stores/{code}/deactivate     Deactivate correlation
    GET    /api/stores/resolve               Resolve a code of either scheme

  Reporting/dashboards (read-only):
    GET    /api/items                        Filter items by store code
    GET    /api/items/{id}                   Item row
    GET    /api/items/{id}/state             Derived state (?fresh=1 bypasses memo)
    GET    /api/analytics/{code}             Unified analytics
    GET    /api/audit/{entityID}             Correlation audit history

  Scan ingestion:
    POST   /api/items/{id}/events            Append a scan event
    GET    /api/items/{id}/events            Event history

  Batch refresh:
    POST   /api/batch/preserve               Pre-refresh hook
    POST   /api/batch/items                  Snapshot row write (whole-row)
    POST   /api/batch/restore                Post-refresh hook

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown store code or item
  - 409: Duplicate correlation, ambiguous store code
  - 422: Ownership violation
  - 504: Partial result (analytics timeout); body carries the partial data
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      inventory.Store
	Registry   *inventory.Registry
	Compat     *inventory.BatchCompat
	Reconciler *inventory.Reconciler
	Query      *inventory.QueryLayer
	Audit      *inventory.AuditWriter
	Log        *logrus.Logger
}

// NewHandler wires the full service stack over a store.
func NewHandler(store inventory.Store, cfg inventory.ReconcilerConfig, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	registry := inventory.NewRegistry(store, store)
	guard := inventory.NewGuard(log)
	cache := inventory.NewMemoCache(cfg.MemoTTL)
	return &Handler{
		Store:      store,
		Registry:   registry,
		Compat:     inventory.NewBatchCompat(store, log),
		Reconciler: inventory.NewReconciler(store, registry, guard, cache, cfg),
		Query:      inventory.NewQueryLayer(store, registry),
		Audit:      &inventory.AuditWriter{Log: store},
		Log:        log,
	}
}

// =============================================================================
// STORE CORRELATION HANDLERS
// =============================================================================

// ListStores returns correlations; ?include_inactive=1 adds deactivated rows.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "1"
	stores, err := h.Registry.List(r.Context(), includeInactive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list stores", err)
		return
	}
	dtos := make([]StoreCorrelationDTO, len(stores))
	for i, s := range stores {
		dtos[i] = toCorrelationDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertStore creates or updates a correlation.
func (h *Handler) UpsertStore(w http.ResponseWriter, r *http.Request) {
	var req UpsertStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	corr, err := h.Registry.Upsert(r.Context(), inventory.StoreCorrelation{
		SchemeACode: req.SchemeACode,
		SchemeBCode: req.SchemeBCode,
		DisplayName: req.DisplayName,
	}, actorOr(req.Actor, "admin-api"))
	if err != nil {
		writeDomainError(w, "Failed to upsert store", err)
		return
	}
	writeJSON(w, http.StatusOK, toCorrelationDTO(*corr))
}

// DeactivateStore soft-deactivates a correlation. Idempotent.
func (h *Handler) DeactivateStore(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	actor := actorOr(r.URL.Query().Get("actor"), "admin-api")
	if err := h.Registry.Deactivate(r.Context(), code, actor); err != nil {
		writeDomainError(w, "Failed to deactivate store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "code": code})
}

// ResolveStore resolves a code of either scheme.
func (h *Handler) ResolveStore(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing code parameter", nil)
		return
	}
	corr, err := h.Registry.Resolve(r.Context(), code, schemeHint(r))
	if err != nil {
		writeDomainError(w, "Failed to resolve store code", err)
		return
	}
	writeJSON(w, http.StatusOK, toCorrelationDTO(*corr))
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems filters items by a store code of either scheme.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("store")
	filter := inventory.ItemFilter{
		Status:       inventory.ItemStatus(r.URL.Query().Get("status")),
		Manufacturer: r.URL.Query().Get("manufacturer"),
	}

	var (
		items []inventory.Item
		err   error
	)
	if code != "" {
		items, err = h.Query.ListItems(r.Context(), code, schemeHint(r), filter)
	} else {
		items, err = h.Store.ListItems(r.Context(), filter)
	}
	if err != nil {
		writeDomainError(w, "Failed to list items", err)
		return
	}

	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetItem returns a single item row.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	item, err := h.Store.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get item", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Item not found", inventory.ErrItemNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// GetItemState returns the reconciled derived state. ?fresh=1 bypasses the
// memo cache for callers needing guaranteed freshness.
func (h *Handler) GetItemState(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))

	var (
		state *inventory.DerivedItemState
		err   error
	)
	if r.URL.Query().Get("fresh") == "1" {
		state, err = h.Reconciler.ReconcileFresh(r.Context(), id)
	} else {
		state, err = h.Reconciler.Reconcile(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, "Failed to reconcile item state", err)
		return
	}
	writeJSON(w, http.StatusOK, toDerivedStateDTO(*state))
}

// =============================================================================
// SCAN EVENT HANDLERS
// =============================================================================

// AppendEvent records a reader observation. The event log is append-only;
// this is the only write the ingestion collaborator gets.
func (h *Handler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))

	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	eventAt, err := time.Parse(time.RFC3339, req.EventAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event_at timestamp", err)
		return
	}

	ev := inventory.ScanEvent{
		ItemID:           id,
		Type:             inventory.EventType(req.Type),
		EventAt:          eventAt,
		ReportedStore:    req.ReportedStore,
		ReportedLocation: req.ReportedLocation,
		ReportedStatus:   inventory.ItemStatus(req.ReportedStatus),
	}
	seq, err := h.Store.AppendEvent(r.Context(), ev)
	if err != nil {
		writeDomainError(w, "Failed to append scan event", err)
		return
	}
	ev.Seq = seq
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

// ListEvents returns the event history for an item.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	events, err := h.Store.EventsForItem(r.Context(), id, time.Time{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BATCH REFRESH HANDLERS
// =============================================================================

// PreserveBatch is the pre-refresh hook: snapshots correlation-owned fields
// for the named items before the upstream write replaces their rows.
func (h *Handler) PreserveBatch(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeItemIDs(w, r)
	if !ok {
		return
	}
	n, err := h.Compat.PreserveBeforeBatchRefresh(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to preserve correlation fields", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"preserved": n})
}

// RestoreBatch is the post-refresh hook: writes held values back. Idempotent.
func (h *Handler) RestoreBatch(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeItemIDs(w, r)
	if !ok {
		return
	}
	n, err := h.Compat.RestoreAfterBatchRefresh(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to restore correlation fields", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"restored": n})
}

// UpsertBatchItem writes one snapshot row the way the upstream refresh
// does: the WHOLE row is replaced and correlation fields come back null.
// Callers are expected to bracket this with preserve/restore.
func (h *Handler) UpsertBatchItem(w http.ResponseWriter, r *http.Request) {
	var req BatchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Missing item id", nil)
		return
	}

	price, err := decimal.NewFromString(req.SellPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid sell_price", err)
		return
	}
	var snapshotAt time.Time
	if req.SnapshotAt != "" {
		snapshotAt, err = time.Parse(time.RFC3339, req.SnapshotAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid snapshot_at timestamp", err)
			return
		}
	}

	item := inventory.Item{
		ID:               inventory.ItemID(req.ID),
		CatalogID:        req.CatalogID,
		SellPrice:        price,
		Manufacturer:     req.Manufacturer,
		HomeStoreSchemeB: req.HomeStoreSchemeB,
		SnapshotStatus:   inventory.ItemStatus(req.SnapshotStatus),
		SnapshotLocation: req.SnapshotLocation,
		SnapshotAt:       snapshotAt,
	}
	if err := h.Store.ReplaceFromBatch(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to write batch item", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replaced", "id": req.ID})
}

// =============================================================================
// ANALYTICS AND AUDIT HANDLERS
// =============================================================================

// GetAnalytics returns unified metrics for a store code of either scheme.
// A timeout yields 504 with the partial result in the body.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	rng, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	analytics, err := h.Query.UnifiedAnalytics(r.Context(), code, schemeHint(r), rng)
	if err != nil {
		if errors.Is(err, inventory.ErrPartialResult) && analytics != nil {
			writeJSON(w, http.StatusGatewayTimeout, toAnalyticsDTO(*analytics))
			return
		}
		writeDomainError(w, "Failed to compute analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsDTO(*analytics))
}

// GetAuditHistory returns a page of correlation audit records.
func (h *Handler) GetAuditHistory(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	field := r.URL.Query().Get("field")
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.Audit.History(r.Context(), entityID, field, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audit history", err)
		return
	}
	dtos := make([]AuditRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func schemeHint(r *http.Request) inventory.SchemeHint {
	switch r.URL.Query().Get("scheme") {
	case "a", "scheme-a":
		return inventory.SchemeA
	case "b", "scheme-b":
		return inventory.SchemeB
	default:
		return inventory.SchemeAny
	}
}

func dateRange(r *http.Request) (inventory.DateRange, error) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return inventory.DateRange{}, err
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		return inventory.DateRange{}, err
	}
	return inventory.DateRange{From: from, To: to}, nil
}

func decodeItemIDs(w http.ResponseWriter, r *http.Request) ([]inventory.ItemID, bool) {
	var req PreserveRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	ids := make([]inventory.ItemID, len(req.ItemIDs))
	for i, id := range req.ItemIDs {
		ids[i] = inventory.ItemID(id)
	}
	return ids, true
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case inventory.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case errors.Is(err, inventory.ErrDuplicateCorrelation),
		errors.Is(err, inventory.ErrAmbiguousStoreCode):
		writeError(w, http.StatusConflict, msg, err)
	case errors.Is(err, inventory.ErrOwnershipViolation):
		writeError(w, http.StatusUnprocessableEntity, msg, err)
	case inventory.IsClientError(err):
		writeError(w, http.StatusBadRequest, msg, err)
	default:
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
