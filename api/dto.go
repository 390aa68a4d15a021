/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// STORE CORRELATIONS
// =============================================================================

// StoreCorrelationDTO represents a store mapping in API responses.
type StoreCorrelationDTO struct {
	ID          string `json:"id"`
	SchemeACode string `json:"scheme_a_code"`
	SchemeBCode string `json:"scheme_b_code"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// UpsertStoreRequest creates or updates a correlation (keyed by scheme-A code).
type UpsertStoreRequest struct {
	SchemeACode string `json:"scheme_a_code"`
	SchemeBCode string `json:"scheme_b_code"`
	DisplayName string `json:"display_name"`
	Actor       string `json:"actor"`
}

func toCorrelationDTO(c inventory.StoreCorrelation) StoreCorrelationDTO {
	return StoreCorrelationDTO{
		ID:          c.ID,
		SchemeACode: c.SchemeACode,
		SchemeBCode: c.SchemeBCode,
		DisplayName: c.DisplayName,
		Active:      c.Active,
		CreatedAt:   fmtTimeDTO(c.CreatedAt),
		UpdatedAt:   fmtTimeDTO(c.UpdatedAt),
	}
}

// =============================================================================
// ITEMS AND DERIVED STATE
// =============================================================================

// ItemDTO represents an item row, both ownership groups included.
type ItemDTO struct {
	ID               string `json:"id"`
	CatalogID        string `json:"catalog_id"`
	SellPrice        string `json:"sell_price"`
	Manufacturer     string `json:"manufacturer"`
	HomeStoreSchemeB string `json:"home_store_scheme_b"`
	SnapshotStatus   string `json:"snapshot_status"`
	SnapshotLocation string `json:"snapshot_location"`
	SnapshotAt       string `json:"snapshot_at,omitempty"`

	DerivedStoreSchemeA   *string `json:"derived_store_scheme_a"`
	DerivedLocation       *string `json:"derived_location"`
	LastCorrelationUpdate *string `json:"last_correlation_update"`
}

// DerivedStateDTO is the reconciled true state of an item.
type DerivedStateDTO struct {
	ItemID             string `json:"item_id"`
	CurrentStatus      string `json:"current_status"`
	CurrentLocation    string `json:"current_location"`
	CurrentStoreScheme string `json:"current_store_scheme_a"`
	TrueLastActivity   string `json:"true_last_activity"`
	Source             string `json:"true_last_activity_source"`
}

// BatchItemRequest is a snapshot row from the batch-refresh collaborator.
// Batch-owned fields only; correlation fields are never accepted here.
type BatchItemRequest struct {
	ID               string `json:"id"`
	CatalogID        string `json:"catalog_id"`
	SellPrice        string `json:"sell_price"`
	Manufacturer     string `json:"manufacturer"`
	HomeStoreSchemeB string `json:"home_store_scheme_b"`
	SnapshotStatus   string `json:"snapshot_status"`
	SnapshotLocation string `json:"snapshot_location"`
	SnapshotAt       string `json:"snapshot_at"`
}

// PreserveRestoreRequest names the items a batch refresh is about to touch.
type PreserveRestoreRequest struct {
	ItemIDs []string `json:"item_ids"`
}

func toItemDTO(i inventory.Item) ItemDTO {
	dto := ItemDTO{
		ID:                  string(i.ID),
		CatalogID:           i.CatalogID,
		SellPrice:           i.SellPrice.String(),
		Manufacturer:        i.Manufacturer,
		HomeStoreSchemeB:    i.HomeStoreSchemeB,
		SnapshotStatus:      string(i.SnapshotStatus),
		SnapshotLocation:    i.SnapshotLocation,
		SnapshotAt:          fmtTimeDTO(i.SnapshotAt),
		DerivedStoreSchemeA: i.DerivedStoreSchemeA,
		DerivedLocation:     i.DerivedLocation,
	}
	if i.LastCorrelationUpdate != nil {
		s := fmtTimeDTO(*i.LastCorrelationUpdate)
		dto.LastCorrelationUpdate = &s
	}
	return dto
}

func toDerivedStateDTO(s inventory.DerivedItemState) DerivedStateDTO {
	return DerivedStateDTO{
		ItemID:             string(s.ItemID),
		CurrentStatus:      string(s.CurrentStatus),
		CurrentLocation:    s.CurrentLocation,
		CurrentStoreScheme: s.CurrentStoreScheme,
		TrueLastActivity:   fmtTimeDTO(s.TrueLastActivity),
		Source:             string(s.Source),
	}
}

// =============================================================================
// SCAN EVENTS
// =============================================================================

// AppendEventRequest is a reader observation from the scan-ingestion
// collaborator.
type AppendEventRequest struct {
	Type             string `json:"type"`
	EventAt          string `json:"event_at"`
	ReportedStore    string `json:"reported_store"`
	ReportedLocation string `json:"reported_location"`
	ReportedStatus   string `json:"reported_status,omitempty"`
}

// EventDTO represents a scan event in API responses.
type EventDTO struct {
	Seq              int64  `json:"seq"`
	ItemID           string `json:"item_id"`
	Type             string `json:"type"`
	EventAt          string `json:"event_at"`
	ReportedStore    string `json:"reported_store"`
	ReportedLocation string `json:"reported_location"`
	ReportedStatus   string `json:"reported_status,omitempty"`
}

func toEventDTO(e inventory.ScanEvent) EventDTO {
	return EventDTO{
		Seq:              e.Seq,
		ItemID:           string(e.ItemID),
		Type:             string(e.Type),
		EventAt:          fmtTimeDTO(e.EventAt),
		ReportedStore:    e.ReportedStore,
		ReportedLocation: e.ReportedLocation,
		ReportedStatus:   string(e.ReportedStatus),
	}
}

// =============================================================================
// ANALYTICS
// =============================================================================

// AnalyticsDTO merges event-derived counts with snapshot-derived figures.
type AnalyticsDTO struct {
	Store                StoreCorrelationDTO `json:"store"`
	From                 string              `json:"from"`
	To                   string              `json:"to"`
	ItemCount            int                 `json:"item_count"`
	ItemsWithState       int                 `json:"items_with_state"`
	TotalSellValue       decimal.Decimal     `json:"total_sell_value"`
	AverageSellPrice     decimal.Decimal     `json:"average_sell_price"`
	EventCounts          map[string]int      `json:"event_counts"`
	StatusChangingEvents int                 `json:"status_changing_events"`
	TouchEvents          int                 `json:"touch_events"`
	CorrelationHealth    float64             `json:"correlation_health"`
	Partial              bool                `json:"partial"`
}

func toAnalyticsDTO(a inventory.StoreAnalytics) AnalyticsDTO {
	counts := make(map[string]int, len(a.EventCounts))
	for t, n := range a.EventCounts {
		counts[string(t)] = n
	}
	return AnalyticsDTO{
		Store:                toCorrelationDTO(a.Store),
		From:                 fmtTimeDTO(a.Range.From),
		To:                   fmtTimeDTO(a.Range.To),
		ItemCount:            a.ItemCount,
		ItemsWithState:       a.ItemsWithState,
		TotalSellValue:       a.TotalSellValue,
		AverageSellPrice:     a.AverageSellPrice,
		EventCounts:          counts,
		StatusChangingEvents: a.StatusChangingEvents,
		TouchEvents:          a.TouchEvents,
		CorrelationHealth:    a.CorrelationHealth,
		Partial:              a.Partial,
	}
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditRecordDTO represents one field-level change.
type AuditRecordDTO struct {
	ID        string `json:"id"`
	EntityID  string `json:"entity_id"`
	FieldName string `json:"field_name"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	ChangedBy string `json:"changed_by"`
	ChangedAt string `json:"changed_at"`
}

func toAuditDTO(r inventory.CorrelationAuditRecord) AuditRecordDTO {
	return AuditRecordDTO{
		ID:        r.ID,
		EntityID:  r.EntityID,
		FieldName: r.FieldName,
		OldValue:  r.OldValue,
		NewValue:  r.NewValue,
		ChangedBy: r.ChangedBy,
		ChangedAt: fmtTimeDTO(r.ChangedAt),
	}
}

func fmtTimeDTO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
