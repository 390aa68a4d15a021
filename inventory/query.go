/*
query.go - Unified query/filtering layer across both identifier schemes

PURPOSE:
  Lets callers filter and aggregate by a store code of EITHER scheme.
  A caller-supplied code is resolved through the registry, then the filter
  carries BOTH schemes' representations of that store so the store layer
  builds an OR-condition spanning both item populations. Identical logical
  results come back regardless of which scheme the caller used.

ANALYTICS:
  UnifiedAnalytics merges event-log-derived counts with snapshot-derived
  financial figures for the same resolved store, and reports
  CorrelationHealth (fraction of items with derived state) so callers can
  detect degraded correlation coverage instead of silently trusting
  incomplete joins.

TIMEOUTS:
  Analytics over a large range run under a timeout and return a
  PartialResultError carrying whatever completed. No automatic retries;
  the computation is deterministic and idempotent, so retrying is the
  caller's call.

SEE ALSO:
  - registry.go: Code resolution
  - store.go: ItemStore/EventStore aggregation contracts
*/
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ITEM FILTER
// =============================================================================

// ItemFilter narrows item queries. When both store codes are set, store
// implementations match rows whose derived scheme-A store OR snapshot
// scheme-B home store points at the same resolved store.
type ItemFilter struct {
	StoreSchemeA string
	StoreSchemeB string
	Status       ItemStatus
	Manufacturer string
}

// =============================================================================
// QUERY LAYER
// =============================================================================

// DefaultAnalyticsTimeout bounds UnifiedAnalytics when no timeout is
// configured.
const DefaultAnalyticsTimeout = 10 * time.Second

// QueryLayer resolves scheme-transparent filters and computes unified
// analytics.
type QueryLayer struct {
	Registry *Registry
	Items    ItemStore
	Events   EventStore

	// AnalyticsTimeout bounds UnifiedAnalytics. Zero uses the default.
	AnalyticsTimeout time.Duration
}

// NewQueryLayer wires the layer over a combined store.
func NewQueryLayer(store Store, registry *Registry) *QueryLayer {
	return &QueryLayer{Registry: registry, Items: store, Events: store}
}

// ApplyStoreFilter resolves code through the registry and extends f with
// both schemes' representations of that store. Calling with a scheme-A
// code or its paired scheme-B code yields the same filter, hence the same
// result set.
func (q *QueryLayer) ApplyStoreFilter(ctx context.Context, f ItemFilter, code string, hint SchemeHint) (ItemFilter, error) {
	corr, err := q.Registry.Resolve(ctx, code, hint)
	if err != nil {
		return f, err
	}
	f.StoreSchemeA = corr.SchemeACode
	f.StoreSchemeB = corr.SchemeBCode
	return f, nil
}

// ListItems resolves the store code and returns the matching items.
func (q *QueryLayer) ListItems(ctx context.Context, code string, hint SchemeHint, f ItemFilter) ([]Item, error) {
	f, err := q.ApplyStoreFilter(ctx, f, code, hint)
	if err != nil {
		return nil, err
	}
	return q.Items.ListItems(ctx, f)
}

// =============================================================================
// UNIFIED ANALYTICS
// =============================================================================

// StoreAnalytics merges event-derived counts and snapshot-derived financial
// figures for one resolved store.
type StoreAnalytics struct {
	Store StoreCorrelation
	Range DateRange

	// Snapshot-derived.
	ItemCount        int
	ItemsWithState   int
	TotalSellValue   decimal.Decimal
	AverageSellPrice decimal.Decimal

	// Event-log-derived.
	EventCounts          map[EventType]int
	StatusChangingEvents int
	TouchEvents          int

	// CorrelationHealth is ItemsWithState/ItemCount (1.0 for empty stores).
	// Values well below 1.0 mean the derived-state join is degraded and
	// event-derived numbers should be treated with suspicion.
	CorrelationHealth float64

	// Partial is set when the query timed out; populated sections are
	// valid, missing ones are zero.
	Partial bool
}

// UnifiedAnalytics computes merged metrics for the store identified by code
// (either scheme) over the date range. On timeout it returns the partially
// filled result together with a PartialResultError.
func (q *QueryLayer) UnifiedAnalytics(ctx context.Context, code string, hint SchemeHint, rng DateRange) (*StoreAnalytics, error) {
	if !rng.Valid() {
		return nil, &ValidationError{Field: "range", Reason: "end before start"}
	}

	timeout := q.AnalyticsTimeout
	if timeout <= 0 {
		timeout = DefaultAnalyticsTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()

	corr, err := q.Registry.Resolve(ctx, code, hint)
	if err != nil {
		return nil, err
	}

	out := &StoreAnalytics{
		Store:       *corr,
		Range:       rng,
		EventCounts: make(map[EventType]int),
	}
	filter := ItemFilter{StoreSchemeA: corr.SchemeACode, StoreSchemeB: corr.SchemeBCode}

	// Snapshot-derived figures.
	items, err := q.Items.ListItems(ctx, filter)
	if err != nil {
		return q.partial(out, started, err)
	}
	out.ItemCount = len(items)
	out.TotalSellValue = decimal.Zero
	for _, it := range items {
		out.TotalSellValue = out.TotalSellValue.Add(it.SellPrice)
		if it.HasDerivedState() {
			out.ItemsWithState++
		}
	}
	if out.ItemCount > 0 {
		out.AverageSellPrice = out.TotalSellValue.Div(decimal.NewFromInt(int64(out.ItemCount))).Round(2)
		out.CorrelationHealth = float64(out.ItemsWithState) / float64(out.ItemCount)
	} else {
		out.CorrelationHealth = 1.0
	}

	// Event-log-derived figures.
	counts, err := q.Events.EventCountsByType(ctx, filter, rng)
	if err != nil {
		return q.partial(out, started, err)
	}
	for t, n := range counts {
		out.EventCounts[t] = n
		changes, cerr := IsStatusChanging(t)
		if cerr != nil {
			return nil, cerr
		}
		if changes {
			out.StatusChangingEvents += n
		} else {
			out.TouchEvents += n
		}
	}

	return out, nil
}

// partial converts a deadline failure into the documented partial-result
// contract; other errors pass through untouched.
func (q *QueryLayer) partial(out *StoreAnalytics, started time.Time, err error) (*StoreAnalytics, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		out.Partial = true
		return out, &PartialResultError{Elapsed: time.Since(started).Round(time.Millisecond).String(), Cause: err}
	}
	return nil, err
}
