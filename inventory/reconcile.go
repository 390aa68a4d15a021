/*
reconcile.go - Item state reconciliation engine

PURPOSE:
  Computes the TRUE current state of an item by merging the batch snapshot
  (periodically replaced, authoritative for master data) with the scan-event
  log (append-only, item-level). Not all events change status: a touch event
  confirms presence without altering rentable state, yet must still count as
  activity for staleness analytics.

ALGORITHM (per item):
  1. Load the snapshot row (status, location, snapshot timestamp).
  2. Load events with EventAt >= snapshot timestamp minus a bounded,
     configurable lookback window.
  3. Newest STATUS-CHANGING event in the window -> candidate status/location.
  4. Newest event of ANY type -> candidate activity timestamp.
  5. Status/location come from (3), or from the snapshot when no status
     event exists in the window or the snapshot is strictly newer (a manual
     upstream correction wins).
  6. TrueLastActivity = max(newest event, snapshot time), clamped so it
     never moves backward past the previously persisted value; the source
     tag records which source won.

TIE-BREAK:
  Events sharing an EventAt are ordered by insertion sequence; the larger
  sequence is treated as later. A snapshot tying a status event loses to
  the event.

CONCURRENCY:
  Reconcile is read-only and side-effect-free; safe under unbounded read
  concurrency. Results may be memoized in an explicit injected cache keyed
  by (itemID, latest event seq) with a short TTL; callers needing
  guaranteed freshness use ReconcileFresh.

SEE ALSO:
  - events.go: Status-changing classification
  - ownership.go: Guard applied when derived state is persisted
  - registry.go: Consulted when a store boundary matters
*/
package inventory

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// ReconcilerConfig carries the tunables. Zero values fall back to defaults.
type ReconcilerConfig struct {
	// LookbackWindow bounds the event scan below the snapshot timestamp.
	// Bounded for performance; events older than SnapshotAt-LookbackWindow
	// are invisible to status computation (the snapshot covers them).
	LookbackWindow time.Duration

	// MemoTTL bounds how long a memoized state may be served.
	MemoTTL time.Duration
}

const (
	DefaultLookbackWindow = 72 * time.Hour
	DefaultMemoTTL        = 30 * time.Second
)

func (c ReconcilerConfig) lookback() time.Duration {
	if c.LookbackWindow > 0 {
		return c.LookbackWindow
	}
	return DefaultLookbackWindow
}

// =============================================================================
// MEMO CACHE - Explicit, injected, never ambient
// =============================================================================

type memoKey struct {
	ItemID ItemID
	Seq    int64
}

type memoEntry struct {
	state   DerivedItemState
	expires time.Time
}

// MemoCache memoizes derived states keyed by (itemID, latest event seq).
// A new event changes the key, so stale states are never served for items
// that moved; the TTL covers snapshot refreshes, which do not bump the seq.
type MemoCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[memoKey]memoEntry
}

// NewMemoCache creates a cache with the given TTL (DefaultMemoTTL if zero).
func NewMemoCache(ttl time.Duration) *MemoCache {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	return &MemoCache{ttl: ttl, entries: make(map[memoKey]memoEntry)}
}

func (c *MemoCache) get(key memoKey) (DerivedItemState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return DerivedItemState{}, false
	}
	return e.state, true
}

func (c *MemoCache) put(key memoKey, state DerivedItemState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoEntry{state: state, expires: time.Now().Add(c.ttl)}
}

// Invalidate drops any memoized state for an item, regardless of seq.
func (c *MemoCache) Invalidate(id ItemID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.ItemID == id {
			delete(c.entries, key)
		}
	}
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler merges snapshot and event-log state. Construct with
// NewReconciler; the cache is optional and explicitly injected so tests
// can supply a fresh one per case.
type Reconciler struct {
	Items    ItemStore
	Events   EventStore
	Registry *Registry
	Guard    *Guard
	Audit    *AuditWriter
	Cache    *MemoCache
	Config   ReconcilerConfig
}

// NewReconciler wires the engine.
func NewReconciler(store Store, registry *Registry, guard *Guard, cache *MemoCache, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		Items:    store,
		Events:   store,
		Registry: registry,
		Guard:    guard,
		Audit:    &AuditWriter{Log: store},
		Cache:    cache,
		Config:   cfg,
	}
}

// Reconcile returns the item's derived state, serving from the memo cache
// when the (itemID, latest event seq) key is fresh.
func (r *Reconciler) Reconcile(ctx context.Context, id ItemID) (*DerivedItemState, error) {
	latestSeq, err := r.Events.LatestEventSeq(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.Cache != nil {
		if state, ok := r.Cache.get(memoKey{ItemID: id, Seq: latestSeq}); ok {
			return &state, nil
		}
	}

	state, err := r.compute(ctx, id, latestSeq)
	if err != nil {
		return nil, err
	}
	if r.Cache != nil {
		r.Cache.put(memoKey{ItemID: id, Seq: latestSeq}, *state)
	}
	return state, nil
}

// ReconcileFresh bypasses the memo cache. Use right after recording a scan
// event when guaranteed freshness matters.
func (r *Reconciler) ReconcileFresh(ctx context.Context, id ItemID) (*DerivedItemState, error) {
	latestSeq, err := r.Events.LatestEventSeq(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.compute(ctx, id, latestSeq)
}

// compute is the pure merge. Missing snapshots and empty event windows are
// valid, well-defined states, never errors.
func (r *Reconciler) compute(ctx context.Context, id ItemID, latestSeq int64) (*DerivedItemState, error) {
	item, err := r.Items.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	var windowStart time.Time
	if !item.SnapshotAt.IsZero() {
		windowStart = item.SnapshotAt.Add(-r.Config.lookback())
	}
	events, err := r.Events.EventsForItem(ctx, id, windowStart)
	if err != nil {
		return nil, err
	}

	// Newest status-changing event and newest event of any type. Events
	// arrive ordered (EventAt, Seq), so the last match wins, which encodes
	// the larger-sequence tie-break.
	var lastStatus, lastAny *ScanEvent
	for i := range events {
		ev := events[i]
		changes, cerr := IsStatusChanging(ev.Type)
		if cerr != nil {
			return nil, cerr
		}
		lastAny = &events[i]
		if changes {
			lastStatus = &events[i]
		}
	}

	state := &DerivedItemState{ItemID: id, LatestEventSeq: latestSeq}

	// Status/location: the newest status event wins unless the snapshot is
	// STRICTLY newer (manual correction pushed upstream). Touch events are
	// never consulted here.
	snapshotWinsStatus := lastStatus == nil ||
		(!item.SnapshotAt.IsZero() && item.SnapshotAt.After(lastStatus.EventAt))
	if snapshotWinsStatus {
		state.CurrentStatus = item.SnapshotStatus
		state.CurrentLocation = item.SnapshotLocation
		state.CurrentStoreScheme = r.storeSchemeAFor(ctx, item.HomeStoreSchemeB)
	} else {
		state.CurrentStatus = lastStatus.ReportedStatus
		state.CurrentLocation = lastStatus.ReportedLocation
		state.CurrentStoreScheme = lastStatus.ReportedStore
		if state.CurrentStoreScheme == "" {
			state.CurrentStoreScheme = UnassignedSchemeA
		}
	}

	// True last activity: newest timestamp across ALL sources. A snapshot
	// tying an event loses to the event (events carry the tie-break).
	switch {
	case lastAny != nil && !item.SnapshotAt.After(lastAny.EventAt):
		state.TrueLastActivity = lastAny.EventAt
		if changes, _ := IsStatusChanging(lastAny.Type); changes {
			state.Source = SourceStatusEvent
		} else {
			state.Source = SourceTouchEvent
		}
	case !item.SnapshotAt.IsZero():
		state.TrueLastActivity = item.SnapshotAt
		state.Source = SourceBatchSnapshot
	case lastAny != nil:
		state.TrueLastActivity = lastAny.EventAt
		if changes, _ := IsStatusChanging(lastAny.Type); changes {
			state.Source = SourceStatusEvent
		} else {
			state.Source = SourceTouchEvent
		}
	}

	// Monotonic clamp: last activity never moves backward for an item, even
	// when an upstream correction regresses the snapshot timestamp.
	if item.LastCorrelationUpdate != nil && item.LastCorrelationUpdate.After(state.TrueLastActivity) {
		state.TrueLastActivity = *item.LastCorrelationUpdate
	}

	return state, nil
}

// storeSchemeAFor maps a scheme-B home store onto its scheme-A code.
// Unknown or ambiguous codes attribute the item to the sentinel store
// rather than failing a read.
func (r *Reconciler) storeSchemeAFor(ctx context.Context, schemeB string) string {
	if schemeB == "" || r.Registry == nil {
		return UnassignedSchemeA
	}
	corr, err := r.Registry.Resolve(ctx, schemeB, SchemeB)
	if err != nil {
		return UnassignedSchemeA
	}
	return corr.SchemeACode
}

// =============================================================================
// REFRESH - Persist derived state onto the correlation-owned columns
// =============================================================================

// RefreshItems recomputes and persists derived state for the given items,
// writing only correlation-owned fields (guarded) and auditing every
// change. Missing items are skipped; they may have been removed upstream
// between trigger and refresh.
func (r *Reconciler) RefreshItems(ctx context.Context, ids []ItemID, actor string) error {
	for _, field := range CorrelationOwnedFields() {
		if err := r.Guard.AssertWritable("items", field, OwnerCorrelation); err != nil {
			return err
		}
	}

	for _, id := range ids {
		item, err := r.Items.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}

		state, err := r.ReconcileFresh(ctx, id)
		if err != nil {
			return err
		}

		// Monotonic persistence: never write an older activity timestamp
		// than the one already on the row.
		if item.LastCorrelationUpdate != nil && item.LastCorrelationUpdate.After(state.TrueLastActivity) {
			state.TrueLastActivity = *item.LastCorrelationUpdate
		}

		if err := r.Items.UpdateDerived(ctx, id, state.CurrentStoreScheme, state.CurrentLocation, state.TrueLastActivity); err != nil {
			return err
		}
		if r.Cache != nil {
			r.Cache.Invalidate(id)
		}

		diffs := []FieldDiff{
			{Field: "derived_store_a", Old: strDeref(item.DerivedStoreSchemeA), New: state.CurrentStoreScheme},
			{Field: "derived_location", Old: strDeref(item.DerivedLocation), New: state.CurrentLocation},
			{Field: "last_correlation_update", Old: timeDeref(item.LastCorrelationUpdate), New: state.TrueLastActivity.UTC().Format(time.RFC3339)},
		}
		if err := r.Audit.RecordChanges(ctx, string(id), actor, diffs); err != nil {
			return err
		}
	}
	return nil
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeDeref(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
