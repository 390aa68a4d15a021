// Package store provides an in-memory inventory.Store implementation
// (for testing/dev). The production implementation is store/sqlite.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	correlations []inventory.StoreCorrelation
	items        map[inventory.ItemID]inventory.Item
	events       []inventory.ScanEvent
	nextSeq      int64
	holds        map[inventory.ItemID]inventory.CorrelationHold
	audits       []inventory.CorrelationAuditRecord
}

func NewMemory() *Memory {
	m := &Memory{
		items: make(map[inventory.ItemID]inventory.Item),
		holds: make(map[inventory.ItemID]inventory.CorrelationHold),
	}
	// The sentinel pair always exists, mirroring the SQLite migration seed.
	sentinel := inventory.Sentinel()
	sentinel.CreatedAt = time.Now().UTC()
	sentinel.UpdatedAt = sentinel.CreatedAt
	m.correlations = append(m.correlations, sentinel)
	return m
}

// =============================================================================
// CORRELATION STORE
// =============================================================================

func (m *Memory) FindActive(_ context.Context, scheme inventory.SchemeHint, code string) (*inventory.StoreCorrelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActiveLocked(scheme, code), nil
}

func (m *Memory) findActiveLocked(scheme inventory.SchemeHint, code string) *inventory.StoreCorrelation {
	for i := range m.correlations {
		c := m.correlations[i]
		if !c.Active {
			continue
		}
		if (scheme == inventory.SchemeA && c.SchemeACode == code) ||
			(scheme == inventory.SchemeB && c.SchemeBCode == code) {
			out := c
			return &out
		}
	}
	return nil
}

func (m *Memory) UpsertCorrelation(_ context.Context, corr inventory.StoreCorrelation) (*inventory.StoreCorrelation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var prev *inventory.StoreCorrelation

	for i := range m.correlations {
		c := &m.correlations[i]
		if !c.Active {
			continue
		}
		if c.SchemeACode == corr.SchemeACode {
			cp := *c
			prev = &cp
			continue
		}
		// Another active row claiming either code loses us the race.
		if c.SchemeBCode == corr.SchemeBCode {
			return nil, &inventory.DuplicateCorrelationError{Scheme: inventory.SchemeB, Code: corr.SchemeBCode}
		}
	}

	if prev != nil {
		for i := range m.correlations {
			if m.correlations[i].ID == prev.ID {
				corr.ID = prev.ID
				corr.CreatedAt = prev.CreatedAt
				corr.UpdatedAt = now
				m.correlations[i] = corr
				return prev, nil
			}
		}
	}

	corr.CreatedAt = now
	corr.UpdatedAt = now
	m.correlations = append(m.correlations, corr)
	return nil, nil
}

func (m *Memory) DeactivateCorrelation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.correlations {
		if m.correlations[i].ID == id {
			m.correlations[i].Active = false
			m.correlations[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

func (m *Memory) ListCorrelations(_ context.Context, includeInactive bool) ([]inventory.StoreCorrelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.StoreCorrelation
	for _, c := range m.correlations {
		if c.Active || includeInactive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// =============================================================================
// ITEM STORE
// =============================================================================

func (m *Memory) GetItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	out := cloneItem(item)
	return &out, nil
}

func (m *Memory) ListItems(_ context.Context, f inventory.ItemFilter) ([]inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.Item
	for _, item := range m.items {
		if matchesFilter(item, f) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountItems(_ context.Context, f inventory.ItemFilter) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, withDerived := 0, 0
	for _, item := range m.items {
		if !matchesFilter(item, f) {
			continue
		}
		total++
		if item.HasDerivedState() {
			withDerived++
		}
	}
	return total, withDerived, nil
}

func (m *Memory) ReplaceFromBatch(_ context.Context, item inventory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Whole-row replace: correlation-owned fields come back null, exactly
	// like the upstream refresh behaves.
	item.DerivedStoreSchemeA = nil
	item.DerivedLocation = nil
	item.LastCorrelationUpdate = nil
	m.items[item.ID] = item
	return nil
}

func (m *Memory) UpdateDerived(_ context.Context, id inventory.ItemID, storeSchemeA, location string, lastActivity time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return inventory.ErrItemNotFound
	}
	item.DerivedStoreSchemeA = &storeSchemeA
	item.DerivedLocation = &location
	la := lastActivity
	item.LastCorrelationUpdate = &la
	m.items[id] = item
	return nil
}

func (m *Memory) PreserveCorrelationFields(_ context.Context, ids []inventory.ItemID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, id := range ids {
		item, ok := m.items[id]
		if !ok {
			continue
		}
		m.holds[id] = inventory.CorrelationHold{
			ItemID:                id,
			DerivedStoreSchemeA:   item.DerivedStoreSchemeA,
			DerivedLocation:       item.DerivedLocation,
			LastCorrelationUpdate: item.LastCorrelationUpdate,
			PreservedAt:           now,
		}
		n++
	}
	return n, nil
}

func (m *Memory) RestoreCorrelationFields(_ context.Context, ids []inventory.ItemID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, id := range ids {
		hold, ok := m.holds[id]
		if !ok || hold.RestoredAt != nil {
			continue // no hold or already restored: no-op
		}
		item, ok := m.items[id]
		if !ok {
			continue
		}
		item.DerivedStoreSchemeA = hold.DerivedStoreSchemeA
		item.DerivedLocation = hold.DerivedLocation
		item.LastCorrelationUpdate = hold.LastCorrelationUpdate
		m.items[id] = item
		hold.RestoredAt = &now
		m.holds[id] = hold
		n++
	}
	return n, nil
}

func cloneItem(item inventory.Item) inventory.Item {
	out := item
	if item.DerivedStoreSchemeA != nil {
		v := *item.DerivedStoreSchemeA
		out.DerivedStoreSchemeA = &v
	}
	if item.DerivedLocation != nil {
		v := *item.DerivedLocation
		out.DerivedLocation = &v
	}
	if item.LastCorrelationUpdate != nil {
		v := *item.LastCorrelationUpdate
		out.LastCorrelationUpdate = &v
	}
	return out
}

func matchesFilter(item inventory.Item, f inventory.ItemFilter) bool {
	if f.StoreSchemeA != "" || f.StoreSchemeB != "" {
		// OR across both schemes' representations of the store.
		matched := false
		if f.StoreSchemeA != "" && item.DerivedStoreSchemeA != nil && *item.DerivedStoreSchemeA == f.StoreSchemeA {
			matched = true
		}
		if f.StoreSchemeB != "" && item.HomeStoreSchemeB == f.StoreSchemeB {
			matched = true
		}
		if !matched {
			return false
		}
	}
	if f.Status != "" && item.SnapshotStatus != f.Status {
		return false
	}
	if f.Manufacturer != "" && item.Manufacturer != f.Manufacturer {
		return false
	}
	return true
}

// =============================================================================
// EVENT STORE - Append-only
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev inventory.ScanEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	ev.Seq = m.nextSeq
	m.events = append(m.events, ev)
	return ev.Seq, nil
}

func (m *Memory) EventsForItem(_ context.Context, id inventory.ItemID, since time.Time) ([]inventory.ScanEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.ScanEvent
	for _, ev := range m.events {
		if ev.ItemID != id {
			continue
		}
		if !since.IsZero() && ev.EventAt.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventAt.Equal(out[j].EventAt) {
			return out[i].EventAt.Before(out[j].EventAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *Memory) LatestEventSeq(_ context.Context, id inventory.ItemID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest int64
	for _, ev := range m.events {
		if ev.ItemID == id && ev.Seq > latest {
			latest = ev.Seq
		}
	}
	return latest, nil
}

func (m *Memory) GlobalEventSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextSeq, nil
}

func (m *Memory) ItemsWithEventsSince(_ context.Context, seq int64) ([]inventory.ItemID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[inventory.ItemID]bool)
	var out []inventory.ItemID
	for _, ev := range m.events {
		if ev.Seq > seq && !seen[ev.ItemID] {
			seen[ev.ItemID] = true
			out = append(out, ev.ItemID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) EventCountsByType(_ context.Context, f inventory.ItemFilter, rng inventory.DateRange) (map[inventory.EventType]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[inventory.EventType]int)
	for _, ev := range m.events {
		item, ok := m.items[ev.ItemID]
		if !ok || !matchesFilter(item, f) {
			continue
		}
		if !rng.Contains(ev.EventAt) {
			continue
		}
		counts[ev.Type]++
	}
	return counts, nil
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, rec inventory.CorrelationAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, rec)
	return nil
}

func (m *Memory) AuditHistory(_ context.Context, entityID, fieldName string, offset, limit int) ([]inventory.CorrelationAuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.CorrelationAuditRecord
	for _, rec := range m.audits {
		if rec.EntityID != entityID {
			continue
		}
		if fieldName != "" && rec.FieldName != fieldName {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ChangedAt.Before(out[j].ChangedAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
