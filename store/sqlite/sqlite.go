/*
Package sqlite provides the SQLite-backed implementation of inventory.Store.

PURPOSE:
  Implements all persistence interfaces (CorrelationStore, ItemStore,
  EventStore, AuditLog) using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  store_correlations: Scheme-A <-> scheme-B store mappings (soft-deactivated)
  items:              Jointly-owned item rows (batch + correlation columns)
  scan_events:        Immutable reader event log
  correlation_holds:  Preserve/restore staging around batch refreshes
  correlation_audit:  Immutable field-level change log

INVARIANT ENFORCEMENT:
  Partial unique indexes serialize concurrent correlation upserts:
  - idx_correlations_active_a: one ACTIVE row per scheme-A code
  - idx_correlations_active_b: one ACTIVE row per scheme-B code
  The loser of a race hits the constraint and gets ErrDuplicateCorrelation.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for scan_events or correlation_audit.

PRESERVE/RESTORE:
  PreserveCorrelationFields and RestoreCorrelationFields each run in one
  database transaction per call. Holds carry restored_at so re-running a
  crashed restore is a no-op per item.

TIMESTAMPS:
  Stored as fixed-width UTC strings so lexical comparison matches
  chronological order, including sub-second precision.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
)

// timeLayout is fixed-width so stored strings sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements inventory.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema and seeds the sentinel correlation.
func (s *Store) migrate() error {
	schema := `
	-- Store correlations (soft-deactivated, never hard-deleted)
	CREATE TABLE IF NOT EXISTS store_correlations (
		id TEXT PRIMARY KEY,
		scheme_a_code TEXT NOT NULL,
		scheme_b_code TEXT NOT NULL,
		display_name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one ACTIVE correlation per code, per scheme.
	-- Concurrent upserts serialize on these; the loser gets a constraint
	-- failure mapped to ErrDuplicateCorrelation.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_correlations_active_a
		ON store_correlations(scheme_a_code) WHERE active = 1;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_correlations_active_b
		ON store_correlations(scheme_b_code) WHERE active = 1;

	-- Items (two writers: batch refresh owns master/snapshot columns,
	-- the correlation engine owns derived_* and last_correlation_update)
	CREATE TABLE IF NOT EXISTS items (
		item_id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL DEFAULT '',
		sell_price TEXT NOT NULL DEFAULT '0',
		manufacturer TEXT NOT NULL DEFAULT '',
		home_store_b TEXT NOT NULL DEFAULT '',
		snapshot_status TEXT NOT NULL DEFAULT '',
		snapshot_location TEXT NOT NULL DEFAULT '',
		snapshot_at TEXT,
		derived_store_a TEXT,
		derived_location TEXT,
		last_correlation_update TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_items_home_store
		ON items(home_store_b);
	CREATE INDEX IF NOT EXISTS idx_items_derived_store
		ON items(derived_store_a) WHERE derived_store_a IS NOT NULL;

	-- Scan events (append-only reader log)
	CREATE TABLE IF NOT EXISTS scan_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_at TEXT NOT NULL,
		reported_store TEXT NOT NULL DEFAULT '',
		reported_location TEXT NOT NULL DEFAULT '',
		reported_status TEXT NOT NULL DEFAULT ''
	);

	-- Hot path: per-item window scans for reconciliation
	CREATE INDEX IF NOT EXISTS idx_events_item_at
		ON scan_events(item_id, event_at, seq);
	CREATE INDEX IF NOT EXISTS idx_events_at
		ON scan_events(event_at);

	-- Preserve/restore staging around batch refreshes
	CREATE TABLE IF NOT EXISTS correlation_holds (
		item_id TEXT PRIMARY KEY,
		derived_store_a TEXT,
		derived_location TEXT,
		last_correlation_update TEXT,
		preserved_at TEXT NOT NULL,
		restored_at TEXT
	);

	-- Correlation audit trail (append-only)
	CREATE TABLE IF NOT EXISTS correlation_audit (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		changed_by TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON correlation_audit(entity_id, changed_at, id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// The legacy/unassigned sentinel pair always exists.
	sentinel := inventory.Sentinel()
	now := fmtTime(time.Now().UTC())
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO store_correlations
		(id, scheme_a_code, scheme_b_code, display_name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		sentinel.ID, sentinel.SchemeACode, sentinel.SchemeBCode, sentinel.DisplayName, now, now,
	)
	return err
}

// =============================================================================
// CORRELATION STORE (inventory.CorrelationStore interface)
// =============================================================================

// FindActive returns the active correlation claiming code in the scheme.
func (s *Store) FindActive(ctx context.Context, scheme inventory.SchemeHint, code string) (*inventory.StoreCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	column, err := schemeColumn(scheme)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, scheme_a_code, scheme_b_code, display_name, active, created_at, updated_at
		FROM store_correlations WHERE active = 1 AND `+column+` = ?`, code)

	corr, err := scanCorrelation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return corr, nil
}

func schemeColumn(scheme inventory.SchemeHint) (string, error) {
	switch scheme {
	case inventory.SchemeA:
		return "scheme_a_code", nil
	case inventory.SchemeB:
		return "scheme_b_code", nil
	default:
		return "", &inventory.ValidationError{Field: "scheme", Reason: "FindActive requires scheme-a or scheme-b"}
	}
}

// UpsertCorrelation inserts or updates the active row keyed by scheme_a_code,
// atomically. Returns the previous row (nil on insert).
func (s *Store) UpsertCorrelation(ctx context.Context, corr inventory.StoreCorrelation) (*inventory.StoreCorrelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := scanCorrelation(tx.QueryRowContext(ctx, `
		SELECT id, scheme_a_code, scheme_b_code, display_name, active, created_at, updated_at
		FROM store_correlations WHERE active = 1 AND scheme_a_code = ?`, corr.SchemeACode))
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == sql.ErrNoRows {
		prev = nil
	}

	// Another active row claiming the scheme-B code means the caller lost.
	prevID := ""
	if prev != nil {
		prevID = prev.ID
	}
	var claimed int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM store_correlations
		WHERE active = 1 AND scheme_b_code = ? AND id != ?`,
		corr.SchemeBCode, prevID,
	).Scan(&claimed)
	if err != nil {
		return nil, err
	}
	if claimed > 0 {
		return nil, &inventory.DuplicateCorrelationError{Scheme: inventory.SchemeB, Code: corr.SchemeBCode}
	}

	now := fmtTime(time.Now().UTC())
	if prev != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE store_correlations
			SET scheme_b_code = ?, display_name = ?, active = 1, updated_at = ?
			WHERE id = ?`,
			corr.SchemeBCode, corr.DisplayName, now, prev.ID,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_correlations
			(id, scheme_a_code, scheme_b_code, display_name, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			corr.ID, corr.SchemeACode, corr.SchemeBCode, corr.DisplayName, now, now,
		)
	}
	if err != nil {
		// Backstop for races the pre-checks missed: the partial unique
		// indexes serialize concurrent upserts.
		if isUniqueConstraintError(err) {
			return nil, &inventory.DuplicateCorrelationError{Scheme: inventory.SchemeB, Code: corr.SchemeBCode}
		}
		return nil, fmt.Errorf("failed to upsert correlation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueConstraintError(err) {
			return nil, &inventory.DuplicateCorrelationError{Scheme: inventory.SchemeB, Code: corr.SchemeBCode}
		}
		return nil, err
	}
	return prev, nil
}

// DeactivateCorrelation flips a row inactive. Idempotent.
func (s *Store) DeactivateCorrelation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE store_correlations SET active = 0, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now().UTC()), id,
	)
	return err
}

// ListCorrelations returns correlations ordered by display name.
func (s *Store) ListCorrelations(ctx context.Context, includeInactive bool) ([]inventory.StoreCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, scheme_a_code, scheme_b_code, display_name, active, created_at, updated_at
		FROM store_correlations`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY display_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.StoreCorrelation
	for rows.Next() {
		corr, err := scanCorrelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *corr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorrelation(row rowScanner) (*inventory.StoreCorrelation, error) {
	var (
		corr                 inventory.StoreCorrelation
		active               int
		createdAt, updatedAt string
	)
	err := row.Scan(&corr.ID, &corr.SchemeACode, &corr.SchemeBCode, &corr.DisplayName,
		&active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	corr.Active = active == 1
	corr.CreatedAt = parseTime(createdAt)
	corr.UpdatedAt = parseTime(updatedAt)
	return &corr, nil
}

// =============================================================================
// ITEM STORE (inventory.ItemStore interface)
// =============================================================================

const itemColumns = `item_id, catalog_id, sell_price, manufacturer, home_store_b,
	snapshot_status, snapshot_location, snapshot_at,
	derived_store_a, derived_location, last_correlation_update`

// GetItem returns the item or nil.
func (s *Store) GetItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE item_id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns items matching the filter, ordered by ID.
func (s *Store) ListItems(ctx context.Context, f inventory.ItemFilter) ([]inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := itemWhere(f, "")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE `+where+` ORDER BY item_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// CountItems returns total matches and how many carry derived state.
func (s *Store) CountItems(ctx context.Context, f inventory.ItemFilter) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := itemWhere(f, "")
	var total, withDerived int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN last_correlation_update IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM items WHERE `+where, args...,
	).Scan(&total, &withDerived)
	return total, withDerived, err
}

// ReplaceFromBatch replaces the whole row with batch data, nulling the
// correlation-owned columns exactly like the upstream refresh does.
func (s *Store) ReplaceFromBatch(ctx context.Context, item inventory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshotAt any
	if !item.SnapshotAt.IsZero() {
		snapshotAt = fmtTime(item.SnapshotAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO items
		(item_id, catalog_id, sell_price, manufacturer, home_store_b,
		 snapshot_status, snapshot_location, snapshot_at,
		 derived_store_a, derived_location, last_correlation_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL)`,
		item.ID, item.CatalogID, item.SellPrice.String(), item.Manufacturer,
		item.HomeStoreSchemeB, item.SnapshotStatus, item.SnapshotLocation, snapshotAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace item from batch: %w", err)
	}
	return nil
}

// UpdateDerived writes only the correlation-owned columns.
func (s *Store) UpdateDerived(ctx context.Context, id inventory.ItemID, storeSchemeA, location string, lastActivity time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET derived_store_a = ?, derived_location = ?, last_correlation_update = ?
		WHERE item_id = ?`,
		storeSchemeA, location, fmtTime(lastActivity), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update derived state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return inventory.ErrItemNotFound
	}
	return nil
}

// PreserveCorrelationFields snapshots correlation-owned values into the
// holding area, one transaction per call. Re-preserving replaces the hold.
func (s *Store) PreserveCorrelationFields(ctx context.Context, ids []inventory.ItemID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders, args := idArgs(ids)
	now := fmtTime(time.Now().UTC())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO correlation_holds
		(item_id, derived_store_a, derived_location, last_correlation_update, preserved_at, restored_at)
		SELECT item_id, derived_store_a, derived_location, last_correlation_update, ?, NULL
		FROM items WHERE item_id IN (`+placeholders+`)
		ON CONFLICT(item_id) DO UPDATE SET
			derived_store_a = excluded.derived_store_a,
			derived_location = excluded.derived_location,
			last_correlation_update = excluded.last_correlation_update,
			preserved_at = excluded.preserved_at,
			restored_at = NULL`,
		append([]any{now}, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to preserve correlation fields: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

// RestoreCorrelationFields writes held values back, one transaction per
// call. Items without an unrestored hold are skipped.
func (s *Store) RestoreCorrelationFields(ctx context.Context, ids []inventory.ItemID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders, args := idArgs(ids)
	rows, err := tx.QueryContext(ctx, `
		SELECT item_id, derived_store_a, derived_location, last_correlation_update
		FROM correlation_holds
		WHERE restored_at IS NULL AND item_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}

	type hold struct {
		id                     inventory.ItemID
		storeA, location, last sql.NullString
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.id, &h.storeA, &h.location, &h.last); err != nil {
			rows.Close()
			return 0, err
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	restored := 0
	now := fmtTime(time.Now().UTC())
	for _, h := range holds {
		res, err := tx.ExecContext(ctx, `
			UPDATE items
			SET derived_store_a = ?, derived_location = ?, last_correlation_update = ?
			WHERE item_id = ?`,
			nullable(h.storeA), nullable(h.location), nullable(h.last), h.id,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to restore correlation fields: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE correlation_holds SET restored_at = ? WHERE item_id = ?`, now, h.id); err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			restored++
		}
	}

	return restored, tx.Commit()
}

func scanItem(row rowScanner) (*inventory.Item, error) {
	var (
		item                             inventory.Item
		sellPrice                        string
		snapshotAt                       sql.NullString
		derivedStore, derivedLoc, lastUp sql.NullString
	)
	err := row.Scan(&item.ID, &item.CatalogID, &sellPrice, &item.Manufacturer,
		&item.HomeStoreSchemeB, &item.SnapshotStatus, &item.SnapshotLocation, &snapshotAt,
		&derivedStore, &derivedLoc, &lastUp)
	if err != nil {
		return nil, err
	}

	item.SellPrice, _ = decimal.NewFromString(sellPrice)
	if snapshotAt.Valid {
		item.SnapshotAt = parseTime(snapshotAt.String)
	}
	if derivedStore.Valid {
		v := derivedStore.String
		item.DerivedStoreSchemeA = &v
	}
	if derivedLoc.Valid {
		v := derivedLoc.String
		item.DerivedLocation = &v
	}
	if lastUp.Valid {
		t := parseTime(lastUp.String)
		item.LastCorrelationUpdate = &t
	}
	return &item, nil
}

// itemWhere builds the filter clause. Both scheme codes set means the
// OR-condition across the two item populations; prefix qualifies columns
// for joined queries.
func itemWhere(f inventory.ItemFilter, prefix string) (string, []any) {
	conds := []string{"1=1"}
	var args []any

	var storeOr []string
	if f.StoreSchemeA != "" {
		storeOr = append(storeOr, prefix+"derived_store_a = ?")
		args = append(args, f.StoreSchemeA)
	}
	if f.StoreSchemeB != "" {
		storeOr = append(storeOr, prefix+"home_store_b = ?")
		args = append(args, f.StoreSchemeB)
	}
	if len(storeOr) > 0 {
		conds = append(conds, "("+strings.Join(storeOr, " OR ")+")")
	}
	if f.Status != "" {
		conds = append(conds, prefix+"snapshot_status = ?")
		args = append(args, f.Status)
	}
	if f.Manufacturer != "" {
		conds = append(conds, prefix+"manufacturer = ?")
		args = append(args, f.Manufacturer)
	}
	return strings.Join(conds, " AND "), args
}

// =============================================================================
// EVENT STORE (inventory.EventStore interface) - Append-only
// =============================================================================

// AppendEvent persists an event and returns its insertion sequence.
// This is the ONLY write path for scan_events; there is no update or delete.
func (s *Store) AppendEvent(ctx context.Context, ev inventory.ScanEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_events
		(item_id, event_type, event_at, reported_store, reported_location, reported_status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ItemID, ev.Type, fmtTime(ev.EventAt),
		ev.ReportedStore, ev.ReportedLocation, ev.ReportedStatus,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append scan event: %w", err)
	}
	return res.LastInsertId()
}

// EventsForItem returns events ordered by event_at then seq.
func (s *Store) EventsForItem(ctx context.Context, id inventory.ItemID, since time.Time) ([]inventory.ScanEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT seq, item_id, event_type, event_at, reported_store, reported_location, reported_status
		FROM scan_events WHERE item_id = ?`
	args := []any{id}
	if !since.IsZero() {
		query += ` AND event_at >= ?`
		args = append(args, fmtTime(since))
	}
	query += ` ORDER BY event_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.ScanEvent
	for rows.Next() {
		var (
			ev      inventory.ScanEvent
			eventAt string
		)
		if err := rows.Scan(&ev.Seq, &ev.ItemID, &ev.Type, &eventAt,
			&ev.ReportedStore, &ev.ReportedLocation, &ev.ReportedStatus); err != nil {
			return nil, err
		}
		ev.EventAt = parseTime(eventAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestEventSeq returns the newest sequence for an item, 0 if none.
func (s *Store) LatestEventSeq(ctx context.Context, id inventory.ItemID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM scan_events WHERE item_id = ?`, id,
	).Scan(&seq)
	return seq, err
}

// GlobalEventSeq returns the newest sequence across all items.
func (s *Store) GlobalEventSeq(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM scan_events`,
	).Scan(&seq)
	return seq, err
}

// ItemsWithEventsSince returns distinct item IDs with events after seq.
func (s *Store) ItemsWithEventsSince(ctx context.Context, seq int64) ([]inventory.ItemID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT item_id FROM scan_events WHERE seq > ? ORDER BY item_id`, seq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.ItemID
	for rows.Next() {
		var id inventory.ItemID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EventCountsByType aggregates event counts for items matching the filter.
func (s *Store) EventCountsByType(ctx context.Context, f inventory.ItemFilter, rng inventory.DateRange) (map[inventory.EventType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := itemWhere(f, "i.")
	query := `
		SELECT e.event_type, COUNT(*)
		FROM scan_events e
		JOIN items i ON i.item_id = e.item_id
		WHERE ` + where + ` AND e.event_at >= ? AND e.event_at <= ?
		GROUP BY e.event_type`
	args = append(args, fmtTime(rng.From), fmtTime(rng.To))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[inventory.EventType]int)
	for rows.Next() {
		var (
			t inventory.EventType
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// =============================================================================
// AUDIT LOG (inventory.AuditLog interface) - Append-only
// =============================================================================

// AppendAudit persists one audit record. No update or delete exists.
func (s *Store) AppendAudit(ctx context.Context, rec inventory.CorrelationAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlation_audit
		(id, entity_id, field_name, old_value, new_value, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, rec.FieldName, rec.OldValue, rec.NewValue,
		rec.ChangedBy, fmtTime(rec.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AuditHistory returns a page of records ordered by changed_at then id.
func (s *Store) AuditHistory(ctx context.Context, entityID, fieldName string, offset, limit int) ([]inventory.CorrelationAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entity_id, field_name, old_value, new_value, changed_by, changed_at
		FROM correlation_audit WHERE entity_id = ?`
	args := []any{entityID}
	if fieldName != "" {
		query += ` AND field_name = ?`
		args = append(args, fieldName)
	}
	if limit <= 0 {
		limit = -1 // unbounded
	}
	query += ` ORDER BY changed_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.CorrelationAuditRecord
	for rows.Next() {
		var (
			rec       inventory.CorrelationAuditRecord
			changedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.FieldName,
			&rec.OldValue, &rec.NewValue, &rec.ChangedBy, &changedAt); err != nil {
			return nil, err
		}
		rec.ChangedAt = parseTime(changedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate RFC3339 strings written by older tooling.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullable(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func idArgs(ids []inventory.ItemID) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
