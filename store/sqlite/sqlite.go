/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine and the habit host
  (TxStore, SpecStore, ItemFilter, ItemStore) on one SQLite database.

INTERFACES IMPLEMENTED:
  recurrence.TxStore:    Instance cache + completion log, transactional
  recurrence.SpecStore:  Current recurrence spec per item
  recurrence.ItemFilter: Active / archived items for the agenda
  habit.ItemStore:       Owning entities

KEY TABLES:
  items:            Owning entities (title, active flag)
  recurrence_specs: One spec per item
  instances:        Materialized occurrences, PK (item_id, occurrence_key)
  completion_log:   Completions, PK (item_id, occurrence_key)

  Every child table references items ON DELETE CASCADE, so deleting an item
  removes its spec, cache and history in one statement.

TIME COLUMNS:
  start_utc / end_utc are fixed-width "2006-01-02T15:04:05Z" strings so that
  string comparison is chronological. Bookkeeping timestamps keep nanoseconds.

CONCURRENCY:
  One connection (":memory:" databases are per connection) guarded by a
  sync.RWMutex. WithTx holds the write lock for the whole transaction; the
  view it hands out runs on the *sql.Tx and never takes the lock again.

USAGE:
  store, err := sqlite.New("./data/habits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  cache := recurrence.NewCacheManager(store, nil)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - recurrence/store.go: Interface definitions
  - recurrence/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/recurrence"
)

var (
	_ recurrence.TxStore    = (*Store)(nil)
	_ recurrence.SpecStore  = (*Store)(nil)
	_ recurrence.ItemFilter = (*Store)(nil)
	_ habit.Store           = (*Store)(nil)
)

// instantLayout is used for every column compared in a range query.
const instantLayout = "2006-01-02T15:04:05Z"

// Store implements all storage interfaces using SQLite.
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
	db.SetMaxOpenConns(1)

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Owning entities
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Current recurrence definition per item
	CREATE TABLE IF NOT EXISTS recurrence_specs (
		item_id TEXT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
		anchor_local TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		rule TEXT NOT NULL DEFAULT '',
		additions_json TEXT NOT NULL DEFAULT '[]',
		exclusions_json TEXT NOT NULL DEFAULT '[]',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Instance cache (derived, rebuildable)
	CREATE TABLE IF NOT EXISTS instances (
		item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		occurrence_key TEXT NOT NULL,
		start_utc TEXT NOT NULL,
		end_utc TEXT,
		is_exception INTEGER NOT NULL DEFAULT 0,
		generated_at TEXT NOT NULL,
		PRIMARY KEY (item_id, occurrence_key)
	);

	-- Windowed delete and per-item scans (hot path)
	CREATE INDEX IF NOT EXISTS idx_instances_item_start
		ON instances(item_id, start_utc);

	-- Agenda across items
	CREATE INDEX IF NOT EXISTS idx_instances_start
		ON instances(start_utc);

	-- Completion log (NOT derived, survives regeneration)
	CREATE TABLE IF NOT EXISTS completion_log (
		item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		occurrence_key TEXT NOT NULL,
		quantity TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (item_id, occurrence_key)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs the engine's statements against one querier. It takes no
// locks; callers hold the Store mutex.
type queries struct {
	q querier
}

// =============================================================================
// INSTANCE STORE (recurrence.InstanceStore interface)
// =============================================================================

// DeleteInstancesInRange removes rows with StartUTC in [from, to].
func (s *Store) DeleteInstancesInRange(ctx context.Context, itemID recurrence.ItemID, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteInstancesInRange(ctx, itemID, from, to)
}

// DeleteInstancesFrom removes rows with StartUTC >= from.
func (s *Store) DeleteInstancesFrom(ctx context.Context, itemID recurrence.ItemID, from time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteInstancesFrom(ctx, itemID, from)
}

// UpsertInstances inserts or overwrites rows by (item_id, occurrence_key).
func (s *Store) UpsertInstances(ctx context.Context, instances []recurrence.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{sqlTx}).UpsertInstances(ctx, instances); err != nil {
		return err
	}
	return storageErr("commit", sqlTx.Commit())
}

// LoadInstances returns all rows of itemID, ascending.
func (s *Store) LoadInstances(ctx context.Context, itemID recurrence.ItemID) ([]recurrence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.LoadInstances(ctx, itemID)
}

// LoadInstancesInRange returns rows of itemID with StartUTC in [from, to].
func (s *Store) LoadInstancesInRange(ctx context.Context, itemID recurrence.ItemID, from, to time.Time) ([]recurrence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.LoadInstancesInRange(ctx, itemID, from, to)
}

// LoadAllInstancesInRange returns rows of every item with StartUTC in [from, to].
func (s *Store) LoadAllInstancesInRange(ctx context.Context, from, to time.Time) ([]recurrence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.LoadAllInstancesInRange(ctx, from, to)
}

func (qs queries) DeleteInstancesInRange(ctx context.Context, itemID recurrence.ItemID, from, to time.Time) (int, error) {
	res, err := qs.q.ExecContext(ctx,
		"DELETE FROM instances WHERE item_id = ? AND start_utc >= ? AND start_utc <= ?",
		string(itemID), lowerBound(from), upperBound(to),
	)
	return affected(res, err, "delete instances")
}

func (qs queries) DeleteInstancesFrom(ctx context.Context, itemID recurrence.ItemID, from time.Time) (int, error) {
	res, err := qs.q.ExecContext(ctx,
		"DELETE FROM instances WHERE item_id = ? AND start_utc >= ?",
		string(itemID), lowerBound(from),
	)
	return affected(res, err, "delete future instances")
}

func (qs queries) UpsertInstances(ctx context.Context, instances []recurrence.Instance) error {
	query := `
		INSERT INTO instances (item_id, occurrence_key, start_utc, end_utc, is_exception, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, occurrence_key) DO UPDATE SET
			start_utc = excluded.start_utc,
			end_utc = excluded.end_utc,
			is_exception = excluded.is_exception,
			generated_at = excluded.generated_at
	`
	for _, inst := range instances {
		end := sql.NullString{}
		if e, ok := inst.EndUTC.Get(); ok {
			end = sql.NullString{String: formatInstant(e), Valid: true}
		}
		_, err := qs.q.ExecContext(ctx, query,
			string(inst.ItemID),
			string(inst.Key),
			formatInstant(inst.StartUTC),
			end,
			inst.IsException,
			inst.GeneratedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return storageErr("upsert instance", err)
		}
	}
	return nil
}

const instanceColumns = "item_id, occurrence_key, start_utc, end_utc, is_exception, generated_at"

func (qs queries) LoadInstances(ctx context.Context, itemID recurrence.ItemID) ([]recurrence.Instance, error) {
	return qs.queryInstances(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE item_id = ? ORDER BY start_utc ASC",
		string(itemID),
	)
}

func (qs queries) LoadInstancesInRange(ctx context.Context, itemID recurrence.ItemID, from, to time.Time) ([]recurrence.Instance, error) {
	return qs.queryInstances(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE item_id = ? AND start_utc >= ? AND start_utc <= ? ORDER BY start_utc ASC",
		string(itemID), lowerBound(from), upperBound(to),
	)
}

func (qs queries) LoadAllInstancesInRange(ctx context.Context, from, to time.Time) ([]recurrence.Instance, error) {
	return qs.queryInstances(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE start_utc >= ? AND start_utc <= ? ORDER BY start_utc ASC, item_id ASC",
		lowerBound(from), upperBound(to),
	)
}

func (qs queries) queryInstances(ctx context.Context, query string, args ...any) ([]recurrence.Instance, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query instances", err)
	}
	defer rows.Close()

	result := []recurrence.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, storageErr("scan instance", err)
		}
		result = append(result, inst)
	}
	return result, storageErr("query instances", rows.Err())
}

func scanInstance(rows *sql.Rows) (recurrence.Instance, error) {
	var (
		inst                            recurrence.Instance
		itemID, key, start, generatedAt string
		end                             sql.NullString
	)
	if err := rows.Scan(&itemID, &key, &start, &end, &inst.IsException, &generatedAt); err != nil {
		return recurrence.Instance{}, err
	}
	inst.ItemID = recurrence.ItemID(itemID)
	inst.Key = recurrence.OccurrenceKey(key)

	var err error
	if inst.StartUTC, err = time.Parse(instantLayout, start); err != nil {
		return recurrence.Instance{}, fmt.Errorf("start_utc %q: %w", start, err)
	}
	inst.EndUTC = mo.None[time.Time]()
	if end.Valid {
		e, err := time.Parse(instantLayout, end.String)
		if err != nil {
			return recurrence.Instance{}, fmt.Errorf("end_utc %q: %w", end.String, err)
		}
		inst.EndUTC = mo.Some(e)
	}
	inst.GeneratedAt, _ = time.Parse(time.RFC3339Nano, generatedAt)
	return inst, nil
}

// =============================================================================
// COMPLETION STORE (recurrence.CompletionStore interface)
// =============================================================================

// GetCompletion returns nil, nil when absent.
func (s *Store) GetCompletion(ctx context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) (*recurrence.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetCompletion(ctx, itemID, key)
}

// PutCompletion inserts or overwrites a completion.
func (s *Store) PutCompletion(ctx context.Context, c recurrence.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.PutCompletion(ctx, c)
}

// DeleteCompletion removes a completion if present.
func (s *Store) DeleteCompletion(ctx context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteCompletion(ctx, itemID, key)
}

// LoadCompletions returns all completions of itemID ordered by key.
func (s *Store) LoadCompletions(ctx context.Context, itemID recurrence.ItemID) ([]recurrence.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.LoadCompletions(ctx, itemID)
}

const completionColumns = "item_id, occurrence_key, quantity, note, created_at, updated_at"

func (qs queries) GetCompletion(ctx context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) (*recurrence.Completion, error) {
	row := qs.q.QueryRowContext(ctx,
		"SELECT "+completionColumns+" FROM completion_log WHERE item_id = ? AND occurrence_key = ?",
		string(itemID), string(key),
	)
	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get completion", err)
	}
	return &c, nil
}

func (qs queries) PutCompletion(ctx context.Context, c recurrence.Completion) error {
	query := `
		INSERT INTO completion_log (item_id, occurrence_key, quantity, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, occurrence_key) DO UPDATE SET
			quantity = excluded.quantity,
			note = excluded.note,
			updated_at = excluded.updated_at
	`
	_, err := qs.q.ExecContext(ctx, query,
		string(c.ItemID),
		string(c.Key),
		c.Quantity.String(),
		c.Note,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return storageErr("put completion", err)
}

func (qs queries) DeleteCompletion(ctx context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) error {
	_, err := qs.q.ExecContext(ctx,
		"DELETE FROM completion_log WHERE item_id = ? AND occurrence_key = ?",
		string(itemID), string(key),
	)
	return storageErr("delete completion", err)
}

func (qs queries) LoadCompletions(ctx context.Context, itemID recurrence.ItemID) ([]recurrence.Completion, error) {
	rows, err := qs.q.QueryContext(ctx,
		"SELECT "+completionColumns+" FROM completion_log WHERE item_id = ? ORDER BY occurrence_key ASC",
		string(itemID),
	)
	if err != nil {
		return nil, storageErr("query completions", err)
	}
	defer rows.Close()

	result := []recurrence.Completion{}
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, storageErr("scan completion", err)
		}
		result = append(result, c)
	}
	return result, storageErr("query completions", rows.Err())
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row scanner) (recurrence.Completion, error) {
	var (
		c                     recurrence.Completion
		itemID, key, quantity string
		createdAt, updatedAt  string
	)
	if err := row.Scan(&itemID, &key, &quantity, &c.Note, &createdAt, &updatedAt); err != nil {
		return recurrence.Completion{}, err
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return recurrence.Completion{}, fmt.Errorf("quantity %q: %w", quantity, err)
	}
	c.ItemID = recurrence.ItemID(itemID)
	c.Key = recurrence.OccurrenceKey(key)
	c.Quantity = q
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return c, nil
}

// =============================================================================
// TRANSACTIONAL STORE (recurrence.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store recurrence.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	return storageErr("commit", sqlTx.Commit())
}

// =============================================================================
// SPEC STORE (recurrence.SpecStore interface)
// =============================================================================

// GetSpec returns nil, nil when the item has no spec.
func (s *Store) GetSpec(ctx context.Context, itemID recurrence.ItemID) (*recurrence.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+specColumns+" FROM recurrence_specs WHERE item_id = ?",
		string(itemID),
	)
	spec, err := scanSpec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get spec", err)
	}
	return &spec, nil
}

// SaveSpec upserts the spec of an existing item.
func (s *Store) SaveSpec(ctx context.Context, spec recurrence.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	additions, err := json.Marshal(nonNil(spec.Additions))
	if err != nil {
		return storageErr("save spec", err)
	}
	exclusions, err := json.Marshal(nonNil(spec.Exclusions))
	if err != nil {
		return storageErr("save spec", err)
	}

	query := `
		INSERT INTO recurrence_specs
		(item_id, anchor_local, timezone, rule, additions_json, exclusions_json, duration_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			anchor_local = excluded.anchor_local,
			timezone = excluded.timezone,
			rule = excluded.rule,
			additions_json = excluded.additions_json,
			exclusions_json = excluded.exclusions_json,
			duration_minutes = excluded.duration_minutes,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		string(spec.ItemID),
		spec.AnchorLocal,
		spec.Timezone,
		spec.Rule,
		string(additions),
		string(exclusions),
		spec.DurationMinutes,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", recurrence.ErrItemNotFound, spec.ItemID)
	}
	return storageErr("save spec", err)
}

// ListSpecs returns every stored spec ordered by item.
func (s *Store) ListSpecs(ctx context.Context) ([]recurrence.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+specColumns+" FROM recurrence_specs ORDER BY item_id")
	if err != nil {
		return nil, storageErr("list specs", err)
	}
	defer rows.Close()

	var specs []recurrence.Spec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, storageErr("scan spec", err)
		}
		specs = append(specs, spec)
	}
	return specs, storageErr("list specs", rows.Err())
}

const specColumns = "item_id, anchor_local, timezone, rule, additions_json, exclusions_json, duration_minutes"

func scanSpec(row scanner) (recurrence.Spec, error) {
	var (
		spec                  recurrence.Spec
		itemID                string
		additions, exclusions string
	)
	if err := row.Scan(&itemID, &spec.AnchorLocal, &spec.Timezone, &spec.Rule, &additions, &exclusions, &spec.DurationMinutes); err != nil {
		return recurrence.Spec{}, err
	}
	spec.ItemID = recurrence.ItemID(itemID)
	if err := json.Unmarshal([]byte(additions), &spec.Additions); err != nil {
		return recurrence.Spec{}, fmt.Errorf("additions_json: %w", err)
	}
	if err := json.Unmarshal([]byte(exclusions), &spec.Exclusions); err != nil {
		return recurrence.Spec{}, fmt.Errorf("exclusions_json: %w", err)
	}
	return spec, nil
}

// =============================================================================
// ITEM STORE (habit.ItemStore + recurrence.ItemFilter)
// =============================================================================

// SaveItem inserts or updates an item. CreatedAt is kept on update.
func (s *Store) SaveItem(ctx context.Context, item habit.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO items (id, title, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	created := item.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, query,
		string(item.ID), item.Title, item.Active,
		created.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	return storageErr("save item", err)
}

// GetItem retrieves an item by ID, or nil, nil when it does not exist.
func (s *Store) GetItem(ctx context.Context, id recurrence.ItemID) (*habit.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, active, created_at, updated_at FROM items WHERE id = ?",
		string(id),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get item", err)
	}
	return &item, nil
}

// ListItems returns all items ordered by title.
func (s *Store) ListItems(ctx context.Context) ([]habit.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, active, created_at, updated_at FROM items ORDER BY title, id",
	)
	if err != nil {
		return nil, storageErr("list items", err)
	}
	defer rows.Close()

	items := []habit.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageErr("scan item", err)
		}
		items = append(items, item)
	}
	return items, storageErr("list items", rows.Err())
}

// DeleteItem removes an item together with its spec, instances and completions.
func (s *Store) DeleteItem(ctx context.Context, id recurrence.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", string(id))
	return storageErr("delete item", err)
}

// IsActive implements recurrence.ItemFilter. Unknown items are not active.
func (s *Store) IsActive(ctx context.Context, itemID recurrence.ItemID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active bool
	err := s.db.QueryRowContext(ctx, "SELECT active FROM items WHERE id = ?", string(itemID)).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("item filter", err)
	}
	return active, nil
}

func scanItem(row scanner) (habit.Item, error) {
	var (
		item                 habit.Item
		id                   string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &item.Title, &item.Active, &createdAt, &updatedAt); err != nil {
		return habit.Item{}, err
	}
	item.ID = recurrence.ItemID(id)
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return item, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"completion_log", "instances", "recurrence_specs", "items"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("reset", err)
		}
	}
	return nil
}

// Helper functions

func formatInstant(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(instantLayout)
}

// lowerBound rounds a sub-second bound up, so that an inclusive comparison
// against second-precision columns matches the exact instant semantics.
func lowerBound(t time.Time) string {
	u := t.UTC()
	if u.Truncate(time.Second).Before(u) {
		u = u.Truncate(time.Second).Add(time.Second)
	}
	return u.Format(instantLayout)
}

func upperBound(t time.Time) string {
	return formatInstant(t)
}

func affected(res sql.Result, err error, op string) (int, error) {
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(op, err)
	}
	return int(n), nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &recurrence.StorageError{Op: op, Err: err}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
