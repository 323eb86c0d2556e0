// Package state manages the SQLite database holding the local copy of every
// item together with its sync status.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods. Every successful mutation republishes the
// active item list to subscribers registered with [Store.Watch].
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/itemrelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL DEFAULT '',
    description TEXT    NOT NULL DEFAULT '',
    due_date    TEXT    NOT NULL DEFAULT '',
    priority    INTEGER NOT NULL DEFAULT 0,
    completed   INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT    NOT NULL DEFAULT 'pending_create'
);

CREATE INDEX IF NOT EXISTS idx_items_sync_status ON items (sync_status);
`

const selectColumns = `id, title, description, due_date, priority, completed, sync_status`

// Store is the SQLite-backed local item table.
type Store struct {
	db *sql.DB

	// mu guards subs and serialises publishing so subscribers observe
	// snapshots in mutation order.
	mu     sync.Mutex
	subs   map[int]chan []model.Item
	nextID int
	done   chan struct{}
	closed bool
}

// DefaultDBPath returns the default path for the item database:
// ~/.local/share/itemrelay/items.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "itemrelay", "items.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, subs: make(map[int]chan []model.Item), done: make(chan struct{})}, nil
}

// Close closes every live query and releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- reads -------------------------------------------------------------------

// Active returns every item that is not soft-deleted, ordered by title and
// then id.
func (s *Store) Active(ctx context.Context) ([]model.Item, error) {
	q := `SELECT ` + selectColumns + ` FROM items
		WHERE sync_status != ? ORDER BY title COLLATE NOCASE, id`
	items, err := s.query(ctx, q, model.StatusPendingDelete.String())
	if err != nil {
		return nil, fmt.Errorf("querying active items: %w", err)
	}
	return items, nil
}

// Pending returns every item whose status is not Synced, including
// soft-deleted ones.
func (s *Store) Pending(ctx context.Context) ([]model.Item, error) {
	q := `SELECT ` + selectColumns + ` FROM items WHERE sync_status != ? ORDER BY id`
	items, err := s.query(ctx, q, model.StatusSynced.String())
	if err != nil {
		return nil, fmt.Errorf("querying pending items: %w", err)
	}
	return items, nil
}

// Get returns the item with the given id, or (nil, nil) if no such item
// exists. Soft-deleted items are returned too.
func (s *Store) Get(ctx context.Context, id string) (*model.Item, error) {
	q := `SELECT ` + selectColumns + ` FROM items WHERE id = ?`
	item, err := scanItem(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}
	return item, nil
}

// CountByStatus returns the number of rows per sync status. Statuses with no
// rows are absent from the map.
func (s *Store) CountByStatus(ctx context.Context) (map[model.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM items GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.SyncStatus]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		st, err := model.ParseSyncStatus(name)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// IsEmpty reports whether the items table has no rows.
// Used by the first-run bootstrap to detect a fresh install.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking if store is empty: %w", err)
	}
	return count == 0, nil
}

// --- writes ------------------------------------------------------------------

// Upsert inserts the item or replaces every column of the existing row with
// the same id, including the sync status.
func (s *Store) Upsert(ctx context.Context, item model.Item) error {
	const q = `
		INSERT INTO items (id, title, description, due_date, priority, completed, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    title       = excluded.title,
		    description = excluded.description,
		    due_date    = excluded.due_date,
		    priority    = excluded.priority,
		    completed   = excluded.completed,
		    sync_status = excluded.sync_status`

	if _, err := s.db.ExecContext(ctx, q, itemArgs(item)...); err != nil {
		return fmt.Errorf("upserting item %q: %w", item.ID, err)
	}
	s.publish(ctx)
	return nil
}

// UpdateStatus sets the sync status of an existing row. Updating a missing
// row is not an error.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.SyncStatus) error {
	const q = `UPDATE items SET sync_status = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, status.String(), id); err != nil {
		return fmt.Errorf("updating status of %q to %s: %w", id, status, err)
	}
	s.publish(ctx)
	return nil
}

// DeleteByKey removes the row with the given id. Deleting a missing row is
// not an error.
func (s *Store) DeleteByKey(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	s.publish(ctx)
	return nil
}

// DeleteByKeyIfStatus removes the row only when it still carries status. It
// reports whether a row was removed.
func (s *Store) DeleteByKeyIfStatus(ctx context.Context, id string, status model.SyncStatus) (bool, error) {
	const q = `DELETE FROM items WHERE id = ? AND sync_status = ?`
	res, err := s.db.ExecContext(ctx, q, id, status.String())
	if err != nil {
		return false, fmt.Errorf("deleting item %q with status %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting item %q: %w", id, err)
	}
	if n > 0 {
		s.publish(ctx)
	}
	return n > 0, nil
}

// DeleteAll removes every row.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("deleting all items: %w", err)
	}
	s.publish(ctx)
	return nil
}

// ReplaceSynced swaps every Synced row for the given items in one
// transaction. Rows with a pending status are left untouched, and an
// incoming item whose id matches a pending row is skipped.
func (s *Store) ReplaceSynced(ctx context.Context, items []model.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE sync_status = ?`, model.StatusSynced.String()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clearing synced items: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, title, description, due_date, priority, completed, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if item.ID == "" {
			_ = tx.Rollback()
			return fmt.Errorf("replacing synced items: item %q has no id", item.Title)
		}
		if _, err := stmt.ExecContext(ctx, itemArgs(item.WithStatus(model.StatusSynced))...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting item %q: %w", item.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	s.publish(ctx)
	return nil
}

// --- live query --------------------------------------------------------------

// Watch returns a channel that receives the full active item list right away
// and again after every mutation. A subscriber that falls behind only sees
// the most recent list. The channel is closed when ctx is done or the store
// is closed.
func (s *Store) Watch(ctx context.Context) (<-chan []model.Item, error) {
	s.mu.Lock()
	initial, err := s.Active(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ch := make(chan []model.Item, 1)
	ch <- initial
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}()

	return ch, nil
}

// publish sends the current active list to every subscriber, replacing any
// list the subscriber has not consumed yet.
func (s *Store) publish(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}

	items, err := s.Active(context.WithoutCancel(ctx))
	if err != nil {
		return
	}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- items
	}
}

// --- helpers -----------------------------------------------------------------

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := make([]model.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func itemArgs(item model.Item) []any {
	return []any{
		item.ID,
		item.Title,
		item.Description,
		formatTime(item.DueDate),
		int(item.Priority),
		item.Completed,
		item.Status.String(),
	}
}

// scanner matches both *sql.Row and *sql.Rows so scanItem can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*model.Item, error) {
	var item model.Item
	var due, status string
	var priority int

	err := s.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&due,
		&priority,
		&item.Completed,
		&status,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item row: %w", err)
	}

	item.Priority = model.Priority(priority)
	if item.Status, err = model.ParseSyncStatus(status); err != nil {
		return nil, fmt.Errorf("item %q: %w", item.ID, err)
	}
	if item.DueDate, err = parseTime(due); err != nil {
		return nil, fmt.Errorf("item %q due date: %w", item.ID, err)
	}
	return &item, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // empty column means no due date
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
