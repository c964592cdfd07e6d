// Package spool persists work items that could not be delivered, so a
// collector outage does not silently discard telemetry. It is a best-effort
// side channel: the delivery queue appends failed items and later redrains
// them; nothing here blocks the instrumented application.
package spool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS spool (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spool_created ON spool(created_at);
`

// Item is one undelivered work item. Payload is the queue's own encoding of
// the kind-specific fields; the spool does not interpret it.
type Item struct {
	SessionID string
	Kind      string
	Payload   []byte
}

// StoredItem is an Item with its spool row id, used to delete after redelivery.
type StoredItem struct {
	ID int64
	Item
}

// Spool is a sqlite-backed FIFO of undelivered items.
type Spool struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) a spool database at path. An empty path
// uses an in-memory database, which is only useful in tests.
func Open(path string) (*Spool, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open spool database: %w", err)
	}
	// sqlite works best with a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping spool database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create spool schema: %w", err)
	}
	return &Spool{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Spool) Close() error { return s.db.Close() }

// Path returns the database location.
func (s *Spool) Path() string { return s.path }

// Append stores one undelivered item.
func (s *Spool) Append(ctx context.Context, it Item) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO spool(session_id, kind, payload, created_at) VALUES(?, ?, ?, ?)",
		it.SessionID, it.Kind, it.Payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append to spool: %w", err)
	}
	return nil
}

// Next returns up to limit of sessionID's items in insertion order. Items
// are only ever redelivered through the session that spooled them; rows
// belonging to other sessions stay untouched.
func (s *Spool) Next(ctx context.Context, sessionID string, limit int) ([]StoredItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, kind, payload FROM spool WHERE session_id = ? ORDER BY id LIMIT ?",
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query spool: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredItem
	for rows.Next() {
		var it StoredItem
		if err := rows.Scan(&it.ID, &it.SessionID, &it.Kind, &it.Payload); err != nil {
			return nil, fmt.Errorf("scan spool row: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes a redelivered item by row id.
func (s *Spool) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM spool WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete spool row: %w", err)
	}
	return nil
}

// Count returns the number of spooled items.
func (s *Spool) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM spool").Scan(&n); err != nil {
		return 0, fmt.Errorf("count spool: %w", err)
	}
	return n, nil
}
