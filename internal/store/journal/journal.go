// Package journal persists the lifecycle event stream to SQLite, giving the
// notification trail a durable audit log that survives restarts.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"steward/internal/events"
	"steward/internal/logger"

	_ "modernc.org/sqlite"
)

type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Record is one persisted event.
type Record struct {
	ID      int64  `json:"id"`
	TS      int64  `json:"ts"`
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Symbol  string `json:"symbol,omitempty"`
	Payload string `json:"payload,omitempty"`
}

func New(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS event_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			symbol TEXT,
			payload_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_journal_ts ON event_journal(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_event_journal_kind ON event_journal(kind)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append persists one event.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("journal: encoding payload: %w", err)
	}
	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO event_journal (ts, event_id, kind, symbol, payload_json) VALUES (?, ?, ?, ?, ?)`,
		at.Unix(), evt.ID, string(evt.Kind), evt.Symbol, string(payload))
	return err
}

// Recent returns up to limit records, newest first, optionally filtered by
// kind and symbol.
func (j *Journal) Recent(ctx context.Context, limit int, kind, symbol string) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, ts, event_id, kind, symbol, payload_json FROM event_journal`
	var (
		conds []string
		args  []any
	)
	if kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}
	if symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, symbol)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var symbol, payload sql.NullString
		if err := rows.Scan(&r.ID, &r.TS, &r.EventID, &r.Kind, &symbol, &payload); err != nil {
			return nil, err
		}
		r.Symbol = symbol.String
		r.Payload = payload.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run consumes events from the bus until ctx is cancelled or the channel
// closes. Write failures are logged and dropped.
func (j *Journal) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := j.Append(ctx, evt); err != nil {
				logger.Warnf("journal: recording %s for %s: %v", evt.Kind, evt.Symbol, err)
			}
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
