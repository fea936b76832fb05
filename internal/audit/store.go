// Package audit keeps a journal of transaction state transitions.
//
// The controller and the watchdog run in different processes and both
// append to the same SQLite file, so the journal is opened with a busy
// timeout and WAL mode. Journaling is best effort: callers log a failed
// write and carry on.
package audit

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

	_ "modernc.org/sqlite"

	"grimm.is/tether/internal/clock"
)

// Actions recorded in the journal.
const (
	ActionStarted               = "started"
	ActionApplied               = "applied"
	ActionApplyFailed           = "apply-failed"
	ActionConfirmed             = "confirmed"
	ActionDeclined              = "declined"
	ActionRestoreFailed         = "restore-failed"
	ActionTimedOut              = "timed-out"
	ActionLateConfirm           = "late-confirm"
	ActionWatchdogCancelled     = "watchdog-cancelled"
	ActionWatchdogRestored      = "watchdog-restored"
	ActionWatchdogRestoreFailed = "watchdog-restore-failed"
)

// Actors.
const (
	ActorController = "controller"
	ActorWatchdog   = "watchdog"
)

// Event is a single journal entry.
type Event struct {
	ID        int64          `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	TxID      string         `json:"tx_id" yaml:"tx_id"`
	Target    string         `json:"target" yaml:"target"`
	Actor     string         `json:"actor" yaml:"actor"`
	PID       int            `json:"pid" yaml:"pid"`
	Action    string         `json:"action" yaml:"action"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Recorder appends events. Both the controller and the watchdog accept one.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Filter selects events for Query.
type Filter struct {
	TxID   string
	Action string
	Since  time.Time
	Limit  int
}

// Store is the SQLite-backed journal.
type Store struct {
	mu            sync.Mutex
	db            *sql.DB
	clock         clock.Clock
	retentionDays int
}

// DefaultRetentionDays applies when the configured retention is not positive.
const DefaultRetentionDays = 90

// Open opens (creating if needed) the journal at dbPath.
func Open(dbPath string, retentionDays int, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transaction_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			tx_id TEXT NOT NULL,
			target TEXT NOT NULL,
			actor TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			action TEXT NOT NULL,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_tx_events_ts ON transaction_events(ts);
		CREATE INDEX IF NOT EXISTS idx_tx_events_tx ON transaction_events(tx_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &Store{
		db:            db,
		clock:         clock.Or(clk),
		retentionDays: retentionDays,
	}, nil
}

// Record appends evt. A zero timestamp or PID is filled in.
func (s *Store) Record(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}
	if evt.PID == 0 {
		evt.PID = os.Getpid()
	}

	var details sql.NullString
	if len(evt.Details) > 0 {
		data, err := json.Marshal(evt.Details)
		if err != nil {
			data = []byte("{}")
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_events (ts, tx_id, target, actor, pid, action, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.UnixNano(), evt.TxID, evt.Target, evt.Actor, evt.PID, evt.Action, details)
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var where []string
	var args []any
	if f.TxID != "" {
		where = append(where, "tx_id = ?")
		args = append(args, f.TxID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := `SELECT id, ts, tx_id, target, actor, pid, action, details FROM transaction_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var ts int64
		var details sql.NullString
		if err := rows.Scan(&evt.ID, &ts, &evt.TxID, &evt.Target, &evt.Actor, &evt.PID, &evt.Action, &details); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		evt.Timestamp = time.Unix(0, ts).UTC()
		if details.Valid && details.String != "" {
			json.Unmarshal([]byte(details.String), &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM transaction_events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transaction_events").Scan(&count)
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
