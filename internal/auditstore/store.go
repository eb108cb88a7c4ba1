// Package auditstore is a secondary, non-authoritative SQLite log of tick
// metrics, health events, and dispatch history. It is never read back into
// a reconciliation decision: the JSON document in internal/statestore
// remains the sole authority over task/run state. This store exists purely
// so an operator can look at a tick's history after the fact, adapted from
// the teacher's internal/store/store.go schema (TickMetric, HealthEvent,
// Dispatch tables) trimmed to what this orchestrator actually produces.
package auditstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the audit database handle.
type Store struct {
	db *sql.DB
}

// TickMetric is one row recorded at the end of a reconciler tick.
type TickMetric struct {
	TickAtMs       int64
	Promoted       int
	Spawned        int
	ReviewsPassed  int
	ReviewsReworks int
	Blocked        int
	AutoHealed     int
	ActionsApplied int
}

// HealthEvent is one row recorded by the guardian or the reconciler
// whenever a notable state transition happens outside the normal tick
// flow (a restart, a stale heartbeat, a spawn failure).
type HealthEvent struct {
	EventType string
	Details   string
	CreatedAt int64
}

// DispatchLogEntry records one spawn attempt, successful or not.
type DispatchLogEntry struct {
	Kind        string
	TaskID      int
	RunID       string
	StartedAtMs int64
	Success     bool
	Error       string
}

const schema = `
CREATE TABLE IF NOT EXISTS tick_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick_at_ms INTEGER NOT NULL,
	promoted INTEGER NOT NULL DEFAULT 0,
	spawned INTEGER NOT NULL DEFAULT 0,
	reviews_passed INTEGER NOT NULL DEFAULT 0,
	reviews_reworks INTEGER NOT NULL DEFAULT 0,
	blocked INTEGER NOT NULL DEFAULT 0,
	auto_healed INTEGER NOT NULL DEFAULT 0,
	actions_applied INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS health_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	task_id INTEGER NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	started_at_ms INTEGER NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tick_metrics_at ON tick_metrics(tick_at_ms);
CREATE INDEX IF NOT EXISTS idx_health_events_at ON health_events(created_at);
CREATE INDEX IF NOT EXISTS idx_dispatch_log_task ON dispatch_log(task_id);
`

// Open creates or opens the audit database at dbPath and ensures its
// schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("auditstore: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTick appends one tick's summary counters.
func (s *Store) RecordTick(m TickMetric) error {
	_, err := s.db.Exec(
		`INSERT INTO tick_metrics (tick_at_ms, promoted, spawned, reviews_passed, reviews_reworks, blocked, auto_healed, actions_applied)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TickAtMs, m.Promoted, m.Spawned, m.ReviewsPassed, m.ReviewsReworks, m.Blocked, m.AutoHealed, m.ActionsApplied,
	)
	if err != nil {
		return fmt.Errorf("auditstore: record tick: %w", err)
	}
	return nil
}

// RecordHealthEvent appends one out-of-band health event.
func (s *Store) RecordHealthEvent(eventType, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO health_events (event_type, details, created_at) VALUES (?, ?, ?)`,
		eventType, details, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("auditstore: record health event: %w", err)
	}
	return nil
}

// RecordDispatch appends one spawn attempt.
func (s *Store) RecordDispatch(e DispatchLogEntry) error {
	errText := ""
	if e.Error != "" {
		errText = e.Error
	}
	_, err := s.db.Exec(
		`INSERT INTO dispatch_log (kind, task_id, run_id, started_at_ms, success, error) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, e.TaskID, e.RunID, e.StartedAtMs, e.Success, errText,
	)
	if err != nil {
		return fmt.Errorf("auditstore: record dispatch: %w", err)
	}
	return nil
}

// RecentTickMetrics returns the most recently recorded tick summaries,
// newest first, up to limit rows.
func (s *Store) RecentTickMetrics(limit int) ([]TickMetric, error) {
	rows, err := s.db.Query(
		`SELECT tick_at_ms, promoted, spawned, reviews_passed, reviews_reworks, blocked, auto_healed, actions_applied
		 FROM tick_metrics ORDER BY tick_at_ms DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditstore: query tick metrics: %w", err)
	}
	defer rows.Close()

	var out []TickMetric
	for rows.Next() {
		var m TickMetric
		if err := rows.Scan(&m.TickAtMs, &m.Promoted, &m.Spawned, &m.ReviewsPassed, &m.ReviewsReworks, &m.Blocked, &m.AutoHealed, &m.ActionsApplied); err != nil {
			return nil, fmt.Errorf("auditstore: scan tick metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentHealthEvents returns health events recorded within the last
// window, newest first.
func (s *Store) RecentHealthEvents(window time.Duration) ([]HealthEvent, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	rows, err := s.db.Query(
		`SELECT event_type, details, created_at FROM health_events WHERE created_at >= ? ORDER BY created_at DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("auditstore: query health events: %w", err)
	}
	defer rows.Close()

	var out []HealthEvent
	for rows.Next() {
		var e HealthEvent
		if err := rows.Scan(&e.EventType, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("auditstore: scan health event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
