// Package store persists run history to SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

// RunStore records runs and their event streams using modernc.org/sqlite
// (pure Go). It implements streetrace.RunRecorder. Use ":memory:" as the
// path for an ephemeral store.
type RunStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path and creates the
// schema.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	s := &RunStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL UNIQUE,
		entry       TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'running',
		result      TEXT NOT NULL DEFAULT '',
		started_at  DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id  TEXT NOT NULL,
		seq     INTEGER NOT NULL,
		type    TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		at      DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// BeginRun implements streetrace.RunRecorder.
func (s *RunStore) BeginRun(runID, entry string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, entry, started_at) VALUES (?, ?, ?)`,
		runID, entry, startedAt,
	)
	return err
}

// RecordEvent implements streetrace.RunRecorder. The full event is stored
// as JSON alongside its type for queryability.
func (s *RunStore) RecordEvent(runID string, seq int, ev streetrace.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO run_events (run_id, seq, type, payload, at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, string(ev.Type), string(payload), ev.Time,
	)
	return err
}

// FinishRun implements streetrace.RunRecorder.
func (s *RunStore) FinishRun(runID, status, result string, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, result = ?, finished_at = ? WHERE run_id = ?`,
		status, result, finishedAt, runID,
	)
	return err
}

// Run is one recorded run.
type Run struct {
	RunID      string
	Entry      string
	Status     string
	Result     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// GetRun returns one run by id.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, entry, status, result, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID,
	)
	var r Run
	var finished sql.NullTime
	if err := row.Scan(&r.RunID, &r.Entry, &r.Status, &r.Result, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// ListRuns returns recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, entry, status, result, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Entry, &r.Status, &r.Result, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListEvents returns a run's events in sequence order, decoded from their
// stored JSON.
func (s *RunStore) ListEvents(runID string) ([]streetrace.Event, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []streetrace.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev streetrace.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
