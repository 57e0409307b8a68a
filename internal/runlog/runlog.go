// Package runlog keeps a local history of pipeline invocations in SQLite,
// one row per command run plus one per stage summary. The history is
// operational metadata only; pipeline correctness never depends on it.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/smilezzm/schools-of-professors/internal/stage"
)

// Store records run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run-history database and configures
// WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "runlog: create dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_stages (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	stage       TEXT NOT NULL,
	summary     TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runlog: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one recorded invocation.
type Run struct {
	ID         string
	Command    string
	Mode       string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageRecord is one stage summary captured during a run.
type StageRecord struct {
	ID         string
	RunID      string
	Stage      string
	Summary    stage.Summary
	RecordedAt time.Time
}

// StartRun records the beginning of an invocation and returns its id.
func (s *Store) StartRun(ctx context.Context, command, mode string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Command:   command,
		Mode:      mode,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.Mode, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: insert run")
	}
	return run, nil
}

// RecordStage captures one stage summary under a run.
func (s *Store) RecordStage(ctx context.Context, runID string, sum *stage.Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_stages (id, run_id, stage, summary, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, sum.Stage, string(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "runlog: insert stage %s", sum.Stage)
}

// FinishRun marks the run done or failed.
func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := "done"
	msg := sql.NullString{}
	if runErr != nil {
		status = "failed"
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runlog: rows affected")
	}
	if n == 0 {
		return eris.Errorf("runlog: run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, mode, status, COALESCE(error, ''), started_at, COALESCE(finished_at, started_at)
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.Mode, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

// RunStages returns a run's stage summaries in recording order.
func (s *Store) RunStages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, summary, recorded_at FROM run_stages
		 WHERE run_id = ? ORDER BY recorded_at ASC, id ASC`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: stages of %s", runID)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var (
			rec     StageRecord
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Stage, &payload, &rec.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "runlog: scan stage")
		}
		if err := json.Unmarshal([]byte(payload), &rec.Summary); err != nil {
			return nil, eris.Wrapf(err, "runlog: decode summary of stage %s", rec.Stage)
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate stages")
}
