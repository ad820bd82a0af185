// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runregistry implements the `runs list`/`runs show` index: a thin
// SQLite summary of every run the CLI has seen, so a user can enumerate
// runs without shelling into results/<benchmark>/. The registry is a
// cache, not a source of truth — the submissions log and upload bundle
// under each run's directory remain authoritative, and Rebuild can always
// regenerate the index from them.
package runregistry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/taskbench/internal/rundir"
	"github.com/tombee/taskbench/internal/submissions"
)

// Status values a Run can hold.
const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete" // no upload bundle found; a continuation may still be pending
	StatusFailed     = "failed"
)

// Run summarizes one (benchmark, run_id) invocation.
type Run struct {
	RunID          string
	Benchmark      string
	AgentName      string
	ExecutionMode  string
	Status         string
	StartedAt      time.Time
	CompletedAt    *time.Time
	TaskCount      int
	CompletedCount int
	TotalCost      float64
}

// Registry is a SQLite-backed run index.
type Registry struct {
	db *sql.DB
}

// Config configures Open.
type Config struct {
	// Path is the SQLite database file. ":memory:" is valid for tests.
	Path string

	// MaxOpenConns bounds the connection pool; SQLite serializes writers
	// regardless, so a small pool is sufficient.
	MaxOpenConns int
}

// Open creates or opens the registry database, applying WAL mode for
// concurrent readers.
func Open(cfg Config) (*Registry, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("runregistry: database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("runregistry: opening database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("runregistry: connecting to database: %w", err)
	}

	r := &Registry{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			benchmark TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			execution_mode TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			task_count INTEGER NOT NULL DEFAULT 0,
			completed_count INTEGER NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_benchmark ON runs(benchmark)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("runregistry: migration failed: %w", err)
		}
	}
	return nil
}

// RecordStart upserts a run's starting state. Called once per run
// invocation (fresh or continuation) before dispatch begins.
func (r *Registry) RecordStart(ctx context.Context, run Run) error {
	query := `
		INSERT INTO runs (run_id, benchmark, agent_name, execution_mode, status, started_at,
			task_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			task_count = excluded.task_count,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.Benchmark, run.AgentName, run.ExecutionMode, StatusRunning,
		run.StartedAt.UnixNano(), run.TaskCount, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("runregistry: recording run start for %s: %w", run.RunID, err)
	}
	return nil
}

// RecordComplete updates a run's terminal state once the finalizer has
// written its upload bundle.
func (r *Registry) RecordComplete(ctx context.Context, runID, status string, completedCount int, totalCost float64) error {
	query := `
		UPDATE runs SET status = ?, completed_at = ?, completed_count = ?, total_cost = ?, updated_at = ?
		WHERE run_id = ?
	`
	now := time.Now()
	_, err := r.db.ExecContext(ctx, query, status, now.UnixNano(), completedCount, totalCost, now.UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("runregistry: recording run completion for %s: %w", runID, err)
	}
	return nil
}

// Get retrieves one run by ID.
func (r *Registry) Get(ctx context.Context, runID string) (*Run, error) {
	query := `
		SELECT run_id, benchmark, agent_name, execution_mode, status, started_at, completed_at,
			task_count, completed_count, total_cost
		FROM runs WHERE run_id = ?
	`
	row := r.db.QueryRowContext(ctx, query, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("runregistry: run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("runregistry: getting run %s: %w", runID, err)
	}
	return run, nil
}

// ListFilter narrows List's results.
type ListFilter struct {
	Benchmark string
	Limit     int
}

// List returns runs ordered most-recently-started-first, optionally
// filtered to one benchmark.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]Run, error) {
	query := `
		SELECT run_id, benchmark, agent_name, execution_mode, status, started_at, completed_at,
			task_count, completed_count, total_cost
		FROM runs WHERE 1=1
	`
	var args []any
	if filter.Benchmark != "" {
		query += " AND benchmark = ?"
		args = append(args, filter.Benchmark)
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runregistry: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runregistry: scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows, both of which implement Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt int64
	var completedAt *int64

	if err := row.Scan(&run.RunID, &run.Benchmark, &run.AgentName, &run.ExecutionMode, &run.Status,
		&startedAt, &completedAt, &run.TaskCount, &run.CompletedCount, &run.TotalCost); err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(0, startedAt)
	if completedAt != nil {
		t := time.Unix(0, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Rebuild repopulates the registry from the on-disk run directory tree
// rooted at root (typically "results"), the registry's recovery path when
// its database file is lost or stale. It derives each run's state from
// the submissions log and, if present, the upload bundle, never from the
// registry's own prior contents.
func Rebuild(ctx context.Context, r *Registry, root string) error {
	benchmarks, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("runregistry: reading results root %s: %w", root, err)
	}

	for _, benchEntry := range benchmarks {
		if !benchEntry.IsDir() {
			continue
		}
		benchmark := benchEntry.Name()

		runEntries, err := os.ReadDir(filepath.Join(root, benchmark))
		if err != nil {
			return fmt.Errorf("runregistry: reading benchmark directory %s: %w", benchmark, err)
		}

		for _, runEntry := range runEntries {
			if !runEntry.IsDir() {
				continue
			}
			runID := runEntry.Name()
			if err := rebuildOne(ctx, r, root, benchmark, runID); err != nil {
				return err
			}
		}
	}
	return nil
}

func rebuildOne(ctx context.Context, r *Registry, root, benchmark, runID string) error {
	dir := rundir.New(root, benchmark, runID)

	completed, err := submissions.ListCompleted(dir.SubmissionsPath(), nil)
	if err != nil {
		return fmt.Errorf("runregistry: reading submissions log for %s/%s: %w", benchmark, runID, err)
	}

	info, statErr := os.Stat(dir.SubmissionsPath())
	startedAt := time.Now()
	if statErr == nil {
		startedAt = info.ModTime()
	}

	status := StatusIncomplete
	var totalCost float64
	if uploadData, err := os.ReadFile(dir.UploadPath("json")); err == nil {
		status = StatusCompleted
		var bundle struct {
			TotalCost float64 `json:"total_cost"`
		}
		if err := json.Unmarshal(uploadData, &bundle); err == nil {
			totalCost = bundle.TotalCost
		}
	}

	if err := r.RecordStart(ctx, Run{
		RunID: runID, Benchmark: benchmark, AgentName: "", ExecutionMode: "",
		StartedAt: startedAt, TaskCount: len(completed),
	}); err != nil {
		return err
	}
	if status == StatusCompleted {
		if err := r.RecordComplete(ctx, runID, status, len(completed), totalCost); err != nil {
			return err
		}
	} else if _, err := r.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE run_id = ?`, status, runID); err != nil {
		return fmt.Errorf("runregistry: recording rebuilt status for %s: %w", runID, err)
	}
	return nil
}
