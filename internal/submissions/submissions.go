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

// Package submissions implements the run's Artifact Store: an append-only
// newline-delimited JSON log recording one result per completed task. Task
// sub-directories are handled by internal/rundir.
//
// Newline-delimited JSON was chosen over a structured database because runs
// may span hours and the process may die at any time; a truncated last line
// is detectable and recoverable, and the file doubles as a human-readable
// record.
package submissions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/tombee/taskbench/internal/dataset"
)

// Log is the append-only submissions log for one run. A single Log must be
// shared by every goroutine appending to a run; Append is safe for
// concurrent use.
type Log struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if absent) the submissions log at path. The file is
// opened in append mode so a continuation run started from a fresh process
// also appends safely at the filesystem layer.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening submissions log %s: %w", path, err)
	}
	return &Log{path: path, logger: logger, file: f}, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append records one task's terminal result. The full JSON-serialized line
// lands in the file with a trailing newline, or nothing does: the write is
// serialized behind a mutex and is the only writer of this file handle.
func (l *Log) Append(result dataset.TaskResult) error {
	line, err := json.Marshal(map[string]any{result.TaskID: result.Value})
	if err != nil {
		return fmt.Errorf("encoding submission for task %s: %w", result.TaskID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("appending submission for task %s: %w", result.TaskID, err)
	}
	return nil
}

// entry is one well-formed submissions-log record as read back from disk.
type entry struct {
	taskID  string
	value   any
	isError bool
}

// readAll parses every well-formed line in the log at path, in file order.
// Malformed lines are skipped with a warning rather than failing the read,
// since a process crash mid-write can truncate the final line.
func readAll(path string, logger *slog.Logger) ([]entry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening submissions log %s: %w", path, err)
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			logger.Warn("skipping malformed submissions log line",
				slog.String("path", path), slog.Int("line", lineNo), slog.Any("error", err))
			continue
		}
		if len(record) != 1 {
			logger.Warn("skipping malformed submissions log line: expected single-entry mapping",
				slog.String("path", path), slog.Int("line", lineNo))
			continue
		}
		for taskID, value := range record {
			entries = append(entries, entry{
				taskID:  taskID,
				value:   value,
				isError: dataset.IsErrorValue(value),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading submissions log %s: %w", path, err)
	}
	return entries, nil
}

// ListCompleted returns the set of task IDs whose most recent log entry is a
// non-error result. A task_id may appear multiple times across continuation
// runs; the last occurrence is authoritative.
func ListCompleted(path string, logger *slog.Logger) (map[string]bool, error) {
	entries, err := readAll(path, logger)
	if err != nil {
		return nil, err
	}
	latest := latestByTask(entries)
	completed := make(map[string]bool, len(latest))
	for taskID, e := range latest {
		if !e.isError {
			completed[taskID] = true
		}
	}
	return completed, nil
}

// Aggregate returns the latest recorded value for every task_id in the log,
// whatever its kind (success value, "ERROR: ..." string, or "TIMEOUT after
// ..." string). The run finalizer uses this as the results mapping handed
// to benchmark.evaluate_output, so a continuation run's later entries
// correctly supersede an earlier attempt's failure.
func Aggregate(path string, logger *slog.Logger) (map[string]any, error) {
	entries, err := readAll(path, logger)
	if err != nil {
		return nil, err
	}
	latest := latestByTask(entries)
	values := make(map[string]any, len(latest))
	for taskID, e := range latest {
		values[taskID] = e.value
	}
	return values, nil
}

// latestByTask collapses entries to the last occurrence per task_id,
// preserving the invariant that later log lines supersede earlier ones.
func latestByTask(entries []entry) map[string]entry {
	latest := make(map[string]entry, len(entries))
	for _, e := range entries {
		latest[e.taskID] = e
	}
	return latest
}
