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

// Package rundir computes the on-disk layout for one (benchmark, run_id)
// invocation: results/<benchmark>/<run_id>/, its submissions log path,
// per-task sub-directories, the agent_logs trace directory, and the final
// upload bundle path. The directory tree is created lazily; asking for a
// path never implies the run has produced anything yet.
package rundir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir locates the filesystem layout for a single run.
type Dir struct {
	root      string
	benchmark string
	runID     string
}

// New returns a Dir rooted at root/<benchmark>/<run_id>. root is typically
// "results" relative to the invoker's working directory.
func New(root, benchmark, runID string) *Dir {
	return &Dir{root: root, benchmark: benchmark, runID: runID}
}

// Path is the run directory itself: results/<benchmark>/<run_id>/.
func (d *Dir) Path() string {
	return filepath.Join(d.root, d.benchmark, d.runID)
}

// SubmissionsPath is the append-only submissions log for this run.
func (d *Dir) SubmissionsPath() string {
	return filepath.Join(d.Path(), fmt.Sprintf("%s_RAW_SUBMISSIONS.jsonl", d.runID))
}

// TaskSubdir is the per-task working-file directory, populated only after
// the task's worker has torn down.
func (d *Dir) TaskSubdir(taskID string) string {
	return filepath.Join(d.Path(), taskID)
}

// AgentLogsDir is where streamed VM-mode traces accumulate during a run.
func (d *Dir) AgentLogsDir() string {
	return filepath.Join(d.Path(), "agent_logs")
}

// AgentLogPath is the streamed trace file for one task (VM mode only).
func (d *Dir) AgentLogPath(taskID string) string {
	return filepath.Join(d.AgentLogsDir(), fmt.Sprintf("%s_log.log", taskID))
}

// UploadPath is the final results bundle emitted by the run finalizer.
// ext is the serialization extension, e.g. "json".
func (d *Dir) UploadPath(ext string) string {
	return filepath.Join(d.Path(), fmt.Sprintf("%s_UPLOAD.%s", d.runID, ext))
}

// Ensure creates the run directory if it does not already exist; the
// agent_logs subdirectory is left to EnsureAgentLogs. Callers invoke this lazily on first write, never
// eagerly at run start, so a run directory's mere existence never implies
// the run produced output.
func (d *Dir) Ensure() error {
	if err := os.MkdirAll(d.Path(), 0o755); err != nil {
		return fmt.Errorf("creating run directory %s: %w", d.Path(), err)
	}
	return nil
}

// EnsureAgentLogs creates the agent_logs subdirectory, used only by the VM
// transport's trace-streaming path.
func (d *Dir) EnsureAgentLogs() error {
	if err := os.MkdirAll(d.AgentLogsDir(), 0o755); err != nil {
		return fmt.Errorf("creating agent_logs directory: %w", err)
	}
	return nil
}

// EnsureTaskSubdir creates and returns a task's sub-directory.
func (d *Dir) EnsureTaskSubdir(taskID string) (string, error) {
	p := d.TaskSubdir(taskID)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("creating task subdirectory %s: %w", p, err)
	}
	return p, nil
}
