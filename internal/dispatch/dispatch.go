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

// Package dispatch implements the task dispatcher (C4): a bounded pool of
// per-task routines that drive a Worker Transport through its full
// prepare/start/poll/teardown lifecycle and record results to the
// submissions log.
package dispatch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/log"
	"github.com/tombee/taskbench/internal/rundir"
	"github.com/tombee/taskbench/internal/runnerscript"
	"github.com/tombee/taskbench/internal/submissions"
	"github.com/tombee/taskbench/internal/telemetry"
	"github.com/tombee/taskbench/internal/transport"
)

// DefaultPollInterval matches spec's ~30-second poll cadence.
const DefaultPollInterval = 30 * time.Second

// DefaultTaskTimeout matches spec's 7200-second per-task wall-clock default.
const DefaultTaskTimeout = 7200 * time.Second

// ProgressFunc is invoked after each task completes, reporting how many of
// the total have finished so far.
type ProgressFunc func(completed, total int)

// Options configures a Dispatcher.
type Options struct {
	MaxConcurrent int
	PollInterval  time.Duration
	TaskTimeout   time.Duration
	OnProgress    ProgressFunc
	Logger        *slog.Logger

	// Telemetry, if set, receives one Span per terminal task result. The
	// finalizer queries it afterward for cumulative cost and per-task
	// latency; a nil Telemetry disables this bookkeeping entirely.
	Telemetry telemetry.Sink
}

// Dispatcher runs every task in a Dataset against a Transport, bounded by a
// counting semaphore, and appends each terminal result to a submissions Log.
type Dispatcher struct {
	transport    transport.Transport
	submissions  *submissions.Log
	runDir       *rundir.Dir
	runID        string
	spec         dataset.AgentSpec
	semaphore    chan struct{}
	pollInterval time.Duration
	taskTimeout  time.Duration
	onProgress   ProgressFunc
	logger       *slog.Logger
	telemetry    telemetry.Sink
}

// New creates a Dispatcher. submissionsLog and dir must already be open and
// initialized; the Dispatcher never creates or closes them.
func New(tr transport.Transport, submissionsLog *submissions.Log, dir *rundir.Dir, runID string, spec dataset.AgentSpec, opts Options) *Dispatcher {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		transport:    tr,
		submissions:  submissionsLog,
		runDir:       dir,
		runID:        runID,
		spec:         spec,
		semaphore:    make(chan struct{}, maxConcurrent),
		pollInterval: pollInterval,
		taskTimeout:  taskTimeout,
		onProgress:   opts.OnProgress,
		logger:       logger,
		telemetry:    opts.Telemetry,
	}
}

// Dispatch runs ds to completion, returning every task's terminal result.
// If ctx is cancelled, no new task's per-task routine begins, but any
// already admitted past the semaphore run to their natural completion or
// timeout; teardown always fires for an admitted task.
func (d *Dispatcher) Dispatch(ctx context.Context, ds dataset.Dataset) map[string]dataset.TaskResult {
	var (
		mu      sync.Mutex
		results = make(map[string]dataset.TaskResult, len(ds))
		wg      sync.WaitGroup
		done    int32
		total   = len(ds)
	)

	for _, task := range ds {
		if ctx.Err() != nil {
			// Stop admitting new tasks; in-flight ones (already past this
			// point) still finish below.
			break
		}

		select {
		case <-ctx.Done():
		case d.semaphore <- struct{}{}:
			wg.Add(1)
			go func(task dataset.Task) {
				defer wg.Done()
				defer func() { <-d.semaphore }()

				result := d.runTask(context.WithoutCancel(ctx), task)

				mu.Lock()
				results[task.TaskID] = result
				mu.Unlock()

				if err := d.submissions.Append(result); err != nil {
					d.logger.Error("appending submission failed", "task_id", task.TaskID, "error", err)
				}

				completed := int(atomic.AddInt32(&done, 1))
				if d.onProgress != nil {
					d.onProgress(completed, total)
				}
			}(task)
			continue
		}
		break
	}

	wg.Wait()
	return results
}

// runTask drives one task through prepare/start/poll/teardown. It never
// returns an error: every failure mode is captured as a TaskResult so a
// single task's failure never aborts its siblings.
func (d *Dispatcher) runTask(ctx context.Context, task dataset.Task) (result dataset.TaskResult) {
	taskLogger := log.WithTaskContext(d.logger, d.runID, task.TaskID)
	start := time.Now()
	if d.telemetry != nil {
		defer func() {
			d.telemetry.Record(telemetry.Span{
				TaskID: task.TaskID,
				Start:  start,
				End:    time.Now(),
				Usage:  telemetry.ExtractUsage(result.Value),
			})
		}()
	}

	if _, err := d.runDir.EnsureTaskSubdir(task.TaskID); err != nil {
		taskLogger.Error("creating task subdirectory failed", "error", err)
		return dataset.Error(task.TaskID, err)
	}

	handle, err := d.transport.Prepare(ctx, d.runID, task, d.spec)
	if err != nil {
		taskLogger.Error("prepare failed", "error", err)
		return dataset.Error(task.TaskID, err)
	}

	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := d.transport.Teardown(teardownCtx, handle); err != nil {
			taskLogger.Warn("teardown failed", "error", err)
		}
	}()

	script, err := runnerscript.Generate(d.spec, d.runID, task)
	if err != nil {
		taskLogger.Error("generating runner script failed", "error", err)
		return dataset.Error(task.TaskID, err)
	}

	if err := d.transport.Start(ctx, handle, runnerscript.Filename(d.spec), script); err != nil {
		taskLogger.Error("start failed", "error", err)
		return dataset.Error(task.TaskID, err)
	}

	return d.pollUntilTerminal(ctx, handle, task.TaskID, taskLogger)
}

// pollUntilTerminal loops on Poll at pollInterval until it returns a
// result, the per-task timeout elapses, or ctx is cancelled. In every mode
// it also calls FetchTrace each iteration, ignoring ErrTraceUnavailable.
func (d *Dispatcher) pollUntilTerminal(ctx context.Context, handle transport.Handle, taskID string, taskLogger *slog.Logger) dataset.TaskResult {
	deadline := time.Now().Add(d.taskTimeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		result, err := d.transport.Poll(ctx, handle)
		if err != nil {
			taskLogger.Warn("poll failed", "error", err)
		} else if result != nil {
			return *result
		}

		d.streamTrace(ctx, handle, taskID)

		if time.Now().After(deadline) {
			elapsed := int(d.taskTimeout.Seconds())
			taskLogger.Warn("task timed out", "timeout_seconds", elapsed)
			return dataset.Timeout(taskID, elapsed)
		}

		select {
		case <-ctx.Done():
			return dataset.Error(taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// streamTrace appends the transport's current trace snapshot to the run
// directory's per-task trace file. Backends without trace streaming
// (ErrTraceUnavailable) are silently skipped.
func (d *Dispatcher) streamTrace(ctx context.Context, handle transport.Handle, taskID string) {
	trace, err := d.transport.FetchTrace(ctx, handle)
	if err != nil || trace == nil {
		return
	}

	if err := d.runDir.EnsureAgentLogs(); err != nil {
		return
	}
	if err := os.WriteFile(d.runDir.AgentLogPath(taskID), trace, 0o644); err != nil {
		d.logger.Warn("writing trace snapshot failed", "task_id", taskID, "error", err)
	}
}
