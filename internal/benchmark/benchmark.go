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

// Package benchmark defines the external collaborator interface the run
// finalizer and CLI use to obtain a dataset, score collected outputs, and
// derive summary metrics. A benchmark is user-supplied code, outside the
// orchestrator's control; the interface here is the whole of the contract
// the core ever calls into.
package benchmark

import (
	"context"

	"github.com/tombee/taskbench/internal/dataset"
)

// EvalResult is the opaque evaluation bundle a benchmark returns from
// EvaluateOutput. The core never inspects its shape; it is threaded through
// to GetMetrics and, eventually, into the upload bundle's raw_eval_results
// field.
type EvalResult any

// Benchmark is the external collaborator contract of spec §6.2. An
// implementation may be backed by a Python module (see PythonCollaborator)
// or, in tests, by an in-memory fake.
type Benchmark interface {
	// GetDataset returns every task this benchmark wants evaluated.
	GetDataset(ctx context.Context) (dataset.Dataset, error)

	// EvaluateOutput scores the aggregated per-task results, keyed by
	// task_id, for the given run. The benchmark may spawn further
	// processes (e.g. a containerized scorer); the core only awaits
	// completion.
	EvaluateOutput(ctx context.Context, results map[string]any, runID string) (EvalResult, error)

	// GetMetrics derives summary metrics from an evaluation bundle.
	GetMetrics(ctx context.Context, eval EvalResult) (map[string]any, error)

	// GetRunDir returns the benchmark's preferred on-disk directory for a
	// run, creating it if absent. Most benchmarks defer to the
	// orchestrator's own rundir layout; this hook exists for benchmarks
	// that need a custom location (e.g. to share a cache across runs).
	GetRunDir(runID string) (string, error)

	// SetupScript returns a host path to a script the container/VM
	// transports should run once per worker before the agent starts, and
	// whether one is configured at all.
	SetupScript() (path string, ok bool)

	// RequiresSandbox reports whether this benchmark's tasks are unsafe to
	// run in local mode, forcing container or VM execution regardless of
	// the invoker's requested execution mode.
	RequiresSandbox() bool
}

// AggregateResults flattens a dispatcher's per-task TaskResult map into the
// plain task_id -> value mapping benchmark.evaluate_output expects, per
// spec §6.1/§6.2 (the benchmark never sees the orchestrator's internal
// ResultKind distinction, only the same flattened value the submissions
// log records).
func AggregateResults(results map[string]dataset.TaskResult) map[string]any {
	out := make(map[string]any, len(results))
	for taskID, result := range results {
		out[taskID] = result.Value
	}
	return out
}
