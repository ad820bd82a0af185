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

// Package finalize implements the run finalizer (C6): warns on
// un-terminated tasks, closes the tracing session, invokes the benchmark's
// evaluate_output/get_metrics entry points, queries the tracing sink for
// cumulative cost and per-task latency, and serializes the resulting
// bundle to the run directory's upload path.
package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tombee/taskbench/internal/benchmark"
	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/rundir"
	"github.com/tombee/taskbench/internal/telemetry"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
)

// TracingSession is the subset of internal/tracing's OTelProvider the
// finalizer needs: a way to close out the run's tracing session before the
// benchmark's own scoring-phase calls begin, so they are never attributed
// to agent cost.
type TracingSession interface {
	Shutdown(ctx context.Context) error
}

// RunConfig captures the invocation parameters the bundle's config section
// echoes back, per spec §4.6 step 6.
type RunConfig struct {
	AgentName  string         `json:"agent_name"`
	Benchmark  string         `json:"benchmark"`
	Date       string         `json:"date"`
	RunID      string         `json:"run_id"`
	AgentArgs  map[string]any `json:"agent_args,omitempty"`
	RunCommand string         `json:"run_command"`
}

// Bundle is the final serialized artifact a run produces.
type Bundle struct {
	Config            RunConfig                       `json:"config"`
	Results           map[string]any                  `json:"results"`
	RawEvalResults    any                              `json:"raw_eval_results"`
	RawLoggingResults any                              `json:"raw_logging_results"`
	TotalUsage        map[string]telemetry.ModelUsage  `json:"total_usage"`
	TotalCost         float64                          `json:"total_cost"`
}

// Finalizer assembles and writes the bundle for one run.
type Finalizer struct {
	Telemetry telemetry.Sink
	Tracing   TracingSession
	Logger    *slog.Logger
}

// New creates a Finalizer. A nil Telemetry or Tracing degrades gracefully:
// cost/latency fields come back empty and no shutdown call is made.
func New(sink telemetry.Sink, session TracingSession, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{Telemetry: sink, Tracing: session, Logger: logger}
}

// Finalize runs the full C6 contract and writes the resulting bundle to
// dir's upload path, returning it for callers (e.g. the CLI) that also want
// to print a summary.
func (f *Finalizer) Finalize(ctx context.Context, dir *rundir.Dir, bm benchmark.Benchmark, cfg RunConfig, ds dataset.Dataset, results map[string]dataset.TaskResult) (*Bundle, error) {
	f.warnUnterminated(ds, results)

	if f.Tracing != nil {
		if err := f.Tracing.Shutdown(ctx); err != nil {
			f.Logger.Warn("closing tracing session failed", "error", err)
		}
	}

	aggregated := benchmark.AggregateResults(results)
	eval, err := bm.EvaluateOutput(ctx, aggregated, cfg.RunID)
	if err != nil {
		return nil, &taskbencherrors.ScoringError{Benchmark: cfg.Benchmark, Reason: "evaluate_output failed", Cause: err}
	}

	totalCost, latencies, usage := f.queryTelemetry()

	metrics, err := bm.GetMetrics(ctx, eval)
	if err != nil {
		return nil, &taskbencherrors.ScoringError{Benchmark: cfg.Benchmark, Reason: "get_metrics failed", Cause: err}
	}

	bundleResults := make(map[string]any, len(metrics)+2)
	for k, v := range metrics {
		bundleResults[k] = v
	}
	bundleResults["total_cost"] = totalCost
	bundleResults["latencies"] = latencies

	bundle := &Bundle{
		Config:            cfg,
		Results:           bundleResults,
		RawEvalResults:    eval,
		RawLoggingResults: latencyRawLog(latencies),
		TotalUsage:        usage,
		TotalCost:         totalCost,
	}

	if err := f.write(dir, bundle); err != nil {
		return nil, fmt.Errorf("writing bundle for run %s: %w", cfg.RunID, err)
	}
	return bundle, nil
}

// warnUnterminated logs every task_id present in ds with no entry in
// results, per spec step 1. It never aborts the run.
func (f *Finalizer) warnUnterminated(ds dataset.Dataset, results map[string]dataset.TaskResult) {
	var missing []string
	for taskID := range ds {
		if _, ok := results[taskID]; !ok {
			missing = append(missing, taskID)
		}
	}
	if len(missing) > 0 {
		f.Logger.Warn("finalizing run with un-terminated tasks", "task_count", len(missing), "task_ids", missing)
	}
}

// queryTelemetry reads the tracing sink once, per spec step 4. A nil sink
// yields zero cost and empty maps rather than an error: telemetry failures
// are warnings only (spec §7, "Telemetry error").
func (f *Finalizer) queryTelemetry() (float64, map[string]float64, map[string]telemetry.ModelUsage) {
	if f.Telemetry == nil {
		return 0, map[string]float64{}, map[string]telemetry.ModelUsage{}
	}

	latencies := make(map[string]float64, 8)
	for taskID, d := range f.Telemetry.Latencies() {
		latencies[taskID] = d.Seconds()
	}
	return f.Telemetry.CumulativeCost(), latencies, f.Telemetry.UsageByModel()
}

// latencyRawLog wraps the per-task latency map as the bundle's opaque
// raw_logging_results, the tracing-sink analogue of raw_eval_results.
func latencyRawLog(latencies map[string]float64) any {
	return map[string]any{"task_latencies_seconds": latencies}
}

// write serializes bundle as JSON to dir's upload path. If standard
// serialization fails because the benchmark embedded a non-serializable
// value in eval, it falls back to lossySerialize per spec step 7.
func (f *Finalizer) write(dir *rundir.Dir, bundle *Bundle) error {
	if err := dir.Ensure(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		f.Logger.Warn("standard bundle serialization failed, falling back to lossy conversion", "error", err)
		data, err = json.MarshalIndent(lossySerialize(bundle), "", "  ")
		if err != nil {
			return fmt.Errorf("lossy bundle serialization also failed: %w", err)
		}
	}

	return os.WriteFile(dir.UploadPath("json"), data, 0o644)
}
