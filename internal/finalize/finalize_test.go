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

package finalize_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/taskbench/internal/benchmark"
	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/finalize"
	"github.com/tombee/taskbench/internal/rundir"
	"github.com/tombee/taskbench/internal/telemetry"
)

type fakeBenchmark struct {
	evalResult benchmark.EvalResult
	evalErr    error
	metrics    map[string]any
	metricsErr error
	gotResults map[string]any
	gotRunID   string
}

func (f *fakeBenchmark) GetDataset(ctx context.Context) (dataset.Dataset, error) { return nil, nil }

func (f *fakeBenchmark) EvaluateOutput(ctx context.Context, results map[string]any, runID string) (benchmark.EvalResult, error) {
	f.gotResults = results
	f.gotRunID = runID
	return f.evalResult, f.evalErr
}

func (f *fakeBenchmark) GetMetrics(ctx context.Context, eval benchmark.EvalResult) (map[string]any, error) {
	return f.metrics, f.metricsErr
}

func (f *fakeBenchmark) GetRunDir(runID string) (string, error) { return "", nil }
func (f *fakeBenchmark) SetupScript() (string, bool)            { return "", false }
func (f *fakeBenchmark) RequiresSandbox() bool                  { return false }

var _ benchmark.Benchmark = (*fakeBenchmark)(nil)

type fakeTracingSession struct {
	shutdownCalled bool
	shutdownErr    error
}

func (f *fakeTracingSession) Shutdown(ctx context.Context) error {
	f.shutdownCalled = true
	return f.shutdownErr
}

func TestFinalize_AssemblesAndWritesBundle(t *testing.T) {
	dir := rundir.New(t.TempDir(), "bench", "run-1")

	bm := &fakeBenchmark{
		evalResult: map[string]any{"seen": []string{"t1", "t2"}},
		metrics:    map[string]any{"score": 2},
	}
	tracing := &fakeTracingSession{}
	rec := telemetry.NewRecorder()
	start := time.Now()
	rec.Record(telemetry.Span{TaskID: "t1", Start: start, End: start.Add(2 * time.Second),
		Usage: telemetry.Usage{Model: "gpt-4o", PromptTokens: 10, CostUSD: 0.02}})
	rec.Record(telemetry.Span{TaskID: "t2", Start: start, End: start.Add(3 * time.Second)})

	f := finalize.New(rec, tracing, nil)

	ds := dataset.Dataset{"t1": {TaskID: "t1"}, "t2": {TaskID: "t2"}}
	results := map[string]dataset.TaskResult{
		"t1": dataset.Success("t1", "ok"),
		"t2": dataset.Success("t2", "ok"),
	}
	cfg := finalize.RunConfig{AgentName: "solver", Benchmark: "bench", RunID: "run-1", RunCommand: "taskbench run"}

	bundle, err := f.Finalize(context.Background(), dir, bm, cfg, ds, results)
	require.NoError(t, err)

	assert.True(t, tracing.shutdownCalled, "tracing session should be closed before scoring")
	assert.Equal(t, map[string]any{"t1": "ok", "t2": "ok"}, bm.gotResults)
	assert.Equal(t, "run-1", bm.gotRunID)
	assert.InDelta(t, 0.02, bundle.TotalCost, 0.0001)
	assert.EqualValues(t, 2, bundle.Results["score"])
	require.Contains(t, bundle.TotalUsage, "gpt-4o")

	data, err := os.ReadFile(dir.UploadPath("json"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["config"].(map[string]any)["run_id"])
}

func TestFinalize_EvaluateOutputErrorBecomesScoringError(t *testing.T) {
	dir := rundir.New(t.TempDir(), "bench", "run-1")
	bm := &fakeBenchmark{evalErr: errors.New("boom")}
	f := finalize.New(nil, nil, nil)

	_, err := f.Finalize(context.Background(), dir, bm, finalize.RunConfig{Benchmark: "bench", RunID: "run-1"},
		dataset.Dataset{}, map[string]dataset.TaskResult{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring failed")
}

func TestFinalize_GetMetricsErrorBecomesScoringError(t *testing.T) {
	dir := rundir.New(t.TempDir(), "bench", "run-1")
	bm := &fakeBenchmark{metricsErr: errors.New("bad metrics")}
	f := finalize.New(nil, nil, nil)

	_, err := f.Finalize(context.Background(), dir, bm, finalize.RunConfig{Benchmark: "bench", RunID: "run-1"},
		dataset.Dataset{}, map[string]dataset.TaskResult{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring failed")
}

func TestFinalize_NilSinkAndSessionDegradeGracefully(t *testing.T) {
	dir := rundir.New(t.TempDir(), "bench", "run-1")
	bm := &fakeBenchmark{evalResult: "eval", metrics: map[string]any{}}
	f := finalize.New(nil, nil, nil)

	bundle, err := f.Finalize(context.Background(), dir, bm, finalize.RunConfig{Benchmark: "bench", RunID: "run-1"},
		dataset.Dataset{}, map[string]dataset.TaskResult{})

	require.NoError(t, err)
	assert.Equal(t, 0.0, bundle.TotalCost)
	assert.Empty(t, bundle.TotalUsage)
}

func TestFinalize_WarnsButDoesNotAbortOnUnterminatedTasks(t *testing.T) {
	dir := rundir.New(t.TempDir(), "bench", "run-1")
	bm := &fakeBenchmark{evalResult: "eval", metrics: map[string]any{}}
	f := finalize.New(nil, nil, nil)

	ds := dataset.Dataset{"t1": {TaskID: "t1"}, "t2": {TaskID: "t2"}}
	results := map[string]dataset.TaskResult{"t1": dataset.Success("t1", "ok")}

	bundle, err := f.Finalize(context.Background(), dir, bm, finalize.RunConfig{Benchmark: "bench", RunID: "run-1"}, ds, results)
	require.NoError(t, err)
	assert.NotNil(t, bundle)
}
