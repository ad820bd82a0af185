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

package benchmark_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/taskbench/internal/benchmark"
	"github.com/tombee/taskbench/internal/dataset"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func writeBenchmarkModule(t *testing.T, dir string) {
	t.Helper()
	src := `
def get_dataset():
    return {"t1": {"task_id": "t1", "payload": {"x": 1}}}


def evaluate_output(results, run_id):
    return {"run_id": run_id, "seen": list(results.keys())}


def get_metrics(evaluation):
    return {"score": len(evaluation["seen"])}


def get_run_dir(run_id):
    return "/tmp/" + run_id
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mybench.py"), []byte(src), 0o644))
}

func TestPythonCollaborator_GetDataset(t *testing.T) {
	requirePython(t)
	dir := t.TempDir()
	writeBenchmarkModule(t, dir)

	bm := benchmark.NewPythonCollaborator(benchmark.Spec{
		Directory:     dir,
		DatasetEntry:  "mybench.get_dataset",
		EvaluateEntry: "mybench.evaluate_output",
		MetricsEntry:  "mybench.get_metrics",
		CallTimeout:   10 * time.Second,
	})

	ds, err := bm.GetDataset(context.Background())
	require.NoError(t, err)
	require.Contains(t, ds, "t1")
	assert.Equal(t, "t1", ds["t1"].TaskID)
}

func TestPythonCollaborator_EvaluateOutputAndGetMetrics(t *testing.T) {
	requirePython(t)
	dir := t.TempDir()
	writeBenchmarkModule(t, dir)

	bm := benchmark.NewPythonCollaborator(benchmark.Spec{
		Directory:     dir,
		DatasetEntry:  "mybench.get_dataset",
		EvaluateEntry: "mybench.evaluate_output",
		MetricsEntry:  "mybench.get_metrics",
		CallTimeout:   10 * time.Second,
	})

	eval, err := bm.EvaluateOutput(context.Background(), map[string]any{"t1": "ok"}, "run-1")
	require.NoError(t, err)

	metrics, err := bm.GetMetrics(context.Background(), eval)
	require.NoError(t, err)
	assert.EqualValues(t, 1, metrics["score"])
}

func TestPythonCollaborator_GetRunDirUsesEntryWhenConfigured(t *testing.T) {
	requirePython(t)
	dir := t.TempDir()
	writeBenchmarkModule(t, dir)

	bm := benchmark.NewPythonCollaborator(benchmark.Spec{
		Directory:   dir,
		RunDirEntry: "mybench.get_run_dir",
		CallTimeout: 10 * time.Second,
	})

	path, err := bm.GetRunDir("run-42")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/run-42", path)
}

func TestPythonCollaborator_GetRunDirFallsBackToDefault(t *testing.T) {
	bm := benchmark.NewPythonCollaborator(benchmark.Spec{
		DefaultRunDir: func(runID string) (string, error) {
			return filepath.Join("results", runID), nil
		},
	})

	path, err := bm.GetRunDir("run-7")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("results", "run-7"), path)
}

func TestPythonCollaborator_EvaluateOutputSurfacesErrorLog(t *testing.T) {
	requirePython(t)
	dir := t.TempDir()
	src := "def evaluate_output(results, run_id):\n    raise ValueError('bad input')\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.py"), []byte(src), 0o644))

	bm := benchmark.NewPythonCollaborator(benchmark.Spec{
		Directory:     dir,
		EvaluateEntry: "broken.evaluate_output",
		CallTimeout:   10 * time.Second,
	})

	_, err := bm.EvaluateOutput(context.Background(), nil, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestPythonCollaborator_SetupScriptAndRequiresSandbox(t *testing.T) {
	bm := benchmark.NewPythonCollaborator(benchmark.Spec{
		SetupScriptPath:     "/tmp/setup.sh",
		RequiresSandboxFlag: true,
	})

	path, ok := bm.SetupScript()
	assert.True(t, ok)
	assert.Equal(t, "/tmp/setup.sh", path)
	assert.True(t, bm.RequiresSandbox())
}

func TestAggregateResults(t *testing.T) {
	results := map[string]dataset.TaskResult{
		"t1": dataset.Success("t1", map[string]any{"ok": true}),
		"t2": dataset.Error("t2", assert.AnError),
	}

	flat := benchmark.AggregateResults(results)
	assert.Equal(t, map[string]any{"ok": true}, flat["t1"])
	assert.Equal(t, dataset.ErrorPrefix+assert.AnError.Error(), flat["t2"])
}
