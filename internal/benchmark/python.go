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

package benchmark

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/tombee/taskbench/internal/dataset"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var entryTemplate = template.Must(template.ParseFS(templatesFS, "templates/call_entry.py.tmpl"))

// Spec describes a Python-backed benchmark collaborator: the module.function
// entry points the core calls, the directory they resolve against, and the
// optional worker setup script and sandboxing requirement.
type Spec struct {
	// Directory is the host path containing the benchmark's code.
	Directory string

	// DatasetEntry resolves get_dataset() -> Dataset.
	DatasetEntry string

	// EvaluateEntry resolves evaluate_output(results, run_id) -> eval bundle.
	EvaluateEntry string

	// MetricsEntry resolves get_metrics(evaluation) -> summary mapping.
	MetricsEntry string

	// RunDirEntry optionally resolves get_run_dir(run_id) -> path. When
	// empty, GetRunDir falls back to DefaultRunDir.
	RunDirEntry string

	// SetupScriptPath is an optional host path to a worker setup script.
	SetupScriptPath string

	// RequiresSandboxFlag forces container or VM execution regardless of
	// the invoker's requested execution mode.
	RequiresSandboxFlag bool

	// EnvironmentName optionally names a conda/venv environment to run
	// entry points under, mirroring AgentSpec.EnvironmentName.
	EnvironmentName string

	// Args are passed as keyword parameters to the dataset entry point,
	// mirroring AgentSpec.Args. Benchmarks that take no configuration
	// leave this nil.
	Args map[string]any

	// DefaultRunDir provides the run directory when RunDirEntry is empty.
	DefaultRunDir func(runID string) (string, error)

	// CallTimeout bounds a single entry-point invocation. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration
}

// DefaultCallTimeout bounds get_dataset/evaluate_output/get_metrics calls,
// which run on the host rather than inside a worker transport and so have
// no per-task wall-clock deadline to inherit.
const DefaultCallTimeout = 30 * time.Minute

// PythonCollaborator implements Benchmark by invoking the spec's entry
// points as one-shot Python subprocesses, the same module.function
// resolution convention the runner script uses for agents.
type PythonCollaborator struct {
	spec Spec
}

var _ Benchmark = (*PythonCollaborator)(nil)

// NewPythonCollaborator wraps spec as a Benchmark.
func NewPythonCollaborator(spec Spec) *PythonCollaborator {
	return &PythonCollaborator{spec: spec}
}

// GetDataset invokes the benchmark's dataset entry point and decodes its
// result as a Dataset.
func (p *PythonCollaborator) GetDataset(ctx context.Context) (dataset.Dataset, error) {
	var ds dataset.Dataset
	if err := p.call(ctx, p.spec.DatasetEntry, nil, p.spec.Args, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// EvaluateOutput invokes the benchmark's evaluate entry point with the
// aggregated per-task results and run ID.
func (p *PythonCollaborator) EvaluateOutput(ctx context.Context, results map[string]any, runID string) (EvalResult, error) {
	var eval any
	args := []any{results, runID}
	if err := p.call(ctx, p.spec.EvaluateEntry, args, nil, &eval); err != nil {
		return nil, err
	}
	return eval, nil
}

// GetMetrics invokes the benchmark's metrics entry point over an evaluation
// bundle previously returned by EvaluateOutput.
func (p *PythonCollaborator) GetMetrics(ctx context.Context, eval EvalResult) (map[string]any, error) {
	var metrics map[string]any
	args := []any{eval}
	if err := p.call(ctx, p.spec.MetricsEntry, args, nil, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// GetRunDir returns the benchmark's preferred run directory, deferring to
// DefaultRunDir when the benchmark does not define its own.
func (p *PythonCollaborator) GetRunDir(runID string) (string, error) {
	if p.spec.RunDirEntry == "" {
		if p.spec.DefaultRunDir == nil {
			return "", fmt.Errorf("benchmark: no run_dir entry and no default run directory configured")
		}
		return p.spec.DefaultRunDir(runID)
	}

	var path string
	args := []any{runID}
	if err := p.call(context.Background(), p.spec.RunDirEntry, args, nil, &path); err != nil {
		return "", err
	}
	return path, nil
}

// SetupScript returns the configured worker setup script, if any.
func (p *PythonCollaborator) SetupScript() (string, bool) {
	return p.spec.SetupScriptPath, p.spec.SetupScriptPath != ""
}

// RequiresSandbox reports whether this benchmark forbids local execution.
func (p *PythonCollaborator) RequiresSandbox() bool {
	return p.spec.RequiresSandboxFlag
}

// call renders the bootstrap script for entry, runs it in a scratch
// directory with args/kwargs marshaled to call_args.json, and decodes
// result.json into out. A non-empty error.log becomes a ScoringError-free
// plain error; the caller (finalize) is responsible for wrapping benchmark
// failures into a ScoringError with benchmark-level context.
func (p *PythonCollaborator) call(ctx context.Context, entry string, args []any, kwargs map[string]any, out any) error {
	if entry == "" {
		return fmt.Errorf("benchmark: entry point not configured")
	}

	scratch, err := os.MkdirTemp("", "taskbench-benchmark-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory for %s: %w", entry, err)
	}
	defer os.RemoveAll(scratch)

	script, err := renderEntryScript(p.spec.Directory, entry)
	if err != nil {
		return err
	}
	scriptPath := filepath.Join(scratch, "call_entry.py")
	if err := os.WriteFile(scriptPath, script, 0o644); err != nil {
		return fmt.Errorf("writing bootstrap script for %s: %w", entry, err)
	}

	callArgs := map[string]any{"args": args, "kwargs": kwargs}
	callArgsData, err := json.Marshal(callArgs)
	if err != nil {
		return fmt.Errorf("encoding arguments for %s: %w", entry, err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "call_args.json"), callArgsData, 0o644); err != nil {
		return fmt.Errorf("writing call_args.json for %s: %w", entry, err)
	}

	timeout := p.spec.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, cmdArgs := pythonCommand("call_entry.py", p.spec.EnvironmentName)
	cmd := exec.CommandContext(callCtx, name, cmdArgs...)
	cmd.Dir = scratch

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		if errLog, readErr := os.ReadFile(filepath.Join(scratch, "error.log")); readErr == nil {
			return fmt.Errorf("benchmark entry %s failed: %s", entry, strings.TrimSpace(string(errLog)))
		}
		return fmt.Errorf("benchmark entry %s failed: %w (stderr: %s)", entry, runErr, strings.TrimSpace(stderr.String()))
	}

	if out == nil {
		return nil
	}

	resultData, err := os.ReadFile(filepath.Join(scratch, "result.json"))
	if err != nil {
		return fmt.Errorf("reading result for %s: %w", entry, err)
	}
	if err := json.Unmarshal(resultData, out); err != nil {
		return fmt.Errorf("decoding result for %s: %w", entry, err)
	}
	return nil
}

func renderEntryScript(directory, entry string) ([]byte, error) {
	var buf bytes.Buffer
	params := struct{ Directory, Entry string }{Directory: directory, Entry: entry}
	if err := entryTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("rendering bootstrap script for %s: %w", entry, err)
	}
	return buf.Bytes(), nil
}

// pythonCommand mirrors the local transport's interpreter resolution so a
// benchmark can share an agent's conda/venv environment.
func pythonCommand(scriptName, environmentName string) (string, []string) {
	if environmentName != "" {
		return "conda", []string{"run", "-n", environmentName, "python3", scriptName}
	}
	return "python3", []string{scriptName}
}
