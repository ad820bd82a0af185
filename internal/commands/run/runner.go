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

package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/uuid"

	"github.com/tombee/taskbench/internal/benchmark"
	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/config"
	"github.com/tombee/taskbench/internal/continuation"
	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/dispatch"
	"github.com/tombee/taskbench/internal/finalize"
	tblog "github.com/tombee/taskbench/internal/log"
	"github.com/tombee/taskbench/internal/rundir"
	"github.com/tombee/taskbench/internal/runregistry"
	"github.com/tombee/taskbench/internal/submissions"
	"github.com/tombee/taskbench/internal/telemetry"
	"github.com/tombee/taskbench/internal/tracing"
	"github.com/tombee/taskbench/internal/transport"
	"github.com/tombee/taskbench/internal/transport/container"
	"github.com/tombee/taskbench/internal/transport/local"
	"github.com/tombee/taskbench/internal/transport/vm"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
)

// resultsRoot is where every run directory lives, relative to the
// invoker's working directory.
const resultsRoot = "results"

// registryFilename is the run index database, stored alongside results
// rather than under the XDG config directory so it travels with a
// checked-out results tree.
const registryFilename = "runs.db"

// Result is everything the command layer needs to print a summary once
// Execute returns.
type Result struct {
	RunID   string
	Dir     *rundir.Dir
	Bundle  *finalize.Bundle
	Results map[string]dataset.TaskResult
}

// Execute loads configuration, resolves the agent and benchmark, dispatches
// every (continuation-filtered) task, and finalizes the run. It returns a
// *shared.ExitError for every harness-level failure so the command layer
// can map it to the right exit code; per-task failures never produce an
// error here, only a result whose bundle/results reflect them.
func Execute(ctx context.Context, opts Options) (*Result, error) {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return nil, shared.NewConfigError("loading config", err)
	}
	applyOverrides(cfg, opts)

	if err := cfg.Validate(); err != nil {
		return nil, shared.NewConfigError("invalid configuration", err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := tblog.WithRunContext(tblog.New(&tblog.Config{
		Level:     cfg.Log.Level,
		Format:    tblog.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	}), runID, opts.Benchmark)

	dir := rundir.New(resultsRoot, opts.Benchmark, runID)
	if opts.DryRun {
		return dryRun(opts, cfg, dir, runID)
	}
	if err := dir.Ensure(); err != nil {
		return nil, shared.NewExecutionError("preparing run directory", err)
	}

	bm := newBenchmark(opts, cfg, dir)

	ds, err := bm.GetDataset(ctx)
	if err != nil {
		return nil, shared.NewScoringError("loading benchmark dataset", err)
	}

	if opts.Continue || opts.IgnoreErrors || opts.MaxTasks >= 0 {
		ds, err = continuation.Filter(ds, dir.SubmissionsPath(), opts.IgnoreErrors, opts.MaxTasks, logger)
		if err != nil {
			return nil, shared.NewExecutionError("filtering dataset for continuation", err)
		}
	}

	spec := dataset.AgentSpec{
		Entry:           opts.Entry,
		Directory:       opts.AgentDirectory,
		Args:            opts.AgentArgs,
		ExecutionMode:   cfg.ExecutionMode,
		EnvironmentName: opts.EnvironmentName,
	}
	if err := spec.Validate(); err != nil {
		return nil, shared.NewMissingInputError("invalid agent specification", err)
	}

	tr, err := newTransport(ctx, cfg, dir, bm)
	if err != nil {
		return nil, shared.NewTransportError("provisioning worker transport", err)
	}

	submissionsLog, err := submissions.Open(dir.SubmissionsPath(), logger)
	if err != nil {
		return nil, shared.NewExecutionError("opening submissions log", err)
	}
	defer submissionsLog.Close()

	sink := telemetry.NewRecorder()
	defer sink.Close()

	var tracingSession finalize.TracingSession
	if cfg.Telemetry.Enabled {
		provider, err := tracing.NewOTelProviderWithConfig(tracing.Config{
			Enabled:     true,
			ServiceName: "taskbench",
			Exporters: []tracing.ExporterConfig{
				{Type: "otlphttp", Endpoint: cfg.Telemetry.Endpoint},
			},
		})
		if err != nil {
			logger.Warn("tracing provider unavailable, continuing without it", "error", err)
		} else {
			tracingSession = provider
		}
	}

	registry, err := openRegistry()
	if err != nil {
		logger.Warn("run registry unavailable, runs list/show will not see this run", "error", err)
	}
	if registry != nil {
		defer registry.Close()
		_ = registry.RecordStart(ctx, runregistry.Run{
			RunID:         runID,
			Benchmark:     opts.Benchmark,
			AgentName:     opts.AgentName,
			ExecutionMode: string(cfg.ExecutionMode),
			StartedAt:     time.Now(),
			TaskCount:     len(ds),
		})
	}

	progress := shared.NewProgressDisplay(shared.GetQuiet(), shared.GetVerbose())
	progress.Start(opts.Benchmark, runID)

	dispatcher := dispatch.New(tr, submissionsLog, dir, runID, spec, dispatch.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		PollInterval:  cfg.PollInterval,
		TaskTimeout:   cfg.TaskTimeout,
		Logger:        logger,
		Telemetry:     sink,
		OnProgress: func(completed, total int) {
			progress.LogMessage(fmt.Sprintf("%d/%d tasks complete", completed, total))
		},
	})
	results := dispatcher.Dispatch(ctx, ds)
	progress.Finish("done")

	finalizer := finalize.New(sink, tracingSession, logger)
	bundle, err := finalizer.Finalize(ctx, dir, bm, finalize.RunConfig{
		AgentName:  opts.AgentName,
		Benchmark:  opts.Benchmark,
		Date:       time.Now().UTC().Format(time.RFC3339),
		RunID:      runID,
		AgentArgs:  opts.AgentArgs,
		RunCommand: runCommandString(opts),
	}, ds, results)
	if err != nil {
		var scoringErr *taskbencherrors.ScoringError
		if taskbencherrors.As(err, &scoringErr) {
			return nil, shared.NewScoringError("finalizing run", err)
		}
		return nil, shared.NewExecutionError("finalizing run", err)
	}

	if registry != nil {
		status := runregistry.StatusCompleted
		_ = registry.RecordComplete(ctx, runID, status, countCompleted(results), bundle.TotalCost)
	}

	return &Result{RunID: runID, Dir: dir, Bundle: bundle, Results: results}, nil
}

// applyOverrides layers CLI flag values onto the loaded config. A zero-value
// flag leaves the config's own setting (or its default) untouched.
func applyOverrides(cfg *config.Config, opts Options) {
	if opts.AgentDirectory != "" {
		cfg.AgentDirectory = opts.AgentDirectory
	}
	if opts.ExecutionMode != "" {
		cfg.ExecutionMode = opts.ExecutionMode
	}
	if opts.MaxConcurrent > 0 {
		cfg.MaxConcurrent = opts.MaxConcurrent
	}
}

// newBenchmark wires a benchmark directory and CLI-supplied keyword args
// into a Python collaborator under the fixed module.function convention
// every benchmark directory follows: a top-level benchmark.py exposing
// get_dataset/evaluate_output/get_metrics.
func newBenchmark(opts Options, cfg *config.Config, dir *rundir.Dir) benchmark.Benchmark {
	benchDir := filepath.Join(cfg.BenchmarkDirectory, opts.Benchmark)

	setupScript := ""
	if candidate := filepath.Join(benchDir, "setup.sh"); fileExists(candidate) {
		setupScript = candidate
	}

	return benchmark.NewPythonCollaborator(benchmark.Spec{
		Directory:       benchDir,
		DatasetEntry:    "benchmark.get_dataset",
		EvaluateEntry:   "benchmark.evaluate_output",
		MetricsEntry:    "benchmark.get_metrics",
		SetupScriptPath: setupScript,
		EnvironmentName: opts.EnvironmentName,
		Args:            opts.BenchmarkArgs,
		DefaultRunDir: func(string) (string, error) {
			return dir.Path(), nil
		},
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// newTransport selects the Worker Transport backend for cfg's (possibly
// flag-overridden) execution mode.
func newTransport(ctx context.Context, cfg *config.Config, dir *rundir.Dir, bm benchmark.Benchmark) (transport.Transport, error) {
	runDirFor := func(taskID string) (string, error) {
		return dir.EnsureTaskSubdir(taskID)
	}

	switch cfg.ExecutionMode {
	case dataset.ExecutionModeLocal:
		return local.New(runDirFor), nil

	case dataset.ExecutionModeContainer:
		var setupScript []byte
		if path, ok := bm.SetupScript(); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading benchmark setup script %s: %w", path, err)
			}
			setupScript = data
		}
		return container.New(runDirFor, setupScript, cfg.Container.Image), nil

	case dataset.ExecutionModeVM:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.VM.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS credentials: %w", err)
		}
		client := ec2.NewFromConfig(awsCfg)
		vmCfg := vm.Config{
			Region:            cfg.VM.Region,
			ImageID:           cfg.VM.ImageID,
			InstanceType:      cfg.VM.InstanceType,
			SubnetID:          cfg.VM.SubnetID,
			SecurityGroupID:   cfg.VM.SecurityGroupID,
			KeyName:           cfg.VM.KeyName,
			SSHUser:           cfg.VM.SSHUser,
			SSHPrivateKeyPath: cfg.VM.SSHPrivateKeyPath,
			BootTimeout:       cfg.VM.BootTimeout,
			HomeDir:           cfg.VM.HomeDir,
		}
		return vm.New(client, vmCfg, runDirFor, slog.Default()), nil

	default:
		return nil, fmt.Errorf("unknown execution mode %q", cfg.ExecutionMode)
	}
}

// openRegistry opens the run index alongside the results tree, creating the
// results directory first if this is the very first run recorded.
func openRegistry() (*runregistry.Registry, error) {
	if err := os.MkdirAll(resultsRoot, 0o755); err != nil {
		return nil, err
	}
	return runregistry.Open(runregistry.Config{Path: filepath.Join(resultsRoot, registryFilename)})
}

func countCompleted(results map[string]dataset.TaskResult) int {
	count := 0
	for _, r := range results {
		if r.Kind != "" {
			count++
		}
	}
	return count
}

func runCommandString(opts Options) string {
	return fmt.Sprintf("taskbench run --benchmark %s --agent-directory %s --entry %s --execution-mode %s",
		opts.Benchmark, opts.AgentDirectory, opts.Entry, opts.ExecutionMode)
}

// dryRun reports what a real invocation would do without provisioning any
// worker or touching the benchmark or agent directories beyond the stat
// calls config.Validate already performed.
func dryRun(opts Options, cfg *config.Config, dir *rundir.Dir, runID string) (*Result, error) {
	out := shared.NewDryRunOutput()
	out.DryRunCreate(dir.Path())
	out.DryRunCreate(dir.SubmissionsPath())
	out.DryRunCreateWithDescription(dir.UploadPath("json"), fmt.Sprintf("%s execution", cfg.ExecutionMode))
	if cfg.ExecutionMode == dataset.ExecutionModeVM {
		out.DryRunCreateWithDescription(dir.AgentLogsDir(), "streamed VM traces")
	}
	fmt.Println(out.String())
	return &Result{RunID: runID, Dir: dir}, nil
}
