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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/dataset"
)

// NewCommand creates the run command: dispatch a benchmark's dataset
// against an agent and produce a results bundle. Exit code is 0 even when
// individual tasks failed; non-zero only on a harness-level failure such
// as invalid configuration, an unreadable agent directory, or a benchmark
// that cannot be loaded.
func NewCommand() *cobra.Command {
	var (
		runID           string
		agentName       string
		agentDirectory  string
		entry           string
		agentArgPairs   []string
		benchArgPairs   []string
		executionMode   string
		environmentName string
		maxConcurrent   int
		maxTasks        int
		continueRun     bool
		ignoreErrors    bool
		dryRun          bool
	)

	cmd := &cobra.Command{
		Use:   "run <benchmark>",
		Short: "Run an agent against a benchmark",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run dispatches every task in a benchmark's dataset to the configured
agent, collecting outputs and traces, scoring the results against the
benchmark's own evaluation logic, and writing a results bundle under
results/<benchmark>/<run_id>/.

Worker provisioning is selected by --execution-mode: local runs the
agent in a scratch temp directory, container runs it inside a fresh
Docker/Podman container, and vm launches a dedicated EC2 instance per
task.`,
		Example: `  # Run locally against the default agent/benchmark directories from config
  taskbench run humaneval --agent-directory ./agents/gpt4 --entry solve.run

  # Resume a run: skip tasks that already succeeded, retry errored ones and run any never attempted
  taskbench run humaneval --run-id 20260115-093000 --continue

  # Pass agent and benchmark keyword args
  taskbench run humaneval --agent-directory ./agents/gpt4 --entry solve.run \
    --agent-arg temperature=0.2 --benchmark-arg subset=easy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentArgs, err := parseKeyValueArgs(agentArgPairs)
			if err != nil {
				return shared.NewMissingInputError("parsing --agent-arg", err)
			}
			benchmarkArgs, err := parseKeyValueArgs(benchArgPairs)
			if err != nil {
				return shared.NewMissingInputError("parsing --benchmark-arg", err)
			}

			opts := Options{
				RunID:           runID,
				Benchmark:       args[0],
				AgentName:       agentName,
				AgentDirectory:  agentDirectory,
				Entry:           entry,
				AgentArgs:       agentArgs,
				BenchmarkArgs:   benchmarkArgs,
				ExecutionMode:   dataset.ExecutionMode(executionMode),
				EnvironmentName: environmentName,
				MaxConcurrent:   maxConcurrent,
				MaxTasks:        maxTasks,
				Continue:        continueRun,
				IgnoreErrors:    ignoreErrors,
				DryRun:          dryRun,
			}
			if opts.AgentName == "" {
				opts.AgentName = entry
			}

			res, err := Execute(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (generated when omitted)")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name recorded in the results bundle (default: entry)")
	cmd.Flags().StringVar(&agentDirectory, "agent-directory", "", "Host directory containing the agent's code (default: config agent_directory)")
	cmd.Flags().StringVar(&entry, "entry", "", "Agent entry point, as module.function")
	cmd.Flags().StringArrayVar(&agentArgPairs, "agent-arg", nil, "Agent keyword argument as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&benchArgPairs, "benchmark-arg", nil, "Benchmark keyword argument as key=value (repeatable)")
	cmd.Flags().StringVar(&executionMode, "execution-mode", "", fmt.Sprintf("Worker transport: %s, %s, or %s (default: config execution_mode)",
		dataset.ExecutionModeLocal, dataset.ExecutionModeContainer, dataset.ExecutionModeVM))
	cmd.Flags().StringVar(&environmentName, "environment", "", "Conda/venv environment name to run the agent under")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Maximum tasks dispatched at once (default: config max_concurrent)")
	cmd.Flags().IntVar(&maxTasks, "max-tasks", -1, "Cap the number of tasks dispatched, after continuation filtering (0 dispatches nothing; unset is unlimited)")
	cmd.Flags().BoolVar(&continueRun, "continue", false, "Skip tasks already completed successfully under --run-id, retrying errors")
	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "Treat previously errored tasks as complete too, when combined with --continue")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print what would be dispatched without executing it")

	_ = cmd.MarkFlagRequired("entry")

	return cmd
}
