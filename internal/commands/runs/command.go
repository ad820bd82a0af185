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

// Package runs implements the `runs` command tree: listing and inspecting
// entries in the run registry, a SQLite index of every run the CLI has
// seen kept separately from the per-run results bundles themselves.
package runs

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/runregistry"
)

const (
	resultsRoot      = "results"
	registryFilename = "runs.db"
)

// NewCommand creates the runs command with its list/show/rebuild subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect past runs recorded in the run registry",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Runs queries the run registry, a local SQLite index of every
taskbench run, without needing to shell into results/<benchmark>/<run_id>/
directly.

Subcommands:
  list    - List recorded runs, optionally filtered to one benchmark
  show    - Show one run's recorded summary
  rebuild - Regenerate the registry from the on-disk results directory`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newRebuildCommand())

	return cmd
}

func openRegistry() (*runregistry.Registry, error) {
	return runregistry.Open(runregistry.Config{Path: filepath.Join(resultsRoot, registryFilename)})
}

func newListCommand() *cobra.Command {
	var benchmark string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Long:  `List prints runs most-recently-started first, optionally filtered to one benchmark.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return shared.NewExecutionError("opening run registry", err)
			}
			defer registry.Close()

			runsFound, err := registry.List(cmd.Context(), runregistry.ListFilter{Benchmark: benchmark, Limit: limit})
			if err != nil {
				return shared.NewExecutionError("listing runs", err)
			}

			return printRunList(runsFound)
		},
	}

	cmd.Flags().StringVar(&benchmark, "benchmark", "", "Restrict to runs of this benchmark")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to print")

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's recorded summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return shared.NewExecutionError("opening run registry", err)
			}
			defer registry.Close()

			run, err := registry.Get(cmd.Context(), args[0])
			if err != nil {
				return shared.NewMissingInputError(fmt.Sprintf("run %q not found in registry", args[0]), err)
			}

			return printRun(*run)
		},
	}
}

func newRebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the run registry from results/ on disk",
		Long: `Rebuild walks results/<benchmark>/<run_id>/ on disk and repopulates the
registry from each run's submissions log and upload bundle, the recovery
path when the registry database is lost or stale. The registry is never
authoritative; results/ on disk always is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return shared.NewExecutionError("opening run registry", err)
			}
			defer registry.Close()

			if err := runregistry.Rebuild(cmd.Context(), registry, resultsRoot); err != nil {
				return shared.NewExecutionError("rebuilding run registry", err)
			}

			fmt.Println(shared.RenderOK("run registry rebuilt from " + resultsRoot))
			return nil
		},
	}
}
