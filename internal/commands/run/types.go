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

import "github.com/tombee/taskbench/internal/dataset"

// Options collects every flag the run command accepts: benchmark/agent
// identity, the agent's entry point and directory, keyword args for both
// sides, dispatch limits, continuation behavior, and the execution-mode
// backend.
type Options struct {
	RunID     string
	Benchmark string
	AgentName string

	AgentDirectory string
	Entry          string
	AgentArgs      map[string]any
	BenchmarkArgs  map[string]any

	ExecutionMode   dataset.ExecutionMode
	EnvironmentName string

	MaxConcurrent int

	// MaxTasks caps the number of tasks dispatched after continuation
	// filtering. Negative means unset/unlimited; zero means dispatch
	// nothing; positive caps the dataset to that size.
	MaxTasks int

	Continue     bool
	IgnoreErrors bool

	DryRun bool
}
