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

// Package dataset defines the core data model shared by every component of
// the task-execution orchestrator: tasks, datasets, agent specifications,
// and the terminal results produced by running a task on a worker.
package dataset

import (
	"fmt"
	"strings"
)

// ExecutionMode selects which Worker Transport backend dispatches a task.
type ExecutionMode string

const (
	ExecutionModeLocal     ExecutionMode = "local"
	ExecutionModeContainer ExecutionMode = "container"
	ExecutionModeVM        ExecutionMode = "vm"
)

// Task is one unit of work from a benchmark's dataset.
type Task struct {
	// TaskID uniquely identifies this task within its Dataset.
	TaskID string `json:"task_id"`

	// Payload is the opaque input the agent receives.
	Payload map[string]any `json:"payload"`

	// Files maps a logical path (relative to the worker's working directory)
	// to a host path the worker must materialize before invoking the agent.
	Files map[string]string `json:"files,omitempty"`
}

// Dataset is the full set of tasks a benchmark wants evaluated. Iteration
// order carries no meaning; the dispatcher may process it in any order.
type Dataset map[string]Task

// IDs returns the dataset's task IDs in no particular order.
func (d Dataset) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	return ids
}

// AgentSpec describes the user-supplied program under evaluation.
type AgentSpec struct {
	// Entry is "module.function", resolved relative to Directory.
	Entry string `json:"entry"`

	// Directory is the host path containing the agent's code.
	Directory string `json:"directory"`

	// Args are passed to the agent as keyword parameters.
	Args map[string]any `json:"args,omitempty"`

	// ExecutionMode selects the transport backend.
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// EnvironmentName optionally names an interpreter environment
	// (conda/venv) to activate before running the agent.
	EnvironmentName string `json:"environment_name,omitempty"`
}

// Validate checks the fields the orchestrator must have before it can
// provision a single worker. It does not touch the filesystem; callers
// validate Directory's existence separately so the check can be mocked.
func (a AgentSpec) Validate() error {
	if a.Entry == "" {
		return fmt.Errorf("agent spec: entry is required")
	}
	if !strings.Contains(a.Entry, ".") {
		return fmt.Errorf("agent spec: entry %q must be of the form module.function", a.Entry)
	}
	if a.Directory == "" {
		return fmt.Errorf("agent spec: directory is required")
	}
	switch a.ExecutionMode {
	case ExecutionModeLocal, ExecutionModeContainer, ExecutionModeVM:
	default:
		return fmt.Errorf("agent spec: unknown execution_mode %q", a.ExecutionMode)
	}
	return nil
}

// ResultKind classifies a TaskResult's terminal state.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultError   ResultKind = "error"
	ResultTimeout ResultKind = "timeout"
)

// ErrorPrefix and TimeoutPrefix mark the well-known string prefixes used to
// distinguish error/timeout results from successful ones once a TaskResult's
// value has been flattened into the submissions log (spec §3: TaskResult).
const (
	ErrorPrefix   = "ERROR: "
	TimeoutPrefix = "TIMEOUT after "
)

// TaskResult is the terminal outcome recorded for one task.
type TaskResult struct {
	TaskID string `json:"-"`
	Kind   ResultKind `json:"-"`
	// Value is whatever gets serialized into the submissions log: the
	// agent's returned artifact on success, or one of the ERROR/TIMEOUT
	// sentinel strings otherwise.
	Value any `json:"value"`
}

// Success builds a successful TaskResult.
func Success(taskID string, value any) TaskResult {
	return TaskResult{TaskID: taskID, Kind: ResultSuccess, Value: value}
}

// Error builds an error TaskResult with the spec's "ERROR: <message>" framing.
func Error(taskID string, err error) TaskResult {
	return TaskResult{TaskID: taskID, Kind: ResultError, Value: ErrorPrefix + err.Error()}
}

// Timeout builds a timeout TaskResult with the spec's
// "TIMEOUT after <N> seconds" framing.
func Timeout(taskID string, seconds int) TaskResult {
	return TaskResult{
		TaskID: taskID,
		Kind:   ResultTimeout,
		Value:  fmt.Sprintf("%s%d seconds", TimeoutPrefix, seconds),
	}
}

// IsErrorValue reports whether a raw log value looks like an error result,
// per spec §4.5: "a string beginning with ERROR".
func IsErrorValue(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(s, "ERROR")
}
