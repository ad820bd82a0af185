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

// Package transport defines the Worker Transport contract (C2): the
// abstraction the dispatcher uses to move a task package to a worker,
// launch it, poll for completion, and retrieve outputs. Three backends
// implement it: local-sandbox, container, and remote-VM.
package transport

import (
	"context"
	"errors"

	"github.com/tombee/taskbench/internal/dataset"
)

// ErrTraceUnavailable is returned by FetchTrace on backends that do not
// stream a live trace file (local and container modes poll for a terminal
// output.json instead).
var ErrTraceUnavailable = errors.New("transport: trace streaming not supported by this backend")

// Handle identifies one task's in-flight worker. Its concrete type is
// backend-specific; callers treat it opaquely and pass it back into the
// same Transport's later calls.
type Handle interface {
	// TaskID returns the task this handle was prepared for.
	TaskID() string
}

// Transport is the contract every worker backend implements. Callers invoke
// the five methods in strict order: Prepare, Start, (Poll|FetchTrace)*,
// Teardown. Teardown must always be called, even when Prepare or Start
// failed partway through, so backends must tolerate Teardown on a partially
// initialized handle.
type Transport interface {
	// Prepare provisions a worker for task and returns a handle to it. This
	// may take seconds (local) to minutes (VM create).
	Prepare(ctx context.Context, runID string, task dataset.Task, spec dataset.AgentSpec) (Handle, error)

	// Start launches the given runner script inside the prepared worker.
	// scriptName is the file name the script must be written under
	// (interpreter-specific, from runnerscript.Filename). Start does not
	// wait for completion.
	Start(ctx context.Context, h Handle, scriptName string, script []byte) error

	// Poll checks whether the worker has produced a terminal result. It
	// returns (nil, nil) when the task is still running.
	Poll(ctx context.Context, h Handle) (*dataset.TaskResult, error)

	// FetchTrace pulls the worker's current trace output, if the backend
	// streams one. Backends that instead rely on a single terminal
	// output.json return ErrTraceUnavailable.
	FetchTrace(ctx context.Context, h Handle) ([]byte, error)

	// Teardown releases the worker's resources. It is always invoked,
	// including when Prepare or Start failed; implementations must treat
	// Teardown as idempotent and best-effort per resource.
	Teardown(ctx context.Context, h Handle) error
}
