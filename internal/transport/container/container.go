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

// Package container implements the Container Worker Transport (C2.2): a
// fixed-image Docker/Podman container per task, kept alive with an idle
// command, built on pkg/security/sandbox's DockerFactory.
package container

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/transport"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
	"github.com/tombee/taskbench/pkg/security/sandbox"
)

// WorkspaceDir is the fixed in-container working directory, matching
// pkg/security/sandbox.dockerSandbox's own default.
const WorkspaceDir = "/workspace"

// Transport provisions workers as Docker/Podman containers.
type Transport struct {
	factory     *sandbox.DockerFactory
	runDirFor   func(taskID string) (string, error)
	setupScript []byte // optional benchmark-provided setup script, run once per container
	image       string // overrides sandbox.DefaultImage when non-empty
}

// New creates a container Transport. runDirFor returns (creating if absent)
// the run directory's per-task sub-directory that teardown copies the
// worker's workspace into. setupScript, when non-nil, is copied into the
// container and executed during Prepare after dependency installation.
// image overrides the fixed image every worker container runs; an empty
// string keeps sandbox.DefaultImage.
func New(runDirFor func(taskID string) (string, error), setupScript []byte, image string) *Transport {
	return &Transport{
		factory:     sandbox.NewDockerFactory(),
		runDirFor:   runDirFor,
		setupScript: setupScript,
		image:       image,
	}
}

// handle is the container transport's worker handle.
type handle struct {
	taskID  string
	sandbox sandbox.Sandbox
	started time.Time
}

func (h *handle) TaskID() string { return h.taskID }

var _ transport.Transport = (*Transport)(nil)

// Prepare starts a fixed-image container, copies the agent directory and
// per-task input files into its workspace, and installs dependencies.
func (t *Transport) Prepare(ctx context.Context, runID string, task dataset.Task, spec dataset.AgentSpec) (transport.Handle, error) {
	if !t.factory.Available(ctx) {
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare",
			Cause: fmt.Errorf("no container runtime available")}
	}

	sb, err := t.factory.Create(ctx, sandbox.Config{
		TaskID:      task.TaskID,
		Image:       t.image,
		NetworkMode: sandbox.NetworkFull,
		Timeout:     2 * time.Hour,
	})
	if err != nil {
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := copyAgentDirectoryInto(sb, spec.Directory); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	inputJSON, err := json.Marshal(map[string]any{task.TaskID: task.Payload})
	if err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}
	if err := sb.WriteFile("input.json", inputJSON); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	argsJSON, err := json.Marshal(spec.Args)
	if err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}
	if err := sb.WriteFile("args.json", argsJSON); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	for logical, hostPath := range task.Files {
		data, err := os.ReadFile(hostPath)
		if err != nil {
			_ = sb.Cleanup()
			return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
		}
		rel := strings.TrimPrefix(logical, "/")
		if err := sb.WriteFile(rel, data); err != nil {
			_ = sb.Cleanup()
			return nil, &taskbencherrors.TransportError{Mode: "container", TaskID: task.TaskID, Stage: "prepare", Cause: err}
		}
	}

	if err := t.runSetup(ctx, sb, task.TaskID); err != nil {
		_ = sb.Cleanup()
		return nil, err
	}

	return &handle{taskID: task.TaskID, sandbox: sb, started: time.Now()}, nil
}

// runSetup installs the pinned tracing dependency and requirements.txt (if
// present in the workspace), then the benchmark's setup script (if any).
func (t *Transport) runSetup(ctx context.Context, sb sandbox.Sandbox, taskID string) error {
	tracingStep := []string{"pip", "install", "--quiet", tracingDependency}
	if _, err := sb.Execute(ctx, tracingStep[0], tracingStep[1:]); err != nil {
		return &taskbencherrors.TransportError{Mode: "container", TaskID: taskID, Stage: "setup", Cause: err}
	}

	if _, err := sb.ReadFile("requirements.txt"); err == nil {
		if _, err := sb.Execute(ctx, "pip", []string{"install", "--quiet", "-r", "requirements.txt"}); err != nil {
			return &taskbencherrors.TransportError{Mode: "container", TaskID: taskID, Stage: "setup", Cause: err}
		}
	}

	if len(t.setupScript) > 0 {
		if err := sb.WriteFile("setup.sh", t.setupScript); err != nil {
			return &taskbencherrors.TransportError{Mode: "container", TaskID: taskID, Stage: "setup", Cause: err}
		}
		if _, err := sb.Execute(ctx, "sh", []string{"setup.sh"}); err != nil {
			return &taskbencherrors.TransportError{Mode: "container", TaskID: taskID, Stage: "setup", Cause: err}
		}
	}

	return nil
}

// tracingDependency is the pinned package installed into every container
// worker so the runner script's tracing_context import succeeds.
const tracingDependency = "opentelemetry-api==1.27.0"

// Start writes the runner script into the container and launches it
// detached, surviving the exec call's own return.
func (t *Transport) Start(ctx context.Context, h transport.Handle, scriptName string, script []byte) error {
	ch := h.(*handle)
	if err := ch.sandbox.WriteFile(scriptName, script); err != nil {
		return &taskbencherrors.TransportError{Mode: "container", TaskID: ch.taskID, Stage: "start", Cause: err}
	}

	// nohup + background + disown so the runner keeps going after this Execute
	// call returns; its completion is observed later via output.json polling.
	cmd := fmt.Sprintf("cd %s && nohup python3 %s > stdout.log 2> stderr.log & disown", WorkspaceDir, scriptName)
	if _, err := ch.sandbox.Execute(ctx, "sh", []string{"-c", cmd}); err != nil {
		return &taskbencherrors.TransportError{Mode: "container", TaskID: ch.taskID, Stage: "start", Cause: err}
	}

	return nil
}

// Poll runs `test -f output.json` inside the container; when present, the
// file is read back and parsed.
func (t *Transport) Poll(ctx context.Context, h transport.Handle) (*dataset.TaskResult, error) {
	ch := h.(*handle)

	if _, err := ch.sandbox.Execute(ctx, "test", []string{"-f", "output.json"}); err == nil {
		data, err := ch.sandbox.ReadFile("output.json")
		if err != nil {
			return nil, fmt.Errorf("reading output.json for task %s: %w", ch.taskID, err)
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("parsing output.json for task %s: %w", ch.taskID, err)
		}
		result := dataset.Success(ch.taskID, value)
		return &result, nil
	}

	if _, err := ch.sandbox.Execute(ctx, "test", []string{"-f", "error.log"}); err == nil {
		data, err := ch.sandbox.ReadFile("error.log")
		if err != nil {
			return nil, fmt.Errorf("reading error.log for task %s: %w", ch.taskID, err)
		}
		result := dataset.Error(ch.taskID, fmt.Errorf("%s", strings.TrimSpace(string(data))))
		return &result, nil
	}

	return nil, nil
}

// FetchTrace is not supported by the container backend: like local mode it
// relies on a single terminal output.json/error.log.
func (t *Transport) FetchTrace(ctx context.Context, h transport.Handle) ([]byte, error) {
	return nil, transport.ErrTraceUnavailable
}

// Teardown copies the container's workspace back to the run directory, then
// forcibly removes the container.
func (t *Transport) Teardown(ctx context.Context, h transport.Handle) error {
	ch := h.(*handle)

	if copier, ok := ch.sandbox.(sandbox.WorkspaceCopier); ok && t.runDirFor != nil {
		if dest, err := t.runDirFor(ch.taskID); err == nil {
			_ = copier.CopyWorkspaceTo(ctx, dest)
		}
	}

	return ch.sandbox.Cleanup()
}

// copyAgentDirectoryInto recursively copies srcDir's contents into the
// container's workspace via the sandbox's file-copy primitive.
func copyAgentDirectoryInto(sb sandbox.Sandbox, srcDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return sb.WriteFile(rel, data)
	})
}
