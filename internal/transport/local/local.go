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

// Package local implements the Local sandbox Worker Transport (C2.1): a
// fresh temp directory per task, a subprocess runner, and output.json
// polling, built on top of pkg/security/sandbox's process-level fallback
// sandbox.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/transport"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
	"github.com/tombee/taskbench/pkg/security"
	"github.com/tombee/taskbench/pkg/security/sandbox"
)

// Transport provisions workers as subprocesses inside temp directories.
type Transport struct {
	factory   *sandbox.FallbackFactory
	shellCfg  *security.ShellSecurityConfig
	runDirFor func(taskID string) (string, error)
}

// New creates a local Transport. runDirFor returns (creating if absent) the
// run directory's per-task sub-directory that teardown copies the worker's
// scratch space into.
func New(runDirFor func(taskID string) (string, error)) *Transport {
	return &Transport{
		factory:   sandbox.NewFallbackFactory(),
		shellCfg:  security.DefaultShellSecurityConfig(),
		runDirFor: runDirFor,
	}
}

// handle is the local transport's worker handle.
type handle struct {
	taskID          string
	sandbox         sandbox.Sandbox
	root            string
	cmd             *exec.Cmd
	environmentName string
}

func (h *handle) TaskID() string { return h.taskID }

var _ transport.Transport = (*Transport)(nil)

// Prepare creates a temp-directory sandbox, copies the agent directory tree
// into it, writes input.json and args.json, and materializes task files.
func (t *Transport) Prepare(ctx context.Context, runID string, task dataset.Task, spec dataset.AgentSpec) (transport.Handle, error) {
	sb, err := t.factory.Create(ctx, sandbox.Config{
		TaskID:  task.TaskID,
		Env:     map[string]string{},
		Timeout: 2 * time.Hour,
	})
	if err != nil {
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	rooted, ok := sb.(sandbox.Rooted)
	if !ok {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare",
			Cause: fmt.Errorf("fallback sandbox does not expose a root path")}
	}
	root := rooted.RootPath()

	if err := copyTree(spec.Directory, root); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := writeJSON(filepath.Join(root, "input.json"), map[string]any{task.TaskID: task.Payload}); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}
	if err := writeJSON(filepath.Join(root, "args.json"), spec.Args); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := materializeFiles(task.Files, root); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	if err := installRequirements(ctx, sb, root); err != nil {
		_ = sb.Cleanup()
		return nil, &taskbencherrors.TransportError{Mode: "local", TaskID: task.TaskID, Stage: "prepare", Cause: err}
	}

	return &handle{
		taskID:          task.TaskID,
		sandbox:         sb,
		root:            root,
		environmentName: spec.EnvironmentName,
	}, nil
}

// Start writes the runner script and launches it as a detached child
// process rooted at the sandbox directory, optionally through an
// environment activator.
func (t *Transport) Start(ctx context.Context, h transport.Handle, scriptName string, script []byte) error {
	lh := h.(*handle)
	if err := lh.sandbox.WriteFile(scriptName, script); err != nil {
		return &taskbencherrors.TransportError{Mode: "local", TaskID: lh.taskID, Stage: "start", Cause: err}
	}

	name, args := runCommand(scriptName, lh.environmentName)
	cmd := exec.Command(name, args...)
	cmd.Dir = lh.root
	cmd.Env = t.shellCfg.SanitizeEnvironment(os.Environ())

	stdout, err := os.Create(filepath.Join(lh.root, "stdout.log"))
	if err != nil {
		return &taskbencherrors.TransportError{Mode: "local", TaskID: lh.taskID, Stage: "start", Cause: err}
	}
	stderr, err := os.Create(filepath.Join(lh.root, "stderr.log"))
	if err != nil {
		stdout.Close()
		return &taskbencherrors.TransportError{Mode: "local", TaskID: lh.taskID, Stage: "start", Cause: err}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return &taskbencherrors.TransportError{Mode: "local", TaskID: lh.taskID, Stage: "start", Cause: err}
	}
	lh.cmd = cmd

	go func() {
		_ = cmd.Wait()
		stdout.Close()
		stderr.Close()
	}()

	return nil
}

// Poll checks for output.json (success) or error.log (failure) in the
// sandbox root.
func (t *Transport) Poll(ctx context.Context, h transport.Handle) (*dataset.TaskResult, error) {
	lh := h.(*handle)

	if data, err := os.ReadFile(filepath.Join(lh.root, "output.json")); err == nil {
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("parsing output.json for task %s: %w", lh.taskID, err)
		}
		result := dataset.Success(lh.taskID, value)
		return &result, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if data, err := os.ReadFile(filepath.Join(lh.root, "error.log")); err == nil {
		result := dataset.Error(lh.taskID, fmt.Errorf("%s", strings.TrimSpace(string(data))))
		return &result, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return nil, nil
}

// FetchTrace is not supported locally: local mode relies on a single
// terminal output.json/error.log rather than a streamed trace file.
func (t *Transport) FetchTrace(ctx context.Context, h transport.Handle) ([]byte, error) {
	return nil, transport.ErrTraceUnavailable
}

// Teardown copies the sandbox's scratch directory into the run directory's
// per-task sub-directory for post-mortem inspection, then removes it.
func (t *Transport) Teardown(ctx context.Context, h transport.Handle) error {
	lh := h.(*handle)

	if lh.cmd != nil && lh.cmd.Process != nil {
		_ = lh.cmd.Process.Kill()
	}

	if t.runDirFor != nil {
		if dest, err := t.runDirFor(lh.taskID); err == nil {
			_ = copyTree(lh.root, dest)
		}
	}

	return lh.sandbox.Cleanup()
}

// runCommand builds the interpreter invocation for scriptName, optionally
// wrapped in a conda environment activator.
func runCommand(scriptName, environmentName string) (string, []string) {
	if environmentName != "" {
		return "conda", []string{"run", "-n", environmentName, "python3", scriptName}
	}
	return "python3", []string{scriptName}
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// materializeFiles copies each logical-path -> host-path entry into dest,
// stripping any absolute path prefix and preserving relative layout. A
// host path containing glob metacharacters (e.g. "fixtures/**/*.json") is
// expanded with doublestar and every match is copied beneath the logical
// path, which is then treated as a directory rather than a file name.
func materializeFiles(files map[string]string, dest string) error {
	for logical, hostPath := range files {
		rel := strings.TrimPrefix(logical, string(filepath.Separator))
		target := filepath.Join(dest, rel)

		if !doublestar.ValidatePattern(hostPath) || !hasMeta(hostPath) {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("materializing %s: %w", logical, err)
			}
			if err := copyFile(hostPath, target); err != nil {
				return fmt.Errorf("materializing %s from %s: %w", logical, hostPath, err)
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(hostPath)
		if err != nil {
			return fmt.Errorf("expanding glob %s for %s: %w", hostPath, logical, err)
		}
		base := globBase(hostPath)
		for _, match := range matches {
			matchRel, err := filepath.Rel(base, match)
			if err != nil {
				matchRel = filepath.Base(match)
			}
			matchTarget := filepath.Join(target, matchRel)
			if err := os.MkdirAll(filepath.Dir(matchTarget), 0o755); err != nil {
				return fmt.Errorf("materializing %s: %w", logical, err)
			}
			if err := copyFile(match, matchTarget); err != nil {
				return fmt.Errorf("materializing %s from %s: %w", logical, match, err)
			}
		}
	}
	return nil
}

// hasMeta reports whether pattern contains glob metacharacters doublestar
// would otherwise treat literally as path separators.
func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// globBase returns the longest path prefix of pattern that contains no
// glob metacharacters, the root relative matches are reparented under.
func globBase(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	base := make([]string, 0, len(parts))
	for _, part := range parts {
		if hasMeta(part) {
			break
		}
		base = append(base, part)
	}
	if len(base) == 0 {
		return "."
	}
	return filepath.FromSlash(strings.Join(base, "/"))
}

// installRequirements looks for a requirements.txt anywhere under root
// (benchmarks sometimes nest the agent's Python package a level or two
// down) and pip-installs it, mirroring the container transport's fixed
// root-level check but tolerant of nested layouts.
func installRequirements(ctx context.Context, sb sandbox.Sandbox, root string) error {
	matches, err := doublestar.FilepathGlob(filepath.Join(root, "**", "requirements.txt"))
	if err != nil {
		return fmt.Errorf("searching for requirements.txt: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	rel, err := filepath.Rel(root, matches[0])
	if err != nil {
		rel = "requirements.txt"
	}
	if _, err := sb.Execute(ctx, "pip", []string{"install", "--quiet", "-r", filepath.ToSlash(rel)}); err != nil {
		return fmt.Errorf("installing %s: %w", rel, err)
	}
	return nil
}

// copyTree recursively copies src into dest, creating dest if needed.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
