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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/taskbench/internal/config"
	"github.com/tombee/taskbench/internal/dataset"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{
		AgentDirectory: "/configured/agent",
		ExecutionMode:  dataset.ExecutionModeLocal,
		MaxConcurrent:  4,
	}

	applyOverrides(cfg, Options{
		AgentDirectory: "/flag/agent",
		ExecutionMode:  dataset.ExecutionModeContainer,
		MaxConcurrent:  8,
	})

	assert.Equal(t, "/flag/agent", cfg.AgentDirectory)
	assert.Equal(t, dataset.ExecutionModeContainer, cfg.ExecutionMode)
	assert.Equal(t, 8, cfg.MaxConcurrent)
}

func TestApplyOverrides_ZeroValuesLeaveConfigUnchanged(t *testing.T) {
	cfg := &config.Config{
		AgentDirectory: "/configured/agent",
		ExecutionMode:  dataset.ExecutionModeLocal,
		MaxConcurrent:  4,
	}

	applyOverrides(cfg, Options{})

	assert.Equal(t, "/configured/agent", cfg.AgentDirectory)
	assert.Equal(t, dataset.ExecutionModeLocal, cfg.ExecutionMode)
	assert.Equal(t, 4, cfg.MaxConcurrent)
}

func TestCountCompleted(t *testing.T) {
	results := map[string]dataset.TaskResult{
		"task-1": dataset.Success("task-1", "ok"),
		"task-2": dataset.Error("task-2", assertError("boom")),
		"task-3": {TaskID: "task-3"},
	}

	assert.Equal(t, 2, countCompleted(results))
}

func TestTaskCounts(t *testing.T) {
	results := map[string]dataset.TaskResult{
		"task-1": dataset.Success("task-1", "ok"),
		"task-2": dataset.Success("task-2", "ok"),
		"task-3": dataset.Error("task-3", assertError("boom")),
		"task-4": dataset.Timeout("task-4", 60),
	}

	counts := taskCounts(results)
	assert.Equal(t, 2, counts[string(dataset.ResultSuccess)])
	assert.Equal(t, 1, counts[string(dataset.ResultError)])
	assert.Equal(t, 1, counts[string(dataset.ResultTimeout)])
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "setup.sh")
	require.NoError(t, os.WriteFile(present, []byte("#!/bin/sh\n"), 0o755))

	assert.True(t, fileExists(present))
	assert.False(t, fileExists(filepath.Join(dir, "missing.sh")))
	assert.False(t, fileExists(dir))
}

func TestRunCommandString(t *testing.T) {
	cmd := runCommandString(Options{
		Benchmark:      "humaneval",
		AgentDirectory: "/agents/gpt4",
		Entry:          "solve.run",
		ExecutionMode:  dataset.ExecutionModeLocal,
	})

	assert.Contains(t, cmd, "humaneval")
	assert.Contains(t, cmd, "/agents/gpt4")
	assert.Contains(t, cmd, "solve.run")
	assert.Contains(t, cmd, "local")
}

type assertError string

func (e assertError) Error() string { return string(e) }
