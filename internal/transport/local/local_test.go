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

package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/transport"
	"github.com/tombee/taskbench/internal/transport/local"
)

func writeAgent(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "solver.py"), []byte("def run(task, **kwargs):\n    return {}\n"), 0o644))
}

func TestTransport_PrepareWritesInputsAndMaterializesFiles(t *testing.T) {
	agentDir := t.TempDir()
	writeAgent(t, agentDir)

	resourceFile := filepath.Join(t.TempDir(), "resource.txt")
	require.NoError(t, os.WriteFile(resourceFile, []byte("hello"), 0o644))

	runDir := t.TempDir()
	tr := local.New(func(taskID string) (string, error) {
		dest := filepath.Join(runDir, taskID)
		return dest, os.MkdirAll(dest, 0o755)
	})

	task := dataset.Task{
		TaskID:  "task-1",
		Payload: map[string]any{"question": "2+2"},
		Files:   map[string]string{"resource.txt": resourceFile},
	}
	spec := dataset.AgentSpec{
		Entry:         "solver.run",
		Directory:     agentDir,
		ExecutionMode: dataset.ExecutionModeLocal,
	}

	h, err := tr.Prepare(context.Background(), "run-1", task, spec)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "task-1", h.TaskID())

	require.NoError(t, tr.Teardown(context.Background(), h))

	copied := filepath.Join(runDir, "task-1")
	assert.FileExists(t, filepath.Join(copied, "solver.py"))
	assert.FileExists(t, filepath.Join(copied, "input.json"))
	assert.FileExists(t, filepath.Join(copied, "args.json"))
	assert.FileExists(t, filepath.Join(copied, "resource.txt"))
}

func TestTransport_PollDetectsOutputAndError(t *testing.T) {
	agentDir := t.TempDir()
	writeAgent(t, agentDir)

	runDir := t.TempDir()
	tr := local.New(func(taskID string) (string, error) {
		dest := filepath.Join(runDir, taskID)
		return dest, os.MkdirAll(dest, 0o755)
	})

	task := dataset.Task{TaskID: "task-2", Payload: map[string]any{"q": "1"}}
	spec := dataset.AgentSpec{Entry: "solver.run", Directory: agentDir, ExecutionMode: dataset.ExecutionModeLocal}

	h, err := tr.Prepare(context.Background(), "run-1", task, spec)
	require.NoError(t, err)

	result, err := tr.Poll(context.Background(), h)
	require.NoError(t, err)
	assert.Nil(t, result, "no output.json or error.log yet")

	require.NoError(t, tr.Teardown(context.Background(), h))
}

func TestTransport_FetchTraceUnsupported(t *testing.T) {
	agentDir := t.TempDir()
	writeAgent(t, agentDir)

	tr := local.New(func(string) (string, error) { return t.TempDir(), nil })
	task := dataset.Task{TaskID: "task-3"}
	spec := dataset.AgentSpec{Entry: "solver.run", Directory: agentDir, ExecutionMode: dataset.ExecutionModeLocal}

	h, err := tr.Prepare(context.Background(), "run-1", task, spec)
	require.NoError(t, err)
	defer tr.Teardown(context.Background(), h)

	_, err = tr.FetchTrace(context.Background(), h)
	assert.ErrorIs(t, err, transport.ErrTraceUnavailable)
}

func TestTransport_RoundTripWithRealProcess(t *testing.T) {
	if _, err := os.Stat("/usr/bin/python3"); err != nil {
		t.Skip("python3 not available")
	}

	agentDir := t.TempDir()
	writeAgent(t, agentDir)

	runDir := t.TempDir()
	tr := local.New(func(taskID string) (string, error) {
		dest := filepath.Join(runDir, taskID)
		return dest, os.MkdirAll(dest, 0o755)
	})

	task := dataset.Task{TaskID: "task-4", Payload: map[string]any{"q": "1"}}
	spec := dataset.AgentSpec{Entry: "solver.run", Directory: agentDir, ExecutionMode: dataset.ExecutionModeLocal}

	h, err := tr.Prepare(context.Background(), "run-1", task, spec)
	require.NoError(t, err)
	defer tr.Teardown(context.Background(), h)

	script := []byte("import json\nwith open('output.json', 'w') as f:\n    json.dump({'ok': True}, f)\n")
	require.NoError(t, tr.Start(context.Background(), h, "run_agent.py", script))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := tr.Poll(context.Background(), h)
		require.NoError(t, err)
		if result != nil {
			assert.Equal(t, dataset.ResultSuccess, result.Kind)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("timed out waiting for output.json")
}
