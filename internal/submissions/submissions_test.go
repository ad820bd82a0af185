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

package submissions_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/taskbench/internal/dataset"
	"github.com/tombee/taskbench/internal/submissions"
)

func TestLog_AppendAndListCompleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_RAW_SUBMISSIONS.jsonl")

	log, err := submissions.Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, log.Append(dataset.Success("task-1", "ok")))
	require.NoError(t, log.Append(dataset.Error("task-2", errors.New("boom"))))
	require.NoError(t, log.Append(dataset.Timeout("task-3", 7200)))
	require.NoError(t, log.Close())

	completed, err := submissions.ListCompleted(path, nil)
	require.NoError(t, err)

	assert.True(t, completed["task-1"])
	assert.False(t, completed["task-2"])
	assert.False(t, completed["task-3"])
}

func TestLog_LastOccurrenceWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_RAW_SUBMISSIONS.jsonl")

	log, err := submissions.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, log.Append(dataset.Error("task-1", errors.New("first attempt failed"))))
	require.NoError(t, log.Close())

	// simulate a continuation run reopening the log and retrying task-1
	log, err = submissions.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, log.Append(dataset.Success("task-1", "ok on retry")))
	require.NoError(t, log.Close())

	completed, err := submissions.ListCompleted(path, nil)
	require.NoError(t, err)
	assert.True(t, completed["task-1"], "most recent entry for task-1 is a success")
}

func TestAggregate_ReturnsLatestValuePerTask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_RAW_SUBMISSIONS.jsonl")

	log, err := submissions.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, log.Append(dataset.Success("task-1", "ok")))
	require.NoError(t, log.Append(dataset.Error("task-2", errors.New("boom"))))
	require.NoError(t, log.Close())

	values, err := submissions.Aggregate(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", values["task-1"])
	assert.Equal(t, "ERROR: boom", values["task-2"])
}

func TestListCompleted_MissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does_not_exist.jsonl")

	completed, err := submissions.ListCompleted(path, nil)
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestListCompleted_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_RAW_SUBMISSIONS.jsonl")

	content := `{"task-1": "ok"}
not valid json at all
{"task-2": "ok"
{"task-3": "ok"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	completed, err := submissions.ListCompleted(path, nil)
	require.NoError(t, err)

	assert.True(t, completed["task-1"])
	assert.True(t, completed["task-3"])
	assert.Len(t, completed, 2)
}

func TestLog_AppendIsLineAtomicUnderConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_RAW_SUBMISSIONS.jsonl")

	log, err := submissions.Open(path, nil)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taskID := "task-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			_ = log.Append(dataset.Success(taskID, i))
		}(i)
	}
	wg.Wait()
	require.NoError(t, log.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := splitLines(raw)
	assert.Len(t, lines, n)
	for _, line := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Len(t, record, 1)
	}
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			if i > start {
				lines = append(lines, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return lines
}
