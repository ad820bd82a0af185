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

package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/taskbench/internal/runregistry"
)

func TestPrintRunList(t *testing.T) {
	registry, err := runregistry.Open(runregistry.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer registry.Close()

	ctx := context.Background()
	require.NoError(t, registry.RecordStart(ctx, runregistry.Run{
		RunID: "run-1", Benchmark: "humaneval", AgentName: "gpt4",
		ExecutionMode: "local", StartedAt: time.Now(), TaskCount: 10,
	}))
	require.NoError(t, registry.RecordComplete(ctx, "run-1", runregistry.StatusCompleted, 10, 1.2345))

	got, err := registry.List(ctx, runregistry.ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.NoError(t, printRunList(got))
}

func TestPrintRunList_Empty(t *testing.T) {
	assert.NoError(t, printRunList(nil))
}

func TestPrintRun(t *testing.T) {
	run := runregistry.Run{
		RunID: "run-1", Benchmark: "humaneval", AgentName: "gpt4",
		ExecutionMode: "local", Status: runregistry.StatusCompleted,
		StartedAt: time.Now(), TaskCount: 10, CompletedCount: 10, TotalCost: 1.5,
	}
	assert.NoError(t, printRun(run))
}

func TestStatusLabel(t *testing.T) {
	assert.Contains(t, statusLabel(runregistry.StatusCompleted), "completed")
	assert.Contains(t, statusLabel(runregistry.StatusFailed), "failed")
	assert.Contains(t, statusLabel(runregistry.StatusIncomplete), "incomplete")
	assert.Equal(t, "unknown", statusLabel("unknown"))
}
