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

package telemetry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/taskbench/internal/telemetry"
)

func TestRecorder_CumulativeCost(t *testing.T) {
	r := telemetry.NewRecorder()
	r.Record(telemetry.Span{TaskID: "t1", Usage: telemetry.Usage{Model: "gpt-4o", CostUSD: 0.05}})
	r.Record(telemetry.Span{TaskID: "t2", Usage: telemetry.Usage{Model: "gpt-4o", CostUSD: 0.10}})
	r.Record(telemetry.Span{TaskID: "t3"})

	assert.InDelta(t, 0.15, r.CumulativeCost(), 0.0001)
}

func TestRecorder_Latencies(t *testing.T) {
	r := telemetry.NewRecorder()
	start := time.Now()
	r.Record(telemetry.Span{TaskID: "t1", Start: start, End: start.Add(2 * time.Second)})
	r.Record(telemetry.Span{TaskID: "t2", Start: start, End: start.Add(5 * time.Second)})

	latencies := r.Latencies()
	require.Contains(t, latencies, "t1")
	require.Contains(t, latencies, "t2")
	assert.Equal(t, 2*time.Second, latencies["t1"])
	assert.Equal(t, 5*time.Second, latencies["t2"])
}

func TestRecorder_LatenciesKeepsMostRecentSpanPerTask(t *testing.T) {
	r := telemetry.NewRecorder()
	start := time.Now()
	r.Record(telemetry.Span{TaskID: "t1", Start: start, End: start.Add(time.Minute)})
	// simulate a continuation retry of t1 with a shorter span
	r.Record(telemetry.Span{TaskID: "t1", Start: start, End: start.Add(3 * time.Second)})

	latencies := r.Latencies()
	assert.Equal(t, 3*time.Second, latencies["t1"])
}

func TestRecorder_UsageByModel(t *testing.T) {
	r := telemetry.NewRecorder()
	r.Record(telemetry.Span{TaskID: "t1", Usage: telemetry.Usage{Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.01}})
	r.Record(telemetry.Span{TaskID: "t2", Usage: telemetry.Usage{Model: "gpt-4o", PromptTokens: 50, CompletionTokens: 10, CostUSD: 0.02}})
	r.Record(telemetry.Span{TaskID: "t3", Usage: telemetry.Usage{Model: "claude-3", PromptTokens: 200, CompletionTokens: 40, CostUSD: 0.05}})
	r.Record(telemetry.Span{TaskID: "t4"})

	usage := r.UsageByModel()
	require.Contains(t, usage, "gpt-4o")
	require.Contains(t, usage, "claude-3")
	assert.Len(t, usage, 2)

	gpt := usage["gpt-4o"]
	assert.Equal(t, 150, gpt.PromptTokens)
	assert.Equal(t, 30, gpt.CompletionTokens)
	assert.InDelta(t, 0.03, gpt.CostUSD, 0.0001)
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := telemetry.NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record(telemetry.Span{TaskID: "t", Usage: telemetry.Usage{Model: "m", CostUSD: 0.01}})
		}(i)
	}
	wg.Wait()

	assert.InDelta(t, 1.0, r.CumulativeCost(), 0.0001)
}

func TestRecorder_CloseIsNoOp(t *testing.T) {
	r := telemetry.NewRecorder()
	assert.NoError(t, r.Close())
}
