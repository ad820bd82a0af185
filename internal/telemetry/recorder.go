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

package telemetry

import (
	"sync"
	"time"
)

// Recorder is an in-memory Sink. It holds every recorded Span for the
// lifetime of one run, which is bounded by dataset size rather than wall
// clock, matching the run-scoped lifetime of internal/tracing's
// MetricsCollector.
type Recorder struct {
	mu    sync.RWMutex
	spans []Span
}

var _ Sink = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends span under a write lock.
func (r *Recorder) Record(span Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

// CumulativeCost sums CostUSD across every recorded span.
func (r *Recorder) CumulativeCost() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total float64
	for _, s := range r.spans {
		total += s.Usage.CostUSD
	}
	return total
}

// Latencies returns each task's End minus Start. A task recorded more than
// once (a continuation retry) keeps only its most recent span, matching
// the submissions log's last-occurrence-wins semantics.
func (r *Recorder) Latencies() map[string]time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := latestByTask(r.spans)
	out := make(map[string]time.Duration, len(latest))
	for taskID, s := range latest {
		out[taskID] = s.End.Sub(s.Start)
	}
	return out
}

// UsageByModel sums prompt tokens, completion tokens, and cost per model
// across every recorded span, regardless of continuation duplicates: a
// retried task's superseded attempt still spent real tokens.
func (r *Recorder) UsageByModel() map[string]ModelUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ModelUsage)
	for _, s := range r.spans {
		if s.Usage.Model == "" {
			continue
		}
		mu := out[s.Usage.Model]
		mu.Model = s.Usage.Model
		mu.PromptTokens += s.Usage.PromptTokens
		mu.CompletionTokens += s.Usage.CompletionTokens
		mu.CostUSD += s.Usage.CostUSD
		out[s.Usage.Model] = mu
	}
	return out
}

// Close is a no-op: Recorder holds no external resources.
func (r *Recorder) Close() error {
	return nil
}

// latestByTask collapses spans to the last occurrence per task ID,
// preserving append order as recency.
func latestByTask(spans []Span) map[string]Span {
	latest := make(map[string]Span, len(spans))
	for _, s := range spans {
		latest[s.TaskID] = s
	}
	return latest
}
