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

// Package telemetry implements the run's tracing sink: a store appended to
// concurrently by every per-task worker routine and queried exactly once,
// by the finalizer, for cumulative cost and per-task latency. It is
// deliberately separate from internal/tracing's MetricsCollector, which
// pushes Prometheus/OTel instruments outward during a run; this package
// answers a pull query after the run ends.
package telemetry

import "time"

// Usage describes what a single task's agent invocation reported about its
// own cost, if anything. An agent that never reports usage still produces
// a valid Span with a zero Usage; Sink implementations treat Model == ""
// as "unreported" rather than an error.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Span records one task's wall-clock window, from the worker routine
// admitting the task past the concurrency semaphore to its terminal
// result, along with whatever usage the agent reported.
type Span struct {
	TaskID string
	Start  time.Time
	End    time.Time
	Usage  Usage
}

// Latency is one task's span duration, End minus Start: the time from
// admission to terminal result, not the spread between the agent's first
// and last model calls.
type Latency struct {
	TaskID   string
	Duration time.Duration
}

// ModelUsage totals prompt and completion tokens and cost attributed to a
// single model name across every task that reported usage for it.
type ModelUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Sink is the tracing sink the dispatcher appends task spans to and the
// finalizer queries once, after every task has reached a terminal state.
type Sink interface {
	// Record appends one task's completed span. Safe for concurrent use by
	// the dispatcher's per-task worker routines.
	Record(span Span)

	// CumulativeCost sums CostUSD across every recorded span.
	CumulativeCost() float64

	// Latencies returns each recorded task's span duration (End minus
	// Start, admission to terminal result), keyed by task ID. Individual
	// model calls are not timed, so no first-call to last-call spread is
	// available.
	Latencies() map[string]time.Duration

	// UsageByModel sums token and cost usage across every recorded span,
	// keyed by model name. Spans with an unreported Usage are excluded.
	UsageByModel() map[string]ModelUsage

	// Close releases any resources the sink holds. Recorder's Close is a
	// no-op; it exists so Sink composes with implementations backed by an
	// external collector.
	Close() error
}
