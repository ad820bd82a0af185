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

package tracing

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector collects Prometheus-compatible metrics for a run of the
// task-execution orchestrator.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	runsTotal   metric.Int64Counter
	tasksTotal  metric.Int64Counter
	invocations metric.Int64Counter
	tokensTotal metric.Int64Counter

	// Histograms
	runDuration       metric.Float64Histogram
	taskDuration      metric.Float64Histogram
	invocationLatency metric.Float64Histogram

	// Gauges (using observable gauges)
	activeTasks   map[string]bool
	activeTasksMu sync.RWMutex
	totalCostUSD  float64
	totalCostMu   sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("taskbench")

	mc := &MetricsCollector{
		meter:       meter,
		activeTasks: make(map[string]bool),
	}

	var err error

	mc.runsTotal, err = meter.Int64Counter(
		"taskbench_runs_total",
		metric.WithDescription("Total number of benchmark runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	mc.tasksTotal, err = meter.Int64Counter(
		"taskbench_tasks_total",
		metric.WithDescription("Total number of tasks dispatched"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	mc.invocations, err = meter.Int64Counter(
		"taskbench_agent_invocations_total",
		metric.WithDescription("Total number of agent invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	mc.tokensTotal, err = meter.Int64Counter(
		"taskbench_tokens_total",
		metric.WithDescription("Total number of tokens reported by agent invocations"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	mc.runDuration, err = meter.Float64Histogram(
		"taskbench_run_duration_seconds",
		metric.WithDescription("Benchmark run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.taskDuration, err = meter.Float64Histogram(
		"taskbench_task_duration_seconds",
		metric.WithDescription("Per-task wall-clock duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.invocationLatency, err = meter.Float64Histogram(
		"taskbench_agent_invocation_latency_seconds",
		metric.WithDescription("Agent invocation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"taskbench_active_tasks",
		metric.WithDescription("Number of tasks currently dispatched"),
		metric.WithUnit("{task}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.activeTasksMu.RLock()
			count := len(mc.activeTasks)
			mc.activeTasksMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"taskbench_cost_usd",
		metric.WithDescription("Cumulative cost in USD for the current run"),
		metric.WithUnit("USD"),
		metric.WithFloat64Callback(func(ctx context.Context, observer metric.Float64Observer) error {
			mc.totalCostMu.RLock()
			cost := mc.totalCostUSD
			mc.totalCostMu.RUnlock()
			observer.Observe(cost)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"taskbench_goroutines",
		metric.WithDescription("Number of active goroutines"),
		metric.WithUnit("{goroutine}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(runtime.NumGoroutine()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"taskbench_heap_bytes",
		metric.WithDescription("Current heap allocation in bytes"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			observer.Observe(int64(m.HeapAlloc))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordRunStart records the start of a benchmark run. The run is only
// reflected in runsTotal/runDuration once it completes, since both are
// recorded together in RecordRunComplete; this hook exists for callers that
// want a start-of-run trace event or log line.
func (mc *MetricsCollector) RecordRunStart(ctx context.Context, runID, benchmark string) {}

// RecordRunComplete records the completion of a benchmark run.
func (mc *MetricsCollector) RecordRunComplete(ctx context.Context, runID, benchmark, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("benchmark", benchmark),
		attribute.String("status", status),
	}

	mc.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTaskStart marks a task as currently in flight for the active-tasks gauge.
func (mc *MetricsCollector) RecordTaskStart(taskID string) {
	mc.activeTasksMu.Lock()
	mc.activeTasks[taskID] = true
	mc.activeTasksMu.Unlock()
}

// RecordTaskComplete records the completion of a single task.
func (mc *MetricsCollector) RecordTaskComplete(ctx context.Context, benchmark, taskID, status string, duration time.Duration) {
	mc.activeTasksMu.Lock()
	delete(mc.activeTasks, taskID)
	mc.activeTasksMu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String("benchmark", benchmark),
		attribute.String("status", status),
	}

	mc.tasksTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAgentInvocation records one model call made by an agent under
// evaluation, attributing tokens and cost to the task that triggered it.
func (mc *MetricsCollector) RecordAgentInvocation(ctx context.Context, taskID, model, status string, promptTokens, completionTokens int, costUSD float64, latency time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("task_id", taskID),
		attribute.String("model", model),
		attribute.String("status", status),
	}

	mc.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.invocationLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))

	if promptTokens > 0 {
		tokenAttrs := append(attrs, attribute.String("type", "prompt"))
		mc.tokensTotal.Add(ctx, int64(promptTokens), metric.WithAttributes(tokenAttrs...))
	}
	if completionTokens > 0 {
		tokenAttrs := append(attrs, attribute.String("type", "completion"))
		mc.tokensTotal.Add(ctx, int64(completionTokens), metric.WithAttributes(tokenAttrs...))
	}

	if costUSD > 0 {
		mc.totalCostMu.Lock()
		mc.totalCostUSD += costUSD
		mc.totalCostMu.Unlock()
	}
}
