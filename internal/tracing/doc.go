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

/*
Package tracing provides distributed tracing and observability for taskbench
runs.

This package implements OpenTelemetry-based tracing for benchmark runs, task
dispatch, and agent invocations. It also provides Prometheus metrics
collection and correlation ID propagation for distributed debugging.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry
  - Prometheus metrics export
  - Correlation ID propagation across a run's task dispatch
  - Agent invocation tracing with token counts
  - Run and task span creation

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "taskbench",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Enabled: true,
	        Rate:    0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(cfg)

Get a tracer and create spans:

	tracer := provider.Tracer("dispatch")

	ctx, span := tracer.Start(ctx, "run-task",
	    trace.WithAttributes(
	        attribute.String("task.id", taskID),
	    ),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link task execution back to the run that dispatched it:

	// In dispatch
	correlationID := tracing.FromContext(ctx)

	// Attach to generated runner scripts or worker logs
	env["TASKBENCH_CORRELATION_ID"] = string(correlationID)

	// Middleware extracts and injects, for any HTTP-facing components
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

Prometheus metrics are collected:

	// Get metrics collector
	collector := provider.MetricsCollector()

	// Record events
	collector.RecordTaskStart(taskID)
	collector.RecordTaskComplete(ctx, benchmark, taskID, "success", duration)

Metrics exposed at /metrics:

  - taskbench_runs_total{benchmark,status}
  - taskbench_run_duration_seconds{benchmark,status}
  - taskbench_tasks_total{benchmark,status}
  - taskbench_agent_invocations_total{task_id,model,status}
  - taskbench_tokens_total{task_id,model,type}

# Configuration

Full configuration options:

	telemetry:
	  enabled: true
	  service_name: taskbench
	  sampling:
	    type: head
	    rate: 0.1
	    always_sample_errors: true
	  exporters:
	    - type: otlp
	      endpoint: localhost:4317
	  redaction:
	    level: standard
	    patterns:
	      - name: api_key
	        regex: "sk-[a-zA-Z0-9]+"
	        replacement: "[REDACTED]"

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper
  - MetricsCollector: Prometheus metrics recording
  - CorrelationID: Request correlation across a run's dispatched tasks
  - Sampler: Configurable trace sampling
  - Exporter: Trace export to backends (OTLP, etc.)

# Subpackages

  - export: span export pipeline
  - redact: attribute redaction for exported spans
*/
package tracing
