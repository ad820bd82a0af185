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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tombee/taskbench/internal/telemetry"
)

func TestExtractUsage_FullObject(t *testing.T) {
	value := map[string]any{
		"answer": "42",
		"usage": map[string]any{
			"model":             "gpt-4o",
			"prompt_tokens":     float64(120),
			"completion_tokens": float64(40),
			"cost_usd":          0.0031,
		},
	}

	usage := telemetry.ExtractUsage(value)
	assert.Equal(t, "gpt-4o", usage.Model)
	assert.Equal(t, 120, usage.PromptTokens)
	assert.Equal(t, 40, usage.CompletionTokens)
	assert.InDelta(t, 0.0031, usage.CostUSD, 0.00001)
}

func TestExtractUsage_MissingUsageObject(t *testing.T) {
	usage := telemetry.ExtractUsage(map[string]any{"answer": "42"})
	assert.Equal(t, telemetry.Usage{}, usage)
}

func TestExtractUsage_NonObjectValue(t *testing.T) {
	assert.Equal(t, telemetry.Usage{}, telemetry.ExtractUsage("ERROR: boom"))
	assert.Equal(t, telemetry.Usage{}, telemetry.ExtractUsage(nil))
}

func TestExtractUsage_PartialUsageObject(t *testing.T) {
	value := map[string]any{
		"usage": map[string]any{"model": "claude-3"},
	}
	usage := telemetry.ExtractUsage(value)
	assert.Equal(t, "claude-3", usage.Model)
	assert.Equal(t, 0, usage.PromptTokens)
}
