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

// ExtractUsage reads an optional "usage" object off a task's returned
// value, the same loosely-typed convention dataset.TaskResult.Value
// already uses for everything else an agent reports. An agent that
// returns a bare value (no usage) or a usage object missing a field
// yields a zero Usage rather than an error: usage reporting is always
// best-effort.
//
//	{"answer": "...", "usage": {"model": "gpt-4o", "prompt_tokens": 120,
//	 "completion_tokens": 40, "cost_usd": 0.0031}}
func ExtractUsage(value any) Usage {
	obj, ok := value.(map[string]any)
	if !ok {
		return Usage{}
	}
	raw, ok := obj["usage"].(map[string]any)
	if !ok {
		return Usage{}
	}

	return Usage{
		Model:            stringField(raw, "model"),
		PromptTokens:     intField(raw, "prompt_tokens"),
		CompletionTokens: intField(raw, "completion_tokens"),
		CostUSD:          floatField(raw, "cost_usd"),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
