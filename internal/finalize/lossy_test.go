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

package finalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type unmarshalableScore struct {
	Value   float64
	private chan int
}

func TestLossySerialize_ScalarsPassThrough(t *testing.T) {
	assert.Equal(t, "ok", lossySerialize("ok"))
	assert.Equal(t, 42, lossySerialize(42))
	assert.Equal(t, nil, lossySerialize(nil))
}

func TestLossySerialize_RecursesContainers(t *testing.T) {
	in := map[string]any{
		"scores": []any{1, 2, map[string]any{"nested": "value"}},
	}
	out := lossySerialize(in).(map[string]any)
	scores := out["scores"].([]any)
	assert.Equal(t, 1, scores[0])
	nested := scores[2].(map[string]any)
	assert.Equal(t, "value", nested["nested"])
}

func TestLossySerialize_UnknownStructGetsTypeTag(t *testing.T) {
	in := unmarshalableScore{Value: 3.5}
	out := lossySerialize(in).(map[string]any)
	assert.Equal(t, 3.5, out["Value"])
	assert.Contains(t, out["_type"], "unmarshalableScore")
	_, hasPrivate := out["private"]
	assert.False(t, hasPrivate, "unexported fields are skipped")
}

func TestLossySerialize_FuncValueStringified(t *testing.T) {
	out := lossySerialize(func() {}).(map[string]any)
	assert.Equal(t, "func()", out["_type"])
	assert.Contains(t, out, "value")
}
