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

package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyValueArgs(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{
			name:  "empty input",
			pairs: nil,
			want:  nil,
		},
		{
			name:  "string value",
			pairs: []string{"model=gpt-4"},
			want:  map[string]any{"model": "gpt-4"},
		},
		{
			name:  "bool value",
			pairs: []string{"verbose=true"},
			want:  map[string]any{"verbose": true},
		},
		{
			name:  "int value",
			pairs: []string{"retries=3"},
			want:  map[string]any{"retries": int64(3)},
		},
		{
			name:  "float value",
			pairs: []string{"temperature=0.2"},
			want:  map[string]any{"temperature": 0.2},
		},
		{
			name:  "value containing equals sign",
			pairs: []string{"query=a=b"},
			want:  map[string]any{"query": "a=b"},
		},
		{
			name:    "missing equals sign",
			pairs:   []string{"invalid"},
			wantErr: true,
		},
		{
			name:    "empty key",
			pairs:   []string{"=value"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeyValueArgs(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
