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

package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTarGzAndExtract_RoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "solver.py"), []byte("print('hi')\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "data.json"), []byte(`{"a":1}`), 0o644))

	var buf bytes.Buffer
	require.NoError(t, writeTarGz(src, &buf))

	dest := t.TempDir()
	require.NoError(t, extractTarGz(&buf, dest))

	data, err := os.ReadFile(filepath.Join(dest, "solver.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "sub", "data.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}
