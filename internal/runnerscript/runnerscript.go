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

// Package runnerscript generates the small bootstrap program that executes
// inside each worker: it loads input.json and args.json, dynamically
// resolves the agent's entry point, invokes it inside a tracing-attribute
// scope keyed by task_id, and writes output.json or error.log.
//
// The script is regenerated per task rather than baked into a worker image
// because run_id and task_id are embedded as literals. That trades a
// negligible per-task render cost for the property that every transport,
// regardless of backend, runs identical bootstrap logic.
package runnerscript

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/tombee/taskbench/internal/dataset"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var pythonTemplate = template.Must(template.ParseFS(templatesFS, "templates/run_agent.py.tmpl"))

// Name is the file the generated script is written under, before the
// interpreter-specific extension is appended.
const Name = "run_agent"

// Params carries the per-task literals embedded into the generated script.
type Params struct {
	RunID     string
	TaskID    string
	Directory string
	Entry     string
}

// Filename returns the file name the script must be written under for the
// given agent spec's interpreter.
func Filename(spec dataset.AgentSpec) string {
	return Name + extensionFor(spec)
}

// Generate renders the bootstrap script for one task.
func Generate(spec dataset.AgentSpec, runID string, task dataset.Task) ([]byte, error) {
	params := Params{
		RunID:     runID,
		TaskID:    task.TaskID,
		Directory: spec.Directory,
		Entry:     spec.Entry,
	}

	var buf bytes.Buffer
	if err := pythonTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("rendering runner script for task %s: %w", task.TaskID, err)
	}
	return buf.Bytes(), nil
}

// extensionFor returns the worker interpreter's file extension for an agent
// spec. Every agent entry resolves to a Python module.function path today.
func extensionFor(spec dataset.AgentSpec) string {
	_ = spec
	return ".py"
}
