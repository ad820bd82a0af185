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

package shared

import (
	"fmt"
	"strings"
)

// DryRunAction represents an action type in dry-run output.
type DryRunAction string

const (
	// DryRunActionCreate indicates a resource would be created.
	DryRunActionCreate DryRunAction = "CREATE"
	// DryRunActionModify indicates a resource would be modified.
	DryRunActionModify DryRunAction = "MODIFY"
	// DryRunActionDelete indicates a resource would be deleted.
	DryRunActionDelete DryRunAction = "DELETE"
)

// DryRunOutput formats dry-run output in a consistent way across commands.
// It shows what actions would be performed without executing them, such as
// the run directories and submission files a `run` would create.
type DryRunOutput struct {
	actions []string
}

// NewDryRunOutput creates a new dry-run output formatter.
func NewDryRunOutput() *DryRunOutput {
	return &DryRunOutput{
		actions: make([]string, 0),
	}
}

// DryRunCreate adds a CREATE action to the dry-run output.
// The path should use placeholders like <run-dir> instead of full system paths.
func (d *DryRunOutput) DryRunCreate(path string) {
	d.actions = append(d.actions, fmt.Sprintf("%s: %s", DryRunActionCreate, path))
}

// DryRunCreateWithDescription adds a CREATE action with additional description.
// Example: DryRunCreateWithDescription("<run-dir>/task-001/", "container transport")
func (d *DryRunOutput) DryRunCreateWithDescription(path, description string) {
	d.actions = append(d.actions, fmt.Sprintf("%s: %s (%s)", DryRunActionCreate, path, description))
}

// DryRunModify adds a MODIFY action to the dry-run output.
// The path should use placeholders like <run-dir> instead of full system paths.
// The description should briefly explain what would change.
func (d *DryRunOutput) DryRunModify(path, description string) {
	d.actions = append(d.actions, fmt.Sprintf("%s: %s (%s)", DryRunActionModify, path, description))
}

// DryRunDelete adds a DELETE action to the dry-run output.
// The path should use placeholders like <run-dir> instead of full system paths.
func (d *DryRunOutput) DryRunDelete(path string) {
	d.actions = append(d.actions, fmt.Sprintf("%s: %s", DryRunActionDelete, path))
}

// DryRunDeleteWithCount adds a DELETE action with count information.
// Example: DryRunDeleteWithCount("<run-dir>", "12 task directories")
func (d *DryRunOutput) DryRunDeleteWithCount(path, count string) {
	d.actions = append(d.actions, fmt.Sprintf("%s: %s (%s)", DryRunActionDelete, path, count))
}

// String returns the formatted dry-run output.
// Format:
//
//	Dry run: The following actions would be performed:
//
//	CREATE: <run-dir>/task-001/
//	MODIFY: <run-dir>/registry.json (append run summary)
//	DELETE: <run-dir>/task-002/workdir
//
//	Run without --dry-run to execute.
func (d *DryRunOutput) String() string {
	if len(d.actions) == 0 {
		return "Dry run: No actions would be performed."
	}

	var sb strings.Builder
	sb.WriteString("Dry run: The following actions would be performed:\n\n")

	for _, action := range d.actions {
		sb.WriteString(action)
		sb.WriteString("\n")
	}

	sb.WriteString("\nRun without --dry-run to execute.")

	return sb.String()
}

// sensitiveKeyPatterns names config keys whose values should never appear
// in dry-run or log output.
var sensitiveKeyPatterns = []string{
	"token",
	"secret",
	"key",
	"password",
	"credential",
	"api_key",
	"apikey",
	"auth",
	"authorization",
}

// MaskSensitiveData masks sensitive values in dry-run output based on the
// config key they were read from.
func MaskSensitiveData(key, value string) string {
	lowerKey := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lowerKey, pattern) {
			return "[REDACTED]"
		}
	}
	return value
}

// PlaceholderPath converts a full system path to a placeholder path for dry-run output.
// This prevents leaking full system paths to agents.
// Examples:
//   - /home/user/.config/taskbench/config.yaml -> <config-dir>/config.yaml
//   - /var/run/taskbench/run-20260101-120000/task-001 -> <run-dir>/task-001
func PlaceholderPath(fullPath, baseDir, placeholder string) string {
	// Simple replacement for now - can be enhanced with path cleaning if needed
	return strings.Replace(fullPath, baseDir, placeholder, 1)
}
