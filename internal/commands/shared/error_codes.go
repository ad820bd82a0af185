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

// Error codes for structured JSON output, one family per spec.md §7 error kind.
const (
	// Configuration errors (E001-E099)
	ErrorCodeMissingField        = "E001" // Missing required config field
	ErrorCodeInvalidYAML         = "E002" // Invalid config YAML syntax
	ErrorCodeMissingAgentDir     = "E003" // Agent directory missing
	ErrorCodeMissingBenchmarkDir = "E004" // Benchmark directory missing

	// Transport-provisioning errors (E100-E199)
	ErrorCodeTransportUnavailable = "E101" // Worker transport could not provision a worker
	ErrorCodeTransportTimeout     = "E102" // Worker provisioning timed out

	// Agent execution errors (E200-E299)
	ErrorCodeTaskFailed  = "E201" // Task execution failed
	ErrorCodeTaskTimeout = "E202" // Task exceeded its timeout

	// Input errors (E300-E399)
	ErrorCodeMissingInput = "E301" // Required flag or argument missing
	ErrorCodeInvalidInput = "E302" // Invalid input format
	ErrorCodeFileNotFound = "E303" // File not found

	// Scoring errors (E400-E499)
	ErrorCodeScoringFailed = "E401" // Benchmark evaluation/finalization failed

	// Resource errors (E500-E599)
	ErrorCodeNotFound        = "E501" // Resource not found (e.g. run ID)
	ErrorCodeInternal        = "E502" // Internal error
	ErrorCodeExecutionFailed = "E503" // Generic execution failure
)

// mapExitErrorToCode maps ExitError codes to JSON error codes.
func mapExitErrorToCode(exitErr *ExitError) string {
	if exitErr == nil {
		return ""
	}

	switch exitErr.Code {
	case ExitConfigError:
		return ErrorCodeInvalidYAML
	case ExitMissingInput:
		return ErrorCodeMissingInput
	case ExitTransportError:
		return ErrorCodeTransportUnavailable
	case ExitScoringError:
		return ErrorCodeScoringFailed
	case ExitExecutionFailed:
		return ErrorCodeTaskFailed
	default:
		return ErrorCodeExecutionFailed
	}
}
