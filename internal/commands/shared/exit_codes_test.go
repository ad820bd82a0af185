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
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/tombee/taskbench/pkg/errors"
)

// mockUserVisibleError is a test implementation of UserVisibleError.
type mockUserVisibleError struct {
	message    string
	suggestion string
	visible    bool
}

func (e *mockUserVisibleError) Error() string       { return e.message }
func (e *mockUserVisibleError) IsUserVisible() bool { return e.visible }
func (e *mockUserVisibleError) UserMessage() string { return e.message }
func (e *mockUserVisibleError) Suggestion() string  { return e.suggestion }

func TestPrintUserVisibleSuggestion_DirectError(t *testing.T) {
	userErr := &mockUserVisibleError{
		message:    "agent directory missing",
		suggestion: "Check --agent-dir points at a valid directory",
		visible:    true,
	}

	var iface pkgerrors.UserVisibleError = userErr
	if !iface.IsUserVisible() {
		t.Error("expected mockUserVisibleError to be user visible")
	}
	if iface.Suggestion() != "Check --agent-dir points at a valid directory" {
		t.Errorf("unexpected suggestion: %q", iface.Suggestion())
	}
}

func TestPrintUserVisibleSuggestion_WrappedError(t *testing.T) {
	inner := &mockUserVisibleError{
		message:    "worker provisioning timed out",
		suggestion: "Increase --task-timeout",
		visible:    true,
	}
	wrapped := fmt.Errorf("dispatch failed: %w", inner)

	var userErr pkgerrors.UserVisibleError
	if !errors.As(wrapped, &userErr) {
		t.Fatal("expected to unwrap UserVisibleError from wrapped error")
	}
	if userErr.Suggestion() != "Increase --task-timeout" {
		t.Errorf("expected suggestion from wrapped error, got %q", userErr.Suggestion())
	}
}

func TestPrintUserVisibleSuggestion_NoSuggestion(t *testing.T) {
	userErr := &mockUserVisibleError{message: "internal error", visible: true}
	if userErr.Suggestion() != "" {
		t.Errorf("expected empty suggestion, got %q", userErr.Suggestion())
	}
}

func TestPrintUserVisibleSuggestion_NonUserVisibleError(t *testing.T) {
	regularErr := errors.New("some internal error")

	var userErr pkgerrors.UserVisibleError
	if errors.As(regularErr, &userErr) {
		t.Error("regular error should not implement UserVisibleError")
	}
}

func TestExitError_Unwrap(t *testing.T) {
	innerErr := errors.New("inner error")
	exitErr := NewExecutionError("execution failed", innerErr)

	unwrapped := errors.Unwrap(exitErr)
	if unwrapped != innerErr {
		t.Errorf("expected unwrapped error to be innerErr, got %v", unwrapped)
	}
}

func TestExitError_WithUserVisibleCause(t *testing.T) {
	userErr := &mockUserVisibleError{
		message:    "benchmark directory not found",
		suggestion: "Verify --benchmark-dir",
		visible:    true,
	}

	exitErr := NewConfigError("operation failed", userErr)

	var iface pkgerrors.UserVisibleError
	if !errors.As(exitErr, &iface) {
		t.Fatal("expected to unwrap UserVisibleError from ExitError")
	}
	if iface.Suggestion() != "Verify --benchmark-dir" {
		t.Errorf("expected suggestion from cause error, got %q", iface.Suggestion())
	}
}

func TestMapExitErrorToCode(t *testing.T) {
	cases := []struct {
		code     int
		expected string
	}{
		{ExitConfigError, ErrorCodeInvalidYAML},
		{ExitMissingInput, ErrorCodeMissingInput},
		{ExitTransportError, ErrorCodeTransportUnavailable},
		{ExitScoringError, ErrorCodeScoringFailed},
		{ExitExecutionFailed, ErrorCodeTaskFailed},
	}
	for _, c := range cases {
		got := mapExitErrorToCode(&ExitError{Code: c.code})
		if got != c.expected {
			t.Errorf("code %d: expected %q, got %q", c.code, c.expected, got)
		}
	}
}
