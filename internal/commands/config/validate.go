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

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/config"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file, reporting anything that would
keep a run from dispatching: an unknown or mutually-exclusive execution
mode, a non-positive concurrency limit, or a missing agent or benchmark
directory.

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  taskbench config validate

  # Validate with warnings as errors
  taskbench config validate --strict

  # Get validation result as JSON
  taskbench config validate --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// runValidate loads the effective configuration and validates it.
func runValidate(strict bool) error {
	cfgPath := shared.GetConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		result := ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("failed to load config: %v", err)},
		}
		return outputValidationResult(result, strict)
	}

	result := validateConfig(cfg)
	return outputValidationResult(result, strict)
}

// validateConfig runs the config package's own validation and layers on
// warnings for settings that are legal but likely to surprise at run time.
func validateConfig(cfg *config.Config) ValidationResult {
	var errors []string
	var warnings []string

	if err := cfg.Validate(); err != nil {
		if cfgErr, ok := err.(*taskbencherrors.ConfigError); ok {
			errors = append(errors, fmt.Sprintf("%s: %s", cfgErr.Key, cfgErr.Reason))
		} else {
			errors = append(errors, err.Error())
		}
	}

	if cfg.Version == 0 {
		warnings = append(warnings, "missing version field; consider setting \"version: 1\"")
	}

	if !cfg.Telemetry.Enabled {
		warnings = append(warnings, "telemetry is disabled; run cost and latency will be reported as unavailable")
	}

	return ValidationResult{
		Valid:    len(errors) == 0,
		Errors:   errors,
		Warnings: warnings,
	}
}

// outputValidationResult outputs the validation result and exits non-zero
// when invalid, or when strict and warnings were reported.
func outputValidationResult(result ValidationResult, strict bool) error {
	if shared.GetJSON() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("encoding validation result: %w", err)
		}
	} else {
		if result.Valid {
			fmt.Println(shared.RenderOK("Configuration is valid"))
		} else {
			fmt.Println(shared.RenderError("Configuration validation failed"))
		}
		fmt.Println()

		if len(result.Errors) > 0 {
			fmt.Println(shared.Header.Render("Errors:"))
			for _, e := range result.Errors {
				fmt.Printf("  %s %s\n", shared.StatusError.Render(shared.SymbolError), e)
			}
			fmt.Println()
		}

		if len(result.Warnings) > 0 {
			fmt.Println(shared.Header.Render("Warnings:"))
			for _, w := range result.Warnings {
				fmt.Printf("  %s %s\n", shared.StatusWarn.Render(shared.SymbolWarn), w)
			}
			fmt.Println()
		}

		if result.Valid && len(result.Warnings) == 0 {
			fmt.Println("No issues found.")
		}
	}

	if !result.Valid {
		os.Exit(1)
	}

	if strict && len(result.Warnings) > 0 {
		if !shared.GetJSON() {
			fmt.Println("Validation failed (strict mode: warnings treated as errors)")
		}
		os.Exit(1)
	}

	return nil
}
