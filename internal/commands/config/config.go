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

// Package config implements the `config` command tree: inspecting the
// effective run configuration and locating its backing file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/taskbench/internal/commands/shared"
	"github.com/tombee/taskbench/internal/config"
)

// NewConfigCommand creates the config command with subcommands.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
		Long: `View and manage taskbench configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Validate configuration file`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return newConfigShowCommand().RunE(cmd, args)
	}

	return cmd
}

// newConfigShowCommand creates the 'config show' subcommand.
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration, after YAML file and
environment variable layering.

Use --json for machine-readable output.`,
		RunE: runConfigShow,
	}
}

// newConfigPathCommand creates the 'config path' subcommand.
func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Long:  `Display the XDG-discovered path taskbench reads its configuration from.`,
		RunE:  runConfigPath,
	}
}

// runConfigShow displays the effective configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfgPath := shared.GetConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return shared.NewConfigError("loading config", err)
	}

	masked := maskSensitiveConfig(cfg)

	if shared.GetJSON() {
		return outputConfigJSON(masked)
	}

	resolvedPath := cfgPath
	if resolvedPath == "" {
		resolvedPath, _ = config.ConfigPath()
	}
	return outputConfigYAML(resolvedPath, masked)
}

// runConfigPath displays the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	cfgPath := shared.GetConfigPath()
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			return shared.NewConfigError("determining config path", err)
		}
	}

	fmt.Println(cfgPath)
	return nil
}

// maskSensitiveConfig returns a copy of cfg with sensitive fields masked for display.
// The SSH private key path is a filesystem location, not a secret, so it is
// shown as-is; only fields that could themselves carry key material are masked.
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	if masked.VM.KeyName != "" {
		masked.VM.KeyName = shared.MaskSensitiveData("key_name", masked.VM.KeyName)
	}
	return &masked
}

// outputConfigJSON outputs config in JSON format.
func outputConfigJSON(cfg *config.Config) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}

// outputConfigYAML outputs config in YAML format with a path header.
func outputConfigYAML(path string, cfg *config.Config) error {
	fmt.Printf("Configuration: %s\n", path)
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)

	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return encoder.Close()
}
