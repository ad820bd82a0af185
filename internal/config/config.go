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

// Package config loads and validates taskbench's run configuration: the
// dispatcher's concurrency and timeout knobs, the default execution mode,
// per-mode transport settings, and the telemetry exporter endpoint. Values
// come from a YAML file (XDG-discovered by default), overridden by
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/taskbench/internal/dataset"
	taskbencherrors "github.com/tombee/taskbench/pkg/errors"
)

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// ContainerConfig configures the container Worker Transport.
type ContainerConfig struct {
	// Image is the fixed Docker/Podman image every worker container runs.
	// Empty keeps the transport's own default.
	Image string `yaml:"image,omitempty"`
}

// VMConfig configures the VM Worker Transport.
type VMConfig struct {
	Region            string        `yaml:"region,omitempty"`
	ImageID           string        `yaml:"image_id,omitempty"`
	InstanceType      string        `yaml:"instance_type,omitempty"`
	SubnetID          string        `yaml:"subnet_id,omitempty"`
	SecurityGroupID   string        `yaml:"security_group_id,omitempty"`
	// KeyName is also used to look up an optional decryption passphrase
	// for SSHPrivateKeyPath in the OS keychain, under "ssh-key:<KeyName>".
	// An unencrypted private key needs nothing stored there.
	KeyName           string        `yaml:"key_name,omitempty"`
	SSHUser           string        `yaml:"ssh_user,omitempty"`
	SSHPrivateKeyPath string        `yaml:"ssh_private_key_path,omitempty"`
	BootTimeout       time.Duration `yaml:"boot_timeout,omitempty"`
	HomeDir           string        `yaml:"home_dir,omitempty"`
}

// TelemetryConfig configures where run spans are exported during a run,
// independent of the in-process sink the finalizer queries for cost and
// latency (see internal/telemetry).
type TelemetryConfig struct {
	// Enabled controls whether an OTLP exporter is wired in at all.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector URL spans are pushed to.
	Endpoint string `yaml:"endpoint,omitempty"`

	// ServiceName identifies this process in exported traces.
	ServiceName string `yaml:"service_name,omitempty"`
}

// Config is taskbench's complete run configuration.
type Config struct {
	// Version indicates the config format version (1 = initial release).
	Version int `yaml:"version,omitempty"`

	Log LogConfig `yaml:"log"`

	// MaxConcurrent bounds how many tasks the dispatcher runs at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// TaskTimeout bounds a single task's end-to-end wall-clock time.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// PollInterval is how often a transport polls a worker for completion.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ExecutionMode is the default transport backend, overridable per run.
	ExecutionMode dataset.ExecutionMode `yaml:"execution_mode"`

	Container ContainerConfig `yaml:"container,omitempty"`
	VM        VMConfig        `yaml:"vm,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`

	// AgentDirectory and BenchmarkDirectory are validated to exist before
	// any dispatch begins; Validate reports a ConfigError otherwise.
	AgentDirectory     string `yaml:"agent_directory,omitempty"`
	BenchmarkDirectory string `yaml:"benchmark_directory,omitempty"`
}

// Default returns taskbench's built-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		MaxConcurrent: 4,
		TaskTimeout:   30 * time.Minute,
		PollInterval:  2 * time.Second,
		ExecutionMode: dataset.ExecutionModeLocal,
	}
}

// Load reads configuration from configPath, falling back to the XDG
// default location when configPath is empty, then layers environment
// variable overrides on top. It never validates; callers call Validate
// once agent/benchmark directories are known.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &taskbencherrors.ConfigError{Key: "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath), Cause: err}
		}
	}

	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("TASKBENCH_MAX_CONCURRENT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MaxConcurrent = n
		}
	}
	if val := os.Getenv("TASKBENCH_TASK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.TaskTimeout = d
		}
	}
	if val := os.Getenv("TASKBENCH_POLL_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.PollInterval = d
		}
	}
	if val := os.Getenv("TASKBENCH_EXECUTION_MODE"); val != "" {
		c.ExecutionMode = dataset.ExecutionMode(strings.ToLower(val))
	}
	if val := os.Getenv("TASKBENCH_AGENT_DIR"); val != "" {
		c.AgentDirectory = val
	}
	if val := os.Getenv("TASKBENCH_BENCHMARK_DIR"); val != "" {
		c.BenchmarkDirectory = val
	}
	if val := os.Getenv("TASKBENCH_CONTAINER_IMAGE"); val != "" {
		c.Container.Image = val
	}
	if val := os.Getenv("TASKBENCH_VM_REGION"); val != "" {
		c.VM.Region = val
	}
	if val := os.Getenv("TASKBENCH_VM_IMAGE_ID"); val != "" {
		c.VM.ImageID = val
	}
	if val := os.Getenv("TASKBENCH_TELEMETRY_ENDPOINT"); val != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = val
	}
}

// Validate checks the fields dispatch needs before it can provision a
// single worker. It rejects an unknown or mutually-exclusive execution
// mode and a missing agent or benchmark directory, returning a
// ConfigError so callers can surface it as a Configuration-class failure.
func (c *Config) Validate() error {
	switch c.ExecutionMode {
	case dataset.ExecutionModeLocal, dataset.ExecutionModeContainer, dataset.ExecutionModeVM:
	default:
		return &taskbencherrors.ConfigError{Key: "execution_mode",
			Reason: fmt.Sprintf("must be one of [local, container, vm], got %q", c.ExecutionMode)}
	}

	if c.ExecutionMode == dataset.ExecutionModeVM && c.Container.Image != "" {
		return &taskbencherrors.ConfigError{Key: "execution_mode",
			Reason: "container.image is set but execution_mode is \"vm\"; per-mode settings are mutually exclusive"}
	}
	if c.ExecutionMode == dataset.ExecutionModeContainer && c.VM.Region != "" {
		return &taskbencherrors.ConfigError{Key: "execution_mode",
			Reason: "vm.region is set but execution_mode is \"container\"; per-mode settings are mutually exclusive"}
	}

	if c.MaxConcurrent <= 0 {
		return &taskbencherrors.ConfigError{Key: "max_concurrent", Reason: "must be positive"}
	}

	if c.AgentDirectory == "" {
		return &taskbencherrors.ConfigError{Key: "agent_directory", Reason: "is required"}
	}
	if info, err := os.Stat(c.AgentDirectory); err != nil || !info.IsDir() {
		return &taskbencherrors.ConfigError{Key: "agent_directory",
			Reason: fmt.Sprintf("%s does not exist or is not a directory", c.AgentDirectory)}
	}

	if c.BenchmarkDirectory == "" {
		return &taskbencherrors.ConfigError{Key: "benchmark_directory", Reason: "is required"}
	}
	if info, err := os.Stat(c.BenchmarkDirectory); err != nil || !info.IsDir() {
		return &taskbencherrors.ConfigError{Key: "benchmark_directory",
			Reason: fmt.Sprintf("%s does not exist or is not a directory", c.BenchmarkDirectory)}
	}

	return nil
}
