// Package config holds all qaprobe configuration, loaded from a YAML file
// with zero-value-tolerant getters so partial configs behave sensibly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"qaprobe/internal/browser"
)

// Config holds all qaprobe configuration.
type Config struct {
	// Core settings
	Project   string `yaml:"project"`
	Listen    string `yaml:"listen"`
	OutputDir string `yaml:"output_dir"`

	// Browser automation
	Browser browser.Config `yaml:"browser"`

	// Per-run execution settings
	Execution ExecutionContext `yaml:"execution"`

	// Async job orchestration
	Jobs JobsConfig `yaml:"jobs"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ExecutionContext is the per-run configuration. Constructed once per run,
// read-only thereafter.
type ExecutionContext struct {
	MaxRows          int    `yaml:"max_rows" json:"maxRows"`
	Exhaustive       bool   `yaml:"exhaustive" json:"exhaustive"`
	ClickBudget      int    `yaml:"click_budget" json:"clickBudget"`
	InputBudget      int    `yaml:"input_budget" json:"inputBudget"`
	DepthBudget      int    `yaml:"depth_budget" json:"depthBudget"`
	TimeBudgetMs     int    `yaml:"time_budget_ms" json:"timeBudgetMs"`
	AllowRiskyAction bool   `yaml:"allow_risky_actions" json:"allowRiskyActions"`
	FuzzProfile      string `yaml:"fuzz_profile" json:"fuzzProfile"`
	RowTimeoutMs     int    `yaml:"row_timeout_ms" json:"rowTimeoutMs"`
}

// GetMaxRows caps how many rows one run executes.
func (e ExecutionContext) GetMaxRows() int {
	if e.MaxRows <= 0 {
		return 20
	}
	return e.MaxRows
}

// GetClickBudget bounds fuzzer click attempts per page.
func (e ExecutionContext) GetClickBudget() int {
	if e.ClickBudget <= 0 {
		return 12
	}
	return e.ClickBudget
}

// GetInputBudget bounds fuzzer input attempts per page.
func (e ExecutionContext) GetInputBudget() int {
	if e.InputBudget <= 0 {
		return 12
	}
	return e.InputBudget
}

// GetDepthBudget bounds fuzzer link traversal depth.
func (e ExecutionContext) GetDepthBudget() int {
	if e.DepthBudget < 0 {
		return 0
	}
	if e.DepthBudget == 0 {
		return 1
	}
	return e.DepthBudget
}

// GetTimeBudget is the hard wall-clock bound across all fuzz attempts.
func (e ExecutionContext) GetTimeBudget() time.Duration {
	if e.TimeBudgetMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(e.TimeBudgetMs) * time.Millisecond
}

// GetFuzzProfile names the fuzz value profile in effect.
func (e ExecutionContext) GetFuzzProfile() string {
	if e.FuzzProfile == "" {
		return "typed-input-v1"
	}
	return e.FuzzProfile
}

// GetRowTimeout bounds one row's navigate+interact+assert sequence.
func (e ExecutionContext) GetRowTimeout() time.Duration {
	if e.RowTimeoutMs <= 0 {
		return 45 * time.Second
	}
	return time.Duration(e.RowTimeoutMs) * time.Millisecond
}

// JobsConfig configures the async job orchestrator.
type JobsConfig struct {
	MaxConcurrent  int    `yaml:"max_concurrent"`
	RetentionTTL   string `yaml:"retention_ttl"`
	HistoryEnabled bool   `yaml:"history_enabled"`
	HistoryPath    string `yaml:"history_path"`
}

// GetMaxConcurrent caps how many jobs run at once.
func (j JobsConfig) GetMaxConcurrent() int {
	if j.MaxConcurrent <= 0 {
		return 2
	}
	return j.MaxConcurrent
}

// GetRetentionTTL is how long a terminal job stays pollable.
// Indefinite retention is a resource leak, so the zero value is one hour.
func (j JobsConfig) GetRetentionTTL() time.Duration {
	if j.RetentionTTL == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(j.RetentionTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Project:   "qaprobe",
		Listen:    ":8711",
		OutputDir: "out/report",
		Browser:   browser.DefaultConfig(),
		Execution: ExecutionContext{},
		Jobs:      JobsConfig{HistoryEnabled: true, HistoryPath: "out/history.db"},
	}
}

// Load reads a YAML config file, layered over Default. A missing file is
// not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
