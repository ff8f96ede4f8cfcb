// Copyright 2026 The Cmdgate Authors
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

// Package config loads cmdgate's YAML configuration file.
//
// The config file covers everything around the decision engine: where the
// audit trail lives, scan limits, the confirm prompt timeout, extra rule
// files, and the daemon listen address. The engine itself needs none of it
// to run; a missing config file yields the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level cmdgate configuration.
type Config struct {
	// Version is the config schema version. Currently "1".
	Version string `yaml:"version"`

	// Rules configures rule-file loading beyond the standard tiers.
	Rules RulesConfig `yaml:"rules"`

	// Scan bounds the script analyzer.
	Scan ScanConfig `yaml:"scan"`

	// Confirm configures the interactive confirmation prompt.
	Confirm ConfirmConfig `yaml:"confirm"`

	// Audit configures the JSONL audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Serve configures the daemon.
	Serve ServeConfig `yaml:"serve"`
}

// RulesConfig controls rule loading.
type RulesConfig struct {
	// DisableDefaults drops the embedded default rules.
	DisableDefaults bool `yaml:"disable_defaults"`

	// ExtraFiles are additional rule files, each optionally prefixed with
	// a tier ("global:", "user:", "project:"; default project).
	ExtraFiles []string `yaml:"extra_files"`
}

// ScanConfig bounds the script analyzer.
type ScanConfig struct {
	// Disabled turns script scanning off entirely.
	Disabled bool `yaml:"disabled"`

	// MaxFileSize is the largest script the scanner reads, in bytes.
	// Default: 1 MiB.
	MaxFileSize int64 `yaml:"max_file_size"`

	// MaxLines caps how many lines are scanned. Default: 10000.
	MaxLines int `yaml:"max_lines"`

	// FollowSymlinks permits scanning through symlinks. Default: false.
	FollowSymlinks bool `yaml:"follow_symlinks"`
}

// ConfirmConfig configures the confirmation prompt.
type ConfirmConfig struct {
	// TimeoutSeconds is how long the prompt waits before treating the
	// command as blocked. Default: 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the prompt timeout as a duration.
func (c ConfirmConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Disabled turns audit writing off.
	Disabled bool `yaml:"disabled"`

	// Dir is the trail directory. Default: ~/.cmdgate/audit.
	Dir string `yaml:"dir"`

	// Fsync forces a sync after every event. Default: true.
	Fsync *bool `yaml:"fsync"`

	// RotateSizeMB is the trail file rotation threshold. Default: 100.
	RotateSizeMB int64 `yaml:"rotate_size_mb"`

	// AnchorInterval is how many events pass between chain anchors.
	// Default: 100.
	AnchorInterval int `yaml:"anchor_interval"`
}

// FsyncEnabled returns the fsync setting, defaulting to true.
func (c AuditConfig) FsyncEnabled() bool {
	if c.Fsync == nil {
		return true
	}
	return *c.Fsync
}

// ServeConfig configures the cmdgate daemon.
type ServeConfig struct {
	// Addr is the listen address. Default: "127.0.0.1:7467".
	Addr string `yaml:"addr"`

	// Metrics exposes Prometheus metrics on /metrics. Default: true.
	Metrics *bool `yaml:"metrics"`
}

// MetricsEnabled returns the metrics setting, defaulting to true.
func (c ServeConfig) MetricsEnabled() bool {
	if c.Metrics == nil {
		return true
	}
	return *c.Metrics
}

// Default returns the configuration used when no file exists.
func Default(home string) Config {
	return Config{
		Version: "1",
		Scan: ScanConfig{
			MaxFileSize: 1 << 20,
			MaxLines:    10000,
		},
		Confirm: ConfirmConfig{TimeoutSeconds: 30},
		Audit: AuditConfig{
			Dir:            filepath.Join(home, ".cmdgate", "audit"),
			RotateSizeMB:   100,
			AnchorInterval: 100,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:7467"},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath(home string) string {
	return filepath.Join(home, ".cmdgate", "config.yaml")
}

// Load reads the config file at path, layering it over the defaults for
// home. A missing file is not an error: the defaults are returned.
func Load(path, home string) (Config, error) {
	cfg := Default(home)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults(home)

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero values that yaml decoding may have cleared.
func (c *Config) applyDefaults(home string) {
	d := Default(home)
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Scan.MaxFileSize <= 0 {
		c.Scan.MaxFileSize = d.Scan.MaxFileSize
	}
	if c.Scan.MaxLines <= 0 {
		c.Scan.MaxLines = d.Scan.MaxLines
	}
	if c.Confirm.TimeoutSeconds <= 0 {
		c.Confirm.TimeoutSeconds = d.Confirm.TimeoutSeconds
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = d.Audit.Dir
	}
	if c.Audit.RotateSizeMB <= 0 {
		c.Audit.RotateSizeMB = d.Audit.RotateSizeMB
	}
	if c.Audit.AnchorInterval <= 0 {
		c.Audit.AnchorInterval = d.Audit.AnchorInterval
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = d.Serve.Addr
	}
}

func (c *Config) validate() error {
	if c.Version != "1" {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	for _, entry := range c.Rules.ExtraFiles {
		if entry == "" {
			return fmt.Errorf("empty entry in rules.extra_files")
		}
	}
	return nil
}
