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

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peg/cmdgate/internal/config"
	"github.com/peg/cmdgate/internal/engine"
	"github.com/peg/cmdgate/internal/scan"
	"github.com/peg/cmdgate/rules"
)

// runtime bundles everything a subcommand needs to validate commands:
// the loaded config, the rule store, and the environment.
type runtime struct {
	cfg      config.Config
	store    *engine.RuleStore
	env      engine.Env
	analyzer *scan.Analyzer
	logger   *slog.Logger
	home     string
	workdir  string
}

// newLogger builds a stderr logger. stdout stays reserved for command
// output and hook responses.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildRuntime loads config and assembles the rule store and analyzer.
func buildRuntime(opts *rootOptions) (*runtime, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	workdir, err := os.Getwd()
	if err != nil {
		workdir = ""
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath(home)
	}
	cfg, err := config.Load(cfgPath, home)
	if err != nil {
		return nil, fmt.Errorf("cli: %w", err)
	}

	logger := newLogger(opts.verbose)

	defaults := ""
	if !cfg.Rules.DisableDefaults {
		defaults, err = rules.Profile(rules.DefaultProfile)
		if err != nil {
			return nil, fmt.Errorf("cli: embedded rules: %w", err)
		}
	}

	tierFiles := engine.DefaultTierFiles(home, workdir)
	for _, entry := range cfg.Rules.ExtraFiles {
		tf, err := parseExtraFile(entry, workdir)
		if err != nil {
			return nil, err
		}
		tierFiles = append(tierFiles, tf)
	}

	var analyzer *scan.Analyzer
	if !cfg.Scan.Disabled {
		analyzer = scan.New(scan.Options{
			MaxFileSize:    cfg.Scan.MaxFileSize,
			MaxLines:       cfg.Scan.MaxLines,
			FollowSymlinks: cfg.Scan.FollowSymlinks,
		}, home, logger)
	}

	return &runtime{
		cfg:      cfg,
		store:    engine.NewRuleStore(defaults, tierFiles, logger),
		env:      engine.OSEnv{},
		analyzer: analyzer,
		logger:   logger,
		home:     home,
		workdir:  workdir,
	}, nil
}

// buildEngine loads the rule tiers and returns a ready engine plus the
// loaded rule set. Parse errors are logged, not fatal.
func (rt *runtime) buildEngine() (*engine.Engine, *engine.RuleSet, error) {
	set, err := rt.store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("cli: load rules: %w", err)
	}
	for _, perr := range set.Errors {
		rt.logger.Warn("cli: rule parse error", "error", perr.Error())
	}
	return engine.New(set.Rules, rt.env, rt.analyzer, rt.logger), set, nil
}

// parseExtraFile resolves a config rules.extra_files entry. An optional
// "global:", "user:", or "project:" prefix picks the tier; bare paths
// load at project tier. Relative paths resolve against workdir.
func parseExtraFile(entry, workdir string) (engine.TierFile, error) {
	source := engine.SourceProject
	path := entry
	if prefix, rest, ok := strings.Cut(entry, ":"); ok {
		switch prefix {
		case "global":
			source, path = engine.SourceGlobal, rest
		case "user":
			source, path = engine.SourceUser, rest
		case "project":
			source, path = engine.SourceProject, rest
		}
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return engine.TierFile{}, fmt.Errorf("cli: invalid rules.extra_files entry %q", entry)
	}
	if !filepath.IsAbs(path) && workdir != "" {
		path = filepath.Join(workdir, path)
	}
	return engine.TierFile{Path: path, Source: source}, nil
}
