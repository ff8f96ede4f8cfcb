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

package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// TierFile binds a rule file path to the provenance tier its rules carry.
type TierFile struct {
	Path   string
	Source Source
}

// DefaultTierFiles returns the standard three-tier rule file locations:
// global, then user, then project (relative to workdir).
func DefaultTierFiles(home, workdir string) []TierFile {
	files := []TierFile{{Path: "/etc/cmdgate/rules", Source: SourceGlobal}}
	if home != "" {
		files = append(files, TierFile{Path: filepath.Join(home, ".cmdgate", "rules"), Source: SourceUser})
	}
	if workdir != "" {
		files = append(files, TierFile{Path: filepath.Join(workdir, ".cmdgate", "rules"), Source: SourceProject})
	}
	return files
}

// RuleSet is the merged output of loading every tier, along with the parse
// diagnostics and the files that actually existed.
type RuleSet struct {
	Rules  []Rule
	Errors []ParseError
	Files  []string
}

// RuleStore loads and merges rule files across tiers. Embedded default
// rules, if any, are treated as the bottom of the global tier.
type RuleStore struct {
	defaults string
	files    []TierFile
	logger   *slog.Logger
}

// NewRuleStore creates a store over the given tier files. defaults is rule
// text (usually embedded) parsed at global provenance before any file.
func NewRuleStore(defaults string, files []TierFile, logger *slog.Logger) *RuleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleStore{defaults: defaults, files: files, logger: logger}
}

// Paths returns the configured tier file paths, whether or not they exist.
func (s *RuleStore) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for _, tf := range s.files {
		paths = append(paths, tf.Path)
	}
	return paths
}

// Load parses every tier and merges the result. Missing files are skipped;
// every tier is optional. Unreadable files that exist are an error.
func (s *RuleStore) Load() (*RuleSet, error) {
	set := &RuleSet{}

	if s.defaults != "" {
		rules, errs := ParseRules(s.defaults, SourceGlobal)
		set.Rules = append(set.Rules, rules...)
		set.Errors = append(set.Errors, errs...)
	}

	for _, tf := range s.files {
		data, err := os.ReadFile(tf.Path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("engine: read rule file %s: %w", tf.Path, err)
		}

		rules, errs := ParseRules(string(data), tf.Source)
		set.Rules = append(set.Rules, rules...)
		set.Errors = append(set.Errors, errs...)
		set.Files = append(set.Files, tf.Path)

		s.logger.Debug("engine: rule file loaded",
			"path", tf.Path,
			"source", tf.Source.String(),
			"rules", len(rules),
			"errors", len(errs),
		)
	}

	set.Rules = Merge(set.Rules)
	return set, nil
}
