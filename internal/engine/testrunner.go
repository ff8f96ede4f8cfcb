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
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TestSuite is a YAML file of expectations to run against a rule set, so
// rule authors can keep regression suites next to their rules.
type TestSuite struct {
	// Rules lists rule files to load, relative to the suite file.
	// Each entry may carry a tier prefix ("project:./rules"); the
	// default tier is project.
	Rules []string `yaml:"rules"`

	// Tests is the list of expectations.
	Tests []TestCase `yaml:"tests"`
}

// TestCase is one command with its expected verdict.
type TestCase struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`

	// Expect is "allow", "block", or "confirm".
	Expect string `yaml:"expect"`
}

// TestOutcome is the result of one test case.
type TestOutcome struct {
	Name     string
	Command  string
	Expected string
	Got      string
	Reason   string
	Passed   bool
}

// RunSuite loads a suite file, builds an engine over its rule files, and
// evaluates every case. env supplies the expansion environment so suites
// run deterministically.
func RunSuite(path string, env Env) ([]TestOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read test suite: %w", err)
	}

	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("engine: parse test suite: %w", err)
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("engine: test suite %s has no tests", path)
	}

	baseDir := filepath.Dir(path)
	var files []TierFile
	for _, entry := range suite.Rules {
		tf, err := parseSuiteRuleEntry(entry, baseDir)
		if err != nil {
			return nil, err
		}
		files = append(files, tf)
	}

	store := NewRuleStore("", files, nil)
	set, err := store.Load()
	if err != nil {
		return nil, err
	}

	eng := New(set.Rules, env, nil, nil)

	outcomes := make([]TestOutcome, 0, len(suite.Tests))
	for i, tc := range suite.Tests {
		if tc.Command == "" {
			return nil, fmt.Errorf("engine: test %d (%q) has no command", i, tc.Name)
		}
		switch tc.Expect {
		case "allow", "block", "confirm":
		default:
			return nil, fmt.Errorf("engine: test %d (%q): invalid expect %q", i, tc.Name, tc.Expect)
		}

		res := eng.ValidateCommand(tc.Command)
		got := res.Action.String()
		outcomes = append(outcomes, TestOutcome{
			Name:     tc.Name,
			Command:  tc.Command,
			Expected: tc.Expect,
			Got:      got,
			Reason:   res.Reason,
			Passed:   got == tc.Expect,
		})
	}
	return outcomes, nil
}

func parseSuiteRuleEntry(entry, baseDir string) (TierFile, error) {
	source := SourceProject
	path := entry

	for prefix, s := range map[string]Source{
		"global:":  SourceGlobal,
		"user:":    SourceUser,
		"project:": SourceProject,
	} {
		if len(entry) > len(prefix) && entry[:len(prefix)] == prefix {
			source = s
			path = entry[len(prefix):]
			break
		}
	}

	if path == "" {
		return TierFile{}, fmt.Errorf("engine: empty rule file entry %q", entry)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return TierFile{Path: path, Source: source}, nil
}
