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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/peg/cmdgate/internal/engine"
)

func newRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect, lint, and test rule files",
	}
	cmd.AddCommand(newRulesListCmd(opts))
	cmd.AddCommand(newRulesLintCmd())
	cmd.AddCommand(newRulesTestCmd(opts))
	return cmd
}

func newRulesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the merged rule set across all tiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}
			_, set, err := rt.buildEngine()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(set.Files) == 0 {
				fmt.Fprintln(out, "No rule files found; using embedded defaults only.")
			} else {
				fmt.Fprintln(out, "Rule files:")
				for _, f := range set.Files {
					fmt.Fprintf(out, "  %s\n", f)
				}
			}
			fmt.Fprintln(out)

			writeRuleList(out, set.Rules)

			if len(set.Errors) > 0 {
				fmt.Fprintf(out, "\n%d malformed line(s) skipped:\n", len(set.Errors))
				for _, perr := range set.Errors {
					fmt.Fprintf(out, "  %s\n", perr.Error())
				}
			}
			return nil
		},
	}
}

// rulePrefix maps a kind back to its rule-file spelling.
func rulePrefix(k engine.RuleKind) string {
	switch k {
	case engine.KindBlock:
		return "!"
	case engine.KindConfirm:
		return "?"
	case engine.KindAllow:
		return "+"
	case engine.KindProtect:
		return "@protect "
	case engine.KindSandbox:
		return "@sandbox "
	default:
		return "#"
	}
}

func writeRuleList(w io.Writer, rules []engine.Rule) {
	var directives []engine.Rule
	fmt.Fprintf(w, "Merged rules (%d):\n", len(rules))
	for _, r := range rules {
		if !r.Kind.Matchable() {
			directives = append(directives, r)
			continue
		}
		fmt.Fprintf(w, "  %s%-40s %s (%s)\n", rulePrefix(r.Kind), r.Pattern, r.Kind, r.Source)
	}
	if len(directives) > 0 {
		fmt.Fprintln(w, "\nDirectives (parsed, not yet enforced):")
		for _, r := range directives {
			fmt.Fprintf(w, "  %s%s (%s)\n", rulePrefix(r.Kind), r.Pattern, r.Source)
		}
	}
}

func newRulesLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file>",
		Short: "Lint a rule file for common mistakes",
		Long: `Lint a rule file and report errors, warnings, and suggestions.

Checks for:
  - Malformed lines (unknown prefix, missing pattern)
  - Universal allow/block patterns
  - Directives that parse but are not yet enforced
  - Duplicate patterns superseded by merge

Exit code: 1 if errors found, 0 if only warnings/info.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("file not found: %s", path)
				}
				return fmt.Errorf("cli: read rule file %s: %w", path, err)
			}

			rules, parseErrs := engine.ParseRules(string(data), engine.SourceProject)
			findings := engine.Lint(rules, parseErrs)

			out := cmd.OutOrStdout()
			errors := 0
			for _, f := range findings {
				if f.Severity == engine.LintError {
					errors++
				}
				fmt.Fprintln(out, f.String())
			}
			fmt.Fprintf(out, "%s: %d finding(s), %d error(s)\n", path, len(findings), errors)

			if errors > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newRulesTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <suite.yaml>",
		Short: "Run a YAML expectation suite against rule files",
		Long: `Run a test suite of commands and expected verdicts.

The suite file names the rule files to load (with optional tier
prefixes) and a list of command/expect pairs:

  rules:
    - project:team.rules
  tests:
    - command: "git push --force"
      expect: confirm
    - command: "make build"
      expect: allow

Exit code: 1 if any expectation fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}

			outcomes, err := engine.RunSuite(args[0], rt.env)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, o := range outcomes {
				if o.Passed {
					fmt.Fprintf(out, "PASS  %s → %s\n", o.Command, o.Got)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL  %s → %s (expected %s)\n", o.Command, o.Got, o.Expected)
				if o.Reason != "" {
					fmt.Fprintf(out, "      %s\n", o.Reason)
				}
			}
			fmt.Fprintf(out, "%d test(s), %d failure(s)\n", len(outcomes), failed)

			if failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}
