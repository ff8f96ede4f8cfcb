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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/peg/cmdgate/internal/confirm"
	"github.com/peg/cmdgate/internal/engine"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		explain     bool
		jsonOut     bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "Validate a command against the rules without executing it",
		Long: `Run a command string through the validation pipeline and print the
verdict. The command is never executed.

Exit codes follow the hook convention: 0 when allowed, 2 when blocked.
A confirm verdict exits 0 unless --interactive is set, in which case the
prompt's answer decides.

Examples:
  cmdgate check "git status"
  cmdgate check "rm -rf /"
  cmdgate check --explain "sudo bash -c 'npm test && rm -rf build'"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}
			eng, _, err := rt.buildEngine()
			if err != nil {
				return err
			}

			raw := args[0]
			result := eng.ValidateCommand(raw)

			if result.Action == engine.ActionConfirm && interactive {
				pattern := ""
				if result.Rule != nil {
					pattern = result.Rule.Pattern
				}
				outcome, err := confirm.Prompt(cmd.Context(), confirm.Options{
					Command:     raw,
					Reason:      result.Reason,
					RulePattern: pattern,
					Timeout:     rt.cfg.Confirm.Timeout(),
				})
				if err != nil {
					return err
				}
				if outcome == confirm.Approved {
					result.Action = engine.ActionAllow
					result.Reason = "confirmed by user"
				} else {
					result.Action = engine.ActionBlock
					result.Reason = "confirmation " + outcome.String()
				}
			}

			if jsonOut {
				if err := writeCheckJSON(cmd.OutOrStdout(), raw, result); err != nil {
					return err
				}
			} else {
				writeCheckVerdict(cmd.OutOrStdout(), raw, result)
				if explain {
					writeCheckExplain(cmd.OutOrStdout(), raw, rt.env)
				}
			}

			if result.Action == engine.ActionBlock {
				return &blockedError{reason: result.Reason}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&explain, "explain", false, "Show tokenization, wrappers, and segments")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the verdict as JSON")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Prompt on confirm verdicts")

	return cmd
}

func writeCheckJSON(w io.Writer, raw string, result engine.Result) error {
	out := map[string]any{
		"command":          raw,
		"decision":         result.Action.String(),
		"reason":           result.Reason,
		"eval_duration_us": result.EvalDuration.Microseconds(),
	}
	if result.Rule != nil {
		out["rule_pattern"] = result.Rule.Pattern
		out["rule_source"] = result.Rule.Source.String()
	}
	if result.Meta != nil {
		if len(result.Meta.TargetPaths) > 0 {
			out["target_paths"] = result.Meta.TargetPaths
		}
		if result.Meta.EstimatedImpact != "" {
			out["estimated_impact"] = result.Meta.EstimatedImpact
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var (
	allowVerdictStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	blockVerdictStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	confirmVerdictStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	detailStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func writeCheckVerdict(w io.Writer, raw string, result engine.Result) {
	var verdict string
	switch result.Action {
	case engine.ActionBlock:
		verdict = blockVerdictStyle.Render("\U0001f534 BLOCK")
	case engine.ActionConfirm:
		verdict = confirmVerdictStyle.Render("\U0001f7e1 CONFIRM")
	default:
		verdict = allowVerdictStyle.Render("✅ ALLOW")
	}

	fmt.Fprintf(w, "%s  %s\n", verdict, raw)
	fmt.Fprintf(w, "   %s\n", detailStyle.Render(result.Reason))
	if result.Rule != nil {
		fmt.Fprintf(w, "   %s\n", detailStyle.Render(
			fmt.Sprintf("rule: %s (%s)", result.Rule.Pattern, result.Rule.Source)))
	}
	if result.Meta != nil && len(result.Meta.TargetPaths) > 0 {
		fmt.Fprintf(w, "   %s\n", detailStyle.Render(
			"paths: "+strings.Join(result.Meta.TargetPaths, ", ")))
	}
}

func writeCheckExplain(w io.Writer, raw string, env engine.Env) {
	parsed := engine.Tokenize(raw, env)
	fmt.Fprintf(w, "\nnormalized: %s\n", parsed.Normalized)
	for i, seg := range parsed.Segments {
		fmt.Fprintf(w, "segment %d: %s\n", i+1, seg.Text())
		for _, u := range engine.Unwrap(seg) {
			line := fmt.Sprintf("  surface: %s", u.Command)
			if len(u.Args) > 0 {
				line += " " + strings.Join(u.Args, " ")
			}
			if len(u.Wrappers) > 0 {
				line += fmt.Sprintf("  (via %s)", strings.Join(u.Wrappers, " → "))
			}
			if u.HasDynamicArgs {
				line += "  [dynamic args]"
			}
			fmt.Fprintln(w, line)
		}
	}
}
