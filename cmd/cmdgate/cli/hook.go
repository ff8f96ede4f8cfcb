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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/peg/cmdgate/internal/audit"
	"github.com/peg/cmdgate/internal/engine"
)

// hookInput is the JSON sent by Claude Code on stdin for PreToolUse hooks.
type hookInput struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	SessionID string         `json:"session_id"`
}

// hookOutput is the JSON response for Claude Code hooks.
type hookOutput struct {
	HookSpecificOutput hookDecision `json:"hookSpecificOutput"`
}

type hookDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

func newHookCmd(opts *rootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Agent hook: reads PreToolUse JSON from stdin, returns allow/deny/ask",
		Long: `Validates the command in a Claude Code PreToolUse hook call.

Reads the hook JSON from stdin and writes the hook response to stdout.
Block verdicts deny the tool call (exit code 2); confirm verdicts map to
the agent's native "ask" prompt. Tool calls that are not shell commands
pass through untouched.

Setup (add to ~/.claude/settings.json):
{
  "hooks": {
    "PreToolUse": [
      {
        "matcher": "Bash",
        "hooks": [{ "type": "command", "command": "cmdgate hook" }]
      }
    ]
  }
}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "enforce" && mode != "monitor" {
				return fmt.Errorf("hook: invalid mode %q (must be enforce or monitor)", mode)
			}
			return runHook(cmd, opts, mode, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "enforce", "Mode: enforce | monitor (monitor never denies)")

	return cmd
}

func runHook(cmd *cobra.Command, opts *rootOptions, mode string, stdin io.Reader) error {
	rt, err := buildRuntime(opts)
	if err != nil {
		return err
	}

	// A hook that cannot parse its input must not break the agent.
	var input hookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil {
		rt.logger.Warn("hook: unparseable input", "error", err)
		return writeHookResponse(cmd, hookAllow, "")
	}

	command, _ := input.ToolInput["command"].(string)
	if input.ToolName != "Bash" || command == "" {
		return writeHookResponse(cmd, hookAllow, "")
	}

	eng, _, err := rt.buildEngine()
	if err != nil {
		return err
	}
	result := eng.ValidateCommand(command)

	session := input.SessionID
	if session == "" {
		session = "hook"
	}
	rt.writeAuditEvent(command, session, result)

	if mode == "monitor" {
		return writeHookResponse(cmd, hookAllow, "")
	}

	switch result.Action {
	case engine.ActionBlock:
		fmt.Fprint(cmd.ErrOrStderr(), formatBlockMessage(command, result.Reason))
		if err := writeHookResponse(cmd, hookDeny, result.Reason); err != nil {
			return err
		}
		return &blockedError{reason: result.Reason}
	case engine.ActionConfirm:
		fmt.Fprint(cmd.ErrOrStderr(), formatConfirmMessage(command, result.Reason))
		return writeHookResponse(cmd, hookAsk, result.Reason)
	default:
		return writeHookResponse(cmd, hookAllow, "")
	}
}

// writeAuditEvent appends the decision to the audit trail. Audit failures
// are logged, never surfaced: a broken trail must not block the agent.
func (rt *runtime) writeAuditEvent(command, session string, result engine.Result) {
	if rt.cfg.Audit.Disabled {
		return
	}
	if err := os.MkdirAll(rt.cfg.Audit.Dir, 0o700); err != nil {
		rt.logger.Error("hook: create audit dir", "error", err)
		return
	}

	sink, err := audit.NewJSONLSink(rt.cfg.Audit.Dir,
		audit.WithFsync(rt.cfg.Audit.FsyncEnabled()),
		audit.WithRotateSize(rt.cfg.Audit.RotateSizeMB<<20),
		audit.WithAnchorInterval(rt.cfg.Audit.AnchorInterval),
		audit.WithLogger(rt.logger),
	)
	if err != nil {
		rt.logger.Error("hook: open audit sink", "error", err)
		return
	}
	defer sink.Close()

	event := audit.Event{
		ID:        audit.NewEventID(),
		Timestamp: time.Now().UTC(),
		Agent:     "claude-code",
		Session:   session,
		Command:   command,
		Decision: audit.Decision{
			Action:     result.Action.String(),
			Reason:     result.Reason,
			EvalTimeUS: result.EvalDuration.Microseconds(),
		},
	}
	if result.Rule != nil {
		event.Decision.RulePattern = result.Rule.Pattern
		event.Decision.RuleSource = result.Rule.Source.String()
	}
	if result.Meta != nil {
		event.Decision.TargetPaths = result.Meta.TargetPaths
	}

	if err := sink.Write(event); err != nil {
		rt.logger.Error("hook: audit write failed", "error", err)
	}
}

// hookDecisionType represents the three possible hook outcomes.
type hookDecisionType int

const (
	hookAllow hookDecisionType = iota
	hookDeny
	hookAsk // confirm verdict → agent's native permission prompt
)

// writeHookResponse writes the hook JSON to stdout. An allow omits
// permissionDecision entirely; the agent treats absence as allow.
func writeHookResponse(cmd *cobra.Command, decision hookDecisionType, reason string) error {
	out := hookOutput{
		HookSpecificOutput: hookDecision{
			HookEventName: "PreToolUse",
		},
	}
	switch decision {
	case hookDeny:
		out.HookSpecificOutput.PermissionDecision = "deny"
		out.HookSpecificOutput.PermissionDecisionReason = "Cmdgate: " + reason
	case hookAsk:
		out.HookSpecificOutput.PermissionDecision = "ask"
		out.HookSpecificOutput.PermissionDecisionReason = "Cmdgate: " + reason
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}
