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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hookPayload(t *testing.T, tool, command string) string {
	t.Helper()
	payload := map[string]any{
		"tool_name":  tool,
		"session_id": "sess-1",
	}
	if command != "" {
		payload["tool_input"] = map[string]any{"command": command}
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(data)
}

func decodeHookOutput(t *testing.T, stdout string) hookOutput {
	t.Helper()
	var out hookOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "PreToolUse", out.HookSpecificOutput.HookEventName)
	return out
}

func TestHookAllow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stdout, _, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Bash", "echo hi")), "hook")
	require.NoError(t, err)

	out := decodeHookOutput(t, stdout)
	assert.Empty(t, out.HookSpecificOutput.PermissionDecision)
}

func TestHookBlockExitsTwo(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stdout, stderr, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Bash", "rm -rf /")), "hook")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))

	out := decodeHookOutput(t, stdout)
	assert.Equal(t, "deny", out.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, out.HookSpecificOutput.PermissionDecisionReason, "Cmdgate: ")
	assert.Contains(t, stderr, "rm -rf /")
}

func TestHookConfirmMapsToAsk(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stdout, _, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Bash", "git rebase main")), "hook")
	require.NoError(t, err)

	out := decodeHookOutput(t, stdout)
	assert.Equal(t, "ask", out.HookSpecificOutput.PermissionDecision)
}

func TestHookMonitorNeverDenies(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stdout, _, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Bash", "rm -rf /")), "hook", "--mode", "monitor")
	require.NoError(t, err)

	out := decodeHookOutput(t, stdout)
	assert.Empty(t, out.HookSpecificOutput.PermissionDecision)
}

func TestHookInvalidModeRejected(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, _, err := runCLIWithStdin(t, strings.NewReader("{}"), "hook", "--mode", "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestHookUnparseableInputAllows(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stdout, _, err := runCLIWithStdin(t, strings.NewReader("{not json"), "hook")
	require.NoError(t, err)

	out := decodeHookOutput(t, stdout)
	assert.Empty(t, out.HookSpecificOutput.PermissionDecision)
}

func TestHookNonBashToolAllows(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stdout, _, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Read", "")), "hook")
	require.NoError(t, err)

	out := decodeHookOutput(t, stdout)
	assert.Empty(t, out.HookSpecificOutput.PermissionDecision)
}

func TestHookWritesAuditTrail(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	_, _, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Bash", "rm -rf /")), "hook")
	require.Error(t, err)

	auditDir := filepath.Join(home, ".cmdgate", "audit")
	entries, readErr := os.ReadDir(auditDir)
	require.NoError(t, readErr)
	require.NotEmpty(t, entries)

	data, readErr := os.ReadFile(filepath.Join(auditDir, entries[0].Name()))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), `"rm -rf /"`)
	assert.Contains(t, string(data), `"block"`)
	assert.Contains(t, string(data), `"sess-1"`)
}

func TestHookAuditDisabled(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfgDir := filepath.Join(home, ".cmdgate")
	require.NoError(t, os.MkdirAll(cfgDir, 0o700))
	cfg := "version: \"1\"\naudit:\n  disabled: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0o644))

	_, _, err := runCLIWithStdin(t, strings.NewReader(hookPayload(t, "Bash", "echo hi")), "hook")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(cfgDir, "audit"))
	assert.True(t, os.IsNotExist(statErr))
}
