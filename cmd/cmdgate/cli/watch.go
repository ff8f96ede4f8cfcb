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
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peg/cmdgate/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var auditDir string
	var agent string
	var decision string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view of the audit trail",
		Long: `Tail the audit trail and render decisions in a live TUI.

Events appear as agents run commands through the hook or the daemon.
Use --agent and --decision to narrow the feed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}

			dir := auditDir
			if dir == "" {
				dir = rt.cfg.Audit.Dir
			}
			dir, err = expandHome(dir, rt.home)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("cli: create audit directory %s: %w", dir, err)
			}

			switch decision {
			case "", "allow", "block", "confirm":
			default:
				return fmt.Errorf("cli: invalid --decision %q (valid: allow, block, confirm)", decision)
			}

			return watch.Run(cmd.Context(), watch.Config{
				AuditDir: dir,
				Profile:  activeProfile(rt),
				Agent:    agent,
				Decision: decision,
				Out:      cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&auditDir, "audit-dir", "", "Audit trail directory (default from config)")
	cmd.Flags().StringVar(&agent, "agent", "", "Only show events from this agent")
	cmd.Flags().StringVar(&decision, "decision", "", "Only show this decision (allow, block, confirm)")

	return cmd
}

// activeProfile names the rule baseline for the watch header.
func activeProfile(rt *runtime) string {
	if rt.cfg.Rules.DisableDefaults {
		return "custom"
	}
	return "standard"
}

func expandHome(path, home string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home == "" {
			return "", fmt.Errorf("cli: cannot expand %q: home directory unknown", path)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
