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

// Package cli contains cmdgate command-line subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// Execute runs the cmdgate CLI command tree.
func Execute() error {
	cmd := NewRootCmd(context.Background(), os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if !errors.As(err, &ec) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return err
	}
	return nil
}

// ExitCode returns the process exit code implied by err.
// Non-nil errors default to exit code 1 unless they expose ExitCode().
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		code := ec.ExitCode()
		if code > 0 {
			return code
		}
	}

	return 1
}

// blockedError maps a block decision to the hook exit-code convention.
// Exit code 2 tells the calling agent the command was rejected.
type blockedError struct {
	reason string
}

func (e *blockedError) Error() string { return e.reason }
func (e *blockedError) ExitCode() int { return 2 }

// NewRootCmd builds the cmdgate root command.
func NewRootCmd(ctx context.Context, outWriter, errWriter io.Writer) *cobra.Command {
	opts := &rootOptions{}
	var showVersion bool
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := &cobra.Command{
		Use:           "cmdgate",
		Short:         "Shell command policy gate for autonomous agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				return writeVersion(cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}
	cmd.SetContext(ctx)
	cmd.SetOut(outWriter)
	cmd.SetErr(errWriter)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.cmdgate/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&showVersion, "version", false, "Print version information and exit")

	const (
		groupSetup   = "setup"
		groupRules   = "rules"
		groupRuntime = "runtime"
		groupHooks   = "hooks"
	)
	cmd.AddGroup(
		&cobra.Group{ID: groupSetup, Title: "Setup"},
		&cobra.Group{ID: groupRules, Title: "Rules"},
		&cobra.Group{ID: groupRuntime, Title: "Runtime"},
		&cobra.Group{ID: groupHooks, Title: "Hooks"},
	)

	versionCmd := newVersionCmd()
	initCmd := newInitCmd(opts)
	checkCmd := newCheckCmd(opts)
	rulesCmd := newRulesCmd(opts)
	watchCmd := newWatchCmd(opts)
	serveCmd := newServeCmd(opts)
	hookCmd := newHookCmd(opts)

	initCmd.GroupID = groupSetup
	rulesCmd.GroupID = groupRules
	checkCmd.GroupID = groupRules
	watchCmd.GroupID = groupRuntime
	serveCmd.GroupID = groupRuntime
	hookCmd.GroupID = groupHooks

	cmd.AddCommand(versionCmd)
	cmd.AddCommand(initCmd)
	cmd.AddCommand(checkCmd)
	cmd.AddCommand(rulesCmd)
	cmd.AddCommand(watchCmd)
	cmd.AddCommand(serveCmd)
	cmd.AddCommand(hookCmd)

	return cmd
}
