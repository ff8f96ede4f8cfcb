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
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peg/cmdgate/rules"
)

func newInitCmd(_ *rootOptions) *cobra.Command {
	var force bool
	var profile string
	var project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize cmdgate rule files from a built-in profile",
		Long: `Write a starter rule file seeded from a built-in profile.

By default the user tier file (~/.cmdgate/rules) is created. With
--project, the project tier file (./.cmdgate/rules) is created instead.

Profiles: ` + strings.Join(rules.ProfileNames, ", ") + `.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected := strings.TrimSpace(strings.ToLower(profile))
			if !slices.Contains(rules.ProfileNames, selected) {
				return fmt.Errorf("cli: invalid profile %q (valid: %s)", profile, strings.Join(rules.ProfileNames, ", "))
			}
			content, err := rules.Profile(selected)
			if err != nil {
				return fmt.Errorf("cli: read embedded profile %s: %w", selected, err)
			}

			var dir string
			if project {
				workdir, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("cli: resolve working directory: %w", err)
				}
				dir = filepath.Join(workdir, ".cmdgate")
			} else {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("cli: resolve home: %w", err)
				}
				dir = filepath.Join(home, ".cmdgate")
			}

			path := filepath.Join(dir, "rules")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("cli: rule file already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("cli: check rule file %s: %w", path, err)
			}

			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("cli: create %s: %w", dir, err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("cli: write rule file %s: %w", path, err)
			}

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Created %s with %s profile\n", path, selected); err != nil {
				return fmt.Errorf("cli: write init output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing rule file")
	cmd.Flags().StringVar(&profile, "profile", rules.DefaultProfile, "Profile to seed from")
	cmd.Flags().BoolVar(&project, "project", false, "Create the project tier file instead of the user tier")

	return cmd
}
