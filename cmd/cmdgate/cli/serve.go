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

	"github.com/spf13/cobra"

	"github.com/peg/cmdgate/internal/audit"
	"github.com/peg/cmdgate/internal/daemon"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy daemon",
		Long: `Start the local HTTP daemon.

The daemon evaluates POST /v1/check requests against the loaded rules,
streams decisions over GET /v1/events, and reloads rule files when they
change on disk. It binds to loopback by default and requires a bearer
token on every endpoint except /healthz.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}

			daemonOpts := []daemon.Option{
				daemon.WithLogger(rt.logger),
				daemon.WithMetrics(rt.cfg.Serve.MetricsEnabled()),
				daemon.WithAnalyzer(rt.analyzer),
			}
			if token != "" {
				daemonOpts = append(daemonOpts, daemon.WithToken(token))
			}

			if !rt.cfg.Audit.Disabled {
				dir, err := expandHome(rt.cfg.Audit.Dir, rt.home)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("cli: create audit directory %s: %w", dir, err)
				}
				sink, err := audit.NewJSONLSink(dir,
					audit.WithFsync(rt.cfg.Audit.FsyncEnabled()),
					audit.WithRotateSize(rt.cfg.Audit.RotateSizeMB<<20),
					audit.WithAnchorInterval(rt.cfg.Audit.AnchorInterval),
					audit.WithLogger(rt.logger),
				)
				if err != nil {
					return fmt.Errorf("cli: open audit trail: %w", err)
				}
				defer sink.Close()
				daemonOpts = append(daemonOpts, daemon.WithSink(sink))
			}

			srv, err := daemon.New(rt.store, rt.env, daemonOpts...)
			if err != nil {
				return err
			}

			listenAddr := addr
			if listenAddr == "" {
				listenAddr = rt.cfg.Serve.Addr
			}
			return srv.Run(cmd.Context(), listenAddr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (default: generated at startup)")

	return cmd
}
