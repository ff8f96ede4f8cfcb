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

package cmdgate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peg/cmdgate/internal/audit"
	"github.com/peg/cmdgate/internal/engine"
	"github.com/peg/cmdgate/rules"
)

// contextKey is an unexported type for context keys, preventing collisions
// with keys from other packages.
type contextKey string

const (
	// AgentKey is the context key for the agent identifier.
	AgentKey contextKey = "cmdgate-agent"

	// SessionKey is the context key for the session identifier.
	SessionKey contextKey = "cmdgate-session"

	defaultAgent   = "unknown-agent"
	defaultSession = "unknown-session"
)

// ExecFunc runs a shell command. Gate.Wrap produces one that validates
// the command first.
type ExecFunc func(ctx context.Context, command string) error

// AuditSink receives audit events emitted by the gate.
// Implemented by audit.JSONLSink.
type AuditSink interface {
	Write(event audit.Event) error
}

// Options configures a Gate.
type Options struct {
	// RuleFiles lists rule files loaded at the project tier. Tier
	// merge handles precedence against the embedded defaults.
	RuleFiles []string

	// DisableDefaults skips the embedded standard profile.
	DisableDefaults bool

	// Home and Workdir anchor tilde and relative-path expansion.
	// Empty values fall back to generic expansion behavior.
	Home    string
	Workdir string

	// Logger receives rule parse warnings. Nil means silent.
	Logger *slog.Logger

	// Sink, when set, receives one audit event per validated command.
	Sink AuditSink
}

// Result is the outcome of validating one command.
type Result struct {
	// Decision is "allow", "block", or "confirm".
	Decision string

	// Reason is a human-readable explanation.
	Reason string

	// RulePattern is the matched rule's pattern, empty for built-in
	// checks and the default allow.
	RulePattern string

	// RuleSource is the tier the matched rule came from.
	RuleSource string

	// TargetPaths lists filesystem paths the command would touch, when
	// the engine could determine them.
	TargetPaths []string

	// EvalDuration is how long validation took.
	EvalDuration time.Duration
}

// Allowed reports whether the command may run without further input.
func (r Result) Allowed() bool { return r.Decision == "allow" }

// Gate validates shell commands against loaded rules.
type Gate struct {
	engine *engine.Engine
	sink   AuditSink
	logger *slog.Logger
}

// New builds a Gate from opts. Rule files are read once; create a new
// Gate to pick up changes.
func New(opts Options) (*Gate, error) {
	logger := opts.Logger

	defaults := ""
	if !opts.DisableDefaults {
		var err error
		defaults, err = rules.Profile(rules.DefaultProfile)
		if err != nil {
			return nil, fmt.Errorf("cmdgate: embedded rules: %w", err)
		}
	}

	files := make([]engine.TierFile, 0, len(opts.RuleFiles))
	for _, path := range opts.RuleFiles {
		if path == "" {
			return nil, fmt.Errorf("cmdgate: empty rule file path")
		}
		files = append(files, engine.TierFile{Path: path, Source: engine.SourceProject})
	}

	store := engine.NewRuleStore(defaults, files, logger)
	set, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("cmdgate: load rules: %w", err)
	}
	if logger != nil {
		for _, perr := range set.Errors {
			logger.Warn("cmdgate: rule parse error", "error", perr.Error())
		}
	}

	var env engine.Env
	if opts.Home != "" || opts.Workdir != "" {
		env = engine.MapEnv{Home: opts.Home, Cwd: opts.Workdir}
	} else {
		env = engine.OSEnv{}
	}

	return &Gate{
		engine: engine.New(set.Rules, env, nil, logger),
		sink:   opts.Sink,
		logger: logger,
	}, nil
}

// Check validates command and returns the verdict without enforcing it.
// Agents can use this to plan around restrictions before attempting a
// blocked action.
func (g *Gate) Check(command string) Result {
	res := g.engine.ValidateCommand(command)
	out := Result{
		Decision:     res.Action.String(),
		Reason:       res.Reason,
		EvalDuration: res.EvalDuration,
	}
	if res.Rule != nil {
		out.RulePattern = res.Rule.Pattern
		out.RuleSource = res.Rule.Source.String()
	}
	if res.Meta != nil {
		out.TargetPaths = res.Meta.TargetPaths
	}
	return out
}

// Guard validates command and maps the verdict to an error: nil for
// allow, *BlockedError for block, *ConfirmError for confirm. An audit
// event is written when a sink is configured.
func (g *Gate) Guard(ctx context.Context, command string) error {
	res := g.Check(command)
	g.writeEvent(ctx, command, res)

	switch res.Decision {
	case "block":
		return &BlockedError{Command: command, Pattern: res.RulePattern, Reason: res.Reason}
	case "confirm":
		return &ConfirmError{Command: command, Pattern: res.RulePattern, Reason: res.Reason}
	default:
		return nil
	}
}

// Wrap returns an ExecFunc that validates every command before handing
// it to fn. Blocked and confirm verdicts never reach fn.
func (g *Gate) Wrap(fn ExecFunc) ExecFunc {
	return func(ctx context.Context, command string) error {
		if err := g.Guard(ctx, command); err != nil {
			return err
		}
		return fn(ctx, command)
	}
}

func (g *Gate) writeEvent(ctx context.Context, command string, res Result) {
	if g.sink == nil {
		return
	}

	event := audit.Event{
		ID:        audit.NewEventID(),
		Timestamp: time.Now().UTC(),
		Agent:     valueOrDefault(ctx, AgentKey, defaultAgent),
		Session:   valueOrDefault(ctx, SessionKey, defaultSession),
		Command:   command,
		Decision: audit.Decision{
			Action:      res.Decision,
			RulePattern: res.RulePattern,
			RuleSource:  res.RuleSource,
			Reason:      res.Reason,
			TargetPaths: res.TargetPaths,
			EvalTimeUS:  res.EvalDuration.Microseconds(),
		},
	}
	if err := g.sink.Write(event); err != nil && g.logger != nil {
		g.logger.Error("cmdgate: audit write failed", "error", err)
	}
}

// WithAgent tags ctx with the agent identifier used in audit events.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// WithSession tags ctx with the session identifier used in audit events.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// valueOrDefault returns a context string value for key, or fallback.
func valueOrDefault(ctx context.Context, key contextKey, fallback string) string {
	if ctx == nil {
		return fallback
	}

	value, _ := ctx.Value(key).(string)
	if value == "" {
		return fallback
	}

	return value
}
