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

// Package engine implements cmdgate's command validation pipeline.
//
// A raw command string is tokenized into segments, each segment is unwrapped
// through known wrapper commands (sudo, bash -c, xargs, find -exec, ...),
// and the result runs through a short-circuiting pipeline:
//
//  1. inherently-dangerous command check (mkfs, dd to a block device)
//  2. catastrophic-path check for recursive deletions, plus script scanning
//  3. whole-string pattern matching for multi-segment commands
//  4. per-segment recursive validation for chains and pipes
//  5. glob rule matching with a default-allow fallback
//
// Stages 1 and 2 are unconditional: no rule can override them. Validation
// is a pure function of the command, the rule set, and the environment;
// no network calls, no shared mutable state, bounded time.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/peg/cmdgate/internal/scan"
)

// Action is the final verdict for a command.
type Action int

const (
	// ActionAllow permits the command to execute.
	ActionAllow Action = iota

	// ActionBlock rejects the command. The agent receives the reason.
	ActionBlock

	// ActionConfirm holds the command for human confirmation.
	ActionConfirm
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionBlock:
		return "block"
	case ActionConfirm:
		return "confirm"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Meta carries optional decision detail for audit and display.
type Meta struct {
	// TargetPaths are the filesystem paths that triggered the decision.
	TargetPaths []string

	// EstimatedImpact is "catastrophic" for built-in hard blocks.
	EstimatedImpact string
}

// Result is the outcome of validating one command. Every block or confirm
// decision carries a human-readable reason; Rule is nil exactly when the
// decision came from the default-allow fallback or a built-in check that
// bypasses rule matching.
type Result struct {
	Action Action
	Rule   *Rule
	Reason string
	Meta   *Meta

	// EvalDuration is how long validation took. Informational.
	EvalDuration time.Duration
}

// Blocked reports whether the command was rejected.
func (r Result) Blocked() bool { return r.Action == ActionBlock }

// Engine validates parsed commands against a merged rule set.
//
// The rule set is immutable input: an Engine never mutates it, and
// concurrent validations are naturally isolated.
type Engine struct {
	rules    []Rule
	env      Env
	analyzer *scan.Analyzer
	logger   *slog.Logger
}

// New creates a validation engine. rules must already be merged (one rule
// per pattern, see Merge). analyzer may be nil to disable script scanning;
// a nil logger falls back to slog.Default().
func New(rules []Rule, env Env, analyzer *scan.Analyzer, logger *slog.Logger) *Engine {
	if env == nil {
		env = OSEnv{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, env: env, analyzer: analyzer, logger: logger}
}

// Rules returns the merged rule set the engine was built with.
func (e *Engine) Rules() []Rule { return e.rules }

// ValidateCommand tokenizes and validates a raw command string.
func (e *Engine) ValidateCommand(raw string) Result {
	return e.Validate(Tokenize(raw, e.env))
}

// Validate runs the full decision pipeline over a parsed command.
func (e *Engine) Validate(cmd ParsedCommand) Result {
	start := time.Now()
	res := e.validate(cmd)
	res.EvalDuration = time.Since(start)
	return res
}

func (e *Engine) validate(cmd ParsedCommand) Result {
	if len(cmd.Segments) == 0 {
		return Result{Action: ActionAllow, Reason: "empty command"}
	}

	if res, done := e.checkInherentlyDangerous(cmd); done {
		return res
	}
	if res, done := e.checkCatastrophicPaths(cmd); done {
		return res
	}

	if len(cmd.Segments) > 1 {
		// Cross-segment patterns like "* | bash" must see the whole
		// string before segments are judged in isolation.
		if m := MatchRules(cmd, e.rules, e.env); m.Matched && m.Rule.Kind == KindBlock {
			return Result{
				Action: ActionBlock,
				Rule:   m.Rule,
				Reason: fmt.Sprintf("command matches block rule pattern %q", m.Rule.Pattern),
			}
		}
		return e.validateSegments(cmd)
	}

	return e.matchStage(cmd)
}

// checkInherentlyDangerous blocks filesystem-formatting tools and dd writes
// to block devices, regardless of any rule.
func (e *Engine) checkInherentlyDangerous(cmd ParsedCommand) (Result, bool) {
	for _, seg := range cmd.Segments {
		for _, u := range Unwrap(seg) {
			if dangerous, why := isInherentlyDangerous(u); dangerous {
				e.logger.Debug("engine: inherently dangerous command",
					"command", u.Command,
					"wrappers", u.Wrappers,
				)
				return Result{
					Action: ActionBlock,
					Reason: "inherently dangerous command: " + why,
					Meta:   &Meta{EstimatedImpact: "catastrophic"},
				}, true
			}
		}
	}
	return Result{}, false
}

// checkCatastrophicPaths blocks recursive deletions that reach critical
// filesystem locations, and scans any script file a segment executes.
func (e *Engine) checkCatastrophicPaths(cmd ParsedCommand) (Result, bool) {
	home := e.env.HomeDir()
	workdir := e.env.Workdir()

	for _, seg := range cmd.Segments {
		for _, u := range Unwrap(seg) {
			if reason, paths, hit := checkCatastrophicDeletion(u, home, workdir); hit {
				return Result{
					Action: ActionBlock,
					Reason: reason,
					Meta:   &Meta{TargetPaths: paths, EstimatedImpact: "catastrophic"},
				}, true
			}

			if res, done := e.scanScript(u); done {
				return res, true
			}
		}
	}
	return Result{}, false
}

// scanScript runs the script analyzer when an unwrapped command executes a
// script file. Unreadable or unclassifiable scripts fail open.
func (e *Engine) scanScript(u UnwrappedCommand) (Result, bool) {
	if e.analyzer == nil {
		return Result{}, false
	}
	command := u.Path
	if command == "" {
		command = u.Command
	}
	path, ok := scan.DetectScriptExecution(command, u.Args)
	if !ok {
		return Result{}, false
	}

	res := e.analyzer.Analyze(path)
	if !res.Analyzed {
		e.logger.Debug("engine: script analysis failed open",
			"path", path,
			"error", res.AnalysisError,
		)
		return Result{}, false
	}
	if res.ShouldBlock {
		return Result{
			Action: ActionBlock,
			Reason: fmt.Sprintf("script %s: %s", path, res.BlockReason),
			Meta:   &Meta{TargetPaths: []string{path}, EstimatedImpact: "catastrophic"},
		}, true
	}
	return Result{}, false
}

// validateSegments re-enters the pipeline once per segment. Any blocked
// segment blocks the whole chain; otherwise any confirm wins; otherwise the
// chain is allowed, surfacing an explicitly matched allow rule if one exists.
func (e *Engine) validateSegments(cmd ParsedCommand) Result {
	var confirm *Result
	var allowed *Result

	for _, seg := range cmd.Segments {
		sub := singleSegment(seg)
		res := e.validate(sub)

		switch res.Action {
		case ActionBlock:
			res.Reason = fmt.Sprintf("segment %q: %s", sub.Normalized, res.Reason)
			return res
		case ActionConfirm:
			if confirm == nil {
				r := res
				r.Reason = fmt.Sprintf("segment %q: %s", sub.Normalized, res.Reason)
				confirm = &r
			}
		case ActionAllow:
			if allowed == nil && res.Rule != nil {
				r := res
				allowed = &r
			}
		}
	}

	if confirm != nil {
		return *confirm
	}
	if allowed != nil {
		return *allowed
	}
	return Result{Action: ActionAllow, Reason: "all segments allowed by default allow policy"}
}

// singleSegment builds a synthetic one-segment command for recursive
// validation of chains and pipes.
func singleSegment(seg CommandSegment) ParsedCommand {
	text := seg.Text()
	return ParsedCommand{
		Original:   text,
		Normalized: text,
		Segments:   []CommandSegment{{Command: seg.Command, Args: seg.Args}},
	}
}

// matchStage is the pattern-rule fallback for single-segment commands.
func (e *Engine) matchStage(cmd ParsedCommand) Result {
	m := MatchRules(cmd, e.rules, e.env)
	if !m.Matched {
		return Result{Action: ActionAllow, Reason: "no rule matched; default allow policy"}
	}

	switch m.Rule.Kind {
	case KindBlock:
		return Result{
			Action: ActionBlock,
			Rule:   m.Rule,
			Reason: fmt.Sprintf("command matches block rule pattern %q", m.Rule.Pattern),
		}
	case KindConfirm:
		return Result{
			Action: ActionConfirm,
			Rule:   m.Rule,
			Reason: fmt.Sprintf("command matches confirm rule pattern %q", m.Rule.Pattern),
		}
	default:
		return Result{
			Action: ActionAllow,
			Rule:   m.Rule,
			Reason: fmt.Sprintf("command matches allow rule pattern %q", m.Rule.Pattern),
		}
	}
}
