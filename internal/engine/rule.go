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

package engine

import (
	"fmt"
	"strings"
)

// RuleKind is what a matching rule does to a command.
type RuleKind int

const (
	// KindBlock rejects the command outright.
	KindBlock RuleKind = iota

	// KindConfirm requires human confirmation before the command runs.
	KindConfirm

	// KindAllow permits the command explicitly.
	KindAllow

	// KindProtect marks a path as protected. Parsed but not yet enforced.
	KindProtect

	// KindSandbox marks a path as sandboxed. Parsed but not yet enforced.
	KindSandbox
)

// String returns the rule-file spelling of the kind.
func (k RuleKind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindConfirm:
		return "confirm"
	case KindAllow:
		return "allow"
	case KindProtect:
		return "protect"
	case KindSandbox:
		return "sandbox"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Matchable reports whether the kind participates in pattern matching.
// Protect and Sandbox are path directives, not command patterns.
func (k RuleKind) Matchable() bool {
	return k == KindBlock || k == KindConfirm || k == KindAllow
}

// Source is the provenance tier a rule was loaded from.
type Source int

const (
	SourceGlobal Source = iota
	SourceUser
	SourceProject
)

func (s Source) String() string {
	switch s {
	case SourceGlobal:
		return "global"
	case SourceUser:
		return "user"
	case SourceProject:
		return "project"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Rule is a single policy line: a glob pattern bound to an action.
// Rules are immutable once parsed; merged sets only filter and sort them.
type Rule struct {
	Kind    RuleKind
	Pattern string
	Source  Source

	// Specificity ranks how literal the pattern is. Used only as a
	// tie-breaker between rules of equal standing.
	Specificity float64

	// LineNumber is 1-based within the file that produced the rule.
	// Purely diagnostic.
	LineNumber int
}

// ParseError is a recoverable rule-file diagnostic. Parsing never aborts on
// a malformed line; it records the error and continues.
type ParseError struct {
	Line    int
	Message string
	Source  Source
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s rules line %d: %s", e.Source, e.Line, e.Message)
}

// specificity scores a pattern: one point per literal character, half a
// point per '?', nothing for '*', plus a bonus for absolute paths.
func specificity(pattern string) float64 {
	var score float64
	for _, r := range pattern {
		switch r {
		case '*':
		case '?':
			score += 0.5
		default:
			score++
		}
	}
	if strings.HasPrefix(pattern, "/") {
		score += 10
	}
	return score
}

// ParseRules parses rule-file text in the one-rule-per-line grammar:
//
//	!<pattern>          block
//	?<pattern>          confirm
//	+<pattern>          allow
//	@protect <path>     protect directive
//	@sandbox <path>     sandbox directive
//	# comment           ignored
//	<blank>             ignored
//
// Malformed lines are collected as ParseErrors and skipped.
func ParseRules(text string, source Source) ([]Rule, []ParseError) {
	var rules []Rule
	var errs []ParseError

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		rule, err := parseRuleLine(trimmed, lineNo, source)
		if err != nil {
			errs = append(errs, *err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

func parseRuleLine(line string, lineNo int, source Source) (Rule, *ParseError) {
	var kind RuleKind
	var pattern string

	switch {
	case strings.HasPrefix(line, "!"):
		kind, pattern = KindBlock, line[1:]
	case strings.HasPrefix(line, "?"):
		kind, pattern = KindConfirm, line[1:]
	case strings.HasPrefix(line, "+"):
		kind, pattern = KindAllow, line[1:]
	case strings.HasPrefix(line, "@protect"):
		kind, pattern = KindProtect, strings.TrimPrefix(line, "@protect")
	case strings.HasPrefix(line, "@sandbox"):
		kind, pattern = KindSandbox, strings.TrimPrefix(line, "@sandbox")
	default:
		return Rule{}, &ParseError{Line: lineNo, Message: fmt.Sprintf("unrecognized rule line %q", line), Source: source}
	}

	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Rule{}, &ParseError{Line: lineNo, Message: "missing pattern after prefix", Source: source}
	}

	return Rule{
		Kind:        kind,
		Pattern:     pattern,
		Source:      source,
		Specificity: specificity(pattern),
		LineNumber:  lineNo,
	}, nil
}

// Merge collapses rules from all tiers into the set the engine consumes:
// at most one rule survives per distinct pattern string. Within a pattern
// group the survivor is chosen by kind precedence (block > confirm > allow >
// directives), then source precedence (project > user > global), then
// specificity. First-seen order of patterns is preserved.
func Merge(rules []Rule) []Rule {
	byPattern := make(map[string]Rule, len(rules))
	var order []string

	for _, r := range rules {
		cur, seen := byPattern[r.Pattern]
		if !seen {
			byPattern[r.Pattern] = r
			order = append(order, r.Pattern)
			continue
		}
		if mergeWins(r, cur) {
			byPattern[r.Pattern] = r
		}
	}

	out := make([]Rule, 0, len(order))
	for _, p := range order {
		out = append(out, byPattern[p])
	}
	return out
}

// mergeWins reports whether candidate displaces incumbent within one
// pattern group.
func mergeWins(candidate, incumbent Rule) bool {
	if c := compareKindPrecedence(candidate, incumbent); c != 0 {
		return c > 0
	}
	if c := compareSource(candidate, incumbent); c != 0 {
		return c > 0
	}
	return candidate.Specificity > incumbent.Specificity
}

// compareKindPrecedence orders kinds block > confirm > allow > directives.
func compareKindPrecedence(a, b Rule) int {
	return kindRank(a.Kind) - kindRank(b.Kind)
}

func kindRank(k RuleKind) int {
	switch k {
	case KindBlock:
		return 3
	case KindConfirm:
		return 2
	case KindAllow:
		return 1
	default:
		return 0
	}
}

// compareSource orders provenance project > user > global.
func compareSource(a, b Rule) int {
	return int(a.Source) - int(b.Source)
}
