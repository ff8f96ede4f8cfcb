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
	"regexp"
	"strings"
)

// MatchResult is the pattern matcher's verdict for one command string.
type MatchResult struct {
	Matched bool
	Rule    *Rule

	// Confidence is min(specificity/100, 1). Purely informational.
	Confidence float64
}

// MatchRules evaluates the command's normalized string against every
// matchable rule and resolves ties by the fixed precedence order. Patterns
// are expanded through env before compiling, so rule authors can write
// "$HOME/*" and "~/" portably, mirroring tokenizer expansion.
func MatchRules(cmd ParsedCommand, rules []Rule, env Env) MatchResult {
	return matchString(cmd.Normalized, rules, env)
}

func matchString(normalized string, rules []Rule, env Env) MatchResult {
	var winner *Rule

	for i := range rules {
		r := &rules[i]
		if !r.Kind.Matchable() {
			continue
		}
		if !globMatch(r.Pattern, normalized, env) {
			continue
		}
		if winner == nil || outranks(*r, *winner) {
			winner = r
		}
	}

	if winner == nil {
		return MatchResult{}
	}

	confidence := winner.Specificity / 100
	if confidence > 1 {
		confidence = 1
	}
	return MatchResult{Matched: true, Rule: winner, Confidence: confidence}
}

// outranks reports whether rule a beats rule b under the precedence order.
// The order is a composition of independent tie-breaks applied in sequence:
//
//  1. any block rule beats any non-block rule
//  2. higher specificity wins (this runs before the confirm-over-allow
//     preference so a more specific allow can override a broader confirm)
//  3. confirm beats allow on a specificity tie
//  4. source precedence: project > user > global
func outranks(a, b Rule) bool {
	if c := compareBlockFirst(a, b); c != 0 {
		return c > 0
	}
	if c := compareSpecificity(a, b); c != 0 {
		return c > 0
	}
	if c := compareKindPrecedence(a, b); c != 0 {
		return c > 0
	}
	return compareSource(a, b) > 0
}

func compareBlockFirst(a, b Rule) int {
	switch {
	case a.Kind == KindBlock && b.Kind != KindBlock:
		return 1
	case a.Kind != KindBlock && b.Kind == KindBlock:
		return -1
	default:
		return 0
	}
}

func compareSpecificity(a, b Rule) int {
	switch {
	case a.Specificity > b.Specificity:
		return 1
	case a.Specificity < b.Specificity:
		return -1
	default:
		return 0
	}
}

// globMatch compiles the rule glob to an anchored regular expression and
// tests the full string. Partial matches are never acceptable.
func globMatch(pattern, name string, env Env) bool {
	expanded := expandVars(pattern, env)
	expanded = expandTilde(expanded, env)

	re, err := compileGlob(expanded)
	if err != nil {
		return false // invalid pattern = no match, not a panic
	}
	return re.MatchString(name)
}

// compileGlob escapes all regex metacharacters except the glob wildcards:
// '*' becomes ".*" (zero or more characters) and '?' becomes "." (exactly
// one character). The result is anchored at both ends.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.Compile("^" + quoted + "$")
}
