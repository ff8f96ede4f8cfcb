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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkRule(kind RuleKind, pattern string, source Source) Rule {
	return Rule{Kind: kind, Pattern: pattern, Source: source, Specificity: specificity(pattern)}
}

func cmdOf(normalized string) ParsedCommand {
	return ParsedCommand{Normalized: normalized}
}

func TestGlobMatch_WildcardSemantics(t *testing.T) {
	env := testEnv()
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		// '*' matches zero or more characters.
		{"rm -rf *", "rm -rf /tmp", true},
		{"rm -rf *", "rm -rf ", true},
		{"git *", "git push origin main", true},
		{"git *", "git", false},

		// '?' matches exactly one character.
		{"rm -rf ?", "rm -rf a", true},
		{"rm -rf ?", "rm -rf", false},
		{"rm -rf ?", "rm -rf ab", false},

		// Anchored at both ends: partial matches never count.
		{"rm", "rm -rf /", false},
		{"push", "git push", false},

		// Regex metacharacters in patterns are literal.
		{"echo a.b", "echo a.b", true},
		{"echo a.b", "echo axb", false},
		{"echo (x)", "echo (x)", true},
	}

	for _, tt := range tests {
		got := globMatch(tt.pattern, tt.name, env)
		assert.Equal(t, tt.want, got, "pattern %q against %q", tt.pattern, tt.name)
	}
}

func TestGlobMatch_PatternExpansion(t *testing.T) {
	env := testEnv()

	assert.True(t, globMatch("rm -rf ~/tmp", "rm -rf /home/alice/tmp", env))
	assert.True(t, globMatch("cat $DIR/*", "cat /data/projects/readme", env))
	// Unset variables stay literal in the pattern too.
	assert.True(t, globMatch("echo $NOPE", "echo $NOPE", env))
}

func TestMatchRules_NoMatch(t *testing.T) {
	rules := []Rule{mkRule(KindBlock, "rm *", SourceUser)}
	m := MatchRules(cmdOf("git status"), rules, testEnv())

	assert.False(t, m.Matched)
	assert.Nil(t, m.Rule)
}

func TestMatchRules_BlockBeatsEverything(t *testing.T) {
	// A block rule wins over simultaneously matching confirm and allow
	// rules regardless of specificity or source.
	rules := []Rule{
		mkRule(KindAllow, "git push origin main --force", SourceProject),
		mkRule(KindConfirm, "git push origin main *", SourceProject),
		mkRule(KindBlock, "git push *", SourceGlobal),
	}
	m := MatchRules(cmdOf("git push origin main --force"), rules, testEnv())

	require.True(t, m.Matched)
	assert.Equal(t, KindBlock, m.Rule.Kind)
}

func TestMatchRules_SpecificAllowOverridesGeneralConfirm(t *testing.T) {
	rules := []Rule{
		mkRule(KindConfirm, "git *", SourceUser),
		mkRule(KindAllow, "git status *", SourceUser),
	}
	m := MatchRules(cmdOf("git status --short"), rules, testEnv())

	require.True(t, m.Matched)
	assert.Equal(t, KindAllow, m.Rule.Kind)
}

func TestMatchRules_ConfirmWinsSpecificityTie(t *testing.T) {
	rules := []Rule{
		mkRule(KindAllow, "npm run *", SourceUser),
		mkRule(KindConfirm, "npm run *", SourceUser),
	}
	m := MatchRules(cmdOf("npm run build"), rules, testEnv())

	require.True(t, m.Matched)
	assert.Equal(t, KindConfirm, m.Rule.Kind)
}

func TestMatchRules_SourceBreaksFinalTie(t *testing.T) {
	rules := []Rule{
		mkRule(KindAllow, "make *", SourceGlobal),
		mkRule(KindAllow, "make *", SourceProject),
		mkRule(KindAllow, "make *", SourceUser),
	}
	m := MatchRules(cmdOf("make test"), rules, testEnv())

	require.True(t, m.Matched)
	assert.Equal(t, SourceProject, m.Rule.Source)
}

func TestMatchRules_DirectivesExcluded(t *testing.T) {
	rules := []Rule{
		mkRule(KindProtect, "*", SourceUser),
		mkRule(KindSandbox, "*", SourceUser),
	}
	m := MatchRules(cmdOf("anything at all"), rules, testEnv())
	assert.False(t, m.Matched)
}

func TestMatchRules_Confidence(t *testing.T) {
	short := []Rule{mkRule(KindAllow, "ls", SourceUser)}
	m := MatchRules(cmdOf("ls"), short, testEnv())
	require.True(t, m.Matched)
	assert.InDelta(t, 0.02, m.Confidence, 1e-9)

	longPattern := "/usr/local/bin/some-very-long-tool-name --with --many --long --flags --and --even --more --of --them here"
	long := []Rule{mkRule(KindAllow, longPattern, SourceUser)}
	m = MatchRules(cmdOf(longPattern), long, testEnv())
	require.True(t, m.Matched)
	assert.Equal(t, 1.0, m.Confidence)
}
