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

func lintText(t *testing.T, text string) []LintFinding {
	t.Helper()
	rules, errs := ParseRules(text, SourceUser)
	return Lint(rules, errs)
}

func findingsWith(findings []LintFinding, sev LintSeverity) []LintFinding {
	var out []LintFinding
	for _, f := range findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

func TestLint_CleanRules(t *testing.T) {
	findings := lintText(t, "+git *\n?npm publish*\n!rm -rf *\n")
	assert.Empty(t, findings)
}

func TestLint_ParseErrorsBecomeErrors(t *testing.T) {
	findings := lintText(t, "+git *\nnot a rule\n")
	errs := findingsWith(findings, LintError)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Line)
}

func TestLint_WildcardWarnings(t *testing.T) {
	findings := lintText(t, "+*\n")
	warns := findingsWith(findings, LintWarning)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Message, "every command")

	findings = lintText(t, "!*\n")
	warns = findingsWith(findings, LintWarning)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Message, "blocks every command")
}

func TestLint_UnenforcedDirectives(t *testing.T) {
	findings := lintText(t, "@protect /etc/*\n@sandbox npm *\n")
	infos := findingsWith(findings, LintInfo)
	require.Len(t, infos, 2)
	assert.Contains(t, infos[0].Message, "not yet enforced")
}

func TestLint_DuplicatePatterns(t *testing.T) {
	findings := lintText(t, "+git push *\n?git push *\n")
	infos := findingsWith(findings, LintInfo)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Message, `duplicate pattern "git push *"`)
	// The allow rule is the superseded one: confirm outranks allow on merge.
	assert.Equal(t, 1, infos[0].Line)
}

func TestLintFinding_String(t *testing.T) {
	f := LintFinding{Source: SourceUser, Line: 3, Severity: LintWarning, Message: "msg"}
	assert.Equal(t, "user:3: warning: msg", f.String())

	f = LintFinding{Source: SourceGlobal, Severity: LintError, Message: "msg"}
	assert.Equal(t, "global: error: msg", f.String())
}
