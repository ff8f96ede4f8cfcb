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

import "fmt"

// LintSeverity ranks a lint finding.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarning
	LintError
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "info"
	case LintWarning:
		return "warning"
	case LintError:
		return "error"
	default:
		return "unknown"
	}
}

// LintFinding is a single rule-set diagnostic.
type LintFinding struct {
	Source   Source
	Line     int
	Severity LintSeverity
	Message  string
}

func (f LintFinding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", f.Source, f.Line, f.Severity, f.Message)
	}
	return fmt.Sprintf("%s: %s: %s", f.Source, f.Severity, f.Message)
}

// Lint inspects parsed (pre-merge) rules plus their parse errors and
// reports likely mistakes: malformed lines, patterns that neuter the whole
// policy, duplicates that the merge will silently collapse, and directives
// that are parsed but not yet enforced.
func Lint(rules []Rule, parseErrs []ParseError) []LintFinding {
	var findings []LintFinding

	for _, pe := range parseErrs {
		findings = append(findings, LintFinding{
			Source:   pe.Source,
			Line:     pe.Line,
			Severity: LintError,
			Message:  pe.Message,
		})
	}

	seen := make(map[string][]Rule)
	for _, r := range rules {
		seen[r.Pattern] = append(seen[r.Pattern], r)

		switch {
		case r.Kind == KindAllow && r.Pattern == "*":
			findings = append(findings, LintFinding{
				Source:   r.Source,
				Line:     r.LineNumber,
				Severity: LintWarning,
				Message:  `allow rule "*" matches every command; rule matching adds nothing beyond the default allow policy`,
			})
		case r.Kind == KindBlock && r.Pattern == "*":
			findings = append(findings, LintFinding{
				Source:   r.Source,
				Line:     r.LineNumber,
				Severity: LintWarning,
				Message:  `block rule "*" blocks every command`,
			})
		case r.Kind == KindProtect || r.Kind == KindSandbox:
			findings = append(findings, LintFinding{
				Source:   r.Source,
				Line:     r.LineNumber,
				Severity: LintInfo,
				Message:  fmt.Sprintf("@%s directives are parsed but not yet enforced", r.Kind),
			})
		}
	}

	for pattern, group := range seen {
		if len(group) < 2 {
			continue
		}
		merged := Merge(group)[0]
		for _, r := range group {
			if r == merged {
				continue
			}
			findings = append(findings, LintFinding{
				Source:   r.Source,
				Line:     r.LineNumber,
				Severity: LintInfo,
				Message: fmt.Sprintf("duplicate pattern %q: this %s rule is superseded by the %s rule from %s",
					pattern, r.Kind, merged.Kind, merged.Source),
			})
		}
	}

	return findings
}
