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

package scan

import "regexp"

// Category groups threats by what the matched operation does.
type Category string

const (
	CategoryDeletion  Category = "deletion"
	CategoryDiskWrite Category = "disk-write"
	CategoryExecution Category = "execution"
	CategoryEval      Category = "eval"
)

// Pattern is a static, compiled-in threat signature. Severity may be
// upgraded to catastrophic at match time when a captured path lands in the
// catastrophic-path set.
type Pattern struct {
	ID       string
	Runtime  Runtime
	Regex    *regexp.Regexp
	Category Category
	Severity Severity

	// PathGroups names the capture groups that hold filesystem paths to
	// check against the catastrophic-path set.
	PathGroups []int
}

// patterns is the built-in catalogue, scanned line by line against script
// source. Lexical only; no dataflow: os.system(cmd) with cmd assigned
// elsewhere is a known, accepted detection gap.
var patterns = []Pattern{
	// Shell.
	{
		ID:         "shell-rm-recursive",
		Runtime:    RuntimeShell,
		Regex:      regexp.MustCompile(`\brm\s+(?:-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(\S+)`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:         "shell-rmdir",
		Runtime:    RuntimeShell,
		Regex:      regexp.MustCompile(`\brmdir\s+(\S+)`),
		Category:   CategoryDeletion,
		Severity:   SeverityMedium,
		PathGroups: []int{1},
	},
	{
		ID:         "shell-dd-of",
		Runtime:    RuntimeShell,
		Regex:      regexp.MustCompile(`\bdd\s+\S.*\bof=(\S+)`),
		Category:   CategoryDiskWrite,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:       "shell-mkfs",
		Runtime:  RuntimeShell,
		Regex:    regexp.MustCompile(`\bmkfs(?:\.\w+)?\b`),
		Category: CategoryDiskWrite,
		Severity: SeverityCatastrophic,
	},
	{
		ID:         "shell-shred",
		Runtime:    RuntimeShell,
		Regex:      regexp.MustCompile(`\bshred\s+(?:-\S+\s+)*(\S+)`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},

	// Python.
	{
		ID:         "python-shutil-rmtree-literal",
		Runtime:    RuntimePython,
		Regex:      regexp.MustCompile(`shutil\.rmtree\(\s*['"]([^'"]+)['"]`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:       "python-shutil-rmtree-variable",
		Runtime:  RuntimePython,
		Regex:    regexp.MustCompile(`shutil\.rmtree\(\s*[A-Za-z_]`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},
	{
		ID:         "python-os-remove",
		Runtime:    RuntimePython,
		Regex:      regexp.MustCompile(`os\.(?:remove|unlink)\(\s*['"]([^'"]+)['"]`),
		Category:   CategoryDeletion,
		Severity:   SeverityMedium,
		PathGroups: []int{1},
	},
	{
		ID:         "python-os-rmdir",
		Runtime:    RuntimePython,
		Regex:      regexp.MustCompile(`os\.rmdir\(\s*['"]([^'"]+)['"]`),
		Category:   CategoryDeletion,
		Severity:   SeverityMedium,
		PathGroups: []int{1},
	},
	{
		ID:       "python-os-system-rm",
		Runtime:  RuntimePython,
		Regex:    regexp.MustCompile(`os\.system\(\s*[fr]?['"].*\brm\b`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},
	{
		ID:       "python-subprocess-rm",
		Runtime:  RuntimePython,
		Regex:    regexp.MustCompile(`subprocess\.\w+\(.*\brm\b`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},
	{
		ID:       "python-pathlib-rmtree",
		Runtime:  RuntimePython,
		Regex:    regexp.MustCompile(`\w+\.rmtree\(\s*\)`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},

	// Node.
	{
		ID:         "node-fs-sync-delete",
		Runtime:    RuntimeNode,
		Regex:      regexp.MustCompile(`fs\.(?:rmSync|unlinkSync|rmdirSync)\(\s*['"]([^'"]+)['"]`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:       "node-fs-rm-recursive",
		Runtime:  RuntimeNode,
		Regex:    regexp.MustCompile(`fs\.rm\w*\(.*recursive\s*:\s*true`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},
	{
		ID:       "node-fs-promises-rm",
		Runtime:  RuntimeNode,
		Regex:    regexp.MustCompile(`fs\.promises\.(?:rm|rmdir|unlink)\w*\(`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},
	{
		ID:         "node-rimraf",
		Runtime:    RuntimeNode,
		Regex:      regexp.MustCompile(`\brimraf(?:\.sync)?\(\s*['"]([^'"]+)['"]`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:       "node-child-process-rm",
		Runtime:  RuntimeNode,
		Regex:    regexp.MustCompile(`child_process\.\w*[eE]xec\w*\(.*\brm\b`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},
	{
		ID:       "node-exec-rm",
		Runtime:  RuntimeNode,
		Regex:    regexp.MustCompile(`\bexec\w*\(\s*['"` + "`" + `].*\brm\s+-[a-zA-Z]*r`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},

	// Ruby.
	{
		ID:         "ruby-fileutils-rm",
		Runtime:    RuntimeRuby,
		Regex:      regexp.MustCompile(`FileUtils\.(?:rm_rf|rm_r|remove_dir|remove_entry_secure)\(?\s*['"]([^'"]+)['"]`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:       "ruby-file-delete",
		Runtime:  RuntimeRuby,
		Regex:    regexp.MustCompile(`File\.delete\(`),
		Category: CategoryDeletion,
		Severity: SeverityMedium,
	},
	{
		ID:       "ruby-system-rm",
		Runtime:  RuntimeRuby,
		Regex:    regexp.MustCompile(`\bsystem\(\s*['"].*\brm\b`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},

	// Perl.
	{
		ID:       "perl-unlink",
		Runtime:  RuntimePerl,
		Regex:    regexp.MustCompile(`\bunlink\b`),
		Category: CategoryDeletion,
		Severity: SeverityMedium,
	},
	{
		ID:         "perl-rmtree",
		Runtime:    RuntimePerl,
		Regex:      regexp.MustCompile(`\brmtree\(\s*['"]?([^'")]+)`),
		Category:   CategoryDeletion,
		Severity:   SeverityHigh,
		PathGroups: []int{1},
	},
	{
		ID:       "perl-system-rm",
		Runtime:  RuntimePerl,
		Regex:    regexp.MustCompile(`\bsystem\(\s*['"].*\brm\b`),
		Category: CategoryDeletion,
		Severity: SeverityHigh,
	},

	// Any runtime.
	{
		ID:       "any-eval-rm-rf",
		Runtime:  RuntimeAll,
		Regex:    regexp.MustCompile(`\beval\w*\s*\(.*\brm\s+-[a-zA-Z]*[rR][a-zA-Z]*f?`),
		Category: CategoryEval,
		Severity: SeverityHigh,
	},
}

// Patterns returns the built-in catalogue.
func Patterns() []Pattern { return patterns }
