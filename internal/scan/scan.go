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

// Package scan analyzes script files that a command is about to execute,
// looking for dangerous operation signatures without running anything.
//
// The scanner is lexical: it reads the script under strict safety limits
// and applies per-runtime regex signatures line by line. Any failure to
// read or classify a file yields Analyzed=false and the caller fails open.
// The "could not analyze" condition is observable in the Result so a
// stricter deployment
// can choose to fail closed without changing the scanner.
package scan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/peg/cmdgate/internal/critpath"
)

// Runtime identifies the language a script runs under.
type Runtime string

const (
	RuntimePython  Runtime = "python"
	RuntimeNode    Runtime = "node"
	RuntimeShell   Runtime = "shell"
	RuntimeRuby    Runtime = "ruby"
	RuntimePerl    Runtime = "perl"
	RuntimePHP     Runtime = "php"
	RuntimeAll     Runtime = "all"
	RuntimeUnknown Runtime = ""
)

// Severity ranks how dangerous a matched operation is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCatastrophic
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCatastrophic:
		return "catastrophic"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Threat is one dangerous operation found in a script.
type Threat struct {
	PatternID string
	Category  Category
	Severity  Severity

	// Line is 1-based within the script.
	Line int

	// Excerpt is the matched line, truncated to 100 characters.
	Excerpt string

	// Paths are the filesystem paths captured or extracted from the line.
	Paths []string
}

// Result is the outcome of analyzing one script file.
type Result struct {
	// Analyzed is false when the file could not be read or classified.
	// The caller must treat that as fail-open, never as block.
	Analyzed bool

	Runtime     Runtime
	Threats     []Threat
	ShouldBlock bool
	BlockReason string

	// AnalysisError describes why analysis did not run, when Analyzed
	// is false.
	AnalysisError string
}

// Options bound the scanner's file reads.
type Options struct {
	// MaxFileSize is the largest script the scanner will read, in bytes.
	MaxFileSize int64

	// MaxLines caps how many lines are scanned; excess is truncated
	// rather than rejected.
	MaxLines int

	// FollowSymlinks permits analyzing through symlinks.
	FollowSymlinks bool
}

// DefaultOptions returns the standard limits: 1 MiB, 10k lines, no symlinks.
func DefaultOptions() Options {
	return Options{MaxFileSize: 1 << 20, MaxLines: 10000}
}

// Analyzer scans script files against the built-in pattern catalogue.
type Analyzer struct {
	opts   Options
	home   string
	logger *slog.Logger
}

// New creates an analyzer. home anchors tilde expansion and the
// catastrophic-path set; a nil logger falls back to slog.Default().
func New(opts Options, home string, logger *slog.Logger) *Analyzer {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultOptions().MaxFileSize
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultOptions().MaxLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{opts: opts, home: home, logger: logger}
}

// interpreter describes one recognized script interpreter.
type interpreter struct {
	runtime Runtime

	// extensions are the script file extensions this interpreter accepts.
	extensions []string

	// inlineFlags are flags that mean "the code is on the command line,
	// not in a file". Their presence suppresses detection entirely.
	inlineFlags []string
}

var interpreters = map[string]interpreter{
	"python":  {RuntimePython, []string{".py"}, []string{"-c", "-m"}},
	"python3": {RuntimePython, []string{".py"}, []string{"-c", "-m"}},
	"python2": {RuntimePython, []string{".py"}, []string{"-c", "-m"}},
	"node":    {RuntimeNode, []string{".js", ".mjs", ".cjs"}, []string{"-e", "-p", "--eval", "--print"}},
	"nodejs":  {RuntimeNode, []string{".js", ".mjs", ".cjs"}, []string{"-e", "-p", "--eval", "--print"}},
	"bash":    {RuntimeShell, []string{".sh", ".bash"}, []string{"-c"}},
	"sh":      {RuntimeShell, []string{".sh"}, []string{"-c"}},
	"zsh":     {RuntimeShell, []string{".sh", ".zsh"}, []string{"-c"}},
	"dash":    {RuntimeShell, []string{".sh"}, []string{"-c"}},
	"fish":    {RuntimeShell, []string{".fish"}, []string{"-c"}},
	"ruby":    {RuntimeRuby, []string{".rb"}, []string{"-e"}},
	"perl":    {RuntimePerl, []string{".pl", ".pm"}, []string{"-e", "-E"}},
	"php":     {RuntimePHP, []string{".php"}, []string{"-r"}},
}

// scriptExtensions is the union of all interpreter extensions, used for
// direct-execution detection (./x.sh, /abs/x.py).
var scriptExtensions = func() map[string]bool {
	m := make(map[string]bool)
	for _, it := range interpreters {
		for _, ext := range it.extensions {
			m[ext] = true
		}
	}
	return m
}()

// DetectScriptExecution reports the script file a command executes, if any.
// Inline-code invocations (python -c, node -e, ...) are out of scope and
// return ok=false. Direct execution is recognized by extension or, for
// extensionless paths, by peeking the shebang.
func DetectScriptExecution(command string, args []string) (string, bool) {
	base := filepath.Base(command)

	if it, ok := interpreters[base]; ok {
		for _, a := range args {
			for _, f := range it.inlineFlags {
				if a == f {
					return "", false
				}
			}
		}
		for _, a := range args {
			if strings.HasPrefix(a, "-") {
				continue
			}
			ext := strings.ToLower(filepath.Ext(a))
			for _, want := range it.extensions {
				if ext == want {
					return a, true
				}
			}
		}
		return "", false
	}

	// Direct execution: the command token itself names the script.
	if strings.ContainsRune(command, '/') {
		ext := strings.ToLower(filepath.Ext(command))
		if scriptExtensions[ext] {
			return command, true
		}
		if ext == "" && hasShebang(command) {
			return command, true
		}
	}
	return "", false
}

// hasShebang peeks the first two bytes of a file.
func hasShebang(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var buf [2]byte
	n, _ := f.Read(buf[:])
	return n == 2 && buf[0] == '#' && buf[1] == '!'
}

// Analyze reads the script at path under the configured limits and scans it
// for dangerous operations. Read failures never block: they produce
// Analyzed=false with an AnalysisError.
func (a *Analyzer) Analyze(path string) Result {
	body, errMsg := a.readScript(path)
	if errMsg != "" {
		a.logger.Debug("scan: analysis skipped", "path", path, "reason", errMsg)
		return Result{AnalysisError: errMsg}
	}

	lines := strings.Split(body, "\n")
	if len(lines) > a.opts.MaxLines {
		lines = lines[:a.opts.MaxLines]
		body = strings.Join(lines, "\n")
	}

	runtime := detectRuntime(path, lines)
	res := Result{Analyzed: true, Runtime: runtime}
	res.Threats = a.scanLines(lines, runtime)
	a.decide(&res, body)
	return res
}

// readScript enforces the symlink, size, and binary-content limits.
func (a *Analyzer) readScript(path string) (string, string) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Sprintf("stat %s: %v", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if !a.opts.FollowSymlinks {
			return "", fmt.Sprintf("%s is a symlink and symlink following is disabled", path)
		}
		if info, err = os.Stat(path); err != nil {
			return "", fmt.Sprintf("stat %s: %v", path, err)
		}
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Sprintf("%s is not a regular file", path)
	}
	if info.Size() > a.opts.MaxFileSize {
		return "", fmt.Sprintf("%s exceeds the %d byte scan limit", path, a.opts.MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Sprintf("read %s: %v", path, err)
	}
	if looksBinary(data) {
		return "", fmt.Sprintf("%s looks like a binary file", path)
	}
	return string(data), ""
}

// looksBinary samples the first 1000 bytes and reports true when more than
// 10% are non-printable.
func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	if len(sample) == 0 {
		return false
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			nonPrintable++
		}
	}
	return nonPrintable*10 > len(sample)
}

// detectRuntime prefers the shebang, then falls back to the file extension.
func detectRuntime(path string, lines []string) Runtime {
	if len(lines) > 0 && strings.HasPrefix(lines[0], "#!") {
		shebang := lines[0]
		switch {
		case strings.Contains(shebang, "python"):
			return RuntimePython
		case strings.Contains(shebang, "node"):
			return RuntimeNode
		case strings.Contains(shebang, "bash"),
			strings.Contains(shebang, "/sh"),
			strings.Contains(shebang, "zsh"),
			strings.Contains(shebang, "dash"),
			strings.Contains(shebang, "fish"):
			return RuntimeShell
		case strings.Contains(shebang, "ruby"):
			return RuntimeRuby
		case strings.Contains(shebang, "perl"):
			return RuntimePerl
		case strings.Contains(shebang, "php"):
			return RuntimePHP
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return RuntimePython
	case ".js", ".mjs", ".cjs":
		return RuntimeNode
	case ".sh", ".bash", ".zsh", ".fish":
		return RuntimeShell
	case ".rb":
		return RuntimeRuby
	case ".pl", ".pm":
		return RuntimePerl
	case ".php":
		return RuntimePHP
	default:
		return RuntimeUnknown
	}
}

// isComment reports whether a line is a whole-line comment for the runtime.
func isComment(line string, runtime Runtime) bool {
	trimmed := strings.TrimSpace(line)
	switch runtime {
	case RuntimeNode, RuntimePHP:
		return strings.HasPrefix(trimmed, "//")
	default:
		return strings.HasPrefix(trimmed, "#")
	}
}

var (
	quotedPathRe = regexp.MustCompile(`["']([~/][^"']*)["']`)
	barePathRe   = regexp.MustCompile(`(?:^|[\s=(,:])([~/][A-Za-z0-9_.*/-]+)`)
)

// scanLines applies every pattern whose runtime matches, line by line.
func (a *Analyzer) scanLines(lines []string, runtime Runtime) []Threat {
	var threats []Threat

	for idx, line := range lines {
		if isComment(line, runtime) {
			continue
		}
		for _, p := range patterns {
			if p.Runtime != RuntimeAll && p.Runtime != runtime {
				continue
			}
			m := p.Regex.FindStringSubmatch(line)
			if m == nil {
				continue
			}

			t := Threat{
				PatternID: p.ID,
				Category:  p.Category,
				Severity:  p.Severity,
				Line:      idx + 1,
				Excerpt:   truncate(strings.TrimSpace(line), 100),
			}

			for _, g := range p.PathGroups {
				if g < len(m) && m[g] != "" {
					t.Paths = append(t.Paths, m[g])
				}
			}
			// Path-shaped substrings on the matched line count even when
			// the pattern declares no capture groups.
			t.Paths = append(t.Paths, extractPaths(line)...)

			for _, pth := range t.Paths {
				if a.isCritical(pth) {
					t.Severity = SeverityCatastrophic
					break
				}
			}

			threats = append(threats, t)
		}
	}
	return threats
}

// extractPaths pulls quoted or bare path-shaped substrings from a line.
func extractPaths(line string) []string {
	var out []string
	for _, m := range quotedPathRe.FindAllStringSubmatch(line, -1) {
		out = append(out, m[1])
	}
	for _, m := range barePathRe.FindAllStringSubmatch(line, -1) {
		out = append(out, m[1])
	}
	return out
}

// isCritical normalizes a captured path and tests it against the
// catastrophic set. A trailing glob ("/home/*") counts as the directory
// itself.
func (a *Analyzer) isCritical(path string) bool {
	path = strings.TrimSuffix(path, "/*")
	if path == "" {
		path = "/"
	}
	return critpath.IsCritical(path, a.home) || critpath.ContainsCritical(path, a.home)
}

// decide resolves the final block verdict from the collected threats.
func (a *Analyzer) decide(res *Result, body string) {
	for _, t := range res.Threats {
		if t.Severity == SeverityCatastrophic {
			res.ShouldBlock = true
			res.BlockReason = fmt.Sprintf("catastrophic operation at line %d (%s): %s", t.Line, t.PatternID, t.Excerpt)
			return
		}
	}

	// High-severity threats whose own captured paths are critical were
	// already upgraded to catastrophic by scanLines, so only the
	// cross-line case remains.
	// A deletion call with no literal path plus a catastrophic path string
	// anywhere else in the script (a list, a variable assignment) is the
	// classic split-across-lines pattern. Scan the whole body.
	hasHighDeletion := false
	for _, t := range res.Threats {
		if t.Severity == SeverityHigh && t.Category == CategoryDeletion {
			hasHighDeletion = true
			break
		}
	}
	if !hasHighDeletion {
		return
	}

	hit := bodyCriticalPath(body, a.home)
	if hit == "" {
		return
	}
	for i := range res.Threats {
		if res.Threats[i].Severity == SeverityHigh && res.Threats[i].Category == CategoryDeletion {
			res.Threats[i].Severity = SeverityCatastrophic
		}
	}
	res.ShouldBlock = true
	res.BlockReason = fmt.Sprintf("deletion operation combined with catastrophic path %q elsewhere in the script", hit)
}

// bodyCriticalPath searches the entire script body for any catastrophic
// path appearing as a quoted string or a standalone word. Returns the first
// hit or "".
func bodyCriticalPath(body, home string) string {
	for _, p := range critpath.Set(home) {
		if p == "/" {
			// Too short to search for bare; only quoted forms count.
			if strings.Contains(body, `"/"`) || strings.Contains(body, `'/'`) {
				return p
			}
			continue
		}
		re := regexp.MustCompile(`(?m)(?:^|[\s"'=(,:])` + regexp.QuoteMeta(p) + `(?:[\s"'),;:]|/\*|$)`)
		if re.MatchString(body) {
			return p
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
