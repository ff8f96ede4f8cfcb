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

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHome = "/home/alice"

func newTestAnalyzer() *Analyzer {
	return New(DefaultOptions(), testHome, nil)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestDetectScriptExecution(t *testing.T) {
	tests := []struct {
		command string
		args    []string
		want    string
		ok      bool
	}{
		{"python", []string{"setup.py"}, "setup.py", true},
		{"python3", []string{"-u", "run.py", "--flag"}, "run.py", true},
		{"node", []string{"server.js"}, "server.js", true},
		{"bash", []string{"deploy.sh"}, "deploy.sh", true},
		{"ruby", []string{"task.rb"}, "task.rb", true},
		{"./scripts/install.sh", nil, "./scripts/install.sh", true},
		{"/opt/tools/migrate.py", nil, "/opt/tools/migrate.py", true},

		// Inline code is out of scope.
		{"python", []string{"-c", "print(1)"}, "", false},
		{"node", []string{"-e", "1+1"}, "", false},
		{"bash", []string{"-c", "ls"}, "", false},

		{"python", nil, "", false},
		{"git", []string{"status"}, "", false},
		{"cat", []string{"notes.txt"}, "", false},
		// Bare names without a path separator are not direct execution.
		{"install.sh", nil, "", false},
	}
	for _, tt := range tests {
		got, ok := DetectScriptExecution(tt.command, tt.args)
		assert.Equal(t, tt.ok, ok, "%s %v", tt.command, tt.args)
		assert.Equal(t, tt.want, got, "%s %v", tt.command, tt.args)
	}
}

func TestDetectScriptExecution_Shebang(t *testing.T) {
	path := writeFile(t, "runme", "#!/bin/bash\necho hi\n")
	got, ok := DetectScriptExecution(path, nil)
	require.True(t, ok)
	assert.Equal(t, path, got)

	plain := writeFile(t, "data", "just text\n")
	_, ok = DetectScriptExecution(plain, nil)
	assert.False(t, ok)
}

func TestAnalyze_CatastrophicPythonDeletion(t *testing.T) {
	a := newTestAnalyzer()
	path := writeFile(t, "wipe.py", "import shutil\nshutil.rmtree(\"/\")\n")

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	assert.Equal(t, RuntimePython, res.Runtime)
	require.True(t, res.ShouldBlock)
	assert.Contains(t, res.BlockReason, "catastrophic")

	require.NotEmpty(t, res.Threats)
	assert.Equal(t, "python-shutil-rmtree-literal", res.Threats[0].PatternID)
	assert.Equal(t, SeverityCatastrophic, res.Threats[0].Severity)
	assert.Equal(t, 2, res.Threats[0].Line)
}

func TestAnalyze_HomeDeletionBlocked(t *testing.T) {
	a := newTestAnalyzer()
	path := writeFile(t, "wipe.sh", "#!/bin/bash\nrm -rf /home/alice\n")

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	assert.True(t, res.ShouldBlock)

	// The critical captured path upgrades the threat itself, so the
	// verdict comes from the catastrophic branch.
	require.NotEmpty(t, res.Threats)
	assert.Equal(t, SeverityCatastrophic, res.Threats[0].Severity)
	assert.Contains(t, res.BlockReason, "catastrophic operation")
}

func TestAnalyze_LocalDeletionNotBlocked(t *testing.T) {
	a := newTestAnalyzer()
	path := writeFile(t, "clean.sh", "#!/bin/bash\nrm -rf ./build\nrm -rf /tmp/cache\n")

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	assert.False(t, res.ShouldBlock)
	assert.NotEmpty(t, res.Threats)
}

func TestAnalyze_SplitAcrossLines(t *testing.T) {
	// The deletion call carries no literal path; the catastrophic path
	// sits in a variable assignment lines away.
	a := newTestAnalyzer()
	body := "import shutil\ntarget = \"/etc\"\n\nshutil.rmtree(target)\n"
	path := writeFile(t, "indirect.py", body)

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	require.True(t, res.ShouldBlock)
	assert.Contains(t, res.BlockReason, "/etc")
}

func TestAnalyze_CommentsIgnored(t *testing.T) {
	a := newTestAnalyzer()
	path := writeFile(t, "doc.py", "# shutil.rmtree(\"/\")\nprint(\"ok\")\n")

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	assert.Empty(t, res.Threats)
	assert.False(t, res.ShouldBlock)
}

func TestAnalyze_BenignScript(t *testing.T) {
	a := newTestAnalyzer()
	path := writeFile(t, "hello.js", "const x = 1;\nconsole.log(x);\n")

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	assert.Equal(t, RuntimeNode, res.Runtime)
	assert.False(t, res.ShouldBlock)
}

func TestAnalyze_MissingFileFailsOpen(t *testing.T) {
	a := newTestAnalyzer()

	res := a.Analyze("/does/not/exist.sh")
	assert.False(t, res.Analyzed)
	assert.False(t, res.ShouldBlock)
	assert.NotEmpty(t, res.AnalysisError)
}

func TestAnalyze_SymlinkRefused(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.sh")
	require.NoError(t, os.WriteFile(target, []byte("echo hi\n"), 0o755))
	link := filepath.Join(dir, "link.sh")
	require.NoError(t, os.Symlink(target, link))

	a := newTestAnalyzer()
	res := a.Analyze(link)
	assert.False(t, res.Analyzed)
	assert.Contains(t, res.AnalysisError, "symlink")

	follow := New(Options{FollowSymlinks: true}, testHome, nil)
	res = follow.Analyze(link)
	assert.True(t, res.Analyzed)
}

func TestAnalyze_OversizeFailsOpen(t *testing.T) {
	a := New(Options{MaxFileSize: 10, MaxLines: 100}, testHome, nil)
	path := writeFile(t, "big.sh", strings.Repeat("echo hi\n", 10))

	res := a.Analyze(path)
	assert.False(t, res.Analyzed)
	assert.Contains(t, res.AnalysisError, "limit")
}

func TestAnalyze_BinaryFailsOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.sh")
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F', 0, 1, 2, 3, 4, 5}, 0o755))

	a := newTestAnalyzer()
	res := a.Analyze(path)
	assert.False(t, res.Analyzed)
	assert.Contains(t, res.AnalysisError, "binary")
}

func TestAnalyze_LineCapTruncates(t *testing.T) {
	// Threats beyond the line cap are not seen; truncation never errors.
	a := New(Options{MaxFileSize: 1 << 20, MaxLines: 5}, testHome, nil)
	body := "echo 1\necho 2\necho 3\necho 4\necho 5\nrm -rf /\n"
	path := writeFile(t, "long.sh", body)

	res := a.Analyze(path)
	require.True(t, res.Analyzed)
	assert.False(t, res.ShouldBlock)
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		path  string
		first string
		want  Runtime
	}{
		{"x.py", "import os", RuntimePython},
		{"x.sh", "echo hi", RuntimeShell},
		{"x.rb", "puts 1", RuntimeRuby},
		{"x", "#!/usr/bin/env python3", RuntimePython},
		{"x", "#!/bin/sh", RuntimeShell},
		{"x.txt", "hello", RuntimeUnknown},
		// Shebang wins over the extension.
		{"x.py", "#!/bin/bash", RuntimeShell},
	}
	for _, tt := range tests {
		got := detectRuntime(tt.path, []string{tt.first})
		assert.Equal(t, tt.want, got, "%s / %q", tt.path, tt.first)
	}
}
