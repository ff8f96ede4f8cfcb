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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team.rules"),
		[]byte("!npm publish*\n?git push *\n"), 0o644))

	suite := `
rules:
  - ./team.rules
tests:
  - name: publish blocked
    command: npm publish
    expect: block
  - name: push confirms
    command: git push origin main
    expect: confirm
  - name: status allowed
    command: git status
    expect: allow
  - name: deliberately wrong
    command: git status
    expect: block
`
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suite), 0o644))

	outcomes, err := RunSuite(path, testEnv())
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.True(t, outcomes[0].Passed)
	assert.True(t, outcomes[1].Passed)
	assert.True(t, outcomes[2].Passed)

	assert.False(t, outcomes[3].Passed)
	assert.Equal(t, "block", outcomes[3].Expected)
	assert.Equal(t, "allow", outcomes[3].Got)
	assert.NotEmpty(t, outcomes[3].Reason)
}

func TestRunSuite_TierPrefixes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "global.rules"), []byte("?curl *\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project.rules"), []byte("+make *\n"), 0o644))

	suite := `
rules:
  - "global:./global.rules"
  - "project:./project.rules"
tests:
  - name: global confirm applies
    command: curl https://example.com
    expect: confirm
  - name: project allow applies
    command: make build
    expect: allow
`
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suite), 0o644))

	outcomes, err := RunSuite(path, testEnv())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Passed, outcomes[0].Reason)
	assert.True(t, outcomes[1].Passed, outcomes[1].Reason)
}

func TestRunSuite_Invalid(t *testing.T) {
	dir := t.TempDir()

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := RunSuite(filepath.Join(dir, "missing.yaml"), testEnv())
	assert.Error(t, err)

	_, err = RunSuite(write("bad.yaml", ":\n  - not yaml: ["), testEnv())
	assert.Error(t, err)

	_, err = RunSuite(write("empty.yaml", "rules: []\ntests: []\n"), testEnv())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tests")

	_, err = RunSuite(write("badexpect.yaml", "tests:\n  - command: ls\n    expect: maybe\n"), testEnv())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid expect")

	_, err = RunSuite(write("nocmd.yaml", "tests:\n  - name: x\n    expect: allow\n"), testEnv())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")
}
