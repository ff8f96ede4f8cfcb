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

package critpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const home = "/home/alice"

func TestSet(t *testing.T) {
	s := Set(home)
	assert.Contains(t, s, "/")
	assert.Contains(t, s, "/etc")
	assert.Contains(t, s, home)

	// Empty home contributes nothing beyond the system roots.
	assert.NotContains(t, Set(""), "")

	// A home that is already a system root is not duplicated.
	rootHome := Set("/root")
	seen := 0
	for _, p := range rootHome {
		if p == "/root" {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/projects", home + "/projects"},
		{"/etc/", "/etc"},
		{"/usr/../etc", "/etc"},
		{"/tmp/./x", "/tmp/x"},
		{"/", "/"},
		{"relative/dir", "relative/dir"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in, home), "input %q", tt.in)
	}
}

func TestIsCritical(t *testing.T) {
	assert.True(t, IsCritical("/", home))
	assert.True(t, IsCritical("/etc", home))
	assert.True(t, IsCritical("/etc/", home))
	assert.True(t, IsCritical("~", home))
	assert.True(t, IsCritical("/usr/../etc", home))

	assert.False(t, IsCritical("/etc/nginx", home))
	assert.False(t, IsCritical("/tmp", home))
	assert.False(t, IsCritical("~/projects", home))
	assert.False(t, IsCritical("node_modules", home))
}

func TestContainsCritical(t *testing.T) {
	// Deleting /home takes /home/alice with it; deleting / takes everything.
	assert.True(t, ContainsCritical("/home", home))
	assert.True(t, ContainsCritical("/", home))

	// A critical path does not contain itself.
	assert.False(t, ContainsCritical("/etc", ""))

	assert.False(t, ContainsCritical("/tmp", home))
	assert.False(t, ContainsCritical("/home/alice/projects", home))
	assert.False(t, ContainsCritical("relative", home))
}
