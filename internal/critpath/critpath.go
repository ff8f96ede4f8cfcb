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

// Package critpath defines the fixed set of filesystem locations whose
// deletion or modification would critically damage the system or user data,
// and the normalization rules used before comparing paths against that set.
//
// Both the command validator and the script scanner consult this package,
// so the notion of "catastrophic path" stays identical across the two.
package critpath

import (
	"path/filepath"
	"strings"
)

// systemRoots are catastrophic regardless of who the user is.
var systemRoots = []string{
	"/",
	"/home",
	"/root",
	"/etc",
	"/usr",
	"/var",
	"/bin",
	"/sbin",
	"/lib",
	"/lib64",
	"/boot",
	"/dev",
	"/proc",
	"/sys",
}

// Set returns the catastrophic path set for a user with the given home
// directory. home may be empty, in which case only system roots are returned.
func Set(home string) []string {
	if home == "" {
		return systemRoots
	}
	home = strings.TrimSuffix(home, "/")
	out := make([]string, 0, len(systemRoots)+1)
	out = append(out, systemRoots...)
	for _, p := range out {
		if p == home {
			return out
		}
	}
	return append(out, home)
}

// Normalize canonicalizes a path argument for comparison: tilde expansion
// against home, "."/".." resolution, and trailing-slash stripping (except
// for the root itself). Relative paths are left relative; the caller
// decides whether to anchor them at a working directory first.
func Normalize(path, home string) string {
	if path == "" {
		return path
	}
	if home != "" {
		if path == "~" {
			path = home
		} else if strings.HasPrefix(path, "~/") {
			path = home + path[1:]
		}
	}
	path = filepath.Clean(path)
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// IsCritical reports whether the normalized path is itself a member of the
// catastrophic set for the given home directory.
func IsCritical(path, home string) bool {
	norm := Normalize(path, home)
	for _, p := range Set(home) {
		if norm == p {
			return true
		}
	}
	return false
}

// ContainsCritical reports whether some catastrophic path is a strict
// descendant of the given path; deleting the path would take a critical
// location with it.
func ContainsCritical(path, home string) bool {
	norm := Normalize(path, home)
	if norm == "" || !strings.HasPrefix(norm, "/") {
		return false
	}
	prefix := norm
	if prefix != "/" {
		prefix += "/"
	}
	for _, p := range Set(home) {
		if p != norm && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
