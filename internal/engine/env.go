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
	"strings"
)

// Env is the environment-lookup capability threaded through the tokenizer
// and the pattern matcher. Tests supply a MapEnv with synthetic values so
// expansion is deterministic; production code uses OSEnv.
type Env interface {
	// LookupEnv returns the value of an environment variable and whether
	// it is set.
	LookupEnv(key string) (string, bool)

	// HomeDir returns the current user's home directory, or "" if unknown.
	HomeDir() string

	// Workdir returns the current working directory, or "" if unknown.
	Workdir() string
}

// OSEnv reads from the real process environment.
type OSEnv struct{}

func (OSEnv) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

func (OSEnv) HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func (OSEnv) Workdir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

// MapEnv is a fixed environment for tests.
type MapEnv struct {
	Vars map[string]string
	Home string
	Cwd  string
}

func (m MapEnv) LookupEnv(key string) (string, bool) {
	v, ok := m.Vars[key]
	return v, ok
}

func (m MapEnv) HomeDir() string { return m.Home }
func (m MapEnv) Workdir() string { return m.Cwd }

// expandVars substitutes ${VAR} and $VAR occurrences in s with values from
// env. Unset variables are left unexpanded: an unset $HOME must not silently
// collapse to "no path" and defeat a path comparison downstream.
func expandVars(s string, env Env) string {
	if !strings.ContainsRune(s, '$') {
		return s
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' {
			b.WriteByte(s[i])
			i++
			continue
		}

		// ${VAR}
		if i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				i++
				continue
			}
			name := s[i+2 : i+2+end]
			if v, ok := env.LookupEnv(name); ok {
				b.WriteString(v)
			} else {
				b.WriteString(s[i : i+2+end+1])
			}
			i += 2 + end + 1
			continue
		}

		// $VAR
		j := i + 1
		for j < len(s) && isVarChar(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		name := s[i+1 : j]
		if v, ok := env.LookupEnv(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

func isVarChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// expandTilde expands a leading "~/" or a bare "~" to the home directory.
// Other tilde forms (~user) are left alone.
func expandTilde(s string, env Env) string {
	home := env.HomeDir()
	if home == "" {
		return s
	}
	if s == "~" {
		return home
	}
	if strings.HasPrefix(s, "~/") {
		return home + s[1:]
	}
	return s
}
