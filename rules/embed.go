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

// Package rules embeds the built-in rule profiles.
package rules

import (
	"embed"
	"fmt"
)

//go:embed standard.rules paranoid.rules yolo.rules
var FS embed.FS

// ProfileNames lists the available built-in rule profiles.
var ProfileNames = []string{"standard", "paranoid", "yolo"}

// DefaultProfile is the profile loaded when none is configured.
const DefaultProfile = "standard"

// Profile returns the embedded rule text for a named profile.
func Profile(name string) (string, error) {
	for _, p := range ProfileNames {
		if p == name {
			data, err := FS.ReadFile(name + ".rules")
			if err != nil {
				return "", fmt.Errorf("rules: read embedded profile %s: %w", name, err)
			}
			return string(data), nil
		}
	}
	return "", fmt.Errorf("rules: unknown profile %q", name)
}
