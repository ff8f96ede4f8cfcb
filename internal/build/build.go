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

// Package build holds version metadata stamped at compile time:
//
//	go build -ldflags "-X .../internal/build.version=v0.2.0"
//
// Binaries installed with `go install` have no ldflags; the module
// version from the embedded build info is used instead.
package build

import "runtime/debug"

var (
	version = "dev"

	// Commit is the short git commit hash, stamped by ldflags.
	Commit = "unknown"

	// Date is the UTC build timestamp, stamped by ldflags.
	Date = "unknown"
)

// Version is the semantic version of this binary.
var Version = resolveVersion()

func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
