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
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/peg/cmdgate/internal/critpath"
)

// formattingTools are filesystem-formatting and partitioning commands.
// Any invocation is blocked unconditionally; no rule can override.
var formattingTools = map[string]bool{
	"mke2fs": true, "mkswap": true, "fdisk": true, "parted": true,
	"gdisk": true, "cfdisk": true, "sfdisk": true,
}

// blockDeviceRe matches raw block device paths used as dd output targets.
var blockDeviceRe = regexp.MustCompile(`^/dev/(?:[hs]d[a-z]|nvme\S*|vd[a-z]|xvd[a-z]|mmcblk\S*)`)

// destructiveCommands delete filesystem entries.
var destructiveCommands = map[string]bool{
	"rm": true, "rmdir": true, "unlink": true, "shred": true,
}

// isInherentlyDangerous reports whether an unwrapped command is a
// filesystem-formatting tool, or dd writing straight to a block device.
func isInherentlyDangerous(u UnwrappedCommand) (bool, string) {
	name := u.Command
	if formattingTools[name] || strings.HasPrefix(name, "mkfs") {
		return true, fmt.Sprintf("%q formats or partitions storage devices", name)
	}
	if name == "dd" {
		for _, a := range u.Args {
			target, ok := strings.CutPrefix(a, "of=")
			if ok && blockDeviceRe.MatchString(target) {
				return true, fmt.Sprintf("dd writing directly to block device %q", target)
			}
		}
	}
	return false, ""
}

// hasRecursiveFlag reports whether the argument list carries a recursive or
// force deletion flag: any single-dash flag containing 'r' or 'R', or the
// long form --recursive.
func hasRecursiveFlag(args []string) bool {
	for _, a := range args {
		if a == "--recursive" {
			return true
		}
		if strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") {
			if strings.ContainsAny(a, "rR") {
				return true
			}
		}
	}
	return false
}

// catastrophicTarget inspects one non-flag argument of a recursive deletion
// and reports whether it reaches a catastrophic path. workdir anchors bare
// wildcard arguments.
func catastrophicTarget(arg, home, workdir string) (bool, string) {
	// Bare wildcard issued from (or spanning) a catastrophic directory.
	if arg == "*" {
		if workdir != "" && (critpath.IsCritical(workdir, home) || critpath.ContainsCritical(workdir, home)) {
			return true, fmt.Sprintf("wildcard deletion inside critical directory %q", workdir)
		}
		return false, ""
	}
	if strings.HasSuffix(arg, "/*") {
		dir := strings.TrimSuffix(arg, "/*")
		if dir == "" {
			dir = "/"
		}
		if critpath.IsCritical(dir, home) || critpath.ContainsCritical(dir, home) {
			return true, fmt.Sprintf("wildcard deletion of everything under %q", dir)
		}
	}

	norm := normalizeTarget(arg, home, workdir)
	if critpath.IsCritical(norm, home) {
		return true, fmt.Sprintf("%q is a critical system path", norm)
	}
	if critpath.ContainsCritical(norm, home) {
		return true, fmt.Sprintf("deleting %q would take a critical system path with it", norm)
	}
	return false, ""
}

// normalizeTarget expands a deletion target the way the shell would: tilde
// and dot resolution, with targets still relative after that (".", "..",
// bare names) anchored to the working directory.
func normalizeTarget(arg, home, workdir string) string {
	norm := critpath.Normalize(arg, home)
	if workdir != "" && !filepath.IsAbs(norm) {
		norm = critpath.Normalize(filepath.Join(workdir, norm), home)
	}
	return norm
}

// checkCatastrophicDeletion applies the destructive-command rules to one
// unwrapped command. It returns a blocking reason and the offending paths,
// or ok=false when nothing catastrophic was found.
func checkCatastrophicDeletion(u UnwrappedCommand, home, workdir string) (reason string, paths []string, ok bool) {
	if !destructiveCommands[u.Command] {
		return "", nil, false
	}
	if !hasRecursiveFlag(u.Args) {
		return "", nil, false
	}

	// Dynamic targets cannot be proven safe under recursive/force flags.
	if u.HasDynamicArgs {
		return fmt.Sprintf("recursive %s with dynamic arguments: %s", u.Command, u.DynamicReason), nil, true
	}

	for _, a := range u.Args {
		if strings.HasPrefix(a, "-") && a != "-" {
			continue
		}
		if hit, why := catastrophicTarget(a, home, workdir); hit {
			paths = append(paths, normalizeTarget(a, home, workdir))
			if reason == "" {
				reason = why
			}
		}
	}
	if reason == "" {
		return "", nil, false
	}
	return reason, paths, true
}
