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
	"strings"
)

// UnwrappedCommand is the command a segment actually executes once known
// wrappers (sudo, bash -c, xargs, find -exec, ...) are stripped away.
type UnwrappedCommand struct {
	Command string
	Args    []string

	// Path is the command token as written, before any directory prefix
	// is stripped from Command. Script detection needs it to recognize
	// direct invocations like ./deploy.sh.
	Path string

	// Wrappers records the unwrap path for diagnostics, outermost first,
	// e.g. ["sudo", "bash -c"].
	Wrappers []string

	// HasDynamicArgs means the final argument list was not statically
	// visible on this command line (xargs, parallel, find -exec). Such
	// commands must be treated conservatively.
	HasDynamicArgs bool
	DynamicReason  string
}

// wrapperKind is the closed set of wrapper shapes the unwrapper understands.
// Adding a wrapper is one classify entry plus one dispatch arm.
type wrapperKind int

const (
	wrapperNone wrapperKind = iota
	wrapperPassthrough
	wrapperShellC
	wrapperDynamic
	wrapperFind
	wrapperChroot
)

// maxUnwrapDepth caps wrapper recursion. Exceeding it is an unwrap failure:
// the surface command is returned as-is so catastrophic-path checks still
// run on whatever was recovered.
const maxUnwrapDepth = 20

// passthroughValueFlags enumerates, per passthrough wrapper, the flags that
// consume the following token.
var passthroughValueFlags = map[string]map[string]bool{
	"sudo":    {"-u": true, "-g": true, "-p": true, "-r": true, "-t": true, "-U": true, "-C": true, "-h": true},
	"doas":    {"-u": true, "-C": true},
	"env":     {"-u": true, "-C": true, "-S": true, "--unset": true, "--chdir": true},
	"nice":    {"-n": true, "--adjustment": true},
	"ionice":  {"-c": true, "-n": true, "-p": true},
	"timeout": {"-s": true, "-k": true, "--signal": true, "--kill-after": true},
	"strace":  {"-o": true, "-e": true, "-p": true, "-s": true, "-a": true},
	"ltrace":  {"-o": true, "-e": true, "-p": true, "-a": true},
	"runuser": {"-u": true, "-g": true, "-G": true},
	"watch":   {"-n": true, "-d": true, "--interval": true},
	"nohup":   {},
	"time":    {},
}

// dynamicValueFlags enumerates value-taking flags for dynamic executors.
var dynamicValueFlags = map[string]map[string]bool{
	"xargs": {
		"-a": true, "-d": true, "-E": true, "-e": true, "-I": true, "-i": true,
		"-L": true, "-l": true, "-n": true, "-P": true, "-s": true,
		"--arg-file": true, "--delimiter": true, "--max-args": true,
		"--max-lines": true, "--max-procs": true, "--max-chars": true, "--replace": true,
	},
	"parallel": {
		"-j": true, "-S": true, "-a": true, "--jobs": true, "--sshlogin": true,
		"--results": true, "--colsep": true, "--joblog": true,
	},
}

var shellCommands = map[string]bool{
	"bash": true, "sh": true, "zsh": true, "dash": true,
	"fish": true, "ksh": true, "csh": true, "tcsh": true,
}

// classifyWrapper maps a command's base name (and its argument list, for
// the su/runuser -c special case) to a wrapper kind.
func classifyWrapper(name string, args []string) wrapperKind {
	base := filepath.Base(name)
	switch {
	case shellCommands[base]:
		if hasFlag(args, "-c") {
			return wrapperShellC
		}
		return wrapperNone
	case base == "su" || base == "runuser":
		if hasFlag(args, "-c") {
			return wrapperShellC
		}
		if base == "runuser" {
			return wrapperPassthrough
		}
		return wrapperNone
	case base == "chroot":
		return wrapperChroot
	case base == "find":
		return wrapperFind
	case base == "xargs" || base == "parallel":
		return wrapperDynamic
	default:
		if _, ok := passthroughValueFlags[base]; ok {
			return wrapperPassthrough
		}
		return wrapperNone
	}
}

// isEnvAssignment reports whether a token looks like VAR=value.
func isEnvAssignment(token string) bool {
	eq := strings.IndexByte(token, '=')
	if eq <= 0 {
		return false
	}
	name := token[:eq]
	if name[0] != '_' && (name[0] < 'A' || name[0] > 'Z') && (name[0] < 'a' || name[0] > 'z') {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isVarChar(name[i]) {
			return false
		}
	}
	return true
}

// extendTrail copies the wrapper trail before appending, so sibling unwrap
// branches never share a backing array.
func extendTrail(trail []string, label string) []string {
	out := make([]string, 0, len(trail)+1)
	out = append(out, trail...)
	return append(out, label)
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// Unwrap recursively strips known wrappers from a segment to recover the
// underlying command(s) actually executed. A single segment can yield
// several commands (find -exec blocks, bash -c with a compound string) or
// none at all (a wrapper with nothing after it).
func Unwrap(seg CommandSegment) []UnwrappedCommand {
	tokens := append([]string{seg.Command}, seg.Args...)
	return unwrapTokens(tokens, nil, 0)
}

func unwrapTokens(tokens []string, trail []string, depth int) []UnwrappedCommand {
	// Leading VAR=value assignments are shell syntax, not the command.
	for len(tokens) > 0 && isEnvAssignment(tokens[0]) {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return nil
	}

	name := tokens[0]
	base := filepath.Base(name)
	args := tokens[1:]

	surface := UnwrappedCommand{Command: base, Args: args, Path: name, Wrappers: trail}
	if depth > maxUnwrapDepth {
		// Unwrap failure: surface whatever we have rather than recursing on.
		return []UnwrappedCommand{surface}
	}

	switch classifyWrapper(name, args) {
	case wrapperPassthrough:
		return unwrapPassthrough(base, args, trail, depth)
	case wrapperShellC:
		return unwrapShellC(base, args, trail, depth)
	case wrapperDynamic:
		return unwrapDynamic(base, args, trail)
	case wrapperFind:
		return unwrapFind(base, args, trail)
	case wrapperChroot:
		return unwrapChroot(args, trail, depth)
	default:
		return []UnwrappedCommand{surface}
	}
}

// unwrapPassthrough skips the wrapper's own flags and recurses on the rest.
// env's VAR=val assignments and timeout's duration token are each skipped
// once, specially.
func unwrapPassthrough(base string, args []string, trail []string, depth int) []UnwrappedCommand {
	valueFlags := passthroughValueFlags[base]
	skippedEnvAssign := false
	skippedDuration := false

	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case strings.HasPrefix(a, "-"):
			if valueFlags[a] && i+1 < len(args) {
				i += 2
			} else {
				i++
			}
		case base == "env" && !skippedEnvAssign && strings.Contains(a, "="):
			// env VAR=val ...; consume the assignment run.
			for i < len(args) && strings.Contains(args[i], "=") && !strings.HasPrefix(args[i], "-") {
				i++
			}
			skippedEnvAssign = true
		case base == "timeout" && !skippedDuration:
			// the duration operand, e.g. "30s"
			i++
			skippedDuration = true
		default:
			return unwrapTokens(args[i:], extendTrail(trail, base), depth+1)
		}
	}
	return nil
}

// unwrapShellC extracts the -c command string, re-splits it on chain and
// pipe operators, and unwraps every resulting piece.
func unwrapShellC(base string, args []string, trail []string, depth int) []UnwrappedCommand {
	script := ""
	for i, a := range args {
		if a == "-c" && i+1 < len(args) {
			script = args[i+1]
			break
		}
	}
	if script == "" {
		return nil
	}

	label := base + " -c"
	var out []UnwrappedCommand
	for _, piece := range SplitCommandString(script) {
		tokens := simpleTokens(piece)
		out = append(out, unwrapTokens(tokens, extendTrail(trail, label), depth+1)...)
	}
	return out
}

// unwrapDynamic handles xargs and parallel. The target command is whatever
// remains after the executor's own flags, but the true arguments arrive via
// stdin at run time, so no further recursion is possible.
func unwrapDynamic(base string, args []string, trail []string) []UnwrappedCommand {
	valueFlags := dynamicValueFlags[base]

	i := 0
	for i < len(args) {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			break
		}
		if valueFlags[a] && i+1 < len(args) {
			i += 2
		} else {
			i++
		}
	}
	if i >= len(args) {
		return nil
	}

	target := filepath.Base(args[i])
	return []UnwrappedCommand{{
		Command:        target,
		Args:           args[i+1:],
		Path:           args[i],
		Wrappers:       extendTrail(trail, base),
		HasDynamicArgs: true,
		DynamicReason:  fmt.Sprintf("%s supplies arguments to %q from its input at run time", base, target),
	}}
}

// unwrapFind scans find's argument list for -delete and -exec family
// actions. -delete flags the whole invocation as destructive with dynamic
// targets; each -exec block becomes its own unwrapped command with the {}
// placeholders stripped.
func unwrapFind(base string, args []string, trail []string) []UnwrappedCommand {
	var out []UnwrappedCommand

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-delete":
			out = append(out, UnwrappedCommand{
				Command:        base,
				Args:           args,
				Wrappers:       trail,
				HasDynamicArgs: true,
				DynamicReason:  "find -delete removes every file matched at run time",
			})
		case "-exec", "-execdir", "-ok", "-okdir":
			action := args[i]
			block, next := collectExecBlock(args, i+1)
			i = next
			if len(block) == 0 {
				continue
			}
			out = append(out, UnwrappedCommand{
				Command:        filepath.Base(block[0]),
				Args:           block[1:],
				Path:           block[0],
				Wrappers:       extendTrail(trail, "find "+action),
				HasDynamicArgs: true,
				DynamicReason:  "find substitutes matched paths into the " + action + " command at run time",
			})
		}
	}

	if out == nil {
		// Plain find with no destructive action: the segment is just find.
		return []UnwrappedCommand{{Command: base, Args: args, Wrappers: trail}}
	}
	return out
}

// collectExecBlock gathers tokens from start up to the ';', '\;' or '+'
// terminator, dropping {} placeholders. Returns the block and the index of
// the terminator (or the last index when unterminated).
func collectExecBlock(args []string, start int) ([]string, int) {
	var block []string
	i := start
	for ; i < len(args); i++ {
		a := args[i]
		if a == ";" || a == `\;` || a == "+" {
			return block, i
		}
		if a == "{}" {
			continue
		}
		block = append(block, a)
	}
	return block, i - 1
}

// unwrapChroot consumes chroot's flags and exactly one non-flag token (the
// new root) before the inner command begins.
func unwrapChroot(args []string, trail []string, depth int) []UnwrappedCommand {
	chrootValueFlags := map[string]bool{"--userspec": true, "--groups": true}

	i := 0
	for i < len(args) {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			break
		}
		if chrootValueFlags[a] && i+1 < len(args) {
			i += 2
		} else {
			i++
		}
	}
	if i >= len(args) {
		return nil
	}
	i++ // the new root
	if i >= len(args) {
		return nil
	}
	return unwrapTokens(args[i:], extendTrail(trail, "chroot"), depth+1)
}

// SplitCommandString splits a shell command string on unquoted &&, ||, ;
// and | operators, returning each piece trimmed. Used when re-parsing the
// argument of bash -c and friends.
func SplitCommandString(cmd string) []string {
	var pieces []string
	var cur strings.Builder
	inSingle := false
	inDouble := false
	escaped := false

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
	}

	i := 0
	for i < len(cmd) {
		ch := cmd[i]

		if escaped {
			cur.WriteByte(ch)
			escaped = false
			i++
			continue
		}
		if ch == '\\' && !inSingle {
			cur.WriteByte(ch)
			escaped = true
			i++
			continue
		}
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			cur.WriteByte(ch)
			i++
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			cur.WriteByte(ch)
			i++
			continue
		}
		if inSingle || inDouble {
			cur.WriteByte(ch)
			i++
			continue
		}

		if i+1 < len(cmd) {
			two := cmd[i : i+2]
			if two == "&&" || two == "||" {
				flush()
				i += 2
				continue
			}
		}
		if ch == ';' || ch == '|' {
			flush()
			i++
			continue
		}

		cur.WriteByte(ch)
		i++
	}
	flush()
	return pieces
}

// simpleTokens is the simplified quote-aware tokenizer used on re-split
// bash -c pieces: whitespace splitting with quote stripping, no expansion.
func simpleTokens(s string) []string {
	var tokens []string
	var cur strings.Builder
	inSingle := false
	inDouble := false
	hasContent := false

	flush := func() {
		if hasContent || cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasContent = false
		}
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			hasContent = true
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			hasContent = true
		case (ch == ' ' || ch == '\t') && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return tokens
}
