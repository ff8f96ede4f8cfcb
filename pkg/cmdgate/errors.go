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

// Package cmdgate provides the public API for embedding command
// validation into agent runtimes.
//
// A Gate loads rule files once and then validates shell commands
// without executing them. Wrap guards an exec function so every
// command passes through the rules first:
//
//	gate, err := cmdgate.New(cmdgate.Options{})
//	safeExec := gate.Wrap(unsafeExec)
//	err = safeExec(ctx, "rm -rf /")
//	// err is *cmdgate.BlockedError
package cmdgate

import "fmt"

// BlockedError is returned when a command is refused.
type BlockedError struct {
	// Command is the raw command that was refused.
	Command string

	// Pattern is the rule pattern that matched, empty for built-in
	// checks such as catastrophic path deletion.
	Pattern string

	// Reason is a human-readable explanation.
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("cmdgate: blocked %q by rule %q: %s", e.Command, e.Pattern, e.Reason)
	}
	return fmt.Sprintf("cmdgate: blocked %q: %s", e.Command, e.Reason)
}

// ConfirmError is returned when a command needs human sign-off. The
// caller decides how to obtain it; Gate never prompts on its own.
type ConfirmError struct {
	Command string
	Pattern string
	Reason  string
}

func (e *ConfirmError) Error() string {
	return fmt.Sprintf("cmdgate: confirmation required for %q: %s", e.Command, e.Reason)
}
