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

// Package audit provides a tamper-evident trail of command validation
// decisions.
//
// Every command cmdgate validates can be recorded as an Event carrying a
// cryptographic hash chain: each event's hash covers the previous event's
// hash, so the trail is append-only and any rewrite of history is
// detectable.
package audit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single validated command, written to the trail as one JSONL
// line.
type Event struct {
	// ID is a ULID: time-ordered, lexicographically sortable, unique.
	ID string `json:"id"`

	// Timestamp is when the command was validated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Agent identifies the agent that issued the command, when known
	// (e.g. "claude-code").
	Agent string `json:"agent,omitempty"`

	// Session groups events from one agent session.
	Session string `json:"session,omitempty"`

	// Command is the raw command line that was validated.
	Command string `json:"command"`

	// Decision records the verdict.
	Decision Decision `json:"decision"`

	// PrevHash is the hash of the preceding event; empty on the first.
	PrevHash string `json:"prev_hash"`

	// Hash is the SHA-256 hash of this event excluding the hash field
	// itself. Set by ComputeHash once every other field is final.
	Hash string `json:"hash"`
}

// Decision is the engine verdict recorded in an event.
type Decision struct {
	// Action is "allow", "block", or "confirm".
	Action string `json:"action"`

	// RulePattern is the pattern of the rule that decided, when one did.
	RulePattern string `json:"rule_pattern,omitempty"`

	// RuleSource is the tier the deciding rule came from.
	RuleSource string `json:"rule_source,omitempty"`

	// Reason is the human-readable explanation of the verdict.
	Reason string `json:"reason"`

	// TargetPaths lists the filesystem paths that triggered a built-in
	// block, when any did.
	TargetPaths []string `json:"target_paths,omitempty"`

	// EvalTimeUS is the validation duration in microseconds.
	EvalTimeUS int64 `json:"evaluation_time_us"`
}

// ComputeHash sets the event's hash:
//
//	hash(event_N) = SHA-256(prev_hash + json(event_N without hash))
func (e *Event) ComputeHash() error {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event for hashing: %w", err)
	}

	payload := append([]byte(e.PrevHash), data...)
	h := sha256.Sum256(payload)
	e.Hash = "sha256:" + hex.EncodeToString(h[:])
	return nil
}

// VerifyHash reports whether the event's hash matches its contents.
func (e *Event) VerifyHash() (bool, error) {
	expected := e.Hash
	if err := e.ComputeHash(); err != nil {
		return false, err
	}
	computed := e.Hash
	e.Hash = expected

	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
}

// ChainAnchor records the hash chain state at a checkpoint. Written to a
// separate file every N events as a tamper-detection anchor.
type ChainAnchor struct {
	// EventID is the ULID of the event at this checkpoint.
	EventID string `json:"event_id"`

	// Hash is the chain head hash at this checkpoint.
	Hash string `json:"hash"`

	// EventCount is the number of events written up to this point.
	EventCount int64 `json:"event_count"`

	// Timestamp is when this anchor was written.
	Timestamp time.Time `json:"timestamp"`

	// File is the trail file this anchor references.
	File string `json:"file"`
}
