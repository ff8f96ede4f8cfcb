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

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainHeader struct {
	ChainContinue string `json:"chain_continue"`
	PrevFile      string `json:"prev_file"`
}

func TestJSONLSinkWrite_ValidJSONLine(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir, WithFsync(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Write(sampleEvent("git status")))

	lines := readJSONLLines(t, sink.filePath())
	require.Len(t, lines, 1)

	var parsed Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &parsed))
	assert.NotEmpty(t, parsed.ID)
	assert.NotEmpty(t, parsed.Hash)
	assert.Equal(t, "git status", parsed.Command)
	assert.Equal(t, "allow", parsed.Decision.Action)
}

func TestJSONLSinkWrite_HashChainValid(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir, WithFsync(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Write(sampleEvent("echo hi")))
	}

	lines := readJSONLLines(t, sink.filePath())
	require.Len(t, lines, 3)

	prev := ""
	for i, line := range lines {
		var event Event
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		assert.Equal(t, prev, event.PrevHash, "line %d prev_hash mismatch", i)
		ok, err := event.VerifyHash()
		require.NoError(t, err)
		assert.True(t, ok, "line %d hash should verify", i)
		prev = event.Hash
	}
}

func TestJSONLSinkWrite_TamperDetected(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir, WithFsync(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Write(sampleEvent("git status")))
	require.NoError(t, sink.Write(sampleEvent("npm test")))

	lines := readJSONLLines(t, sink.filePath())
	require.Len(t, lines, 2)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &event))
	event.Command = "rm -rf /"

	ok, err := event.VerifyHash()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJSONLSinkWrite_AnchorEveryN(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir, WithFsync(false), WithAnchorInterval(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Write(sampleEvent("ls")))
	require.NoError(t, sink.Write(sampleEvent("ls")))
	require.NoError(t, sink.Write(sampleEvent("ls")))

	anchorPath := filepath.Join(dir, anchorFilename)
	data, err := os.ReadFile(anchorPath)
	require.NoError(t, err)

	var anchor ChainAnchor
	require.NoError(t, json.Unmarshal(data, &anchor))
	assert.EqualValues(t, 2, anchor.EventCount)
	assert.Equal(t, sink.currentFile, anchor.File)
	assert.NotEmpty(t, anchor.Hash)
}

func TestJSONLSinkWrite_ConcurrentNoCorruption(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir, WithFsync(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				e := sampleEvent(fmt.Sprintf("echo %d-%d", worker, j))
				require.NoError(t, sink.Write(e))
			}
		}(i)
	}
	wg.Wait()

	lines := readJSONLLines(t, sink.filePath())
	require.Len(t, lines, workers*perWorker)

	for _, line := range lines {
		var event Event
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		ok, err := event.VerifyHash()
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestJSONLSinkWrite_RotationCreatesNewFileWithChainContinuation(t *testing.T) {
	dir := t.TempDir()
	// Each event is a few hundred bytes of JSON. Rotating at 400 bytes
	// guarantees a rotation after every event.
	sink, err := NewJSONLSink(dir,
		WithFsync(false),
		WithRotateSize(400),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Write(sampleEvent("git status")))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	require.NoError(t, err)
	sort.Strings(files)
	assert.GreaterOrEqual(t, len(files), 2, "expected at least 2 rotated files, got %d", len(files))

	// Every file after the first starts with a chain continuation header.
	for i, f := range files {
		if i == 0 {
			continue
		}
		lines := readJSONLLines(t, f)
		require.NotEmpty(t, lines, "rotated file %s is empty", f)

		var header chainHeader
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &header), "first line of %s is not a chain header", f)
		assert.NotEmpty(t, header.ChainContinue, "chain_continue missing in %s", f)
		assert.NotEmpty(t, header.PrevFile, "prev_file missing in %s", f)
	}

	// The chain must verify straight through the rotations.
	var allEvents []Event
	for _, f := range files {
		for _, line := range readJSONLLines(t, f) {
			var event Event
			if err := json.Unmarshal([]byte(line), &event); err != nil {
				continue
			}
			if event.ID == "" {
				continue // chain continuation header, not an event
			}
			allEvents = append(allEvents, event)
		}
	}
	require.Len(t, allEvents, 5)

	prev := ""
	for i, event := range allEvents {
		assert.Equal(t, prev, event.PrevHash, "event %d prev_hash mismatch across rotation", i)
		ok, verifyErr := event.VerifyHash()
		require.NoError(t, verifyErr)
		assert.True(t, ok, "event %d hash should verify", i)
		prev = event.Hash
	}
}

func TestJSONLSinkWrite_ClosedSinkReturnsError(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONLSink(dir, WithFsync(false))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	err = sink.Write(sampleEvent("ls"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestNewEventID_ValidULID(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := NewEventID()
		parsed, err := ulid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, parsed.String())
	}
}

func BenchmarkWrite(b *testing.B) {
	dir := b.TempDir()
	sink, err := NewJSONLSink(dir,
		WithFsync(false),
		WithAnchorInterval(1000000),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(b, err)
	b.Cleanup(func() { _ = sink.Close() })

	event := sampleEvent("echo hello")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := event
		e.ID = ""
		require.NoError(b, sink.Write(e))
	}
}

func sampleEvent(command string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Agent:     "claude-code",
		Session:   "session-1",
		Command:   command,
		Decision: Decision{
			Action:      "allow",
			RulePattern: "git *",
			RuleSource:  "project",
			Reason:      "command matches allow rule pattern \"git *\"",
			EvalTimeUS:  42,
		},
	}
}

func readJSONLLines(t *testing.T, path string) []string {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var lines []string
	s := bufio.NewScanner(file)
	for s.Scan() {
		if line := s.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, s.Err())
	return lines
}
