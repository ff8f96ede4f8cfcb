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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrailFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	content := ""
	for _, l := range lines {
		content += l
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func eventLine(id, command string) string {
	return fmt.Sprintf(`{"id":%q,"timestamp":"2026-08-29T10:00:00Z","command":%q,"decision":{"action":"allow","reason":"ok","evaluation_time_us":12},"prev_hash":"","hash":"h"}`+"\n", id, command)
}

func TestReadEventsFromOffset(t *testing.T) {
	path := writeTrailFile(t,
		eventLine("01A", "ls -la"),
		eventLine("01B", "git status"),
	)

	events, offset, err := ReadEventsFromOffset(path, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ls -la", events[0].Command)

	// Resume from the returned offset: nothing new.
	events, offset2, err := ReadEventsFromOffset(path, offset)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, offset, offset2)
}

func TestReadEventsSkipsPartialTrailingLine(t *testing.T) {
	path := writeTrailFile(t,
		eventLine("01A", "ls"),
		`{"id":"01B","comman`, // writer mid-line
	)

	events, offset, err := ReadEventsFromOffset(path, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Complete the line; the next read picks it up.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`d":"x","decision":{"action":"block","reason":"r","evaluation_time_us":1},"prev_hash":"","hash":"h2"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, _, err = ReadEventsFromOffset(path, offset)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "01B", events[0].ID)
}

func TestReadEventsSkipsChainContinuationHeader(t *testing.T) {
	path := writeTrailFile(t,
		`{"chain_continue":"abc","prev_file":"2026-08-28.jsonl"}`+"\n",
		eventLine("01A", "make build"),
	)

	events, _, err := ReadEventsFromOffset(path, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "01A", events[0].ID)
}

func TestReadEventsResetsOnTruncation(t *testing.T) {
	path := writeTrailFile(t, eventLine("01A", "ls"))

	_, offset, err := ReadEventsFromOffset(path, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(eventLine("01B", "pwd")), 0o600))
	events, _, err := ReadEventsFromOffset(path, offset+1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "01B", events[0].ID)
}
