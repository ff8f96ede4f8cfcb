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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadEventsFromOffset reads trail events from path starting at a byte
// offset and returns them with the offset to resume from. Tailing
// callers pass the returned offset back in on the next poll.
//
// A partial trailing line (no newline yet) is left unconsumed so it can
// be re-read once the writer finishes it. If the file shrank below the
// offset, reading restarts from the beginning. Chain-continuation
// headers and other non-event lines are skipped.
func ReadEventsFromOffset(path string, offset int64) ([]Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("audit: stat %s: %w", path, err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("audit: seek %s: %w", path, err)
	}

	var events []Event
	cursor := offset
	reader := bufio.NewReader(f)

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, cursor, fmt.Errorf("audit: read %s: %w", path, readErr)
		}
		if !strings.HasSuffix(line, "\n") {
			// EOF, and anything left is an unterminated line.
			return events, cursor, nil
		}

		cursor += int64(len(line))
		if evt, ok := decodeEventLine(line); ok {
			events = append(events, evt)
		}
		if errors.Is(readErr, io.EOF) {
			return events, cursor, nil
		}
	}
}

// decodeEventLine parses one trail line. Lines that are blank, malformed,
// or headers rather than events report ok=false.
func decodeEventLine(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{}, false
	}
	var evt Event
	if err := json.Unmarshal([]byte(trimmed), &evt); err != nil || evt.ID == "" {
		return Event{}, false
	}
	return evt, true
}
