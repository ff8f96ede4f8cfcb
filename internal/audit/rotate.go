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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const anchorFilename = "audit-anchor.json"

// Trail files are named by UTC day: "2026-08-29.jsonl". Size rotation
// within a day appends a sequence: "2026-08-29.p1.jsonl".

func trailDay() string {
	return time.Now().UTC().Format("2006-01-02")
}

func dailyFilename() string {
	return trailDay() + ".jsonl"
}

func (s *JSONLSink) shouldRotateLocked(incoming int) bool {
	return s.rotateSize > 0 && s.currentSize+int64(incoming) > s.rotateSize
}

// dayChangedLocked reports whether the UTC date has moved past the date
// encoded in the current filename.
func (s *JSONLSink) dayChangedLocked() bool {
	return !strings.HasPrefix(s.currentFile, trailDay())
}

// attachFileLocked opens (or creates) name in the trail directory and
// makes it the sink's active file. The file may already hold events from
// an earlier run today, so the size is taken from disk.
func (s *JSONLSink) attachFileLocked(name string) error {
	file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open trail file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: stat trail file: %w", err)
	}

	s.file = file
	s.currentFile = name
	s.currentSize = info.Size()
	return nil
}

// openNewFileLocked attaches today's trail file. When withHeader is set,
// a chain-continuation header pointing at prevFile is written first.
func (s *JSONLSink) openNewFileLocked(withHeader bool, prevFile string) error {
	if err := s.attachFileLocked(dailyFilename()); err != nil {
		return err
	}
	if !withHeader {
		return nil
	}
	return s.writeChainContinuationLocked(prevFile)
}

// rotateLocked closes the active file and starts the next one, carrying
// the hash chain across via a continuation header.
func (s *JSONLSink) rotateLocked() error {
	prevFile := s.currentFile
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("audit: close rotated file: %w", err)
		}
		s.file = nil
	}

	// A day change moves to the next daily name; size rotation within
	// the same day takes a sequenced name.
	name := dailyFilename()
	if strings.HasPrefix(prevFile, trailDay()) {
		name = s.sequencedFilenameLocked()
	}
	if err := s.attachFileLocked(name); err != nil {
		return err
	}
	if err := s.writeChainContinuationLocked(prevFile); err != nil {
		return err
	}

	s.logger.Info("audit: rotated trail file",
		"file", s.currentFile,
		"prev_file", prevFile,
		"last_hash", s.lastHash,
	)
	return nil
}

// writeChainContinuationLocked records the tail hash of the previous file
// so verification can walk the chain across file boundaries.
func (s *JSONLSink) writeChainContinuationLocked(prevFile string) error {
	line, err := json.Marshal(map[string]any{
		"chain_continue": s.lastHash,
		"prev_file":      prevFile,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal chain continuation: %w", err)
	}

	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("audit: write chain continuation: %w", err)
	}
	s.currentSize += int64(len(line))

	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("audit: fsync chain continuation: %w", err)
		}
	}
	return nil
}

// sequencedFilenameLocked picks the first free "<day>.pN.jsonl" name.
func (s *JSONLSink) sequencedFilenameLocked() string {
	day := trailDay()
	for seq := 1; ; seq++ {
		name := fmt.Sprintf("%s.p%d.jsonl", day, seq)
		if _, err := os.Stat(filepath.Join(s.dir, name)); os.IsNotExist(err) {
			return name
		}
	}
}
