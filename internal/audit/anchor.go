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
	"time"
)

// maybeAnchorLocked persists a chain anchor when the event count crosses
// the configured interval. The anchor lets a restarted sink resume the
// hash chain without re-reading the whole trail. Caller holds s.mu.
func (s *JSONLSink) maybeAnchorLocked(event Event) error {
	if s.anchorInterval <= 0 || s.eventCount%int64(s.anchorInterval) != 0 {
		return nil
	}

	data, err := json.Marshal(ChainAnchor{
		EventID:    event.ID,
		Hash:       event.Hash,
		EventCount: s.eventCount,
		Timestamp:  time.Now().UTC(),
		File:       s.currentFile,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal anchor: %w", err)
	}

	// Atomic replace: write to a temp file, then rename over the anchor.
	final := filepath.Join(s.dir, anchorFilename)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("audit: write anchor tmp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("audit: replace anchor: %w", err)
	}

	s.logger.Debug("audit: chain anchor written",
		"event_id", event.ID,
		"event_count", s.eventCount,
		"file", s.currentFile,
	)
	return nil
}
