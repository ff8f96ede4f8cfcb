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

package daemon

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// watchRuleFiles reloads the rule set when any tier file changes. Parent
// directories are watched so that files created after startup are seen.
// Watcher failures are logged and disable hot reload; the daemon keeps
// serving with the last good rule set.
func (s *Server) watchRuleFiles(ctx context.Context) {
	paths := s.store.Paths()
	if len(paths) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("daemon: rule reload disabled", "error", err)
		return
	}
	defer watcher.Close()

	watched := map[string]struct{}{}
	wanted := map[string]struct{}{}
	for _, p := range paths {
		wanted[filepath.Clean(p)] = struct{}{}
		dir := filepath.Dir(p)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			s.logger.Debug("daemon: cannot watch rule directory", "dir", dir, "error", err)
			continue
		}
		watched[dir] = struct{}{}
	}
	if len(watched) == 0 {
		return
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, ours := wanted[filepath.Clean(evt.Name)]; !ours {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) &&
				!evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save. Debounce.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timerC = nil
			timer = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("daemon: rule reload failed", "error", err)
				continue
			}
			s.logger.Info("daemon: rules reloaded", "trigger", "file change")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil && !strings.Contains(err.Error(), "overflow") {
				s.logger.Warn("daemon: rule watcher error", "error", err)
			}
		}
	}
}
