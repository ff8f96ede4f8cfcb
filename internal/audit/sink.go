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

import "log/slog"

// Sink appends tamper-evident decision events to a trail.
type Sink interface {
	Write(event Event) error
	Flush() error
	Close() error
}

// sinkConfig carries the knobs shared by sink constructors. Defaults:
// fsync on, 100 MiB rotation, an anchor every 100 events.
type sinkConfig struct {
	fsync          bool
	rotateSize     int64
	anchorInterval int
	logger         *slog.Logger
}

func defaultSinkConfig() sinkConfig {
	return sinkConfig{
		fsync:          true,
		rotateSize:     100 << 20,
		anchorInterval: 100,
	}
}

// SinkOption configures a sink constructor.
type SinkOption func(*sinkConfig)

// WithFsync controls whether each write syncs to disk before returning.
func WithFsync(enabled bool) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.fsync = enabled
	}
}

// WithRotateSize sets the trail file rotation threshold in bytes.
// Non-positive values keep the default.
func WithRotateSize(size int64) SinkOption {
	return func(cfg *sinkConfig) {
		if size > 0 {
			cfg.rotateSize = size
		}
	}
}

// WithAnchorInterval sets how many events pass between chain anchors.
// Non-positive values keep the default.
func WithAnchorInterval(events int) SinkOption {
	return func(cfg *sinkConfig) {
		if events > 0 {
			cfg.anchorInterval = events
		}
	}
}

// WithLogger sets the logger for trail operations.
func WithLogger(logger *slog.Logger) SinkOption {
	return func(cfg *sinkConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}
