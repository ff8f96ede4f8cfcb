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

package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/peg/cmdgate/internal/audit"
)

const (
	maxVisibleEvents = 1000
	maxCommandWidth  = 80
)

func rulePart(event audit.Event) string {
	if event.Decision.RulePattern == "" {
		return "-"
	}
	return event.Decision.RulePattern
}

func decisionMeta(action string) (icon string, color lipgloss.Color) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "allow":
		return "✅", lipgloss.Color("10")
	case "block":
		return "\U0001f534", lipgloss.Color("9")
	case "confirm":
		return "\U0001f7e1", lipgloss.Color("11")
	default:
		return "•", lipgloss.Color("7")
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// relativeTime formats the elapsed time as a human-readable string.
func relativeTime(now, ts time.Time) string {
	d := now.Sub(ts)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm ago", h, m)
		}
		return fmt.Sprintf("%dh ago", h)
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatEventLine(event audit.Event, width int) string {
	icon, _ := decisionMeta(event.Decision.Action)
	timePart := event.Timestamp.Local().Format("15:04:05")
	return renderEventLine(icon, timePart, event, width)
}

// formatEventLineWithRelTime renders an event line with relative timestamps.
func formatEventLineWithRelTime(event audit.Event, width int, now time.Time) string {
	icon, _ := decisionMeta(event.Decision.Action)
	timePart := fmt.Sprintf("%-8s", relativeTime(now, event.Timestamp))
	return renderEventLine(icon, timePart, event, width)
}

func renderEventLine(icon, timePart string, event audit.Event, width int) string {
	command := strings.TrimSpace(event.Command)
	if command == "" {
		command = "-"
	}
	command = truncateRunes(command, maxCommandWidth)

	base := fmt.Sprintf("%s %s %q [%s]", icon, timePart, command, rulePart(event))
	return truncateRunes(base, width)
}

func trimEvents(events []audit.Event) []audit.Event {
	if len(events) <= maxVisibleEvents {
		return events
	}
	trimmed := make([]audit.Event, maxVisibleEvents)
	copy(trimmed, events[:maxVisibleEvents])
	return trimmed
}
