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

// Package confirm implements the interactive hold-for-human prompt shown
// when a command matches a confirm rule. A prompt that times out or is
// dismissed counts as a rejection.
package confirm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Outcome is the human's answer to a confirm prompt.
type Outcome int

const (
	// Rejected means the human said no, dismissed the prompt, or let it
	// time out.
	Rejected Outcome = iota

	// Approved means the human explicitly approved the command.
	Approved
)

func (o Outcome) String() string {
	if o == Approved {
		return "approved"
	}
	return "rejected"
}

// Options configures a confirmation prompt.
type Options struct {
	// Command is the raw command text awaiting confirmation.
	Command string

	// Reason explains why the command was held.
	Reason string

	// RulePattern is the confirm rule that matched, if any.
	RulePattern string

	// Timeout is how long to wait before rejecting. Zero disables the
	// countdown and waits indefinitely.
	Timeout time.Duration

	// In and Out override the terminal streams. Used by tests.
	In  io.Reader
	Out io.Writer
}

type tickMsg time.Time

// Model is the bubbletea model for the confirm prompt.
type Model struct {
	opts     Options
	deadline time.Time
	now      time.Time
	outcome  Outcome
	answered bool

	titleStyle   lipgloss.Style
	commandStyle lipgloss.Style
	reasonStyle  lipgloss.Style
	hintStyle    lipgloss.Style
	timerStyle   lipgloss.Style
}

// NewModel creates a confirm prompt model.
func NewModel(opts Options) *Model {
	now := time.Now()
	m := &Model{
		opts: opts,
		now:  now,
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")),
		commandStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),
		reasonStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		hintStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		timerStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
	if opts.Timeout > 0 {
		m.deadline = now.Add(opts.Timeout)
	}
	return m
}

// Outcome returns the prompt's answer. Valid after the program exits.
func (m *Model) Outcome() Outcome {
	return m.outcome
}

func (m *Model) Init() tea.Cmd {
	if m.deadline.IsZero() {
		return nil
	}
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		switch typed.String() {
		case "y", "Y":
			m.outcome = Approved
			m.answered = true
			return m, tea.Quit
		case "n", "N", "q", "esc", "ctrl+c":
			m.outcome = Rejected
			m.answered = true
			return m, tea.Quit
		}
	case tickMsg:
		m.now = time.Time(typed)
		if !m.deadline.IsZero() && !m.now.Before(m.deadline) {
			m.outcome = Rejected
			m.answered = true
			return m, tea.Quit
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *Model) View() string {
	if m.answered {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.titleStyle.Render("\U0001f7e1 Confirmation required"))
	b.WriteString("\n\n")
	b.WriteString("  " + m.commandStyle.Render(m.opts.Command))
	b.WriteString("\n\n")
	if m.opts.Reason != "" {
		b.WriteString("  " + m.reasonStyle.Render(m.opts.Reason))
		b.WriteString("\n")
	}
	if m.opts.RulePattern != "" {
		b.WriteString("  " + m.reasonStyle.Render(fmt.Sprintf("rule: %s", m.opts.RulePattern)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	hint := "  [y] approve   [n] reject"
	if !m.deadline.IsZero() {
		remaining := m.deadline.Sub(m.now).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		hint += "   " + m.timerStyle.Render(fmt.Sprintf("auto-reject in %s", remaining))
	}
	b.WriteString(m.hintStyle.Render(hint))
	b.WriteString("\n")
	return b.String()
}

// Prompt shows the confirmation prompt and blocks until the human answers,
// the timeout fires, or the context is cancelled. Cancellation rejects.
func Prompt(ctx context.Context, opts Options) (Outcome, error) {
	model := NewModel(opts)

	teaOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.In != nil {
		teaOpts = append(teaOpts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		teaOpts = append(teaOpts, tea.WithOutput(opts.Out))
	}

	p := tea.NewProgram(model, teaOpts...)
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return Rejected, nil
		}
		return Rejected, fmt.Errorf("confirm: prompt: %w", err)
	}
	return model.Outcome(), nil
}
