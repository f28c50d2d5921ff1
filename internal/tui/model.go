// Package tui shows live progress of a document run in the terminal.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/metalagman/lessonloop/internal/orchestrator"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/unit"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	acceptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// UnitMsg carries a unit controller event.
type UnitMsg struct {
	Event unit.Event
}

// PassMsg carries a finished document pass.
type PassMsg struct {
	DocumentID string
	Pass       orchestrator.Pass
}

// DoneMsg ends the program with the run result.
type DoneMsg struct {
	Outcome orchestrator.Outcome
	Err     error
}

type unitRow struct {
	id        string
	position  int
	phase     unit.Phase
	iteration int
	decision  quality.Decision
	score     float64
	threshold float64
	err       error
}

type passRow struct {
	number      int
	decision    quality.Decision
	score       float64
	threshold   float64
	regenerated int
	err         error
}

// Model is the bubbletea model of a document run.
type Model struct {
	documentID string
	cancel     context.CancelFunc
	spinner    spinner.Model
	units      map[string]*unitRow
	passes     []passRow
	done       bool
	outcome    orchestrator.Outcome
	err        error
	quitting   bool
}

// New returns a model for documentID. cancel is called when the user quits.
func New(documentID string, cancel context.CancelFunc) Model {
	return Model{
		documentID: documentID,
		cancel:     cancel,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(pendingStyle)),
		units:      map[string]*unitRow{},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case UnitMsg:
		m.applyUnit(msg.Event)
	case PassMsg:
		m.passes = append(m.passes, passRow{
			number:      msg.Pass.Number,
			decision:    msg.Pass.Decision,
			score:       msg.Pass.Score(),
			threshold:   msg.Pass.Threshold,
			regenerated: len(msg.Pass.Regenerated),
			err:         msg.Pass.Err,
		})
	case DoneMsg:
		m.done = true
		m.outcome = msg.Outcome
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyUnit(ev unit.Event) {
	row, ok := m.units[ev.UnitID]
	if !ok {
		row = &unitRow{id: ev.UnitID, position: ev.Position}
		m.units[ev.UnitID] = row
	}
	row.phase = ev.Phase
	row.iteration = ev.Iteration
	row.err = ev.Err
	switch ev.Phase {
	case unit.PhaseGenerating:
		row.decision = ""
		row.score = 0
		row.threshold = ev.Threshold
	case unit.PhaseDecided, unit.PhaseAccepted:
		row.decision = ev.Decision
		row.score = ev.Score
		if ev.Threshold > 0 {
			row.threshold = ev.Threshold
		}
	case unit.PhaseFailed:
		row.decision = ev.Decision
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("lessonloop " + m.documentID))
	b.WriteString("\n\n")

	rows := make([]*unitRow, 0, len(m.units))
	for _, r := range m.units {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b *unitRow) int { return a.position - b.position })
	for _, r := range rows {
		b.WriteString(m.unitLine(r))
		b.WriteString("\n")
	}

	if len(m.passes) > 0 {
		b.WriteString("\n")
	}
	for _, p := range m.passes {
		line := fmt.Sprintf("pass %d: %s score %.2f threshold %.2f, %d units regenerated", p.number, p.decision, p.score, p.threshold, p.regenerated)
		if p.err != nil {
			line += ": " + p.err.Error()
		}
		b.WriteString(dimStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.done && m.err == nil && m.outcome.Success:
		b.WriteString(acceptedStyle.Render(fmt.Sprintf("accepted with score %.2f", m.outcome.BestScore)))
	case m.done:
		msg := "failed"
		if m.outcome.Reason != "" {
			msg += ": " + m.outcome.Reason
		}
		b.WriteString(failedStyle.Render(msg))
	case m.quitting:
		b.WriteString(dimStyle.Render("stopping..."))
	default:
		b.WriteString(dimStyle.Render("q to stop"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) unitLine(r *unitRow) string {
	var mark string
	switch r.phase {
	case unit.PhaseAccepted:
		mark = acceptedStyle.Render("✓")
	case unit.PhaseFailed:
		mark = failedStyle.Render("✗")
	default:
		mark = m.spinner.View()
	}
	line := fmt.Sprintf("%s %-14s %-10s iter %d", mark, r.id, r.phase, r.iteration)
	if r.decision != "" && r.phase != unit.PhaseFailed {
		line += fmt.Sprintf("  %s %.2f/%.2f", r.decision, r.score, r.threshold)
	}
	if r.err != nil {
		line += "  " + failedStyle.Render(r.err.Error())
	}
	return line
}
