package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metalagman/lessonloop/internal/orchestrator"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/unit"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model, cmd
}

func TestModelTracksUnitsInPositionOrder(t *testing.T) {
	t.Parallel()

	m := New("quiz", nil)
	m, _ = update(t, m, UnitMsg{Event: unit.Event{UnitID: "quiz/u02", Position: 2, Phase: unit.PhaseGenerating, Iteration: 1, Threshold: 0.85}})
	m, _ = update(t, m, UnitMsg{Event: unit.Event{UnitID: "quiz/u01", Position: 1, Phase: unit.PhaseDecided, Iteration: 1, Decision: quality.DecisionRefine, Score: 0.72, Threshold: 0.85}})
	m, _ = update(t, m, UnitMsg{Event: unit.Event{UnitID: "quiz/u01", Position: 1, Phase: unit.PhaseAccepted, Iteration: 2, Decision: quality.DecisionAccept, Score: 0.9}})

	view := m.View()
	first := strings.Index(view, "quiz/u01")
	second := strings.Index(view, "quiz/u02")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("units not listed in position order:\n%s", view)
	}
	if !strings.Contains(view, "ACCEPT 0.90/0.85") {
		t.Fatalf("accepted score missing:\n%s", view)
	}
	if !strings.Contains(view, "q to stop") {
		t.Fatalf("help line missing:\n%s", view)
	}
}

func TestModelShowsFailuresAndPasses(t *testing.T) {
	t.Parallel()

	m := New("quiz", nil)
	m, _ = update(t, m, UnitMsg{Event: unit.Event{UnitID: "quiz/u01", Position: 1, Phase: unit.PhaseFailed, Iteration: 3, Decision: quality.DecisionFail, Err: errors.New("critic timeout")}})
	m, _ = update(t, m, PassMsg{DocumentID: "quiz", Pass: orchestrator.Pass{
		Number:      1,
		Decision:    quality.DecisionFail,
		Threshold:   0.85,
		Regenerated: []string{"quiz/u01"},
		Err:         errors.New("units not accepted"),
	}})

	view := m.View()
	for _, want := range []string{"critic timeout", "pass 1: FAIL", "1 units regenerated", "units not accepted"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelDoneQuits(t *testing.T) {
	t.Parallel()

	m := New("quiz", nil)
	m, cmd := update(t, m, DoneMsg{Outcome: orchestrator.Outcome{Success: true, BestScore: 0.88}})
	if cmd == nil {
		t.Fatalf("DoneMsg must return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("DoneMsg command is not tea.Quit")
	}
	if !strings.Contains(m.View(), "accepted with score 0.88") {
		t.Fatalf("accepted footer missing:\n%s", m.View())
	}

	m = New("quiz", nil)
	m, _ = update(t, m, DoneMsg{Outcome: orchestrator.Outcome{Reason: orchestrator.ReasonBudget}, Err: errors.New("budget")})
	if !strings.Contains(m.View(), "failed: "+orchestrator.ReasonBudget) {
		t.Fatalf("failure footer missing:\n%s", m.View())
	}
}

func TestModelQuitCancels(t *testing.T) {
	t.Parallel()

	cancelled := false
	m := New("quiz", func() { cancelled = true })
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled {
		t.Fatalf("quit key must cancel the run")
	}
	if cmd == nil {
		t.Fatalf("quit key must return a command")
	}
	if !strings.Contains(m.View(), "stopping") {
		t.Fatalf("stopping footer missing:\n%s", m.View())
	}
}
