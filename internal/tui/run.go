package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metalagman/lessonloop/internal/orchestrator"
	"github.com/metalagman/lessonloop/internal/unit"
)

// Progress forwards pipeline events to a running program.
type Progress struct {
	send func(tea.Msg)
}

// Unit is a unit.Observer.
func (p *Progress) Unit(ev unit.Event) {
	p.send(UnitMsg{Event: ev})
}

// Pass matches the orchestrator pass observer.
func (p *Progress) Pass(docID string, pass orchestrator.Pass) {
	p.send(PassMsg{DocumentID: docID, Pass: pass})
}

// WorkFunc runs a document and reports progress.
type WorkFunc func(ctx context.Context, progress *Progress) (orchestrator.Outcome, error)

// Run shows the progress of work until it finishes or the user quits, which
// cancels the context passed to work.
func Run(ctx context.Context, documentID string, work WorkFunc, opts ...tea.ProgramOption) (orchestrator.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog := tea.NewProgram(New(documentID, cancel), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	progress := &Progress{send: prog.Send}

	var (
		outcome orchestrator.Outcome
		runErr  error
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		outcome, runErr = work(ctx, progress)
		prog.Send(DoneMsg{Outcome: outcome, Err: runErr})
	}()

	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return outcome, fmt.Errorf("run tui: %w", err)
	}
	cancel()
	<-done
	return outcome, runErr
}
