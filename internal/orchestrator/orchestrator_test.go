package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/merge"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/scheduler"
	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	requests map[string][]unit.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req unit.Request) (unit.Result, error) {
	g.mu.Lock()
	if g.requests == nil {
		g.requests = map[string][]unit.Request{}
	}
	g.requests[req.Spec.ID] = append(g.requests[req.Spec.ID], req)
	g.mu.Unlock()

	items := make([]content.Item, req.Spec.Section.Count)
	for i := range items {
		items[i] = content.Item{Kind: req.Spec.Section.ItemKind, Points: 1, Prompt: fmt.Sprintf("%s item %d", req.Spec.ID, i+1)}
	}
	return unit.Result{Artifact: content.Artifact{Title: req.Spec.Section.Title, Items: items}}, nil
}

func (g *scriptedGenerator) calls(id string) []unit.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[id]
}

// scriptedCritic returns the scripted responses per unit in call order and
// repeats the last one.
type scriptedCritic struct {
	mu     sync.Mutex
	script map[string][]critResponse
	calls  map[string]int
}

type critResponse struct {
	critique quality.Critique
	err      error
}

func (c *scriptedCritic) Critique(_ context.Context, _ content.Artifact, spec unit.Spec, _ int) (quality.Critique, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	script := c.script[spec.ID]
	idx := min(c.calls[spec.ID], len(script)-1)
	c.calls[spec.ID]++
	return script[idx].critique, script[idx].err
}

type scriptedDocCritic struct {
	responses []critResponse
	docs      []merge.Document
}

func (c *scriptedDocCritic) CritiqueDocument(_ context.Context, doc merge.Document, iteration int) (quality.Critique, error) {
	c.docs = append(c.docs, doc)
	idx := min(iteration-1, len(c.responses)-1)
	return c.responses[idx].critique, c.responses[idx].err
}

type memStorage struct {
	saved []merge.Document
}

func (s *memStorage) SaveDocument(_ context.Context, doc merge.Document, _ Outcome) error {
	s.saved = append(s.saved, doc)
	return nil
}

type passRecorder struct {
	passes []Pass
}

func (r *passRecorder) RecordPass(_ context.Context, _ string, pass Pass) error {
	r.passes = append(r.passes, pass)
	return nil
}

func score(d quality.Decision, s float64, changes ...string) critResponse {
	return critResponse{critique: quality.Critique{Decision: d, FinalScore: s, SpecificChanges: changes}}
}

func twoUnitSpec() content.CompositeSpec {
	return content.CompositeSpec{
		ID:    "quiz",
		Title: "Quiz",
		Sections: []content.SectionSpec{
			{Title: "Part A", ItemKind: "short_answer", Count: 3},
			{Title: "Part B", ItemKind: "short_answer", Count: 2},
		},
	}
}

type harness struct {
	gen      *scriptedGenerator
	critic   *scriptedCritic
	docs     *scriptedDocCritic
	storage  *memStorage
	recorder *passRecorder
	orch     *Orchestrator
}

func newHarness(critScript map[string][]critResponse, docResponses []critResponse, maxDocIterations int) *harness {
	h := &harness{
		gen:      &scriptedGenerator{},
		critic:   &scriptedCritic{script: critScript},
		docs:     &scriptedDocCritic{responses: docResponses},
		storage:  &memStorage{},
		recorder: &passRecorder{},
	}
	schedule := quality.DefaultSchedule()
	ctrl := unit.NewController(zerolog.Nop(), h.gen, h.critic, unit.Config{MaxIterations: 3, Schedule: schedule}, nil)
	sched := scheduler.New(zerolog.Nop(), ctrl)
	h.orch = New(zerolog.Nop(), sched, h.docs, h.storage, Config{
		MaxDocumentIterations: maxDocIterations,
		MaxConcurrency:        2,
		Schedule:              schedule,
	}, WithRecorder(h.recorder))
	return h
}

func TestRunTwoUnitScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionRefine, 0.91)},
		"quiz/u02": {score(quality.DecisionRefine, 0.80, "clarify item 2"), score(quality.DecisionRefine, 0.87)},
	}, []critResponse{score(quality.DecisionAccept, 0.9)}, 3)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, ReasonAccepted, out.Reason)
	require.Len(t, out.Passes, 1)

	states := out.Passes[0].Units
	assert.Equal(t, 1, states[0].Iterations())
	assert.Equal(t, 2, states[1].Iterations())
	assert.Equal(t, []quality.Decision{quality.DecisionRefine, quality.DecisionAccept},
		[]quality.Decision{states[1].History[0].Decision, states[1].History[1].Decision})

	require.NotNil(t, out.Best)
	assert.Equal(t, 5, out.Best.Summary.TotalItems)
	items := out.Best.Items()
	for i, item := range items {
		assert.Equal(t, i+1, item.Number)
	}
	require.Len(t, h.storage.saved, 1)
	assert.Equal(t, "quiz", h.storage.saved[0].ID)
	assert.Len(t, h.recorder.passes, 1)
}

func TestRunRegeneratesOnlyFailedUnits(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {{err: errors.New("critic unavailable")}, score(quality.DecisionAccept, 0.9)},
	}, []critResponse{score(quality.DecisionAccept, 0.9)}, 3)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.NoError(t, err)
	require.Len(t, out.Passes, 2)
	assert.ErrorIs(t, out.Passes[0].Err, errs.ErrPartialBatch)
	assert.Nil(t, out.Passes[0].Document)

	assert.Len(t, h.gen.calls("quiz/u01"), 1, "accepted unit must not be regenerated")
	assert.Len(t, h.gen.calls("quiz/u02"), 2)
	assert.Len(t, h.docs.docs, 1, "document critic runs only after a successful merge")
	assert.True(t, out.Success)
}

func TestRunDocumentRefineRegeneratesAllWithSeed(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {score(quality.DecisionAccept, 0.95)},
	}, []critResponse{
		score(quality.DecisionRefine, 0.6, "balance difficulty across parts"),
		score(quality.DecisionAccept, 0.9),
	}, 3)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.NoError(t, err)
	require.Len(t, out.Passes, 2)
	assert.Equal(t, quality.DecisionRefine, out.Passes[0].Decision)

	for _, id := range []string{"quiz/u01", "quiz/u02"} {
		calls := h.gen.calls(id)
		require.Len(t, calls, 2)
		assert.Nil(t, calls[0].Directive)
		assert.Equal(t, unit.Refine{SpecificChanges: []string{"balance difficulty across parts"}}, calls[1].Directive)
	}
}

func TestRunDocumentGateUsesCriticDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		first    critResponse
		passes   int
		decision quality.Decision
	}{
		{name: "refine above threshold", first: score(quality.DecisionRefine, 0.90, "fix notation"), passes: 2, decision: quality.DecisionRefine},
		{name: "refine at threshold", first: score(quality.DecisionRefine, 0.85, "fix notation"), passes: 2, decision: quality.DecisionRefine},
		{name: "accept with notes", first: score(quality.DecisionAcceptWithNotes, 0.80), passes: 1, decision: quality.DecisionAcceptWithNotes},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(map[string][]critResponse{
				"quiz/u01": {score(quality.DecisionAccept, 0.95)},
				"quiz/u02": {score(quality.DecisionAccept, 0.95)},
			}, []critResponse{tc.first, score(quality.DecisionAccept, 0.9)}, 3)

			out, err := h.orch.Run(context.Background(), twoUnitSpec())
			require.NoError(t, err)
			require.Len(t, out.Passes, tc.passes)
			assert.Equal(t, tc.decision, out.Passes[0].Decision)
			require.Len(t, h.storage.saved, 1)
			assert.True(t, out.Success)

			if tc.passes > 1 {
				for _, id := range []string{"quiz/u01", "quiz/u02"} {
					calls := h.gen.calls(id)
					require.Len(t, calls, 2)
					assert.Equal(t, unit.Refine{SpecificChanges: []string{"fix notation"}}, calls[1].Directive)
				}
			}
		})
	}
}

func TestRunDocumentRefineNeverAcceptedOnBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {score(quality.DecisionAccept, 0.95)},
	}, []critResponse{score(quality.DecisionRefine, 0.90, "fix notation")}, 1)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.ErrorIs(t, err, errs.ErrMaxIterations)
	assert.False(t, out.Success)
	assert.Equal(t, ReasonBudget, out.Reason)
	assert.Empty(t, h.storage.saved)
}

func TestRunDocumentBudgetExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {score(quality.DecisionAccept, 0.95)},
	}, []critResponse{
		score(quality.DecisionReject, 0.4),
		score(quality.DecisionReject, 0.55),
		score(quality.DecisionReject, 0.5),
	}, 3)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.ErrorIs(t, err, errs.ErrMaxIterations)
	assert.False(t, out.Success)
	assert.Equal(t, ReasonBudget, out.Reason)
	assert.Len(t, out.Passes, 3)
	require.NotNil(t, out.Best)
	assert.InDelta(t, 0.55, out.BestScore, 1e-9)
	assert.Same(t, out.Passes[1].Document, out.Best)
	assert.Empty(t, h.storage.saved, "failed documents are never stored")
}

func TestRunDocumentCriticErrorIsFailedPass(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {score(quality.DecisionAccept, 0.95)},
	}, []critResponse{
		{err: errors.New("connection reset")},
		score(quality.DecisionAccept, 0.9),
	}, 2)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.NoError(t, err)
	require.Len(t, out.Passes, 2)
	assert.Equal(t, quality.DecisionFail, out.Passes[0].Decision)
	assert.ErrorIs(t, out.Passes[0].Err, errs.ErrCollaborator)
	assert.Zero(t, out.Passes[0].Score())
	assert.True(t, out.Success)
}

func TestRunUnknownDocumentDecisionFailsPass(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {score(quality.DecisionAccept, 0.95)},
	}, []critResponse{score("MAYBE", 0.99)}, 1)

	out, err := h.orch.Run(context.Background(), twoUnitSpec())
	require.ErrorIs(t, err, errs.ErrMaxIterations)
	require.Len(t, out.Passes, 1)

	var collabErr *errs.CollaboratorError
	require.ErrorAs(t, out.Passes[0].Err, &collabErr)
	assert.Equal(t, "protocol", collabErr.Code)
	assert.Empty(t, h.storage.saved)
}

func TestRunInvalidSpec(t *testing.T) {
	t.Parallel()

	h := newHarness(nil, nil, 1)
	spec := twoUnitSpec()
	spec.Sections[0].Count = 0

	out, err := h.orch.Run(context.Background(), spec)
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, ReasonInvalidSpec, out.Reason)
	assert.Empty(t, out.Passes)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string][]critResponse{
		"quiz/u01": {score(quality.DecisionAccept, 0.95)},
		"quiz/u02": {score(quality.DecisionAccept, 0.95)},
	}, []critResponse{score(quality.DecisionAccept, 0.9)}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.orch.Run(ctx, twoUnitSpec())
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.False(t, out.Success)
	assert.Equal(t, ReasonInterrupted, out.Reason)
	assert.Empty(t, h.storage.saved)
}
