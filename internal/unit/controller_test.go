package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []Request
	err      error
	block    bool
	artifact func(req Request) content.Artifact
}

func (g *fakeGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if g.err != nil {
		return Result{}, g.err
	}
	if g.artifact != nil {
		return Result{Artifact: g.artifact(req)}, nil
	}
	return Result{Artifact: sampleArtifact(req.Spec.Section.Count, req.Iteration)}, nil
}

type fakeCritic struct {
	critiques []quality.Critique
	errAt     map[int]error
	calls     int
}

func (c *fakeCritic) Critique(_ context.Context, _ content.Artifact, _ Spec, iteration int) (quality.Critique, error) {
	c.calls++
	if err, ok := c.errAt[iteration]; ok {
		return quality.Critique{}, err
	}
	idx := iteration - 1
	if idx >= len(c.critiques) {
		idx = len(c.critiques) - 1
	}
	return c.critiques[idx], nil
}

func sampleArtifact(count, iteration int) content.Artifact {
	items := make([]content.Item, 0, count)
	for i := range count {
		items = append(items, content.Item{
			Number: i + 1,
			Kind:   "short_answer",
			Points: 2,
			Prompt: fmt.Sprintf("question %d (attempt %d)", i+1, iteration),
		})
	}
	return content.Artifact{Title: "section", Items: items}
}

func testSpec() Spec {
	return Spec{
		ID:          "doc/u01",
		DocumentID:  "doc",
		Position:    1,
		StartNumber: 1,
		Section:     content.SectionSpec{Title: "Algebra", ItemKind: "short_answer", Count: 3},
	}
}

func newTestController(gen Generator, critic Critic, maxIterations int, observer Observer) *Controller {
	return NewController(zerolog.Nop(), gen, critic, Config{
		MaxIterations: maxIterations,
		Schedule:      quality.DefaultSchedule(),
	}, observer)
}

func refine(score float64, changes ...string) quality.Critique {
	return quality.Critique{Decision: quality.DecisionRefine, FinalScore: score, SpecificChanges: changes}
}

func TestControllerAcceptsOnFirstIteration(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.91)}}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	assert.Equal(t, 1, st.Iterations())
	assert.InDelta(t, 0.91, st.FinalScore, 1e-9)
	assert.False(t, st.AcceptedAtBudget)
	require.Len(t, gen.requests, 1)
	assert.Nil(t, gen.requests[0].Directive)
	assert.Equal(t, quality.DecisionAccept, st.History[0].Decision)
}

func TestControllerRefinesThenAccepts(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{
		refine(0.80, "fix the answer key for question 2"),
		refine(0.87),
	}}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	assert.Equal(t, 2, st.Iterations())
	assert.Equal(t, quality.DecisionRefine, st.History[0].Decision)
	assert.Equal(t, quality.DecisionAccept, st.History[1].Decision)

	require.Len(t, gen.requests, 2)
	directive, ok := gen.requests[1].Directive.(Refine)
	require.True(t, ok, "second attempt must carry a Refine directive")
	assert.Equal(t, []string{"fix the answer key for question 2"}, directive.SpecificChanges)
	assert.Equal(t, 2, gen.requests[1].Iteration)
}

func TestControllerBelowThresholdOnSecondIterationRefines(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.80), refine(0.83), refine(0.95)}}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, quality.DecisionRefine, st.History[1].Decision)
	assert.InDelta(t, 0.85, st.History[1].Threshold, 1e-9)
	assert.Equal(t, 3, st.Iterations())
}

func TestControllerRejectOverhaulsWithoutResettingCounter(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{
		{Decision: quality.DecisionReject, FinalScore: 0.3, CriticalIssues: []string{"off-syllabus"}, Notes: "wrong grade level"},
		{Decision: quality.DecisionAccept, FinalScore: 0.9},
	}}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	require.Len(t, gen.requests, 2)
	assert.Equal(t, 1, gen.requests[0].Iteration)
	assert.Equal(t, 2, gen.requests[1].Iteration)

	overhaul, ok := gen.requests[1].Directive.(Overhaul)
	require.True(t, ok, "REJECT must produce an Overhaul directive")
	assert.Equal(t, []string{"off-syllabus"}, overhaul.CriticalIssues)
	assert.Equal(t, "wrong grade level", overhaul.PriorFeedback)
	assert.Equal(t, quality.DecisionReject, st.History[0].Decision)
}

func TestControllerCriticTransportErrorFails(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{
		critiques: []quality.Critique{{Decision: quality.DecisionAccept, FinalScore: 1}},
		errAt:     map[int]error{1: errors.New("502 bad gateway")},
	}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err, "unit failures are reported in state, not as run errors")
	assert.Equal(t, StatusFailed, st.Status)
	assert.False(t, st.Accepted())
	assert.Zero(t, st.FinalScore)
	assert.Nil(t, st.Final)
	require.Len(t, st.History, 1)
	assert.Equal(t, quality.DecisionFail, st.History[0].Decision)
	assert.Zero(t, st.History[0].Score())
	assert.ErrorIs(t, st.Err, errs.ErrCollaborator)

	var collabErr *errs.CollaboratorError
	require.ErrorAs(t, st.Err, &collabErr)
	assert.Equal(t, "critic", collabErr.Role)
}

func TestControllerGeneratorErrorFails(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.New("rate limited")}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.99)}}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, 0, critic.calls)
	require.Len(t, st.History, 1)
	assert.Nil(t, st.History[0].Result)
	assert.ErrorIs(t, st.Err, errs.ErrCollaborator)
}

func TestControllerInvalidArtifactFails(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{artifact: func(Request) content.Artifact { return content.Artifact{} }}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.99)}}
	c := newTestController(gen, critic, 5, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, errs.ErrValidation)
	assert.Equal(t, 0, critic.calls)
}

func TestControllerAcceptsBestAttemptAtBudget(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.50), refine(0.66), refine(0.60)}}
	c := newTestController(gen, critic, 3, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, st.Status)
	assert.True(t, st.AcceptedAtBudget)
	assert.Equal(t, 3, st.Iterations())
	assert.InDelta(t, 0.66, st.FinalScore, 1e-9)
	require.NotNil(t, st.Final)
	assert.Contains(t, st.Final.Artifact.Items[0].Prompt, "attempt 2")
	require.NotNil(t, st.Budget)
	assert.ErrorIs(t, st.Budget, errs.ErrMaxIterations)
}

func TestControllerTerminatesWithinBudget(t *testing.T) {
	t.Parallel()

	for maxIter := 1; maxIter <= 6; maxIter++ {
		gen := &fakeGenerator{}
		critic := &fakeCritic{critiques: []quality.Critique{{Decision: quality.DecisionReject, FinalScore: 0.1}}}
		c := newTestController(gen, critic, maxIter, nil)

		st, err := c.Run(context.Background(), testSpec(), nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, st.Iterations(), maxIter)
		assert.Len(t, gen.requests, st.Iterations(), "one record per pass")
		for i, rec := range st.History {
			assert.Equal(t, i+1, rec.Iteration)
		}
	}
}

func TestControllerCallTimeoutFailsUnit(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{block: true}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.99)}}
	c := NewController(zerolog.Nop(), gen, critic, Config{
		MaxIterations: 3,
		Schedule:      quality.DefaultSchedule(),
		CallTimeout:   10 * time.Millisecond,
	}, nil)

	st, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)

	var collabErr *errs.CollaboratorError
	require.ErrorAs(t, st.Err, &collabErr)
	assert.Equal(t, "timeout", collabErr.Code)
}

func TestControllerCancelledContextIsFatal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &fakeGenerator{block: true}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.99)}}
	c := newTestController(gen, critic, 3, nil)

	st, err := c.Run(ctx, testSpec(), nil)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Len(t, st.History, 1)
}

func TestControllerSeedDirective(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.95)}}
	c := newTestController(gen, critic, 3, nil)

	_, err := c.Run(context.Background(), testSpec(), NewRefine([]string{"balance difficulty"}))
	require.NoError(t, err)
	require.Len(t, gen.requests, 1)
	assert.Equal(t, Refine{SpecificChanges: []string{"balance difficulty"}}, gen.requests[0].Directive)
}

func TestControllerEmitsEvents(t *testing.T) {
	t.Parallel()

	var phases []Phase
	observer := func(ev Event) { phases = append(phases, ev.Phase) }
	gen := &fakeGenerator{}
	critic := &fakeCritic{critiques: []quality.Critique{refine(0.80), refine(0.90)}}
	c := newTestController(gen, critic, 3, observer)

	_, err := c.Run(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, []Phase{
		PhaseGenerating, PhaseCritiquing, PhaseDecided,
		PhaseGenerating, PhaseCritiquing, PhaseDecided, PhaseAccepted,
	}, phases)
}

func TestRecordMarshalJSON(t *testing.T) {
	t.Parallel()

	rec := Record{
		Iteration: 2,
		Directive: NewOverhaul([]string{"wrong topic"}, "start over"),
		Decision:  quality.DecisionFail,
		Err:       errors.New("boom"),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "boom", decoded["error"])
	directive := decoded["directive"].(map[string]any)
	assert.Equal(t, "overhaul", directive["kind"])
	assert.Equal(t, "start over", directive["prior_feedback"])
}
