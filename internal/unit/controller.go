package unit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/rs/zerolog"
)

// Phase names a controller transition reported to observers.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseCritiquing Phase = "critiquing"
	PhaseDecided    Phase = "decided"
	PhaseAccepted   Phase = "accepted"
	PhaseFailed     Phase = "failed"
)

// Event is emitted on every controller transition.
type Event struct {
	UnitID    string
	Position  int
	Phase     Phase
	Iteration int
	Decision  quality.Decision
	Score     float64
	Threshold float64
	Err       error
}

// Observer receives controller events. It is called from the controller's
// goroutine and must not block.
type Observer func(Event)

// Config bounds a controller.
type Config struct {
	MaxIterations int
	Schedule      quality.Schedule
	// CallTimeout bounds each generator and critic call. Zero disables it.
	CallTimeout time.Duration
}

// Controller runs the iteration loop for one unit at a time. A Controller is
// safe for concurrent use as long as its collaborators are; all per-unit
// state lives in the State returned by Run.
type Controller struct {
	gen      Generator
	critic   Critic
	cfg      Config
	logger   zerolog.Logger
	observer Observer
}

// NewController constructs a Controller.
func NewController(logger zerolog.Logger, gen Generator, critic Critic, cfg Config, observer Observer) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1
	}
	return &Controller{
		gen:      gen,
		critic:   critic,
		cfg:      cfg,
		logger:   logger.With().Str("component", "unit_controller").Logger(),
		observer: observer,
	}
}

// Run drives spec to a terminal state. seed is the directive of the first
// attempt and may be nil. Unit failures are reported in the returned State;
// the error is non-nil only when the run must abort (context cancelled).
func (c *Controller) Run(ctx context.Context, spec Spec, seed Directive) (State, error) {
	l := c.logger.With().
		Str("document_id", spec.DocumentID).
		Str("unit_id", spec.ID).
		Logger()

	st := NewState(spec)
	st.Status = StatusRunning
	directive := seed

	for iteration := 1; ; iteration++ {
		threshold := c.cfg.Schedule.Threshold(iteration)
		rec := Record{
			Iteration: iteration,
			Directive: directive,
			Threshold: threshold,
			StartedAt: time.Now().UTC(),
		}
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, l, st, rec, err)
		}

		c.emit(Event{UnitID: spec.ID, Position: spec.Position, Phase: PhaseGenerating, Iteration: iteration, Threshold: threshold})
		res, err := c.generate(ctx, Request{Spec: spec, Directive: directive, Iteration: iteration})
		if err != nil {
			return c.fail(ctx, l, st, rec, err)
		}
		rec.Result = &res

		c.emit(Event{UnitID: spec.ID, Position: spec.Position, Phase: PhaseCritiquing, Iteration: iteration, Threshold: threshold})
		crit, err := c.critique(ctx, res, spec, iteration)
		if err != nil {
			return c.fail(ctx, l, st, rec, err)
		}
		rec.Critique = &crit

		decision := quality.Decide(&crit, nil, threshold)
		if decision == quality.DecisionFail {
			err := errs.NewCollaboratorError("critic", "critique", fmt.Errorf("unknown decision %q", crit.Decision)).WithCode("protocol")
			return c.fail(ctx, l, st, rec, err)
		}
		rec.Decision = decision
		rec.EndedAt = time.Now().UTC()
		st.History = append(st.History, rec)

		l.Info().
			Int("iteration", iteration).
			Str("critic_decision", string(crit.Decision)).
			Str("decision", string(decision)).
			Float64("score", crit.FinalScore).
			Float64("threshold", threshold).
			Msg("unit iteration decided")
		c.emit(Event{UnitID: spec.ID, Position: spec.Position, Phase: PhaseDecided, Iteration: iteration, Decision: decision, Score: crit.FinalScore, Threshold: threshold})

		if decision == quality.DecisionAccept {
			st.Status = StatusAccepted
			final := res
			st.Final = &final
			st.FinalScore = crit.FinalScore
			c.emit(Event{UnitID: spec.ID, Position: spec.Position, Phase: PhaseAccepted, Iteration: iteration, Decision: decision, Score: crit.FinalScore})
			return st, nil
		}

		if iteration >= c.cfg.MaxIterations {
			return c.acceptAtBudget(l, st), nil
		}
		directive = nextDirective(decision, crit)
	}
}

func (c *Controller) generate(ctx context.Context, req Request) (Result, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	res, err := c.gen.Generate(callCtx, req)
	if err != nil {
		return Result{}, classify("generator", "generate", err)
	}
	if err := res.Artifact.Validate(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Controller) critique(ctx context.Context, res Result, spec Spec, iteration int) (quality.Critique, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	crit, err := c.critic.Critique(callCtx, res.Artifact.Clone(), spec, iteration)
	if err != nil {
		return quality.Critique{}, classify("critic", "critique", err)
	}
	return crit, nil
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// fail records the failed pass and terminates the unit.
func (c *Controller) fail(ctx context.Context, l zerolog.Logger, st State, rec Record, err error) (State, error) {
	rec.Decision = quality.DecisionFail
	rec.Err = err
	rec.EndedAt = time.Now().UTC()
	st.History = append(st.History, rec)
	st.Status = StatusFailed
	st.Final = nil
	st.FinalScore = 0
	st.Err = err

	l.Warn().Err(err).Int("iteration", rec.Iteration).Msg("unit failed")
	c.emit(Event{UnitID: st.Spec.ID, Position: st.Spec.Position, Phase: PhaseFailed, Iteration: rec.Iteration, Decision: quality.DecisionFail, Err: err})

	if ctxErr := ctx.Err(); ctxErr != nil {
		return st, errs.Fatal(fmt.Errorf("unit %s: %w", st.Spec.ID, ctxErr))
	}
	return st, nil
}

func (c *Controller) acceptAtBudget(l zerolog.Logger, st State) State {
	best, ok := st.best()
	st.Budget = &errs.MaxIterationsExceeded{Scope: "unit", ID: st.Spec.ID, Limit: c.cfg.MaxIterations}
	if !ok {
		st.Status = StatusFailed
		st.Err = st.Budget
		return st
	}
	final := *best.Result
	st.Status = StatusAccepted
	st.Final = &final
	st.FinalScore = best.Critique.FinalScore
	st.AcceptedAtBudget = true

	l.Warn().
		Int("max_iterations", c.cfg.MaxIterations).
		Int("best_iteration", best.Iteration).
		Float64("score", st.FinalScore).
		Msg("iteration budget exhausted, accepting best attempt")
	c.emit(Event{UnitID: st.Spec.ID, Position: st.Spec.Position, Phase: PhaseAccepted, Iteration: len(st.History), Decision: quality.DecisionAccept, Score: st.FinalScore})
	return st
}

func (c *Controller) emit(ev Event) {
	if c.observer != nil {
		c.observer(ev)
	}
}

func nextDirective(decision quality.Decision, crit quality.Critique) Directive {
	if decision == quality.DecisionReject {
		return NewOverhaul(crit.CriticalIssues, crit.Notes)
	}
	return NewRefine(crit.SpecificChanges)
}

// classify wraps collaborator errors that are not already typed.
func classify(role, op string, err error) error {
	var (
		collabErr *errs.CollaboratorError
		validErr  *errs.ValidationError
	)
	if errors.As(err, &collabErr) || errors.As(err, &validErr) {
		return err
	}
	out := errs.NewCollaboratorError(role, op, err)
	if errors.Is(err, context.DeadlineExceeded) {
		out = out.WithCode("timeout")
	}
	return out
}
