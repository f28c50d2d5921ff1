// Package orchestrator drives a whole document through decomposition, unit
// generation, merging and whole-document critique until it is accepted or the
// document budget runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/decompose"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/merge"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/scheduler"
	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog"
)

// Outcome reasons.
const (
	ReasonAccepted      = "accepted"
	ReasonBudget        = "document budget exhausted"
	ReasonInvalidSpec   = "invalid spec"
	ReasonInterrupted   = "interrupted"
	ReasonStorageFailed = "storage failed"
)

// DocumentCritic judges a merged document as a whole.
type DocumentCritic interface {
	CritiqueDocument(ctx context.Context, doc merge.Document, iteration int) (quality.Critique, error)
}

// Storage persists accepted documents.
type Storage interface {
	SaveDocument(ctx context.Context, doc merge.Document, outcome Outcome) error
}

// Recorder receives every finished pass. Recorder errors are logged and never
// change the outcome.
type Recorder interface {
	RecordPass(ctx context.Context, docID string, pass Pass) error
}

// UnitScheduler runs a set of units.
type UnitScheduler interface {
	RunAll(ctx context.Context, units []unit.Spec, opts scheduler.Options) ([]unit.State, error)
}

// Pass is one document-level iteration.
type Pass struct {
	Number int
	Units  []unit.State
	// Regenerated lists the units run in this pass. The others were carried
	// over from the previous pass.
	Regenerated []string
	Document    *merge.Document
	Critique    *quality.Critique
	Decision    quality.Decision
	Threshold   float64
	Err         error
	StartedAt   time.Time
	EndedAt     time.Time
}

// Score returns the document critique score of the pass, zero without one.
func (p Pass) Score() float64 {
	if p.Critique == nil || p.Err != nil {
		return 0
	}
	return p.Critique.FinalScore
}

// Outcome is the result of a document run.
type Outcome struct {
	DocumentID string
	Success    bool
	// Best is the accepted document on success, otherwise the highest scoring
	// merged document produced, if any.
	Best      *merge.Document
	BestScore float64
	Passes    []Pass
	Reason    string
}

// Config bounds an orchestrator.
type Config struct {
	MaxDocumentIterations int
	MaxConcurrency        int
	Schedule              quality.Schedule
	CallTimeout           time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every pass.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithPassObserver calls fn after every pass.
func WithPassObserver(fn func(docID string, pass Pass)) Option {
	return func(o *Orchestrator) { o.onPass = fn }
}

// Orchestrator runs documents. It holds no per-document state and may run
// several documents one after another.
type Orchestrator struct {
	sched    UnitScheduler
	critic   DocumentCritic
	storage  Storage
	recorder Recorder
	onPass   func(string, Pass)
	cfg      Config
	logger   zerolog.Logger
}

// New constructs an Orchestrator.
func New(logger zerolog.Logger, sched UnitScheduler, critic DocumentCritic, storage Storage, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxDocumentIterations <= 0 {
		cfg.MaxDocumentIterations = 1
	}
	o := &Orchestrator{
		sched:   sched,
		critic:  critic,
		storage: storage,
		cfg:     cfg,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run authors the document described by spec. The returned Outcome is always
// populated with whatever was produced; the error is non-nil unless the
// document was accepted and stored.
func (o *Orchestrator) Run(ctx context.Context, spec content.CompositeSpec) (Outcome, error) {
	out := Outcome{DocumentID: spec.ID}
	l := o.logger.With().Str("document_id", spec.ID).Logger()

	units, err := decompose.Decompose(spec)
	if err != nil {
		out.Reason = ReasonInvalidSpec
		return out, errs.Fatal(fmt.Errorf("decompose %s: %w", spec.ID, err))
	}
	l.Info().Int("units", len(units)).Int("max_document_iterations", o.cfg.MaxDocumentIterations).Msg("document started")

	var (
		previous map[string]unit.State
		filter   func(unit.Spec) bool
		seeds    map[string]unit.Directive
	)

	for number := 1; number <= o.cfg.MaxDocumentIterations; number++ {
		pass := Pass{
			Number:    number,
			Threshold: o.cfg.Schedule.Threshold(number),
			StartedAt: time.Now().UTC(),
		}
		for _, u := range units {
			if filter == nil || filter(u) {
				pass.Regenerated = append(pass.Regenerated, u.ID)
			}
		}

		states, err := o.sched.RunAll(ctx, units, scheduler.Options{
			MaxConcurrency: o.cfg.MaxConcurrency,
			Filter:         filter,
			Previous:       previous,
			Seeds:          seeds,
		})
		pass.Units = states
		if err != nil {
			pass.Err = err
			pass.Decision = quality.DecisionFail
			o.finishPass(ctx, l, &out, pass)
			out.Reason = ReasonInterrupted
			return out, fmt.Errorf("document %s pass %d: %w", spec.ID, number, err)
		}
		previous = byID(states)

		doc, err := merge.Merge(spec.Context(), states)
		if err != nil {
			pass.Err = err
			pass.Decision = quality.DecisionFail
			o.finishPass(ctx, l, &out, pass)

			var partial *errs.PartialBatchFailure
			if !errors.As(err, &partial) {
				out.Reason = err.Error()
				return out, errs.Fatal(fmt.Errorf("merge %s: %w", spec.ID, err))
			}
			filter = onlyUnits(partial.Failed)
			seeds = nil
			continue
		}
		pass.Document = &doc

		// The document gate is the critic's own decision. Progressive
		// acceptance by score applies to units only.
		crit, err := o.critiqueDocument(ctx, doc, number)
		if err == nil {
			var decision quality.Decision
			decision, err = quality.ParseDecision(string(crit.Decision))
			if err != nil {
				err = errs.NewCollaboratorError("document_critic", "critique", err).WithCode("protocol")
			} else {
				pass.Critique = &crit
				pass.Decision = decision
			}
		}
		if err != nil {
			pass.Err = err
			pass.Decision = quality.DecisionFail
			o.finishPass(ctx, l, &out, pass)
			if ctxErr := ctx.Err(); ctxErr != nil {
				out.Reason = ReasonInterrupted
				return out, errs.Fatal(fmt.Errorf("document %s: %w", spec.ID, ctxErr))
			}
			filter, seeds = nil, nil
			continue
		}

		o.finishPass(ctx, l, &out, pass)
		if pass.Decision.Success() {
			return o.accept(ctx, l, out, doc, crit.FinalScore)
		}
		// The coarse policy: regenerate every unit, carrying the document
		// feedback as a refine directive.
		filter = nil
		seeds = seedAll(units, crit.SpecificChanges)
	}

	out.Reason = ReasonBudget
	budgetErr := &errs.MaxIterationsExceeded{Scope: "document", ID: spec.ID, Limit: o.cfg.MaxDocumentIterations}
	l.Warn().Int("passes", len(out.Passes)).Float64("best_score", out.BestScore).Msg("document failed")
	return out, budgetErr
}

func (o *Orchestrator) accept(ctx context.Context, l zerolog.Logger, out Outcome, doc merge.Document, score float64) (Outcome, error) {
	out.Success = true
	out.Best = &doc
	out.BestScore = score
	out.Reason = ReasonAccepted
	if o.storage != nil {
		if err := o.storage.SaveDocument(ctx, doc, out); err != nil {
			out.Reason = ReasonStorageFailed
			return out, fmt.Errorf("save document %s: %w", doc.ID, err)
		}
	}
	l.Info().
		Int("passes", len(out.Passes)).
		Float64("score", score).
		Int("items", doc.Summary.TotalItems).
		Msg("document accepted")
	return out, nil
}

func (o *Orchestrator) critiqueDocument(ctx context.Context, doc merge.Document, iteration int) (quality.Critique, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
	}
	defer cancel()

	crit, err := o.critic.CritiqueDocument(callCtx, doc, iteration)
	if err != nil {
		var collabErr *errs.CollaboratorError
		if errors.As(err, &collabErr) {
			return quality.Critique{}, err
		}
		wrapped := errs.NewCollaboratorError("document_critic", "critique", err)
		if errors.Is(err, context.DeadlineExceeded) {
			wrapped = wrapped.WithCode("timeout")
		}
		return quality.Critique{}, wrapped
	}
	return crit, nil
}

// finishPass appends the pass to the outcome, tracks the best document and
// notifies the recorder and observer.
func (o *Orchestrator) finishPass(ctx context.Context, l zerolog.Logger, out *Outcome, pass Pass) {
	pass.EndedAt = time.Now().UTC()
	out.Passes = append(out.Passes, pass)
	if pass.Document != nil && (out.Best == nil || pass.Score() >= out.BestScore) {
		out.Best = pass.Document
		out.BestScore = pass.Score()
	}

	ev := l.Info()
	if pass.Err != nil {
		ev = l.Warn().Err(pass.Err)
	}
	ev.Int("pass", pass.Number).
		Str("decision", string(pass.Decision)).
		Float64("score", pass.Score()).
		Float64("threshold", pass.Threshold).
		Int("failed_units", len(scheduler.Failed(pass.Units))).
		Dur("duration", pass.EndedAt.Sub(pass.StartedAt)).
		Msg("document pass finished")

	if o.recorder != nil {
		if err := o.recorder.RecordPass(context.WithoutCancel(ctx), out.DocumentID, pass); err != nil {
			l.Warn().Err(err).Int("pass", pass.Number).Msg("record pass failed")
		}
	}
	if o.onPass != nil {
		o.onPass(out.DocumentID, pass)
	}
}

func byID(states []unit.State) map[string]unit.State {
	out := make(map[string]unit.State, len(states))
	for _, st := range states {
		out[st.Spec.ID] = st
	}
	return out
}

func onlyUnits(ids []string) func(unit.Spec) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(spec unit.Spec) bool {
		_, ok := set[spec.ID]
		return ok
	}
}

func seedAll(units []unit.Spec, changes []string) map[string]unit.Directive {
	if len(changes) == 0 {
		return nil
	}
	out := make(map[string]unit.Directive, len(units))
	for _, u := range units {
		out[u.ID] = unit.NewRefine(changes)
	}
	return out
}
