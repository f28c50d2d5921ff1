package main

import (
	"context"
	"fmt"

	"github.com/metalagman/lessonloop/internal/collab"
	"github.com/metalagman/lessonloop/internal/config"
	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/db"
	"github.com/metalagman/lessonloop/internal/llm"
	"github.com/metalagman/lessonloop/internal/logging"
	"github.com/metalagman/lessonloop/internal/orchestrator"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/render"
	"github.com/metalagman/lessonloop/internal/scheduler"
	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog"
)

// pipeline holds the collaborators shared by every document run.
type pipeline struct {
	cfg       config.Config
	store     *db.Store
	schedule  quality.Schedule
	generator unit.Generator
	critic    unit.Critic
	docCritic orchestrator.DocumentCritic
	logger    zerolog.Logger
}

// observers receive live progress. Both fields may be nil.
type observers struct {
	unit unit.Observer
	pass func(docID string, pass orchestrator.Pass)
}

func newPipeline(ctx context.Context, root string, cfg config.Config, store *db.Store) (*pipeline, error) {
	logger := logging.Component("pipeline")
	schedule, err := cfg.Thresholds.Build()
	if err != nil {
		return nil, fmt.Errorf("build threshold schedule: %w", err)
	}

	roles := cfg.Collaborators
	genLLM, err := llm.New(ctx, roles.Generator)
	if err != nil {
		return nil, fmt.Errorf("generator backend: %w", err)
	}
	criticLLM, err := llm.New(ctx, roles.Critic)
	if err != nil {
		return nil, fmt.Errorf("critic backend: %w", err)
	}
	docCriticLLM, err := llm.New(ctx, roles.DocumentCritic)
	if err != nil {
		return nil, fmt.Errorf("document critic backend: %w", err)
	}
	for role, c := range map[string]llm.Completer{"generator": genLLM, "critic": criticLLM, "document_critic": docCriticLLM} {
		info := c.Describe()
		logger.Debug().Str("role", role).Str("type", info.Type).Str("model", info.Model).Msg("collaborator configured")
	}

	renderer := render.NewRenderer(logger, render.NewExecBackend(cfg.Renderer.Commands), cfg.Renderer.FigureDir(root), cfg.Renderer.Timeout)
	return &pipeline{
		cfg:       cfg,
		store:     store,
		schedule:  schedule,
		generator: collab.NewFigureStage(collab.NewGenerator(logger, genLLM), renderer),
		critic:    collab.NewCritic(logger, criticLLM, schedule),
		docCritic: collab.NewDocumentCritic(logger, docCriticLLM, schedule),
		logger:    logger,
	}, nil
}

// runSpec authors the document described by the spec file and records the
// run. The error is non-nil unless the document was accepted and stored.
func (p *pipeline) runSpec(ctx context.Context, specPath string, obs observers) (orchestrator.Outcome, error) {
	spec, err := content.LoadSpec(specPath)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	return p.run(ctx, spec, specPath, obs)
}

func (p *pipeline) run(ctx context.Context, spec content.CompositeSpec, specPath string, obs observers) (orchestrator.Outcome, error) {
	runID, err := db.NewRunID()
	if err != nil {
		return orchestrator.Outcome{}, fmt.Errorf("create run id: %w", err)
	}
	if err := p.store.CreateRun(ctx, runID, spec.ID, specPath); err != nil {
		return orchestrator.Outcome{}, err
	}
	l := p.logger.With().Str("run_id", runID).Str("document_id", spec.ID).Logger()
	l.Info().Str("spec", specPath).Msg("run started")

	budgets := p.cfg.Budgets
	controller := unit.NewController(l, p.generator, p.critic, unit.Config{
		MaxIterations: budgets.MaxIterations,
		Schedule:      p.schedule,
		CallTimeout:   budgets.CallTimeout,
	}, obs.unit)

	recorder := p.store.Run(runID)
	opts := []orchestrator.Option{orchestrator.WithRecorder(recorder)}
	if obs.pass != nil {
		opts = append(opts, orchestrator.WithPassObserver(obs.pass))
	}
	orch := orchestrator.New(l, scheduler.New(l, controller), p.docCritic, recorder, orchestrator.Config{
		MaxDocumentIterations: budgets.MaxDocumentIterations,
		MaxConcurrency:        budgets.MaxConcurrency,
		Schedule:              p.schedule,
		CallTimeout:           budgets.CallTimeout,
	}, opts...)

	outcome, runErr := orch.Run(ctx, spec)
	status := db.Status(outcome, runErr)
	if err := p.store.FinishRun(context.WithoutCancel(ctx), runID, status, outcome.Reason); err != nil {
		l.Warn().Err(err).Msg("finish run")
	}
	l.Info().Str("status", status).Int("passes", len(outcome.Passes)).Float64("best_score", outcome.BestScore).Msg("run finished")
	return outcome, runErr
}
