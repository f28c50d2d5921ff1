// Package collab implements the generator and critic collaborators on top of
// an llm.Completer.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/llm"
	"github.com/metalagman/lessonloop/internal/merge"
	"github.com/metalagman/lessonloop/internal/quality"
	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	roleGenerator      = "generator"
	roleCritic         = "critic"
	roleDocumentCritic = "document_critic"

	codeProtocol = "protocol"
)

type unitPayload struct {
	ID          string              `json:"id"`
	Position    int                 `json:"position"`
	StartNumber int                 `json:"start_number"`
	Section     content.SectionSpec `json:"section"`
}

type directivePayload struct {
	Kind            string   `json:"kind"`
	SpecificChanges []string `json:"specific_changes,omitempty"`
	CriticalIssues  []string `json:"critical_issues,omitempty"`
	PriorFeedback   string   `json:"prior_feedback,omitempty"`
}

type generateInput struct {
	Unit      unitPayload             `json:"unit"`
	Context   content.DocumentContext `json:"context"`
	Iteration int                     `json:"iteration"`
	Directive *directivePayload       `json:"directive,omitempty"`
}

type critiqueInput struct {
	Unit      *unitPayload             `json:"unit,omitempty"`
	Context   *content.DocumentContext `json:"context,omitempty"`
	Artifact  *content.Artifact        `json:"artifact,omitempty"`
	Document  *merge.Document          `json:"document,omitempty"`
	Iteration int                      `json:"iteration"`
}

func newUnitPayload(spec unit.Spec) unitPayload {
	return unitPayload{ID: spec.ID, Position: spec.Position, StartNumber: spec.StartNumber, Section: spec.Section}
}

func newDirectivePayload(d unit.Directive) *directivePayload {
	switch d := d.(type) {
	case unit.Refine:
		return &directivePayload{Kind: d.Kind(), SpecificChanges: d.SpecificChanges}
	case unit.Overhaul:
		return &directivePayload{Kind: d.Kind(), CriticalIssues: d.CriticalIssues, PriorFeedback: d.PriorFeedback}
	default:
		return nil
	}
}

// Generator writes unit artifacts with a model backend.
type Generator struct {
	llm    llm.Completer
	logger zerolog.Logger
}

// NewGenerator constructs a Generator.
func NewGenerator(logger zerolog.Logger, completer llm.Completer) *Generator {
	return &Generator{
		llm:    completer,
		logger: logger.With().Str("component", "generator").Logger(),
	}
}

// Generate implements unit.Generator.
func (g *Generator) Generate(ctx context.Context, req unit.Request) (unit.Result, error) {
	input := generateInput{
		Unit:      newUnitPayload(req.Spec),
		Context:   req.Spec.Context,
		Iteration: req.Iteration,
		Directive: newDirectivePayload(req.Directive),
	}
	raw, err := g.llm.Complete(ctx, llm.Request{
		Instructions: generatorInstructions(req.Spec.Context.Kind),
		Input:        input,
		InputSchema:  generateInputSchema,
		OutputSchema: artifactSchema,
	})
	if err != nil {
		return unit.Result{}, errs.NewCollaboratorError(roleGenerator, "generate", err)
	}

	var art content.Artifact
	if err := decode(raw, artifactLoader, &art); err != nil {
		g.logger.Debug().Str("unit_id", req.Spec.ID).Str("raw", raw).Msg("unparseable generator reply")
		return unit.Result{}, errs.NewCollaboratorError(roleGenerator, "parse", err).WithCode(codeProtocol)
	}
	return unit.Result{Artifact: art}, nil
}

// Critic judges unit artifacts with a model backend.
type Critic struct {
	llm      llm.Completer
	schedule quality.Schedule
	logger   zerolog.Logger
}

// NewCritic constructs a Critic. schedule only informs the prompt; the
// decision policy is applied by the controller.
func NewCritic(logger zerolog.Logger, completer llm.Completer, schedule quality.Schedule) *Critic {
	return &Critic{
		llm:      completer,
		schedule: schedule,
		logger:   logger.With().Str("component", "critic").Logger(),
	}
}

// Critique implements unit.Critic.
func (c *Critic) Critique(ctx context.Context, artifact content.Artifact, spec unit.Spec, iteration int) (quality.Critique, error) {
	up := newUnitPayload(spec)
	docCtx := spec.Context
	input := critiqueInput{Unit: &up, Context: &docCtx, Artifact: &artifact, Iteration: iteration}
	return runCritique(ctx, c.llm, c.logger, roleCritic, llm.Request{
		Instructions: criticInstructions(c.schedule.Threshold(iteration)),
		Input:        input,
		InputSchema:  critiqueInputSchema,
		OutputSchema: critiqueSchema,
	})
}

// DocumentCritic judges merged documents with a model backend.
type DocumentCritic struct {
	llm      llm.Completer
	schedule quality.Schedule
	logger   zerolog.Logger
}

// NewDocumentCritic constructs a DocumentCritic.
func NewDocumentCritic(logger zerolog.Logger, completer llm.Completer, schedule quality.Schedule) *DocumentCritic {
	return &DocumentCritic{
		llm:      completer,
		schedule: schedule,
		logger:   logger.With().Str("component", "document_critic").Logger(),
	}
}

// CritiqueDocument implements orchestrator.DocumentCritic.
func (c *DocumentCritic) CritiqueDocument(ctx context.Context, doc merge.Document, iteration int) (quality.Critique, error) {
	input := critiqueInput{Document: &doc, Iteration: iteration}
	return runCritique(ctx, c.llm, c.logger, roleDocumentCritic, llm.Request{
		Instructions: documentCriticInstructions(c.schedule.Threshold(iteration)),
		Input:        input,
		InputSchema:  critiqueInputSchema,
		OutputSchema: critiqueSchema,
	})
}

func runCritique(ctx context.Context, completer llm.Completer, logger zerolog.Logger, role string, req llm.Request) (quality.Critique, error) {
	raw, err := completer.Complete(ctx, req)
	if err != nil {
		return quality.Critique{}, errs.NewCollaboratorError(role, "critique", err)
	}

	var crit quality.Critique
	if err := decode(raw, critiqueLoader, &crit); err != nil {
		logger.Debug().Str("raw", raw).Msg("unparseable critique")
		return quality.Critique{}, errs.NewCollaboratorError(role, "parse", err).WithCode(codeProtocol)
	}
	decision, err := quality.ParseDecision(string(crit.Decision))
	if err != nil {
		return quality.Critique{}, errs.NewCollaboratorError(role, "parse", err).WithCode(codeProtocol)
	}
	crit.Decision = decision
	return crit, nil
}

// decode validates raw against schema and unmarshals it into out. Replies
// wrapped in prose or fences are reduced to their outermost JSON object.
func decode(raw string, schema gojsonschema.JSONLoader, out any) error {
	data := bytes.TrimSpace([]byte(raw))
	if !json.Valid(data) {
		extracted, ok := extractJSON(data)
		if !ok || !json.Valid(extracted) {
			return fmt.Errorf("reply is not JSON")
		}
		data = extracted
	}
	if err := validateJSON(schema, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	return nil
}

func extractJSON(data []byte) ([]byte, bool) {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start == -1 || end == -1 || start >= end {
		return nil, false
	}
	return data[start : end+1], true
}
