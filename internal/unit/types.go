// Package unit drives the generate, critique, decide loop for one
// independently generatable piece of a document.
package unit

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/quality"
)

// Status is the lifecycle state of a unit.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusAccepted Status = "ACCEPTED"
	StatusFailed   Status = "FAILED"
)

// Spec describes one unit. It is created by the decomposer and treated as a
// value afterwards.
type Spec struct {
	ID          string                  `json:"id"`
	DocumentID  string                  `json:"document_id"`
	Position    int                     `json:"position"`
	StartNumber int                     `json:"start_number"`
	Section     content.SectionSpec     `json:"section"`
	Context     content.DocumentContext `json:"context"`
}

// Directive tells the generator how the next attempt must differ from the
// previous one. A nil Directive means a first attempt.
type Directive interface {
	Kind() string
	directive()
}

// Refine asks for incremental corrections.
type Refine struct {
	SpecificChanges []string
}

// Kind implements Directive.
func (Refine) Kind() string { return "refine" }
func (Refine) directive() {}

// Overhaul asks for a qualitatively different attempt.
type Overhaul struct {
	CriticalIssues []string
	PriorFeedback  string
}

// Kind implements Directive.
func (Overhaul) Kind() string { return "overhaul" }
func (Overhaul) directive() {}

// NewRefine builds a Refine directive owning its own copy of changes.
func NewRefine(changes []string) Refine {
	return Refine{SpecificChanges: slices.Clone(changes)}
}

// NewOverhaul builds an Overhaul directive owning its own copy of issues.
func NewOverhaul(issues []string, feedback string) Overhaul {
	return Overhaul{CriticalIssues: slices.Clone(issues), PriorFeedback: feedback}
}

// DirectiveKind returns "none" for a nil directive.
func DirectiveKind(d Directive) string {
	if d == nil {
		return "none"
	}
	return d.Kind()
}

// Request is the input of one generator call.
type Request struct {
	Spec      Spec
	Directive Directive
	Iteration int
}

// Result is the output of one generator call.
type Result struct {
	Artifact content.Artifact `json:"artifact"`
}

// Generator produces unit artifacts.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Critic judges unit artifacts.
type Critic interface {
	Critique(ctx context.Context, artifact content.Artifact, spec Spec, iteration int) (quality.Critique, error)
}

// Record is one loop pass.
type Record struct {
	Iteration int
	Directive Directive
	Threshold float64
	Result    *Result
	Critique  *quality.Critique
	Decision  quality.Decision
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

type directiveJSON struct {
	Kind            string   `json:"kind"`
	SpecificChanges []string `json:"specific_changes,omitempty"`
	CriticalIssues  []string `json:"critical_issues,omitempty"`
	PriorFeedback   string   `json:"prior_feedback,omitempty"`
}

type recordJSON struct {
	Iteration int               `json:"iteration"`
	Directive directiveJSON     `json:"directive"`
	Threshold float64           `json:"threshold"`
	Result    *Result           `json:"result,omitempty"`
	Critique  *quality.Critique `json:"critique,omitempty"`
	Decision  quality.Decision  `json:"decision"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
}

// MarshalJSON encodes the record for history storage.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Iteration: r.Iteration,
		Directive: directiveJSON{Kind: DirectiveKind(r.Directive)},
		Threshold: r.Threshold,
		Result:    r.Result,
		Critique:  r.Critique,
		Decision:  r.Decision,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
	switch d := r.Directive.(type) {
	case Refine:
		out.Directive.SpecificChanges = d.SpecificChanges
	case Overhaul:
		out.Directive.CriticalIssues = d.CriticalIssues
		out.Directive.PriorFeedback = d.PriorFeedback
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Score returns the critique score of the pass, or zero when the critic
// produced nothing.
func (r Record) Score() float64 {
	if r.Critique == nil || r.Err != nil {
		return 0
	}
	return r.Critique.FinalScore
}

// State is the full lifecycle of one unit.
type State struct {
	Spec       Spec
	Status     Status
	History    []Record
	Final      *Result
	FinalScore float64
	// AcceptedAtBudget marks a unit accepted with its best attempt after the
	// iteration budget ran out.
	AcceptedAtBudget bool
	Budget           *errs.MaxIterationsExceeded
	Err              error
}

// NewState returns a pending state for spec.
func NewState(spec Spec) State {
	return State{Spec: spec, Status: StatusPending}
}

// Iterations returns the number of loop passes run.
func (s State) Iterations() int {
	return len(s.History)
}

// Accepted reports whether the unit reached ACCEPTED.
func (s State) Accepted() bool {
	return s.Status == StatusAccepted && s.Final != nil
}

// LastCritique returns the most recent critique, if any.
func (s State) LastCritique() *quality.Critique {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Critique != nil {
			return s.History[i].Critique
		}
	}
	return nil
}

// best returns the highest-scoring pass that produced both an artifact and a
// critique. Ties go to the later pass.
func (s State) best() (Record, bool) {
	var (
		out   Record
		found bool
	)
	for _, rec := range s.History {
		if rec.Result == nil || rec.Critique == nil || rec.Err != nil {
			continue
		}
		if !found || rec.Critique.FinalScore >= out.Critique.FinalScore {
			out = rec
			found = true
		}
	}
	return out, found
}
