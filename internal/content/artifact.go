package content

import (
	"fmt"
	"strings"

	"github.com/metalagman/lessonloop/internal/errs"
)

// Artifact is what a generator returns for one unit.
type Artifact struct {
	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
	Items        []Item `json:"items"`
	// Reported is the generator's own tally. It is advisory only and never
	// copied into a merged document.
	Reported *ReportedSummary `json:"summary,omitempty"`
}

// Item is one question or card.
type Item struct {
	Number      int         `json:"number"`
	Kind        string      `json:"kind"`
	Difficulty  string      `json:"difficulty,omitempty"`
	Points      float64     `json:"points"`
	Prompt      string      `json:"prompt"`
	Choices     []string    `json:"choices,omitempty"`
	Answer      string      `json:"answer,omitempty"`
	Explanation string      `json:"explanation,omitempty"`
	Figure      *FigureSpec `json:"figure,omitempty"`
	Image       string      `json:"image,omitempty"`
}

// FigureSpec is the structured drawing request attached to an item.
type FigureSpec struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ReportedSummary is the tally a generator claims for its artifact.
type ReportedSummary struct {
	TotalItems  int     `json:"total_items"`
	TotalPoints float64 `json:"total_points"`
}

// Validate checks the artifact's structure. It does not judge quality.
func (a Artifact) Validate() error {
	if len(a.Items) == 0 {
		return errs.NewValidationError("artifact", "items", "empty")
	}
	for i, item := range a.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Prompt) == "" {
			return errs.NewValidationError("artifact", field+".prompt", "empty")
		}
		if strings.TrimSpace(item.Kind) == "" {
			return errs.NewValidationError("artifact", field+".kind", "empty")
		}
		if item.Points < 0 {
			return errs.NewValidationError("artifact", field+".points", "negative")
		}
		if item.Figure != nil && strings.TrimSpace(item.Figure.Type) == "" {
			return errs.NewValidationError("artifact", field+".figure.type", "empty")
		}
	}
	return nil
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	out := a
	out.Items = make([]Item, len(a.Items))
	for i, item := range a.Items {
		item.Choices = append([]string(nil), item.Choices...)
		if item.Figure != nil {
			fig := *item.Figure
			item.Figure = &fig
		}
		out.Items[i] = item
	}
	if a.Reported != nil {
		r := *a.Reported
		out.Reported = &r
	}
	return out
}
