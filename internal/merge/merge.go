// Package merge combines accepted unit artifacts into one document and
// recomputes every derived field from the merged items.
package merge

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog/log"
)

// Document is a merged composite document.
type Document struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	Subject  string    `json:"subject"`
	Grade    int       `json:"grade"`
	Language string    `json:"language,omitempty"`
	Sections []Section `json:"sections"`
	Summary  Summary   `json:"summary"`
}

// Section is the accepted content of one unit.
type Section struct {
	UnitID           string         `json:"unit_id"`
	Position         int            `json:"position"`
	Title            string         `json:"title"`
	Instructions     string         `json:"instructions,omitempty"`
	Items            []content.Item `json:"items"`
	Score            float64        `json:"score"`
	AcceptedAtBudget bool           `json:"accepted_at_budget,omitempty"`
}

// Summary holds the values derived from the merged items.
type Summary struct {
	TotalItems   int                  `json:"total_items"`
	TotalPoints  float64              `json:"total_points"`
	ByKind       map[string]KindTally `json:"by_kind"`
	ByDifficulty map[string]int       `json:"by_difficulty"`
	Figures      int                  `json:"figures"`
	Sections     []SectionSummary     `json:"sections"`
}

// KindTally counts items of one kind.
type KindTally struct {
	Count  int     `json:"count"`
	Points float64 `json:"points"`
}

// SectionSummary is the per-section part of the summary.
type SectionSummary struct {
	Title       string  `json:"title"`
	FirstNumber int     `json:"first_number"`
	LastNumber  int     `json:"last_number"`
	Items       int     `json:"items"`
	Points      float64 `json:"points"`
}

// Merge orders states by position, renumbers items contiguously from 1 and
// recomputes the summary. Every state must be accepted; otherwise a
// PartialBatchFailure lists the units that are not.
func Merge(meta content.DocumentContext, states []unit.State) (Document, error) {
	ordered := slices.Clone(states)
	slices.SortStableFunc(ordered, func(a, b unit.State) int {
		return cmp.Compare(a.Spec.Position, b.Spec.Position)
	})

	var failed []string
	for _, st := range ordered {
		if !st.Accepted() {
			failed = append(failed, st.Spec.ID)
		}
	}
	if len(failed) > 0 {
		return Document{}, &errs.PartialBatchFailure{Failed: failed, Total: len(ordered)}
	}

	doc := Document{
		ID:       meta.DocumentID,
		Kind:     meta.Kind,
		Title:    meta.Title,
		Subject:  meta.Subject,
		Grade:    meta.Grade,
		Language: meta.Language,
		Sections: make([]Section, 0, len(ordered)),
	}

	number := 0
	for _, st := range ordered {
		art := st.Final.Artifact.Clone()
		section := Section{
			UnitID:           st.Spec.ID,
			Position:         st.Spec.Position,
			Title:            cmp.Or(st.Spec.Section.Title, art.Title),
			Instructions:     cmp.Or(st.Spec.Section.Instructions, art.Instructions),
			Items:            art.Items,
			Score:            st.FinalScore,
			AcceptedAtBudget: st.AcceptedAtBudget,
		}
		for i := range section.Items {
			number++
			section.Items[i].Number = number
		}
		checkReported(st.Spec.ID, art)
		doc.Sections = append(doc.Sections, section)
	}
	doc.Summary = Summarize(doc.Sections)
	return doc, nil
}

// Summarize computes the summary of sections. It is a pure function of the
// items.
func Summarize(sections []Section) Summary {
	sum := Summary{
		ByKind:       map[string]KindTally{},
		ByDifficulty: map[string]int{},
		Sections:     make([]SectionSummary, 0, len(sections)),
	}
	for _, section := range sections {
		ss := SectionSummary{Title: section.Title, Items: len(section.Items)}
		for i, item := range section.Items {
			if i == 0 {
				ss.FirstNumber = item.Number
			}
			ss.LastNumber = item.Number
			ss.Points += item.Points

			tally := sum.ByKind[item.Kind]
			tally.Count++
			tally.Points = round(tally.Points + item.Points)
			sum.ByKind[item.Kind] = tally

			if item.Difficulty != "" {
				sum.ByDifficulty[item.Difficulty]++
			}
			if item.Figure != nil || item.Image != "" {
				sum.Figures++
			}
		}
		ss.Points = round(ss.Points)
		sum.TotalItems += ss.Items
		sum.TotalPoints = round(sum.TotalPoints + ss.Points)
		sum.Sections = append(sum.Sections, ss)
	}
	return sum
}

// JSON returns the canonical encoding of the document. Identical documents
// encode to identical bytes.
func (d Document) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// Items returns every item in document order.
func (d Document) Items() []content.Item {
	var out []content.Item
	for _, s := range d.Sections {
		out = append(out, s.Items...)
	}
	return out
}

func checkReported(unitID string, art content.Artifact) {
	if art.Reported == nil {
		return
	}
	var points float64
	for _, item := range art.Items {
		points += item.Points
	}
	if art.Reported.TotalItems != len(art.Items) || round(art.Reported.TotalPoints) != round(points) {
		log.Debug().
			Str("unit_id", unitID).
			Int("reported_items", art.Reported.TotalItems).
			Int("actual_items", len(art.Items)).
			Float64("reported_points", art.Reported.TotalPoints).
			Float64("actual_points", points).
			Msg("discarding mismatched reported summary")
	}
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
