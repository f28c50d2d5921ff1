// Package decompose splits a composite document spec into independently
// generatable units.
package decompose

import (
	"fmt"
	"strings"

	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/errs"
	"github.com/metalagman/lessonloop/internal/unit"
)

// UnitID returns the identifier of the unit at position within docID.
func UnitID(docID string, position int) string {
	return fmt.Sprintf("%s/u%02d", docID, position)
}

// Decompose returns one unit per section in section order. Each unit carries
// the document context and the number its first item takes in the merged
// document.
func Decompose(spec content.CompositeSpec) ([]unit.Spec, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	docCtx := spec.Context()
	units := make([]unit.Spec, 0, len(spec.Sections))
	next := 1
	for i, section := range spec.Sections {
		position := i + 1
		units = append(units, unit.Spec{
			ID:          UnitID(spec.ID, position),
			DocumentID:  spec.ID,
			Position:    position,
			StartNumber: next,
			Section:     section.Clone(),
			Context:     docCtx,
		})
		next += section.Count
	}
	return units, nil
}

// Validate checks a composite spec for structural errors.
func Validate(spec content.CompositeSpec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return errs.NewValidationError("spec", "id", "empty")
	}
	if strings.ContainsAny(spec.ID, "/\\ ") {
		return errs.NewValidationError("spec", "id", "must not contain slashes or spaces")
	}
	switch spec.Kind {
	case "", content.KindExamPaper, content.KindLessonCards:
	default:
		return errs.NewValidationError("spec", "kind", fmt.Sprintf("unknown kind %q", spec.Kind))
	}
	for i, section := range spec.Sections {
		if err := validateSection(i, section); err != nil {
			return err
		}
	}
	return nil
}

func validateSection(i int, s content.SectionSpec) error {
	field := fmt.Sprintf("sections[%d]", i)
	if s.Count <= 0 {
		return errs.NewValidationError("spec", field+".count", "must be positive")
	}
	if strings.TrimSpace(s.ItemKind) == "" {
		return errs.NewValidationError("spec", field+".item_kind", "empty")
	}
	if s.PointsEach < 0 {
		return errs.NewValidationError("spec", field+".points_each", "negative")
	}
	if s.Figures < 0 || s.Figures > s.Count {
		return errs.NewValidationError("spec", field+".figures", "must be between 0 and count")
	}
	if len(s.Difficulty) == 0 {
		return nil
	}
	sum := 0
	for level, n := range s.Difficulty {
		switch level {
		case content.DifficultyEasy, content.DifficultyMedium, content.DifficultyHard:
		default:
			return errs.NewValidationError("spec", field+".difficulty", fmt.Sprintf("unknown level %q", level))
		}
		if n < 0 {
			return errs.NewValidationError("spec", field+".difficulty."+level, "negative")
		}
		sum += n
	}
	if sum != s.Count {
		return errs.NewValidationError("spec", field+".difficulty", fmt.Sprintf("mix sums to %d, want %d", sum, s.Count))
	}
	return nil
}
