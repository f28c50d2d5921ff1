// Package content defines the composite document specification authors write
// and the artifact shape generators return.
package content

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Document kinds.
const (
	KindExamPaper   = "exam_paper"
	KindLessonCards = "lesson_cards"
)

// Difficulty levels used in difficulty mixes and items.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// CompositeSpec describes one document to author.
type CompositeSpec struct {
	ID       string        `yaml:"id"       json:"id"`
	Kind     string        `yaml:"kind"     json:"kind"`
	Title    string        `yaml:"title"    json:"title"`
	Subject  string        `yaml:"subject"  json:"subject"`
	Grade    int           `yaml:"grade"    json:"grade"`
	Language string        `yaml:"language" json:"language,omitempty"`
	Sections []SectionSpec `yaml:"sections" json:"sections"`
}

// SectionSpec describes one logical subsection of a document.
type SectionSpec struct {
	Title        string         `yaml:"title"        json:"title"`
	ItemKind     string         `yaml:"item_kind"    json:"item_kind"`
	Count        int            `yaml:"count"        json:"count"`
	PointsEach   float64        `yaml:"points_each"  json:"points_each,omitempty"`
	Topics       []string       `yaml:"topics"       json:"topics,omitempty"`
	Difficulty   map[string]int `yaml:"difficulty"   json:"difficulty,omitempty"`
	Instructions string         `yaml:"instructions" json:"instructions,omitempty"`
	Figures      int            `yaml:"figures"      json:"figures,omitempty"`
}

// Clone returns a deep copy of the section.
func (s SectionSpec) Clone() SectionSpec {
	out := s
	out.Topics = slices.Clone(s.Topics)
	if s.Difficulty != nil {
		out.Difficulty = make(map[string]int, len(s.Difficulty))
		for k, v := range s.Difficulty {
			out.Difficulty[k] = v
		}
	}
	return out
}

// Context returns the document-level context shared with every unit.
func (c CompositeSpec) Context() DocumentContext {
	kind := c.Kind
	if kind == "" {
		kind = KindExamPaper
	}
	return DocumentContext{
		DocumentID: c.ID,
		Kind:       kind,
		Title:      c.Title,
		Subject:    c.Subject,
		Grade:      c.Grade,
		Language:   c.Language,
		TotalUnits: len(c.Sections),
	}
}

// DocumentContext is the read-only document information a unit needs to be
// generated standalone.
type DocumentContext struct {
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Subject    string `json:"subject"`
	Grade      int    `json:"grade"`
	Language   string `json:"language,omitempty"`
	TotalUnits int    `json:"total_units"`
}

// ParseSpec decodes a composite spec from YAML.
func ParseSpec(data []byte) (CompositeSpec, error) {
	var spec CompositeSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return CompositeSpec{}, fmt.Errorf("parse spec: %w", err)
	}
	return spec, nil
}

// LoadSpec reads a composite spec YAML file.
func LoadSpec(path string) (CompositeSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CompositeSpec{}, fmt.Errorf("read spec: %w", err)
	}
	spec, err := ParseSpec(data)
	if err != nil {
		return CompositeSpec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}
