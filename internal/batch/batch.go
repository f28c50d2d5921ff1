// Package batch plans and serializes runs over many composite specs.
package batch

import (
	"context"
	"fmt"
)

// Action is what a batch does with one spec.
type Action string

const (
	// ActionGenerate authors a document that is not stored yet.
	ActionGenerate Action = "GENERATE"
	// ActionSkip leaves an already stored document alone.
	ActionSkip Action = "SKIP"
	// ActionOverwrite regenerates and replaces a stored document.
	ActionOverwrite Action = "OVERWRITE"
)

// Entry is one planned spec.
type Entry struct {
	DocumentID string
	Path       string
	Action     Action
}

// Source is one spec to plan.
type Source struct {
	DocumentID string
	Path       string
}

// ExistsFunc reports whether a document is already stored.
type ExistsFunc func(ctx context.Context, documentID string) (bool, error)

// Plan decides an action for every source in order. A document id that
// appears twice is an error since both runs would write the same document.
func Plan(ctx context.Context, sources []Source, exists ExistsFunc, force bool) ([]Entry, error) {
	seen := make(map[string]string, len(sources))
	out := make([]Entry, 0, len(sources))
	for _, src := range sources {
		if prev, ok := seen[src.DocumentID]; ok {
			return nil, fmt.Errorf("document %s is defined by both %s and %s", src.DocumentID, prev, src.Path)
		}
		seen[src.DocumentID] = src.Path

		stored, err := exists(ctx, src.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", src.DocumentID, err)
		}
		action := ActionGenerate
		switch {
		case stored && force:
			action = ActionOverwrite
		case stored:
			action = ActionSkip
		}
		out = append(out, Entry{DocumentID: src.DocumentID, Path: src.Path, Action: action})
	}
	return out, nil
}

// Counts tallies the actions of a plan.
func Counts(entries []Entry) map[Action]int {
	out := map[Action]int{}
	for _, e := range entries {
		out[e.Action]++
	}
	return out
}
