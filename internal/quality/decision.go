package quality

import (
	"fmt"
	"strings"
)

// Decision is the outcome of a critique, either as signalled by the critic or
// as applied by the policy.
type Decision string

const (
	DecisionAccept          Decision = "ACCEPT"
	DecisionAcceptWithNotes Decision = "ACCEPT_WITH_NOTES"
	DecisionRefine          Decision = "REFINE"
	DecisionReject          Decision = "REJECT"
	DecisionFail            Decision = "FAIL"
)

// ParseDecision normalizes a critic-supplied decision value.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DecisionAccept, DecisionAcceptWithNotes, DecisionRefine, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// Success reports whether the decision ends the loop successfully.
func (d Decision) Success() bool {
	return d == DecisionAccept || d == DecisionAcceptWithNotes
}

// Terminal reports whether the decision ends the loop.
func (d Decision) Terminal() bool {
	return d.Success() || d == DecisionFail
}

// Scoring dimensions every critique reports.
const (
	DimensionAccuracy  = "accuracy"
	DimensionAlignment = "alignment"
	DimensionClarity   = "clarity"
	DimensionFormat    = "format"
)

// Dimensions lists the scoring dimensions in report order.
var Dimensions = []string{DimensionAccuracy, DimensionAlignment, DimensionClarity, DimensionFormat}

// Critique is a quality judgement produced by a critic.
type Critique struct {
	Decision        Decision           `json:"decision"`
	FinalScore      float64            `json:"final_score"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Strengths       []string           `json:"strengths,omitempty"`
	Improvements    []string           `json:"improvements,omitempty"`
	SpecificChanges []string           `json:"specific_changes,omitempty"`
	CriticalIssues  []string           `json:"critical_issues,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// Decide classifies a critique. critErr is the error returned by the critic
// call; any critic failure yields DecisionFail.
func Decide(c *Critique, critErr error, threshold float64) Decision {
	if critErr != nil || c == nil {
		return DecisionFail
	}
	switch c.Decision {
	case DecisionAccept, DecisionAcceptWithNotes:
		return DecisionAccept
	case DecisionReject:
		return DecisionReject
	case DecisionRefine:
		if c.FinalScore >= threshold && len(c.CriticalIssues) == 0 {
			return DecisionAccept
		}
		return DecisionRefine
	default:
		return DecisionFail
	}
}
