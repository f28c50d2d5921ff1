// Package quality holds the acceptance threshold schedule and the decision
// policy applied to every critique.
package quality

import (
	"fmt"

	"github.com/metalagman/lessonloop/internal/errs"
)

// Default schedule values.
var (
	DefaultTable = []float64{0.85, 0.85, 0.80, 0.75}
	DefaultFloor = 0.70
)

// Schedule maps an iteration number to the minimum acceptance score.
// Early iterations use the table; later ones use the floor.
type Schedule struct {
	table []float64
	floor float64
}

// NewSchedule validates and builds a schedule. The table must be
// non-increasing, within [0,1], and never below the floor.
func NewSchedule(table []float64, floor float64) (Schedule, error) {
	if floor < 0 || floor > 1 {
		return Schedule{}, errs.NewValidationError("threshold schedule", "floor", fmt.Sprintf("%.2f outside [0,1]", floor))
	}
	for i, v := range table {
		field := fmt.Sprintf("schedule[%d]", i)
		if v < 0 || v > 1 {
			return Schedule{}, errs.NewValidationError("threshold schedule", field, fmt.Sprintf("%.2f outside [0,1]", v))
		}
		if i > 0 && v > table[i-1] {
			return Schedule{}, errs.NewValidationError("threshold schedule", field, "must not increase")
		}
		if v < floor {
			return Schedule{}, errs.NewValidationError("threshold schedule", field, fmt.Sprintf("%.2f below floor %.2f", v, floor))
		}
	}
	return Schedule{table: append([]float64(nil), table...), floor: floor}, nil
}

// DefaultSchedule returns the built-in schedule.
func DefaultSchedule() Schedule {
	s, err := NewSchedule(DefaultTable, DefaultFloor)
	if err != nil {
		panic(err)
	}
	return s
}

// Threshold returns the minimum acceptance score for the iteration.
// Iterations below 1 are treated as 1.
func (s Schedule) Threshold(iteration int) float64 {
	if iteration < 1 {
		iteration = 1
	}
	if iteration <= len(s.table) {
		return s.table[iteration-1]
	}
	return s.floor
}

// Floor returns the value used beyond the table.
func (s Schedule) Floor() float64 {
	return s.floor
}

// Start returns the threshold of the first iteration.
func (s Schedule) Start() float64 {
	return s.Threshold(1)
}
