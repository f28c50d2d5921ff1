// Package scheduler runs unit controllers concurrently on a bounded pool.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/metalagman/lessonloop/internal/unit"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Runner drives one unit to a terminal state.
type Runner interface {
	Run(ctx context.Context, spec unit.Spec, seed unit.Directive) (unit.State, error)
}

// Options controls one RunAll call.
type Options struct {
	// MaxConcurrency bounds the number of units in flight. Zero or less means
	// one goroutine per unit.
	MaxConcurrency int
	// Filter selects the units to run. Units it rejects are returned from
	// Previous unchanged.
	Filter func(unit.Spec) bool
	// Previous holds earlier states keyed by unit ID.
	Previous map[string]unit.State
	// Seeds holds the first-attempt directive per unit ID.
	Seeds map[string]unit.Directive
}

// Scheduler fans units out to a Runner and collects their states in order.
type Scheduler struct {
	runner Runner
	logger zerolog.Logger
}

// New constructs a Scheduler.
func New(logger zerolog.Logger, runner Runner) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// RunAll runs every selected unit and returns one state per input unit, in
// input order. A failed unit never stops its siblings. A fatal runner error
// cancels the units still running and is returned together with the states
// collected so far.
func (s *Scheduler) RunAll(ctx context.Context, units []unit.Spec, opts Options) ([]unit.State, error) {
	states := make([]unit.State, len(units))
	selected := 0
	for i, spec := range units {
		if opts.Filter != nil && !opts.Filter(spec) {
			if prev, ok := opts.Previous[spec.ID]; ok {
				states[i] = prev
			} else {
				states[i] = unit.NewState(spec)
			}
			continue
		}
		selected++
	}
	if selected == 0 {
		return states, nil
	}

	limit := opts.MaxConcurrency
	if limit <= 0 || limit > selected {
		limit = selected
	}

	start := time.Now()
	s.logger.Info().Int("units", selected).Int("max_concurrency", limit).Msg("scheduling units")

	p := pool.New().WithContext(ctx).WithMaxGoroutines(limit).WithCancelOnError()
	for i, spec := range units {
		if opts.Filter != nil && !opts.Filter(spec) {
			continue
		}
		states[i] = unit.NewState(spec)
		seed := opts.Seeds[spec.ID]
		p.Go(func(ctx context.Context) error {
			st, err := s.runner.Run(ctx, spec, seed)
			states[i] = st
			if err != nil {
				return fmt.Errorf("run unit %s: %w", spec.ID, err)
			}
			return nil
		})
	}
	err := p.Wait()

	accepted := 0
	for _, st := range states {
		if st.Accepted() {
			accepted++
		}
	}
	s.logger.Info().
		Int("units", selected).
		Int("accepted", accepted).
		Dur("duration", time.Since(start)).
		Msg("units finished")

	if err != nil {
		return states, err
	}
	return states, nil
}

// Failed returns the IDs of states that are not accepted, in order.
func Failed(states []unit.State) []string {
	var out []string
	for _, st := range states {
		if !st.Accepted() {
			out = append(out, st.Spec.ID)
		}
	}
	return out
}
