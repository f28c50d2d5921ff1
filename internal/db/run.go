package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/metalagman/lessonloop/internal/merge"
	"github.com/metalagman/lessonloop/internal/orchestrator"
	"github.com/metalagman/lessonloop/internal/scheduler"
	"github.com/metalagman/lessonloop/internal/unit"
)

// Run records one orchestrator run. It implements orchestrator.Storage and
// orchestrator.Recorder.
type Run struct {
	store *Store
	id    string
}

// Run returns the recorder of an existing run.
func (s *Store) Run(runID string) *Run {
	return &Run{store: s, id: runID}
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// SaveDocument stores the accepted document under this run.
func (r *Run) SaveDocument(ctx context.Context, doc merge.Document, outcome orchestrator.Outcome) error {
	return r.store.PutDocument(ctx, doc, r.id, outcome.BestScore)
}

type passEvent struct {
	Pass        int      `json:"pass"`
	Decision    string   `json:"decision"`
	Score       float64  `json:"score"`
	Threshold   float64  `json:"threshold"`
	Regenerated []string `json:"regenerated"`
	FailedUnits []string `json:"failed_units,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// RecordPass stores the iterations of every unit regenerated in the pass and a
// pass_finished event, and advances the run counters.
func (r *Run) RecordPass(ctx context.Context, docID string, pass orchestrator.Pass) error {
	ev := passEvent{
		Pass:        pass.Number,
		Decision:    string(pass.Decision),
		Score:       pass.Score(),
		Threshold:   pass.Threshold,
		Regenerated: pass.Regenerated,
		FailedUnits: scheduler.Failed(pass.Units),
	}
	if pass.Err != nil {
		ev.Error = pass.Err.Error()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode pass event: %w", err)
	}

	s := r.store
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record pass: %w", err)
	}
	for _, st := range pass.Units {
		if !slices.Contains(pass.Regenerated, st.Spec.ID) {
			continue
		}
		if err := insertIterations(ctx, tx, r.id, pass.Number, st); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	msg := fmt.Sprintf("%s pass %d: %s", docID, pass.Number, pass.Decision)
	if err := s.insertEvent(ctx, tx, r.id, Event{Type: "pass_finished", Message: msg, DataJSON: string(data)}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET passes=?, best_score=MAX(best_score, ?) WHERE run_id=?`,
		pass.Number, pass.Score(), r.id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record pass: %w", err)
	}
	return nil
}

func insertIterations(ctx context.Context, tx *sql.Tx, runID string, pass int, st unit.State) error {
	for _, rec := range st.History {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode iteration %s/%d: %w", st.Spec.ID, rec.Iteration, err)
		}
		var errText string
		if rec.Err != nil {
			errText = rec.Err.Error()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO unit_iterations(run_id, pass, unit_id, iteration, directive, decision, score, threshold, error, record_json)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, pass, st.Spec.ID, rec.Iteration, unit.DirectiveKind(rec.Directive), string(rec.Decision),
			rec.Score(), rec.Threshold, nullableString(errText), string(body)); err != nil {
			return fmt.Errorf("insert iteration %s/%d: %w", st.Spec.ID, rec.Iteration, err)
		}
	}
	return nil
}

// Iteration is one stored unit iteration.
type Iteration struct {
	Pass       int
	UnitID     string
	Iteration  int
	Directive  string
	Decision   string
	Score      float64
	Threshold  float64
	Error      string
	RecordJSON string
}

// Iterations returns the unit iterations of a run ordered by pass, unit and
// iteration.
func (s *Store) Iterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pass, unit_id, iteration, directive, decision, score, threshold, COALESCE(error, ''), record_json
		FROM unit_iterations WHERE run_id=? ORDER BY pass, unit_id, iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		if err := rows.Scan(&it.Pass, &it.UnitID, &it.Iteration, &it.Directive, &it.Decision, &it.Score, &it.Threshold, &it.Error, &it.RecordJSON); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iterations: %w", err)
	}
	return out, nil
}

// Status maps an orchestrator outcome and error to a run status.
func Status(outcome orchestrator.Outcome, err error) string {
	switch {
	case err == nil && outcome.Success:
		return StatusAccepted
	case outcome.Reason == orchestrator.ReasonInterrupted:
		return StatusInterrupted
	default:
		return StatusFailed
	}
}
