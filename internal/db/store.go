package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusAccepted    = "accepted"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// ErrNotFound is returned when a document or run does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for documents and runs.
type Store struct {
	db *sql.DB
}

// NewStore creates a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NewRunID returns a sortable run id such as 20260101-120000-a1b2c3.
func NewRunID() (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s", ts, suffix), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Event is a timeline entry of a run.
type Event struct {
	Seq      int
	TS       time.Time
	Type     string
	Message  string
	DataJSON string
}

// RunInfo is one row of the runs table.
type RunInfo struct {
	RunID      string
	DocumentID string
	SpecPath   string
	CreatedAt  time.Time
	EndedAt    time.Time
	Status     string
	Passes     int
	BestScore  float64
	Reason     string
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID, documentID, specPath string) error {
	createdAt := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, document_id, spec_path, created_at, status)
		VALUES(?, ?, ?, ?, ?)`,
		runID, documentID, specPath, createdAt, StatusRunning); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, Event{Type: "run_started", Message: "run started for " + documentID}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// FinishRun marks a run as ended with status and reason.
func (s *Store) FinishRun(ctx context.Context, runID, status, reason string) error {
	endedAt := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, reason=?, ended_at=? WHERE run_id=?`,
		status, nullableString(reason), endedAt, runID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	if err := s.insertEvent(ctx, tx, runID, Event{Type: "run_finished", Message: "run " + status}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, document_id, spec_path, created_at, ended_at, status, passes, best_score, reason
		FROM runs WHERE run_id=?`, runID)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return info, err
}

// ListRuns returns runs newest first. An empty documentID lists every run and
// a non-positive limit means no limit.
func (s *Store) ListRuns(ctx context.Context, documentID string, limit int) ([]RunInfo, error) {
	query := `SELECT run_id, document_id, spec_path, created_at, ended_at, status, passes, best_score, reason FROM runs`
	var args []any
	if documentID != "" {
		query += ` WHERE document_id=?`
		args = append(args, documentID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Events returns the timeline of a run in order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, COALESCE(data_json, '') FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &ev.Message, &ev.DataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS = parseTime(ts)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunInfo, error) {
	var (
		info            RunInfo
		createdAt       string
		endedAt, reason sql.NullString
	)
	if err := row.Scan(&info.RunID, &info.DocumentID, &info.SpecPath, &createdAt, &endedAt, &info.Status, &info.Passes, &info.BestScore, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunInfo{}, err
		}
		return RunInfo{}, fmt.Errorf("scan run: %w", err)
	}
	info.CreatedAt = parseTime(createdAt)
	info.EndedAt = parseTime(endedAt.String)
	info.Reason = reason.String
	return info, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID string, ev Event) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, ts, ev.Type, ev.Message, nullableString(ev.DataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
