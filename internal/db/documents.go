package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/lessonloop/internal/merge"
)

// DocumentInfo is the listing view of a stored document.
type DocumentInfo struct {
	ID          string
	Title       string
	Kind        string
	RunID       string
	Score       float64
	TotalItems  int
	TotalPoints float64
	UpdatedAt   time.Time
}

// StoredDocument is a stored document with its rendered markdown.
type StoredDocument struct {
	DocumentInfo
	Document merge.Document
	Markdown string
}

// PutDocument inserts or replaces the document. runID may be empty.
func (s *Store) PutDocument(ctx context.Context, doc merge.Document, runID string, score float64) error {
	body, err := doc.JSON()
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin put document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(document_id, title, kind, run_id, score, total_items, total_points, body_json, markdown, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			title=excluded.title, kind=excluded.kind, run_id=excluded.run_id, score=excluded.score,
			total_items=excluded.total_items, total_points=excluded.total_points,
			body_json=excluded.body_json, markdown=excluded.markdown, updated_at=excluded.updated_at`,
		doc.ID, doc.Title, doc.Kind, nullableString(runID), score, doc.Summary.TotalItems, doc.Summary.TotalPoints,
		string(body), doc.Markdown(), formatTime(time.Now())); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	if runID != "" {
		data, _ := json.Marshal(map[string]any{"document_id": doc.ID, "score": score, "items": doc.Summary.TotalItems})
		if err := s.insertEvent(ctx, tx, runID, Event{Type: "document_saved", Message: "document saved", DataJSON: string(data)}); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put document: %w", err)
	}
	return nil
}

// DocumentExists reports whether a document with id is stored.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE document_id=?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return n > 0, nil
}

// GetDocument loads a stored document.
func (s *Store) GetDocument(ctx context.Context, id string) (StoredDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document_id, title, kind, COALESCE(run_id, ''), score, total_items, total_points, updated_at, body_json, markdown
		FROM documents WHERE document_id=?`, id)
	var (
		out       StoredDocument
		updatedAt string
		body      string
	)
	err := row.Scan(&out.ID, &out.Title, &out.Kind, &out.RunID, &out.Score, &out.TotalItems, &out.TotalPoints, &updatedAt, &body, &out.Markdown)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredDocument{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return StoredDocument{}, fmt.Errorf("read document %s: %w", id, err)
	}
	out.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(body), &out.Document); err != nil {
		return StoredDocument{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return out, nil
}

// ListDocuments returns every stored document ordered by id.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id, title, kind, COALESCE(run_id, ''), score, total_items, total_points, updated_at
		FROM documents ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DocumentInfo
	for rows.Next() {
		var (
			info      DocumentInfo
			updatedAt string
		)
		if err := rows.Scan(&info.ID, &info.Title, &info.Kind, &info.RunID, &info.Score, &info.TotalItems, &info.TotalPoints, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		info.UpdatedAt = parseTime(updatedAt)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
