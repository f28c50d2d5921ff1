package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// RetentionPolicy controls run cleanup.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
	// FigureDirs counts removed figure directories of documents that were
	// never stored and have no run left.
	FigureDirs int
}

// PruneRuns deletes old runs with their events and iterations. Running runs
// are always kept. Figure directories below figuresDir are removed for
// documents left without runs and without a stored document.
func (s *Store) PruneRuns(ctx context.Context, figuresDir string, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	runs, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(runs)}
	touched := map[string]struct{}{}
	for idx, run := range runs {
		keep := run.Status == StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 && (run.CreatedAt.IsZero() || run.CreatedAt.After(cutoff)) {
			keep = true
		}
		if keep {
			res.Kept++
			continue
		}
		res.Deleted++
		if dryRun {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, run.RunID); err != nil {
			return res, fmt.Errorf("delete run %s: %w", run.RunID, err)
		}
		log.Debug().Str("run_id", run.RunID).Str("document_id", run.DocumentID).Msg("pruned run")
		touched[run.DocumentID] = struct{}{}
	}

	if figuresDir == "" {
		return res, nil
	}
	for docID := range touched {
		orphan, err := s.orphaned(ctx, docID)
		if err != nil {
			return res, err
		}
		if !orphan {
			continue
		}
		dir := filepath.Join(figuresDir, docID)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			res.Skipped++
			log.Warn().Err(err).Str("dir", dir).Msg("remove figure dir")
			continue
		}
		res.FigureDirs++
	}
	return res, nil
}

func (s *Store) orphaned(ctx context.Context, docID string) (bool, error) {
	var runs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE document_id=?`, docID).Scan(&runs); err != nil {
		return false, fmt.Errorf("count runs of %s: %w", docID, err)
	}
	if runs > 0 {
		return false, nil
	}
	stored, err := s.DocumentExists(ctx, docID)
	if err != nil {
		return false, err
	}
	return !stored, nil
}
