package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/lessonloop/internal/batch"
	"github.com/metalagman/lessonloop/internal/logging"
	"github.com/metalagman/lessonloop/internal/orchestrator"
	"github.com/metalagman/lessonloop/internal/tui"
	"github.com/spf13/cobra"
)

var errLocked = errors.New("another lessonloop process is writing documents")

func runCmd() *cobra.Command {
	var useTUI bool
	cmd := &cobra.Command{
		Use:   "run <spec.yaml>",
		Short: "Author the document described by a composite spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, root, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			lock, ok, err := batch.TryAcquireLock(stateDir(root))
			if err != nil {
				return err
			}
			if !ok {
				return errLocked
			}
			defer func() { _ = lock.Release() }()

			if useTUI {
				logFile, err := os.OpenFile(filepath.Join(stateDir(root), "tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open tui log: %w", err)
				}
				defer func() { _ = logFile.Close() }()
				logging.Setup(logging.Options{Debug: debug, Out: logFile, NoColor: true})
			}

			p, err := newPipeline(cmd.Context(), root, cfg, store)
			if err != nil {
				return err
			}

			var outcome orchestrator.Outcome
			if useTUI {
				outcome, err = tui.Run(cmd.Context(), args[0], func(ctx context.Context, progress *tui.Progress) (orchestrator.Outcome, error) {
					return p.runSpec(ctx, args[0], observers{unit: progress.Unit, pass: progress.Pass})
				})
			} else {
				outcome, err = p.runSpec(cmd.Context(), args[0], observers{})
			}
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			printOutcome(outcome)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show live progress in the terminal")
	return cmd
}

func printOutcome(outcome orchestrator.Outcome) {
	fmt.Printf("%s: %s after %d passes, score %.2f\n", outcome.DocumentID, outcome.Reason, len(outcome.Passes), outcome.BestScore)
	if outcome.Best != nil {
		s := outcome.Best.Summary
		fmt.Printf("%d items, %s points, %d figures\n", s.TotalItems, formatFloat(s.TotalPoints), s.Figures)
	}
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
