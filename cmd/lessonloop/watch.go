package main

import (
	"context"
	"fmt"
	"time"

	"github.com/metalagman/lessonloop/internal/batch"
	"github.com/metalagman/lessonloop/internal/logging"
	"github.com/metalagman/lessonloop/internal/watch"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Regenerate documents when spec files in a directory change",
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
			p, err := newPipeline(cmd.Context(), root, cfg, store)
			if err != nil {
				return err
			}

			w, err := watch.New(logging.Component("watch"), debounce)
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			return w.Run(cmd.Context(), args[0], func(ctx context.Context, path string) error {
				lock, err := batch.AcquireLock(stateDir(root))
				if err != nil {
					return err
				}
				defer func() { _ = lock.Release() }()

				outcome, err := p.runSpec(ctx, path, observers{})
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				printOutcome(outcome)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed spec is run")
	return cmd
}
