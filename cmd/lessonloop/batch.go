package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/metalagman/lessonloop/internal/batch"
	"github.com/metalagman/lessonloop/internal/content"
	"github.com/metalagman/lessonloop/internal/watch"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func batchCmd() *cobra.Command {
	var (
		force  bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "batch <spec.yaml|dir>...",
		Short: "Author several documents one after another",
		Long:  "Author every listed spec, or every spec file in a listed directory. Documents already stored are skipped unless --force is set.",
		Args:  cobra.MinimumNArgs(1),
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

			paths, err := expandSpecs(args)
			if err != nil {
				return err
			}
			sources := make([]batch.Source, 0, len(paths))
			for _, path := range paths {
				spec, err := content.LoadSpec(path)
				if err != nil {
					return err
				}
				sources = append(sources, batch.Source{DocumentID: spec.ID, Path: path})
			}
			plan, err := batch.Plan(cmd.Context(), sources, store.DocumentExists, force)
			if err != nil {
				return err
			}
			for _, e := range plan {
				fmt.Printf("%-9s %s (%s)\n", e.Action, e.DocumentID, e.Path)
			}
			if dryRun {
				return nil
			}

			lock, err := batch.AcquireLock(stateDir(root))
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			p, err := newPipeline(cmd.Context(), root, cfg, store)
			if err != nil {
				return err
			}
			var failed []string
			for _, e := range plan {
				if e.Action == batch.ActionSkip {
					continue
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				outcome, err := p.runSpec(cmd.Context(), e.Path, observers{})
				if err != nil {
					log.Error().Err(err).Str("document_id", e.DocumentID).Msg("document failed")
					failed = append(failed, e.DocumentID)
					continue
				}
				printOutcome(outcome)
			}
			counts := batch.Counts(plan)
			log.Info().
				Int("generated", counts[batch.ActionGenerate]+counts[batch.ActionOverwrite]-len(failed)).
				Int("skipped", counts[batch.ActionSkip]).
				Int("failed", len(failed)).
				Msg("batch finished")
			if len(failed) > 0 {
				return fmt.Errorf("%d documents failed: %v", len(failed), failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate documents that are already stored")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without running it")
	return cmd
}

// expandSpecs replaces directories by the spec files they contain.
func expandSpecs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && watch.IsSpecFile(e.Name()) {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	return out, nil
}
