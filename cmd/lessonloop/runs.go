package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/metalagman/lessonloop/internal/db"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var (
		documentID string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), documentID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs")
				return nil
			}
			fmt.Println(runsTable(runs))
			return nil
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "only list runs of this document")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.AddCommand(runsShowCmd())
	return cmd
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the timeline and unit iterations of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(runsTable([]db.RunInfo{run}))

			events, err := store.Events(ctx, run.RunID)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Printf("%3d %s %-15s %s\n", ev.Seq, ev.TS.Local().Format(time.TimeOnly), ev.Type, ev.Message)
			}

			its, err := store.Iterations(ctx, run.RunID)
			if err != nil {
				return err
			}
			if len(its) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(its))
			for _, it := range its {
				rows = append(rows, []string{
					strconv.Itoa(it.Pass), it.UnitID, strconv.Itoa(it.Iteration), it.Directive, it.Decision,
					fmt.Sprintf("%.2f", it.Score), fmt.Sprintf("%.2f", it.Threshold), it.Error,
				})
			}
			fmt.Println(table.New().
				Border(lipgloss.NormalBorder()).
				Headers("PASS", "UNIT", "ITER", "DIRECTIVE", "DECISION", "SCORE", "THRESHOLD", "ERROR").
				Rows(rows...).
				String())
			return nil
		},
	}
}

func runsTable(runs []db.RunInfo) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := ""
		if !r.EndedAt.IsZero() {
			duration = r.EndedAt.Sub(r.CreatedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.RunID, r.DocumentID, r.Status, strconv.Itoa(r.Passes),
			fmt.Sprintf("%.2f", r.BestScore), r.CreatedAt.Local().Format(time.DateTime), duration, r.Reason,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "DOCUMENT", "STATUS", "PASSES", "BEST", "STARTED", "DURATION", "REASON").
		Rows(rows...).
		String()
}
