package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	var (
		asJSON bool
		raw    bool
		width  int
	)
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Print a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			doc, err := store.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case asJSON:
				body, err := doc.Document.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(body))
				return nil
			case raw:
				fmt.Print(doc.Markdown)
				return nil
			}

			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
			if err != nil {
				return fmt.Errorf("create markdown renderer: %w", err)
			}
			out, err := r.Render(doc.Markdown)
			if err != nil {
				return fmt.Errorf("render markdown: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the document as JSON")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal styling")
	cmd.Flags().IntVar(&width, "width", 100, "wrap width")
	return cmd
}
