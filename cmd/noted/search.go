package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"noted/internal/index"
)

func newSearchCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search notes by lexical BM25, raw token match, or semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			query := args[0]

			switch mode {
			case "", "lexical":
				results, err := e.BM25.Score(ctx, index.Tokenize(query), 1.5, 0.75)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Printf("%.4f  %s\n", r.Score, r.NoteID)
				}
			case "token":
				ids, err := e.Lexical.Search(ctx, query)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
			case "semantic":
				vec, err := e.Sync.EmbedderHandle().Embed(ctx, query)
				if err != nil {
					return err
				}
				for _, n := range e.Vectors.KNN(vec, 10) {
					fmt.Printf("%.4f  %s\n", n.Distance, n.NoteID)
				}
			default:
				return fmt.Errorf("unknown search mode %q (expected lexical, token, or semantic)", mode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "lexical", "lexical, token, or semantic")
	return cmd
}
