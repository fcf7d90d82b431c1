package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	findTop  int
	findJSON bool
)

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search indexed papers by meaning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		top := findTop
		if top == 0 {
			top = cfg.Index.TopK
		}
		hits, err := env.Library.Find(cmd.Context(), args[0], top)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if findJSON {
			return writeJSON(w, hits)
		}
		if len(hits) == 0 {
			fmt.Fprintln(w, "No relevant papers found.")
			return nil
		}
		fmt.Fprintf(w, "Found %d relevant papers:\n\n", len(hits))
		for i, h := range hits {
			fmt.Fprintf(w, "%d. %s (relevance: %.2f)\n", i+1, h.DocumentID, h.Score)
			if h.Reason != "" {
				fmt.Fprintf(w, "   %s\n", h.Reason)
			}
		}
		fmt.Fprintln(w, "\nUse 'paper-cli read <name>' or 'paper-cli summary <name>' for details.")
		return nil
	},
}

func init() {
	findCmd.Flags().IntVarP(&findTop, "top", "n", 0, "number of results (default from config, max 20)")
	findCmd.Flags().BoolVar(&findJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(findCmd)
}
