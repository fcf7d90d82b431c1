package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/model"
)

var (
	listJSON      bool
	readSection   string
	readRender    bool
	summaryRender bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List papers in the library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Library.List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if listJSON {
			return writeJSON(w, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(w, "No papers in library yet.")
			fmt.Fprintf(w, "\nAdd PDFs to: %s\nThen run: paper-cli watch --once\n", cfg.Paths.Papers)
			return nil
		}
		fmt.Fprintf(w, "Papers in library (%d):\n\n", len(entries))
		for _, e := range entries {
			fmt.Fprintf(w, "  [%s%s%s] %s\n",
				statusMark(e.Stages[model.StageConvert]),
				statusMark(e.Stages[model.StageSummarize]),
				statusMark(e.Stages[model.StageIndex]),
				e.Document.ID)
		}
		fmt.Fprintln(w, "\n[convert summarize index]  ✓ done  ✗ failed  - skipped")
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <name>",
	Short: "Print the converted markdown of a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		doc, text, err := env.Library.Read(cmd.Context(), args[0], readSection)
		if err != nil {
			return err
		}
		if doc.ID != args[0] {
			fmt.Fprintf(os.Stderr, "(matched: %s)\n\n", doc.ID)
		}
		return printMarkdown(cmd.OutOrStdout(), text, readRender)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <name>",
	Short: "Print the generated summary of a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		doc, b, err := env.Library.Summary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if doc.ID != args[0] {
			fmt.Fprintf(os.Stderr, "(matched: %s)\n\n", doc.ID)
		}
		return printMarkdown(cmd.OutOrStdout(), string(b), summaryRender)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	readCmd.Flags().StringVarP(&readSection, "section", "s", "", "only print the section whose heading contains this text")
	readCmd.Flags().BoolVar(&readRender, "render", false, "render markdown for the terminal")
	summaryCmd.Flags().BoolVar(&summaryRender, "render", false, "render markdown for the terminal")
	rootCmd.AddCommand(listCmd, readCmd, summaryCmd)
}
