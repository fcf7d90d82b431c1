package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/citation"
)

var citeJSON bool

var citeCmd = &cobra.Command{
	Use:   "cite <tex-dir> <bib-file>",
	Short: "Check that every LaTeX citation has a .bib entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := citation.Check(args[0], args[1])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if citeJSON {
			if err := writeJSON(w, report.Findings); err != nil {
				return err
			}
		} else {
			printCitationReport(w, report)
		}
		if missing := report.Missing(); len(missing) > 0 {
			return eris.Errorf("%d citation(s) missing from %s", len(missing), args[1])
		}
		return nil
	},
}

func printCitationReport(w io.Writer, r *citation.Report) {
	missing := r.Missing()
	fmt.Fprintf(w, "Found %d entries in bibliography\n\n", r.BibEntries)
	fmt.Fprintf(w, "Total citations: %d\n", len(r.Findings))
	fmt.Fprintf(w, "  Found in .bib: %d\n", len(r.Findings)-len(missing))
	fmt.Fprintf(w, "  Missing from .bib: %d\n", len(missing))
	if len(missing) == 0 {
		fmt.Fprintln(w, "\nAll citations found in .bib file.")
		return
	}
	fmt.Fprintln(w, "\nMISSING CITATIONS:")
	for _, f := range missing {
		preview := strings.ReplaceAll(f.Context, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50] + "..."
		}
		fmt.Fprintf(w, "  %-24s %s:%d  %s\n", f.Key, filepath.Base(f.File), f.Line, preview)
	}
}

func init() {
	citeCmd.Flags().BoolVar(&citeJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(citeCmd)
}
