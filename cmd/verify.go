package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/verify"
)

var verifyJSON bool

var verifyCmd = &cobra.Command{
	Use:   "verify <paper> <claim>",
	Short: "Check whether a paper supports a claim",
	Long:  "Asks the model whether the converted text of <paper> supports <claim>. Exits non-zero when the claim is refuted.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.verifier().VerifyDocument(cmd.Context(), env.Library, args[0], args[1])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if verifyJSON {
			if err := writeJSON(w, res); err != nil {
				return err
			}
		} else {
			printVerdict(w, res)
		}
		if res.Verdict.Verdict == model.VerdictRefuted {
			return eris.Errorf("claim not supported by %s", res.Document.ID)
		}
		return nil
	},
}

func printVerdict(w io.Writer, res *verify.DocumentResult) {
	fmt.Fprintf(w, "Verifying claim against: %s\n\n", res.Document.ID)
	switch res.Verdict.Verdict {
	case model.VerdictVerified:
		fmt.Fprintln(w, "VERIFIED")
	case model.VerdictRefuted:
		fmt.Fprintln(w, "NOT VERIFIED")
	default:
		fmt.Fprintln(w, "UNCLEAR")
	}
	fmt.Fprintf(w, "Confidence: %.0f%%\n\n", res.Verdict.Confidence*100)
	fmt.Fprintf(w, "Claim:\n  %s\n\n", res.Claim)
	quote := "(none found)"
	if res.Verdict.Quote != nil {
		quote = *res.Verdict.Quote
	}
	fmt.Fprintf(w, "Supporting quote:\n  %s\n\n", quote)
	fmt.Fprintf(w, "Notes: %s\n", res.Verdict.Notes)
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(verifyCmd)
}
