package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/monitoring"
)

var (
	statusJSON     bool
	statusSummary  bool
	statusLookback int
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show per-stage status of one paper or the whole library",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if statusSummary {
			snap, err := monitoring.NewCollector(env.Store).Collect(ctx, statusLookback)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		}

		var ids []string
		if len(args) == 1 {
			doc, err := env.Library.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			ids = []string{doc.ID}
		} else {
			docs, err := env.Store.ListDocuments(ctx)
			if err != nil {
				return err
			}
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
		}

		type docStatus struct {
			ID        string           `json:"id"`
			Artifacts []model.Artifact `json:"artifacts"`
		}
		out := make([]docStatus, 0, len(ids))
		for _, id := range ids {
			arts, err := env.Store.ListArtifacts(ctx, id)
			if err != nil {
				return err
			}
			out = append(out, docStatus{ID: id, Artifacts: arts})
		}

		w := cmd.OutOrStdout()
		if statusJSON {
			return writeJSON(w, out)
		}
		for _, d := range out {
			printArtifacts(w, d.ID, d.Artifacts)
		}
		return nil
	},
}

func printArtifacts(w io.Writer, id string, arts []model.Artifact) {
	fmt.Fprintln(w, id)
	byStage := make(map[model.Stage]model.Artifact, len(arts))
	for _, a := range arts {
		byStage[a.Stage] = a
	}
	for _, st := range model.Stages {
		a, ok := byStage[st]
		if !ok {
			fmt.Fprintf(w, "  %-10s %s\n", st, model.ArtifactPending)
			continue
		}
		line := fmt.Sprintf("  %-10s %-8s %s", st, a.Status, a.ProducedAt.Local().Format("2006-01-02 15:04"))
		if a.FailureKind != model.FailureNone {
			line += fmt.Sprintf(" [%s] %s", a.FailureKind, a.Error)
		}
		fmt.Fprintln(w, line)
	}
}

func printSnapshot(w io.Writer, snap *monitoring.MetricsSnapshot) {
	fmt.Fprintf(w, "%d document(s)\n", snap.Documents)
	fmt.Fprintf(w, "  %-10s %6s %6s %7s %7s %6s %6s\n", "stage", "done", "failed", "skipped", "pending", "fail%", "recent")
	for _, st := range model.Stages {
		m := snap.Stages[st]
		fmt.Fprintf(w, "  %-10s %6d %6d %7d %7d %5.1f%% %6d\n",
			st, m.Done, m.Failed, m.Skipped, m.Pending, m.FailRate*100, m.Recent)
	}
	for _, st := range model.Stages {
		if n := snap.Unconfigured[st]; n > 0 {
			fmt.Fprintf(w, "  %s skipped for a missing API key: %d\n", st, n)
		}
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&statusSummary, "summary", false, "show per-stage counts for the whole library")
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 24, "hours counted as recent in --summary")
	rootCmd.AddCommand(statusCmd)
}
