package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/watch"
)

var processFlags stageFlags

var processCmd = &cobra.Command{
	Use:   "process [pdf...]",
	Short: "Run the pipeline over the given PDFs, or every PDF in the papers folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ctrl, err := env.controller(processFlags.options())
		if err != nil {
			return err
		}

		paths := args
		if len(paths) == 0 {
			src, err := newSource()
			if err != nil {
				return err
			}
			if paths, err = watch.Scan(cfg.Paths.Papers, src.Filter()); err != nil {
				return err
			}
		}

		batch, err := ctrl.ProcessPaths(ctx, paths, cfg.Pipeline.Concurrency)
		if err != nil {
			return err
		}
		return finishBatch(cmd.OutOrStdout(), batch)
	},
}

func addStageFlags(cmd *cobra.Command, f *stageFlags) {
	cmd.Flags().BoolVar(&f.force, "force", false, "re-run stages that already completed")
	cmd.Flags().BoolVar(&f.retryFailed, "retry-failed", false, "re-attempt stages that failed permanently")
	cmd.Flags().BoolVar(&f.noSummary, "no-summary", false, "skip the summarize stage")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "upload papers to the search index")
}

func init() {
	addStageFlags(processCmd, &processFlags)
	rootCmd.AddCommand(processCmd)
}
