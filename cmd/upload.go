package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/pipeline"
	"github.com/sells-group/paper-cli/internal/watch"
)

var uploadForce bool

var uploadCmd = &cobra.Command{
	Use:   "upload [name]",
	Short: "Upload one paper, or every paper, to the search index",
	Long: "Runs the index stage, converting first where needed. Without a name every PDF " +
		"in the papers folder is uploaded.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ctrl, err := env.controller(uploadOptions(uploadForce))
		if err != nil {
			return err
		}

		var batch *model.BatchReport
		if len(args) == 1 {
			doc, err := env.Library.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			batch, err = ctrl.ProcessAll(ctx, []model.Document{*doc}, 1)
			if err != nil {
				return err
			}
		} else {
			src, err := newSource()
			if err != nil {
				return err
			}
			paths, err := watch.Scan(cfg.Paths.Papers, src.Filter())
			if err != nil {
				return err
			}
			if batch, err = ctrl.ProcessPaths(ctx, paths, cfg.Pipeline.Concurrency); err != nil {
				return err
			}
		}
		return finishBatch(cmd.OutOrStdout(), batch)
	},
}

// uploadOptions converts only where needed; --force re-uploads without
// converting again.
func uploadOptions(force bool) pipeline.Options {
	opts := pipeline.Options{Stages: []model.Stage{model.StageConvert, model.StageIndex}}
	if force {
		opts.ForceStages = []model.Stage{model.StageIndex}
	}
	return opts
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadForce, "force", false, "upload again even if already indexed")
	rootCmd.AddCommand(uploadCmd)
}
