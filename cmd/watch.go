package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/monitoring"
	"github.com/sells-group/paper-cli/internal/watch"
)

var (
	watchFlags stageFlags
	watchOnce  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the papers folder and process new PDFs",
	Long: "Processes the PDFs already in the papers folder, then watches it for new files. " +
		"With --once the existing files are processed in filename order and the command exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(cfg.Paths.Papers, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", cfg.Paths.Papers)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ctrl, err := env.controller(watchFlags.options())
		if err != nil {
			return err
		}
		src, err := newSource()
		if err != nil {
			return err
		}

		if watchOnce {
			batch, err := src.Once(ctx, ctrl.ProcessPath)
			if err != nil {
				return err
			}
			return finishBatch(cmd.OutOrStdout(), batch)
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		zap.L().Info("watching for papers", zap.String("dir", cfg.Paths.Papers))
		return src.Run(ctx, func(ctx context.Context, path string) error {
			report, err := ctrl.ProcessPath(ctx, path)
			if err != nil {
				return err
			}
			printRunReport(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

// newSource builds the event source from the watcher config.
func newSource() (*watch.Source, error) {
	return watch.New(watch.Config{
		Dir:             cfg.Paths.Papers,
		Extensions:      cfg.Watcher.Extensions,
		Ignore:          cfg.Watcher.Ignore,
		Debounce:        millis(cfg.Watcher.DebounceMs),
		Settle:          millis(cfg.Watcher.SettleMs),
		QueueSize:       cfg.Watcher.QueueSize,
		Workers:         cfg.Watcher.Workers,
		ProcessExisting: cfg.Watcher.ProcessExisting,
	})
}

func init() {
	addStageFlags(watchCmd, &watchFlags)
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "process existing files once and exit")
	rootCmd.AddCommand(watchCmd)
}
