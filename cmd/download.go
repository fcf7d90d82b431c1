package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/paper-cli/internal/fetcher"
	"github.com/sells-group/paper-cli/internal/resilience"
)

var (
	downloadName    string
	downloadJSON    bool
	downloadProcess bool
	downloadFlags   stageFlags
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a paper into the papers folder",
	Long: "Fetches a PDF from a direct URL, arXiv, a DOI (open access via Unpaywall) or " +
		"Semantic Scholar. A running watcher picks the file up; --process runs the pipeline now.",
}

func downloadRunner(fetch func(ctx context.Context, d *fetcher.Downloader, arg string) (*fetcher.Result, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := fetch(ctx, newDownloader(), args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if downloadJSON {
			if err := writeJSON(w, res); err != nil {
				return err
			}
		} else {
			printDownload(w, res)
		}
		if !downloadProcess {
			return nil
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		ctrl, err := env.controller(downloadFlags.options())
		if err != nil {
			return err
		}
		report, err := ctrl.ProcessPath(ctx, res.Path)
		if err != nil {
			return err
		}
		printRunReport(w, report)
		if report.Failed() {
			return eris.Errorf("%s: a stage failed", report.DocumentID)
		}
		return nil
	}
}

func newDownloader() *fetcher.Downloader {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Download.UserAgent,
		Timeout:      seconds(cfg.Download.TimeoutSecs),
		Retry:        resilience.RetryConfig{MaxAttempts: cfg.Download.MaxRetries + 1},
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
	return fetcher.NewDownloader(f, cfg.Paths.Papers, cfg.Download.Email, fetcher.DefaultEndpoints())
}

func printDownload(w io.Writer, r *fetcher.Result) {
	if r.Paper != nil && r.Paper.Title != "" {
		fmt.Fprintf(w, "%s (%s %s)\n", r.Paper.Title, r.Paper.FirstAuthor, r.Paper.Year)
	}
	if r.Existed {
		fmt.Fprintf(w, "already downloaded: %s\n", r.Path)
		return
	}
	fmt.Fprintf(w, "saved %s (%d bytes)\n", r.Path, r.Bytes)
}

var downloadURLCmd = &cobra.Command{
	Use:   "url <pdf-url>",
	Short: "Download from a direct PDF URL",
	Args:  cobra.ExactArgs(1),
	RunE: downloadRunner(func(ctx context.Context, d *fetcher.Downloader, arg string) (*fetcher.Result, error) {
		return d.URL(ctx, arg, downloadName)
	}),
}

var downloadArxivCmd = &cobra.Command{
	Use:   "arxiv <id>",
	Short: "Download from arXiv, e.g. 1706.03762",
	Args:  cobra.ExactArgs(1),
	RunE: downloadRunner(func(ctx context.Context, d *fetcher.Downloader, arg string) (*fetcher.Result, error) {
		return d.Arxiv(ctx, arg)
	}),
}

var downloadDOICmd = &cobra.Command{
	Use:   "doi <doi>",
	Short: "Download the open access version of a DOI",
	Args:  cobra.ExactArgs(1),
	RunE: downloadRunner(func(ctx context.Context, d *fetcher.Downloader, arg string) (*fetcher.Result, error) {
		return d.DOI(ctx, arg)
	}),
}

var downloadScholarCmd = &cobra.Command{
	Use:   "scholar <paper-id-or-url>",
	Short: "Download the open access PDF listed by Semantic Scholar",
	Args:  cobra.ExactArgs(1),
	RunE: downloadRunner(func(ctx context.Context, d *fetcher.Downloader, arg string) (*fetcher.Result, error) {
		return d.Scholar(ctx, arg)
	}),
}

func init() {
	downloadURLCmd.Flags().StringVarP(&downloadName, "name", "n", "", "output file name without .pdf")
	downloadCmd.PersistentFlags().BoolVar(&downloadJSON, "json", false, "output as JSON")
	downloadCmd.PersistentFlags().BoolVar(&downloadProcess, "process", false, "run the pipeline on the downloaded paper")
	downloadCmd.PersistentFlags().BoolVar(&downloadFlags.force, "force", false, "re-run stages that already completed")
	downloadCmd.PersistentFlags().BoolVar(&downloadFlags.noSummary, "no-summary", false, "skip the summarize stage")
	downloadCmd.PersistentFlags().BoolVar(&downloadFlags.upload, "upload", false, "upload the paper to the search index")
	downloadCmd.AddCommand(downloadURLCmd, downloadArxivCmd, downloadDOICmd, downloadScholarCmd)
	rootCmd.AddCommand(downloadCmd)
}
