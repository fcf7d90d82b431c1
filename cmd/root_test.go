package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/paper-cli/internal/citation"
	"github.com/sells-group/paper-cli/internal/config"
	"github.com/sells-group/paper-cli/internal/fetcher"
	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/monitoring"
	"github.com/sells-group/paper-cli/internal/verify"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"watch", "process", "status", "list", "read", "summary", "verify", "find", "upload", "cite", "serve", "mcp", "download"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "paper-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestWatchCommand_Flags(t *testing.T) {
	for _, name := range []string{"once", "force", "retry-failed", "no-summary", "upload"} {
		require.NotNil(t, watchCmd.Flags().Lookup(name), "watch should have --%s", name)
	}
	assert.Equal(t, "false", watchCmd.Flags().Lookup("once").DefValue)
}

func TestReadCommand_Flags(t *testing.T) {
	f := readCmd.Flags().Lookup("section")
	require.NotNil(t, f)
	assert.Equal(t, "s", f.Shorthand)
	require.NotNil(t, readCmd.Flags().Lookup("render"))
	require.NotNil(t, summaryCmd.Flags().Lookup("render"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestMCPCommand_HasServe(t *testing.T) {
	var names []string
	for _, c := range mcpCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestStageFlags_Options(t *testing.T) {
	withConfig(t, &config.Config{Summarizer: config.SummarizerConfig{Enabled: true}})

	opts := stageFlags{}.options()
	assert.Equal(t, []model.Stage{model.StageConvert, model.StageSummarize}, opts.Stages)
	assert.False(t, opts.Force)

	opts = stageFlags{upload: true, noSummary: true, force: true}.options()
	assert.Equal(t, []model.Stage{model.StageConvert, model.StageIndex}, opts.Stages)
	assert.True(t, opts.Force)

	cfg.Watcher.Upload = true
	cfg.Pipeline.RetryFailed = true
	opts = stageFlags{}.options()
	assert.Equal(t, []model.Stage{model.StageConvert, model.StageSummarize, model.StageIndex}, opts.Stages)
	assert.True(t, opts.RetryFailed)

	cfg.Summarizer.Enabled = false
	assert.NotContains(t, stageFlags{}.options().Stages, model.StageSummarize)
}

func TestUploadOptions(t *testing.T) {
	opts := uploadOptions(false)
	assert.Equal(t, []model.Stage{model.StageConvert, model.StageIndex}, opts.Stages)
	assert.Empty(t, opts.ForceStages)

	opts = uploadOptions(true)
	assert.False(t, opts.Force)
	assert.Equal(t, []model.Stage{model.StageIndex}, opts.ForceStages)
}

func TestFinishBatch(t *testing.T) {
	ok := model.RunReport{DocumentID: "vaswani2017", Outcomes: []model.StageOutcome{
		{Stage: model.StageConvert, State: model.OutcomeCached},
		{Stage: model.StageSummarize, State: model.OutcomeDone, Attempted: true},
	}}
	var buf bytes.Buffer
	require.NoError(t, finishBatch(&buf, &model.BatchReport{Runs: []model.RunReport{ok}}))
	assert.Contains(t, buf.String(), "vaswani2017")
	assert.Contains(t, buf.String(), "1 document(s) processed, 0 with failures")

	bad := model.RunReport{DocumentID: "broken", Outcomes: []model.StageOutcome{
		{Stage: model.StageConvert, State: model.OutcomeFailed, FailureKind: model.FailurePermanent, Error: "empty text"},
		{Stage: model.StageSummarize, State: model.OutcomeBlocked, Error: "convert did not complete"},
	}}
	buf.Reset()
	err := finishBatch(&buf, &model.BatchReport{Runs: []model.RunReport{ok, bad}})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "[permanent] empty text")
	assert.Contains(t, buf.String(), "2 document(s) processed, 1 with failures")
}

func TestPrintVerdict(t *testing.T) {
	quote := "28.4 BLEU"
	var buf bytes.Buffer
	printVerdict(&buf, &verify.DocumentResult{
		Document: model.Document{ID: "vaswani2017"},
		Claim:    "achieves 28.4 BLEU",
		Verdict:  model.Verdict{Verdict: model.VerdictVerified, Confidence: 0.92, Quote: &quote, Notes: "exact"},
	})
	out := buf.String()
	assert.Contains(t, out, "VERIFIED")
	assert.Contains(t, out, "Confidence: 92%")
	assert.Contains(t, out, "28.4 BLEU")

	buf.Reset()
	printVerdict(&buf, &verify.DocumentResult{Verdict: model.Verdict{Verdict: model.VerdictInconclusive}})
	assert.Contains(t, buf.String(), "UNCLEAR")
	assert.Contains(t, buf.String(), "(none found)")
}

func TestCiteCommand_MissingKeysFail(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.tex"), []byte(`See \cite{known,unknown}.`), 0o644))
	bib := filepath.Join(dir, "refs.bib")
	require.NoError(t, os.WriteFile(bib, []byte("@article{known,\n}\n"), 0o644))

	report, err := citation.Check(dir, bib)
	require.NoError(t, err)

	var buf bytes.Buffer
	printCitationReport(&buf, report)
	assert.Contains(t, buf.String(), "Missing from .bib: 1")
	assert.Contains(t, buf.String(), "unknown")

	var out bytes.Buffer
	citeCmd.SetOut(&out)
	t.Cleanup(func() { citeCmd.SetOut(nil) })
	err = citeCmd.RunE(citeCmd, []string{dir, bib})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 citation(s) missing")
}

func TestPrintArtifacts(t *testing.T) {
	var buf bytes.Buffer
	printArtifacts(&buf, "vaswani2017", []model.Artifact{
		{Stage: model.StageConvert, Status: model.ArtifactDone, ProducedAt: time.Now()},
		{Stage: model.StageIndex, Status: model.ArtifactSkipped, FailureKind: model.FailureConfiguration, Error: "no key"},
	})
	out := buf.String()
	assert.Contains(t, out, "vaswani2017")
	assert.Contains(t, out, "summarize  pending")
	assert.Contains(t, out, "[configuration] no key")
}

func TestPrintSnapshot(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		Documents: 2,
		Stages: map[model.Stage]*monitoring.StageMetrics{
			model.StageConvert:   {Done: 2},
			model.StageSummarize: {Done: 1, Failed: 1, FailRate: 0.5},
			model.StageIndex:     {Skipped: 2},
		},
		Unconfigured: map[model.Stage]int{model.StageIndex: 2},
	}
	var buf bytes.Buffer
	printSnapshot(&buf, snap)
	out := buf.String()
	assert.Contains(t, out, "2 document(s)")
	assert.Contains(t, out, " 50.0%")
	assert.Contains(t, out, "index skipped for a missing API key: 2")
}

func TestStatusCommand_Flags(t *testing.T) {
	for _, name := range []string{"json", "summary", "lookback"} {
		assert.NotNil(t, statusCmd.Flags().Lookup(name), name)
	}
}

func TestPrintMarkdown_Plain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMarkdown(&buf, "# Title", false))
	assert.Equal(t, "# Title\n", buf.String())
}

func TestStatusMark(t *testing.T) {
	assert.Equal(t, "✓", statusMark(model.ArtifactDone))
	assert.Equal(t, "✗", statusMark(model.ArtifactFailed))
	assert.Equal(t, "-", statusMark(model.ArtifactSkipped))
	assert.Equal(t, " ", statusMark(model.ArtifactPending))
}

func TestOpenStore_SQLite(t *testing.T) {
	dir := t.TempDir()
	c := &config.Config{
		Paths: config.PathsConfig{
			Papers:    filepath.Join(dir, "papers"),
			Markdown:  filepath.Join(dir, "markdown"),
			Summaries: filepath.Join(dir, "summaries"),
			StateDB:   filepath.Join(dir, "state", "state.db"),
		},
		Store: config.StoreConfig{Driver: "sqlite"},
	}
	st, err := openStore(t.Context(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	doc, err := st.Register(t.Context(), model.NewDocument(filepath.Join(dir, "papers", "a.pdf"), time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID)
	assert.DirExists(t, filepath.Join(dir, "markdown"))
	assert.FileExists(t, filepath.Join(dir, "state", "state.db"))
}

func TestDownloadCommand_Subcommands(t *testing.T) {
	var names []string
	for _, c := range downloadCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"url", "arxiv", "doi", "scholar"}, names)

	for _, name := range []string{"json", "process", "force", "no-summary", "upload"} {
		assert.NotNil(t, downloadCmd.PersistentFlags().Lookup(name), name)
	}
	f := downloadURLCmd.Flags().Lookup("name")
	require.NotNil(t, f)
	assert.Equal(t, "n", f.Shorthand)
}

func TestPrintDownload(t *testing.T) {
	var buf bytes.Buffer
	printDownload(&buf, &fetcher.Result{
		Path:  "/papers/Vaswani2017_Attention.pdf",
		Bytes: 2048,
		Paper: &fetcher.Paper{Title: "Attention Is All You Need", FirstAuthor: "Vaswani", Year: "2017"},
	})
	assert.Equal(t, "Attention Is All You Need (Vaswani 2017)\nsaved /papers/Vaswani2017_Attention.pdf (2048 bytes)\n", buf.String())

	buf.Reset()
	printDownload(&buf, &fetcher.Result{Path: "/papers/a.pdf", Existed: true})
	assert.Equal(t, "already downloaded: /papers/a.pdf\n", buf.String())
}

func TestDownloadURLCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4\n%%EOF\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	withConfig(t, &config.Config{
		Paths:    config.PathsConfig{Papers: dir},
		Download: config.DownloadConfig{UserAgent: "test", TimeoutSecs: 5, MaxRetries: 1},
	})

	var out bytes.Buffer
	downloadURLCmd.SetOut(&out)
	downloadURLCmd.SetContext(context.Background())
	t.Cleanup(func() { downloadURLCmd.SetOut(nil) })

	require.NoError(t, downloadURLCmd.RunE(downloadURLCmd, []string{srv.URL + "/files/resnet.pdf"}))
	assert.FileExists(t, filepath.Join(dir, "resnet.pdf"))
	assert.Contains(t, out.String(), "saved "+filepath.Join(dir, "resnet.pdf"))
}
