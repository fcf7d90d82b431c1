package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/paper-cli/internal/config"
	"github.com/sells-group/paper-cli/internal/index"
	"github.com/sells-group/paper-cli/internal/library"
	"github.com/sells-group/paper-cli/internal/llm"
	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/ocr"
	"github.com/sells-group/paper-cli/internal/pipeline"
	"github.com/sells-group/paper-cli/internal/resilience"
	"github.com/sells-group/paper-cli/internal/stage"
	"github.com/sells-group/paper-cli/internal/store"
	"github.com/sells-group/paper-cli/internal/verify"
)

// appEnv holds the store and the remote clients shared by the commands.
type appEnv struct {
	Store   store.Store
	Index   index.Client
	Library *library.Library

	llmClients map[string]llm.Client
	closers    []func() error
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initEnv opens the store and builds the index client. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, llmClients: make(map[string]llm.Client)}
	env.closers = append(env.closers, st.Close)

	idx, closeIdx, err := index.New(ctx, cfg.Google.Key, index.Config{
		Model:        cfg.Index.Model,
		PollInterval: seconds(cfg.Index.PollIntervalSecs),
	})
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init index client")
	}
	if cfg.Google.Key == "" {
		zap.L().Debug("GOOGLE_API_KEY not set, indexing and search disabled")
	}
	env.Index = idx
	env.closers = append(env.closers, closeIdx)
	env.Library = library.New(st, idx)
	return env, nil
}

// openStore opens the ledger configured in c and the file store around it.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	ledgerCfg := store.LedgerConfig{
		Driver:      c.Store.Driver,
		SQLitePath:  c.Paths.StateDB,
		DatabaseURL: c.Store.DatabaseURL,
	}
	if c.Store.MaxConns > 0 || c.Store.MinConns > 0 {
		ledgerCfg.Pool = &store.PoolConfig{MaxConns: c.Store.MaxConns, MinConns: c.Store.MinConns}
	}
	ledger, err := store.OpenLedger(ctx, ledgerCfg)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}
	st, err := store.NewFileStore(store.Layout{
		Papers:    c.Paths.Papers,
		Markdown:  c.Paths.Markdown,
		Summaries: c.Paths.Summaries,
	}, ledger)
	if err != nil {
		ledger.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// llmClient returns the shared client for model, creating it on first use.
func (e *appEnv) llmClient(model string) llm.Client {
	if c, ok := e.llmClients[model]; ok {
		return c
	}
	if cfg.Anthropic.Key == "" {
		zap.L().Debug("ANTHROPIC_API_KEY not set, summaries and verification disabled")
	}
	temp := 0.0
	c := llm.New(cfg.Anthropic.Key, llm.Config{
		Model:             model,
		RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
		FailureThreshold:  cfg.Anthropic.CircuitFailureThreshold,
		ResetTimeout:      seconds(cfg.Anthropic.CircuitResetSecs),
		Temperature:       &temp,
	})
	e.llmClients[model] = c
	return c
}

// executors builds the Convert, Summarize and Index executors in order.
func (e *appEnv) executors() ([]stage.Executor, error) {
	extractor, err := ocr.NewExtractor(cfg.Converter, cfg.Mistral.Model, ocr.Keys{
		Google:  cfg.Google.Key,
		Mistral: cfg.Mistral.Key,
	})
	if err != nil {
		return nil, err
	}
	return []stage.Executor{
		&stage.Convert{
			Extractor: extractor,
			Options:   ocr.OptionsFrom(cfg.Converter),
			Timeout:   seconds(cfg.Converter.TimeoutSecs),
		},
		&stage.Summarize{
			LLM:            e.llmClient(cfg.Summarizer.Model),
			Model:          cfg.Summarizer.Model,
			MaxTokens:      cfg.Summarizer.MaxTokens,
			MaxInputChars:  cfg.Summarizer.MaxInputChars,
			PromptTemplate: cfg.Summarizer.PromptTemplate,
			Timeout:        seconds(cfg.Summarizer.TimeoutSecs),
		},
		&stage.Index{
			Client:  e.Index,
			Timeout: seconds(cfg.Index.TimeoutSecs),
		},
	}, nil
}

// controller builds a pipeline controller over the environment's store.
func (e *appEnv) controller(opts pipeline.Options) (*pipeline.Controller, error) {
	execs, err := e.executors()
	if err != nil {
		return nil, err
	}
	return pipeline.New(e.Store, execs, opts), nil
}

// verifier builds the verification engine.
func (e *appEnv) verifier() *verify.Engine {
	return verify.New(e.llmClient(cfg.Verify.Model), verify.Config{
		MaxDocChars: cfg.Verify.MaxDocChars,
		MaxTokens:   cfg.Verify.MaxTokens,
		Timeout:     seconds(cfg.Verify.TimeoutSecs),
		Retry:       resilience.RetryConfig{MaxAttempts: 3},
	})
}

// stageFlags are the pipeline flags shared by watch and process.
type stageFlags struct {
	force       bool
	retryFailed bool
	noSummary   bool
	upload      bool
}

// options maps flags and config onto controller options. Index runs only
// when uploads are requested.
func (f stageFlags) options() pipeline.Options {
	stages := []model.Stage{model.StageConvert}
	if cfg.Summarizer.Enabled && !f.noSummary {
		stages = append(stages, model.StageSummarize)
	}
	if f.upload || cfg.Watcher.Upload {
		stages = append(stages, model.StageIndex)
	}
	return pipeline.Options{
		Force:       f.force,
		RetryFailed: f.retryFailed || cfg.Pipeline.RetryFailed,
		Stages:      stages,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
