// Package pipeline drives documents through the Convert, Summarize and
// Index stages, skipping work already recorded in the store.
package pipeline

import (
	"context"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/paper-cli/internal/model"
	"github.com/sells-group/paper-cli/internal/stage"
	"github.com/sells-group/paper-cli/internal/store"
)

// Options control what a controller pass attempts.
type Options struct {
	// Force re-runs every enabled stage that is already Done.
	Force bool
	// ForceStages re-runs only the named stages when they are Done.
	ForceStages []model.Stage
	// RetryFailed re-attempts stages whose last failure was permanent.
	RetryFailed bool
	// Stages limits which stages may run; nil enables all.
	Stages []model.Stage
}

func (o Options) enabled(st model.Stage) bool {
	return o.Stages == nil || slices.Contains(o.Stages, st)
}

func (o Options) forced(st model.Stage) bool {
	return o.Force || slices.Contains(o.ForceStages, st)
}

// Controller is the only writer of stage artifacts.
type Controller struct {
	store     store.Store
	executors []stage.Executor
	opts      Options
	now       func() time.Time
	locks     docLocks
}

// New creates a Controller. Executors run in the order given.
func New(st store.Store, executors []stage.Executor, opts Options) *Controller {
	return &Controller{store: st, executors: executors, opts: opts, now: time.Now}
}

// docLocks serializes runs of the same document.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	sync.Mutex
	waiters int
}

func (l *docLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*docLock)
	}
	dl, ok := l.locks[id]
	if !ok {
		dl = &docLock{}
		l.locks[id] = dl
	}
	dl.waiters++
	l.mu.Unlock()

	dl.Lock()
	return func() {
		dl.Unlock()
		l.mu.Lock()
		if dl.waiters--; dl.waiters == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// ProcessPath registers the file at path and processes it.
func (c *Controller) ProcessPath(ctx context.Context, path string) (*model.RunReport, error) {
	doc, err := c.store.Register(ctx, model.NewDocument(path, c.now()))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: register %s", path)
	}
	return c.Process(ctx, doc)
}

// Process runs one pass over doc. Stage failures are reported in the
// RunReport; only store errors are returned. A second pass over the same
// document waits for the first to finish.
func (c *Controller) Process(ctx context.Context, doc model.Document) (*model.RunReport, error) {
	unlock := c.locks.lock(doc.ID)
	defer unlock()

	report := &model.RunReport{
		RunID:      uuid.NewString(),
		DocumentID: doc.ID,
		SourcePath: doc.SourcePath,
		StartedAt:  c.now().UTC(),
	}
	log := zap.L().With(zap.String("document", doc.ID), zap.String("run_id", report.RunID))
	log.Info("pipeline: starting run")

	current := make(map[model.Stage]*model.Artifact, len(c.executors))
	for _, ex := range c.executors {
		a, err := c.store.GetArtifact(ctx, doc.ID, ex.Stage())
		if err != nil {
			return c.abort(report, log, eris.Wrapf(err, "pipeline: load %s artifact for %s", ex.Stage(), doc.ID))
		}
		current[ex.Stage()] = a
	}

	steps := Plan(c.executors, current, c.opts, sourceModified(doc.SourcePath))
	halted := false
	for i, step := range steps {
		if halted {
			report.Outcomes = append(report.Outcomes, blocked(step.Stage, "an earlier stage failed"))
			continue
		}
		if err := ctx.Err(); err != nil {
			for _, rest := range steps[i:] {
				report.Outcomes = append(report.Outcomes, blocked(rest.Stage, "interrupted"))
			}
			break
		}
		switch step.Action {
		case ActionNotRequested:
			report.Outcomes = append(report.Outcomes, model.StageOutcome{Stage: step.Stage, State: model.OutcomeNotRequested})
		case ActionCached:
			report.Outcomes = append(report.Outcomes, model.StageOutcome{Stage: step.Stage, State: model.OutcomeCached})
		case ActionSticky:
			a := current[step.Stage]
			report.Outcomes = append(report.Outcomes, model.StageOutcome{
				Stage:       step.Stage,
				State:       model.OutcomeFailed,
				FailureKind: a.FailureKind,
				Error:       a.Error,
			})
			halted = true
		case ActionRun:
			if dep, ok := missingDependency(step.Executor, current); ok {
				report.Outcomes = append(report.Outcomes, blocked(step.Stage, string(dep)+" is not done"))
				continue
			}
			outcome, err := c.runStage(ctx, log, doc, step.Executor, current)
			if err != nil {
				return c.abort(report, log, err)
			}
			report.Outcomes = append(report.Outcomes, outcome)
			if outcome.State == model.OutcomeFailed {
				halted = true
			}
		}
	}

	report.FinishedAt = c.now().UTC()
	log.Info("pipeline: run complete",
		zap.Int("calls", report.Calls()),
		zap.Bool("failed", report.Failed()),
		zap.Int64("duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds()),
	)
	return report, nil
}

// runStage invokes one executor and persists its artifact. The call runs
// detached from ctx cancellation so an in-flight stage finishes or hits its
// own timeout.
func (c *Controller) runStage(
	ctx context.Context,
	log *zap.Logger,
	doc model.Document,
	ex stage.Executor,
	current map[model.Stage]*model.Artifact,
) (model.StageOutcome, error) {
	st := ex.Stage()
	callCtx := context.WithoutCancel(ctx)
	in := stage.Input{
		Upstream: current,
		ReadContent: func(ctx context.Context, s model.Stage) ([]byte, error) {
			return c.store.ReadContent(ctx, doc.ID, s)
		},
	}

	start := c.now()
	res := ex.Run(callCtx, doc, in)
	duration := c.now().Sub(start).Milliseconds()

	outcome := model.StageOutcome{Stage: st, Attempted: true, DurationMs: duration, FailureKind: res.FailureKind}
	if res.Err != nil {
		outcome.Error = res.Err.Error()
	}

	art := model.Artifact{
		DocumentID:  doc.ID,
		Stage:       st,
		Status:      res.Status,
		FailureKind: res.FailureKind,
		Error:       outcome.Error,
		Ref:         res.Ref,
		Metadata:    res.Metadata,
		ProducedAt:  c.now().UTC(),
	}

	switch res.Status {
	case model.ArtifactDone:
		outcome.State = model.OutcomeDone
		log.Info("pipeline: stage done", zap.String("stage", string(st)), zap.Int64("duration_ms", duration))
	case model.ArtifactSkipped:
		outcome.State = model.OutcomeSkipped
		log.Warn("pipeline: stage skipped", zap.String("stage", string(st)), zap.String("error", outcome.Error))
	default:
		outcome.State = model.OutcomeFailed
		log.Error("pipeline: stage failed",
			zap.String("stage", string(st)),
			zap.String("failure_kind", string(res.FailureKind)),
			zap.Int64("duration_ms", duration),
			zap.String("error", outcome.Error),
		)
		art.Status = model.ArtifactFailed
	}

	// A forced re-run that does not succeed keeps the previous output.
	if prev := current[st]; prev.Done() && art.Status != model.ArtifactDone {
		return outcome, nil
	}

	if err := c.store.PutArtifact(callCtx, art, res.Content); err != nil {
		return outcome, eris.Wrapf(err, "pipeline: persist %s artifact for %s", st, doc.ID)
	}
	persisted, err := c.store.GetArtifact(callCtx, doc.ID, st)
	if err != nil {
		return outcome, eris.Wrapf(err, "pipeline: reload %s artifact for %s", st, doc.ID)
	}
	current[st] = persisted
	return outcome, nil
}

// sourceModified returns the source file's modification time, or the zero
// time when it cannot be read.
func sourceModified(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (c *Controller) abort(report *model.RunReport, log *zap.Logger, err error) (*model.RunReport, error) {
	report.Err = err.Error()
	report.FinishedAt = c.now().UTC()
	log.Error("pipeline: run aborted", zap.Error(err))
	return report, err
}

// ProcessAll processes documents in ID order with at most concurrency runs
// in flight. Duplicate IDs are processed once. A document's stage failures
// never stop the batch; a store error does.
func (c *Controller) ProcessAll(ctx context.Context, docs []model.Document, concurrency int) (*model.BatchReport, error) {
	docs = slices.Clone(docs)
	slices.SortFunc(docs, func(a, b model.Document) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	docs = slices.CompactFunc(docs, func(a, b model.Document) bool { return a.ID == b.ID })

	reports := make([]*model.RunReport, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, doc := range docs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := c.Process(gctx, doc)
			reports[i] = r
			return err
		})
	}
	err := g.Wait()

	batch := &model.BatchReport{}
	for _, r := range reports {
		if r != nil {
			batch.Runs = append(batch.Runs, *r)
		}
	}
	return batch, err
}

// ProcessPaths registers every path and processes the resulting documents.
func (c *Controller) ProcessPaths(ctx context.Context, paths []string, concurrency int) (*model.BatchReport, error) {
	docs := make([]model.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := c.store.Register(ctx, model.NewDocument(p, c.now()))
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: register %s", p)
		}
		docs = append(docs, doc)
	}
	return c.ProcessAll(ctx, docs, concurrency)
}

func blocked(st model.Stage, reason string) model.StageOutcome {
	return model.StageOutcome{Stage: st, State: model.OutcomeBlocked, Error: reason}
}

func missingDependency(ex stage.Executor, current map[model.Stage]*model.Artifact) (model.Stage, bool) {
	for _, dep := range ex.Depends() {
		if !current[dep].Done() {
			return dep, true
		}
	}
	return "", false
}
