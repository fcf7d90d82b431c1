// Package watch produces "document available" requests from a catch-up
// scan of the papers directory and from filesystem notifications.
package watch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/paper-cli/internal/model"
)

// Config describes what to watch and how requests are paced.
type Config struct {
	Dir             string
	Extensions      []string
	Ignore          []string
	Debounce        time.Duration
	Settle          time.Duration
	QueueSize       int
	Workers         int
	ProcessExisting bool
}

// Source wires the catch-up scan, the watcher and the dispatcher.
type Source struct {
	cfg    Config
	filter *Filter
}

// New validates cfg.
func New(cfg Config) (*Source, error) {
	if cfg.Dir == "" {
		return nil, eris.New("watch: no directory configured")
	}
	f, err := NewFilter(cfg.Extensions, cfg.Ignore)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: cfg, filter: f}, nil
}

// Filter returns the file filter in use.
func (s *Source) Filter() *Filter { return s.filter }

// Run watches the directory and hands requests to h until ctx ends. With
// ProcessExisting set, every present document is queued first in filename
// order. The watcher is registered before the scan so no file slips
// between the two.
func (s *Source) Run(ctx context.Context, h Handler) error {
	queue := NewQueue(s.cfg.QueueSize)
	w, err := NewWatcher(s.cfg.Dir, s.filter, NewDebouncer(s.cfg.Debounce, nil), queue, s.cfg.Settle)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return NewDispatcher(queue, h, s.cfg.Workers).Run(ctx) })

	if s.cfg.ProcessExisting {
		paths, err := Scan(s.cfg.Dir, s.filter)
		if err != nil {
			zap.L().Error("watch: catch-up scan failed", zap.Error(err))
		}
		zap.L().Info("watch: catch-up", zap.Int("documents", len(paths)))
		for _, p := range paths {
			if err := queue.Enqueue(ctx, Request{Path: p}); err != nil {
				break
			}
		}
	}

	return g.Wait()
}

// Once processes every present document in filename order and returns the
// collected reports. A process error stops the pass.
func (s *Source) Once(ctx context.Context, process func(ctx context.Context, path string) (*model.RunReport, error)) (*model.BatchReport, error) {
	paths, err := Scan(s.cfg.Dir, s.filter)
	if err != nil {
		return nil, err
	}

	batch := &model.BatchReport{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return batch, eris.Wrap(err, "watch: catch-up interrupted")
		}
		r, err := process(ctx, p)
		if r != nil {
			batch.Runs = append(batch.Runs, *r)
		}
		if err != nil {
			return batch, err
		}
	}
	return batch, nil
}
