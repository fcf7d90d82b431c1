package watch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one file. Errors are logged; they never stop the
// dispatcher.
type Handler func(ctx context.Context, path string) error

// Dispatcher drains a Queue with a fixed number of workers.
type Dispatcher struct {
	queue   *Queue
	handler Handler
	workers int
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher with at least one worker.
func NewDispatcher(q *Queue, h Handler, workers int) *Dispatcher {
	return &Dispatcher{queue: q, handler: h, workers: max(workers, 1), now: time.Now}
}

// Run consumes requests until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range d.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case req := <-d.queue.ch:
					if !d.settle(ctx, req.ReadyAt) {
						return nil
					}
					d.handle(ctx, req.Path)
				}
			}
		})
	}
	return g.Wait()
}

// settle waits until readyAt; it returns false if ctx ended first.
func (d *Dispatcher) settle(ctx context.Context, readyAt time.Time) bool {
	wait := readyAt.Sub(d.now())
	if wait <= 0 {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Dispatcher) handle(ctx context.Context, path string) {
	log := zap.L().With(zap.String("path", path))
	defer func() {
		if r := recover(); r != nil {
			log.Error("watch: handler panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	start := d.now()
	if err := d.handler(ctx, path); err != nil {
		log.Error("watch: processing failed", zap.Error(err))
		return
	}
	log.Debug("watch: processed", zap.Int64("duration_ms", d.now().Sub(start).Milliseconds()))
}
