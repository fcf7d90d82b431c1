package watch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Watcher turns filesystem notifications for one directory into queued
// requests. It never blocks on the queue: requests that find it full wait in
// a backlog that is forwarded as room frees up.
type Watcher struct {
	dir       string
	filter    *Filter
	debouncer *Debouncer
	queue     *Queue
	overflow  *backlog
	settle    time.Duration
	now       func() time.Time

	fsw *fsnotify.Watcher
}

// NewWatcher starts watching dir. Events are delivered once Run is called.
func NewWatcher(dir string, f *Filter, d *Debouncer, q *Queue, settle time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "watch: create watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "watch: add %s", dir)
	}
	return &Watcher{
		dir:       dir,
		filter:    f,
		debouncer: d,
		queue:     q,
		overflow:  newBacklog(),
		settle:    settle,
		now:       time.Now,
		fsw:       fsw,
	}, nil
}

// Run delivers events until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close() //nolint:errcheck

	forwarded := make(chan struct{})
	defer func() { <-forwarded }()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(forwarded)
		w.overflow.forward(ctx, w.queue)
	}()

	zap.L().Info("watch: watching", zap.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("watch: notification error", zap.Error(err))
		}
	}
}

// handleEvent enqueues a request for create and write events on
// recognized files outside the debounce window.
func (w *Watcher) handleEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if !w.filter.Match(ev.Name) || !w.debouncer.Accept(ev.Name) {
		return false
	}
	zap.L().Info("watch: new document", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
	req := Request{Path: ev.Name, ReadyAt: w.now().Add(w.settle)}
	if !w.queue.TryEnqueue(req) {
		w.overflow.add(req)
		zap.L().Warn("watch: queue full, request deferred",
			zap.String("path", req.Path),
			zap.Int("waiting", w.overflow.len()),
		)
	}
	return true
}
