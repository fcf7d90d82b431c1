package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Request asks for one file to be processed no earlier than ReadyAt.
type Request struct {
	Path    string
	ReadyAt time.Time
}

// Queue is a bounded FIFO between event detection and processing.
type Queue struct {
	ch      chan Request
	dropped atomic.Int64
}

// NewQueue creates a queue holding at most size requests.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Request, max(size, 1))}
}

// TryEnqueue adds r without blocking and reports whether there was room.
func (q *Queue) TryEnqueue(r Request) bool {
	select {
	case q.ch <- r:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Enqueue adds r, waiting for room until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, r Request) error {
	select {
	case q.ch <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts requests TryEnqueue found no room for.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Len is the number of waiting requests.
func (q *Queue) Len() int { return len(q.ch) }

// backlog holds requests the queue had no room for, one per file, until a
// forwarder can hand them over.
type backlog struct {
	mu      sync.Mutex
	pending []Request
	queued  map[string]bool
	ready   chan struct{}
}

func newBacklog() *backlog {
	return &backlog{queued: make(map[string]bool), ready: make(chan struct{}, 1)}
}

// add keeps r unless a request for the same file is already waiting.
func (b *backlog) add(r Request) {
	b.mu.Lock()
	key := fileKey(r.Path)
	if !b.queued[key] {
		b.queued[key] = true
		b.pending = append(b.pending, r)
	}
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *backlog) pop() (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return Request{}, false
	}
	r := b.pending[0]
	b.pending = b.pending[1:]
	delete(b.queued, fileKey(r.Path))
	return r, true
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// forward moves waiting requests into q in arrival order, blocking on q,
// until ctx ends.
func (b *backlog) forward(ctx context.Context, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ready:
		}
		for {
			r, ok := b.pop()
			if !ok {
				break
			}
			if err := q.Enqueue(ctx, r); err != nil {
				return
			}
		}
	}
}
