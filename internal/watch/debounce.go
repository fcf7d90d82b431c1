package watch

import (
	"path/filepath"
	"sync"
	"time"
)

// Debouncer suppresses repeat events for the same file inside a window.
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewDebouncer creates a Debouncer. A nil now uses time.Now.
func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{window: window, now: now, last: make(map[string]time.Time)}
}

// Accept records an event for path and reports whether it should be
// processed. Suppressed events do not extend the window.
func (d *Debouncer) Accept(path string) bool {
	key := fileKey(path)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if seen, ok := d.last[key]; ok && now.Sub(seen) < d.window {
		return false
	}
	d.last[key] = now
	if len(d.last) > 4096 {
		d.prune(now)
	}
	return true
}

func (d *Debouncer) prune(now time.Time) {
	for k, t := range d.last {
		if now.Sub(t) >= d.window {
			delete(d.last, k)
		}
	}
}

func fileKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
