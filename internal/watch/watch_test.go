package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/paper-cli/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func defaultFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilter([]string{".pdf"}, []string{".*", "~$*", "*.part", "*.crdownload"})
	require.NoError(t, err)
	return f
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF"), 0o644))
	return p
}

func TestDebouncer_WithinWindowSuppressed(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(2*time.Second, clock.Now)

	assert.True(t, d.Accept("/papers/a.pdf"))
	clock.Advance(500 * time.Millisecond)
	assert.False(t, d.Accept("/papers/a.pdf"))
}

func TestDebouncer_OutsideWindowAccepted(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(2*time.Second, clock.Now)

	assert.True(t, d.Accept("/papers/a.pdf"))
	clock.Advance(3 * time.Second)
	assert.True(t, d.Accept("/papers/a.pdf"))
}

func TestDebouncer_KeysAreIndependentAndCleaned(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(2*time.Second, clock.Now)

	assert.True(t, d.Accept("/papers/a.pdf"))
	assert.True(t, d.Accept("/papers/b.pdf"))
	assert.False(t, d.Accept("/papers/./sub/../a.pdf"))
}

func TestDebouncer_SuppressedEventDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	d := NewDebouncer(2*time.Second, clock.Now)

	assert.True(t, d.Accept("a.pdf"))
	clock.Advance(1500 * time.Millisecond)
	assert.False(t, d.Accept("a.pdf"))
	clock.Advance(600 * time.Millisecond)
	assert.True(t, d.Accept("a.pdf"))
}

func TestFilter(t *testing.T) {
	f := defaultFilter(t)
	assert.True(t, f.Match("/papers/Smith 2020.pdf"))
	assert.True(t, f.Match("/papers/UPPER.PDF"))
	assert.False(t, f.Match("/papers/.hidden.pdf"))
	assert.False(t, f.Match("/papers/~$lock.pdf"))
	assert.False(t, f.Match("/papers/notes.txt"))
	assert.False(t, f.Match("/papers/download.pdf.part"))
}

func TestNewFilter_Errors(t *testing.T) {
	_, err := NewFilter(nil, nil)
	assert.Error(t, err)

	_, err = NewFilter([]string{"pdf"}, []string{"[unclosed"})
	assert.Error(t, err)

	f, err := NewFilter([]string{"pdf"}, nil)
	require.NoError(t, err)
	assert.True(t, f.Match("x.pdf"))
}

func TestScan_FilenameOrder(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.pdf", "a.pdf", "c.pdf", ".partial.pdf", "notes.txt", "x.pdf.crdownload"} {
		touch(t, dir, n)
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	paths, err := Scan(dir, defaultFilter(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "c.pdf"),
	}, paths)
}

func TestScan_MissingDir(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"), defaultFilter(t))
	assert.Error(t, err)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.TryEnqueue(Request{Path: "a"}))
	assert.False(t, q.TryEnqueue(Request{Path: "b"}))
	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, 1, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Request{Path: "c"}), context.DeadlineExceeded)
}

func TestWatcher_HandleEvent(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue(4)
	w := &Watcher{
		filter:    defaultFilter(t),
		debouncer: NewDebouncer(2*time.Second, clock.Now),
		queue:     q,
		overflow:  newBacklog(),
		settle:    time.Second,
		now:       clock.Now,
	}

	assert.True(t, w.handleEvent(fsnotify.Event{Name: "/p/a.pdf", Op: fsnotify.Create}))
	clock.Advance(500 * time.Millisecond)
	assert.False(t, w.handleEvent(fsnotify.Event{Name: "/p/a.pdf", Op: fsnotify.Write}))
	assert.False(t, w.handleEvent(fsnotify.Event{Name: "/p/b.pdf", Op: fsnotify.Remove}))
	assert.False(t, w.handleEvent(fsnotify.Event{Name: "/p/b.txt", Op: fsnotify.Create}))
	clock.Advance(3 * time.Second)
	assert.True(t, w.handleEvent(fsnotify.Event{Name: "/p/a.pdf", Op: fsnotify.Write}))

	require.Equal(t, 2, q.Len())
	first := <-q.ch
	assert.Equal(t, "/p/a.pdf", first.Path)
	assert.Equal(t, clock.Now().Add(-3500*time.Millisecond).Add(time.Second), first.ReadyAt)
}

func TestWatcher_FullQueueDefersRequests(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue(1)
	require.True(t, q.TryEnqueue(Request{Path: "/p/catchup.pdf"}))
	w := &Watcher{
		filter:    defaultFilter(t),
		debouncer: NewDebouncer(2*time.Second, clock.Now),
		queue:     q,
		overflow:  newBacklog(),
		now:       clock.Now,
	}

	assert.True(t, w.handleEvent(fsnotify.Event{Name: "/p/a.pdf", Op: fsnotify.Create}))
	assert.True(t, w.handleEvent(fsnotify.Event{Name: "/p/b.pdf", Op: fsnotify.Create}))
	clock.Advance(3 * time.Second)
	assert.True(t, w.handleEvent(fsnotify.Event{Name: "/p/a.pdf", Op: fsnotify.Write}))
	assert.Equal(t, 2, w.overflow.len(), "one waiting request per file")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.overflow.forward(ctx, q)

	var got []string
	for range 3 {
		select {
		case r := <-q.ch:
			got = append(got, r.Path)
		case <-time.After(2 * time.Second):
			t.Fatalf("backlog not forwarded, got %v", got)
		}
	}
	assert.Equal(t, []string{"/p/catchup.pdf", "/p/a.pdf", "/p/b.pdf"}, got)
	assert.Zero(t, w.overflow.len())
}

type recorder struct {
	mu    sync.Mutex
	paths []string
	done  chan struct{}
	want  int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	if len(r.paths) == r.want {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler calls")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestDispatcher_SurvivesFailuresAndPanics(t *testing.T) {
	q := NewQueue(8)
	rec := newRecorder(3)
	h := func(_ context.Context, path string) error {
		rec.record(path)
		switch path {
		case "boom":
			panic("converter exploded")
		case "bad":
			return errors.New("stage failed")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- NewDispatcher(q, h, 1).Run(ctx) }()

	for _, p := range []string{"boom", "bad", "ok"} {
		require.True(t, q.TryEnqueue(Request{Path: p}))
	}
	assert.Equal(t, []string{"boom", "bad", "ok"}, rec.wait(t))

	cancel()
	assert.NoError(t, <-errc)
}

func TestDispatcher_WaitsForSettle(t *testing.T) {
	q := NewQueue(1)
	rec := newRecorder(1)
	var handledAt time.Time
	h := func(_ context.Context, path string) error {
		handledAt = time.Now()
		rec.record(path)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewDispatcher(q, h, 1).Run(ctx) //nolint:errcheck

	readyAt := time.Now().Add(100 * time.Millisecond)
	require.True(t, q.TryEnqueue(Request{Path: "a.pdf", ReadyAt: readyAt}))
	rec.wait(t)
	assert.False(t, handledAt.Before(readyAt))
}

func TestSource_Once_CatchUpOrder(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.pdf", "a.pdf", "c.pdf"} {
		touch(t, dir, n)
	}
	s, err := New(Config{Dir: dir, Extensions: []string{".pdf"}})
	require.NoError(t, err)

	var order []string
	batch, err := s.Once(context.Background(), func(_ context.Context, path string) (*model.RunReport, error) {
		order = append(order, filepath.Base(path))
		return &model.RunReport{DocumentID: model.DocumentID(path)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, order)
	assert.Len(t, batch.Runs, 3)
}

func TestSource_Once_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.pdf")
	touch(t, dir, "b.pdf")
	s, err := New(Config{Dir: dir, Extensions: []string{".pdf"}})
	require.NoError(t, err)

	calls := 0
	_, err = s.Once(context.Background(), func(context.Context, string) (*model.RunReport, error) {
		calls++
		return nil, errors.New("store: disk full")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Config{Extensions: []string{".pdf"}})
	assert.Error(t, err)
}

func TestSource_Run_CatchUpThenWatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.pdf")
	touch(t, dir, "a.pdf")

	s, err := New(Config{
		Dir:             dir,
		Extensions:      []string{".pdf"},
		Ignore:          []string{".*"},
		Debounce:        2 * time.Second,
		Settle:          10 * time.Millisecond,
		QueueSize:       8,
		Workers:         1,
		ProcessExisting: true,
	})
	require.NoError(t, err)

	rec := newRecorder(3)
	seen := make(map[string]bool)
	var mu sync.Mutex
	h := func(_ context.Context, path string) error {
		mu.Lock()
		defer mu.Unlock()
		base := filepath.Base(path)
		if seen[base] {
			return nil
		}
		seen[base] = true
		rec.record(base)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, h) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["a.pdf"] && seen["b.pdf"]
	}, 5*time.Second, 10*time.Millisecond)

	touch(t, dir, "c.pdf")
	got := rec.wait(t)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, got)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
