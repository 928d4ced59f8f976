package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/indexer"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// recorder is a Handler that records events and detects overlapping work
// on the same path
type recorder struct {
	mu      sync.Mutex
	events  []Event
	running map[string]bool
	overlap bool
	delay   time.Duration
}

func newRecorder(delay time.Duration) *recorder {
	return &recorder{running: make(map[string]bool), delay: delay}
}

func (r *recorder) handle(ctx context.Context, ev Event) error {
	r.mu.Lock()
	if r.running[ev.Path] {
		r.overlap = true
	}
	r.running[ev.Path] = true
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.running[ev.Path] = false
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) find(path string, kind Kind) bool {
	for _, ev := range r.snapshot() {
		if ev.Path == path && ev.Kind == kind {
			return true
		}
	}
	return false
}

func newTestWatcher(t *testing.T, root string, h Handler, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := New(contentstore.New(contentstore.Options{}), h, Config{
		Roots:    []string{root},
		Debounce: debounce,
		Workers:  4,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func TestDispatch_PerPathOrdering(t *testing.T) {
	rec := newRecorder(20 * time.Millisecond)
	w := newTestWatcher(t, t.TempDir(), rec.handle, time.Hour)

	root := w.roots[0]
	w.dispatch(Event{Root: root, Path: "a.md", Kind: KindCreated})
	w.dispatch(Event{Root: root, Path: "b.md", Kind: KindCreated})
	// Queued while a.md runs; only the latest survives
	w.dispatch(Event{Root: root, Path: "a.md", Kind: KindModified})
	w.dispatch(Event{Root: root, Path: "a.md", Kind: KindDeleted})
	w.Flush()

	var kinds []Kind
	for _, ev := range rec.snapshot() {
		if ev.Path == "a.md" {
			kinds = append(kinds, ev.Kind)
		}
	}
	assert.Equal(t, []Kind{KindCreated, KindDeleted}, kinds)
	assert.True(t, rec.find("b.md", KindCreated))
	assert.False(t, rec.overlap, "same path handled concurrently")
}

func TestDispatch_ManyPaths(t *testing.T) {
	rec := newRecorder(time.Millisecond)
	w := newTestWatcher(t, t.TempDir(), rec.handle, time.Hour)

	root := w.roots[0]
	for i := 0; i < 50; i++ {
		for _, kind := range []Kind{KindCreated, KindModified} {
			w.dispatch(Event{Root: root, Path: string(rune('a'+i%5)) + ".md", Kind: kind})
		}
	}
	w.Flush()

	assert.False(t, rec.overlap)
	events := rec.snapshot()
	assert.NotEmpty(t, events)
	// The last event of every path is always handled
	last := make(map[string]Kind)
	for _, ev := range events {
		last[ev.Path] = ev.Kind
	}
	assert.Len(t, last, 5)
	for path, kind := range last {
		assert.Equal(t, KindModified, kind, path)
	}
}

func TestSchedule_Debounces(t *testing.T) {
	rec := newRecorder(0)
	w := newTestWatcher(t, t.TempDir(), rec.handle, time.Hour)

	root := w.roots[0]
	w.schedule(Event{Root: root, Path: "a.md", Kind: KindCreated})
	w.schedule(Event{Root: root, Path: "a.md", Kind: KindModified})
	w.schedule(Event{Root: root, Path: "a.md", Kind: KindModified})
	assert.Empty(t, rec.snapshot(), "nothing runs before the timer fires")

	w.Flush()
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, KindModified, events[0].Kind)
}

func TestSchedule_TimerFires(t *testing.T) {
	rec := newRecorder(0)
	w := newTestWatcher(t, t.TempDir(), rec.handle, 10*time.Millisecond)

	w.schedule(Event{Root: w.roots[0], Path: "a.md", Kind: KindCreated})
	assert.Eventually(t, func() bool { return rec.find("a.md", KindCreated) }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_FileSystemEvents(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder(0)
	w := newTestWatcher(t, root, rec.handle, 20*time.Millisecond)
	require.NoError(t, w.Start(context.Background()))

	path := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.tmp"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		w.Flush()
		return rec.find("a.md", KindCreated) || rec.find("a.md", KindModified)
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		w.Flush()
		return rec.find("a.md", KindDeleted)
	}, 5*time.Second, 20*time.Millisecond)

	for _, ev := range rec.snapshot() {
		assert.NotEqual(t, "ignored.tmp", ev.Path)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder(0)
	w := newTestWatcher(t, root, rec.handle, 20*time.Millisecond)
	require.NoError(t, w.Start(context.Background()))

	dir := filepath.Join(root, "brand")
	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.md"), []byte("logo"), 0644))

	assert.Eventually(t, func() bool {
		w.Flush()
		for _, ev := range rec.snapshot() {
			if ev.Path == "brand/logo.md" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	rec := newRecorder(0)
	w := newTestWatcher(t, t.TempDir(), rec.handle, time.Hour)
	require.NoError(t, w.Start(context.Background()))

	w.schedule(Event{Root: w.roots[0], Path: "a.md", Kind: KindCreated})
	w.Stop()
	w.Stop()

	assert.Empty(t, rec.snapshot(), "pending timers are cancelled")
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)

	// Events after Stop are ignored
	w.schedule(Event{Root: w.roots[0], Path: "b.md", Kind: KindCreated})
	w.Flush()
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_StopsWithContext(t *testing.T) {
	rec := newRecorder(0)
	w := newTestWatcher(t, t.TempDir(), rec.handle, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		return w.Start(context.Background()) == ErrStopped
	}, 2*time.Second, 5*time.Millisecond)
}

type fakeIngester struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (f *fakeIngester) IngestFile(ctx context.Context, root, rel string) (indexer.Outcome, types.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, rel)
	return indexer.OutcomeAdded, types.LabelUnknown, nil
}

func (f *fakeIngester) RemovePath(ctx context.Context, root, rel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, rel)
	return true, nil
}

func TestIndexHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "back.md"), []byte("x"), 0644))

	ix := &fakeIngester{}
	h := IndexHandler(ix)
	ctx := context.Background()

	require.NoError(t, h(ctx, Event{Root: root, Path: "new.md", Kind: KindCreated}))
	require.NoError(t, h(ctx, Event{Root: root, Path: "edit.md", Kind: KindModified}))
	require.NoError(t, h(ctx, Event{Root: root, Path: "gone.md", Kind: KindDeleted}))
	// Deleted, then recreated before the event was handled
	require.NoError(t, h(ctx, Event{Root: root, Path: "back.md", Kind: KindDeleted}))

	assert.Equal(t, []string{"new.md", "edit.md", "back.md"}, ix.ingested)
	assert.Equal(t, []string{"gone.md"}, ix.removed)
}

func TestRootFor(t *testing.T) {
	base := t.TempDir()
	outer := filepath.Join(base, "corpus")
	inner := filepath.Join(outer, "nested")

	w, err := New(contentstore.New(contentstore.Options{}), newRecorder(0).handle,
		Config{Roots: []string{outer, inner}}, nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	assert.Equal(t, inner, w.rootFor(filepath.Join(inner, "a.md")))
	assert.Equal(t, outer, w.rootFor(filepath.Join(outer, "a.md")))
	assert.Equal(t, "", w.rootFor(filepath.Join(base, "corpus-other", "a.md")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "created", KindCreated.String())
	assert.Equal(t, "modified", KindModified.String())
	assert.Equal(t, "deleted", KindDeleted.String())
}
