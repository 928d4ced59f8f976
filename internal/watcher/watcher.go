package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/indexer"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Watcher defaults
const (
	DefaultDebounce = time.Second
	DefaultWorkers  = 4
	DefaultQueue    = 1024
)

// ErrStopped is returned by Start after Stop
var ErrStopped = errors.New("watcher stopped")

// Kind is the type of change observed for a path
type Kind int

const (
	KindCreated Kind = iota
	KindModified
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a debounced change to one document path
type Event struct {
	Root       string
	Path       string // Canonical path relative to Root
	Kind       Kind
	EnqueuedAt time.Time
}

func (e Event) key() string {
	return filepath.Join(e.Root, filepath.FromSlash(e.Path))
}

// Handler processes one event. Events for the same path are never handled
// concurrently and arrive in the order they were debounced.
type Handler func(ctx context.Context, ev Event) error

// Ingester is the part of the indexer the watcher drives
type Ingester interface {
	IngestFile(ctx context.Context, root, rel string) (indexer.Outcome, types.Label, error)
	RemovePath(ctx context.Context, root, rel string) (bool, error)
}

// IndexHandler routes created and modified paths to IngestFile and deleted
// paths to RemovePath. A deleted path that exists again by the time the
// event is handled is ingested instead.
func IndexHandler(ix Ingester) Handler {
	return func(ctx context.Context, ev Event) error {
		if ev.Kind == KindDeleted {
			if _, err := os.Stat(ev.key()); errors.Is(err, fs.ErrNotExist) {
				_, err := ix.RemovePath(ctx, ev.Root, ev.Path)
				return err
			}
		}
		_, _, err := ix.IngestFile(ctx, ev.Root, ev.Path)
		return err
	}
}

// Config holds watcher configuration
type Config struct {
	Roots    []string
	Debounce time.Duration
	Workers  int
	Queue    int // Maximum number of tasks waiting for a worker
}

type pending struct {
	timer *time.Timer
	ev    Event
}

type pathState struct {
	next *Event // latest event that arrived while the path was running
}

// Watcher turns file system notifications under the content roots into
// debounced, per-path ordered events
type Watcher struct {
	content *contentstore.Store
	handler Handler
	roots   []string
	cfg     Config
	logger  *zap.Logger
	pool    *ants.Pool

	mu     sync.Mutex
	idle   *sync.Cond
	active int // pending timers plus running paths
	timers map[string]*pending
	states map[string]*pathState

	fsw      *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopped  bool
}

// New creates a Watcher. Start begins watching.
func New(content *contentstore.Store, handler Handler, cfg Config, logger *zap.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	roots := make([]string, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		root, err := contentstore.NormalizeRoot(r)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	// Longest first so nested roots win
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })

	pool, err := ants.NewPool(cfg.Workers, ants.WithMaxBlockingTasks(cfg.Queue))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	w := &Watcher{
		content: content,
		handler: handler,
		roots:   roots,
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		timers:  make(map[string]*pending),
		states:  make(map[string]*pathState),
		done:    make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// Start registers every directory under the roots with fsnotify and
// processes notifications until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addTree(root, root, false); err != nil {
			w.logger.Warn("failed to watch root", zap.String("root", root), zap.Error(err))
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()
	go w.loop()

	w.logger.Info("file watcher started", zap.Strings("roots", w.roots))
	return nil
}

// addTree watches dir and every traversable directory below it. With
// enqueue set, files found are reported as created; this covers
// directories moved into a root.
func (w *Watcher) addTree(root, dir string, enqueue bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if !w.content.MatchDir(root, path) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("dir", path), zap.Error(err))
			}
			return nil
		}
		if enqueue {
			if c, ok := w.content.Match(root, path); ok {
				w.schedule(Event{Root: root, Path: c.Rel, Kind: KindCreated, EnqueuedAt: time.Now()})
			}
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleNotification(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleNotification(event fsnotify.Event) {
	root := w.rootFor(event.Name)
	if root == "" {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.content.MatchDir(root, event.Name) {
				if err := w.addTree(root, event.Name, true); err != nil {
					w.logger.Debug("could not watch new directory", zap.String("dir", event.Name), zap.Error(err))
				}
			}
			return
		}
	}

	c, ok := w.content.Match(root, event.Name)
	if !ok {
		return
	}

	var kind Kind
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = KindDeleted
	case event.Has(fsnotify.Create):
		kind = KindCreated
	case event.Has(fsnotify.Write):
		kind = KindModified
	default:
		return
	}

	w.logger.Debug("file system event",
		zap.String("op", event.Op.String()),
		zap.String("path", c.Rel))
	w.schedule(Event{Root: root, Path: c.Rel, Kind: kind, EnqueuedAt: time.Now()})
}

// rootFor returns the root containing abs, or "" if none does
func (w *Watcher) rootFor(abs string) string {
	abs = filepath.Clean(abs)
	for _, root := range w.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

// schedule debounces ev: a later event for the same path restarts the
// timer and replaces the recorded kind
func (w *Watcher) schedule(ev Event) {
	key := ev.key()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if p, ok := w.timers[key]; ok && p.timer.Stop() {
		p.ev = ev
		p.timer.Reset(w.cfg.Debounce)
		return
	}

	p := &pending{ev: ev}
	w.active++
	p.timer = time.AfterFunc(w.cfg.Debounce, func() { w.fire(key, p) })
	w.timers[key] = p
}

func (w *Watcher) fire(key string, p *pending) {
	w.mu.Lock()
	if w.timers[key] == p {
		delete(w.timers, key)
	}
	ev := p.ev
	w.mu.Unlock()

	w.dispatch(ev)
	w.release()
}

// dispatch hands ev to the pool unless its path is already running, in
// which case it replaces the path's queued event
func (w *Watcher) dispatch(ev Event) {
	key := ev.key()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if st, ok := w.states[key]; ok {
		st.next = &ev
		w.mu.Unlock()
		return
	}
	w.states[key] = &pathState{}
	w.active++
	w.mu.Unlock()

	if err := w.pool.Submit(func() { w.run(key, ev) }); err != nil {
		w.logger.Warn("dropping file event", zap.String("path", ev.Path), zap.Error(err))
		w.mu.Lock()
		delete(w.states, key)
		w.mu.Unlock()
		w.release()
	}
}

// run handles ev and then any event queued for the same path meanwhile
func (w *Watcher) run(key string, ev Event) {
	defer w.release()
	for {
		if err := w.handler(w.ctx, ev); err != nil && w.ctx.Err() == nil {
			w.logger.Warn("file event failed",
				zap.String("path", ev.Path),
				zap.Stringer("kind", ev.Kind),
				zap.Error(err))
		}

		w.mu.Lock()
		st := w.states[key]
		if st.next == nil || w.stopped {
			delete(w.states, key)
			w.mu.Unlock()
			return
		}
		ev = *st.next
		st.next = nil
		w.mu.Unlock()
	}
}

func (w *Watcher) release() {
	w.mu.Lock()
	w.active--
	if w.active == 0 {
		w.idle.Broadcast()
	}
	w.mu.Unlock()
}

// Flush fires every pending debounce timer immediately and waits until all
// events have been handled
func (w *Watcher) Flush() {
	type firing struct {
		key string
		p   *pending
	}

	w.mu.Lock()
	var due []firing
	for key, p := range w.timers {
		if p.timer.Stop() {
			due = append(due, firing{key, p})
		}
	}
	w.mu.Unlock()

	for _, f := range due {
		w.fire(f.key, f.p)
	}
	w.waitIdle()
}

func (w *Watcher) waitIdle() {
	w.mu.Lock()
	for w.active > 0 {
		w.idle.Wait()
	}
	w.mu.Unlock()
}

// Stop cancels pending timers, waits for running handlers and releases the
// worker pool. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for key, p := range w.timers {
			if p.timer.Stop() {
				w.active--
			}
			delete(w.timers, key)
		}
		if w.active == 0 {
			w.idle.Broadcast()
		}
		fsw := w.fsw
		w.mu.Unlock()

		close(w.done)
		w.cancel()
		if fsw != nil {
			if err := fsw.Close(); err != nil {
				w.logger.Warn("failed to close file watcher", zap.Error(err))
			}
		}

		w.waitIdle()
		w.pool.Release()
		w.logger.Info("file watcher stopped")
	})
}
