package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/metrics"
	"github.com/dshills/brandnexus-mcp/internal/storage"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Refresher defaults
const (
	DefaultEmbedTimeout = 10 * time.Second
	DefaultWorkers      = 2
	DefaultRate         = 10 // embed calls per second
	DefaultMaxPerRun    = 500

	// maxEmbedRunes bounds the text sent to the embedder per document
	maxEmbedRunes = 8000
)

// ErrRefresherClosed is returned by RunOnce after Close
var ErrRefresherClosed = errors.New("vector refresher closed")

// RefreshResult summarizes one refresher cycle
type RefreshResult struct {
	Embedded int
	Failed   int
	Errors   []error
	Skipped  bool // another cycle was already running
	Duration time.Duration
}

// Refresher embeds documents whose vectors are missing or stale
type Refresher struct {
	store    storage.Storage
	index    *Index
	embedder embedder.Embedder
	pool     *ants.Pool
	limiter  *rate.Limiter
	timeout  time.Duration
	maxRun   int
	logger   *zap.Logger
	metrics  *metrics.Metrics
	rebuilt  func(context.Context)

	running atomic.Bool
	closed  atomic.Bool
	nudge   chan struct{}

	// Close cancels stopCtx, then takes lifecycle to wait for cycles that
	// hold it for reading
	stopCtx   context.Context
	stop      context.CancelFunc
	lifecycle sync.RWMutex
	loop      sync.WaitGroup
}

// Option configures a Refresher
type Option func(*Refresher) error

// WithEmbedTimeout bounds each embed call
func WithEmbedTimeout(d time.Duration) Option {
	return func(r *Refresher) error {
		if d > 0 {
			r.timeout = d
		}
		return nil
	}
}

// WithWorkers sets the worker pool size
func WithWorkers(n int) Option {
	return func(r *Refresher) error {
		if n < 1 {
			n = 1
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		if r.pool != nil {
			r.pool.Release()
		}
		r.pool = pool
		return nil
	}
}

// WithRate limits embed calls per second. Zero or less disables limiting.
func WithRate(perSecond float64) Option {
	return func(r *Refresher) error {
		if perSecond <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return nil
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithMaxPerRun caps the documents embedded in one cycle
func WithMaxPerRun(n int) Option {
	return func(r *Refresher) error {
		if n > 0 {
			r.maxRun = n
		}
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) error {
		if l != nil {
			r.logger = l
		}
		return nil
	}
}

// WithMetrics records refresh outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) error {
		r.metrics = m
		return nil
	}
}

// WithOnRebuild registers a callback run after new vectors are swapped in
func WithOnRebuild(fn func(context.Context)) Option {
	return func(r *Refresher) error {
		r.rebuilt = fn
		return nil
	}
}

// NewRefresher creates a refresher writing vectors for index's model version
func NewRefresher(store storage.Storage, index *Index, emb embedder.Embedder, opts ...Option) (*Refresher, error) {
	if emb == nil {
		return nil, embedder.ErrNoProviderEnabled
	}
	if v := embedder.ModelVersion(emb); v != index.ModelVersion() {
		return nil, fmt.Errorf("embedder model %q does not match index model %q", v, index.ModelVersion())
	}

	r := &Refresher{
		store:    store,
		index:    index,
		embedder: emb,
		limiter:  rate.NewLimiter(rate.Limit(DefaultRate), DefaultRate),
		timeout:  DefaultEmbedTimeout,
		maxRun:   DefaultMaxPerRun,
		logger:   zap.NewNop(),
		nudge:    make(chan struct{}, 1),
	}
	r.stopCtx, r.stop = context.WithCancel(context.Background())
	if err := WithWorkers(DefaultWorkers)(r); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			r.stop()
			r.pool.Release()
			return nil, err
		}
	}
	return r, nil
}

// RunOnce embeds the current stale documents and rebuilds the index. If a
// cycle is already running it returns immediately with Skipped set.
// Failed documents stay stale and are retried by a later cycle.
func (r *Refresher) RunOnce(ctx context.Context) (*RefreshResult, error) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.closed.Load() {
		return nil, ErrRefresherClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(r.stopCtx, cancel)()

	if !r.running.CompareAndSwap(false, true) {
		return &RefreshResult{Skipped: true}, nil
	}
	defer r.running.Store(false)

	start := time.Now()
	result := &RefreshResult{}

	docs, err := r.store.ListStaleDocuments(ctx, r.index.ModelVersion(), r.maxRun)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			return
		}
		result.Embedded++
	}

	for _, doc := range docs {
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}
		doc := doc
		wg.Add(1)
		if err := r.pool.Submit(func() {
			defer wg.Done()
			record(r.refreshDocument(ctx, doc))
		}); err != nil {
			wg.Done()
			record(fmt.Errorf("%s: %w", doc.Path, err))
		}
	}
	wg.Wait()

	if result.Embedded > 0 {
		if err := r.index.Rebuild(ctx); err != nil {
			return result, err
		}
		if r.rebuilt != nil {
			r.rebuilt(ctx)
		}
	}

	result.Duration = time.Since(start)
	r.metrics.Refreshed(metrics.RefreshEmbedded, result.Embedded)
	r.metrics.Refreshed(metrics.RefreshFailed, result.Failed)
	if len(docs) > 0 {
		r.logger.Info("vector refresh finished",
			zap.Int("stale", len(docs)),
			zap.Int("embedded", result.Embedded),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration))
	}
	return result, ctx.Err()
}

func (r *Refresher) refreshDocument(ctx context.Context, doc *storage.Document) error {
	embedCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	emb, err := r.embedder.GenerateEmbedding(embedCtx, embedder.EmbeddingRequest{Text: embedText(doc)})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(embedCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w: %v", doc.Path, types.ErrTimeout, err)
		} else {
			err = fmt.Errorf("%s: %w", doc.Path, err)
		}
		r.logger.Warn("embedding failed", zap.String("path", doc.Path), zap.Error(err))
		return err
	}

	err = r.store.UpsertVector(ctx, &storage.Vector{
		DocumentID:   doc.ID,
		Embedding:    emb.Vector,
		Dimension:    len(emb.Vector),
		ModelVersion: r.index.ModelVersion(),
		ContentHash:  doc.ContentHash,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			// Deleted while embedding
			return nil
		}
		return fmt.Errorf("%s: failed to store vector: %w", doc.Path, err)
	}
	return nil
}

// embedText is the text embedded for a document: title, summary and the
// leading part of the body
func embedText(doc *storage.Document) string {
	text := doc.Title + "\n" + doc.Summary + "\n" + doc.FullText
	if utf8.RuneCountInString(text) > maxEmbedRunes {
		text = string([]rune(text)[:maxEmbedRunes])
	}
	return text
}

// Nudge requests a cycle from the Start loop without blocking
func (r *Refresher) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Start runs a cycle whenever Nudge is called, until ctx is done or the
// refresher is closed
func (r *Refresher) Start(ctx context.Context) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.closed.Load() {
		return
	}

	r.loop.Add(1)
	go func() {
		defer r.loop.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCtx.Done():
				return
			case <-r.nudge:
				if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil && !r.closed.Load() {
					r.logger.Warn("vector refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Close stops the Start loop, cancels a running cycle and waits for it
// before releasing the worker pool
func (r *Refresher) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.stop()
	r.lifecycle.Lock()
	r.lifecycle.Unlock()
	r.loop.Wait()
	r.pool.Release()
}
