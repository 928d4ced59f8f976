package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/cache"
	"github.com/dshills/brandnexus-mcp/internal/classifier"
	"github.com/dshills/brandnexus-mcp/internal/config"
	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/extractor"
	"github.com/dshills/brandnexus-mcp/internal/indexer"
	"github.com/dshills/brandnexus-mcp/internal/metrics"
	"github.com/dshills/brandnexus-mcp/internal/schedule"
	"github.com/dshills/brandnexus-mcp/internal/searcher"
	"github.com/dshills/brandnexus-mcp/internal/storage"
	"github.com/dshills/brandnexus-mcp/internal/vectorindex"
	"github.com/dshills/brandnexus-mcp/internal/watcher"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Metadata keys
const (
	metaHashScheme      = "hash_scheme"
	metaClassifierModel = "classifier_model"
	metaEmbeddingModel  = "embedding_model"
)

// Cache keys and namespaces
const (
	statsKey        = "stats"
	contentStatsKey = "content_stats"
)

const (
	topTagsCount = 10
	recentWindow = 7 * 24 * time.Hour
	trainBatch   = 200
)

// Engine owns every component of the index and exposes its operations.
// It is safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	store      storage.Storage
	content    *contentstore.Store
	classifier *classifier.Classifier
	indexer    *indexer.Indexer
	searcher   *searcher.Searcher

	embedder  embedder.Embedder    // nil when no provider is configured
	vectors   *vectorindex.Index     // nil when no provider is configured
	refresher *vectorindex.Refresher // nil when no provider is configured

	searchCache  *cache.Cache[[]types.SearchResult]
	statsCache   *cache.Cache[*types.Stats]
	contentCache *cache.Cache[*types.ContentStats]
	closers      []func() error

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	watcher   *watcher.Watcher
	scheduler *schedule.CronScheduler
	started   bool
	closed    bool

	// Writes hold lifecycle for reading; Close cancels stopCtx and then
	// takes it for writing before closing the store
	stopCtx   context.Context
	stop      context.CancelFunc
	lifecycle sync.RWMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger shared by every component
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records component metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEmbedder uses emb instead of building one from the configuration
func WithEmbedder(emb embedder.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// Open validates cfg, opens the store and applies migrations, loads the
// trained classifier model if one was saved and builds the vector snapshot
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.stopCtx, e.stop = context.WithCancel(context.Background())

	if err := e.openStore(ctx); err != nil {
		return nil, err
	}
	if err := e.init(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.logger.Info("engine opened",
		zap.String("database", cfg.Database.Path),
		zap.Strings("roots", cfg.Roots),
		zap.Bool("semantic", e.embedder != nil))
	return e, nil
}

func (e *Engine) openStore(ctx context.Context) error {
	dbPath := e.cfg.Database.Path
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("%w: failed to create database directory: %v", types.ErrStoreUnavailable, err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return err
	}
	e.store = store
	return nil
}

func (e *Engine) init(ctx context.Context) error {
	cfg := e.cfg

	if err := e.checkHashScheme(ctx); err != nil {
		return err
	}

	e.content = contentstore.New(cfg.ContentOptions())
	e.classifier = classifier.New(classifier.WithThreshold(cfg.Classifier.Threshold))
	e.loadClassifierModel(ctx)

	e.searchCache = cache.New(newBackend[[]types.SearchResult](ctx, e, "search", cfg.Cache.TTL),
		cache.WithLogger(e.logger), cache.WithMetrics(e.metrics))
	e.statsCache = cache.New(newBackend[*types.Stats](ctx, e, "stats", cfg.Cache.StatsTTL),
		cache.WithLogger(e.logger), cache.WithMetrics(e.metrics))
	e.contentCache = cache.New(newBackend[*types.ContentStats](ctx, e, "content", cfg.Cache.StatsTTL),
		cache.WithLogger(e.logger), cache.WithMetrics(e.metrics))

	if err := e.initVectors(ctx); err != nil {
		return err
	}

	idxOpts := []indexer.Option{
		indexer.WithWorkers(cfg.Index.Workers),
		indexer.WithLogger(e.logger.Named("indexer")),
		indexer.WithMetrics(e.metrics),
		indexer.WithInvalidate(e.invalidate),
		indexer.WithRunRecorded(e.statsCache.Invalidate),
	}
	if e.refresher != nil {
		idxOpts = append(idxOpts, indexer.WithNudger(e.refresher))
	}
	e.indexer = indexer.New(e.store, e.content, e.classifier, extractor.New(cfg.ExtractorOptions()), idxOpts...)

	searchOpts := []searcher.Option{
		searcher.WithCache(e.searchCache, cfg.Cache.TTL),
		searcher.WithSemanticWeight(cfg.Search.SemanticWeight),
		searcher.WithMinSemanticScore(cfg.Search.MinSemanticScore),
		searcher.WithEmbedTimeout(cfg.Embedding.Timeout),
		searcher.WithLogger(e.logger.Named("searcher")),
		searcher.WithMetrics(e.metrics),
	}
	if e.embedder != nil {
		searchOpts = append(searchOpts, searcher.WithSemantic(e.embedder, e.vectors))
	}
	e.searcher = searcher.New(e.store, searchOpts...)

	if n, err := e.store.CountDocuments(ctx); err == nil {
		e.metrics.SetDocuments(n)
	}
	return nil
}

// checkHashScheme records the content hash scheme. Hashes from another
// scheme never match, so every document is rewritten by the next rescan.
func (e *Engine) checkHashScheme(ctx context.Context) error {
	scheme, err := e.store.GetMeta(ctx, metaHashScheme)
	switch {
	case errors.Is(err, types.ErrNotFound):
	case err != nil:
		return err
	case scheme != contentstore.HashScheme:
		e.logger.Warn("content hash scheme changed, documents will be re-ingested",
			zap.String("stored", scheme), zap.String("current", contentstore.HashScheme))
	default:
		return nil
	}
	return e.store.SetMeta(ctx, metaHashScheme, contentstore.HashScheme)
}

func (e *Engine) loadClassifierModel(ctx context.Context) {
	data, err := e.store.GetMeta(ctx, metaClassifierModel)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			e.logger.Warn("failed to load classifier model", zap.Error(err))
		}
		return
	}
	model, err := classifier.UnmarshalModel(data)
	if err != nil {
		e.logger.Warn("ignoring stored classifier model", zap.Error(err))
		return
	}
	e.classifier.SetModel(model)
	e.logger.Info("classifier model loaded", zap.Int("examples", model.Examples))
}

func (e *Engine) initVectors(ctx context.Context) error {
	cfg := e.cfg
	if e.embedder == nil {
		emb, err := embedder.New(cfg.EmbedderConfig())
		if errors.Is(err, embedder.ErrNoProviderEnabled) {
			e.logger.Info("no embedding provider configured, search is lexical only")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		e.embedder = emb
	}
	e.closers = append(e.closers, e.embedder.Close)

	version := embedder.ModelVersion(e.embedder)
	e.vectors = vectorindex.New(e.store, version, e.logger.Named("vectors"))
	if err := e.vectors.Rebuild(ctx); err != nil {
		return err
	}

	refresher, err := vectorindex.NewRefresher(e.store, e.vectors, e.embedder,
		vectorindex.WithEmbedTimeout(cfg.Embedding.Timeout),
		vectorindex.WithWorkers(cfg.Embedding.Workers),
		vectorindex.WithRate(cfg.Embedding.Rate),
		vectorindex.WithLogger(e.logger.Named("refresher")),
		vectorindex.WithMetrics(e.metrics),
		vectorindex.WithOnRebuild(func(ctx context.Context) { e.searchCache.Invalidate(ctx) }),
	)
	if err != nil {
		return err
	}
	e.refresher = refresher

	if err := e.store.SetMeta(ctx, metaEmbeddingModel, version); err != nil {
		return err
	}
	return nil
}

// newBackend returns a Redis backend when one is configured and reachable,
// otherwise an in-process one
func newBackend[V any](ctx context.Context, e *Engine, namespace string, ttl time.Duration) cache.Backend[V] {
	if opts := e.cfg.RedisOptions(); opts != nil {
		backend, err := cache.NewRedisBackend[V](ctx, *opts, namespace)
		if err == nil {
			e.closers = append(e.closers, backend.Close)
			return backend
		}
		e.logger.Warn("redis cache unavailable, using in-process cache",
			zap.String("addr", opts.Addr), zap.Error(err))
	}
	return cache.NewMemoryBackend[V](e.cfg.Cache.Size, ttl)
}

// begin registers a write against the store. The returned context is
// cancelled by Close, which waits for done before closing the store.
func (e *Engine) begin(ctx context.Context) (context.Context, func(), error) {
	e.lifecycle.RLock()
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		e.lifecycle.RUnlock()
		return nil, nil, fmt.Errorf("%w: engine closed", types.ErrStoreUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.stopCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
		e.lifecycle.RUnlock()
	}, nil
}

// invalidate drops every cached result; it runs after each index write
func (e *Engine) invalidate(ctx context.Context) {
	e.searchCache.Invalidate(ctx)
	e.statsCache.Invalidate(ctx)
	e.contentCache.Invalidate(ctx)
}

// IndexResult summarizes an IndexCorpus call
type IndexResult struct {
	RunID          string         `json:"run_id"`
	IndexedCount   int            `json:"indexed_count"`
	UpdatedCount   int            `json:"updated_count"`
	AddedCount     int            `json:"added_count"`
	UnchangedCount int            `json:"unchanged_count"`
	DeletedCount   int            `json:"deleted_count"`
	FailedCount    int            `json:"failed_count"`
	Errors         []string       `json:"errors"`
	LabelHistogram map[string]int `json:"label_histogram"`
	Duration       time.Duration  `json:"duration_ns"`
	Cancelled      bool           `json:"cancelled,omitempty"`
}

// IndexCorpus rescans roots, or the configured roots when roots is empty.
// Per-file failures are listed in the result. If ctx is cancelled the
// partial result is returned together with the context error.
func (e *Engine) IndexCorpus(ctx context.Context, roots []string) (*IndexResult, error) {
	if len(roots) == 0 {
		roots = e.cfg.Roots
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no content roots given or configured", types.ErrInvalidArgument)
	}

	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := e.indexer.IndexCorpus(ctx, roots)
	if res == nil {
		return nil, err
	}

	out := &IndexResult{
		RunID:          res.RunID,
		IndexedCount:   res.Indexed,
		UpdatedCount:   res.Updated,
		AddedCount:     res.Added,
		UnchangedCount: res.Unchanged,
		DeletedCount:   res.Deleted,
		FailedCount:    res.Failed,
		Errors:         make([]string, 0, len(res.Errors)),
		LabelHistogram: make(map[string]int, len(res.LabelHistogram)),
		Duration:       res.Duration,
		Cancelled:      res.Cancelled,
	}
	for _, fe := range res.Errors {
		out.Errors = append(out.Errors, fe.Error())
	}
	for label, n := range res.LabelHistogram {
		out.LabelHistogram[string(label)] = n
	}
	return out, err
}

// Search ranks documents for query. label and category are optional hard
// filters; limit must be within [1, searcher.MaxLimit].
func (e *Engine) Search(ctx context.Context, query string, label *types.Label, category string, limit int) ([]types.SearchResult, error) {
	return e.searcher.Search(ctx, searcher.Request{
		Query:    query,
		Label:    label,
		Category: category,
		Limit:    limit,
	})
}

// GetDocument returns the stored text of the document at path. path is the
// canonical relative path; an absolute path under a configured root is
// accepted too.
func (e *Engine) GetDocument(ctx context.Context, docPath string) (*types.DocumentContent, error) {
	canonical, err := e.canonicalPath(docPath)
	if err != nil {
		return nil, err
	}

	doc, err := e.store.GetDocumentByPath(ctx, canonical)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: document %s", types.ErrNotFound, canonical)
		}
		return nil, err
	}
	return &types.DocumentContent{
		Path:         doc.Path,
		Content:      doc.FullText,
		Size:         doc.SizeBytes,
		LastModified: doc.LastModified,
	}, nil
}

func (e *Engine) canonicalPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: path must not be empty", types.ErrInvalidArgument)
	}

	if filepath.IsAbs(p) {
		for _, r := range e.cfg.Roots {
			root, err := contentstore.NormalizeRoot(r)
			if err != nil {
				continue
			}
			if rel, err := filepath.Rel(root, filepath.Clean(p)); err == nil && !strings.HasPrefix(rel, "..") {
				return filepath.ToSlash(rel), nil
			}
		}
		return "", fmt.Errorf("%w: %s is not under a content root", types.ErrNotFound, p)
	}

	cleaned := path.Clean(filepath.ToSlash(p))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: invalid document path %q", types.ErrInvalidArgument, p)
	}
	return cleaned, nil
}

// GetByLabel lists documents with label, optionally within category,
// ordered by path
func (e *Engine) GetByLabel(ctx context.Context, label types.Label, category string) ([]types.DocumentSummary, error) {
	if !label.Valid() {
		return nil, fmt.Errorf("%w: unknown document type %q", types.ErrInvalidArgument, string(label))
	}

	docs, err := e.store.ListDocuments(ctx, storage.DocumentFilter{
		Label:    label,
		Category: strings.TrimSpace(category),
	})
	if err != nil {
		return nil, err
	}

	out := make([]types.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, types.DocumentSummary{
			Path:     d.Path,
			Title:    d.Title,
			Category: d.Category,
			Summary:  d.Summary,
		})
	}
	return out, nil
}

// AnalyzeCorpus reports the label distribution and the most common tags
func (e *Engine) AnalyzeCorpus(ctx context.Context) (*types.CorpusAnalysis, error) {
	dist, err := e.store.LabelDistribution(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := e.store.TopTags(ctx, topTagsCount)
	if err != nil {
		return nil, err
	}
	total, err := e.store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []types.TagCount{}
	}
	return &types.CorpusAnalysis{
		LabelDistribution: dist,
		TopTags:           tags,
		TotalDocuments:    total,
	}, nil
}

// Stats reports the size and freshness of the index. Results are cached
// until the next index write or StatsTTL.
func (e *Engine) Stats(ctx context.Context) (*types.Stats, error) {
	stats, err := e.statsCache.GetOrCompute(ctx, statsKey, e.cfg.Cache.StatsTTL, func(ctx context.Context) (*types.Stats, error) {
		count, err := e.store.CountDocuments(ctx)
		if err != nil {
			return nil, err
		}
		size, err := e.store.SizeBytes(ctx)
		if err != nil {
			return nil, err
		}
		last, err := e.store.LastIndexTime(ctx)
		if err != nil {
			return nil, err
		}
		return &types.Stats{
			DocumentCount:  count,
			IndexSizeBytes: size,
			LastIndexTime:  last,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	// Cached values are shared between callers
	out := *stats
	return &out, nil
}

// ContentStats reports word counts, recent activity and the label
// distribution. Results are cached like Stats.
func (e *Engine) ContentStats(ctx context.Context) (*types.ContentStats, error) {
	cs, err := e.contentCache.GetOrCompute(ctx, contentStatsKey, e.cfg.Cache.StatsTTL, func(ctx context.Context) (*types.ContentStats, error) {
		cs, err := e.store.ContentStats(ctx, time.Now().Add(-recentWindow))
		if err != nil {
			return nil, err
		}
		dist, err := e.store.LabelDistribution(ctx)
		if err != nil {
			return nil, err
		}
		return &types.ContentStats{
			LabelDistribution: dist,
			RecentUpdates:     cs.RecentUpdates,
			AverageWords:      cs.AverageWords,
			TotalWords:        cs.TotalWords,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	out := *cs
	out.LabelDistribution = make(map[types.Label]int, len(cs.LabelDistribution))
	for l, n := range cs.LabelDistribution {
		out.LabelDistribution[l] = n
	}
	return &out, nil
}

// CacheStats reports search cache hits and misses
func (e *Engine) CacheStats() cache.Stats {
	return e.searchCache.Stats()
}

// Semantic reports whether an embedding provider is configured
func (e *Engine) Semantic() bool {
	return e.embedder != nil
}
