package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/cache"
	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/metrics"
	"github.com/dshills/brandnexus-mcp/internal/storage"
	"github.com/dshills/brandnexus-mcp/internal/vectorindex"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Search defaults
const (
	MaxLimit                = 100
	DefaultSemanticWeight   = 0.7
	DefaultMinSemanticScore = 0.35
	DefaultEmbedTimeout     = 5 * time.Second
	DefaultCacheTTL         = 5 * time.Minute

	// CacheKeyPrefix namespaces search results in the result cache
	CacheKeyPrefix = "search:"

	snippetRadius  = 80
)

// Lexical field weights
const (
	titleWeight   = 0.5
	summaryWeight = 0.3
	textWeight    = 0.2
)

// Request contains parameters for a search operation
type Request struct {
	Query    string
	Label    *types.Label // nil matches any label
	Category string       // empty matches any category
	Limit    int
}

// Searcher ranks documents by a weighted fusion of lexical and semantic scores
type Searcher struct {
	store    storage.Storage
	embedder embedder.Embedder
	index    *vectorindex.Index
	cache    *cache.Cache[[]types.SearchResult]
	cacheTTL time.Duration

	semanticWeight   float64
	minSemanticScore float64
	embedTimeout     time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Searcher
type Option func(*Searcher)

// WithSemantic enables the semantic stage. Both emb and index must be non-nil.
func WithSemantic(emb embedder.Embedder, index *vectorindex.Index) Option {
	return func(s *Searcher) {
		if emb != nil && index != nil {
			s.embedder = emb
			s.index = index
		}
	}
}

// WithCache memoizes results for ttl
func WithCache(c *cache.Cache[[]types.SearchResult], ttl time.Duration) Option {
	return func(s *Searcher) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithSemanticWeight sets w in w*semantic + (1-w)*lexical
func WithSemanticWeight(w float64) Option {
	return func(s *Searcher) { s.semanticWeight = clamp01(w) }
}

// WithMinSemanticScore sets the cosine threshold for documents with no lexical hit
func WithMinSemanticScore(v float64) Option {
	return func(s *Searcher) { s.minSemanticScore = clamp01(v) }
}

// WithEmbedTimeout bounds the query embedding call
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.embedTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records search latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// New creates a Searcher. Without WithSemantic it ranks lexically.
func New(store storage.Storage, opts ...Option) *Searcher {
	s := &Searcher{
		store:            store,
		cacheTTL:         DefaultCacheTTL,
		semanticWeight:   DefaultSemanticWeight,
		minSemanticScore: DefaultMinSemanticScore,
		embedTimeout:     DefaultEmbedTimeout,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Semantic reports whether the semantic stage is enabled
func (s *Searcher) Semantic() bool {
	return s.embedder != nil && s.semanticWeight > 0
}

// Search returns up to req.Limit results ordered by fused score, then by
// most recent modification, then by path
func (s *Searcher) Search(ctx context.Context, req Request) ([]types.SearchResult, error) {
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}

	var (
		results []types.SearchResult
		err     error
	)
	if s.cache != nil {
		results, err = s.cache.GetOrCompute(ctx, CacheKey(req), s.cacheTTL, func(ctx context.Context) ([]types.SearchResult, error) {
			return s.search(ctx, req)
		})
	} else {
		results, err = s.search(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	// Cached slices are shared between callers
	out := make([]types.SearchResult, len(results))
	copy(out, results)
	return out, nil
}

// ValidateRequest normalizes req and rejects bad arguments before any I/O
func ValidateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	req.Category = strings.TrimSpace(req.Category)

	if req.Query == "" {
		return fmt.Errorf("%w: query must not be empty", types.ErrInvalidArgument)
	}
	if req.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", types.ErrInvalidArgument)
	}
	if req.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must not exceed %d", types.ErrInvalidArgument, MaxLimit)
	}
	if req.Label != nil && !req.Label.Valid() {
		return fmt.Errorf("%w: unknown document type %q", types.ErrInvalidArgument, string(*req.Label))
	}
	return nil
}

// CacheKey identifies a validated request in the result cache
func CacheKey(req Request) string {
	label := ""
	if req.Label != nil {
		label = string(*req.Label)
	}
	h := sha256.New()
	for _, part := range []string{req.Query, label, req.Category, strconv.Itoa(req.Limit)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return CacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// candidate is a document with its partial scores. fresh is set when the
// vector index holds an up-to-date vector for doc.
type candidate struct {
	doc      *storage.Document
	lexical  float64
	semantic float64
	fresh    bool
}

func (s *Searcher) search(ctx context.Context, req Request) ([]types.SearchResult, error) {
	start := time.Now()

	filter := storage.DocumentFilter{Category: req.Category}
	if req.Label != nil {
		filter.Label = *req.Label
	}
	terms := storage.QueryTerms(req.Query)

	// Every match is scored before ranking
	docs, err := s.store.SearchLexical(ctx, req.Query, filter, 0)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	candidates := make(map[int64]*candidate, len(docs))
	var maxLex float64
	for _, doc := range docs {
		lex := LexicalScore(doc, terms)
		if lex <= 0 {
			continue
		}
		candidates[doc.ID] = &candidate{doc: doc, lexical: lex}
		if lex > maxLex {
			maxLex = lex
		}
	}
	for _, c := range candidates {
		c.lexical /= maxLex
	}

	w := 0.0
	mode := metrics.ModeLexical
	if s.Semantic() {
		if err := s.semanticStage(ctx, req.Query, filter, candidates); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("semantic stage failed, ranking lexically",
				zap.String("query", req.Query), zap.Error(err))
		} else {
			w = s.semanticWeight
			mode = metrics.ModeHybrid
		}
	}

	ranked := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	scores := make(map[int64]float64, len(ranked))
	for _, c := range ranked {
		// Without a fresh vector a document ranks lexically
		cw := 0.0
		if c.fresh {
			cw = w
		}
		scores[c.doc.ID] = FuseScores(cw, c.semantic, c.lexical)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if sa, sb := scores[a.doc.ID], scores[b.doc.ID]; sa != sb {
			return sa > sb
		}
		if !a.doc.LastModified.Equal(b.doc.LastModified) {
			return a.doc.LastModified.After(b.doc.LastModified)
		}
		return a.doc.Path < b.doc.Path
	})
	if len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}

	results := make([]types.SearchResult, 0, len(ranked))
	for _, c := range ranked {
		results = append(results, types.SearchResult{
			Path:          c.doc.Path,
			Title:         c.doc.Title,
			Label:         c.doc.Label,
			Category:      c.doc.Category,
			Summary:       c.doc.Summary,
			Tags:          c.doc.Tags,
			Score:         scores[c.doc.ID],
			LexicalScore:  c.lexical,
			SemanticScore: c.semantic,
			Snippet:       Snippet(c.doc.FullText, terms, snippetRadius),
			LastModified:  c.doc.LastModified,
		})
	}

	s.metrics.ObserveSearch(mode, time.Since(start))
	s.logger.Debug("search finished",
		zap.String("query", req.Query),
		zap.String("mode", mode),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)))
	return results, nil
}

// semanticStage scores lexical candidates by cosine similarity and adds
// documents with no lexical hit whose similarity reaches the threshold
func (s *Searcher) semanticStage(ctx context.Context, query string, filter storage.DocumentFilter, candidates map[int64]*candidate) error {
	qvec, err := s.embedQuery(ctx, query)
	if err != nil {
		return err
	}

	snap := s.index.Snapshot()
	for id, c := range candidates {
		if v, ok := snap.Fresh(id, c.doc.ContentHash); ok {
			c.semantic = vectorindex.Similarity(qvec, v)
			c.fresh = true
		}
	}

	var (
		extraIDs []int64
		extra    = make(map[int64]float64)
	)
	for _, id := range snap.IDs() {
		if _, ok := candidates[id]; ok {
			continue
		}
		v, _ := snap.Get(id)
		if sim := vectorindex.Similarity(qvec, v); sim >= s.minSemanticScore {
			extraIDs = append(extraIDs, id)
			extra[id] = sim
		}
	}
	if len(extraIDs) == 0 {
		return nil
	}

	docs, err := s.store.GetDocumentsByIDs(ctx, extraIDs, filter)
	if err != nil {
		return fmt.Errorf("failed to load semantic matches: %w", err)
	}
	for _, doc := range docs {
		// The snapshot may predate the latest content
		if _, ok := snap.Fresh(doc.ID, doc.ContentHash); !ok {
			continue
		}
		candidates[doc.ID] = &candidate{doc: doc, semantic: extra[doc.ID], fresh: true}
	}
	return nil
}

func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	emb, err := s.embedder.GenerateEmbedding(embedCtx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || embedCtx.Err() != nil) {
			return nil, fmt.Errorf("%w: query embedding: %v", types.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return emb.Vector, nil
}

// FuseScores combines a semantic and a lexical score with weight w on the
// semantic side. w is clamped to [0, 1].
func FuseScores(w, semantic, lexical float64) float64 {
	w = clamp01(w)
	return w*semantic + (1-w)*lexical
}

// LexicalScore is the weighted sum over title, summary and full text of the
// mean saturated term frequency of terms in that field. The result is not
// normalized.
func LexicalScore(doc *storage.Document, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	return titleWeight*fieldScore(doc.Title, terms) +
		summaryWeight*fieldScore(doc.Summary, terms) +
		textWeight*fieldScore(doc.FullText, terms)
}

func fieldScore(field string, terms []string) float64 {
	if field == "" {
		return 0
	}
	lower := strings.ToLower(field)
	var sum float64
	for _, t := range terms {
		sum += saturate(float64(strings.Count(lower, t)))
	}
	return sum / float64(len(terms))
}

// saturate maps a term frequency into [0, 1)
func saturate(tf float64) float64 {
	return tf / (tf + 1)
}

// Snippet returns the text within radius runes of the first occurrence of
// any term, with whitespace collapsed. Without a match it returns the
// beginning of the text.
func Snippet(text string, terms []string, radius int) string {
	if text == "" {
		return ""
	}
	runes := []rune(text)
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}

	pos := -1
	for _, t := range terms {
		if i := indexRunes(lower, []rune(t)); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}

	start, end := 0, 2*radius
	if pos >= 0 {
		start, end = pos-radius, pos+radius
	}
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}

	snippet := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(runes) {
		snippet += "…"
	}
	return snippet
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
