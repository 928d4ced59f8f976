package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/brandnexus-mcp/internal/classifier"
	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/extractor"
	"github.com/dshills/brandnexus-mcp/internal/metrics"
	"github.com/dshills/brandnexus-mcp/internal/storage"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// DefaultWorkers is the ingestion concurrency of a full rescan
const DefaultWorkers = 4

// ErrIndexingInProgress is returned when a full rescan is already running
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Outcome describes what ingesting one path did to the index
type Outcome int

const (
	OutcomeAdded Outcome = iota
	OutcomeUpdated
	OutcomeUnchanged
	OutcomeRemoved
	OutcomeSkipped // nothing to do, e.g. a delete event for an unknown path
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return metrics.OutcomeAdded
	case OutcomeUpdated:
		return metrics.OutcomeUpdated
	case OutcomeUnchanged:
		return metrics.OutcomeUnchanged
	case OutcomeRemoved:
		return metrics.OutcomeRemoved
	default:
		return "skipped"
	}
}

// FileError records a per-file failure. It wraps types.ErrIngestion.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Result summarizes a full rescan
type Result struct {
	RunID          string
	Indexed        int // files ingested successfully: added, updated or unchanged
	Updated        int // records written: added or updated
	Added          int
	Unchanged      int
	Deleted        int
	Failed         int
	Errors         []FileError
	LabelHistogram map[types.Label]int
	Duration       time.Duration
	Cancelled      bool
}

// Nudger is notified after documents change so that vectors get refreshed
type Nudger interface {
	Nudge()
}

// Indexer coordinates the ingestion pipeline: read -> hash -> classify -> extract -> store
type Indexer struct {
	store      storage.Storage
	content    *contentstore.Store
	classifier *classifier.Classifier
	extractor  *extractor.Extractor

	workers    int
	lock       IndexLock
	paths      *pathLocks
	logger     *zap.Logger
	metrics    *metrics.Metrics
	invalidate func(context.Context)
	onRun      func(context.Context)
	nudger     Nudger
}

// Option configures an Indexer
type Option func(*Indexer)

// WithWorkers sets the rescan concurrency
func WithWorkers(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithMetrics records ingestion outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithInvalidate registers a callback run after every successful write
func WithInvalidate(fn func(context.Context)) Option {
	return func(idx *Indexer) { idx.invalidate = fn }
}

// WithRunRecorded registers a callback run after each index run is recorded
func WithRunRecorded(fn func(context.Context)) Option {
	return func(idx *Indexer) { idx.onRun = fn }
}

// WithNudger registers the vector refresher to notify after writes
func WithNudger(n Nudger) Option {
	return func(idx *Indexer) { idx.nudger = n }
}

// New creates a new Indexer
func New(store storage.Storage, content *contentstore.Store, cls *classifier.Classifier, ext *extractor.Extractor, opts ...Option) *Indexer {
	idx := &Indexer{
		store:      store,
		content:    content,
		classifier: cls,
		extractor:  ext,
		workers:    DefaultWorkers,
		paths:      newPathLocks(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// SetNudger replaces the vector refresher notified after writes
func (idx *Indexer) SetNudger(n Nudger) {
	idx.nudger = n
}

// IndexCorpus scans every root, ingests each candidate file and removes
// records whose files are gone. Per-file failures are collected in the
// result. Cancelling ctx stops scheduling new files; committed work is kept
// and the partial result is returned together with ctx.Err().
func (idx *Indexer) IndexCorpus(ctx context.Context, roots []string) (*Result, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	result := &Result{
		RunID:          uuid.NewString(),
		LabelHistogram: make(map[types.Label]int),
	}
	var mu sync.Mutex // Protects result

	addError := func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Failed++
		result.Errors = append(result.Errors, FileError{Path: path, Err: err})
	}

	owners := make(map[string]string) // canonical path -> root that claimed it this run
	for _, rawRoot := range dedupeRoots(roots) {
		if ctx.Err() != nil {
			break
		}

		root, err := contentstore.NormalizeRoot(rawRoot)
		if err != nil {
			addError(rawRoot, fmt.Errorf("%w: %v", types.ErrIngestion, err))
			continue
		}

		seen := make(map[string]bool)
		var unreadable []string // entries the walk could not read; the sweep keeps their records
		g := new(errgroup.Group)
		g.SetLimit(idx.workers)

		walkErr := idx.content.Walk(ctx, root, func(c contentstore.Candidate) error {
			if owner, ok := owners[c.Rel]; ok && owner != root {
				addError(c.Abs, fmt.Errorf("%w: path %s already indexed from root %s", types.ErrIngestion, c.Rel, owner))
				return nil
			}
			owners[c.Rel] = root
			seen[c.Rel] = true

			g.Go(func() error {
				outcome, label, err := idx.IngestFile(ctx, c.Root, c.Rel)
				if err != nil {
					addError(c.Rel, err)
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case OutcomeAdded:
					result.Added++
					result.Updated++
				case OutcomeUpdated:
					result.Updated++
				case OutcomeUnchanged:
					result.Unchanged++
				case OutcomeRemoved:
					result.Deleted++
					return nil
				default:
					return nil
				}
				result.Indexed++
				result.LabelHistogram[label]++
				return nil
			})
			return nil
		}, func(rel string, err error) {
			unreadable = append(unreadable, rel)
			addError(rel, fmt.Errorf("%w: %v", types.ErrIngestion, err))
		})
		_ = g.Wait()

		switch {
		case walkErr == nil:
			if ctx.Err() == nil {
				idx.sweep(ctx, root, seen, unreadable, result, &mu, addError)
			}
		case errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded):
			// Reported through ctx below
		case errors.Is(walkErr, types.ErrNotFound):
			addError(root, fmt.Errorf("%w: root does not exist", types.ErrIngestion))
		default:
			addError(root, fmt.Errorf("%w: %v", types.ErrIngestion, walkErr))
		}
	}

	result.Cancelled = ctx.Err() != nil
	result.Duration = time.Since(start)
	idx.recordRun(ctx, start, result)

	idx.logger.Info("index run finished",
		zap.String("run_id", result.RunID),
		zap.Int("indexed", result.Indexed),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("failed", result.Failed),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("duration", result.Duration))

	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// sweep deletes records under root that the completed walk did not see,
// except those at or below an unreadable entry
func (idx *Indexer) sweep(ctx context.Context, root string, seen map[string]bool, unreadable []string, result *Result, mu *sync.Mutex, addError func(string, error)) {
	paths, err := idx.store.ListDocumentPaths(ctx, root)
	if err != nil {
		addError(root, fmt.Errorf("%w: failed to list indexed paths: %v", types.ErrIngestion, err))
		return
	}

	for _, p := range paths {
		if seen[p] || under(p, unreadable) {
			continue
		}
		removed, err := idx.RemovePath(ctx, root, p)
		if err != nil {
			addError(p, err)
			continue
		}
		if removed {
			mu.Lock()
			result.Deleted++
			mu.Unlock()
		}
	}
}

func (idx *Indexer) recordRun(ctx context.Context, start time.Time, result *Result) {
	// The run is recorded even when ctx was cancelled
	ctx = context.WithoutCancel(ctx)

	run := &storage.IndexRun{
		RunID:      result.RunID,
		StartedAt:  start,
		FinishedAt: start.Add(result.Duration),
		Indexed:    result.Indexed,
		Updated:    result.Updated,
		Deleted:    result.Deleted,
		Failed:     result.Failed,
		Cancelled:  result.Cancelled,
	}
	if err := idx.store.RecordIndexRun(ctx, run); err != nil {
		idx.logger.Warn("failed to record index run", zap.String("run_id", result.RunID), zap.Error(err))
	} else if idx.onRun != nil {
		idx.onRun(ctx)
	}

	if n, err := idx.store.CountDocuments(ctx); err == nil {
		idx.metrics.SetDocuments(n)
	}
}

// IngestFile brings the record for rel under root in line with the file on
// disk. Identical content is left untouched; a vanished file is removed.
// It returns the outcome and the label now stored for the path.
func (idx *Indexer) IngestFile(ctx context.Context, root, rel string) (Outcome, types.Label, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeSkipped, "", err
	}

	unlock := idx.paths.lock(rel)
	defer unlock()

	outcome, label, err := idx.ingestLocked(ctx, root, rel)
	if err != nil {
		idx.metrics.IngestError()
		idx.logger.Warn("ingest failed", zap.String("path", rel), zap.Error(err))
		return outcome, label, err
	}
	idx.metrics.Ingested(outcome.String())
	return outcome, label, nil
}

func (idx *Indexer) ingestLocked(ctx context.Context, root, rel string) (Outcome, types.Label, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))

	data, modTime, err := idx.content.Read(abs)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			removed, err := idx.removeLocked(ctx, root, rel)
			if err != nil {
				return OutcomeSkipped, "", err
			}
			if removed {
				return OutcomeRemoved, "", nil
			}
			return OutcomeSkipped, "", nil
		}
		return OutcomeSkipped, "", fmt.Errorf("%w: read failed: %v", types.ErrIngestion, err)
	}

	hash := contentstore.Hash(data)
	outcome := OutcomeAdded

	state, err := idx.store.GetDocumentState(ctx, rel)
	switch {
	case err == nil:
		if state.Root != root && idx.content.Exists(filepath.Join(state.Root, filepath.FromSlash(rel))) {
			return OutcomeSkipped, "", fmt.Errorf("%w: path %s already indexed from root %s", types.ErrIngestion, rel, state.Root)
		}
		if state.Root == root && state.ContentHash == hash {
			return OutcomeUnchanged, state.Label, nil
		}
		outcome = OutcomeUpdated
	case errors.Is(err, types.ErrNotFound):
	default:
		return OutcomeSkipped, "", fmt.Errorf("%w: %v", types.ErrIngestion, err)
	}

	meta, err := idx.extractor.Extract(rel, data)
	if err != nil {
		return OutcomeSkipped, "", fmt.Errorf("%w: extract failed: %v", types.ErrIngestion, err)
	}
	label := idx.classifier.Classify(rel, string(data))

	doc := &storage.Document{
		Path:         rel,
		Root:         root,
		Title:        meta.Title,
		Label:        label,
		Category:     meta.Category,
		LastModified: modTime,
		ContentHash:  hash,
		Tags:         meta.Tags,
		Mentions:     meta.Mentions,
		Summary:      meta.Summary,
		WordCount:    meta.WordCount,
		SizeBytes:    int64(len(data)),
		FullText:     string(data),
		IndexedAt:    time.Now(),
	}

	if err := idx.write(ctx, doc); err != nil {
		return OutcomeSkipped, "", fmt.Errorf("%w: %v", types.ErrIngestion, err)
	}

	idx.changed(ctx)
	return outcome, label, nil
}

// write upserts doc in its own transaction
func (idx *Indexer) write(ctx context.Context, doc *storage.Document) error {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertDocument(ctx, doc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RemovePath deletes the record for rel if root owns it. A missing record
// is not an error. It reports whether a record was removed.
func (idx *Indexer) RemovePath(ctx context.Context, root, rel string) (bool, error) {
	unlock := idx.paths.lock(rel)
	defer unlock()

	removed, err := idx.removeLocked(ctx, root, rel)
	if err != nil {
		idx.metrics.IngestError()
		return false, err
	}
	if removed {
		idx.metrics.Ingested(metrics.OutcomeRemoved)
	}
	return removed, nil
}

func (idx *Indexer) removeLocked(ctx context.Context, root, rel string) (bool, error) {
	state, err := idx.store.GetDocumentState(ctx, rel)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrIngestion, err)
	}
	if state.Root != root {
		// Another root owns the record
		return false, nil
	}

	if err := idx.store.DeleteDocument(ctx, rel); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: delete failed: %v", types.ErrIngestion, err)
	}

	idx.logger.Debug("document removed", zap.String("path", rel))
	idx.changed(ctx)
	return true, nil
}

// changed runs the post-write hooks
func (idx *Indexer) changed(ctx context.Context) {
	if idx.invalidate != nil {
		idx.invalidate(ctx)
	}
	if idx.nudger != nil {
		idx.nudger.Nudge()
	}
}

// under reports whether rel equals or lies below one of dirs
func under(rel string, dirs []string) bool {
	for _, d := range dirs {
		if rel == d || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}

func dedupeRoots(roots []string) []string {
	seen := make(map[string]bool, len(roots))
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		key := filepath.Clean(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
