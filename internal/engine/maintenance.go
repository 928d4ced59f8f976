package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/classifier"
	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/schedule"
	"github.com/dshills/brandnexus-mcp/internal/storage"
	"github.com/dshills/brandnexus-mcp/internal/vectorindex"
	"github.com/dshills/brandnexus-mcp/internal/watcher"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthReport describes the state of the store, roots and vectors
type HealthReport struct {
	Status       string          `json:"status"`
	Database     DatabaseHealth  `json:"database"`
	Roots        map[string]bool `json:"roots"` // root -> accessible
	Issues       []string        `json:"issues"`
	Classifier   string          `json:"classifier"`
	VectorModel  string          `json:"vector_model,omitempty"`
	VectorsFresh int             `json:"vectors_fresh"`
	VectorsStale int             `json:"vectors_stale"`
}

type DatabaseHealth struct {
	OK        bool   `json:"ok"`
	Documents int    `json:"documents"`
	Error     string `json:"error,omitempty"`
}

// Health checks the store, every configured root and vector freshness
func (e *Engine) Health(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		Status:     StatusHealthy,
		Roots:      make(map[string]bool, len(e.cfg.Roots)),
		Issues:     []string{},
		Classifier: "rules",
	}
	if _, err := e.classifier.Model(); err == nil {
		report.Classifier = "rules+model"
	}

	if err := e.store.Ping(ctx); err != nil {
		report.Status = StatusUnhealthy
		report.Database.Error = err.Error()
		report.Issues = append(report.Issues, "database unreachable")
		return report, nil
	}
	report.Database.OK = true
	if n, err := e.store.CountDocuments(ctx); err == nil {
		report.Database.Documents = n
	}

	for _, r := range e.cfg.Roots {
		root, err := contentstore.NormalizeRoot(r)
		if err != nil {
			root = r
		}
		info, err := os.Stat(root)
		ok := err == nil && info.IsDir()
		report.Roots[root] = ok
		if !ok {
			report.Issues = append(report.Issues, fmt.Sprintf("content root %s is not accessible", root))
		}
	}
	if len(e.cfg.Roots) == 0 {
		report.Issues = append(report.Issues, "no content roots configured")
	}

	if e.vectors != nil {
		report.VectorModel = e.vectors.ModelVersion()
		counts, err := e.store.CountVectors(ctx, report.VectorModel)
		if err == nil {
			report.VectorsFresh = counts.Fresh
			report.VectorsStale = counts.Stale
		}
	}

	if len(report.Issues) > 0 {
		report.Status = StatusDegraded
	}
	return report, nil
}

// TrainResult summarizes a classifier training run
type TrainResult struct {
	Examples   int           `json:"examples"`
	Labels     []types.Label `json:"labels"`
	Vocabulary int           `json:"vocabulary"`
}

// TrainClassifier fits the statistical fallback from every stored document
// with a known label, persists it and installs it for later ingestion.
// Too few examples yield types.ErrInsufficientData.
func (e *Engine) TrainClassifier(ctx context.Context) (*TrainResult, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	docs, err := e.store.ListDocuments(ctx, storage.DocumentFilter{})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		if d.Label != types.LabelUnknown {
			ids = append(ids, d.ID)
		}
	}

	examples := make([]classifier.LabeledDocument, 0, len(ids))
	for start := 0; start < len(ids); start += trainBatch {
		end := start + trainBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := e.store.GetDocumentsByIDs(ctx, ids[start:end], storage.DocumentFilter{})
		if err != nil {
			return nil, err
		}
		for _, d := range batch {
			examples = append(examples, classifier.LabeledDocument{
				Path:    d.Path,
				Content: d.FullText,
				Label:   d.Label,
			})
		}
	}

	model, err := classifier.Train(examples, e.cfg.Classifier.MinExamples)
	if err != nil {
		return nil, err
	}
	data, err := classifier.MarshalModel(model)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetMeta(ctx, metaClassifierModel, data); err != nil {
		return nil, err
	}
	e.classifier.SetModel(model)

	e.logger.Info("classifier trained",
		zap.Int("examples", model.Examples),
		zap.Int("vocabulary", model.Vocabulary))
	return &TrainResult{
		Examples:   model.Examples,
		Labels:     model.Labels,
		Vocabulary: model.Vocabulary,
	}, nil
}

// RefreshVectors embeds stale documents once. It fails with
// embedder.ErrNoProviderEnabled when search is lexical only.
func (e *Engine) RefreshVectors(ctx context.Context) (*vectorindex.RefreshResult, error) {
	if e.refresher == nil {
		return nil, embedder.ErrNoProviderEnabled
	}
	return e.refresher.RunOnce(ctx)
}

// StartWatching follows file changes under the configured roots until ctx
// is done or Close is called
func (e *Engine) StartWatching(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return types.ErrStoreUnavailable
	}
	if e.watcher != nil {
		return nil
	}
	if len(e.cfg.Roots) == 0 {
		return fmt.Errorf("%w: no content roots configured", types.ErrInvalidArgument)
	}

	w, err := watcher.New(e.content, watcher.IndexHandler(e.indexer), watcher.Config{
		Roots:    e.cfg.Roots,
		Debounce: e.cfg.Watch.Debounce,
		Workers:  e.cfg.Watch.Workers,
		Queue:    e.cfg.Watch.Queue,
	}, e.logger.Named("watcher"))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	e.watcher = w
	return nil
}

// FlushWatcher handles every pending file event now
func (e *Engine) FlushWatcher() {
	e.mu.Lock()
	w := e.watcher
	e.mu.Unlock()
	if w != nil {
		w.Flush()
	}
}

// Start runs the background work enabled in the configuration: the vector
// refresher, the file watcher and the scheduled rescan and vector jobs
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return types.ErrStoreUnavailable
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if e.refresher != nil {
		e.refresher.Start(ctx)
		e.refresher.Nudge()
	}

	if e.cfg.Watch.Enabled && len(e.cfg.Roots) > 0 {
		if err := e.StartWatching(ctx); err != nil {
			return err
		}
	}

	s := schedule.NewCronScheduler(e.logger.Named("schedule"))
	if spec := e.cfg.Schedule.Rescan; spec != "" {
		err := s.AddJob(schedule.JobFunc("rescan", func(ctx context.Context) error {
			_, err := e.IndexCorpus(ctx, nil)
			return err
		}), spec)
		if err != nil {
			return err
		}
	}
	if spec := e.cfg.Schedule.Vectors; spec != "" && e.refresher != nil {
		err := s.AddJob(schedule.JobFunc("vectors", func(ctx context.Context) error {
			_, err := e.RefreshVectors(ctx)
			return err
		}), spec)
		if err != nil {
			return err
		}
	}
	if s.Jobs() > 0 {
		s.Start(ctx)
		e.mu.Lock()
		e.scheduler = s
		e.mu.Unlock()
	}
	return nil
}

// Close stops background work and releases every resource. It is safe to
// call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w, s := e.watcher, e.scheduler
	e.mu.Unlock()

	if e.stop != nil {
		e.stop()
	}

	if s != nil {
		s.Stop()
	}
	if w != nil {
		w.Stop()
	}
	if e.refresher != nil {
		e.refresher.Close()
	}
	// Wait for writes in flight
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
