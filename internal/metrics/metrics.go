// Package metrics defines the prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values
const (
	OutcomeAdded     = "added"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeRemoved   = "removed"

	ModeLexical = "lexical"
	ModeHybrid  = "hybrid"

	CacheHit  = "hit"
	CacheMiss = "miss"

	RefreshEmbedded = "embedded"
	RefreshFailed   = "failed"
)

// Metrics holds the registered collectors
type Metrics struct {
	DocumentsIngested *prometheus.CounterVec
	IngestErrors      prometheus.Counter
	SearchDuration    *prometheus.HistogramVec
	CacheRequests     *prometheus.CounterVec
	VectorRefresh     *prometheus.CounterVec
	Documents         prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DocumentsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandnexus_documents_ingested_total",
				Help: "Documents processed by the ingestion pipeline by outcome",
			},
			[]string{"outcome"},
		),
		IngestErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "brandnexus_ingest_errors_total",
				Help: "Files that failed ingestion",
			},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brandnexus_search_duration_seconds",
				Help:    "Search latency in seconds, cache misses only",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandnexus_cache_requests_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		VectorRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandnexus_vector_refresh_total",
				Help: "Documents processed by the vector refresher by outcome",
			},
			[]string{"outcome"},
		),
		Documents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brandnexus_documents",
				Help: "Documents in the index",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.DocumentsIngested, m.IngestErrors, m.SearchDuration,
		m.CacheRequests, m.VectorRefresh, m.Documents,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IngestError() {
	if m == nil {
		return
	}
	m.IngestErrors.Inc()
}

func (m *Metrics) ObserveSearch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) Refreshed(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.VectorRefresh.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) SetDocuments(n int) {
	if m == nil {
		return
	}
	m.Documents.Set(float64(n))
}

// Serve exposes g on addr at /metrics until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
