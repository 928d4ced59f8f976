// Package embeddertest provides a controllable Embedder for tests.
package embeddertest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/brandnexus-mcp/internal/embedder"
)

// Mock embeds text onto keyword axes: component i is 1 when the lowercased
// text contains Axes[i]. A constant final component keeps vectors non-zero.
type Mock struct {
	Axes      []string
	ModelName string

	// Delay is applied to every call and honors context cancellation
	Delay time.Duration

	mu    sync.Mutex
	err   error
	calls atomic.Int64
}

// New creates a Mock over the given keyword axes
func New(axes ...string) *Mock {
	return &Mock{Axes: axes, ModelName: "mock-v1"}
}

// SetError makes subsequent calls fail with err; nil restores success
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of texts embedded so far
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

// Vector returns the embedding of text without counting a call
func (m *Mock) Vector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(m.Axes)+1)
	for i, axis := range m.Axes {
		if strings.Contains(lower, strings.ToLower(axis)) {
			v[i] = 1
		}
	}
	v[len(m.Axes)] = 0.1
	return v
}

func (m *Mock) embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.calls.Add(1)
	v := m.Vector(text)
	return &embedder.Embedding{
		Vector:    v,
		Dimension: len(v),
		Provider:  m.Provider(),
		Model:     m.Model(),
		Hash:      embedder.ComputeHash(text),
	}, nil
}

func (m *Mock) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if err := embedder.ValidateRequest(req); err != nil {
		return nil, err
	}
	return m.embed(ctx, req.Text)
}

func (m *Mock) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := embedder.ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := m.embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out, Provider: m.Provider(), Model: m.Model()}, nil
}

func (m *Mock) Dimension() int {
	return len(m.Axes) + 1
}

func (m *Mock) Provider() string {
	return "mock"
}

func (m *Mock) Model() string {
	return m.ModelName
}

func (m *Mock) Close() error {
	return nil
}

var _ embedder.Embedder = (*Mock)(nil)
