package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	p, err := NewLocalProvider(NewCache(10, time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("deterministic unit vectors", func(t *testing.T) {
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Logo usage guidelines"})
		require.NoError(t, err)
		b, err := NewLocalProvider(nil)
		require.NoError(t, err)
		again, err := b.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Logo usage guidelines"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, again.Vector)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, cosine(a.Vector, a.Vector), 1e-6)
		assert.Equal(t, ProviderLocal, a.Provider)
		assert.Equal(t, LocalModel, a.Model)
	})

	t.Run("shared words are closer", func(t *testing.T) {
		batch, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
			"logo placement and logo colors",
			"logo colors",
			"quarterly revenue forecast",
		}})
		require.NoError(t, err)
		require.Len(t, batch.Embeddings, 3)

		related := cosine(batch.Embeddings[0].Vector, batch.Embeddings[1].Vector)
		unrelated := cosine(batch.Embeddings[0].Vector, batch.Embeddings[2].Vector)
		assert.Greater(t, related, unrelated)
		assert.Greater(t, related, 0.4)
	})

	t.Run("case insensitive", func(t *testing.T) {
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Brand VOICE"})
		require.NoError(t, err)
		b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "brand voice"})
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.GenerateEmbedding(cctx, EmbeddingRequest{Text: "never embedded before"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func embeddingsHandler(t *testing.T, calls *atomic.Int32, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"message": "rejected", "type": "invalid_request_error"},
			})
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Reverse order to check that results are re-sorted by index
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "test-model",
			"data":   data,
		})
	}
}

func TestJinaProvider(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(embeddingsHandler(t, &calls, http.StatusOK))
	defer server.Close()

	p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry()}, NewCache(10, time.Minute))
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{1, 1}, resp.Embeddings[1].Vector)
	assert.Equal(t, "jina:"+DefaultJinaModel, ModelVersion(p))

	// Second call is served from cache
	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestJinaProvider_Errors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := NewJinaProvider(Config{}, nil)
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(embeddingsHandler(t, &calls, http.StatusUnauthorized))
		defer server.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry()}, nil)
		require.NoError(t, err)

		_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(embeddingsHandler(t, &calls, http.StatusBadGateway))
		defer server.Close()

		p, err := NewJinaProvider(Config{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry()}, nil)
		require.NoError(t, err)

		_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestOpenAIProvider(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", embeddingsHandler(t, &calls, http.StatusOK))
	server := httptest.NewServer(mux)
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", Retry: fastRetry()}, nil)
	require.NoError(t, err)

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"x", "y", "z"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, []float32{2, 1}, resp.Embeddings[2].Vector)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, 1536, p.Dimension())
	assert.Equal(t, "openai:text-embedding-3-small", ModelVersion(p))
}

func TestOpenAIProvider_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", embeddingsHandler(t, &calls, http.StatusBadRequest))
	server := httptest.NewServer(mux)
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL + "/v1", Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := retryWithBackoff(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}, func() (int, error) {
		attempts++
		cancel()
		return 0, assert.AnError
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}
