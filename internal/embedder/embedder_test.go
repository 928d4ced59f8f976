package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeHash(""))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ComputeHash("hello world"))
	assert.Equal(t, ComputeHash("test"), ComputeHash("test"))
}

func TestCache(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		c := NewCache(10, time.Minute)
		c.Set("h", &Embedding{Vector: []float32{1, 2}, Dimension: 2})

		got, ok := c.Get("h")
		require.True(t, ok)
		got.Vector[0] = 99

		again, ok := c.Get("h")
		require.True(t, ok)
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewCache(2, time.Minute)
		c.Set("a", &Embedding{})
		c.Set("b", &Embedding{})
		c.Set("c", &Embedding{})

		assert.Equal(t, 2, c.Size())
		_, ok := c.Get("a")
		assert.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewCache(10, 20*time.Millisecond)
		c.Set("a", &Embedding{})
		assert.Eventually(t, func() bool {
			_, ok := c.Get("a")
			return !ok
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("clear", func(t *testing.T) {
		c := NewCache(0, 0)
		c.Set("a", &Embedding{})
		c.Clear()
		assert.Equal(t, 0, c.Size())
	})
}

func TestValidateBatchRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", ""}}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: make([]string, MaxBatchSize+1)}), ErrBatchTooLarge)
	assert.NoError(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a"}}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestModelVersion(t *testing.T) {
	local, err := NewLocalProvider(nil)
	require.NoError(t, err)
	assert.Equal(t, "local:hash-v1", ModelVersion(local))
	assert.Equal(t, "", ModelVersion(nil))
}

func TestCachedBatch(t *testing.T) {
	cache := NewCache(10, time.Minute)
	cache.Set(ComputeHash("cached"), &Embedding{Vector: []float32{1}})

	var fetched []string
	fetch := func(_ context.Context, texts []string) ([]*Embedding, error) {
		fetched = append(fetched, texts...)
		out := make([]*Embedding, len(texts))
		for i := range texts {
			out[i] = &Embedding{Vector: []float32{float32(i + 2)}}
		}
		return out, nil
	}

	got, err := cachedBatch(context.Background(), cache, []string{"new", "cached", "other"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "other"}, fetched)
	require.Len(t, got, 3)
	assert.Equal(t, []float32{2}, got[0].Vector)
	assert.Equal(t, []float32{1}, got[1].Vector)
	assert.Equal(t, []float32{3}, got[2].Vector)
	assert.Equal(t, ComputeHash("other"), got[2].Hash)

	t.Run("short response is an error", func(t *testing.T) {
		_, err := cachedBatch(context.Background(), nil, []string{"x", "y"}, func(context.Context, []string) ([]*Embedding, error) {
			return []*Embedding{{}}, nil
		})
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("fetch error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := cachedBatch(context.Background(), nil, []string{"x"}, func(context.Context, []string) ([]*Embedding, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}
