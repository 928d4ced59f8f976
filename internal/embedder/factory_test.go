package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvJinaAPIKey, "")

	tests := []struct {
		name     string
		cfg      Config
		wantErr  error
		provider string
	}{
		{"none", Config{Provider: "none"}, ErrNoProviderEnabled, ""},
		{"empty", Config{}, ErrNoProviderEnabled, ""},
		{"local", Config{Provider: "LOCAL"}, nil, ProviderLocal},
		{"openai with key", Config{Provider: "openai", APIKey: "k"}, nil, ProviderOpenAI},
		{"openai without key", Config{Provider: "openai"}, ErrNoProviderEnabled, ""},
		{"jina with key", Config{Provider: "jina", APIKey: "k"}, nil, ProviderJina},
		{"unknown", Config{Provider: "word2vec"}, ErrUnsupportedModel, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, e.Provider())
		})
	}
}

func TestNew_EnvKeyFallback(t *testing.T) {
	t.Setenv(EnvJinaAPIKey, "from-env")
	e, err := New(Config{Provider: "jina"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", e.(*JinaProvider).apiKey)
}

func TestValidProvider(t *testing.T) {
	for _, p := range []string{"", "none", "local", "OpenAI", "jina"} {
		assert.True(t, ValidProvider(p), p)
	}
	assert.False(t, ValidProvider("word2vec"))
}
