package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string // override for OpenAI-compatible or Jina endpoints
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Retry     *RetryConfig
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c Config) retryConfig() RetryConfig {
	if c.Retry != nil {
		return *c.Retry
	}
	return DefaultRetryConfig()
}

// New creates an embedder with explicit configuration. The "none" provider
// and an empty provider return ErrNoProviderEnabled, which callers treat as
// lexical-only operation. API keys fall back to OPENAI_API_KEY and
// JINA_API_KEY.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize >= 0 {
		cache = NewCache(cfg.CacheSize, cfg.CacheTTL)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderNone:
		return nil, ErrNoProviderEnabled
	case ProviderJina:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv(EnvJinaAPIKey)
		}
		return NewJinaProvider(cfg, cache)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
		return NewOpenAIProvider(cfg, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// ValidProvider reports whether name is a known provider, including "none"
func ValidProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderNone, ProviderJina, ProviderOpenAI, ProviderLocal:
		return true
	}
	return false
}
