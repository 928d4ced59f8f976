package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/brandnexus-mcp/internal/cache"
	"github.com/dshills/brandnexus-mcp/internal/classifier"
	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/internal/extractor"
	"github.com/dshills/brandnexus-mcp/internal/logging"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// EnvPrefix is the prefix of environment overrides, e.g. BRANDNEXUS_DATABASE_PATH
const EnvPrefix = "BRANDNEXUS"

type Config struct {
	Roots      []string         `mapstructure:"roots"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Index      IndexConfig      `mapstructure:"index"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Search     SearchConfig     `mapstructure:"search"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type IndexConfig struct {
	Workers      int      `mapstructure:"workers"`
	Extensions   []string `mapstructure:"extensions"`
	Excludes     []string `mapstructure:"excludes"`
	MaxFileSize  int64    `mapstructure:"max_file_size"`
	SummaryWords int      `mapstructure:"summary_words"`
	SummaryChars int      `mapstructure:"summary_chars"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
	Workers  int           `mapstructure:"workers"`
	Queue    int           `mapstructure:"queue"`
}

// ScheduleConfig holds cron specs; an empty spec disables the job
type ScheduleConfig struct {
	Rescan  string `mapstructure:"rescan"`
	Vectors string `mapstructure:"vectors"`
}

type SearchConfig struct {
	MaxResults       int     `mapstructure:"max_results"`
	SemanticWeight   float64 `mapstructure:"semantic_weight"`
	MinSemanticScore float64 `mapstructure:"min_semantic_score"`
}

type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	StatsTTL time.Duration `mapstructure:"stats_ttl"`
	Size     int           `mapstructure:"size"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// RedisConfig enables the shared cache backend when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ClassifierConfig struct {
	Threshold   float64 `mapstructure:"threshold"`
	MinExamples int     `mapstructure:"min_examples"`
}

type EmbeddingConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Rate     float64       `mapstructure:"rate"`
	Workers  int           `mapstructure:"workers"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig serves Prometheus metrics on Addr when set
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from path, or from brandnexus.{yaml,toml,json}
// in the usual search paths when path is empty. Environment variables
// prefixed with BRANDNEXUS_ override file values; a missing config file is
// not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("brandnexus")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".brandnexus"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// Default returns the built-in configuration with environment overrides
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		// Defaults always decode
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)
	for i, r := range cfg.Roots {
		cfg.Roots[i] = expandHome(r)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("roots", []string{})
	v.SetDefault("database.path", defaultDatabasePath())

	v.SetDefault("index.workers", 4)
	v.SetDefault("index.extensions", contentstore.DefaultExtensions)
	v.SetDefault("index.excludes", contentstore.DefaultExcludes)
	v.SetDefault("index.max_file_size", contentstore.DefaultMaxFileSize)
	v.SetDefault("index.summary_words", extractor.DefaultSummaryWords)
	v.SetDefault("index.summary_chars", extractor.DefaultSummaryChars)

	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", "1s")
	v.SetDefault("watch.workers", 4)
	v.SetDefault("watch.queue", 1024)

	v.SetDefault("schedule.rescan", "")
	v.SetDefault("schedule.vectors", "@every 5m")

	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.semantic_weight", 0.7)
	v.SetDefault("search.min_semantic_score", 0.35)

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.stats_ttl", "10m")
	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("classifier.threshold", classifier.DefaultThreshold)
	v.SetDefault("classifier.min_examples", classifier.DefaultMinExamples)

	v.SetDefault("embedding.provider", embedder.ProviderNone)
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.timeout", "10s")
	v.SetDefault("embedding.rate", 10.0)
	v.SetDefault("embedding.workers", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("metrics.addr", "")
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "brandnexus.db"
	}
	return filepath.Join(home, ".brandnexus", "brandnexus.db")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate reports every invalid setting at once. The error wraps
// types.ErrInvalidArgument.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Database.Path == "" {
		add("database.path must be set")
	}
	if c.Index.Workers <= 0 {
		add("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Watch.Workers <= 0 {
		add("watch.workers must be positive, got %d", c.Watch.Workers)
	}
	if c.Watch.Debounce <= 0 {
		add("watch.debounce must be positive, got %s", c.Watch.Debounce)
	}
	if c.Embedding.Workers <= 0 {
		add("embedding.workers must be positive, got %d", c.Embedding.Workers)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		add("search.semantic_weight must be within [0, 1], got %g", c.Search.SemanticWeight)
	}
	if c.Search.MinSemanticScore < 0 || c.Search.MinSemanticScore > 1 {
		add("search.min_semantic_score must be within [0, 1], got %g", c.Search.MinSemanticScore)
	}
	if c.Search.MaxResults <= 0 || c.Search.MaxResults > 100 {
		add("search.max_results must be within [1, 100], got %d", c.Search.MaxResults)
	}
	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold > 1 {
		add("classifier.threshold must be within (0, 1], got %g", c.Classifier.Threshold)
	}
	if !embedder.ValidProvider(c.Embedding.Provider) {
		add("embedding.provider %q is not one of none, local, openai, jina", c.Embedding.Provider)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidArgument, strings.Join(problems, "; "))
	}
	return nil
}

// ContentOptions returns the content store options
func (c *Config) ContentOptions() contentstore.Options {
	return contentstore.Options{
		Extensions:  c.Index.Extensions,
		Excludes:    c.Index.Excludes,
		MaxFileSize: c.Index.MaxFileSize,
	}
}

// ExtractorOptions returns the metadata extractor options
func (c *Config) ExtractorOptions() extractor.Options {
	return extractor.Options{
		SummaryWords: c.Index.SummaryWords,
		SummaryChars: c.Index.SummaryChars,
	}
}

// EmbedderConfig returns the embedding provider configuration
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		Timeout:   c.Embedding.Timeout,
		CacheSize: c.Cache.Size,
		CacheTTL:  c.Cache.TTL,
	}
}

// LoggerConfig returns the logger configuration
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// RedisOptions returns the shared cache options, or nil when Redis is not configured
func (c *Config) RedisOptions() *cache.RedisOptions {
	if c.Cache.Redis.Addr == "" {
		return nil
	}
	return &cache.RedisOptions{
		Addr:     c.Cache.Redis.Addr,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
	}
}
