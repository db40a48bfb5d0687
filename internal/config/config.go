// Package config holds every tunable of the ingestion pipeline, job queue and
// retrieval engine in one place. Values resolve in order: defaults, an
// optional YAML file, then IKE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidWorkers   = errors.New("workers must be positive")
	ErrInvalidBacklog   = errors.New("backlog must be positive")
	ErrInvalidChunkSize = errors.New("max chunk size must be positive")
	ErrInvalidOverlap   = errors.New("overlap size must be between 0 and max chunk size")
	ErrInvalidAttempts  = errors.New("retry attempts must be positive")
	ErrInvalidTopK      = errors.New("top k must be positive")
	ErrInvalidBatchSize = errors.New("embed batch size must be positive")
)

// QueueConfig sizes the worker pool and the pending backlog.
type QueueConfig struct {
	Workers int `yaml:"workers"`
	Backlog int `yaml:"backlog"`
}

// PipelineConfig configures the ingestion stages.
type PipelineConfig struct {
	ChunkStrategy       string        `yaml:"chunk_strategy"`
	MaxChunkSize        int           `yaml:"max_chunk_size"`
	OverlapSize         int           `yaml:"overlap_size"`
	EmbedBatchSize      int           `yaml:"embed_batch_size"`
	EmbedConcurrency    int           `yaml:"embed_concurrency"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	PersistTimeout      time.Duration `yaml:"persist_timeout"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
	RatePerHost  float64 `yaml:"rate_per_host"`
	UserAgent    string  `yaml:"user_agent"`
}

// RetrievalConfig configures the retrieval engine.
type RetrievalConfig struct {
	TopK           int `yaml:"top_k"`
	Overfetch      int `yaml:"overfetch"`
	MaxPromptChars int `yaml:"max_prompt_chars"`
	SnippetChars   int `yaml:"snippet_chars"`
}

// EmbedderConfig selects the embedding model.
type EmbedderConfig struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BaseURL   string `yaml:"base_url"`
}

// GeneratorConfig selects the answer generator.
type GeneratorConfig struct {
	Type    string `yaml:"type"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig locates the vector store.
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the root configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Queue     QueueConfig     `yaml:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		LogLevel: "error",
		Queue: QueueConfig{
			Workers: 4,
			Backlog: 256,
		},
		Pipeline: PipelineConfig{
			ChunkStrategy:       "text",
			MaxChunkSize:        1000,
			OverlapSize:         100,
			EmbedBatchSize:      32,
			EmbedConcurrency:    2,
			RetryAttempts:       3,
			RetryInitialBackoff: 500 * time.Millisecond,
			RetryMaxBackoff:     8 * time.Second,
			FetchTimeout:        30 * time.Second,
			EmbedTimeout:        30 * time.Second,
			PersistTimeout:      30 * time.Second,
		},
		Fetch: FetchConfig{
			MaxBodyBytes: 10 << 20,
			RatePerHost:  2,
			UserAgent:    "ike-rag/1.0",
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			Overfetch:      3,
			MaxPromptChars: 4000,
			SnippetChars:   200,
		},
		Embedder: EmbedderConfig{
			Type:      "hash",
			Dimension: 256,
		},
		Generator: GeneratorConfig{
			Type: "extractive",
		},
		Database: DatabaseConfig{
			URL: "file:ike.db",
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}
}

// Load resolves the configuration. path may be empty; a missing file at an
// explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("IKE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot honor.
func (c *Config) Validate() error {
	switch {
	case c.Queue.Workers <= 0:
		return ErrInvalidWorkers
	case c.Queue.Backlog <= 0:
		return ErrInvalidBacklog
	case c.Pipeline.MaxChunkSize <= 0:
		return ErrInvalidChunkSize
	case c.Pipeline.OverlapSize < 0 || c.Pipeline.OverlapSize >= c.Pipeline.MaxChunkSize:
		return ErrInvalidOverlap
	case c.Pipeline.RetryAttempts <= 0:
		return ErrInvalidAttempts
	case c.Pipeline.EmbedBatchSize <= 0:
		return ErrInvalidBatchSize
	case c.Retrieval.TopK <= 0:
		return ErrInvalidTopK
	}
	return nil
}

// ProcessingOptions projects the pipeline settings.
func (c *Config) ProcessingOptions() *interfaces.ProcessingOptions {
	return &interfaces.ProcessingOptions{
		ChunkStrategy:       c.Pipeline.ChunkStrategy,
		MaxChunkSize:        c.Pipeline.MaxChunkSize,
		OverlapSize:         c.Pipeline.OverlapSize,
		EmbedBatchSize:      c.Pipeline.EmbedBatchSize,
		EmbedConcurrency:    c.Pipeline.EmbedConcurrency,
		RetryAttempts:       c.Pipeline.RetryAttempts,
		RetryInitialBackoff: c.Pipeline.RetryInitialBackoff,
		RetryMaxBackoff:     c.Pipeline.RetryMaxBackoff,
		FetchTimeout:        c.Pipeline.FetchTimeout,
		EmbedTimeout:        c.Pipeline.EmbedTimeout,
		PersistTimeout:      c.Pipeline.PersistTimeout,
	}
}

// RetrievalOptions projects the retrieval settings.
func (c *Config) RetrievalOptions() *interfaces.RetrievalOptions {
	return &interfaces.RetrievalOptions{
		TopK:           c.Retrieval.TopK,
		Overfetch:      c.Retrieval.Overfetch,
		MaxPromptChars: c.Retrieval.MaxPromptChars,
		SnippetChars:   c.Retrieval.SnippetChars,
		EmbedTimeout:   c.Pipeline.EmbedTimeout,
	}
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getStringFromEnv("IKE_LOG_LEVEL", cfg.LogLevel)

	cfg.Queue.Workers = getIntFromEnv("IKE_WORKERS", cfg.Queue.Workers)
	cfg.Queue.Backlog = getIntFromEnv("IKE_BACKLOG", cfg.Queue.Backlog)

	p := &cfg.Pipeline
	p.ChunkStrategy = getStringFromEnv("IKE_CHUNK_STRATEGY", p.ChunkStrategy)
	p.MaxChunkSize = getIntFromEnv("IKE_MAX_CHUNK_SIZE", p.MaxChunkSize)
	p.OverlapSize = getIntFromEnv("IKE_OVERLAP_SIZE", p.OverlapSize)
	p.EmbedBatchSize = getIntFromEnv("IKE_EMBED_BATCH_SIZE", p.EmbedBatchSize)
	p.EmbedConcurrency = getIntFromEnv("IKE_EMBED_CONCURRENCY", p.EmbedConcurrency)
	p.RetryAttempts = getIntFromEnv("IKE_RETRY_ATTEMPTS", p.RetryAttempts)
	p.RetryInitialBackoff = getDurationFromEnv("IKE_RETRY_INITIAL_BACKOFF", p.RetryInitialBackoff)
	p.RetryMaxBackoff = getDurationFromEnv("IKE_RETRY_MAX_BACKOFF", p.RetryMaxBackoff)
	p.FetchTimeout = getDurationFromEnv("IKE_FETCH_TIMEOUT", p.FetchTimeout)
	p.EmbedTimeout = getDurationFromEnv("IKE_EMBED_TIMEOUT", p.EmbedTimeout)
	p.PersistTimeout = getDurationFromEnv("IKE_PERSIST_TIMEOUT", p.PersistTimeout)

	cfg.Fetch.MaxBodyBytes = int64(getIntFromEnv("IKE_MAX_BODY_BYTES", int(cfg.Fetch.MaxBodyBytes)))
	cfg.Fetch.RatePerHost = getFloatFromEnv("IKE_FETCH_RATE_PER_HOST", cfg.Fetch.RatePerHost)
	cfg.Fetch.UserAgent = getStringFromEnv("IKE_USER_AGENT", cfg.Fetch.UserAgent)

	cfg.Retrieval.TopK = getIntFromEnv("IKE_TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.Overfetch = getIntFromEnv("IKE_RETRIEVAL_OVERFETCH", cfg.Retrieval.Overfetch)
	cfg.Retrieval.MaxPromptChars = getIntFromEnv("IKE_MAX_PROMPT_CHARS", cfg.Retrieval.MaxPromptChars)

	cfg.Embedder.Type = getStringFromEnv("IKE_EMBEDDER", cfg.Embedder.Type)
	cfg.Embedder.Model = getStringFromEnv("IKE_EMBEDDING_MODEL", cfg.Embedder.Model)
	cfg.Embedder.Dimension = getIntFromEnv("IKE_EMBEDDING_DIMENSION", cfg.Embedder.Dimension)

	cfg.Generator.Type = getStringFromEnv("IKE_GENERATOR", cfg.Generator.Type)
	cfg.Generator.Model = getStringFromEnv("IKE_GENERATOR_MODEL", cfg.Generator.Model)

	// TURSO_* are honoured for existing Turso setups; IKE_DATABASE_URL wins.
	cfg.Database.URL = getStringFromEnv("TURSO_DATABASE_URL", cfg.Database.URL)
	cfg.Database.AuthToken = getStringFromEnv("TURSO_AUTH_TOKEN", cfg.Database.AuthToken)
	cfg.Database.URL = getStringFromEnv("IKE_DATABASE_URL", cfg.Database.URL)

	cfg.Server.Listen = getStringFromEnv("IKE_LISTEN", cfg.Server.Listen)
}

func getStringFromEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getIntFromEnv returns an integer from environment variable or default value.
func getIntFromEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getFloatFromEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

func getDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
