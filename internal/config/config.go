// Package config provides configuration loading and structs for the kotae server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kotae/internal/apperr"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	AppName    string           `yaml:"app_name"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Vector     VectorConfig     `yaml:"vector"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the document registry and local indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	MemoryIndexPath  string `yaml:"memory_index_path"`
}

// ChunkingConfig holds character chunker settings.
type ChunkingConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	ChunkOverlap     int `yaml:"chunk_overlap"`
	BoundaryLookback int `yaml:"boundary_lookback"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	APIVersion string        `yaml:"api_version"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
}

// CompletionConfig holds chat completion provider settings.
type CompletionConfig struct {
	Provider    string        `yaml:"provider"`
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	APIVersion  string        `yaml:"api_version"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Backend    string        `yaml:"backend"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	DSN        string        `yaml:"dsn"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds retrieval and prompt assembly settings.
type RetrievalConfig struct {
	MaxRetrievedDocs int     `yaml:"max_retrieved_docs"`
	MaxK             int     `yaml:"max_k"`
	HistoryWindow    int     `yaml:"history_window"`
	Hybrid           bool    `yaml:"hybrid"`
	KeywordWeight    float64 `yaml:"keyword_weight"`
	SemanticWeight   float64 `yaml:"semantic_weight"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
}

// IngestConfig holds upload limits for the ingestion entry points.
type IngestConfig struct {
	MaxFileSize         int64    `yaml:"max_file_size"`
	AllowedTypes        []string `yaml:"allowed_types"`
	DefaultTextFilename string   `yaml:"default_text_filename"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	LoadDotEnv(configDir)
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	expandPaths(&cfg, configDir)

	return &cfg, nil
}

// Default returns a configuration with defaults and environment overrides applied,
// with relative storage paths resolved against dir.
func Default(dir string) *Config {
	var cfg Config
	LoadDotEnv(dir)
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	expandPaths(&cfg, dir)
	return &cfg
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks settings that would otherwise fail later at ingestion or query time.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return apperr.Configuration(fmt.Sprintf("chunk_size must be positive, got %d", c.Chunking.ChunkSize), nil)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return apperr.Configuration(fmt.Sprintf("chunk_overlap (%d) must be in [0, chunk_size (%d))",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize), nil)
	}
	if !oneOf(c.Embedding.Provider, "azure", "openai", "ollama", "mock") {
		return apperr.Configuration("unknown embedding provider "+c.Embedding.Provider, nil)
	}
	if !oneOf(c.Completion.Provider, "azure", "openai", "ollama", "fake") {
		return apperr.Configuration("unknown completion provider "+c.Completion.Provider, nil)
	}
	if !oneOf(c.Vector.Backend, "memory", "sqlite", "weaviate", "qdrant", "pgvector") {
		return apperr.Configuration("unknown vector backend "+c.Vector.Backend, nil)
	}
	if c.Retrieval.MaxRetrievedDocs > c.Retrieval.MaxK {
		return apperr.Configuration(fmt.Sprintf("max_retrieved_docs (%d) exceeds max_k (%d)",
			c.Retrieval.MaxRetrievedDocs, c.Retrieval.MaxK), nil)
	}
	return nil
}

// ExtensionAllowed reports whether ext (with leading dot) is an accepted upload type.
func (c *IngestConfig) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range c.AllowedTypes {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.MemoryIndexPath = expandPath(cfg.Storage.MemoryIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
