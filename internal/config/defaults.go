package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "RAG Chatbot"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001", "http://localhost:3002"}
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/kotae.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "./data/keyword"
	}
	if cfg.Storage.MemoryIndexPath == "" {
		cfg.Storage.MemoryIndexPath = "./data/vectors.bin"
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 200
	}
	applyEmbeddingDefaults(&cfg.Embedding)
	applyCompletionDefaults(&cfg.Completion)
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "Documents"
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = 15 * time.Second
	}
	if cfg.Retrieval.MaxRetrievedDocs == 0 {
		cfg.Retrieval.MaxRetrievedDocs = 5
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 20
	}
	if cfg.Retrieval.HistoryWindow == 0 {
		cfg.Retrieval.HistoryWindow = 10
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
		cfg.Retrieval.SemanticWeight = 0.7
	}
	if cfg.Ingest.MaxFileSize == 0 {
		cfg.Ingest.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.Ingest.AllowedTypes == nil {
		cfg.Ingest.AllowedTypes = []string{".pdf", ".txt", ".md", ".docx"}
	}
	if cfg.Ingest.DefaultTextFilename == "" {
		cfg.Ingest.DefaultTextFilename = "manual_input"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), cfg.Ingest.AllowedTypes...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "azure"
	}
	if e.APIVersion == "" {
		e.APIVersion = "2024-02-15-preview"
	}
	if e.Model == "" {
		e.Model = "text-embedding-ada-002"
	}
	if e.Dimensions == 0 {
		e.Dimensions = 1536
	}
	if e.BatchSize == 0 {
		e.BatchSize = 16
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 5
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
}

func applyCompletionDefaults(c *CompletionConfig) {
	if c.Provider == "" {
		c.Provider = "azure"
	}
	if c.APIVersion == "" {
		c.APIVersion = "2024-02-15-preview"
	}
	if c.Model == "" {
		c.Model = "gpt-35-turbo"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
}
