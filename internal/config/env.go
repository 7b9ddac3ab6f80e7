package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env from dir and then from the working directory.
// Variables already present in the environment are never overridden.
func LoadDotEnv(dir string) {
	if dir != "" {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
	_ = godotenv.Load(".env")
}

// ApplyEnv overrides endpoints and secrets from the environment.
// Azure variables apply to both embedding and completion when those use the azure provider.
func ApplyEnv(cfg *Config) {
	if v, ok := lookup("KOTAE_DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}

	if cfg.Embedding.Provider == "azure" {
		setIf(&cfg.Embedding.APIKey, "AZURE_OPENAI_API_KEY")
		setIf(&cfg.Embedding.Endpoint, "AZURE_OPENAI_ENDPOINT")
		setIf(&cfg.Embedding.APIVersion, "AZURE_OPENAI_API_VERSION")
		setIf(&cfg.Embedding.Model, "AZURE_OPENAI_EMBEDDING_DEPLOYMENT")
	}
	if cfg.Embedding.Provider == "openai" {
		setIf(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	}
	if cfg.Completion.Provider == "azure" {
		setIf(&cfg.Completion.APIKey, "AZURE_OPENAI_API_KEY")
		setIf(&cfg.Completion.Endpoint, "AZURE_OPENAI_ENDPOINT")
		setIf(&cfg.Completion.APIVersion, "AZURE_OPENAI_API_VERSION")
		setIf(&cfg.Completion.Model, "AZURE_OPENAI_DEPLOYMENT_NAME")
	}
	if cfg.Completion.Provider == "openai" {
		setIf(&cfg.Completion.APIKey, "OPENAI_API_KEY")
	}

	switch cfg.Vector.Backend {
	case "weaviate":
		setIf(&cfg.Vector.URL, "WEAVIATE_URL")
		setIf(&cfg.Vector.APIKey, "WEAVIATE_API_KEY")
		if cfg.Vector.URL == "" {
			cfg.Vector.URL = "http://localhost:8080"
		}
	case "qdrant":
		setIf(&cfg.Vector.URL, "QDRANT_URL")
		setIf(&cfg.Vector.APIKey, "QDRANT_API_KEY")
		if cfg.Vector.URL == "" {
			cfg.Vector.URL = "http://localhost:6333"
		}
	case "pgvector":
		setIf(&cfg.Vector.DSN, "DATABASE_URL")
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func setIf(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}
