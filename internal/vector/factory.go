package vector

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/config"
)

// Backend names accepted by NewStore.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendWeaviate = "weaviate"
	BackendQdrant   = "qdrant"
	BackendPgVector = "pgvector"
)

type storeOptions struct {
	databasePath string
	snapshotPath string
	httpClient   *http.Client
}

// Option configures NewStore.
type Option func(*storeOptions)

// WithDatabasePath sets the file used by the sqlite backend.
func WithDatabasePath(path string) Option {
	return func(o *storeOptions) { o.databasePath = path }
}

// WithSnapshot makes the memory backend load its snapshot from path.
func WithSnapshot(path string) Option {
	return func(o *storeOptions) { o.snapshotPath = path }
}

// WithHTTPClient sets the client used by REST backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *storeOptions) { o.httpClient = c }
}

// NewStore creates the store named by cfg.Backend. An empty backend means memory.
func NewStore(ctx context.Context, cfg config.VectorConfig, dimensions int, opts ...Option) (Store, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendMemory, "":
		s, err := NewMemoryStore(dimensions)
		if err != nil {
			return nil, err
		}
		if err := s.Load(o.snapshotPath); err != nil {
			return nil, apperr.IndexUnavailable("load memory index", err)
		}
		return s, nil
	case BackendSQLite:
		if o.databasePath == "" {
			return nil, apperr.Configuration("sqlite backend needs a database path", nil)
		}
		s, err := NewSQLiteStore(o.databasePath, dimensions)
		if err != nil {
			return nil, apperr.IndexUnavailable("open sqlite store", err)
		}
		return s, nil
	case BackendWeaviate:
		s, err := NewWeaviateStore(WeaviateConfig{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Class:      cfg.Collection,
			Dimensions: dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendQdrant:
		s, err := NewQdrantStore(QdrantConfig{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Collection: cfg.Collection,
			Dimensions: dimensions,
			Timeout:    cfg.Timeout,
		}, o.httpClient)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPgVector:
		s, err := OpenPgVectorStore(ctx, cfg.DSN, dimensions, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, apperr.Configuration(
			fmt.Sprintf("unknown vector backend: %s (supported: memory, sqlite, weaviate, qdrant, pgvector)", cfg.Backend), nil)
	}
}
