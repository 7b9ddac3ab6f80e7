// Package vector provides the vector store client and its backends.
package vector

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// Store holds embedding records and answers similarity queries.
//
// Upsert is idempotent per (filename, chunk index). Search returns at most k hits in
// descending score order. Failures are reported as apperr IndexUnavailable and are never
// retried here.
type Store interface {
	Upsert(ctx context.Context, records []models.Record) error
	Search(ctx context.Context, query []float32, k int) (models.RetrievalResult, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
	DeleteDocument(ctx context.Context, filename string) error
	Ping(ctx context.Context) error
	Close() error
}

// DocumentCounter is implemented by stores that can count the chunks of one document.
type DocumentCounter interface {
	CountDocument(ctx context.Context, filename string) (int, error)
}

// Persister is implemented by in-process stores that snapshot to a file.
type Persister interface {
	Save(path string) error
	Load(path string) error
}
