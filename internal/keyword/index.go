// Package keyword provides a BM25 keyword index over document chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled matches terms within Fuzziness edits for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance (1 or 2). Defaults to 1.
	Fuzziness int
}

// Index stores chunk text for keyword lookup alongside the vector store.
type Index interface {
	IndexChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteDocument(ctx context.Context, filename string) error
	DeleteAll(ctx context.Context) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error)
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single keyword search result, rehydrated from stored fields.
type Hit struct {
	ID       string
	Filename string
	Index    int
	Content  string
	Score    float64
}
