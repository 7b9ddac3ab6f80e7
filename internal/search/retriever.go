// Package search provides query-time retrieval over the vector store, optionally fused with keyword hits.
package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

const (
	DefaultK    = 5
	DefaultMaxK = 20
)

// Retriever embeds a query and returns the top scoring chunks.
type Retriever struct {
	embedder       embedding.Embedder
	store          vector.Store
	keywordIndex   keyword.Index
	keywordWeight  float64
	semanticWeight float64
	defaultK       int
	maxK           int
	logger         *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithDefaultK sets the k used when a caller passes k <= 0.
func WithDefaultK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultK = k
		}
	}
}

// WithMaxK sets the hard ceiling on k.
func WithMaxK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.maxK = k
		}
	}
}

// WithKeywordIndex enables hybrid retrieval. Scores become
// keywordWeight*normalizedKeyword + semanticWeight*cosine.
func WithKeywordIndex(idx keyword.Index, keywordWeight, semanticWeight float64) Option {
	return func(r *Retriever) {
		r.keywordIndex = idx
		r.keywordWeight = keywordWeight
		r.semanticWeight = semanticWeight
	}
}

// WithLogger sets a logger for retrieval timing.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a retriever over the given embedder and store.
func NewRetriever(embedder embedding.Embedder, store vector.Store, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:       embedder,
		store:          store,
		defaultK:       DefaultK,
		maxK:           DefaultMaxK,
		semanticWeight: 1,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultK > r.maxK {
		r.defaultK = r.maxK
	}
	return r
}

// ClampK applies the default and the ceiling to a requested k.
func (r *Retriever) ClampK(k int) int {
	if k <= 0 {
		k = r.defaultK
	}
	if k > r.maxK {
		k = r.maxK
	}
	return k
}

// Hybrid reports whether keyword fusion is enabled.
func (r *Retriever) Hybrid() bool {
	return r.keywordIndex != nil
}

// Retrieve returns at most k chunks for query in non-increasing score order.
// An empty index yields an empty result and no embedding call.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidRequest("query is required")
	}
	k = r.ClampK(k)
	start := time.Now()

	n, err := r.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		r.logger.Debug("retrieval on empty index", zap.String("query", query))
		return models.RetrievalResult{}, nil
	}

	vecs, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, apperr.EmbeddingUnavailable("query embedding missing", nil)
	}

	candidates := k
	if r.keywordIndex != nil {
		// Over-fetch so fusion can promote keyword matches the vector search ranked lower.
		candidates = k * 3
	}
	semantic, err := r.store.Search(ctx, vecs[0], candidates)
	if err != nil {
		return nil, err
	}

	result := semantic
	if r.keywordIndex != nil {
		hits, kwErr := r.keywordIndex.Search(ctx, query, candidates, nil)
		if kwErr != nil {
			return nil, apperr.IndexUnavailable("keyword search", kwErr)
		}
		result = Fuse(hits, semantic, r.keywordWeight, r.semanticWeight)
	} else {
		result.SortByScore()
	}
	if len(result) > k {
		result = result[:k]
	}

	r.logger.Debug("retrieval complete",
		zap.String("query", query),
		zap.Int("k", k),
		zap.Int("hits", len(result)),
		zap.Bool("hybrid", r.keywordIndex != nil),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// KeywordSearch runs only the keyword index. It returns nil when hybrid retrieval is off.
func (r *Retriever) KeywordSearch(ctx context.Context, query string, k int) (models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidRequest("query is required")
	}
	if r.keywordIndex == nil {
		return nil, nil
	}
	hits, err := r.keywordIndex.Search(ctx, query, r.ClampK(k), nil)
	if err != nil {
		return nil, apperr.IndexUnavailable("keyword search", err)
	}
	out := make(models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.ScoredChunk{Filename: h.Filename, Index: h.Index, Text: h.Content, Score: h.Score})
	}
	out.SortByScore()
	return out, nil
}
