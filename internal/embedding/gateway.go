package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
)

// Gateway sits in front of an embedding backend. It batches requests, retries transient
// failures with exponential backoff, bounds every call with a timeout, and caches by exact text.
// Errors it returns are always apperr EmbeddingUnavailable.
type Gateway struct {
	backend    Embedder
	cache      *EmbeddingCache
	batchSize  int
	maxRetries int
	timeout    time.Duration
	backoff    func(attempt int) time.Duration
	logger     *zap.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithBatchSize caps the number of texts sent per backend call.
func WithBatchSize(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) GatewayOption {
	return func(g *Gateway) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithCache enables an LRU cache of the given capacity.
func WithCache(capacity int) GatewayOption {
	return func(g *Gateway) {
		if capacity > 0 {
			g.cache = NewEmbeddingCache(capacity)
		}
	}
}

// WithLogger sets a logger for retry warnings.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway wraps backend.
func NewGateway(backend Embedder, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend:    backend,
		batchSize:  16,
		maxRetries: 5,
		timeout:    30 * time.Second,
		backoff:    retryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Embed embeds a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, g, text)
}

// EmbedBatch returns one vector per text, in input order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, t := range texts {
		if g.cache != nil {
			if v, ok := g.cache.Get(t); ok {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	for start := 0; start < len(missTexts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vecs, err := g.embedWithRetry(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			out[missIdx[start+j]] = v
			if g.cache != nil {
				g.cache.Set(missTexts[start+j], v)
			}
		}
	}
	return out, nil
}

func (g *Gateway) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoff(attempt - 1)
			if ra := retryAfter(lastErr); ra > 0 {
				delay = ra
			}
			g.logger.Warn("embedding call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleep(ctx, delay); err != nil {
				return nil, apperr.EmbeddingUnavailable("embedding cancelled", err)
			}
		}
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		vecs, err := g.backend.EmbedBatch(callCtx, batch)
		cancel()
		if err == nil {
			if len(vecs) != len(batch) {
				return nil, apperr.EmbeddingUnavailable(
					fmt.Sprintf("embedding backend returned %d vectors for %d texts", len(vecs), len(batch)), nil)
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, apperr.EmbeddingUnavailable("embedding cancelled", ctx.Err())
		}
		if !isRetryable(err) {
			break
		}
	}
	return nil, apperr.EmbeddingUnavailable(fmt.Sprintf("embedding failed after %d attempt(s)", attempts), lastErr)
}

// Ping checks the backend with a bounded call when it supports it.
func (g *Gateway) Ping(ctx context.Context) error {
	p, ok := g.backend.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return apperr.EmbeddingUnavailable("embedding service unreachable", err)
	}
	return nil
}

// Dimensions returns the backend dimension.
func (g *Gateway) Dimensions() int {
	return g.backend.Dimensions()
}

// Close closes the backend.
func (g *Gateway) Close() error {
	if g.cache != nil {
		st := g.cache.Stats()
		g.logger.Debug("embedding cache",
			zap.Int("entries", st.Entries),
			zap.Uint64("hits", st.Hits),
			zap.Uint64("misses", st.Misses))
	}
	return g.backend.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
