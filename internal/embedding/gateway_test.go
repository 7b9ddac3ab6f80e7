package embedding

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/apperr"
)

// scriptedBackend fails the first `failures` calls with err and records batch sizes.
type scriptedBackend struct {
	mu       sync.Mutex
	inner    *MockEmbedder
	failures int
	err      error
	calls    int
	batches  []int
	block    bool
}

func (b *scriptedBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, b, text)
}

func (b *scriptedBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.calls++
	b.batches = append(b.batches, len(texts))
	fail := b.calls <= b.failures
	b.mu.Unlock()
	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, b.err
	}
	return b.inner.EmbedBatch(ctx, texts)
}

func (b *scriptedBackend) Dimensions() int { return b.inner.Dimensions() }
func (b *scriptedBackend) Close() error    { return nil }

func fastGateway(b Embedder, opts ...GatewayOption) *Gateway {
	g := NewGateway(b, opts...)
	g.backoff = func(int) time.Duration { return time.Millisecond }
	return g
}

func TestGateway_BatchesAndPreservesOrder(t *testing.T) {
	b := &scriptedBackend{inner: NewMockEmbedder(8)}
	g := fastGateway(b, WithBatchSize(2))
	texts := []string{"a", "b", "c", "d", "e"}

	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 2, 1}, b.batches)
	for i, text := range texts {
		want, _ := b.inner.Embed(context.Background(), text)
		assert.Equal(t, want, vecs[i], "vector %d out of order", i)
	}
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	b := &scriptedBackend{
		inner:    NewMockEmbedder(8),
		failures: 2,
		err:      &ProviderError{Provider: "test", StatusCode: http.StatusTooManyRequests, Retryable: true, Err: errors.New("slow down")},
	}
	g := fastGateway(b, WithMaxRetries(3))

	vecs, err := g.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 3, b.calls)
}

func TestGateway_ExhaustedRetriesIsEmbeddingUnavailable(t *testing.T) {
	b := &scriptedBackend{
		inner:    NewMockEmbedder(8),
		failures: 100,
		err:      &ProviderError{Provider: "test", StatusCode: 503, Retryable: true, Err: errors.New("down")},
	}
	g := fastGateway(b, WithMaxRetries(2))

	_, err := g.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEmbeddingUnavailable))
	assert.Equal(t, 3, b.calls)
}

func TestGateway_NonRetryableFailsFast(t *testing.T) {
	b := &scriptedBackend{
		inner:    NewMockEmbedder(8),
		failures: 100,
		err:      &ProviderError{Provider: "test", StatusCode: 401, Err: errors.New("bad key")},
	}
	g := fastGateway(b, WithMaxRetries(5))

	_, err := g.EmbedBatch(context.Background(), []string{"x"})
	assert.True(t, errors.Is(err, apperr.ErrEmbeddingUnavailable))
	assert.Equal(t, 1, b.calls)
}

func TestGateway_TimeoutIsRetriedThenUnavailable(t *testing.T) {
	b := &scriptedBackend{inner: NewMockEmbedder(8), block: true}
	g := fastGateway(b, WithMaxRetries(1), WithTimeout(10*time.Millisecond))

	start := time.Now()
	_, err := g.EmbedBatch(context.Background(), []string{"x"})
	assert.True(t, errors.Is(err, apperr.ErrEmbeddingUnavailable))
	assert.Equal(t, 2, b.calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGateway_CancelledContext(t *testing.T) {
	b := &scriptedBackend{inner: NewMockEmbedder(8), block: true}
	g := fastGateway(b, WithMaxRetries(5), WithTimeout(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.EmbedBatch(ctx, []string{"x"})
	assert.True(t, errors.Is(err, apperr.ErrEmbeddingUnavailable))
	assert.Equal(t, 1, b.calls)
}

func TestGateway_CacheSkipsBackend(t *testing.T) {
	b := &scriptedBackend{inner: NewMockEmbedder(8)}
	g := fastGateway(b, WithCache(10))
	ctx := context.Background()

	_, err := g.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	vecs, err := g.EmbedBatch(ctx, []string{"b", "c", "a"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, []int{2, 1}, b.batches)
}

func TestGateway_EmptyInput(t *testing.T) {
	b := &scriptedBackend{inner: NewMockEmbedder(8)}
	vecs, err := fastGateway(b).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, b.calls)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(1))
	assert.Equal(t, 5*time.Second, retryDelay(10))
	assert.Equal(t, 5*time.Second, retryDelay(60))
}
