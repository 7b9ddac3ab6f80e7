package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	hits := make([]keyword.Hit, 0, 100)
	semantic := make(models.RetrievalResult, 0, 100)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("doc-%02d.txt", i%26)
		hits = append(hits, keyword.Hit{Filename: name, Index: i, Content: "text", Score: float64(i) / 10})
		semantic = append(semantic, models.ScoredChunk{Filename: name, Index: i, Text: "text", Score: float64(100-i) / 100})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = search.Fuse(hits, semantic, 0.3, 0.7)
	}
}

func BenchmarkMemoryStoreSearch(b *testing.B) {
	const dims = 384
	store, _ := vector.NewMemoryStore(dims)
	ctx := context.Background()
	records := make([]models.Record, 1000)
	for i := range records {
		vec := make([]float32, dims)
		vec[0] = float32(i) / 1000
		vec[1] = 1
		records[i] = models.Record{
			Chunk:  models.Chunk{Filename: fmt.Sprintf("doc-%03d.txt", i/10), Index: i % 10, Text: "chunk"},
			Vector: vec,
		}
	}
	_ = store.Upsert(ctx, records)
	query := make([]float32, dims)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Search(ctx, query, 5)
	}
}

func BenchmarkChunkerSplit(b *testing.B) {
	chunker, _ := indexer.NewChunker(1000, 200, 100)
	text := strings.Repeat("Cats purr when they are content. Dogs bark at strangers.\n\n", 500)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = chunker.Split("bench.txt", text)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
