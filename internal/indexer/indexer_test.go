package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

type testEnv struct {
	idx      *Indexer
	store    *vector.MemoryStore
	keyword  *keyword.BleveIndex
	registry *storage.MemoryRegistry
}

func newTestEnv(t *testing.T, embedder embedding.Embedder, opts ...Option) *testEnv {
	t.Helper()
	chunker, err := NewChunker(10, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	store, err := vector.NewMemoryStore(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	reg := storage.NewMemoryRegistry()
	if embedder == nil {
		embedder = embedding.NewMockEmbedder(4)
	}
	all := append([]Option{
		WithKeywordIndex(kw),
		WithRegistry(reg),
		WithExtractor(extract.NewExtractor()),
		WithIngestConfig(config.IngestConfig{
			MaxFileSize:         1 << 16,
			AllowedTypes:        []string{".txt", ".md", ".xlsx"},
			DefaultTextFilename: "manual_input",
		}),
	}, opts...)
	return &testEnv{
		idx:      New(chunker, embedder, store, all...),
		store:    store,
		keyword:  kw,
		registry: reg,
	}
}

func withChunker(t *testing.T, size, overlap int) Option {
	t.Helper()
	c, err := NewChunker(size, overlap, 0)
	if err != nil {
		t.Fatal(err)
	}
	return func(idx *Indexer) { idx.chunker = c }
}

// failingEmbedder succeeds for the first okCalls batches and then fails.
type failingEmbedder struct {
	inner   *embedding.MockEmbedder
	okCalls int32
	calls   atomic.Int32
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.inner.Embed(ctx, text)
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) > f.okCalls {
		return nil, apperr.EmbeddingUnavailable("provider down", nil)
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *failingEmbedder) Dimensions() int { return f.inner.Dimensions() }
func (f *failingEmbedder) Close() error    { return nil }

// slowEmbedder records how many batches are in flight at once.
type slowEmbedder struct {
	inner    *embedding.MockEmbedder
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.inner.Embed(ctx, text)
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return s.inner.EmbedBatch(ctx, texts)
}

func (s *slowEmbedder) Dimensions() int { return s.inner.Dimensions() }
func (s *slowEmbedder) Close() error    { return nil }

// gatedEmbedder blocks each batch until release is closed.
type gatedEmbedder struct {
	inner   *embedding.MockEmbedder
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.inner.Embed(ctx, text)
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.EmbedBatch(ctx, texts)
}

func (g *gatedEmbedder) Dimensions() int { return g.inner.Dimensions() }
func (g *gatedEmbedder) Close() error    { return nil }

func TestIngest_writesChunksAndRegistry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.idx.Ingest(ctx, models.Document{Filename: "cats.txt", Content: "Cats sleep sixteen hours a day."})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunksWritten < 2 {
		t.Fatalf("ChunksWritten = %d, want several", res.ChunksWritten)
	}
	n, err := env.store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != res.ChunksWritten {
		t.Errorf("store count = %d, want %d", n, res.ChunksWritten)
	}
	info, err := env.registry.Get(ctx, "cats.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.ChunkCount != res.ChunksWritten || info.FileType != "txt" {
		t.Errorf("registry entry = %+v", info)
	}
	hits, err := env.keyword.Search(ctx, "sixteen", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("keyword index has no hit for an ingested word")
	}
}

func TestIngest_reingestReplaces(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	long := strings.Repeat("abcdefgh ", 20)
	if _, err := env.idx.Ingest(ctx, models.Document{Filename: "doc.txt", Content: long}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.idx.Ingest(ctx, models.Document{Filename: "other.txt", Content: "other doc"}); err != nil {
		t.Fatal(err)
	}
	res, err := env.idx.Ingest(ctx, models.Document{Filename: "doc.txt", Content: "short one"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunksWritten != 1 {
		t.Fatalf("ChunksWritten = %d, want 1", res.ChunksWritten)
	}
	n, _ := env.store.Count(ctx)
	if n != 2 {
		t.Errorf("store count after replace = %d, want 2", n)
	}
	hits, err := env.store.Search(ctx, make([]float32, 4), 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Filename == "doc.txt" && h.Text != "short one" {
			t.Errorf("stale chunk survived: %+v", h)
		}
	}
}

func TestIngest_invalidInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, doc := range []models.Document{
		{Filename: "", Content: "text"},
		{Filename: "a.txt", Content: "  \n\t "},
	} {
		_, err := env.idx.Ingest(ctx, doc)
		if !apperr.Is(err, apperr.KindInvalidRequest) {
			t.Errorf("Ingest(%+v) error = %v, want InvalidRequest", doc, err)
		}
	}
	if n, _ := env.store.Count(ctx); n != 0 {
		t.Errorf("store count = %d, want 0", n)
	}
}

func TestIngest_embeddingFailureLeavesNothing(t *testing.T) {
	emb := &failingEmbedder{inner: embedding.NewMockEmbedder(4), okCalls: 1}
	env := newTestEnv(t, emb)
	ctx := context.Background()

	if _, err := env.idx.Ingest(ctx, models.Document{Filename: "doc.txt", Content: "first version of the doc"}); err != nil {
		t.Fatal(err)
	}
	res, err := env.idx.Ingest(ctx, models.Document{Filename: "doc.txt", Content: "second version"})
	if !apperr.Is(err, apperr.KindEmbeddingUnavailable) {
		t.Fatalf("error = %v, want EmbeddingUnavailable", err)
	}
	if len(res.Failures) != 0 {
		t.Errorf("cleanup failures = %v", res.Failures)
	}
	if n, _ := env.store.Count(ctx); n != 0 {
		t.Errorf("store count = %d, want 0", n)
	}
	if _, err := env.registry.Get(ctx, "doc.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("registry Get error = %v, want ErrNotFound", err)
	}
	if c, _ := env.keyword.DocCount(); c != 0 {
		t.Errorf("keyword doc count = %d, want 0", c)
	}
}

func TestIngest_sameFilenameIsSerialized(t *testing.T) {
	emb := &slowEmbedder{inner: embedding.NewMockEmbedder(4)}
	env := newTestEnv(t, emb)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := strings.Repeat("x", 5+i*7)
			if _, err := env.idx.Ingest(ctx, models.Document{Filename: "same.txt", Content: text}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if got := emb.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent ingests of one filename = %d, want 1", got)
	}
	info, err := env.registry.Get(ctx, "same.txt")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := env.store.Count(ctx); n != info.ChunkCount {
		t.Errorf("store count = %d, registry chunk count = %d", n, info.ChunkCount)
	}
	if env.idx.locks.Len() != 0 {
		t.Errorf("lock table not drained: %d", env.idx.locks.Len())
	}
}

func TestIngest_differentFilenamesRunConcurrently(t *testing.T) {
	emb := &slowEmbedder{inner: embedding.NewMockEmbedder(4)}
	env := newTestEnv(t, emb)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := env.idx.Ingest(ctx, models.Document{Filename: name, Content: "some text"}); err != nil {
				t.Error(err)
			}
		}(name)
	}
	wg.Wait()
	if got := emb.maxSeen.Load(); got < 2 {
		t.Errorf("max concurrent ingests = %d, want parallel work", got)
	}
}

func TestIngestText_defaultFilename(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.idx.IngestText(ctx, "typed in by hand", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Filename != "manual_input" {
		t.Errorf("Filename = %q, want manual_input", res.Filename)
	}
	info, err := env.registry.Get(ctx, "manual_input")
	if err != nil {
		t.Fatal(err)
	}
	if info.FileType != "text" {
		t.Errorf("FileType = %q, want text", info.FileType)
	}
	if _, err := env.idx.IngestText(ctx, "   ", "x"); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Errorf("blank text error = %v, want InvalidRequest", err)
	}
}

func TestIngestBytes_rejectsTypeAndSize(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.idx.IngestBytes(ctx, "script.sh", []byte("#!/bin/sh"))
	if !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Errorf("disallowed type error = %v, want InvalidRequest", err)
	}
	_, err = env.idx.IngestBytes(ctx, "big.txt", make([]byte, 1<<17))
	if !apperr.Is(err, apperr.KindInvalidRequest) || !strings.Contains(err.Error(), "too large") {
		t.Errorf("oversize error = %v, want InvalidRequest", err)
	}
	res, err := env.idx.IngestBytes(ctx, "dir/notes.MD", []byte("# Notes\n\nremember the milk"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Filename != "notes.MD" {
		t.Errorf("Filename = %q, want base name", res.Filename)
	}
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, nil, withChunker(t, 200, 20))
	ctx := context.Background()

	if _, err := env.idx.IngestFile(ctx, filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := env.idx.IngestFile(ctx, dir); err == nil {
		t.Error("expected error for directory")
	}

	fPath := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := f.SaveAs(fPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	res, err := env.idx.IngestFile(ctx, fPath)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if res.Filename != "data.xlsx" || res.ChunksWritten == 0 {
		t.Errorf("unexpected result %+v", res)
	}
	hits, err := env.keyword.Search(ctx, "searchable", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Filename != "data.xlsx" {
		t.Errorf("keyword hits = %+v", hits)
	}
}

func TestIngestFileIfChanged(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(fPath, []byte("Hello world content."), 0600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(fPath, old, old); err != nil {
		t.Fatal(err)
	}
	if _, skipped, err := env.idx.IngestFileIfChanged(ctx, fPath); err != nil || skipped {
		t.Fatalf("first ingest skipped=%v err=%v", skipped, err)
	}
	if _, skipped, err := env.idx.IngestFileIfChanged(ctx, fPath); err != nil || !skipped {
		t.Fatalf("unchanged file skipped=%v err=%v, want skipped", skipped, err)
	}

	if err := os.WriteFile(fPath, []byte("Updated content, now longer."), 0600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(fPath, future, future); err != nil {
		t.Fatal(err)
	}
	if _, skipped, err := env.idx.IngestFileIfChanged(ctx, fPath); err != nil || skipped {
		t.Fatalf("changed file skipped=%v err=%v", skipped, err)
	}
}

func TestIngestFileIfChanged_reingestsWhenVectorsMissing(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(fPath, []byte("Hello world content."), 0600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(fPath, old, old); err != nil {
		t.Fatal(err)
	}
	first, _, err := env.idx.IngestFileIfChanged(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}

	// registry survives, vectors do not
	if err := env.store.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	res, skipped, err := env.idx.IngestFileIfChanged(ctx, fPath)
	if err != nil || skipped {
		t.Fatalf("skipped=%v err=%v, want re-ingest", skipped, err)
	}
	if res.ChunksWritten != first.ChunksWritten {
		t.Errorf("ChunksWritten = %d, want %d", res.ChunksWritten, first.ChunksWritten)
	}
	if n, _ := env.store.Count(ctx); n != first.ChunksWritten {
		t.Errorf("store count = %d, want %d", n, first.ChunksWritten)
	}
	if _, skipped, _ := env.idx.IngestFileIfChanged(ctx, fPath); !skipped {
		t.Error("restored file should be skipped on the next sync")
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "a.txt"):     "file a",
		filepath.Join(dir, "b.md"):      "file b",
		filepath.Join(sub, "c.txt"):     "file c",
		filepath.Join(dir, "skip.xyz"):  "skip",
		filepath.Join(dir, "empty.txt"): "   ",
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.idx.IngestDirectory(ctx, dir, false)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if res.Processed != 2 || res.Failed != 1 {
		t.Errorf("non-recursive processed=%d failed=%d, want 2 and 1", res.Processed, res.Failed)
	}

	res, err = env.idx.IngestDirectory(ctx, dir, true)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if res.Processed != 3 || res.Failed != 1 || len(res.Files) != 4 {
		t.Errorf("recursive result = %+v", res)
	}
	for _, f := range res.Files {
		if f.Filename == "empty.txt" && f.Error == "" {
			t.Error("empty.txt should report an error")
		}
	}

	if _, err := env.idx.IngestDirectory(ctx, filepath.Join(dir, "nope"), true); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Errorf("missing dir error = %v, want InvalidRequest", err)
	}
}

func TestDeleteDocumentAndClear(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := env.idx.Ingest(ctx, models.Document{Filename: name, Content: "content of " + name}); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.idx.DeleteDocument(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	docs, err := env.idx.Documents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Filename != "b.txt" {
		t.Errorf("Documents after delete = %+v", docs)
	}

	if err := env.idx.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := env.idx.Count(ctx); n != 0 {
		t.Errorf("Count after clear = %d", n)
	}
	docs, _ = env.idx.Documents(ctx)
	if len(docs) != 0 {
		t.Errorf("Documents after clear = %+v", docs)
	}
	if err := env.idx.DeleteDocument(ctx, " "); !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Errorf("blank delete error = %v", err)
	}
}

func TestClear_waitsForInFlightIngest(t *testing.T) {
	emb := &gatedEmbedder{
		inner:   embedding.NewMockEmbedder(4),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	env := newTestEnv(t, emb)
	ctx := context.Background()

	ingested := make(chan error, 1)
	go func() {
		_, err := env.idx.Ingest(ctx, models.Document{Filename: "a.txt", Content: "content of a"})
		ingested <- err
	}()
	<-emb.entered

	cleared := make(chan error, 1)
	go func() { cleared <- env.idx.Clear(ctx) }()
	select {
	case err := <-cleared:
		t.Fatalf("Clear returned during an ingest: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(emb.release)
	if err := <-ingested; err != nil {
		t.Fatal(err)
	}
	if err := <-cleared; err != nil {
		t.Fatal(err)
	}
	if n, _ := env.store.Count(ctx); n != 0 {
		t.Errorf("store count after clear = %d, want 0", n)
	}
	if docs, _ := env.idx.Documents(ctx); len(docs) != 0 {
		t.Errorf("documents after clear = %+v", docs)
	}
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	if k.Len() != 2 {
		t.Errorf("Len = %d, want 2", k.Len())
	}

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("second Lock(a) acquired while held")
	case <-time.After(30 * time.Millisecond):
	}
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock(a) never acquired")
	}
	unlockB()
	deadline := time.Now().Add(time.Second)
	for k.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if k.Len() != 0 {
		t.Errorf("Len after release = %d, want 0", k.Len())
	}
}

func TestIngestText_generatedFilename(t *testing.T) {
	chunker, err := NewChunker(50, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	store, err := vector.NewMemoryStore(4)
	if err != nil {
		t.Fatal(err)
	}
	idx := New(chunker, embedding.NewMockEmbedder(4), store)
	res, err := idx.IngestText(context.Background(), "no name given", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Filename, "text-") {
		t.Errorf("Filename = %q, want generated text- name", res.Filename)
	}
}
