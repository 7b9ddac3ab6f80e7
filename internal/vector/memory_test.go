package vector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/models"
)

func record(filename string, index int, text string, vec []float32) models.Record {
	return models.Record{
		Chunk:      models.Chunk{Filename: filename, Index: index, Text: text},
		Vector:     vec,
		FileType:   "txt",
		IngestedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the behaviour every local backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count on empty store: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count=%d, want 0", n)
	}

	err = s.Upsert(ctx, []models.Record{
		record("cats.md", 0, "cats sleep", []float32{1, 0, 0}),
		record("cats.md", 1, "cats purr", []float32{0.9, 0.1, 0}),
		record("dogs.md", 0, "dogs bark", []float32{0, 1, 0}),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// same keys again must not grow the store
	err = s.Upsert(ctx, []models.Record{record("cats.md", 0, "cats nap", []float32{1, 0, 0})})
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Fatalf("Count after re-upsert=%d, want 3", n)
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Filename != "cats.md" || hits[0].Index != 0 || hits[0].Text != "cats nap" {
		t.Errorf("top hit = %+v", hits[0])
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %v then %v", hits[0].Score, hits[1].Score)
	}

	if hits, _ := s.Search(ctx, []float32{1, 0, 0}, 10); len(hits) != 3 {
		t.Errorf("k larger than store: got %d hits, want 3", len(hits))
	}

	if err := s.DeleteDocument(ctx, "cats.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count after delete=%d, want 1", n)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count after DeleteAll=%d, want 0", n)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := NewMemoryStore(3)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewMemoryStore_InvalidDimensions(t *testing.T) {
	if _, err := NewMemoryStore(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	s, _ := NewMemoryStore(3)
	ctx := context.Background()
	err := s.Upsert(ctx, []models.Record{record("a", 0, "x", []float32{1, 0})})
	if !apperr.Is(err, apperr.KindIndexUnavailable) {
		t.Errorf("Upsert mismatch: got %v, want IndexUnavailable", err)
	}
	_, err = s.Search(ctx, []float32{1}, 1)
	if !apperr.Is(err, apperr.KindIndexUnavailable) {
		t.Errorf("Search mismatch: got %v, want IndexUnavailable", err)
	}
}

func TestMemoryStore_TieBreak(t *testing.T) {
	s, _ := NewMemoryStore(2)
	ctx := context.Background()
	_ = s.Upsert(ctx, []models.Record{
		record("b.txt", 0, "b0", []float32{1, 0}),
		record("a.txt", 1, "a1", []float32{1, 0}),
		record("a.txt", 0, "a0", []float32{1, 0}),
	})
	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a0", "a1", "b0"}
	for i, w := range want {
		if hits[i].Text != w {
			t.Errorf("hit %d = %s, want %s", i, hits[i].Text, w)
		}
	}
}

func TestMemoryStore_SearchEmptyAndZeroK(t *testing.T) {
	s, _ := NewMemoryStore(2)
	ctx := context.Background()
	hits, err := s.Search(ctx, []float32{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("empty store: hits=%v err=%v", hits, err)
	}
	_ = s.Upsert(ctx, []models.Record{record("a", 0, "x", []float32{1, 0})})
	hits, err = s.Search(ctx, []float32{1, 0}, 0)
	if err != nil || len(hits) != 0 {
		t.Errorf("k=0: hits=%v err=%v", hits, err)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "index.bin")
	ctx := context.Background()

	s, _ := NewMemoryStore(3)
	_ = s.Upsert(ctx, []models.Record{
		record("cats.md", 0, "cats sleep", []float32{1, 0, 0}),
		record("dogs.md", 2, "dogs bark", []float32{0, 0.5, 0.5}),
	})
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _ := NewMemoryStore(3)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n, _ := loaded.Count(ctx); n != 2 {
		t.Fatalf("Count after load=%d, want 2", n)
	}
	hits, _ := loaded.Search(ctx, []float32{0, 1, 1}, 1)
	if len(hits) != 1 || hits[0].Filename != "dogs.md" || hits[0].Index != 2 || hits[0].Text != "dogs bark" {
		t.Errorf("unexpected hit after load: %+v", hits)
	}
	rec := loaded.records["dogs.md#2"]
	if rec.FileType != "txt" || !rec.IngestedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("metadata not restored: %+v", rec)
	}
}

func TestMemoryStore_LoadMissingFile(t *testing.T) {
	s, _ := NewMemoryStore(3)
	if err := s.Load(filepath.Join(t.TempDir(), "missing.bin")); err != nil {
		t.Errorf("Load of missing file should be a no-op: %v", err)
	}
}

func TestMemoryStore_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	s, _ := NewMemoryStore(3)
	_ = s.Upsert(context.Background(), []models.Record{record("a", 0, "x", []float32{1, 0, 0})})
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewMemoryStore(4)
	if err := other.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out := bytesToFloat32Slice(float32SliceToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len=%d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d]=%v, want %v", i, out[i], in[i])
		}
	}
}
