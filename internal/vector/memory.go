package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// MemoryStore is an in-process store with brute-force cosine search.
// Suitable for tests, the CLI, and small corpora; Save/Load snapshot it to disk.
type MemoryStore struct {
	dimensions int
	records    map[string]models.Record
	mu         sync.RWMutex
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, apperr.Configuration("dimensions must be positive", nil)
	}
	return &MemoryStore{
		dimensions: dimensions,
		records:    make(map[string]models.Record),
	}, nil
}

// Upsert inserts or replaces records keyed by filename and chunk index.
func (m *MemoryStore) Upsert(ctx context.Context, records []models.Record) error {
	for _, r := range records {
		if len(r.Vector) != m.dimensions {
			return apperr.IndexUnavailable(
				fmt.Sprintf("vector dimension mismatch: got %d, expected %d", len(r.Vector), m.dimensions), nil)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		vec := make([]float32, m.dimensions)
		copy(vec, r.Vector)
		r.Vector = vec
		m.records[fileid.ChunkKey(r.Filename, r.Index)] = r
	}
	return nil
}

// Search returns the top-k records by cosine similarity.
func (m *MemoryStore) Search(ctx context.Context, query []float32, k int) (models.RetrievalResult, error) {
	if len(query) != m.dimensions {
		return nil, apperr.IndexUnavailable(
			fmt.Sprintf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions), nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.records) == 0 {
		return models.RetrievalResult{}, nil
	}
	hits := make(models.RetrievalResult, 0, len(m.records))
	for _, r := range m.records {
		hits = append(hits, models.ScoredChunk{
			Filename: r.Filename,
			Index:    r.Index,
			Text:     r.Text,
			Score:    Similarity(query, r.Vector),
		})
	}
	return rank(hits, k), nil
}

// Count returns the number of stored chunks.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// CountDocument returns the number of chunks stored for filename.
func (m *MemoryStore) CountDocument(ctx context.Context, filename string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.Filename == filename {
			n++
		}
	}
	return n, nil
}

// DeleteAll removes every record.
func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]models.Record)
	return nil
}

// DeleteDocument removes the records of one document.
func (m *MemoryStore) DeleteDocument(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, r := range m.records {
		if r.Filename == filename {
			delete(m.records, key)
		}
	}
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Save persists the store to path. Directory is created if needed. Format: dimension (4), n (4),
// then per record: filename, index (4), text, file type, ingested-at unix nanos (8), vector
// (dimension*4 bytes). Strings are length-prefixed (4).
func (m *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryStore) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, r := range m.records {
		if err := writeString(w, r.Filename); err != nil {
			return fmt.Errorf("write filename: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(r.Index)); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		if err := writeString(w, r.Text); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		if err := writeString(w, r.FileType); err != nil {
			return fmt.Errorf("write file type: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, r.IngestedAt.UnixNano()); err != nil {
			return fmt.Errorf("write timestamp: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the store from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the store is unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, store expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	records := make(map[string]models.Record, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var rec models.Record
		var idx uint32
		var nanos int64
		if rec.Filename, err = readString(r); err != nil {
			return fmt.Errorf("read filename: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		if rec.Text, err = readString(r); err != nil {
			return fmt.Errorf("read text: %w", err)
		}
		if rec.FileType, err = readString(r); err != nil {
			return fmt.Errorf("read file type: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		rec.Index = int(idx)
		rec.IngestedAt = time.Unix(0, nanos).UTC()
		rec.Vector = bytesToFloat32Slice(buf)
		records[fileid.ChunkKey(rec.Filename, rec.Index)] = rec
	}
	m.mu.Lock()
	m.records = records
	m.mu.Unlock()
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
