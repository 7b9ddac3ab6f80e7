package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// MemoryRegistry is a process-local Registry used when no database path is configured.
type MemoryRegistry struct {
	mu   sync.RWMutex
	docs map[string]models.DocumentInfo
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{docs: make(map[string]models.DocumentInfo)}
}

func (m *MemoryRegistry) Put(ctx context.Context, info models.DocumentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[info.Filename] = info
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, filename string) (*models.DocumentInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.docs[filename]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return &info, nil
}

func (m *MemoryRegistry) Delete(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, filename)
	return nil
}

func (m *MemoryRegistry) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]models.DocumentInfo)
	return nil
}

func (m *MemoryRegistry) List(ctx context.Context, offset, limit int) ([]models.DocumentInfo, error) {
	m.mu.RLock()
	docs := make([]models.DocumentInfo, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadDate.Equal(docs[j].UploadDate) {
			return docs[i].UploadDate.After(docs[j].UploadDate)
		}
		return docs[i].Filename < docs[j].Filename
	})
	if offset >= len(docs) {
		return []models.DocumentInfo{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

func (m *MemoryRegistry) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *MemoryRegistry) Close() error {
	return nil
}
