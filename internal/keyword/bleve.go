package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

const deletePageSize = 1000

type chunkDoc struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	path  string
	mu    sync.RWMutex
	index bleve.Index
}

func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) keeps exact words matchable.
	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = true
	docMapping.AddFieldMappingsAt("content", content)

	filename := bleve.NewKeywordFieldMapping()
	filename.Store = true
	docMapping.AddFieldMappingsAt("filename", filename)

	index := bleve.NewNumericFieldMapping()
	index.Store = true
	docMapping.AddFieldMappingsAt("chunk_index", index)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the index in memory.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	idx, err := openBleve(path)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: idx}, nil
}

func openBleve(path string) (bleve.Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(chunkMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return idx, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return idx, nil
	}
	idx, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

// IndexChunks indexes chunks in one batch, keyed by filename#index.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := chunkDoc{Filename: c.Filename, ChunkIndex: c.Index, Content: c.Text}
		if err := batch.Index(fileid.ChunkKey(c.Filename, c.Index), doc); err != nil {
			return fmt.Errorf("Bleve batch index failed: %w", err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch index failed: %w", err)
	}
	return nil
}

// DeleteDocument removes every chunk of filename.
func (b *BleveIndex) DeleteDocument(ctx context.Context, filename string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for {
		q := bleve.NewTermQuery(filename)
		q.SetField("filename")
		req := bleve.NewSearchRequest(q)
		req.Size = deletePageSize
		res, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve delete lookup failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve batch delete failed: %w", err)
		}
		if len(res.Hits) < deletePageSize {
			return nil
		}
	}
}

// DeleteAll drops the index and creates an empty one in its place.
func (b *BleveIndex) DeleteAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close Bleve index: %w", err)
	}
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("failed to remove Bleve index: %w", err)
		}
	}
	idx, err := openBleve(b.path)
	if err != nil {
		return err
	}
	b.index = idx
	return nil
}

// Search runs a match query over chunk content and returns up to limit hits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []Hit{}, nil
	}
	var q blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		q = mq
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"filename", "chunk_index", "content"}

	b.mu.RLock()
	res, err := b.index.Search(req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["filename"].(string); ok {
			hit.Filename = v
		}
		if v, ok := h.Fields["chunk_index"].(float64); ok {
			hit.Index = int(v)
		}
		if v, ok := h.Fields["content"].(string); ok {
			hit.Content = v
		}
		if hit.Filename == "" {
			if f, i, ok := fileid.ParseChunkKey(h.ID); ok {
				hit.Filename, hit.Index = f, i
			}
		}
		out = append(out, hit)
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of fuzzy term queries over content.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("content")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
