package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// QdrantConfig configures the Qdrant REST client.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// QdrantStore is a REST client for a Qdrant collection using cosine distance.
// Point ids are v5 UUIDs derived from filename and chunk index.
type QdrantStore struct {
	cfg    QdrantConfig
	client *http.Client

	mu    sync.Mutex
	ready bool
}

var errNotFound = errors.New("not found")

// NewQdrantStore creates a client. The collection is created on first write.
func NewQdrantStore(cfg QdrantConfig, client *http.Client) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, apperr.Configuration("qdrant url is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, apperr.Configuration("dimensions must be positive", nil)
	}
	if cfg.Collection == "" {
		cfg.Collection = "Documents"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &QdrantStore{cfg: cfg, client: client}, nil
}

func (s *QdrantStore) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.cfg.URL, url.PathEscape(s.cfg.Collection), suffix)
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if errors.Is(err, errNotFound) {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     s.cfg.Dimensions,
				"distance": "Cosine",
			},
		}
		err = s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	}
	if err != nil {
		return err
	}
	s.ready = true
	return nil
}

// Upsert writes points and waits for the write to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return apperr.IndexUnavailable("qdrant create collection", err)
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     fileid.ChunkUUID(r.Filename, r.Index).String(),
			"vector": r.Vector,
			"payload": map[string]any{
				"filename":    r.Filename,
				"chunk_index": r.Index,
				"content":     r.Text,
				"file_type":   r.FileType,
				"upload_date": r.IngestedAt.Format(time.RFC3339),
			},
		}
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
		return apperr.IndexUnavailable("qdrant upsert", err)
	}
	return nil
}

// Search queries the collection by vector. A missing collection yields no hits.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		return models.RetrievalResult{}, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				Filename   string `json:"filename"`
				ChunkIndex int    `json:"chunk_index"`
				Content    string `json:"content"`
			} `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if errors.Is(err, errNotFound) {
		return models.RetrievalResult{}, nil
	}
	if err != nil {
		return nil, apperr.IndexUnavailable("qdrant search", err)
	}
	hits := make(models.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, models.ScoredChunk{
			Filename: r.Payload.Filename,
			Index:    r.Payload.ChunkIndex,
			Text:     r.Payload.Content,
			Score:    r.Score,
		})
	}
	return rank(hits, k), nil
}

// Count returns the exact number of points.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.IndexUnavailable("qdrant count", err)
	}
	return resp.Result.Count, nil
}

// DeleteAll drops and recreates the collection.
func (s *QdrantStore) DeleteAll(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil && !errors.Is(err, errNotFound) {
		return apperr.IndexUnavailable("qdrant delete collection", err)
	}
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	if err := s.ensureCollection(ctx); err != nil {
		return apperr.IndexUnavailable("qdrant create collection", err)
	}
	return nil
}

// DeleteDocument removes the points whose payload filename matches.
func (s *QdrantStore) DeleteDocument(ctx context.Context, filename string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "filename", "match": map[string]any{"value": filename}},
			},
		},
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	if err != nil && !errors.Is(err, errNotFound) {
		return apperr.IndexUnavailable("qdrant delete document", err)
	}
	return nil
}

// Ping calls the health endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if err := s.do(ctx, http.MethodGet, s.cfg.URL+"/healthz", nil, nil); err != nil {
		return apperr.IndexUnavailable("qdrant unreachable", err)
	}
	return nil
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) do(ctx context.Context, method, u string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, u, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
