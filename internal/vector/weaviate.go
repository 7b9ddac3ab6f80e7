package vector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/fileid"
	kmodels "github.com/hyperjump/kotae/internal/models"
)

// WeaviateConfig configures the Weaviate client.
type WeaviateConfig struct {
	URL        string
	APIKey     string
	Class      string
	Dimensions int
	Timeout    time.Duration
}

// WeaviateStore stores chunks as objects of one class with caller-supplied vectors.
type WeaviateStore struct {
	cfg    WeaviateConfig
	client *weaviate.Client

	mu    sync.Mutex
	ready bool
}

var weaviateFields = []graphql.Field{
	{Name: "filename"},
	{Name: "chunk_index"},
	{Name: "content"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
}

// NewWeaviateStore builds a client for cfg.URL. The class is created on first write.
func NewWeaviateStore(cfg WeaviateConfig) (*WeaviateStore, error) {
	if cfg.URL == "" {
		return nil, apperr.Configuration("weaviate url is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, apperr.Configuration("dimensions must be positive", nil)
	}
	if cfg.Class == "" {
		cfg.Class = "Documents"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, apperr.Configuration(fmt.Sprintf("invalid weaviate url %q", cfg.URL), err)
	}
	wcfg := weaviate.Config{Host: u.Host, Scheme: u.Scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, apperr.Configuration("create weaviate client", err)
	}
	return &WeaviateStore{cfg: cfg, client: client}, nil
}

func (s *WeaviateStore) ensureClass(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.cfg.Class).Do(ctx)
	if err != nil {
		return apperr.IndexUnavailable("check weaviate class", err)
	}
	if !exists {
		class := documentClass(s.cfg.Class)
		if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return apperr.IndexUnavailable("create weaviate class", err)
		}
	}
	s.ready = true
	return nil
}

// documentClass describes the chunk objects. Filter properties use field tokenization
// so an Equal filter on filename matches that exact filename only.
func documentClass(name string) *models.Class {
	return &models.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "filename", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
			{Name: "chunk_index", DataType: []string{"int"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "file_type", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
			{Name: "upload_date", DataType: []string{"date"}},
		},
	}
}

// Upsert writes objects with deterministic ids so rewrites replace earlier objects.
func (s *WeaviateStore) Upsert(ctx context.Context, records []kmodels.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.ensureClass(ctx); err != nil {
		return err
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != s.cfg.Dimensions {
			return apperr.IndexUnavailable(
				fmt.Sprintf("vector dimension mismatch: got %d, expected %d", len(r.Vector), s.cfg.Dimensions), nil)
		}
		objects = append(objects, &models.Object{
			Class: s.cfg.Class,
			ID:    strfmt.UUID(fileid.ChunkUUID(r.Filename, r.Index).String()),
			Properties: map[string]interface{}{
				"filename":    r.Filename,
				"chunk_index": r.Index,
				"content":     r.Text,
				"file_type":   r.FileType,
				"upload_date": r.IngestedAt.UTC().Format(time.RFC3339),
			},
			Vector: r.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return apperr.IndexUnavailable("weaviate batch write", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return apperr.IndexUnavailable("weaviate batch write: "+item.Result.Errors.Error[0].Message, nil)
		}
	}
	return nil
}

// Search runs a nearVector query; score is 1 - distance.
func (s *WeaviateStore) Search(ctx context.Context, query []float32, k int) (kmodels.RetrievalResult, error) {
	if k <= 0 {
		return kmodels.RetrievalResult{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(query)
	resp, err := s.client.GraphQL().Get().
		WithClassName(s.cfg.Class).
		WithFields(weaviateFields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, apperr.IndexUnavailable("weaviate search", err)
	}
	if err := graphQLError(resp); err != nil {
		if isMissingClass(err) {
			return kmodels.RetrievalResult{}, nil
		}
		return nil, err
	}
	hits, err := parseGetResponse(resp.Data, s.cfg.Class)
	if err != nil {
		return nil, err
	}
	return rank(hits, k), nil
}

// Count aggregates the object count of the class.
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(s.cfg.Class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, apperr.IndexUnavailable("weaviate count", err)
	}
	if err := graphQLError(resp); err != nil {
		if isMissingClass(err) {
			return 0, nil
		}
		return 0, err
	}
	return parseAggregateCount(resp.Data, s.cfg.Class)
}

// DeleteAll drops and recreates the class.
func (s *WeaviateStore) DeleteAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.cfg.Class).Do(ctx)
	if err != nil {
		return apperr.IndexUnavailable("check weaviate class", err)
	}
	if exists {
		if err := s.client.Schema().ClassDeleter().WithClassName(s.cfg.Class).Do(ctx); err != nil {
			return apperr.IndexUnavailable("delete weaviate class", err)
		}
	}
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return s.ensureClass(ctx)
}

// DeleteDocument batch-deletes objects whose filename matches.
func (s *WeaviateStore) DeleteDocument(ctx context.Context, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.cfg.Class).Do(ctx)
	if err != nil {
		return apperr.IndexUnavailable("check weaviate class", err)
	}
	if !exists {
		return nil
	}
	where := filters.Where().
		WithPath([]string{"filename"}).
		WithOperator(filters.Equal).
		WithValueText(filename)
	_, err = s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.cfg.Class).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return apperr.IndexUnavailable("weaviate delete document", err)
	}
	return nil
}

// Ping uses the liveness endpoint.
func (s *WeaviateStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	live, err := s.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return apperr.IndexUnavailable("weaviate unreachable", err)
	}
	if !live {
		return apperr.IndexUnavailable("weaviate is not live", nil)
	}
	return nil
}

func (s *WeaviateStore) Close() error {
	return nil
}

func graphQLError(resp *models.GraphQLResponse) error {
	if resp == nil {
		return apperr.IndexUnavailable("empty weaviate response", nil)
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return apperr.IndexUnavailable("weaviate query: "+strings.Join(msgs, "; "), nil)
}

func isMissingClass(err error) bool {
	msg := strings.ToLower(apperr.Message(err))
	return strings.Contains(msg, "cannot query field") || strings.Contains(msg, "class not found")
}

// parseGetResponse reads {"Get": {"<Class>": [{filename, chunk_index, content, _additional: {distance}}]}}.
func parseGetResponse(data map[string]models.JSONObject, class string) (kmodels.RetrievalResult, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return kmodels.RetrievalResult{}, nil
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return kmodels.RetrievalResult{}, nil
	}
	hits := make(kmodels.RetrievalResult, 0, len(items))
	for _, raw := range items {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return nil, apperr.IndexUnavailable("malformed weaviate object", nil)
		}
		hit := kmodels.ScoredChunk{
			Filename: stringField(obj, "filename"),
			Index:    int(numberField(obj, "chunk_index")),
			Text:     stringField(obj, "content"),
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			hit.Score = distanceToScore(numberField(add, "distance"))
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// parseAggregateCount reads {"Aggregate": {"<Class>": [{"meta": {"count": n}}]}}.
func parseAggregateCount(data map[string]models.JSONObject, class string) (int, error) {
	agg, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, apperr.IndexUnavailable("malformed weaviate aggregate", nil)
	}
	items, ok := agg[class].([]interface{})
	if !ok || len(items) == 0 {
		return 0, nil
	}
	first, ok := items[0].(map[string]interface{})
	if !ok {
		return 0, apperr.IndexUnavailable("malformed weaviate aggregate", nil)
	}
	meta, ok := first["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	return int(numberField(meta, "count")), nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
