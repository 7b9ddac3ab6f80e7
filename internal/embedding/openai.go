package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// OpenAIConfig configures an OpenAI-compatible embeddings client.
// When Azure is true, Model is the deployment name and APIVersion is required.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	APIVersion string
	Azure      bool
	Dimensions int
}

// OpenAIEmbedder calls the embeddings endpoint of OpenAI or Azure OpenAI.
// It makes exactly one HTTP call per EmbedBatch; retry is the Gateway's job.
type OpenAIEmbedder struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIEmbedder creates a client. Returns an error when the key or endpoint is missing.
func NewOpenAIEmbedder(cfg OpenAIConfig, client *http.Client) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing embedding API key")
	}
	if cfg.BaseURL == "" {
		if cfg.Azure {
			return nil, fmt.Errorf("missing Azure OpenAI endpoint")
		}
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-ada-002"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIEmbedder{cfg: cfg, client: client}, nil
}

func (e *OpenAIEmbedder) name() string {
	if e.cfg.Azure {
		return "azure-openai"
	}
	return "openai"
}

func (e *OpenAIEmbedder) endpoint(path string) string {
	if e.cfg.Azure {
		q := url.Values{"api-version": {e.cfg.APIVersion}}
		if path == "embeddings" {
			return fmt.Sprintf("%s/openai/deployments/%s/embeddings?%s", e.cfg.BaseURL, url.PathEscape(e.cfg.Model), q.Encode())
		}
		return fmt.Sprintf("%s/openai/%s?%s", e.cfg.BaseURL, path, q.Encode())
	}
	return e.cfg.BaseURL + "/" + path
}

func (e *OpenAIEmbedder) setAuth(req *http.Request) {
	if e.cfg.Azure {
		req.Header.Set("api-key", e.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch sends all texts in one request and returns vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}{Input: texts, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint("embeddings"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.setAuth(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transportError(e.name(), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(e.name(), err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(e.name(), resp, payload)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ProviderError{Provider: e.name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Data) != len(texts) {
		return nil, &ProviderError{Provider: e.name(), StatusCode: resp.StatusCode,
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data))}
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// Ping lists models, which checks the endpoint and key without spending tokens.
func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint("models"), nil)
	if err != nil {
		return err
	}
	e.setAuth(req)
	resp, err := e.client.Do(req)
	if err != nil {
		return transportError(e.name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusError(e.name(), resp, b)
	}
	return nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
