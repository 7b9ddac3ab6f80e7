package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hyperjump/kotae/internal/apperr"
)

// OpenAIConfig configures an OpenAI-compatible chat client.
// When Azure is true, Model is the deployment name and APIVersion is required.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	APIVersion  string
	Azure       bool
	Temperature float64
	MaxTokens   int
}

// OpenAIClient streams chat completions from OpenAI or Azure OpenAI over SSE.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIClient creates a client. Returns an error when the key or endpoint is missing.
func NewOpenAIClient(cfg OpenAIConfig, client *http.Client) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing completion API key")
	}
	if cfg.BaseURL == "" {
		if cfg.Azure {
			return nil, fmt.Errorf("missing Azure OpenAI endpoint")
		}
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-35-turbo"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIClient{cfg: cfg, client: client}, nil
}

func (c *OpenAIClient) name() string {
	if c.cfg.Azure {
		return "azure-openai"
	}
	return "openai"
}

func (c *OpenAIClient) endpoint(path string) string {
	if c.cfg.Azure {
		q := url.Values{"api-version": {c.cfg.APIVersion}}
		if path == "chat/completions" {
			return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Model), q.Encode())
		}
		return fmt.Sprintf("%s/openai/%s?%s", c.cfg.BaseURL, path, q.Encode())
	}
	return c.cfg.BaseURL + "/" + path
}

func (c *OpenAIClient) setAuth(req *http.Request) {
	if c.cfg.Azure {
		req.Header.Set("api-key", c.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) do(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	body := chatRequest{
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      stream,
	}
	if !c.cfg.Azure {
		body.Model = c.cfg.Model
	}
	if opts.Temperature != 0 {
		body.Temperature = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		body.MaxTokens = opts.MaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.CompletionUnavailable("marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.CompletionUnavailable("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.CompletionUnavailable(c.name()+" request failed", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.CompletionUnavailable(
			fmt.Sprintf("%s returned status %d: %s", c.name(), resp.StatusCode, strings.TrimSpace(string(b))), nil)
	}
	return resp, nil
}

// Stream sends messages with stream=true and emits one Token per non-empty delta.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Token, error) {
	resp, err := c.do(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}
	ch := make(chan Token)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(ctx, ch, Token{Err: apperr.CompletionUnavailable("malformed stream chunk", err)})
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, Token{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(ctx, ch, Token{Err: apperr.CompletionUnavailable("stream interrupted", err)})
			return
		}
		if ctx.Err() == nil {
			send(ctx, ch, Token{Err: apperr.CompletionUnavailable("stream ended without [DONE]", nil)})
		}
	}()
	return ch, nil
}

// Complete sends messages with stream=false and returns the whole answer.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.do(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out chatChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.CompletionUnavailable("decode response", err)
	}
	if len(out.Choices) == 0 {
		return "", apperr.CompletionUnavailable("no choices returned", nil)
	}
	return out.Choices[0].Message.Content, nil
}

// Ping lists models, which checks the endpoint and key without spending tokens.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("models"), nil)
	if err != nil {
		return apperr.CompletionUnavailable("create request", err)
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.CompletionUnavailable(c.name()+" unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.CompletionUnavailable(fmt.Sprintf("%s returned status %d", c.name(), resp.StatusCode), nil)
	}
	return nil
}
