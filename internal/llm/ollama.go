package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/kotae/internal/apperr"
)

// OllamaClient streams chat completions from Ollama's /api/chat (NDJSON).
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates a client. Empty baseURL and model use local defaults.
func NewOllamaClient(baseURL, model string, client *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaClient{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: client}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (o *OllamaClient) do(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	body := ollamaChatRequest{Model: o.model, Messages: messages, Stream: stream}
	if opts.Temperature != 0 || opts.MaxTokens != 0 {
		body.Options = map[string]any{}
		if opts.Temperature != 0 {
			body.Options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens != 0 {
			body.Options["num_predict"] = opts.MaxTokens
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.CompletionUnavailable("marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.CompletionUnavailable("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, apperr.CompletionUnavailable("ollama request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.CompletionUnavailable(
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))), nil)
	}
	return resp, nil
}

// Stream emits one Token per non-empty message fragment until a line reports done.
func (o *OllamaClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Token, error) {
	resp, err := o.do(ctx, messages, opts, true)
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
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				send(ctx, ch, Token{Err: apperr.CompletionUnavailable("malformed stream line", err)})
				return
			}
			if chunk.Error != "" {
				send(ctx, ch, Token{Err: apperr.CompletionUnavailable("ollama: "+chunk.Error, nil)})
				return
			}
			if chunk.Message.Content != "" {
				if !send(ctx, ch, Token{Content: chunk.Message.Content}) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			send(ctx, ch, Token{Err: apperr.CompletionUnavailable("stream interrupted", err)})
			return
		}
		send(ctx, ch, Token{Err: apperr.CompletionUnavailable("stream ended before done", nil)})
	}()
	return ch, nil
}

// Complete sends messages with stream=false and returns the whole answer.
func (o *OllamaClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := o.do(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.CompletionUnavailable("decode response", err)
	}
	if out.Error != "" {
		return "", apperr.CompletionUnavailable("ollama: "+out.Error, nil)
	}
	return out.Message.Content, nil
}

// Ping checks that the Ollama server answers /api/tags.
func (o *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return apperr.CompletionUnavailable("create request", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return apperr.CompletionUnavailable("ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.CompletionUnavailable(fmt.Sprintf("ollama returned status %d", resp.StatusCode), nil)
	}
	return nil
}
