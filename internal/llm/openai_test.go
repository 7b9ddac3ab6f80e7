package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/apperr"
)

func sseServer(t *testing.T, lines []string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func delta(s string) string {
	b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": s}}}})
	return "data: " + string(b)
}

func collect(t *testing.T, ch <-chan Token) ([]string, error) {
	t.Helper()
	var out []string
	for tok := range ch {
		if tok.Err != nil {
			return out, tok.Err
		}
		out = append(out, tok.Content)
	}
	return out, nil
}

func TestOpenAIClient_AzureStream(t *testing.T) {
	var body chatRequest
	srv := sseServer(t, []string{
		`data: {"choices":[]}`,
		delta("Hel"),
		delta(""),
		": keep-alive",
		delta("lo"),
		"data: [DONE]",
	}, func(r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-15-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
	})

	c, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: srv.URL + "/", APIKey: "secret", Model: "gpt-4o",
		APIVersion: "2024-02-15-preview", Azure: true, Temperature: 0.7, MaxTokens: 100,
	}, srv.Client())
	require.NoError(t, err)

	ch, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{MaxTokens: 50})
	require.NoError(t, err)
	frags, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, frags)

	assert.True(t, body.Stream)
	assert.Empty(t, body.Model)
	assert.Equal(t, 50, body.MaxTokens)
	assert.InDelta(t, 0.7, body.Temperature, 1e-9)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, body.Messages)
}

func TestOpenAIClient_BearerAuthAndModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.False(t, req.Stream)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"pong"}}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o-mini"}, srv.Client())
	require.NoError(t, err)
	got, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "ping"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "pong", got)
}

func TestOpenAIClient_StatusIsCompletionUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)
	_, err = c.Stream(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCompletionUnavailable))
	assert.Contains(t, err.Error(), "429")

	assert.True(t, apperr.Is(c.Ping(context.Background()), apperr.KindCompletionUnavailable))
}

func TestOpenAIClient_StreamWithoutDoneFails(t *testing.T) {
	srv := sseServer(t, []string{delta("partial")}, nil)
	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	ch, err := c.Stream(context.Background(), nil, Options{})
	require.NoError(t, err)
	frags, err := collect(t, ch)
	assert.Equal(t, []string{"partial"}, frags)
	assert.True(t, apperr.Is(err, apperr.KindCompletionUnavailable))
}

func TestOpenAIClient_MalformedChunk(t *testing.T) {
	srv := sseServer(t, []string{"data: {not json"}, nil)
	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)
	ch, err := c.Stream(context.Background(), nil, Options{})
	require.NoError(t, err)
	_, err = collect(t, ch)
	assert.True(t, apperr.Is(err, apperr.KindCompletionUnavailable))
}

func TestOpenAIClient_CancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n\n", delta("first"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, nil, Options{})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Content)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestNewOpenAIClient_Validation(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{}, nil)
	assert.Error(t, err)
	_, err = NewOpenAIClient(OpenAIConfig{APIKey: "k", Azure: true}, nil)
	assert.Error(t, err)
}
