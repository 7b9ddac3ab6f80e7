package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("search: %w", IndexUnavailable("qdrant unreachable", errors.New("dial tcp")))

	assert.True(t, errors.Is(err, ErrIndexUnavailable))
	assert.False(t, errors.Is(err, ErrEmbeddingUnavailable))
	assert.Equal(t, KindIndexUnavailable, KindOf(err))
	assert.True(t, Is(err, KindIndexUnavailable))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := EmbeddingUnavailable("retries exhausted", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "embedding_unavailable")
	assert.Contains(t, err.Error(), "boom")
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
	assert.False(t, Is(nil, KindInternal))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "message is required", Message(InvalidRequest("message is required")))
	assert.Equal(t, "timeout: context deadline exceeded",
		Message(CompletionUnavailable("timeout", errors.New("context deadline exceeded"))))
	assert.Equal(t, "plain", Message(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{InvalidRequest("bad"), http.StatusBadRequest},
		{Configuration("overlap", nil), http.StatusInternalServerError},
		{EmbeddingUnavailable("x", nil), http.StatusInternalServerError},
		{IndexUnavailable("x", nil), http.StatusInternalServerError},
		{CompletionUnavailable("x", nil), http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestWithDetail(t *testing.T) {
	err := InvalidRequest("validation failed").WithDetail("message", "is required")
	assert.Equal(t, "is required", err.Details["message"])
}
