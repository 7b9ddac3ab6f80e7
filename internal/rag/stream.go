package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/models"
)

// Collect drains events into a single response. It returns the typed error carried by
// an Error event.
func Collect(ctx context.Context, events <-chan Event) (*models.ChatResponse, error) {
	resp := &models.ChatResponse{Sources: []string{}}
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, apperr.CompletionUnavailable("stream ended without a terminal event", nil)
			}
			switch e.Type {
			case EventSources:
				resp.Sources = e.Sources
			case EventContent:
				b.WriteString(e.Content)
			case EventError:
				if e.cause != nil {
					return nil, e.cause
				}
				return nil, apperr.New(apperr.KindInternal, e.Err, nil)
			case EventDone:
				resp.Response = b.String()
				return resp, nil
			}
		}
	}
}

// WriteSSE writes events as Server-Sent Events. Each event is a "data: <json>" line;
// a successful stream ends with "data: [DONE]". Nothing is written after an error.
// flusher may be nil. It returns the first write error.
func WriteSSE(w io.Writer, flusher http.Flusher, events <-chan Event) error {
	for e := range events {
		if e.Type == EventDone {
			if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
				return err
			}
			flush(flusher)
			return nil
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flush(flusher)
		if e.Type == EventError {
			return nil
		}
	}
	return nil
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}
