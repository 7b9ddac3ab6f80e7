package models

import (
	"strings"
	"time"
)

// Turn is one prior message of a conversation, supplied by the caller.
type Turn struct {
	Role      string     `json:"role" validate:"required,oneof=user assistant"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Message             string `json:"message" validate:"required"`
	ConversationHistory []Turn `json:"conversation_history" validate:"dive"`
	Stream              *bool  `json:"stream,omitempty"`
}

// WantsStream reports whether the caller asked for incremental delivery. Defaults to true.
func (r *ChatRequest) WantsStream() bool {
	if r.Stream == nil {
		return true
	}
	return *r.Stream
}

// Validate checks the request before any external call is made.
func (r *ChatRequest) Validate() error {
	r.Message = strings.TrimSpace(r.Message)
	return ValidateStruct(r)
}

// ChatResponse is the aggregated non-streaming answer.
type ChatResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

// IngestTextRequest is the body of a raw-text ingestion call.
type IngestTextRequest struct {
	TextContent string `json:"text_content" validate:"required"`
	Filename    string `json:"filename,omitempty"`
}

// Validate checks that text content is present.
func (r *IngestTextRequest) Validate() error {
	if strings.TrimSpace(r.TextContent) == "" {
		r.TextContent = ""
	}
	return ValidateStruct(r)
}

// IngestResponse is returned by the ingestion endpoints.
type IngestResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	DocumentID    string `json:"document_id,omitempty"`
	ChunksCreated int    `json:"chunks_created"`
}
