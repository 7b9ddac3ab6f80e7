// Package llm streams chat completions from an external model provider.
package llm

import (
	"context"
	"strings"
)

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Token is one incremental fragment of a streamed completion. A Token with Err set is the
// last value on its channel.
type Token struct {
	Content string
	Err     error
}

// Options are per-request generation settings. Zero values use the provider default.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Completer is a chat completion provider.
//
// Stream returns a channel that yields fragments in provider order and is closed when the
// upstream completes, fails, or ctx is canceled. Errors before the first byte are returned
// directly; later failures arrive as a Token with Err set.
type Completer interface {
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan Token, error)
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
	Ping(ctx context.Context) error
}

// Drain reads a stream to its end and concatenates the fragments.
func Drain(ctx context.Context, tokens <-chan Token) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case tok, ok := <-tokens:
			if !ok {
				return b.String(), nil
			}
			if tok.Err != nil {
				return b.String(), tok.Err
			}
			b.WriteString(tok.Content)
		}
	}
}

// send delivers tok unless ctx is done first.
func send(ctx context.Context, ch chan<- Token, tok Token) bool {
	select {
	case ch <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}
