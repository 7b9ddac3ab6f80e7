package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/apperr"
)

// FakeCompleter replays scripted fragments. It is deterministic and makes no network calls.
type FakeCompleter struct {
	// Fragments are emitted in order. When empty, the answer echoes the last user message.
	Fragments []string
	// FailAfter, when >= 0, fails the stream with CompletionUnavailable after that many fragments.
	FailAfter int
	// ConnectErr is returned by Stream and Complete before any fragment.
	ConnectErr error
	// Delay is slept before each fragment.
	Delay time.Duration

	mu    sync.Mutex
	calls [][]Message
}

// NewFakeCompleter returns a completer that streams the given fragments.
func NewFakeCompleter(fragments ...string) *FakeCompleter {
	return &FakeCompleter{Fragments: fragments, FailAfter: -1}
}

// Calls returns the message lists received so far.
func (f *FakeCompleter) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Message, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeCompleter) script(messages []Message) []string {
	if len(f.Fragments) > 0 {
		return f.Fragments
	}
	var last string
	for _, m := range messages {
		if m.Role == RoleUser {
			last = m.Content
		}
	}
	words := strings.Fields("You asked: " + firstLine(last))
	out := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out[i] = w
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimPrefix(s, "User Question: ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Stream emits the scripted fragments.
func (f *FakeCompleter) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Token, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	fragments := f.script(messages)
	ch := make(chan Token)
	go func() {
		defer close(ch)
		for i, frag := range fragments {
			if f.FailAfter >= 0 && i >= f.FailAfter {
				send(ctx, ch, Token{Err: apperr.CompletionUnavailable("scripted failure", nil)})
				return
			}
			if f.Delay > 0 {
				select {
				case <-time.After(f.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !send(ctx, ch, Token{Content: frag}) {
				return
			}
		}
		if f.FailAfter >= len(fragments) {
			send(ctx, ch, Token{Err: apperr.CompletionUnavailable("scripted failure", nil)})
		}
	}()
	return ch, nil
}

// Complete concatenates the scripted fragments.
func (f *FakeCompleter) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	ch, err := f.Stream(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	return Drain(ctx, ch)
}

// Ping returns ConnectErr.
func (f *FakeCompleter) Ping(ctx context.Context) error {
	return f.ConnectErr
}
