// Package prompt assembles the chat messages sent to the completion provider.
package prompt

import (
	"strings"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

// DefaultSystemPrompt instructs the model to answer from the supplied context.
const DefaultSystemPrompt = "You are a helpful AI assistant that answers questions based on the provided context. " +
	"Use the context documents to answer the user's question. If the answer cannot be found in the context, " +
	"say so clearly. Always cite the source documents when possible."

const (
	DefaultHistoryWindow = 10
	noDocuments          = "(no relevant documents found)"
)

// Prompt is the assembled request for one chat turn.
type Prompt struct {
	Messages []llm.Message
	// Passages is how many retrieved chunks made it into the context block.
	Passages int
}

// Text renders the messages as a transcript. Identical prompts render identically.
func (p Prompt) Text() string {
	var b strings.Builder
	for i, m := range p.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(m.Role)
		b.WriteString("]\n")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Builder merges retrieved passages, a window of prior turns, and the new message.
// It has no hidden state, so equal inputs always give equal prompts.
type Builder struct {
	systemPrompt  string
	historyWindow int
	counter       Counter
	maxTokens     int
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryWindow keeps at most n prior turns. n <= 0 drops all history.
func WithHistoryWindow(n int) Option {
	return func(b *Builder) {
		if n < 0 {
			n = 0
		}
		b.historyWindow = n
	}
}

// WithSystemPrompt replaces the system instruction.
func WithSystemPrompt(s string) Option {
	return func(b *Builder) {
		if strings.TrimSpace(s) != "" {
			b.systemPrompt = s
		}
	}
}

// WithTokenBudget drops the lowest ranked passages until the prompt fits maxTokens.
// maxTokens <= 0 disables the budget.
func WithTokenBudget(counter Counter, maxTokens int) Option {
	return func(b *Builder) {
		b.counter = counter
		b.maxTokens = maxTokens
	}
}

// NewBuilder creates a builder with the default system prompt and a window of 10 turns.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		systemPrompt:  DefaultSystemPrompt,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HistoryWindow returns the number of prior turns kept.
func (b *Builder) HistoryWindow() int {
	return b.historyWindow
}

// Build assembles the prompt: system instruction with the context block, the last N
// history turns in the order supplied, then the new user message.
func (b *Builder) Build(message string, history []models.Turn, result models.RetrievalResult) Prompt {
	turns := b.window(history)
	passages := len(result)
	p := b.render(message, turns, result[:passages])
	if b.maxTokens <= 0 || b.counter == nil {
		return p
	}
	for passages > 0 && b.counter.Count(p.Text()) > b.maxTokens {
		passages--
		p = b.render(message, turns, result[:passages])
	}
	return p
}

// TokenCount counts the tokens of a rendered prompt, or returns 0 without a counter.
func (b *Builder) TokenCount(p Prompt) int {
	if b.counter == nil {
		return 0
	}
	return b.counter.Count(p.Text())
}

func (b *Builder) window(history []models.Turn) []models.Turn {
	if len(history) > b.historyWindow {
		return history[len(history)-b.historyWindow:]
	}
	return history
}

func (b *Builder) render(message string, turns []models.Turn, passages models.RetrievalResult) Prompt {
	var sys strings.Builder
	sys.WriteString(b.systemPrompt)
	sys.WriteString("\n\nContext Documents:\n")
	if len(passages) == 0 {
		sys.WriteString(noDocuments)
	}
	for i, c := range passages {
		if i > 0 {
			sys.WriteString("\n\n")
		}
		sys.WriteString("Document: ")
		sys.WriteString(c.Filename)
		sys.WriteString("\nContent: ")
		sys.WriteString(c.Text)
	}

	msgs := make([]llm.Message, 0, len(turns)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: sys.String()})
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleUser,
		Content: "User Question: " + message + "\n\nPlease provide a helpful answer based on the context above.",
	})
	return Prompt{Messages: msgs, Passages: len(passages)}
}
