package prompt

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used by the GPT-3.5 and GPT-4 families.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// TokenCounter counts tokens with a tiktoken encoding. The zero value, or a counter whose
// encoding could not be loaded, estimates one token per four runes.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding. Loading may fetch the BPE ranks once and cache
// them; on failure the counter falls back to the estimate and the error is returned for logging.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return &TokenCounter{}, err
	}
	return &TokenCounter{enc: enc}, nil
}

// Exact reports whether counts come from the tokenizer rather than the estimate.
func (c *TokenCounter) Exact() bool {
	return c != nil && c.enc != nil
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if c.Exact() {
		return len(c.enc.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// EstimateTokens approximates a token count as runes/4, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
