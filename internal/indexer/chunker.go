// Package indexer provides document chunking and the ingestion pipeline.
package indexer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/models"
)

// Chunker splits text into overlapping character windows.
// Sizes are counted in runes.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	lookback     int
}

// NewChunker creates a chunker. lookback > 0 lets a non-final chunk end early on whitespace
// found within that many runes of its nominal end.
func NewChunker(chunkSize, chunkOverlap, lookback int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperr.Configuration(fmt.Sprintf("chunk size must be positive, got %d", chunkSize), nil)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, apperr.Configuration(
			fmt.Sprintf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize), nil)
	}
	if lookback < 0 {
		lookback = 0
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap, lookback: lookback}, nil
}

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int {
	return c.chunkOverlap
}

// Split cuts text into chunks tagged with filename. Each chunk after the first starts
// exactly overlap runes before the end of its predecessor. Blank text yields no chunks.
func (c *Chunker) Split(filename, text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	chunks := make([]models.Chunk, 0, n/(c.chunkSize-c.chunkOverlap)+1)
	start := 0
	for {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			end = c.boundary(runes, start, end)
		}
		chunks = append(chunks, models.Chunk{
			Filename: filename,
			Index:    len(chunks),
			Text:     string(runes[start:end]),
			Start:    start,
		})
		if end == n {
			break
		}
		start = end - c.chunkOverlap
	}
	return chunks
}

// boundary moves end back to just after the nearest whitespace within the lookback window.
// The result always stays above start+overlap so the next chunk makes progress.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	if c.lookback == 0 {
		return end
	}
	floor := end - c.lookback
	if lo := start + c.chunkOverlap + 1; floor < lo {
		floor = lo
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// Reconstruct joins chunks back into the source text. Each chunk contributes only the
// runes past the end of the text rebuilt so far, located by its Start offset.
func Reconstruct(chunks []models.Chunk) string {
	var b strings.Builder
	pos := 0
	for _, ch := range chunks {
		r := []rune(ch.Text)
		skip := pos - ch.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			b.WriteString(string(r[skip:]))
			pos = ch.Start + len(r)
		}
	}
	return b.String()
}
