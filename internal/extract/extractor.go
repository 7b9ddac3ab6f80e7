// Package extract turns uploaded documents into plain text for chunking.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".odt":  extractWithCat,
	".rtf":  extractWithCat,
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".odp":  extractOpenDocument,
	".ods":  extractOpenDocument,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension, which includes the
// leading dot. Extensions without a dedicated extractor are read as UTF-8 text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := extractors[strings.ToLower(ext)]
	if !ok {
		fn = extractPlain
	}
	return fn(content)
}

// Supported reports whether ext has a dedicated extractor.
func Supported(ext string) bool {
	_, ok := extractors[strings.ToLower(ext)]
	return ok
}

// SupportedExtensions lists every extension with a dedicated extractor, sorted.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extractors))
	for ext := range extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
