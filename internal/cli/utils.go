// Package cli renders retrieval results, answers, and status for the kotae command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetLen bounds the passage excerpt shown per retrieval hit.
const snippetLen = 200

// ParseFormat accepts "text", "json", or empty (text).
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes ranked chunks for query.
func WriteRetrieval(w io.Writer, query string, result models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		if result == nil {
			result = models.RetrievalResult{}
		}
		return writeJSON(w, struct {
			Query   string                 `json:"query"`
			Results models.RetrievalResult `json:"results"`
		}{query, result})
	}
	fmt.Fprintf(w, "\nFound %d chunks for %q\n\n", len(result), query)
	for i, hit := range result {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, hit.Score)
		fmt.Fprintf(w, "Source: %s (chunk %d)\n", hit.Filename, hit.Index)
		fmt.Fprintf(w, "\n%s\n\n", search.Snippet(hit.Text, query, snippetLen))
	}
	return nil
}

// WriteAnswer writes an aggregated chat answer with its sources.
func WriteAnswer(w io.Writer, resp *models.ChatResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintln(w, resp.Response)
	WriteSources(w, resp.Sources)
	return nil
}

// WriteSources writes the source footer printed after a text answer.
func WriteSources(w io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(w, "\nSources: %s\n", strings.Join(sources, ", "))
}

// StatusConfig is the configuration summary shown by status.
type StatusConfig struct {
	VectorBackend       string `json:"vector_backend"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	CompletionProvider  string `json:"completion_provider"`
	CompletionModel     string `json:"completion_model,omitempty"`
	ChunkSize           int    `json:"chunk_size"`
	ChunkOverlap        int    `json:"chunk_overlap"`
	Hybrid              bool   `json:"hybrid"`
	DatabasePath        string `json:"database_path,omitempty"`
	KeywordIndexPath    string `json:"keyword_index_path,omitempty"`
	MemoryIndexPath     string `json:"memory_index_path,omitempty"`
}

// Status is the output of the status command.
type Status struct {
	Chunks         int                   `json:"chunks"`
	Documents      []models.DocumentInfo `json:"documents"`
	DiskUsageBytes *int64                `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig         `json:"config,omitempty"`
}

// WriteStatus writes chunk counts, the document listing, and the configuration summary.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		if status.Documents == nil {
			status.Documents = []models.DocumentInfo{}
		}
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "chunks:             %d   # stored text chunks\n", status.Chunks)
	fmt.Fprintf(w, "documents:          %d   # registered documents\n", len(status.Documents))
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # registry + indices on disk\n", *status.DiskUsageBytes)
	}
	if len(status.Documents) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILENAME\tTYPE\tSIZE\tCHUNKS\tUPLOADED")
		for _, d := range status.Documents {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				utils.Truncate(d.Filename, 40), d.FileType, d.FileSize, d.ChunkCount,
				d.UploadDate.Format(time.RFC3339))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "vector_backend:     %s\n", c.VectorBackend)
		fmt.Fprintf(w, "embedding:          %s %s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingModel, c.EmbeddingDimensions)
		fmt.Fprintf(w, "completion:         %s %s\n", c.CompletionProvider, c.CompletionModel)
		fmt.Fprintf(w, "chunk_size:         %d\n", c.ChunkSize)
		fmt.Fprintf(w, "chunk_overlap:      %d\n", c.ChunkOverlap)
		fmt.Fprintf(w, "hybrid:             %t\n", c.Hybrid)
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		if c.KeywordIndexPath != "" {
			fmt.Fprintf(w, "keyword_index_path: %s\n", c.KeywordIndexPath)
		}
		if c.MemoryIndexPath != "" {
			fmt.Fprintf(w, "memory_index_path:  %s\n", c.MemoryIndexPath)
		}
	}
	return nil
}
