// Package models defines core data structures for documents, chunks, retrieval results, and chat turns.
package models

import "time"

// Document is an ingestion input. It is transient; only its chunks are stored.
type Document struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// Chunk is a bounded segment of a document's text.
// Start is the rune offset of Text within the source document.
type Chunk struct {
	Filename string `json:"filename"`
	Index    int    `json:"chunk_index"`
	Text     string `json:"content"`
	Start    int    `json:"start"`
}

// Record is a chunk with its embedding, as written to the vector store.
type Record struct {
	Chunk
	Vector     []float32 `json:"-"`
	FileType   string    `json:"file_type"`
	IngestedAt time.Time `json:"upload_date"`
}

// DocumentInfo describes an ingested document in the registry.
type DocumentInfo struct {
	Filename   string    `json:"filename" db:"filename"`
	FileType   string    `json:"file_type" db:"file_type"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	ChunkCount int       `json:"chunk_count" db:"chunk_count"`
	UploadDate time.Time `json:"upload_date" db:"upload_date"`
}

// IngestResult reports the outcome of ingesting one document.
// Failures lists non-fatal problems, such as a failed cleanup after an aborted ingest.
type IngestResult struct {
	Filename      string   `json:"filename"`
	ChunksWritten int      `json:"chunks_written"`
	Failures      []string `json:"failures,omitempty"`
}

// FileOutcome is the per-file entry of a directory ingestion.
type FileOutcome struct {
	Path          string `json:"path"`
	Filename      string `json:"filename"`
	ChunksWritten int    `json:"chunks_written"`
	Skipped       bool   `json:"skipped,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DirectoryResult summarises a directory ingestion. Files are listed in walk order.
type DirectoryResult struct {
	Directory   string        `json:"directory"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	TotalChunks int           `json:"total_chunks"`
	Files       []FileOutcome `json:"files"`
}
