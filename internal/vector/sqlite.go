package vector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStore keeps chunks and their vectors in a local SQLite file and searches by brute force.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteStore opens or creates the database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, apperr.Configuration("dimensions must be positive", nil)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initVectorSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dimensions: dimensions}, nil
}

func initVectorSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		filename TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		file_type TEXT,
		embedding BLOB NOT NULL,
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (filename, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_filename ON chunks(filename);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert writes records in one transaction, replacing any existing row with the same key.
func (s *SQLiteStore) Upsert(ctx context.Context, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IndexUnavailable("begin upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (filename, chunk_index, content, file_type, embedding, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return apperr.IndexUnavailable("prepare upsert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Vector) != s.dimensions {
			return apperr.IndexUnavailable(
				fmt.Sprintf("vector dimension mismatch: got %d, expected %d", len(r.Vector), s.dimensions), nil)
		}
		if _, err := stmt.ExecContext(ctx, r.Filename, r.Index, r.Text, r.FileType,
			float32SliceToBytes(r.Vector), r.IngestedAt); err != nil {
			return apperr.IndexUnavailable("upsert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.IndexUnavailable("commit upsert", err)
	}
	return nil
}

// Search scans every row and returns the top-k by cosine similarity.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int) (models.RetrievalResult, error) {
	if len(query) != s.dimensions {
		return nil, apperr.IndexUnavailable(
			fmt.Sprintf("query dimension mismatch: got %d, expected %d", len(query), s.dimensions), nil)
	}
	if k <= 0 {
		return models.RetrievalResult{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT filename, chunk_index, content, embedding FROM chunks`)
	if err != nil {
		return nil, apperr.IndexUnavailable("search", err)
	}
	defer rows.Close()

	hits := make(models.RetrievalResult, 0)
	for rows.Next() {
		var hit models.ScoredChunk
		var blob []byte
		if err := rows.Scan(&hit.Filename, &hit.Index, &hit.Text, &blob); err != nil {
			return nil, apperr.IndexUnavailable("scan chunk", err)
		}
		hit.Score = Similarity(query, bytesToFloat32Slice(blob))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IndexUnavailable("search", err)
	}
	return rank(hits, k), nil
}

// Count returns the total number of chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, apperr.IndexUnavailable("count", err)
	}
	return count, nil
}

// CountDocument returns the number of chunks stored for filename.
func (s *SQLiteStore) CountDocument(ctx context.Context, filename string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE filename = ?`, filename).Scan(&count); err != nil {
		return 0, apperr.IndexUnavailable("count document", err)
	}
	return count, nil
}

// DeleteAll removes every chunk.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return apperr.IndexUnavailable("delete all", err)
	}
	return nil
}

// DeleteDocument removes all chunks for a document.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, filename string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE filename = ?`, filename); err != nil {
		return apperr.IndexUnavailable("delete document", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.IndexUnavailable("sqlite unreachable", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
