package vector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/models"
)

const pgTable = "kotae_chunks"

// PgVectorStore keeps chunks in PostgreSQL with the pgvector extension and ranks by cosine distance.
type PgVectorStore struct {
	db         *sql.DB
	dimensions int
	timeout    time.Duration
}

// OpenPgVectorStore connects through the pgx driver and creates the schema if needed.
func OpenPgVectorStore(ctx context.Context, dsn string, dimensions int, timeout time.Duration) (*PgVectorStore, error) {
	if dsn == "" {
		return nil, apperr.Configuration("pgvector dsn is required", nil)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, apperr.Configuration("open pgvector database", err)
	}
	s := NewPgVectorStore(db, dimensions, timeout)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPgVectorStore wraps an open database handle.
func NewPgVectorStore(db *sql.DB, dimensions int, timeout time.Duration) *PgVectorStore {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &PgVectorStore{db: db, dimensions: dimensions, timeout: timeout}
}

// Init creates the extension, table, and indexes.
func (s *PgVectorStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		filename TEXT NOT NULL,
		chunk_index INT NOT NULL,
		content TEXT NOT NULL,
		file_type TEXT,
		embedding vector(%[2]d) NOT NULL,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (filename, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_filename ON %[1]s(filename);
	`, pgTable, s.dimensions)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperr.IndexUnavailable("create pgvector schema", err)
	}
	return nil
}

// Upsert inserts records in one transaction, updating rows that already exist.
func (s *PgVectorStore) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IndexUnavailable("begin upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (filename, chunk_index, content, file_type, embedding, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (filename, chunk_index) DO UPDATE
		SET content = EXCLUDED.content, file_type = EXCLUDED.file_type,
		    embedding = EXCLUDED.embedding, ingested_at = EXCLUDED.ingested_at`, pgTable))
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
			pgvector.NewVector(r.Vector), r.IngestedAt); err != nil {
			return apperr.IndexUnavailable("upsert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.IndexUnavailable("commit upsert", err)
	}
	return nil
}

// Search ranks rows by cosine distance; score is 1 - distance.
func (s *PgVectorStore) Search(ctx context.Context, query []float32, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		return models.RetrievalResult{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT filename, chunk_index, content, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1, filename, chunk_index
		LIMIT $2`, pgTable), pgvector.NewVector(query), k)
	if err != nil {
		return nil, apperr.IndexUnavailable("pgvector search", err)
	}
	defer rows.Close()

	hits := make(models.RetrievalResult, 0, k)
	for rows.Next() {
		var hit models.ScoredChunk
		var distance float64
		if err := rows.Scan(&hit.Filename, &hit.Index, &hit.Text, &distance); err != nil {
			return nil, apperr.IndexUnavailable("scan chunk", err)
		}
		hit.Score = distanceToScore(distance)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IndexUnavailable("pgvector search", err)
	}
	return rank(hits, k), nil
}

// Count returns the number of stored chunks.
func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pgTable)).Scan(&n); err != nil {
		return 0, apperr.IndexUnavailable("pgvector count", err)
	}
	return n, nil
}

// DeleteAll truncates the table.
func (s *PgVectorStore) DeleteAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, pgTable)); err != nil {
		return apperr.IndexUnavailable("pgvector delete all", err)
	}
	return nil
}

// DeleteDocument removes one document's rows.
func (s *PgVectorStore) DeleteDocument(ctx context.Context, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE filename = $1`, pgTable), filename); err != nil {
		return apperr.IndexUnavailable("pgvector delete document", err)
	}
	return nil
}

// Ping checks the connection.
func (s *PgVectorStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.IndexUnavailable("postgres unreachable", err)
	}
	return nil
}

// Close closes the database handle.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}
