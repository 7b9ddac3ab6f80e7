package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteRegistry implements Registry on a SQLite documents table.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
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

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		filename TEXT PRIMARY KEY,
		file_type TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		upload_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_upload_date ON documents(upload_date);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces the row for info.Filename.
func (s *SQLiteRegistry) Put(ctx context.Context, info models.DocumentInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (filename, file_type, file_size, chunk_count, upload_date)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(filename) DO UPDATE SET
		   file_type = excluded.file_type,
		   file_size = excluded.file_size,
		   chunk_count = excluded.chunk_count,
		   upload_date = excluded.upload_date`,
		info.Filename, info.FileType, info.FileSize, info.ChunkCount, info.UploadDate.UTC(),
	)
	return err
}

// Get returns one document or ErrNotFound.
func (s *SQLiteRegistry) Get(ctx context.Context, filename string) (*models.DocumentInfo, error) {
	var info models.DocumentInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT filename, file_type, file_size, chunk_count, upload_date
		 FROM documents WHERE filename = ?`, filename,
	).Scan(&info.Filename, &info.FileType, &info.FileSize, &info.ChunkCount, &info.UploadDate)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Delete removes one document row. Deleting an unknown filename is not an error.
func (s *SQLiteRegistry) Delete(ctx context.Context, filename string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE filename = ?`, filename)
	return err
}

// DeleteAll removes every row.
func (s *SQLiteRegistry) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

// List returns documents with offset and limit. A limit <= 0 returns all rows.
func (s *SQLiteRegistry) List(ctx context.Context, offset, limit int) ([]models.DocumentInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, file_type, file_size, chunk_count, upload_date
		 FROM documents ORDER BY upload_date DESC, filename LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]models.DocumentInfo, 0)
	for rows.Next() {
		var info models.DocumentInfo
		if err := rows.Scan(&info.Filename, &info.FileType, &info.FileSize, &info.ChunkCount, &info.UploadDate); err != nil {
			return nil, err
		}
		docs = append(docs, info)
	}
	return docs, rows.Err()
}

// Count returns the number of registered documents.
func (s *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}
