// Package storage keeps the document registry and reports on-disk usage.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned by Get when the filename is not registered.
var ErrNotFound = errors.New("document not found")

// Registry records one DocumentInfo per ingested filename.
type Registry interface {
	Put(ctx context.Context, info models.DocumentInfo) error
	Get(ctx context.Context, filename string) (*models.DocumentInfo, error)
	Delete(ctx context.Context, filename string) error
	DeleteAll(ctx context.Context) error
	// List returns documents newest first.
	List(ctx context.Context, offset, limit int) ([]models.DocumentInfo, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
