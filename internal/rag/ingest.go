package rag

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

var errNoIndexer = apperr.Configuration("ingestion is not configured", nil)

// IngestText ingests raw text under filename, or the default name when empty.
func (o *Orchestrator) IngestText(ctx context.Context, text, filename string) (*models.IngestResult, error) {
	if o.indexer == nil {
		return nil, errNoIndexer
	}
	return o.indexer.IngestText(ctx, text, filename)
}

// IngestBytes ingests an uploaded file.
func (o *Orchestrator) IngestBytes(ctx context.Context, filename string, content []byte) (*models.IngestResult, error) {
	if o.indexer == nil {
		return nil, errNoIndexer
	}
	return o.indexer.IngestBytes(ctx, filename, content)
}

// IngestDirectory ingests every allowed file under dir, one file at a time.
func (o *Orchestrator) IngestDirectory(ctx context.Context, dir string, recursive bool) (*models.DirectoryResult, error) {
	if o.indexer == nil {
		return nil, errNoIndexer
	}
	return o.indexer.IngestDirectory(ctx, dir, recursive)
}

// Count returns the number of stored chunks.
func (o *Orchestrator) Count(ctx context.Context) (int, error) {
	if o.indexer == nil {
		return 0, errNoIndexer
	}
	return o.indexer.Count(ctx)
}

// Clear removes every document.
func (o *Orchestrator) Clear(ctx context.Context) error {
	if o.indexer == nil {
		return errNoIndexer
	}
	return o.indexer.Clear(ctx)
}

// DeleteDocument removes one document.
func (o *Orchestrator) DeleteDocument(ctx context.Context, filename string) error {
	if o.indexer == nil {
		return errNoIndexer
	}
	return o.indexer.DeleteDocument(ctx, filename)
}

// Documents lists registered documents, newest first.
func (o *Orchestrator) Documents(ctx context.Context) ([]models.DocumentInfo, error) {
	if o.indexer == nil {
		return nil, errNoIndexer
	}
	return o.indexer.Documents(ctx)
}

// ConnectivityResult reports a round trip through both model services.
type ConnectivityResult struct {
	ChatResponse        string
	EmbeddingDimensions int
}

// TestConnectivity sends message to the completion service and the embedder.
func (o *Orchestrator) TestConnectivity(ctx context.Context, message string) (*ConnectivityResult, error) {
	reply, err := o.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a helpful assistant. Respond exactly as requested."},
		{Role: llm.RoleUser, Content: message},
	}, llm.Options{Temperature: 0.1, MaxTokens: 100})
	if err != nil {
		return nil, err
	}
	res := &ConnectivityResult{ChatResponse: reply}
	if o.embedder == nil {
		return res, nil
	}
	vecs, err := o.embedder.EmbedBatch(ctx, []string{message})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("embedding service returned no vectors")
	}
	res.EmbeddingDimensions = len(vecs[0])
	return res, nil
}
