package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Indexer runs the write path: chunk, embed, and store documents.
// Ingestion of the same filename is serialized; different filenames proceed concurrently.
// Clear waits for in-flight writes and blocks new ones until it is done.
type Indexer struct {
	chunker      *Chunker
	embedder     embedding.Embedder
	store        vector.Store
	keywordIndex keyword.Index      // optional
	registry     storage.Registry   // optional
	extractor    *extract.Extractor // optional; nil reads files as plain text
	ingest       config.IngestConfig
	locks        *KeyedMutex
	clearMu      sync.RWMutex
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithKeywordIndex mirrors chunks into a keyword index for hybrid retrieval.
func WithKeywordIndex(k keyword.Index) Option {
	return func(idx *Indexer) { idx.keywordIndex = k }
}

// WithRegistry records one DocumentInfo per ingested document.
func WithRegistry(r storage.Registry) Option {
	return func(idx *Indexer) { idx.registry = r }
}

// WithExtractor sets the text extractor used for file uploads.
func WithExtractor(e *extract.Extractor) Option {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithIngestConfig sets upload limits and the default raw-text filename.
func WithIngestConfig(c config.IngestConfig) Option {
	return func(idx *Indexer) { idx.ingest = c }
}

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// New creates an indexer over the given chunker, embedder, and vector store.
func New(chunker *Chunker, embedder embedding.Embedder, store vector.Store, opts ...Option) *Indexer {
	idx := &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		locks:    NewKeyedMutex(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Ingest replaces every chunk of doc.Filename with chunks of doc.Content.
//
// Existing chunks are deleted before the new set is embedded and written. If any step
// after that delete fails, the chunks written so far are removed again and the error is
// returned with its kind unchanged; cleanup problems are listed in the result's Failures.
func (idx *Indexer) Ingest(ctx context.Context, doc models.Document) (*models.IngestResult, error) {
	filename := strings.TrimSpace(doc.Filename)
	if filename == "" {
		return nil, apperr.InvalidRequest("filename is required")
	}
	text := Preprocess(doc.Content)
	if text == "" {
		return nil, apperr.InvalidRequest(fmt.Sprintf("%s has no text content", filename))
	}

	idx.clearMu.RLock()
	defer idx.clearMu.RUnlock()
	unlock := idx.locks.Lock(filename)
	defer unlock()

	result := &models.IngestResult{Filename: filename}
	chunks := idx.chunker.Split(filename, text)

	if err := idx.removeDocument(ctx, filename); err != nil {
		return result, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return idx.abort(ctx, result, err)
	}
	if len(vectors) != len(chunks) {
		return idx.abort(ctx, result, apperr.EmbeddingUnavailable(
			fmt.Sprintf("expected %d vectors, got %d", len(chunks), len(vectors)), nil))
	}

	fileType := fileTypeOf(doc)
	now := idx.now().UTC()
	records := make([]models.Record, len(chunks))
	for i, c := range chunks {
		records[i] = models.Record{Chunk: c, Vector: vectors[i], FileType: fileType, IngestedAt: now}
	}
	if err := idx.store.Upsert(ctx, records); err != nil {
		return idx.abort(ctx, result, err)
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.IndexChunks(ctx, chunks); err != nil {
			return idx.abort(ctx, result, apperr.IndexUnavailable("keyword index", err))
		}
	}
	if idx.registry != nil {
		size := doc.Size
		if size == 0 {
			size = int64(len(doc.Content))
		}
		info := models.DocumentInfo{
			Filename:   filename,
			FileType:   fileType,
			FileSize:   size,
			ChunkCount: len(chunks),
			UploadDate: now,
		}
		if err := idx.registry.Put(ctx, info); err != nil {
			return idx.abort(ctx, result, apperr.IndexUnavailable("document registry", err))
		}
	}

	result.ChunksWritten = len(records)
	idx.logger.Info("document ingested",
		zap.String("filename", filename),
		zap.Int("chunks", len(records)),
		zap.String("file_type", fileType))
	return result, nil
}

// abort undoes a partially written document. Cleanup runs even if ctx was canceled.
func (idx *Indexer) abort(ctx context.Context, result *models.IngestResult, cause error) (*models.IngestResult, error) {
	cleanupCtx := context.WithoutCancel(ctx)
	if err := idx.store.DeleteDocument(cleanupCtx, result.Filename); err != nil {
		result.Failures = append(result.Failures, "vector cleanup: "+err.Error())
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.DeleteDocument(cleanupCtx, result.Filename); err != nil {
			result.Failures = append(result.Failures, "keyword cleanup: "+err.Error())
		}
	}
	if idx.registry != nil {
		if err := idx.registry.Delete(cleanupCtx, result.Filename); err != nil {
			result.Failures = append(result.Failures, "registry cleanup: "+err.Error())
		}
	}
	idx.logger.Warn("document ingestion failed",
		zap.String("filename", result.Filename),
		zap.Error(cause),
		zap.Strings("cleanup_failures", result.Failures))
	return result, cause
}

func (idx *Indexer) removeDocument(ctx context.Context, filename string) error {
	if err := idx.store.DeleteDocument(ctx, filename); err != nil {
		return err
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.DeleteDocument(ctx, filename); err != nil {
			return apperr.IndexUnavailable("keyword index", err)
		}
	}
	return nil
}

func fileTypeOf(doc models.Document) string {
	if doc.ContentType != "" {
		return strings.TrimPrefix(strings.ToLower(doc.ContentType), ".")
	}
	if ext := filepath.Ext(doc.Filename); ext != "" {
		return strings.TrimPrefix(strings.ToLower(ext), ".")
	}
	return "text"
}

// IngestText ingests raw text. An empty filename falls back to the configured default,
// or to a generated name when no default is configured.
func (idx *Indexer) IngestText(ctx context.Context, text, filename string) (*models.IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidRequest("text_content is required")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = idx.ingest.DefaultTextFilename
	}
	if filename == "" {
		filename = fileid.NewTextFilename("text")
	}
	return idx.Ingest(ctx, models.Document{
		Filename:    filename,
		Content:     text,
		ContentType: "text",
		Size:        int64(len(text)),
	})
}

// IngestBytes checks an uploaded file against the allowed types and size limit,
// extracts its text, and ingests it under its base name.
func (idx *Indexer) IngestBytes(ctx context.Context, filename string, content []byte) (*models.IngestResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == string(filepath.Separator) {
		return nil, apperr.InvalidRequest("filename is required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if len(idx.ingest.AllowedTypes) > 0 && !idx.ingest.ExtensionAllowed(ext) {
		return nil, apperr.InvalidRequest(fmt.Sprintf("file type %q not allowed. Allowed types: %s",
			ext, strings.Join(idx.ingest.AllowedTypes, ", ")))
	}
	if limit := idx.ingest.MaxFileSize; limit > 0 && int64(len(content)) > limit {
		return nil, apperr.InvalidRequest(fmt.Sprintf("file too large: %d bytes exceeds the %d byte limit",
			len(content), limit))
	}

	var text string
	var err error
	if idx.extractor != nil {
		text, err = idx.extractor.ExtractBytes(content, ext)
	} else {
		text = string(content)
	}
	if err != nil {
		return nil, apperr.InvalidRequest(fmt.Sprintf("could not extract text from %s: %v", filename, err))
	}
	return idx.Ingest(ctx, models.Document{
		Filename:    filename,
		Content:     text,
		ContentType: ext,
		Size:        int64(len(content)),
	})
}

// IngestFile reads a regular file from disk and ingests it under its base name.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.InvalidRequest(fmt.Sprintf("stat file: %v", err))
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.InvalidRequest(fmt.Sprintf("not a regular file: %s", path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.InvalidRequest(fmt.Sprintf("read file: %v", err))
	}
	idx.logger.Debug("indexer ingesting file", zap.String("path", path))
	return idx.IngestBytes(ctx, filepath.Base(path), content)
}

// IngestFileIfChanged ingests path unless the registry already holds the same size and an
// upload date no older than the file's modification time, and the vector store still holds
// the registered chunks. It reports whether the file was skipped.
func (idx *Indexer) IngestFileIfChanged(ctx context.Context, path string) (*models.IngestResult, bool, error) {
	if doc, ok := idx.unchanged(ctx, path); ok {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", path))
		return &models.IngestResult{Filename: doc.Filename, ChunksWritten: doc.ChunkCount}, true, nil
	}
	res, err := idx.IngestFile(ctx, path)
	return res, false, err
}

func (idx *Indexer) unchanged(ctx context.Context, path string) (*models.DocumentInfo, bool) {
	if idx.registry == nil {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	doc, err := idx.registry.Get(ctx, filepath.Base(path))
	if err != nil || doc.FileSize != info.Size() || doc.UploadDate.Before(info.ModTime()) {
		return nil, false
	}
	// A lost memory snapshot leaves the registry ahead of the vectors.
	if counter, ok := idx.store.(vector.DocumentCounter); ok {
		n, err := counter.CountDocument(ctx, doc.Filename)
		if err != nil || n != doc.ChunkCount {
			idx.logger.Info("indexer re-ingesting file missing from vector store",
				zap.String("path", path), zap.Int("stored", n), zap.Int("registered", doc.ChunkCount))
			return nil, false
		}
	}
	return doc, true
}

// IngestDirectory ingests every allowed file under dir, one at a time. Failures are recorded
// per file and do not stop the walk. Only an invalid directory or a canceled ctx is an error.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, recursive bool) (*models.DirectoryResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperr.InvalidRequest(fmt.Sprintf("absolute path: %v", err))
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, apperr.InvalidRequest(fmt.Sprintf("directory not found: %s", dir))
	}
	if !info.IsDir() {
		return nil, apperr.InvalidRequest(fmt.Sprintf("not a directory: %s", dir))
	}

	result := &models.DirectoryResult{Directory: absDir, Files: []models.FileOutcome{}}
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !idx.walkable(path) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		if fi, statErr := os.Stat(path); statErr != nil || !fi.Mode().IsRegular() {
			return nil
		}

		outcome := models.FileOutcome{Path: path, Filename: filepath.Base(path)}
		res, ingestErr := idx.IngestFile(ctx, path)
		if ingestErr != nil {
			outcome.Error = apperr.Message(ingestErr)
			result.Failed++
			idx.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(ingestErr))
		} else {
			outcome.ChunksWritten = res.ChunksWritten
			result.Processed++
			result.TotalChunks += res.ChunksWritten
		}
		result.Files = append(result.Files, outcome)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		return result, apperr.New(apperr.KindInternal, "walk directory", err)
	}
	idx.logger.Info("directory ingested",
		zap.String("directory", absDir),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("chunks", result.TotalChunks))
	return result, nil
}

// walkable reports whether a directory walk should pick up path. Without an allow-list,
// any extension the extractor understands is accepted.
func (idx *Indexer) walkable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(idx.ingest.AllowedTypes) > 0 {
		return idx.ingest.ExtensionAllowed(ext)
	}
	return extract.Supported(ext)
}

// DeleteDocument removes one document from every index.
func (idx *Indexer) DeleteDocument(ctx context.Context, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return apperr.InvalidRequest("filename is required")
	}
	idx.clearMu.RLock()
	defer idx.clearMu.RUnlock()
	unlock := idx.locks.Lock(filename)
	defer unlock()

	if err := idx.removeDocument(ctx, filename); err != nil {
		return err
	}
	if idx.registry != nil {
		if err := idx.registry.Delete(ctx, filename); err != nil {
			return apperr.IndexUnavailable("document registry", err)
		}
	}
	idx.logger.Info("document deleted", zap.String("filename", filename))
	return nil
}

// Clear removes every document.
func (idx *Indexer) Clear(ctx context.Context) error {
	idx.clearMu.Lock()
	defer idx.clearMu.Unlock()
	if err := idx.store.DeleteAll(ctx); err != nil {
		return err
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.DeleteAll(ctx); err != nil {
			return apperr.IndexUnavailable("keyword index", err)
		}
	}
	if idx.registry != nil {
		if err := idx.registry.DeleteAll(ctx); err != nil {
			return apperr.IndexUnavailable("document registry", err)
		}
	}
	idx.logger.Info("all documents cleared")
	return nil
}

// Count returns the number of stored chunks.
func (idx *Indexer) Count(ctx context.Context) (int, error) {
	return idx.store.Count(ctx)
}

// Documents lists registered documents, newest first. Without a registry it is empty.
func (idx *Indexer) Documents(ctx context.Context) ([]models.DocumentInfo, error) {
	if idx.registry == nil {
		return []models.DocumentInfo{}, nil
	}
	docs, err := idx.registry.List(ctx, 0, 0)
	if err != nil {
		return nil, apperr.IndexUnavailable("document registry", err)
	}
	return docs, nil
}
