package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
)

// DefaultTestMessage is sent by the connectivity probe when the body names none.
const DefaultTestMessage = "Hello, this is a test message. Please respond with 'Azure OpenAI is working correctly!'"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": s.cfg.AppName + " API",
		"version": s.version,
		"status":  "healthy",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.rag.Count(r.Context())
	if err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "service unhealthy: "+apperr.Message(err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"vector_connected": true,
		"documents_count":  count,
		"version":          s.version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.rag.Health(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, report)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondAppError(w, err)
		return
	}

	// Cancelling on return stops generation when the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !req.WantsStream() {
		if d := s.cfg.Server.RequestTimeout; d > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, d)
			defer tcancel()
		}
		resp, err := rag.Collect(ctx, s.rag.Ask(ctx, req))
		if err != nil {
			s.logger.Error("chat failed", zap.Error(err))
			s.respondAppError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if err := rag.WriteSSE(w, flusher, s.rag.Ask(ctx, req)); err != nil {
		s.logger.Debug("chat stream aborted", zap.Error(err))
	}
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req models.IngestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondAppError(w, err)
		return
	}
	res, err := s.rag.IngestText(r.Context(), req.TextContent, req.Filename)
	if err != nil {
		s.logger.Error("text ingestion failed", zap.Error(err))
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ingestResponse(res))
}

func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Ingest.MaxFileSize
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.respondError(w, http.StatusBadRequest,
				fmt.Sprintf("file size exceeds maximum allowed size of %d bytes", limit))
			return
		}
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	var reader io.Reader = file
	if limit > 0 {
		reader = io.LimitReader(file, limit+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	s.logger.Debug("ingest file request", zap.String("filename", header.Filename), zap.Int("bytes", len(content)))
	res, err := s.rag.IngestBytes(r.Context(), header.Filename, content)
	if err != nil {
		s.logger.Error("file ingestion failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ingestResponse(res))
}

type ingestDirectoryRequest struct {
	Path      string `json:"path"`
	Recursive *bool  `json:"recursive,omitempty"`
}

func (s *Server) handleIngestDirectory(w http.ResponseWriter, r *http.Request) {
	var req ingestDirectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	res, err := s.rag.IngestDirectory(r.Context(), req.Path, recursive)
	if err != nil {
		s.logger.Error("directory ingestion failed", zap.String("path", req.Path), zap.Error(err))
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func ingestResponse(res *models.IngestResult) models.IngestResponse {
	return models.IngestResponse{
		Success:       true,
		Message:       fmt.Sprintf("Successfully ingested %s (%d chunks)", res.Filename, res.ChunksWritten),
		DocumentID:    fileid.DocumentID(res.Filename),
		ChunksCreated: res.ChunksWritten,
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.rag.Documents(r.Context())
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

func (s *Server) handleCountDocuments(w http.ResponseWriter, r *http.Request) {
	n, err := s.rag.Count(r.Context())
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.rag.Clear(r.Context()); err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	s.logger.Debug("delete document request", zap.String("filename", filename))
	if err := s.rag.DeleteDocument(r.Context(), filename); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondAppError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"filename": filename, "status": "deleted"})
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("k", req.K))
	res, err := s.rag.Search(r.Context(), req.Query, req.K)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	if res == nil {
		res = models.RetrievalResult{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": req.Query, "results": res})
}

func (s *Server) handleTestCompletion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	// An empty body is allowed.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Message == "" {
		body.Message = DefaultTestMessage
	}
	res, err := s.rag.TestConnectivity(r.Context(), body.Message)
	if err != nil {
		s.logger.Warn("connectivity test failed", zap.Error(err))
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "error",
			"error":        apperr.Message(err),
			"test_message": body.Message,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "success",
		"chat_response":        res.ChatResponse,
		"embedding_dimensions": res.EmbeddingDimensions,
		"test_message":         body.Message,
	})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchConfig() {
	if s.configPath == "" {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondAppError maps a classified error to its status. Validation details are
// included for invalid requests.
func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]interface{}{"error": apperr.Message(err)}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body["kind"] = ae.Kind
		if len(ae.Details) > 0 {
			body["details"] = ae.Details
		}
	}
	s.respondJSON(w, status, body)
}
