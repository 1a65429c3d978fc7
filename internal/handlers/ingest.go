package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"docqa/internal/contextutil"
	"docqa/internal/ingest"
)

// maxUploadBytes bounds the in-memory portion of a multipart upload.
const maxUploadBytes = 32 << 20

// Ingestor ingests a batch of uploaded files.
type Ingestor interface {
	IngestBatch(ctx context.Context, files []ingest.File) (*ingest.BatchResult, error)
}

// IngestHandler handles HTTP requests for document ingestion.
type IngestHandler struct {
	pipeline Ingestor
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(pipeline Ingestor) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

// IngestResponse represents the HTTP response payload for ingestion. On a
// batch failure Success is false and Files still lists what was committed
// before the failure.
//
// swagger:model IngestResponse
type IngestResponse struct {
	Success     bool                `json:"success"`
	Error       string              `json:"error,omitempty"`
	Files       []ingest.FileResult `json:"files"`
	TotalChunks int                 `json:"totalChunks"`
}

// ServeHTTP handles multipart uploads on POST /api/ingest. Files are read
// from the "files" field; "file" is accepted as a fallback when "files" is
// absent.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		logger.WarnContext(ctx, "invalid multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}

	files := make([]ingest.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			logger.WarnContext(ctx, "failed to open uploaded file", "file", header.Filename, "error", err)
			writeError(w, http.StatusBadRequest, "Failed to read uploaded file: "+header.Filename)
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			logger.WarnContext(ctx, "failed to read uploaded file", "file", header.Filename, "error", err)
			writeError(w, http.StatusBadRequest, "Failed to read uploaded file: "+header.Filename)
			return
		}
		files = append(files, ingest.File{Name: header.Filename, Content: content})
	}

	result, err := h.pipeline.IngestBatch(ctx, files)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyBatch) {
			writeError(w, http.StatusBadRequest, "No files provided")
			return
		}
		logger.ErrorContext(ctx, "ingestion failed", "error", err)
		if result == nil {
			writeError(w, http.StatusInternalServerError, "Failed to ingest files")
			return
		}
		// A failure in the commit phase can leave earlier files of the
		// batch committed. The response must say which files those are,
		// not pretend nothing was stored.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(IngestResponse{
			Success:     false,
			Error:       "Failed to ingest files",
			Files:       result.Files,
			TotalChunks: result.TotalChunks,
		})
		return
	}

	resp := IngestResponse{
		Success:     true,
		Files:       result.Files,
		TotalChunks: result.TotalChunks,
	}
	if err := respondJSON(w, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
