package handlers

import (
	"net/http"
	"time"

	"docqa/internal/contextutil"
	"docqa/internal/storage"
	"docqa/internal/vectorindex"
)

// DocumentsHandler handles HTTP requests listing the ingested corpus.
type DocumentsHandler struct {
	store storage.ChunkStore
	index vectorindex.Index
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(store storage.ChunkStore, index vectorindex.Index) *DocumentsHandler {
	return &DocumentsHandler{store: store, index: index}
}

// DocumentInfo represents one ingested document in the listing.
type DocumentInfo struct {
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
	CreatedAt   string `json:"createdAt"`
}

// CorpusStats summarizes the ingested corpus.
type CorpusStats struct {
	TotalDocuments int   `json:"totalDocuments"`
	TotalChunks    int64 `json:"totalChunks"`
	TotalVectors   int   `json:"totalVectors"`
}

// DocumentsResponse represents the HTTP response payload for the document
// listing.
//
// swagger:model DocumentsResponse
type DocumentsResponse struct {
	Documents []DocumentInfo `json:"documents"`
	Stats     CorpusStats    `json:"stats"`
}

// ServeHTTP handles GET /api/documents.
func (h *DocumentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	aggregates, err := h.store.ListDocuments(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	totalChunks, err := h.store.CountChunks(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to count chunks", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	totalVectors := h.index.Size()
	if int64(totalVectors) != totalChunks {
		logger.WarnContext(ctx, "chunk store and vector index diverge",
			"total_chunks", totalChunks, "total_vectors", totalVectors)
	}

	documents := make([]DocumentInfo, len(aggregates))
	for i, agg := range aggregates {
		documents[i] = DocumentInfo{
			Name:        agg.DocumentName,
			TotalChunks: agg.TotalChunks,
			CreatedAt:   agg.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	resp := DocumentsResponse{
		Documents: documents,
		Stats: CorpusStats{
			TotalDocuments: len(documents),
			TotalChunks:    totalChunks,
			TotalVectors:   totalVectors,
		},
	}
	if err := respondJSON(w, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
