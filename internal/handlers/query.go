package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"docqa/internal/contextutil"
	"docqa/internal/rag"
)

// QueryEngine answers questions over the ingested corpus.
type QueryEngine interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
	QueryStream(ctx context.Context, req rag.QueryRequest, onDelta func(text string) error) (*rag.StreamSummary, error)
}

// QueryHandler handles HTTP requests for RAG queries.
type QueryHandler struct {
	engine QueryEngine
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(engine QueryEngine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// QueryRequest represents the HTTP request payload for queries.
// This mirrors rag.QueryRequest but is defined here for HTTP layer
// separation.
//
// swagger:model QueryRequest
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
}

// textFrame is one streamed answer fragment.
type textFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// summaryFrame is the terminal stream payload carrying sources, citations
// and usage.
type summaryFrame struct {
	Type string `json:"type"`
	*rag.StreamSummary
}

// errorFrame reports a failure inside an already-started stream.
type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ServeHTTP handles POST /api/query. With ?stream=true the answer is
// delivered as Server-Sent Events; otherwise as a single JSON response.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ragReq := rag.QueryRequest{Query: req.Query, TopK: req.TopK}

	if r.URL.Query().Get("stream") == "true" {
		h.handleStreamingQuery(w, r, ragReq)
		return
	}

	resp, err := h.engine.Query(ctx, ragReq)
	if err != nil {
		h.handleQueryError(w, ctx, err)
		return
	}

	if err := respondJSON(w, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// handleStreamingQuery streams the answer using Server-Sent Events. Frames
// are JSON objects tagged with a "type" of text, summary or error, followed
// by a final [DONE] marker.
func (h *QueryHandler) handleStreamingQuery(w http.ResponseWriter, r *http.Request, req rag.QueryRequest) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeFrame := func(frame any) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	summary, err := h.engine.QueryStream(ctx, req, func(text string) error {
		return writeFrame(textFrame{Type: "text", Content: text})
	})
	if err != nil {
		logger.ErrorContext(ctx, "streaming query failed", "error", err)
		_ = writeFrame(errorFrame{Type: "error", Error: streamErrorMessage(err)})
		return
	}

	if err := writeFrame(summaryFrame{Type: "summary", StreamSummary: summary}); err != nil {
		logger.ErrorContext(ctx, "failed to write summary frame", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleQueryError maps engine errors to HTTP status codes.
func (h *QueryHandler) handleQueryError(w http.ResponseWriter, ctx context.Context, err error) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.ErrorContext(ctx, "query failed", "error", err)

	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid input")
	case errors.Is(err, rag.ErrUpstream):
		writeError(w, http.StatusBadGateway, "Upstream model error")
	case errors.Is(err, rag.ErrConsistency):
		writeError(w, http.StatusInternalServerError, "Retrieval stores are inconsistent, re-ingestion may be required")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to process query")
	}
}

// streamErrorMessage renders an engine error for an in-stream error frame
// without leaking internal detail.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, rag.ErrUpstream):
		return "upstream model error"
	default:
		return "failed to process query"
	}
}
