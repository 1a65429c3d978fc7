package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docqa/internal/handlers"
	"docqa/internal/storage"
	"docqa/internal/vectorindex"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	IngestPipeline handlers.Ingestor
	RAGEngine      handlers.QueryEngine
	ChunkStore     storage.ChunkStore
	VectorIndex    vectorindex.Index
	DB             *sql.DB
	Checker        handlers.ConsistencyChecker
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/ingest", handlers.NewIngestHandler(deps.IngestPipeline))
		r.Method(http.MethodPost, "/query", handlers.NewQueryHandler(deps.RAGEngine))
		r.Method(http.MethodGet, "/documents", handlers.NewDocumentsHandler(deps.ChunkStore, deps.VectorIndex))
		r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(deps.DB, deps.Checker))
	})

	return r
}
