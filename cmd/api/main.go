package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"

	"docqa/internal/config"
	"docqa/internal/http"
	"docqa/internal/ingest"
	"docqa/internal/llm"
	"docqa/internal/rag"
	"docqa/internal/storage"
	"docqa/internal/vectorindex"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API ingests documents, indexes their chunks in a local vector index
// and answers questions about them with cited sources.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: DocQA API
//   description: |
//     Document question answering API. Upload documents, then query them;
//     answers are generated from retrieved chunks and cite their sources.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
//   - multipart/form-data
// produces:
//   - application/json

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	chunkRepo := storage.NewChunkRepo(db)

	// Open the vector index artifact, creating it if absent
	index, err := vectorindex.Open(cfg.IndexPath, cfg.VectorSize)
	if err != nil {
		log.Fatalf("Failed to open vector index: %v", err)
	}
	slog.Info("Vector index ready", "path", cfg.IndexPath, "vectors", index.Size(), "dimension", cfg.VectorSize)

	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.VectorSize)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName)

	// Create ingestion pipeline
	pipeline := ingest.NewPipeline(chunkRepo, embedder, index, cfg.ChunkSize, cfg.ChunkOverlap)

	// Report, but do not mask, a store/index mismatch left by a crash. The
	// health endpoint keeps reporting it until re-ingestion fixes it.
	if err := pipeline.CheckConsistency(context.Background()); err != nil {
		slog.Warn("Chunk store and vector index are out of sync", "error", err)
	}

	// Create RAG engine
	engine := rag.NewEngine(chunkRepo, index, embedder, llmClient, llm.ChatParams{})
	slog.Info("RAG engine initialized", "model", cfg.LLMModelName)

	// Create router with dependencies
	deps := &http.Deps{
		IngestPipeline: pipeline,
		RAGEngine:      engine,
		ChunkStore:     chunkRepo,
		VectorIndex:    index,
		DB:             db,
		Checker:        pipeline,
	}
	router := http.NewRouter(deps)

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
