// Package ingest turns uploaded documents into stored chunks and indexed
// vectors.
package ingest

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks docqa/internal/ingest Embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docqa/internal/chunker"
	"docqa/internal/contextutil"
	"docqa/internal/storage"
	"docqa/internal/vectorindex"
)

// ErrEmptyBatch is returned when an ingestion call carries no files at all.
var ErrEmptyBatch = errors.New("no files supplied")

// Embedder computes embedding vectors for a batch of texts. It returns one
// vector per input text, in input order, plus the token count consumed.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, error)
}

// File is one uploaded document.
type File struct {
	Name    string
	Content []byte
}

// FileResult reports the outcome of ingesting a single file.
type FileResult struct {
	FileName   string `json:"fileName"`
	Chunks     int    `json:"chunks"`
	DocumentID string `json:"documentId,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult reports the outcome of a whole ingestion batch.
type BatchResult struct {
	Files       []FileResult `json:"files"`
	TotalChunks int          `json:"totalChunks"`
}

// preparedFile holds a file's chunks and embeddings, ready to commit.
type preparedFile struct {
	resultIdx int
	name      string
	chunks    []string
	vectors   [][]float32
}

// Pipeline ingests document batches: chunk, embed, allocate ids, persist
// rows, append vectors, flush the index.
//
// The pipeline is the only writer of the chunk store and the vector index.
// Batches are serialized by an internal mutex so each batch sees a stable
// next-free-id and appends its vectors at exactly those positions; queries
// read concurrently and may observe an in-flight batch (vectors appended,
// rows still committing) for the duration of the commit section.
type Pipeline struct {
	chunkRepo storage.ChunkStore
	embedder  Embedder
	index     vectorindex.Index
	chunkSize int
	overlap   int

	mu     sync.Mutex // serializes commit sections across batches
	logger *slog.Logger
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(chunkRepo storage.ChunkStore, embedder Embedder, index vectorindex.Index, chunkSize, overlap int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultChunkSize
	}
	if overlap < 0 {
		overlap = chunker.DefaultOverlap
	}
	return &Pipeline{
		chunkRepo: chunkRepo,
		embedder:  embedder,
		index:     index,
		chunkSize: chunkSize,
		overlap:   overlap,
		logger:    slog.Default(),
	}
}

// IngestBatch ingests a batch of files. Files are prepared (chunked and
// embedded) independently: a failure there is contained to that file's
// result entry. The commit section (id allocation, row inserts, vector
// appends, one index flush) runs under the batch lock and aborts the batch
// on failure, since partial application there would break the id/position
// correspondence between store and index.
func (p *Pipeline) IngestBatch(ctx context.Context, files []File) (*BatchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	result := &BatchResult{Files: make([]FileResult, len(files))}
	var prepared []preparedFile

	// Prepare phase: chunk and embed outside the lock. Embedding is the
	// only blocking external call in ingestion, so it must not extend the
	// critical section.
	for i, file := range files {
		result.Files[i] = FileResult{FileName: file.Name}

		text := NormalizeText(file.Name, file.Content)
		chunks := chunker.Chunk(text, p.chunkSize, p.overlap)
		if len(chunks) == 0 {
			logger.InfoContext(ctx, "skipping empty file", "file", file.Name)
			result.Files[i].Skipped = true
			continue
		}

		vectors, tokens, err := p.embedder.EmbedTexts(ctx, chunks)
		if err != nil {
			logger.ErrorContext(ctx, "failed to embed file", "file", file.Name, "error", err)
			result.Files[i].Error = fmt.Sprintf("embedding failed: %v", err)
			continue
		}
		if len(vectors) != len(chunks) {
			result.Files[i].Error = fmt.Sprintf("embedding count mismatch: expected %d, got %d", len(chunks), len(vectors))
			continue
		}
		logger.DebugContext(ctx, "file embedded", "file", file.Name, "chunks", len(chunks), "tokens", tokens)

		prepared = append(prepared, preparedFile{
			resultIdx: i,
			name:      file.Name,
			chunks:    chunks,
			vectors:   vectors,
		})
	}

	if len(prepared) == 0 {
		return result, nil
	}

	// Commit phase: one critical section per batch.
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, pf := range prepared {
		startID, err := p.chunkRepo.NextFreeID(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to allocate chunk ids: %w", err)
		}

		// A chunk's id must equal its embedding's position in the index;
		// a drift here means the two stores already disagree.
		if size := int64(p.index.Size()); size != startID {
			return result, fmt.Errorf("index position %d does not match next chunk id %d: store and index are out of sync", size, startID)
		}

		for j, text := range pf.chunks {
			chunk := &storage.Chunk{
				ID:           startID + int64(j),
				DocumentName: pf.name,
				Text:         text,
				ChunkIndex:   j,
				CreatedAt:    now,
			}
			if err := p.chunkRepo.Insert(ctx, chunk); err != nil {
				return result, fmt.Errorf("failed to insert chunk %d of %s: %w", j, pf.name, err)
			}
		}

		if err := p.index.Append(pf.vectors); err != nil {
			return result, fmt.Errorf("failed to append vectors for %s: %w", pf.name, err)
		}

		result.Files[pf.resultIdx].Chunks = len(pf.chunks)
		result.Files[pf.resultIdx].DocumentID = fmt.Sprintf("%s-%d", pf.name, now.UnixMilli())
		result.TotalChunks += len(pf.chunks)

		logger.InfoContext(ctx, "file ingested", "file", pf.name, "chunks", len(pf.chunks), "start_id", startID)
	}

	// Flush once per batch, not once per file. Rows are already durable at
	// this point, so a flush failure leaves stored text whose vectors would
	// be lost on restart; it must reach the caller.
	if err := p.index.Persist(); err != nil {
		return result, fmt.Errorf("failed to flush vector index after batch: %w", err)
	}

	return result, nil
}

// CheckConsistency compares the vector index size against the chunk store's
// next free id. The store is ground truth: an index smaller than the store
// means vectors for already-stored text were lost (e.g. a crash between row
// commit and index flush) and re-ingestion is required.
func (p *Pipeline) CheckConsistency(ctx context.Context) error {
	nextID, err := p.chunkRepo.NextFreeID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read next free id: %w", err)
	}
	size := int64(p.index.Size())

	switch {
	case size < nextID:
		return fmt.Errorf("vector index holds %d vectors but chunk store expects %d: vectors for stored chunks are missing", size, nextID)
	case size > nextID:
		return fmt.Errorf("vector index holds %d vectors but chunk store expects %d: index has orphan vectors", size, nextID)
	default:
		return nil
	}
}
