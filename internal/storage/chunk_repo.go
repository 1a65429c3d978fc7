package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks docqa/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ChunkStore defines the interface for chunk storage operations.
type ChunkStore interface {
	// Insert inserts a single chunk. The chunk's id must already be
	// allocated; inserting an existing id returns ErrDuplicateID.
	Insert(ctx context.Context, chunk *Chunk) error
	// GetByIDs returns chunks in the exact order of the input ids, not in
	// storage or id order. Duplicate ids yield duplicate chunks at the
	// corresponding positions; unknown ids are omitted, so the result may
	// be shorter than the input.
	GetByIDs(ctx context.Context, ids []int64) ([]Chunk, error)
	// ListDocuments returns one aggregate per distinct document name,
	// ordered by creation time descending.
	ListDocuments(ctx context.Context) ([]DocumentAggregate, error)
	// NextFreeID returns the smallest id not yet used by any chunk
	// (0 for an empty store).
	NextFreeID(ctx context.Context) (int64, error)
	// CountChunks returns the total number of stored chunks.
	CountChunks(ctx context.Context) (int64, error)
}

// ChunkRepo provides methods for chunk operations backed by SQLite.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Insert inserts a single chunk into the database.
func (r *ChunkRepo) Insert(ctx context.Context, chunk *Chunk) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO chunks (id, document_name, text, chunk_index, created_at) VALUES (?, ?, ?, ?, ?)",
		chunk.ID, chunk.DocumentName, chunk.Text, chunk.ChunkIndex, chunk.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("chunk %d: %w", chunk.ID, ErrDuplicateID)
		}
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// GetByIDs returns chunks for the given ids, preserving the input order.
//
// The rank order of a vector search is carried in the id slice, so the rows
// are reordered with ORDER BY CASE rather than left in storage order.
func (r *ChunkRepo) GetByIDs(ctx context.Context, ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return []Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	var orderCases strings.Builder
	args := make([]any, 0, 2*len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	for i, id := range ids {
		fmt.Fprintf(&orderCases, " WHEN ? THEN %d", i)
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"SELECT id, document_name, text, chunk_index, created_at FROM chunks WHERE id IN (%s) ORDER BY CASE id%s END",
		placeholders, orderCases.String(),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	// WHERE id IN deduplicates: a repeated input id comes back as one row.
	// Re-expand by position so duplicates in ids yield duplicates in the output.
	byID := make(map[int64]Chunk, len(ids))
	for rows.Next() {
		var chunk Chunk
		var createdAt int64
		if err := rows.Scan(&chunk.ID, &chunk.DocumentName, &chunk.Text, &chunk.ChunkIndex, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.CreatedAt = time.UnixMilli(createdAt)
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			chunks = append(chunks, chunk)
		}
	}

	return chunks, nil
}

// ListDocuments returns per-document aggregates, newest document first.
func (r *ChunkRepo) ListDocuments(ctx context.Context) ([]DocumentAggregate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_name, COUNT(*), MIN(created_at) AS created_at
		 FROM chunks
		 GROUP BY document_name
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []DocumentAggregate
	for rows.Next() {
		var doc DocumentAggregate
		var createdAt int64
		if err := rows.Scan(&doc.DocumentName, &doc.TotalChunks, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.CreatedAt = time.UnixMilli(createdAt)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return docs, nil
}

// NextFreeID returns the next unused chunk id, computed from durable state
// so id allocation survives process restarts.
func (r *ChunkRepo) NextFreeID(ctx context.Context) (int64, error) {
	var nextID int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), -1) + 1 FROM chunks",
	).Scan(&nextID)
	if err != nil {
		return 0, fmt.Errorf("failed to query next free id: %w", err)
	}
	return nextID, nil
}

// CountChunks returns the total number of stored chunks.
func (r *ChunkRepo) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}
