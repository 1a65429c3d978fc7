package storage

import "time"

// Chunk is one overlapping window of a document's text. Its id is globally
// unique and equals the position of the chunk's embedding in the vector
// index. Chunks are created during ingestion and never mutated or deleted.
type Chunk struct {
	ID           int64
	DocumentName string
	Text         string
	ChunkIndex   int
	CreatedAt    time.Time
}

// DocumentAggregate is a derived per-document view computed by grouping
// chunks; it is never stored.
type DocumentAggregate struct {
	DocumentName string
	TotalChunks  int
	CreatedAt    time.Time // earliest created_at across the document's chunks
}
