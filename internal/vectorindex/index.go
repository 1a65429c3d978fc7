// Package vectorindex provides a flat, exhaustive nearest-neighbor index
// over fixed-dimension float32 vectors with a durable on-disk artifact.
//
// A vector's identifier is its cumulative insertion position, so the caller
// is responsible for appending vectors in the exact order it assigned ids.
package vectorindex

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_index.go -package=mocks docqa/internal/vectorindex Index

// Index defines the operations the retrieval pipeline needs from a
// nearest-neighbor engine.
type Index interface {
	// Append adds vectors to the index. Each vector's position in the
	// cumulative insertion order becomes its permanent identifier.
	Append(vectors [][]float32) error

	// Search returns the ids and distances of the k nearest stored
	// vectors, both ordered by ascending distance. The result length is
	// min(k, Size()); an empty index yields empty slices, not an error.
	Search(query []float32, k int) (ids []int64, distances []float32, err error)

	// Size returns the number of stored vectors.
	Size() int

	// Persist durably writes the index state to disk. It must be called
	// after every ingestion batch; skipping it desynchronizes the index
	// from the chunk store across restarts.
	Persist() error
}
