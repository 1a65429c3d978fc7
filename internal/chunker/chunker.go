// Package chunker splits document text into overlapping word windows for
// embedding and retrieval.
package chunker

import "strings"

const (
	// DefaultChunkSize is the default window size in words.
	DefaultChunkSize = 500
	// DefaultOverlap is the default number of words shared between
	// consecutive windows.
	DefaultOverlap = 50
)

// Chunk splits text into overlapping windows of words.
//
// Text is tokenized on whitespace. Empty input yields no chunks; input of at
// most chunkSize words is returned whole as a single chunk. Otherwise windows
// of chunkSize words are emitted, each advancing by chunkSize-overlap words,
// and the final window always reaches the last word. The step is clamped to
// at least one word so an overlap >= chunkSize cannot stall the loop.
//
// The function is pure: same input, same output, no state across calls.
func Chunk(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= chunkSize {
		return []string{text}
	}

	step := chunkSize - overlap
	if step < 1 {
		step = 1
	}

	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}

	return chunks
}

// ChunkDefault splits text using the default window size and overlap.
func ChunkDefault(text string) []string {
	return Chunk(text, DefaultChunkSize, DefaultOverlap)
}
