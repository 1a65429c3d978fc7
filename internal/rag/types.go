package rag

// QueryRequest is a question against the ingested corpus.
type QueryRequest struct {
	Query string `json:"query"`

	// TopK is the number of chunks to retrieve. Zero means the default;
	// values above the cap are clamped.
	TopK int `json:"topK,omitempty"`
}

// SearchResult is one retrieved chunk with its retrieval distance.
type SearchResult struct {
	ID           int64   `json:"id"`
	Text         string  `json:"text"`
	DocumentName string  `json:"documentName"`
	ChunkIndex   int     `json:"chunkIndex"`
	Distance     float32 `json:"distance"`
}

// Usage reports token consumption for one query.
type Usage struct {
	EmbeddingTokens  int `json:"embeddingTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// QueryResponse is the non-streaming answer to a query.
type QueryResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Sources []SearchResult `json:"sources"`
	Usage   Usage          `json:"usage"`
}

// StreamSummary is the terminal payload of a streaming query, emitted after
// the last text delta.
type StreamSummary struct {
	Query     string            `json:"query"`
	Sources   []SearchResult    `json:"sources"`
	Citations []CitationSummary `json:"citations"`
	Usage     Usage             `json:"usage"`
}
