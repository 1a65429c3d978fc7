// Package rag answers questions over the ingested corpus: embed the query,
// search the vector index, join the hits back to stored chunks in rank
// order, and generate a grounded answer.
package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_collaborators.go -package=mocks docqa/internal/rag Embedder,Generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"docqa/internal/contextutil"
	"docqa/internal/llm"
	"docqa/internal/storage"
	"docqa/internal/vectorindex"
)

const (
	defaultTopK = 5
	maxTopK     = 20

	// noContextAnswer is returned without calling the generator when the
	// index has nothing to retrieve.
	noContextAnswer = "I don't have any documents to answer from yet. Ingest some documents and ask again."

	systemPrompt = "You are a helpful assistant that answers questions using only the provided context. " +
		"Cite the numbered sources you rely on, like [1]. " +
		"If the context does not contain the answer, say you don't know."
)

// Embedder computes embedding vectors for texts.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Generator produces answers from chat messages, in one shot or streamed.
type Generator interface {
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, int, error)
	StreamChat(ctx context.Context, messages []llm.Message, params llm.ChatParams, callback func(llm.StreamEvent) error) error
}

// deliveryError marks a failure of the caller's delta callback, as opposed
// to a failure of the upstream stream itself.
type deliveryError struct {
	err error
}

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

// Engine runs retrieval-augmented queries.
type Engine struct {
	chunks    storage.ChunkStore
	index     vectorindex.Index
	embedder  Embedder
	generator Generator
	params    llm.ChatParams
}

// NewEngine creates a query engine over the given stores and model clients.
func NewEngine(chunks storage.ChunkStore, index vectorindex.Index, embedder Embedder, generator Generator, params llm.ChatParams) *Engine {
	return &Engine{
		chunks:    chunks,
		index:     index,
		embedder:  embedder,
		generator: generator,
		params:    params,
	}
}

// Query answers a question in one shot.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	sources, embTokens, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &QueryResponse{
		Query:   req.Query,
		Sources: sources,
		Usage:   Usage{EmbeddingTokens: embTokens},
	}

	if len(sources) == 0 {
		resp.Answer = noContextAnswer
		return resp, nil
	}

	answer, compTokens, err := e.generator.ChatWithMessages(ctx, buildMessages(req.Query, sources), e.params)
	if err != nil {
		return nil, fmt.Errorf("%w: generation: %v", ErrUpstream, err)
	}

	resp.Answer = answer
	resp.Usage.CompletionTokens = compTokens
	return resp, nil
}

// QueryStream answers a question as a stream of text deltas delivered
// through onDelta, then returns the terminal summary with sources, citation
// counts and usage. A non-nil error from onDelta stops the stream and is
// returned unchanged.
func (e *Engine) QueryStream(ctx context.Context, req QueryRequest, onDelta func(text string) error) (*StreamSummary, error) {
	logger := contextutil.LoggerFromContext(ctx)

	sources, embTokens, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	summary := &StreamSummary{
		Query:     req.Query,
		Sources:   sources,
		Citations: []CitationSummary{},
		Usage:     Usage{EmbeddingTokens: embTokens},
	}

	if len(sources) == 0 {
		if err := onDelta(noContextAnswer); err != nil {
			return nil, err
		}
		return summary, nil
	}

	aggregator := NewCitationAggregator()

	err = e.generator.StreamChat(ctx, buildMessages(req.Query, sources), e.params, func(event llm.StreamEvent) error {
		switch ev := event.(type) {
		case llm.TextDelta:
			if err := onDelta(ev.Content); err != nil {
				return &deliveryError{err: err}
			}
		case llm.Annotation:
			aggregator.Add(ev.SourceID, ev.DisplayName, ev.Quote)
		case llm.StreamError:
			return fmt.Errorf("%w: %s", ErrUpstream, ev.Message)
		case llm.StreamDone:
			summary.Usage.CompletionTokens = ev.CompletionTokens
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUpstream) {
			return nil, err
		}
		// Callback errors (the client went away) pass through as-is;
		// everything else is a transport failure of the upstream call.
		var delivery *deliveryError
		if errors.As(err, &delivery) {
			return nil, delivery.err
		}
		return nil, fmt.Errorf("%w: generation stream: %v", ErrUpstream, err)
	}

	summary.Citations = aggregator.Finalize(resolverFor(sources))
	logger.DebugContext(ctx, "stream complete", "sources", len(sources), "citations", len(summary.Citations))
	return summary, nil
}

// retrieve embeds the query, searches the index and joins the hits back to
// their chunks, preserving rank order.
func (e *Engine) retrieve(ctx context.Context, req QueryRequest) ([]SearchResult, int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, 0, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	} else if topK > maxTopK {
		topK = maxTopK
	}

	vectors, embTokens, err := e.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query embedding: %v", ErrUpstream, err)
	}
	if len(vectors) != 1 {
		return nil, 0, fmt.Errorf("%w: query embedding: expected 1 vector, got %d", ErrUpstream, len(vectors))
	}

	ids, distances, err := e.index.Search(vectors[0], topK)
	if err != nil {
		return nil, 0, fmt.Errorf("vector search failed: %w", err)
	}
	if len(ids) == 0 {
		return []SearchResult{}, embTokens, nil
	}

	chunks, err := e.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) != len(ids) {
		return nil, 0, fmt.Errorf("%w: search returned %d ids but only %d chunks exist", ErrConsistency, len(ids), len(chunks))
	}

	sources := make([]SearchResult, len(chunks))
	for i, chunk := range chunks {
		sources[i] = SearchResult{
			ID:           chunk.ID,
			Text:         chunk.Text,
			DocumentName: chunk.DocumentName,
			ChunkIndex:   chunk.ChunkIndex,
			Distance:     distances[i],
		}
	}

	logger.DebugContext(ctx, "retrieved context", "top_k", topK, "results", len(sources))
	return sources, embTokens, nil
}

// buildMessages renders the retrieved chunks into a numbered context block
// for the generator.
func buildMessages(query string, sources []SearchResult) []llm.Message {
	var builder strings.Builder
	builder.WriteString("Context:\n\n")
	for i, src := range sources {
		fmt.Fprintf(&builder, "[%d] From %s (chunk %d):\n%s\n\n", i+1, src.DocumentName, src.ChunkIndex, src.Text)
	}
	builder.WriteString("Question: ")
	builder.WriteString(query)

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: builder.String()},
	}
}

// resolverFor maps annotation source ids back to document names using the
// retrieved set. Numeric ids are treated as chunk ids; anything else is
// matched against document names directly.
func resolverFor(sources []SearchResult) NameResolver {
	byID := make(map[int64]string, len(sources))
	byName := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		byID[src.ID] = src.DocumentName
		byName[src.DocumentName] = struct{}{}
	}

	return func(sourceID string) (string, bool) {
		if id, err := strconv.ParseInt(sourceID, 10, 64); err == nil {
			if name, ok := byID[id]; ok {
				return name, true
			}
		}
		if _, ok := byName[sourceID]; ok {
			return sourceID, true
		}
		return "", false
	}
}
