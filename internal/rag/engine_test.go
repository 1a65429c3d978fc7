package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"docqa/internal/llm"
	"docqa/internal/rag/mocks"
	"docqa/internal/storage"
	storagemocks "docqa/internal/storage/mocks"
	indexmocks "docqa/internal/vectorindex/mocks"
)

type engineFixture struct {
	store     *storagemocks.MockChunkStore
	index     *indexmocks.MockIndex
	embedder  *mocks.MockEmbedder
	generator *mocks.MockGenerator
	engine    *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &engineFixture{
		store:     storagemocks.NewMockChunkStore(ctrl),
		index:     indexmocks.NewMockIndex(ctrl),
		embedder:  mocks.NewMockEmbedder(ctrl),
		generator: mocks.NewMockGenerator(ctrl),
	}
	f.engine = NewEngine(f.store, f.index, f.embedder, f.generator, llm.ChatParams{})
	return f
}

func testChunk(id int64, doc string, idx int, text string) storage.Chunk {
	return storage.Chunk{ID: id, DocumentName: doc, Text: text, ChunkIndex: idx, CreatedAt: time.Now()}
}

func TestQueryReturnsAnswerWithSourcesInRankOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.embedder.EXPECT().EmbedTexts(ctx, []string{"what is docqa"}).
		Return([][]float32{{1, 2, 3}}, 7, nil)
	f.index.EXPECT().Search([]float32{1, 2, 3}, 5).
		Return([]int64{2, 0}, []float32{0.1, 0.4}, nil)
	f.store.EXPECT().GetByIDs(ctx, []int64{2, 0}).
		Return([]storage.Chunk{
			testChunk(2, "guide.md", 2, "docqa is a question answering service"),
			testChunk(0, "intro.txt", 0, "welcome to the project"),
		}, nil)
	f.generator.EXPECT().ChatWithMessages(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llm.Message, _ llm.ChatParams) (string, int, error) {
			if len(messages) != 2 || messages[0].Role != "system" {
				t.Errorf("unexpected messages: %+v", messages)
			}
			if !strings.Contains(messages[1].Content, "[1] From guide.md (chunk 2):") {
				t.Errorf("context block missing numbered source: %q", messages[1].Content)
			}
			if !strings.Contains(messages[1].Content, "Question: what is docqa") {
				t.Errorf("question missing from prompt: %q", messages[1].Content)
			}
			return "It is a QA service [1].", 21, nil
		})

	resp, err := f.engine.Query(ctx, QueryRequest{Query: "what is docqa"})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}

	if resp.Answer != "It is a QA service [1]." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 2 || resp.Sources[0].ID != 2 || resp.Sources[1].ID != 0 {
		t.Errorf("sources not in rank order: %+v", resp.Sources)
	}
	if resp.Sources[0].Distance != 0.1 {
		t.Errorf("expected distance carried through, got %+v", resp.Sources[0])
	}
	if resp.Usage.EmbeddingTokens != 7 || resp.Usage.CompletionTokens != 21 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	f := newEngineFixture(t)

	for _, query := range []string{"", "   ", "\n\t"} {
		if _, err := f.engine.Query(context.Background(), QueryRequest{Query: query}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("query %q: expected ErrInvalidInput, got %v", query, err)
		}
	}
}

func TestQueryClampsTopK(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		want      int
	}{
		{name: "default", requested: 0, want: 5},
		{name: "negative uses default", requested: -3, want: 5},
		{name: "explicit value kept", requested: 9, want: 9},
		{name: "clamped to cap", requested: 100, want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)

			f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
				Return([][]float32{{1}}, 1, nil)
			f.index.EXPECT().Search(gomock.Any(), tt.want).
				Return([]int64{}, []float32{}, nil)

			if _, err := f.engine.Query(context.Background(), QueryRequest{Query: "q", TopK: tt.requested}); err != nil {
				t.Fatalf("Query returned error: %v", err)
			}
		})
	}
}

func TestQueryEmptyIndexSkipsGeneration(t *testing.T) {
	f := newEngineFixture(t)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{{1}}, 3, nil)
	f.index.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]int64{}, []float32{}, nil)
	// No ChatWithMessages expectation: generation must not run.

	resp, err := f.engine.Query(context.Background(), QueryRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if resp.Answer != noContextAnswer {
		t.Errorf("expected canned answer, got %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("expected no sources, got %+v", resp.Sources)
	}
	if resp.Usage.EmbeddingTokens != 3 || resp.Usage.CompletionTokens != 0 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestQueryEmbeddingFailureIsUpstream(t *testing.T) {
	f := newEngineFixture(t)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return(nil, 0, errors.New("connection refused"))

	if _, err := f.engine.Query(context.Background(), QueryRequest{Query: "q"}); !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestQueryMissingChunksIsConsistencyError(t *testing.T) {
	f := newEngineFixture(t)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{{1}}, 1, nil)
	f.index.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]int64{0, 1, 2}, []float32{0.1, 0.2, 0.3}, nil)
	f.store.EXPECT().GetByIDs(gomock.Any(), []int64{0, 1, 2}).
		Return([]storage.Chunk{testChunk(0, "a.txt", 0, "only one survived")}, nil)

	if _, err := f.engine.Query(context.Background(), QueryRequest{Query: "q"}); !errors.Is(err, ErrConsistency) {
		t.Errorf("expected ErrConsistency, got %v", err)
	}
}

func TestQueryStreamDeliversDeltasAndSummary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{{1}}, 5, nil)
	f.index.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]int64{3, 8}, []float32{0.2, 0.5}, nil)
	f.store.EXPECT().GetByIDs(gomock.Any(), []int64{3, 8}).
		Return([]storage.Chunk{
			testChunk(3, "guide.md", 1, "first context"),
			testChunk(8, "notes.txt", 0, "second context"),
		}, nil)
	f.generator.EXPECT().StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, cb func(llm.StreamEvent) error) error {
			events := []llm.StreamEvent{
				llm.TextDelta{Content: "The answer"},
				llm.Annotation{SourceID: "3"},
				llm.TextDelta{Content: " is here."},
				llm.Annotation{SourceID: "3"},
				llm.Annotation{SourceID: "other-file", DisplayName: "external.md"},
				llm.StreamDone{CompletionTokens: 12},
			}
			for _, ev := range events {
				if err := cb(ev); err != nil {
					return err
				}
			}
			return nil
		})

	var deltas []string
	summary, err := f.engine.QueryStream(ctx, QueryRequest{Query: "q"}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryStream returned error: %v", err)
	}

	if strings.Join(deltas, "") != "The answer is here." {
		t.Errorf("unexpected deltas: %q", deltas)
	}
	if len(summary.Sources) != 2 || summary.Sources[0].ID != 3 {
		t.Errorf("unexpected sources: %+v", summary.Sources)
	}
	if summary.Usage.EmbeddingTokens != 5 || summary.Usage.CompletionTokens != 12 {
		t.Errorf("unexpected usage: %+v", summary.Usage)
	}

	if len(summary.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %+v", summary.Citations)
	}
	// "3" is a retrieved chunk id: it resolves to its document name and is
	// cited twice, so it sorts first. The unknown id keeps its display name.
	if summary.Citations[0].FileName != "guide.md" || summary.Citations[0].Count != 2 {
		t.Errorf("unexpected top citation: %+v", summary.Citations[0])
	}
	if summary.Citations[1].FileName != "external.md" || summary.Citations[1].Count != 1 {
		t.Errorf("unexpected second citation: %+v", summary.Citations[1])
	}
}

func TestQueryStreamEmptyIndexEmitsCannedAnswer(t *testing.T) {
	f := newEngineFixture(t)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{{1}}, 2, nil)
	f.index.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]int64{}, []float32{}, nil)

	var deltas []string
	summary, err := f.engine.QueryStream(context.Background(), QueryRequest{Query: "q"}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	if err != nil {
		t.Fatalf("QueryStream returned error: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != noContextAnswer {
		t.Errorf("expected the canned answer as a single delta, got %q", deltas)
	}
	if len(summary.Citations) != 0 {
		t.Errorf("expected no citations, got %+v", summary.Citations)
	}
}

func TestQueryStreamPropagatesDeliveryError(t *testing.T) {
	f := newEngineFixture(t)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{{1}}, 1, nil)
	f.index.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]int64{0}, []float32{0.1}, nil)
	f.store.EXPECT().GetByIDs(gomock.Any(), gomock.Any()).
		Return([]storage.Chunk{testChunk(0, "a.txt", 0, "text")}, nil)
	f.generator.EXPECT().StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, cb func(llm.StreamEvent) error) error {
			if err := cb(llm.TextDelta{Content: "hi"}); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
			return nil
		})

	clientGone := errors.New("client disconnected")
	_, err := f.engine.QueryStream(context.Background(), QueryRequest{Query: "q"}, func(string) error {
		return clientGone
	})
	if !errors.Is(err, clientGone) {
		t.Errorf("expected the delivery error back, got %v", err)
	}
	if errors.Is(err, ErrUpstream) {
		t.Errorf("delivery failure must not be reported as upstream, got %v", err)
	}
}

func TestQueryStreamUpstreamErrorEvent(t *testing.T) {
	f := newEngineFixture(t)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
		Return([][]float32{{1}}, 1, nil)
	f.index.EXPECT().Search(gomock.Any(), gomock.Any()).
		Return([]int64{0}, []float32{0.1}, nil)
	f.store.EXPECT().GetByIDs(gomock.Any(), gomock.Any()).
		Return([]storage.Chunk{testChunk(0, "a.txt", 0, "text")}, nil)
	f.generator.EXPECT().StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, cb func(llm.StreamEvent) error) error {
			return cb(llm.StreamError{Message: "model overloaded"})
		})

	_, err := f.engine.QueryStream(context.Background(), QueryRequest{Query: "q"}, func(string) error {
		return nil
	})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}
