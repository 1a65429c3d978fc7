package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"docqa/internal/ingest/mocks"
	"docqa/internal/storage"
	storagemocks "docqa/internal/storage/mocks"
	"docqa/internal/vectorindex"
	indexmocks "docqa/internal/vectorindex/mocks"
)

const testDim = 3

// sequentialEmbedder returns a distinct vector per text so tests can tell
// which stored position a chunk's vector landed at.
func sequentialEmbedder(ctrl *gomock.Controller) *mocks.MockEmbedder {
	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, texts []string) ([][]float32, int, error) {
			vectors := make([][]float32, len(texts))
			for i := range texts {
				vectors[i] = []float32{float32(len(texts[i])), float32(i), 0}
			}
			return vectors, len(texts) * 4, nil
		},
	).AnyTimes()
	return embedder
}

func newTestPipeline(t *testing.T, ctrl *gomock.Controller) (*Pipeline, storage.ChunkStore, *vectorindex.FlatIndex, string) {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	indexPath := filepath.Join(t.TempDir(), "vectors.bin")
	index, err := vectorindex.Open(indexPath, testDim)
	if err != nil {
		t.Fatalf("failed to open index: %v", err)
	}

	repo := storage.NewChunkRepo(db)
	pipeline := NewPipeline(repo, sequentialEmbedder(ctrl), index, 2, 0)
	return pipeline, repo, index, indexPath
}

func TestIngestBatchStoresChunksAndVectors(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline, repo, index, indexPath := newTestPipeline(t, ctrl)
	ctx := context.Background()

	result, err := pipeline.IngestBatch(ctx, []File{
		{Name: "alpha.txt", Content: []byte("one two three four")},
		{Name: "beta.txt", Content: []byte("five six")},
	})
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}

	if result.TotalChunks != 3 {
		t.Errorf("expected 3 total chunks, got %d", result.TotalChunks)
	}
	if result.Files[0].Chunks != 2 || result.Files[1].Chunks != 1 {
		t.Errorf("unexpected per-file chunk counts: %+v", result.Files)
	}
	if !strings.HasPrefix(result.Files[0].DocumentID, "alpha.txt-") {
		t.Errorf("expected documentId prefixed with file name, got %q", result.Files[0].DocumentID)
	}

	if index.Size() != 3 {
		t.Errorf("expected 3 vectors in index, got %d", index.Size())
	}

	chunks, err := repo.GetByIDs(ctx, []int64{0, 1, 2})
	if err != nil {
		t.Fatalf("GetByIDs returned error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 stored chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "one two" || chunks[1].Text != "three four" || chunks[2].Text != "five six" {
		t.Errorf("unexpected chunk texts: %q, %q, %q", chunks[0].Text, chunks[1].Text, chunks[2].Text)
	}
	if chunks[2].DocumentName != "beta.txt" || chunks[2].ChunkIndex != 0 {
		t.Errorf("unexpected chunk metadata: %+v", chunks[2])
	}

	// The batch must have been flushed: a fresh open sees all vectors.
	reopened, err := vectorindex.Open(indexPath, testDim)
	if err != nil {
		t.Fatalf("failed to reopen index: %v", err)
	}
	if reopened.Size() != 3 {
		t.Errorf("expected 3 vectors after reopen, got %d", reopened.Size())
	}
}

func TestIngestBatchAssignsIDsMatchingVectorPositions(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline, repo, index, _ := newTestPipeline(t, ctrl)
	ctx := context.Background()

	// Two batches so the second starts from a non-zero id.
	if _, err := pipeline.IngestBatch(ctx, []File{{Name: "a.txt", Content: []byte("aa bb cc dd")}}); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if _, err := pipeline.IngestBatch(ctx, []File{{Name: "b.txt", Content: []byte("eeee ffff")}}); err != nil {
		t.Fatalf("second batch failed: %v", err)
	}

	// "eeee ffff" embeds to {9, 0, 0}; its nearest neighbor is itself, and
	// the returned id must resolve to that exact chunk in the store.
	ids, _, err := index.Search([]float32{9, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 result, got %d", len(ids))
	}
	chunks, err := repo.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("GetByIDs returned error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "eeee ffff" {
		t.Errorf("vector id did not resolve to its chunk: %+v", chunks)
	}
}

func TestIngestBatchRejectsEmptyBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline, _, _, _ := newTestPipeline(t, ctrl)

	if _, err := pipeline.IngestBatch(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestIngestBatchSkipsEmptyFiles(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline, _, index, _ := newTestPipeline(t, ctrl)

	result, err := pipeline.IngestBatch(context.Background(), []File{
		{Name: "blank.txt", Content: []byte("   \n\t ")},
		{Name: "real.txt", Content: []byte("hello world")},
	})
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}

	if !result.Files[0].Skipped || result.Files[0].Chunks != 0 {
		t.Errorf("expected blank file to be skipped, got %+v", result.Files[0])
	}
	if result.Files[1].Chunks != 1 {
		t.Errorf("expected 1 chunk for real file, got %+v", result.Files[1])
	}
	if result.TotalChunks != 1 {
		t.Errorf("expected 1 total chunk, got %d", result.TotalChunks)
	}
	if index.Size() != 1 {
		t.Errorf("expected 1 vector, got %d", index.Size())
	}
}

func TestIngestBatchContainsEmbeddingFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline, _, index, _ := newTestPipeline(t, ctrl)

	embedder := mocks.NewMockEmbedder(ctrl)
	gomock.InOrder(
		embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
			Return(nil, 0, errors.New("upstream unavailable")),
		embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).
			Return([][]float32{{1, 2, 3}}, 4, nil),
	)
	pipeline.embedder = embedder

	result, err := pipeline.IngestBatch(context.Background(), []File{
		{Name: "broken.txt", Content: []byte("cannot embed")},
		{Name: "fine.txt", Content: []byte("works fine")},
	})
	if err != nil {
		t.Fatalf("IngestBatch returned error: %v", err)
	}

	if result.Files[0].Error == "" || result.Files[0].Chunks != 0 {
		t.Errorf("expected contained failure for first file, got %+v", result.Files[0])
	}
	if result.Files[1].Chunks != 1 || result.Files[1].Error != "" {
		t.Errorf("expected second file to commit, got %+v", result.Files[1])
	}
	if index.Size() != 1 {
		t.Errorf("expected only the committed file's vector, got %d", index.Size())
	}
}

func TestIngestBatchAbortsOnInsertFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := storagemocks.NewMockChunkStore(ctrl)
	store.EXPECT().NextFreeID(gomock.Any()).Return(int64(0), nil)
	store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	index := indexmocks.NewMockIndex(ctrl)
	index.EXPECT().Size().Return(0)

	pipeline := NewPipeline(store, sequentialEmbedder(ctrl), index, 2, 0)

	_, err := pipeline.IngestBatch(context.Background(), []File{
		{Name: "a.txt", Content: []byte("hello world")},
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected insert failure to abort the batch, got %v", err)
	}
}

func TestIngestBatchDetectsStoreIndexDrift(t *testing.T) {
	ctrl := gomock.NewController(t)

	store := storagemocks.NewMockChunkStore(ctrl)
	store.EXPECT().NextFreeID(gomock.Any()).Return(int64(5), nil)

	index := indexmocks.NewMockIndex(ctrl)
	index.EXPECT().Size().Return(3)

	pipeline := NewPipeline(store, sequentialEmbedder(ctrl), index, 2, 0)

	_, err := pipeline.IngestBatch(context.Background(), []File{
		{Name: "a.txt", Content: []byte("hello world")},
	})
	if err == nil || !strings.Contains(err.Error(), "out of sync") {
		t.Errorf("expected drift to abort the batch, got %v", err)
	}
}

func TestCheckConsistency(t *testing.T) {
	tests := []struct {
		name      string
		nextID    int64
		indexSize int
		wantErr   bool
	}{
		{name: "in sync", nextID: 4, indexSize: 4, wantErr: false},
		{name: "empty stores", nextID: 0, indexSize: 0, wantErr: false},
		{name: "missing vectors", nextID: 4, indexSize: 2, wantErr: true},
		{name: "orphan vectors", nextID: 2, indexSize: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			store := storagemocks.NewMockChunkStore(ctrl)
			store.EXPECT().NextFreeID(gomock.Any()).Return(tt.nextID, nil)

			index := indexmocks.NewMockIndex(ctrl)
			index.EXPECT().Size().Return(tt.indexSize)

			pipeline := NewPipeline(store, sequentialEmbedder(ctrl), index, 0, -1)

			err := pipeline.CheckConsistency(context.Background())
			if tt.wantErr && err == nil {
				t.Error("expected consistency error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
