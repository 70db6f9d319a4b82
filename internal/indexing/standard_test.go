package indexing

import (
	"context"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/store/sparse"
	"github.com/kbretrieval/core/internal/types"
)

type fakeIndexChunkRepo struct {
	byDoc   map[string][]*types.Chunk
	updated []*types.Chunk
}

func (f *fakeIndexChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error { return nil }
func (f *fakeIndexChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIndexChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIndexChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return f.byDoc[docID], nil
}
func (f *fakeIndexChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIndexChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIndexChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error {
	f.updated = append(f.updated, chunk)
	return nil
}
func (f *fakeIndexChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error {
	f.updated = append(f.updated, chunks...)
	return nil
}
func (f *fakeIndexChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return nil
}
func (f *fakeIndexChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	return int64(len(f.byDoc[kbID])), nil
}
func (f *fakeIndexChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIndexChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	var out []*types.Chunk
	for _, c := range f.byDoc[docID] {
		if c.IndexingStatus == types.IndexingFailed {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeDenseIndexStore struct {
	ensured   map[string]int
	upserts   map[string][]dense.Point
	upsertErr error
}

func newFakeDenseIndexStore() *fakeDenseIndexStore {
	return &fakeDenseIndexStore{ensured: map[string]int{}, upserts: map[string][]dense.Point{}}
}
func (f *fakeDenseIndexStore) Name() string { return "fake-dense" }
func (f *fakeDenseIndexStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	f.ensured[name] = dim
	return nil
}
func (f *fakeDenseIndexStore) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts[collection] = append(f.upserts[collection], points...)
	return nil
}
func (f *fakeDenseIndexStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	return nil, nil
}
func (f *fakeDenseIndexStore) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	return nil
}

type fakeSparseIndexStore struct {
	indexed []types.SparseRecord
}

func (f *fakeSparseIndexStore) Name() string { return "fake-sparse" }
func (f *fakeSparseIndexStore) Index(ctx context.Context, record types.SparseRecord) error {
	f.indexed = append(f.indexed, record)
	return nil
}
func (f *fakeSparseIndexStore) Search(ctx context.Context, queryTerms []string, filter sparse.Filter, topK int) ([]sparse.Hit, error) {
	return nil, nil
}
func (f *fakeSparseIndexStore) Delete(ctx context.Context, chunkIDs []string) error { return nil }

type fakeIndexEmbedder struct {
	dim     int
	embeds  int
	failAll bool
}

func (f *fakeIndexEmbedder) Name() string       { return "fake-embedder" }
func (f *fakeIndexEmbedder) Dimensions() int    { return f.dim }
func (f *fakeIndexEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
func (f *fakeIndexEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	f.embeds++
	if f.failAll {
		return nil, assertErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

var assertErr = errTest{"embedding provider unavailable"}

type errTest struct{ msg string }

func (e errTest) Error() string { return e.msg }

type fakeTokenizer struct{}

func (fakeTokenizer) Tokenize(content string) []string { return []string{"term"} }

func newTestChunk(id, docID string, ordinal int) *types.Chunk {
	return &types.Chunk{
		ID: id, TenantID: 1, KBID: "kb1", DocID: docID, Ordinal: ordinal,
		Text: "chunk text", IndexingStatus: types.IndexingPending,
		Metadata: map[string]any{"chunk_index": ordinal},
	}
}

func TestStandardIndexer_IndexesAllPendingChunks(t *testing.T) {
	chunks := &fakeIndexChunkRepo{byDoc: map[string][]*types.Chunk{
		"d1": {newTestChunk("c1", "d1", 0), newTestChunk("c2", "d1", 1)},
	}}
	denseStore := newFakeDenseIndexStore()
	embedder := &fakeIndexEmbedder{dim: 4}
	pool, err := ants.NewPool(2, ants.WithPreAlloc(true))
	require.NoError(t, err)
	defer pool.Release()

	idx := NewStandardIndexer(chunks, denseStore, nil, embedder, nil, pool)
	job := DocumentJob{TenantID: 1, KBID: "kb1", DocID: "d1", Isolation: "shared", Embedding: types.ModelConfig{Dimension: 4}}

	require.NoError(t, idx.IndexDocument(context.Background(), job))
	require.Len(t, chunks.byDoc["d1"], 2)
	for _, c := range chunks.byDoc["d1"] {
		assert.Equal(t, types.IndexingIndexed, c.IndexingStatus)
	}
	assert.Equal(t, 1, embedder.embeds, "batched into one BatchEmbed call")

	collection := dense.CollectionName("shared", 1, 4)
	assert.Len(t, denseStore.upserts[collection], 2)
}

func TestStandardIndexer_WritesSparseWhenEnabled(t *testing.T) {
	chunks := &fakeIndexChunkRepo{byDoc: map[string][]*types.Chunk{
		"d1": {newTestChunk("c1", "d1", 0)},
	}}
	denseStore := newFakeDenseIndexStore()
	sparseStore := &fakeSparseIndexStore{}
	embedder := &fakeIndexEmbedder{dim: 4}
	pool, err := ants.NewPool(2, ants.WithPreAlloc(true))
	require.NoError(t, err)
	defer pool.Release()

	idx := NewStandardIndexer(chunks, denseStore, sparseStore, embedder, fakeTokenizer{}, pool)
	job := DocumentJob{
		TenantID: 1, KBID: "kb1", DocID: "d1", Isolation: "shared",
		Embedding: types.ModelConfig{Dimension: 4}, SparseEnabled: true,
	}

	require.NoError(t, idx.IndexDocument(context.Background(), job))
	require.Len(t, sparseStore.indexed, 1)
	assert.Equal(t, []string{"term"}, sparseStore.indexed[0].Terms)
}

func TestStandardIndexer_MarksChunksFailedOnEmbeddingError(t *testing.T) {
	chunks := &fakeIndexChunkRepo{byDoc: map[string][]*types.Chunk{
		"d1": {newTestChunk("c1", "d1", 0)},
	}}
	denseStore := newFakeDenseIndexStore()
	embedder := &fakeIndexEmbedder{dim: 4, failAll: true}
	pool, err := ants.NewPool(2, ants.WithPreAlloc(true))
	require.NoError(t, err)
	defer pool.Release()

	idx := NewStandardIndexer(chunks, denseStore, nil, embedder, nil, pool)
	job := DocumentJob{TenantID: 1, KBID: "kb1", DocID: "d1", Isolation: "shared", Embedding: types.ModelConfig{Dimension: 4}}

	require.NoError(t, idx.IndexDocument(context.Background(), job))
	c := chunks.byDoc["d1"][0]
	assert.Equal(t, types.IndexingFailed, c.IndexingStatus)
	assert.Equal(t, 1, c.RetryCount)
	require.NotNil(t, c.IndexingError)
}

func TestStandardIndexer_RetryFailedChunksOnlyRetriesEligible(t *testing.T) {
	exhausted := newTestChunk("c1", "d1", 0)
	exhausted.IndexingStatus = types.IndexingFailed
	exhausted.RetryCount = types.MaxIndexingRetries

	retryable := newTestChunk("c2", "d1", 1)
	retryable.IndexingStatus = types.IndexingFailed
	retryable.RetryCount = 1

	chunks := &fakeIndexChunkRepo{byDoc: map[string][]*types.Chunk{"d1": {exhausted, retryable}}}
	denseStore := newFakeDenseIndexStore()
	embedder := &fakeIndexEmbedder{dim: 4}
	pool, err := ants.NewPool(2, ants.WithPreAlloc(true))
	require.NoError(t, err)
	defer pool.Release()

	idx := NewStandardIndexer(chunks, denseStore, nil, embedder, nil, pool)
	job := DocumentJob{TenantID: 1, KBID: "kb1", DocID: "d1", Isolation: "shared", Embedding: types.ModelConfig{Dimension: 4}}

	require.NoError(t, idx.RetryFailedChunks(context.Background(), job))
	assert.Equal(t, types.IndexingFailed, exhausted.IndexingStatus, "exhausted retry budget is left untouched")
	assert.Equal(t, types.IndexingIndexed, retryable.IndexingStatus)
}

func TestStandardIndexer_NoPendingChunksIsANoop(t *testing.T) {
	chunks := &fakeIndexChunkRepo{byDoc: map[string][]*types.Chunk{}}
	idx := NewStandardIndexer(chunks, newFakeDenseIndexStore(), nil, &fakeIndexEmbedder{dim: 4}, nil, nil)
	job := DocumentJob{TenantID: 1, KBID: "kb1", DocID: "missing", Isolation: "shared"}
	require.NoError(t, idx.IndexDocument(context.Background(), job))
}
