package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
)

type fakeDenseStore struct {
	hits           []dense.Hit
	searchErr      error
	lastCollection string
}

func (f *fakeDenseStore) EnsureCollection(ctx context.Context, name string, dim int) error { return nil }
func (f *fakeDenseStore) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	return nil
}
func (f *fakeDenseStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	f.lastCollection = collection
	return f.hits, f.searchErr
}
func (f *fakeDenseStore) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	return nil
}
func (f *fakeDenseStore) Name() string { return "fake-dense" }

func TestDenseRetriever_MapsHitsToResults(t *testing.T) {
	store := &fakeDenseStore{hits: []dense.Hit{
		{ID: "p1", Score: 0.8, Record: types.VectorRecord{ChunkID: "c1", KBID: "kb1", DocID: "d1"}},
	}}
	embedder := &fakeEmbedder{vec: []float32{1, 0}, dim: 2}
	r := NewDenseRetriever(store, embedder, "shared")

	hits, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q", TenantID: 7, TopK: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, 0.8, hits[0].Score)
	assert.Equal(t, "kbretrieval_chunks_d2_shared", store.lastCollection)
}

func TestDenseRetriever_PerTenantIsolation(t *testing.T) {
	store := &fakeDenseStore{}
	embedder := &fakeEmbedder{vec: []float32{1, 0}, dim: 2}
	r := NewDenseRetriever(store, embedder, "per-tenant")

	_, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q", TenantID: 42, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, "kbretrieval_chunks_d2_tenant_42", store.lastCollection)
}

func TestDenseRetriever_RequiresEmbedder(t *testing.T) {
	r := NewDenseRetriever(&fakeDenseStore{}, nil, "shared")
	_, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q"})
	assert.Error(t, err)
}

func TestDenseRetriever_PropagatesSearchError(t *testing.T) {
	store := &fakeDenseStore{searchErr: errors.New("boom")}
	embedder := &fakeEmbedder{vec: []float32{1, 0}, dim: 2}
	r := NewDenseRetriever(store, embedder, "shared")
	_, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q"})
	assert.Error(t, err)
}
