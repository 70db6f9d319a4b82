package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
)

type fakeNamedRetriever struct {
	name    string
	results []*types.RetrieveResult
	err     error
}

func (f *fakeNamedRetriever) Name() string { return f.name }
func (f *fakeNamedRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	return f.results, f.err
}

func TestFusionRetriever_MergesAllLegs(t *testing.T) {
	legA := &fakeNamedRetriever{name: "a", results: []*types.RetrieveResult{{ChunkID: "x"}, {ChunkID: "y"}}}
	legB := &fakeNamedRetriever{name: "b", results: []*types.RetrieveResult{{ChunkID: "y"}, {ChunkID: "z"}}}
	r := NewFusionRetriever("fusion", WeightedRetriever{Retriever: legA, Weight: 1}, WeightedRetriever{Retriever: legB, Weight: 1})

	hits, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q", TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "fusion", hits[0].SourceTag)
}

func TestFusionRetriever_DegradesOnPartialFailure(t *testing.T) {
	legA := &fakeNamedRetriever{name: "a", results: []*types.RetrieveResult{{ChunkID: "x"}}}
	legB := &fakeNamedRetriever{name: "b", err: errors.New("boom")}
	r := NewFusionRetriever("ensemble", WeightedRetriever{Retriever: legA, Weight: 1}, WeightedRetriever{Retriever: legB, Weight: 1})

	hits, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q", TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x", hits[0].ChunkID)
}

func TestFusionRetriever_FailsWhenAllLegsFail(t *testing.T) {
	legA := &fakeNamedRetriever{name: "a", err: errors.New("boom-a")}
	legB := &fakeNamedRetriever{name: "b", err: errors.New("boom-b")}
	r := NewFusionRetriever("fusion", WeightedRetriever{Retriever: legA, Weight: 1}, WeightedRetriever{Retriever: legB, Weight: 1})

	_, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q", TopK: 10})
	assert.Error(t, err)
}

func TestFusionRetriever_RequiresLegs(t *testing.T) {
	r := NewFusionRetriever("fusion")
	_, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "q", TopK: 10})
	assert.Error(t, err)
}

func TestFusionRetriever_WeightedSumMode(t *testing.T) {
	legA := &fakeNamedRetriever{name: "a", results: []*types.RetrieveResult{{ChunkID: "x", Score: 1.0}}}
	legB := &fakeNamedRetriever{name: "b", results: []*types.RetrieveResult{{ChunkID: "x", Score: 0.5}}}
	r := NewFusionRetriever("fusion", WeightedRetriever{Retriever: legA, Weight: 2}, WeightedRetriever{Retriever: legB, Weight: 1})

	params := types.RetrieveParams{Query: "q", TopK: 10}
	params.Config.Fusion.UseWeighted = true
	hits, err := r.Retrieve(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 2*1.0+1*0.5, hits[0].Score, 1e-9)
}
