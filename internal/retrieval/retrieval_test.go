package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
)

func TestFuseRRF_AgreementBoostsRank(t *testing.T) {
	legA := []*types.RetrieveResult{{ChunkID: "x"}, {ChunkID: "y"}, {ChunkID: "z"}}
	legB := []*types.RetrieveResult{{ChunkID: "y"}, {ChunkID: "x"}, {ChunkID: "w"}}

	fused := fuseRRF([]rankedList{{hits: legA, weight: 1}, {hits: legB, weight: 1}}, 60)
	require.Len(t, fused, 4)
	// x and y each appear in both legs near the top; they should outrank z/w.
	top2 := map[string]bool{fused[0].ChunkID: true, fused[1].ChunkID: true}
	assert.True(t, top2["x"])
	assert.True(t, top2["y"])
}

func TestFuseRRF_DeterministicTieBreak(t *testing.T) {
	legA := []*types.RetrieveResult{{ChunkID: "b"}, {ChunkID: "a"}}
	fused := fuseRRF([]rankedList{{hits: legA, weight: 1}}, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "b", fused[0].ChunkID) // rank-1 in its only leg outranks rank-2
}

func TestFuseWeightedSum(t *testing.T) {
	legA := []*types.RetrieveResult{{ChunkID: "x", Score: 0.9}}
	legB := []*types.RetrieveResult{{ChunkID: "x", Score: 0.1}, {ChunkID: "y", Score: 0.8}}

	fused := fuseWeightedSum([]rankedList{{hits: legA, weight: 2}, {hits: legB, weight: 1}})
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].ChunkID)
	assert.InDelta(t, 2*0.9+1*0.1, fused[0].Score, 1e-9)
}

func TestTruncate(t *testing.T) {
	results := []*types.RetrieveResult{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	assert.Len(t, truncate(results, 2), 2)
	assert.Len(t, truncate(results, 0), 3)
	assert.Len(t, truncate(results, 10), 3)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity(nil, []float32{1}))
}
