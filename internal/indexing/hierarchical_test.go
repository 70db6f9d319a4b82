package indexing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
)

type fakeHierarchicalChunkRepo struct {
	indexed []*types.Chunk
}

func (f *fakeHierarchicalChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error { return nil }
func (f *fakeHierarchicalChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	return nil, nil
}
func (f *fakeHierarchicalChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeHierarchicalChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeHierarchicalChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeHierarchicalChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeHierarchicalChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error { return nil }
func (f *fakeHierarchicalChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error {
	return nil
}
func (f *fakeHierarchicalChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return nil
}
func (f *fakeHierarchicalChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	return int64(len(f.indexed)), nil
}
func (f *fakeHierarchicalChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	return f.indexed, nil
}
func (f *fakeHierarchicalChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}

type fakeHierarchyTree struct {
	replacedKB string
	nodes      []*types.HierarchyNode
}

func (f *fakeHierarchyTree) ReplaceTree(ctx context.Context, kbID string, nodes []*types.HierarchyNode) error {
	f.replacedKB = kbID
	f.nodes = nodes
	return nil
}
func (f *fakeHierarchyTree) ListTree(ctx context.Context, kbID string) ([]*types.HierarchyNode, error) {
	return f.nodes, nil
}
func (f *fakeHierarchyTree) ListByLevel(ctx context.Context, kbID string, level int) ([]*types.HierarchyNode, error) {
	var out []*types.HierarchyNode
	for _, n := range f.nodes {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out, nil
}

// fakeHierarchicalEmbedder assigns a fixed 2D vector per chunk id prefix so
// clustering has two well-separated groups to find; the cluster summary's
// own embedding reuses Embed's fallback (zero vector) since the test only
// checks tree shape, not downstream retrieval quality.
type fakeHierarchicalEmbedder struct{}

func (fakeHierarchicalEmbedder) Name() string    { return "fake" }
func (fakeHierarchicalEmbedder) Dimensions() int  { return 2 }
func (fakeHierarchicalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0, 0}, nil
}
func (fakeHierarchicalEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == "near-a" {
			out[i] = []float32{0, 0}
		} else {
			out[i] = []float32{10, 10}
		}
	}
	return out, nil
}

func fixedEpoch() int64 { return 42 }

func TestHierarchicalIndexer_BuildsOneSummaryLevel(t *testing.T) {
	chunks := &fakeHierarchicalChunkRepo{indexed: []*types.Chunk{
		{ID: "c1", KBID: "kb1", Text: "near-a"},
		{ID: "c2", KBID: "kb1", Text: "near-a"},
		{ID: "c3", KBID: "kb1", Text: "near-b"},
		{ID: "c4", KBID: "kb1", Text: "near-b"},
	}}
	tree := &fakeHierarchyTree{}
	idx := NewHierarchicalIndexer(
		HierarchicalOptions{Enabled: true, MaxLevels: 1, MinClusterSize: 1, ClusterTargetSize: 2},
		chunks, tree, fakeHierarchicalEmbedder{}, nil, fixedEpoch,
	)

	require.NoError(t, idx.Rebuild(context.Background(), 1, "kb1"))
	assert.Equal(t, "kb1", tree.replacedKB)

	var leafCount, summaryCount int
	for _, n := range tree.nodes {
		assert.Equal(t, int64(42), n.BuildEpoch)
		if n.IsLeaf() {
			leafCount++
		} else {
			summaryCount++
			assert.NotEmpty(t, n.ChildrenIDs)
		}
	}
	assert.Equal(t, 4, leafCount)
	assert.Equal(t, 2, summaryCount, "two well-separated groups should yield two level-1 nodes")
}

func TestHierarchicalIndexer_DisabledIsANoop(t *testing.T) {
	chunks := &fakeHierarchicalChunkRepo{indexed: []*types.Chunk{{ID: "c1", KBID: "kb1"}}}
	tree := &fakeHierarchyTree{}
	idx := NewHierarchicalIndexer(HierarchicalOptions{Enabled: false}, chunks, tree, fakeHierarchicalEmbedder{}, nil, fixedEpoch)

	require.NoError(t, idx.Rebuild(context.Background(), 1, "kb1"))
	assert.Empty(t, tree.replacedKB)
}

func TestHierarchicalIndexer_NoIndexedChunksIsANoop(t *testing.T) {
	chunks := &fakeHierarchicalChunkRepo{}
	tree := &fakeHierarchyTree{}
	idx := NewHierarchicalIndexer(HierarchicalOptions{Enabled: true}, chunks, tree, fakeHierarchicalEmbedder{}, nil, fixedEpoch)

	require.NoError(t, idx.Rebuild(context.Background(), 1, "kb1"))
	assert.Empty(t, tree.replacedKB)
}

func TestHierarchicalIndexer_StopsEarlyBelowTwoLeaves(t *testing.T) {
	chunks := &fakeHierarchicalChunkRepo{indexed: []*types.Chunk{{ID: "c1", KBID: "kb1", Text: "near-a"}}}
	tree := &fakeHierarchyTree{}
	idx := NewHierarchicalIndexer(HierarchicalOptions{Enabled: true, MaxLevels: 3, MinClusterSize: 1}, chunks, tree, fakeHierarchicalEmbedder{}, nil, fixedEpoch)

	require.NoError(t, idx.Rebuild(context.Background(), 1, "kb1"))
	require.Len(t, tree.nodes, 1, "a single leaf has nothing to cluster into, so the tree is just that leaf")
	assert.True(t, tree.nodes[0].IsLeaf())
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "one two three", truncateWords("one two three", 5))
	assert.Equal(t, "one two", truncateWords("one two three", 2))
}

func TestBranchingFactor(t *testing.T) {
	assert.Equal(t, 2, branchingFactor(4, 5))
	assert.Equal(t, 4, branchingFactor(20, 5))
	assert.Equal(t, 3, branchingFactor(3, 1))
}
