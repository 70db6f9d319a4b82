package postprocess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

type fakeDocumentRepo struct {
	byID map[string]*types.Document
}

func (f *fakeDocumentRepo) CreateDocument(ctx context.Context, doc *types.Document) error { return nil }
func (f *fakeDocumentRepo) GetDocumentByID(ctx context.Context, tenantID uint64, id string) (*types.Document, error) {
	return f.byID[id], nil
}
func (f *fakeDocumentRepo) GetDocumentsByIDs(ctx context.Context, tenantID uint64, ids []string) ([]*types.Document, error) {
	out := make([]*types.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := f.byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDocumentRepo) UpdateDocument(ctx context.Context, doc *types.Document) error { return nil }
func (f *fakeDocumentRepo) DeleteDocumentCascade(ctx context.Context, tenantID uint64, id string) error {
	return nil
}

type fakePostprocessChunkRepo struct {
	byDoc map[string][]*types.Chunk
}

func (f *fakePostprocessChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error { return nil }
func (f *fakePostprocessChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	return nil, nil
}
func (f *fakePostprocessChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakePostprocessChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return f.byDoc[docID], nil
}
func (f *fakePostprocessChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	var out []*types.Chunk
	for _, c := range f.byDoc[docID] {
		idx := c.ChunkIndex()
		if idx >= fromIndex && idx <= toIndex {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakePostprocessChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakePostprocessChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error  { return nil }
func (f *fakePostprocessChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error { return nil }
func (f *fakePostprocessChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return nil
}
func (f *fakePostprocessChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	return 0, nil
}
func (f *fakePostprocessChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakePostprocessChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}

type fakeReranker struct {
	scores map[string]float64
}

func (f *fakeReranker) Name() string { return "fake-reranker" }
func (f *fakeReranker) Rerank(ctx context.Context, query string, candidates []interfaces.RerankCandidate) ([]interfaces.RerankResult, error) {
	out := make([]interfaces.RerankResult, len(candidates))
	for i, c := range candidates {
		out[i] = interfaces.RerankResult{ID: c.ID, Score: f.scores[c.ID]}
	}
	return out, nil
}

func adminCaller() *types.APIKeyIdentity {
	return &types.APIKeyIdentity{TenantID: 1, Role: types.RoleAdmin}
}

func TestTrimACL_AdminSeesEverything(t *testing.T) {
	docs := &fakeDocumentRepo{byID: map[string]*types.Document{
		"d1": {ID: "d1", SensitivityLevel: types.SensitivityRestricted},
	}}
	p := NewPipeline(docs, nil, nil)
	hits := []*types.RetrieveResult{{ChunkID: "c1", DocID: "d1"}}

	out, err := p.TrimACL(context.Background(), 1, hits, adminCaller())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestTrimACL_DropsRestrictedWithoutClearance(t *testing.T) {
	docs := &fakeDocumentRepo{byID: map[string]*types.Document{
		"d1": {ID: "d1", SensitivityLevel: types.SensitivityRestricted},
	}}
	p := NewPipeline(docs, nil, nil)
	hits := []*types.RetrieveResult{{ChunkID: "c1", DocID: "d1"}}
	caller := &types.APIKeyIdentity{TenantID: 1, Role: types.RoleRead}

	_, err := p.TrimACL(context.Background(), 1, hits, caller)
	assert.ErrorIs(t, err, ErrNoPermission)
}

func TestTrimACL_AllowsACLMember(t *testing.T) {
	docs := &fakeDocumentRepo{byID: map[string]*types.Document{
		"d1": {ID: "d1", SensitivityLevel: types.SensitivityRestricted, ACL: types.ACL{AllowUsers: []string{"alice"}}},
	}}
	p := NewPipeline(docs, nil, nil)
	hits := []*types.RetrieveResult{{ChunkID: "c1", DocID: "d1"}}
	caller := &types.APIKeyIdentity{TenantID: 1, Role: types.RoleRead, Identity: types.Identity{User: "alice"}}

	out, err := p.TrimACL(context.Background(), 1, hits, caller)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRerank_MigratesVisualizationFieldsToNewTop1(t *testing.T) {
	hits := []*types.RetrieveResult{
		{ChunkID: "a", Text: "alpha", Score: 0.9, HyDEQueries: []string{"q1", "q2"}},
		{ChunkID: "b", Text: "beta", Score: 0.1},
	}
	reranker := &fakeReranker{scores: map[string]float64{"a": 0.2, "b": 0.9}}
	p := NewPipeline(nil, nil, reranker)

	out, err := p.Rerank(context.Background(), "query", hits, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, []string{"q1", "q2"}, out[0].HyDEQueries)
	assert.Empty(t, out[1].HyDEQueries)
}

func TestRerank_LeavesTailUntouchedBeyondTopN(t *testing.T) {
	hits := []*types.RetrieveResult{
		{ChunkID: "a", Text: "alpha", Score: 0.9},
		{ChunkID: "b", Text: "beta", Score: 0.5},
		{ChunkID: "c", Text: "gamma", Score: 0.1},
	}
	reranker := &fakeReranker{scores: map[string]float64{"a": 0.1, "b": 0.9}}
	p := NewPipeline(nil, nil, reranker)

	out, err := p.Rerank(context.Background(), "query", hits, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID) // untouched tail, original score preserved
	assert.Equal(t, 0.1, out[2].Score)
}

func TestExpandContext_NeverCrossesDocumentBoundary(t *testing.T) {
	chunks := &fakePostprocessChunkRepo{byDoc: map[string][]*types.Chunk{
		"d1": {
			{ID: "c0", DocID: "d1", Text: "zero", Metadata: map[string]any{"chunk_index": 0}},
			{ID: "c1", DocID: "d1", Text: "one", Metadata: map[string]any{"chunk_index": 1}},
			{ID: "c2", DocID: "d1", Text: "two", Metadata: map[string]any{"chunk_index": 2}},
		},
	}}
	p := NewPipeline(nil, chunks, nil)
	hits := []*types.RetrieveResult{
		{ChunkID: "c1", DocID: "d1", Text: "one", Metadata: map[string]any{"chunk_index": 1}},
	}

	out, err := p.ExpandContext(context.Background(), 1, hits, types.ContextWindowConfig{Before: 1, After: 1, MaxChars: 4000})
	require.NoError(t, err)
	assert.Equal(t, "zero", out[0].ContextBefore)
	assert.Equal(t, "two", out[0].ContextAfter)
	assert.Contains(t, out[0].ContextText, "one")
}

func TestExpandContext_SkipsHitsWithoutChunkIndex(t *testing.T) {
	p := NewPipeline(nil, &fakePostprocessChunkRepo{}, nil)
	hits := []*types.RetrieveResult{{ChunkID: "c1", DocID: "d1", Text: "one"}}

	out, err := p.ExpandContext(context.Background(), 1, hits, types.ContextWindowConfig{Before: 1, After: 1, MaxChars: 4000})
	require.NoError(t, err)
	assert.Empty(t, out[0].ContextText)
}

func TestExpandContext_CapsTotalChars(t *testing.T) {
	chunks := &fakePostprocessChunkRepo{byDoc: map[string][]*types.Chunk{
		"d1": {
			{ID: "c0", DocID: "d1", Text: "before-chunk-text-that-is-long", Metadata: map[string]any{"chunk_index": 0}},
			{ID: "c1", DocID: "d1", Text: "hit", Metadata: map[string]any{"chunk_index": 1}},
			{ID: "c2", DocID: "d1", Text: "after-chunk-text-that-is-long", Metadata: map[string]any{"chunk_index": 2}},
		},
	}}
	p := NewPipeline(nil, chunks, nil)
	hits := []*types.RetrieveResult{
		{ChunkID: "c1", DocID: "d1", Text: "hit", Metadata: map[string]any{"chunk_index": 1}},
	}

	out, err := p.ExpandContext(context.Background(), 1, hits, types.ContextWindowConfig{Before: 1, After: 1, MaxChars: 5})
	require.NoError(t, err)
	assert.Contains(t, out[0].ContextText, "hit")
	assert.Empty(t, out[0].ContextBefore)
	assert.Empty(t, out[0].ContextAfter)
}
