package indexing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
)

type fakeIsolationChunkRepo struct {
	count int64
}

func (f *fakeIsolationChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error { return nil }
func (f *fakeIsolationChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIsolationChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIsolationChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIsolationChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIsolationChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIsolationChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error { return nil }
func (f *fakeIsolationChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error {
	return nil
}
func (f *fakeIsolationChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return nil
}
func (f *fakeIsolationChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	return f.count, nil
}
func (f *fakeIsolationChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeIsolationChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}

func TestResolveIsolation_SharedPassesThrough(t *testing.T) {
	got, err := ResolveIsolation(context.Background(), &fakeIsolationChunkRepo{}, 1, "kb1", types.IsolationShared)
	require.NoError(t, err)
	assert.Equal(t, "shared", got)
}

func TestResolveIsolation_PerTenantPassesThrough(t *testing.T) {
	got, err := ResolveIsolation(context.Background(), &fakeIsolationChunkRepo{}, 1, "kb1", types.IsolationPerTenant)
	require.NoError(t, err)
	assert.Equal(t, "per-tenant", got)
}

func TestResolveIsolation_AutoBelowThresholdStaysShared(t *testing.T) {
	repo := &fakeIsolationChunkRepo{count: AutoIsolationThreshold - 1}
	got, err := ResolveIsolation(context.Background(), repo, 1, "kb1", types.IsolationAuto)
	require.NoError(t, err)
	assert.Equal(t, "shared", got)
}

func TestResolveIsolation_AutoAtThresholdSwitchesToPerTenant(t *testing.T) {
	repo := &fakeIsolationChunkRepo{count: AutoIsolationThreshold}
	got, err := ResolveIsolation(context.Background(), repo, 1, "kb1", types.IsolationAuto)
	require.NoError(t, err)
	assert.Equal(t, "per-tenant", got)
}

func TestResolveIsolation_EmptyStrategyDefaultsToAutoPath(t *testing.T) {
	repo := &fakeIsolationChunkRepo{count: AutoIsolationThreshold}
	got, err := ResolveIsolation(context.Background(), repo, 1, "kb1", "")
	require.NoError(t, err)
	assert.Equal(t, "per-tenant", got)
}

func TestResolveIsolation_UnknownStrategyErrors(t *testing.T) {
	_, err := ResolveIsolation(context.Background(), &fakeIsolationChunkRepo{}, 1, "kb1", types.IsolationStrategy("bogus"))
	assert.Error(t, err)
}
