package indexing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
)

type fakeReconcileChunkRepo struct {
	byDoc   map[string][]*types.Chunk
	updated []*types.Chunk
}

func (f *fakeReconcileChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error { return nil }
func (f *fakeReconcileChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	return nil, nil
}
func (f *fakeReconcileChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeReconcileChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return f.byDoc[docID], nil
}
func (f *fakeReconcileChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeReconcileChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeReconcileChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error { return nil }
func (f *fakeReconcileChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error {
	f.updated = append(f.updated, chunks...)
	return nil
}
func (f *fakeReconcileChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return nil
}
func (f *fakeReconcileChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	return 0, nil
}
func (f *fakeReconcileChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeReconcileChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "fake-id", Queue: "default"}, nil
}

func TestReconciler_ResetsStaleIndexingChunks(t *testing.T) {
	stale := newTestChunk("c1", "d1", 0)
	stale.IndexingStatus = types.IndexingRunning
	stale.UpdatedAt = time.Now().Add(-1 * time.Hour)

	chunks := &fakeReconcileChunkRepo{byDoc: map[string][]*types.Chunk{"d1": {stale}}}
	enq := &fakeEnqueuer{}
	r := NewReconciler(chunks, enq, time.Now)

	require.NoError(t, r.Sweep(context.Background(), 1, "kb1", "d1"))
	assert.Equal(t, types.IndexingPending, stale.IndexingStatus)
	require.Len(t, chunks.updated, 1)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeDocumentIndex, enq.tasks[0].Type())
}

func TestReconciler_LeavesFreshIndexingChunksAlone(t *testing.T) {
	fresh := newTestChunk("c1", "d1", 0)
	fresh.IndexingStatus = types.IndexingRunning
	fresh.UpdatedAt = time.Now()

	chunks := &fakeReconcileChunkRepo{byDoc: map[string][]*types.Chunk{"d1": {fresh}}}
	enq := &fakeEnqueuer{}
	r := NewReconciler(chunks, enq, time.Now)

	require.NoError(t, r.Sweep(context.Background(), 1, "kb1", "d1"))
	assert.Equal(t, types.IndexingRunning, fresh.IndexingStatus)
	assert.Empty(t, chunks.updated)
	assert.Empty(t, enq.tasks)
}

func TestReconciler_ReenqueuesRetryEligibleFailuresOnly(t *testing.T) {
	failed := newTestChunk("c1", "d1", 0)
	failed.IndexingStatus = types.IndexingFailed
	failed.RetryCount = 1

	chunks := &fakeReconcileChunkRepo{byDoc: map[string][]*types.Chunk{"d1": {failed}}}
	enq := &fakeEnqueuer{}
	r := NewReconciler(chunks, enq, time.Now)

	require.NoError(t, r.Sweep(context.Background(), 1, "kb1", "d1"))
	assert.Empty(t, chunks.updated, "failed chunks aren't reset, only re-queued for retry")
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeRetryFailed, enq.tasks[0].Type())

	var payload DocumentIndexPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, "d1", payload.DocID)
}

func TestReconciler_ExhaustedFailuresAreNotReenqueued(t *testing.T) {
	exhausted := newTestChunk("c1", "d1", 0)
	exhausted.IndexingStatus = types.IndexingFailed
	exhausted.RetryCount = types.MaxIndexingRetries

	chunks := &fakeReconcileChunkRepo{byDoc: map[string][]*types.Chunk{"d1": {exhausted}}}
	enq := &fakeEnqueuer{}
	r := NewReconciler(chunks, enq, time.Now)

	require.NoError(t, r.Sweep(context.Background(), 1, "kb1", "d1"))
	assert.Empty(t, enq.tasks)
}

func TestReconciler_NothingToDoIsANoop(t *testing.T) {
	indexed := newTestChunk("c1", "d1", 0)
	indexed.IndexingStatus = types.IndexingIndexed

	chunks := &fakeReconcileChunkRepo{byDoc: map[string][]*types.Chunk{"d1": {indexed}}}
	enq := &fakeEnqueuer{}
	r := NewReconciler(chunks, enq, time.Now)

	require.NoError(t, r.Sweep(context.Background(), 1, "kb1", "d1"))
	assert.Empty(t, chunks.updated)
	assert.Empty(t, enq.tasks)
}
