package orchestrator

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/chunking"
	"github.com/kbretrieval/core/internal/config"
	"github.com/kbretrieval/core/internal/container"
	"github.com/kbretrieval/core/internal/providers"
	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/store/sparse"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// --- repository fakes, grounded on internal/indexing's own test fakes ---

type fakeChunkRepo struct {
	byDoc   map[string][]*types.Chunk
	byID    map[string]*types.Chunk
	byKB    map[string][]*types.Chunk
	updated []*types.Chunk
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{byDoc: map[string][]*types.Chunk{}, byID: map[string]*types.Chunk{}, byKB: map[string][]*types.Chunk{}}
}
func (f *fakeChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error {
	for _, c := range chunks {
		f.byDoc[c.DocID] = append(f.byDoc[c.DocID], c)
		f.byID[c.ID] = c
		f.byKB[c.KBID] = append(f.byKB[c.KBID], c)
	}
	return nil
}
func (f *fakeChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	return f.byID[id], nil
}
func (f *fakeChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	out := make([]*types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return f.byDoc[docID], nil
}
func (f *fakeChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	var out []*types.Chunk
	for _, c := range f.byDoc[docID] {
		if c.Ordinal >= fromIndex && c.Ordinal <= toIndex {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error {
	f.updated = append(f.updated, chunk)
	return nil
}
func (f *fakeChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error {
	f.updated = append(f.updated, chunks...)
	return nil
}
func (f *fakeChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return nil
}
func (f *fakeChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	return int64(len(f.byKB[kbID])), nil
}
func (f *fakeChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	return nil, nil
}

type fakeDocumentRepo struct {
	byID map[string]*types.Document
}

func newFakeDocumentRepo() *fakeDocumentRepo { return &fakeDocumentRepo{byID: map[string]*types.Document{}} }
func (f *fakeDocumentRepo) CreateDocument(ctx context.Context, doc *types.Document) error {
	f.byID[doc.ID] = doc
	return nil
}
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
func (f *fakeDocumentRepo) UpdateDocument(ctx context.Context, doc *types.Document) error {
	f.byID[doc.ID] = doc
	return nil
}
func (f *fakeDocumentRepo) DeleteDocumentCascade(ctx context.Context, tenantID uint64, id string) error {
	delete(f.byID, id)
	return nil
}

type fakeKBRepo struct {
	byID map[string]*types.KnowledgeBase
}

func (f *fakeKBRepo) GetKBWithConfig(ctx context.Context, tenantID uint64, kbID string) (*types.KnowledgeBase, error) {
	kb, ok := f.byID[kbID]
	if !ok || kb.TenantID != tenantID {
		return nil, apierr.New(apierr.KBNotFound, "no such kb")
	}
	return kb, nil
}
func (f *fakeKBRepo) UpdateKBConfig(ctx context.Context, kb *types.KnowledgeBase) error {
	f.byID[kb.ID] = kb
	return nil
}
func (f *fakeKBRepo) IncrementDocCount(ctx context.Context, kbID string, delta int64) error {
	if kb, ok := f.byID[kbID]; ok {
		kb.DocCount += delta
	}
	return nil
}

type fakeTenantRepo struct {
	byID map[uint64]*types.Tenant
}

func (f *fakeTenantRepo) GetTenant(ctx context.Context, tenantID uint64) (*types.Tenant, error) {
	t, ok := f.byID[tenantID]
	if !ok {
		return nil, apierr.New(apierr.InternalError, "no such tenant")
	}
	return t, nil
}

type fakeDenseStore struct {
	upserts map[string][]dense.Point
}

func newFakeDenseStore() *fakeDenseStore { return &fakeDenseStore{upserts: map[string][]dense.Point{}} }
func (f *fakeDenseStore) Name() string   { return "fake-dense" }
func (f *fakeDenseStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	return nil
}
func (f *fakeDenseStore) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	f.upserts[collection] = append(f.upserts[collection], points...)
	return nil
}
func (f *fakeDenseStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	var out []dense.Hit
	for _, p := range f.upserts[collection] {
		out = append(out, dense.Hit{ID: p.ID, Score: 0.9, Record: p.Record})
	}
	return out, nil
}
func (f *fakeDenseStore) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	return nil
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Name() string    { return "fake-embedder" }
func (f *fakeEmbedder) Dimensions() int { return f.dim }
func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
func (f *fakeEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

// --- test harness ---

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeChunkRepo, *fakeDocumentRepo, *fakeKBRepo, *fakeTenantRepo, *fakeDenseStore) {
	t.Helper()
	pool, err := ants.NewPool(4, ants.WithPreAlloc(true))
	require.NoError(t, err)

	chunks := newFakeChunkRepo()
	docs := newFakeDocumentRepo()
	kbs := &fakeKBRepo{byID: map[string]*types.KnowledgeBase{}}
	tenants := &fakeTenantRepo{byID: map[uint64]*types.Tenant{}}
	denseStore := newFakeDenseStore()

	resolver := providers.NewResolver(
		[]config.ModelEntry{{Capability: "embedding", Provider: "openai", Model: "fake-embed"}},
		providers.ProviderFactories{
			NewOpenAIEmbedder: func(e config.ModelEntry) (interfaces.Embedder, error) {
				return &fakeEmbedder{dim: 8}, nil
			},
		},
	)

	c := &container.Container{
		Chunks:    chunks,
		Documents: docs,
		KBs:       kbs,
		Tenants:   tenants,
		Dense:     denseStore,
		Sparse:    sparse.NewMemory(),
		Resolver:  resolver,
		Chunkers:  chunking.NewRegistry(),
		Pool:      pool,
	}
	return New(c), chunks, docs, kbs, tenants, denseStore
}

func testKB(id string) *types.KnowledgeBase {
	return &types.KnowledgeBase{
		ID:       id,
		TenantID: 1,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "paragraph", Params: map[string]any{"max_chars": 10}},
			Retriever: types.OperatorRef{Name: "dense"},
			Embedding: types.ModelConfig{Provider: "openai", Model: "fake-embed", Dimension: 8},
		},
	}
}

func TestIngestSynchronousIndexesAndPersists(t *testing.T) {
	orch, chunks, docs, kbs, tenants, denseStore := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
	kbs.byID["kb1"] = testKB("kb1")

	result, err := orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "doc", Content: "first paragraph.\n\nsecond paragraph.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, 2, result.ChunkCount)

	assert.Len(t, docs.byID, 1)
	assert.Len(t, chunks.byDoc[result.DocumentID], 2)
	for _, c := range chunks.byDoc[result.DocumentID] {
		assert.Equal(t, types.IndexingIndexed, c.IndexingStatus)
	}
	assert.NotEmpty(t, denseStore.upserts)
}

func TestIngestAsyncNeverIndexesSynchronously(t *testing.T) {
	orch, chunks, _, kbs, tenants, denseStore := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
	kbs.byID["kb1"] = testKB("kb1")
	// Point the asynq client at an address nothing is listening on: Enqueue
	// fails, surfacing apierr.IndexingFailed, which is enough to prove the
	// Async branch enqueues rather than calling IndexDocument synchronously
	// (a synchronous run would have left every chunk `indexed`, not `pending`).
	orch.c.Asynq = asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"})

	_, err := orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "doc", Content: "only one paragraph.", Async: true,
	})
	require.Error(t, err)
	assert.Equal(t, apierr.IndexingFailed, apierr.CodeOf(err))

	var docID string
	for id := range chunks.byDoc {
		docID = id
	}
	require.NotEmpty(t, docID)
	for _, c := range chunks.byDoc[docID] {
		assert.Equal(t, types.IndexingPending, c.IndexingStatus)
	}
	assert.Empty(t, denseStore.upserts)
}

func TestIngestUnknownChunkerSurfacesOperatorNotFound(t *testing.T) {
	orch, _, _, kbs, tenants, _ := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
	kb := testKB("kb1")
	kb.Config.Chunker.Name = "does-not-exist"
	kbs.byID["kb1"] = kb

	_, err := orch.Ingest(context.Background(), IngestRequest{TenantID: 1, KBID: "kb1", Title: "doc", Content: "text"})
	require.Error(t, err)
	assert.Equal(t, apierr.OperatorNotFound, apierr.CodeOf(err))
}

func TestIngestDisabledTenantIsRejected(t *testing.T) {
	orch, _, _, kbs, tenants, _ := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantDisabled}
	kbs.byID["kb1"] = testKB("kb1")

	_, err := orch.Ingest(context.Background(), IngestRequest{TenantID: 1, KBID: "kb1", Content: "text"})
	require.Error(t, err)
	assert.Equal(t, apierr.TenantDisabled, apierr.CodeOf(err))
}

func adminCaller() *types.APIKeyIdentity {
	return &types.APIKeyIdentity{KeyID: "k1", TenantID: 1, Role: types.RoleAdmin}
}

func TestRetrieveDenseHydratesTextAndRunsPostprocess(t *testing.T) {
	orch, chunks, docs, kbs, tenants, denseStore := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
	kbs.byID["kb1"] = testKB("kb1")

	docs.byID["doc1"] = &types.Document{ID: "doc1", TenantID: 1, KBID: "kb1", SensitivityLevel: types.SensitivityPublic}
	chunks.byID["c1"] = &types.Chunk{ID: "c1", TenantID: 1, KBID: "kb1", DocID: "doc1", Ordinal: 0, Text: "hello world"}
	collection := dense.CollectionName("shared", 1, 8)
	denseStore.upserts[collection] = []dense.Point{{
		ID:     "c1",
		Vector: make([]float32, 8),
		Record: types.VectorRecord{ChunkID: "c1", TenantID: 1, KBID: "kb1", DocID: "doc1"},
	}}

	hits, err := orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 1, KBID: "kb1", Query: "hello", Caller: adminCaller(),
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hello world", hits[0].Text)
}

func TestRetrieveNoPermissionWhenACLTrimEmptiesNonEmptyHits(t *testing.T) {
	orch, chunks, docs, kbs, tenants, denseStore := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
	kbs.byID["kb1"] = testKB("kb1")

	docs.byID["doc1"] = &types.Document{ID: "doc1", TenantID: 1, KBID: "kb1", SensitivityLevel: types.SensitivityRestricted}
	chunks.byID["c1"] = &types.Chunk{ID: "c1", TenantID: 1, KBID: "kb1", DocID: "doc1", Ordinal: 0, Text: "secret"}
	collection := dense.CollectionName("shared", 1, 8)
	denseStore.upserts[collection] = []dense.Point{{
		ID: "c1", Vector: make([]float32, 8),
		Record: types.VectorRecord{ChunkID: "c1", TenantID: 1, KBID: "kb1", DocID: "doc1"},
	}}

	unprivileged := &types.APIKeyIdentity{KeyID: "k2", TenantID: 1, Role: types.RoleRead}
	_, err := orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 1, KBID: "kb1", Query: "hello", Caller: unprivileged,
	})
	require.Error(t, err)
	assert.Equal(t, apierr.NoPermission, apierr.CodeOf(err))
}

func TestRetrieveUnknownRetrieverSurfacesKBConfigError(t *testing.T) {
	orch, _, _, kbs, tenants, _ := newTestOrchestrator(t)
	tenants.byID[1] = &types.Tenant{ID: 1, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
	kb := testKB("kb1")
	kb.Config.Retriever.Name = "does-not-exist"
	kbs.byID["kb1"] = kb

	_, err := orch.Retrieve(context.Background(), RetrieveRequest{TenantID: 1, KBID: "kb1", Query: "hello", Caller: adminCaller()})
	require.Error(t, err)
	assert.Equal(t, apierr.KBConfigError, apierr.CodeOf(err))
}
