package orchestrator

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"

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

// This file exercises the seed scenarios of spec.md §8 end to end through
// the orchestrator. Unlike orchestrator_test.go's fakeEmbedder (a constant
// zero vector, fine for pure wiring checks), these scenarios need hits to
// rank by actual relevance, so bagOfWordsEmbedder below buckets tokens
// into a fixed-width vector and scenarioDenseStore ranks by real cosine
// similarity and honors topK/KBIDs filtering.

type bagOfWordsEmbedder struct{ dim int }

func (b *bagOfWordsEmbedder) Name() string    { return "bow-embedder" }
func (b *bagOfWordsEmbedder) Dimensions() int { return b.dim }

func (b *bagOfWordsEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, b.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,?!:;\"'")
		if tok == "" {
			continue
		}
		vec[hashToken(tok)%b.dim]++
	}
	return normalize(vec), nil
}

func (b *bagOfWordsEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := b.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func hashToken(s string) int {
	h := 2166136261
	for _, c := range s {
		h = (h ^ int(c)) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scenarioDenseStore struct {
	points map[string][]dense.Point
}

func newScenarioDenseStore() *scenarioDenseStore {
	return &scenarioDenseStore{points: map[string][]dense.Point{}}
}
func (s *scenarioDenseStore) Name() string { return "scenario-dense" }
func (s *scenarioDenseStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	return nil
}
func (s *scenarioDenseStore) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	s.points[collection] = append(s.points[collection], points...)
	return nil
}
func (s *scenarioDenseStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	allowed := make(map[string]bool, len(filter.KBIDs))
	for _, id := range filter.KBIDs {
		allowed[id] = true
	}
	var hits []dense.Hit
	for _, p := range s.points[collection] {
		if p.Record.TenantID != filter.TenantID {
			continue
		}
		if len(allowed) > 0 && !allowed[p.Record.KBID] {
			continue
		}
		hits = append(hits, dense.Hit{ID: p.ID, Score: cosine(queryVector, p.Vector), Record: p.Record})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
func (s *scenarioDenseStore) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	return nil
}

type fakeLLM struct {
	completion string
}

func (f *fakeLLM) Name() string { return "fake-llm" }
func (f *fakeLLM) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.completion, nil
}

type fakeReranker struct{}

func (f *fakeReranker) Name() string { return "fake-reranker" }
func (f *fakeReranker) Rerank(ctx context.Context, query string, candidates []interfaces.RerankCandidate) ([]interfaces.RerankResult, error) {
	out := make([]interfaces.RerankResult, len(candidates))
	for i, c := range candidates {
		// Reverse-rank: last candidate wins, forcing a real reorder so the
		// pre-rerank top-1's HyDEQueries must migrate to survive (S4).
		out[i] = interfaces.RerankResult{ID: c.ID, Score: float64(len(candidates) - i)}
	}
	return out, nil
}

// scenarioHarness wires a scenario-grade orchestrator: real cosine
// similarity ranking, real chunker registry, and provider factories that
// can produce an LLM/reranker in addition to the bag-of-words embedder.
type scenarioHarness struct {
	orch      *Orchestrator
	chunks    *fakeChunkRepo
	docs      *fakeDocumentRepo
	kbs       *fakeKBRepo
	tenants   *fakeTenantRepo
	dense     *scenarioDenseStore
	llm       *fakeLLM
}

const scenarioDim = 32

func newScenarioHarness(t *testing.T, llmCompletion string) *scenarioHarness {
	t.Helper()
	chunks := newFakeChunkRepo()
	docs := newFakeDocumentRepo()
	kbs := &fakeKBRepo{byID: map[string]*types.KnowledgeBase{}}
	tenants := &fakeTenantRepo{byID: map[uint64]*types.Tenant{}}
	denseStore := newScenarioDenseStore()
	llm := &fakeLLM{completion: llmCompletion}
	reranker := &fakeReranker{}

	resolver := providers.NewResolver(
		[]config.ModelEntry{
			{Name: "embed1", Capability: "embedding", Provider: "openai", Model: "bow"},
			{Name: "llm1", Capability: "llm", Provider: "openai", Model: "hyde-llm"},
			{Name: "reranker1", Capability: "rerank", Provider: "openai", Model: "rerank1"},
		},
		providers.ProviderFactories{
			NewOpenAIEmbedder: func(e config.ModelEntry) (interfaces.Embedder, error) {
				return &bagOfWordsEmbedder{dim: scenarioDim}, nil
			},
			NewOpenAILLM: func(e config.ModelEntry) (interfaces.LLM, error) {
				return llm, nil
			},
			NewOpenAIReranker: func(e config.ModelEntry) (interfaces.Reranker, error) {
				return reranker, nil
			},
		},
	)

	pool, err := ants.NewPool(4, ants.WithPreAlloc(true))
	require.NoError(t, err)

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
	return &scenarioHarness{orch: New(c), chunks: chunks, docs: docs, kbs: kbs, tenants: tenants, dense: denseStore, llm: llm}
}

func scenarioEmbedding() types.ModelConfig {
	return types.ModelConfig{Provider: "openai", Model: "bow", Dimension: scenarioDim}
}

func (h *scenarioHarness) activateTenant(id uint64) {
	h.tenants.byID[id] = &types.Tenant{ID: id, Status: types.TenantActive, IsolationStrategy: types.IsolationShared}
}

func scenarioAdmin(tenantID uint64) *types.APIKeyIdentity {
	return &types.APIKeyIdentity{KeyID: "admin", TenantID: tenantID, Role: types.RoleAdmin}
}

// S1: basic dense recall.
func TestScenarioS1BasicDenseRecall(t *testing.T) {
	h := newScenarioHarness(t, "")
	h.activateTenant(1)
	h.kbs.byID["kb1"] = &types.KnowledgeBase{
		ID: "kb1", TenantID: 1,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
			Retriever: types.OperatorRef{Name: "dense"},
			Embedding: scenarioEmbedding(),
		},
	}

	_, err := h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "Aspirin",
		Content: "Aspirin is used to relieve pain. Pregnant women should not take it.",
	})
	require.NoError(t, err)

	hits, err := h.orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 1, KBID: "kb1", Query: "Can pregnant women take aspirin?", TopK: 3, Caller: scenarioAdmin(1),
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "Pregnant women should not take it")
	assert.Greater(t, hits[0].Score, 0.5)
}

// S2: ACL trimming.
func TestScenarioS2ACLTrimming(t *testing.T) {
	h := newScenarioHarness(t, "")
	h.activateTenant(1)
	h.kbs.byID["kb1"] = &types.KnowledgeBase{
		ID: "kb1", TenantID: 1,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
			Retriever: types.OperatorRef{Name: "dense"},
			Embedding: scenarioEmbedding(),
		},
	}

	_, err := h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "Pricing",
		Content:     "Confidential pricing: $42.",
		Sensitivity: types.SensitivityRestricted,
		ACL:         types.ACL{AllowRoles: []string{"sales"}},
	})
	require.NoError(t, err)

	caller := &types.APIKeyIdentity{
		KeyID: "viewer", TenantID: 1, Role: types.RoleRead,
		Identity: types.Identity{Roles: []string{"viewer"}},
	}
	_, err = h.orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 1, KBID: "kb1", Query: "pricing", TopK: 3, Caller: caller,
	})
	require.Error(t, err)
	assert.Equal(t, apierr.NoPermission, apierr.CodeOf(err))
}

// S3: parent-child expansion.
func TestScenarioS3ParentChildExpansion(t *testing.T) {
	h := newScenarioHarness(t, "")
	h.activateTenant(1)
	h.kbs.byID["kb1"] = &types.KnowledgeBase{
		ID: "kb1", TenantID: 1,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "parent-child", Params: map[string]any{"parent_chars": 200, "child_chars": 50}},
			Retriever: types.OperatorRef{Name: "parent_document", Params: map[string]any{"base": "dense"}},
			Embedding: scenarioEmbedding(),
		},
	}

	_, err := h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "doc",
		Content: "A. First paragraph here. B. Second paragraph here.",
	})
	require.NoError(t, err)

	hits, err := h.orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 1, KBID: "kb1", Query: "First paragraph", TopK: 1, Caller: scenarioAdmin(1),
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "First paragraph here")
	assert.Contains(t, hits[0].Text, "Second paragraph here")
}

// S4: HyDE visibility through rerank.
func TestScenarioS4HyDEVisibilityThroughRerank(t *testing.T) {
	h := newScenarioHarness(t, "A hypothetical passage about the topic.\nAnother hypothetical passage.")
	h.activateTenant(1)
	h.kbs.byID["kb1"] = &types.KnowledgeBase{
		ID: "kb1", TenantID: 1,
		Config: types.KBConfig{
			Chunker: types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
			Retriever: types.OperatorRef{Name: "hyde", Params: map[string]any{
				"base": "dense", "model": "llm1", "num_queries": 2,
			}},
			Embedding: scenarioEmbedding(),
			Query:     types.QueryConfig{RerankName: "reranker1"},
		},
	}

	_, err := h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "doc",
		Content: "First candidate passage. Second candidate passage. Third candidate passage. Fourth candidate passage. Fifth candidate passage.",
	})
	require.NoError(t, err)

	hits, err := h.orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 1, KBID: "kb1", Query: "tell me about the topic", TopK: 5, Caller: scenarioAdmin(1),
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.NotEmpty(t, hits[0].HyDEQueries)
}

// S5: embedding-change guard.
func TestScenarioS5EmbeddingChangeGuard(t *testing.T) {
	h := newScenarioHarness(t, "")
	h.activateTenant(1)
	modelA := scenarioEmbedding()
	h.kbs.byID["kb1"] = &types.KnowledgeBase{
		ID: "kb1", TenantID: 1,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
			Retriever: types.OperatorRef{Name: "dense"},
			Embedding: modelA,
		},
	}

	_, err := h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb1", Title: "doc", Content: "some content that gets indexed.",
	})
	require.NoError(t, err)

	modelB := types.ModelConfig{Provider: "openai", Model: "other-model", Dimension: scenarioDim}
	_, err = h.orch.UpdateKBConfig(context.Background(), UpdateKBConfigRequest{
		TenantID: 1, KBID: "kb1", Embedding: &modelB,
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KBConfigError, apierr.CodeOf(err))

	sameModel := modelA
	_, err = h.orch.UpdateKBConfig(context.Background(), UpdateKBConfigRequest{
		TenantID: 1, KBID: "kb1", Embedding: &sameModel,
	})
	require.NoError(t, err)

	q := types.QueryConfig{DefaultTopK: 5}
	kb, err := h.orch.UpdateKBConfig(context.Background(), UpdateKBConfigRequest{
		TenantID: 1, KBID: "kb1", Query: &q,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, kb.Config.Query.DefaultTopK)
	assert.Equal(t, modelA, kb.Config.Embedding)
}

// S6: tenant isolation.
func TestScenarioS6TenantIsolation(t *testing.T) {
	h := newScenarioHarness(t, "")
	h.activateTenant(1)
	h.activateTenant(2)
	h.kbs.byID["kb-t1"] = &types.KnowledgeBase{
		ID: "kb-t1", TenantID: 1,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
			Retriever: types.OperatorRef{Name: "dense"},
			Embedding: scenarioEmbedding(),
		},
	}
	h.kbs.byID["kb-t2"] = &types.KnowledgeBase{
		ID: "kb-t2", TenantID: 2,
		Config: types.KBConfig{
			Chunker:   types.OperatorRef{Name: "recursive", Params: map[string]any{"chunk_size": 200}},
			Retriever: types.OperatorRef{Name: "dense"},
			Embedding: scenarioEmbedding(),
		},
	}

	_, err := h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 1, KBID: "kb-t1", Title: "t1doc", Content: "widget-alpha",
	})
	require.NoError(t, err)
	_, err = h.orch.Ingest(context.Background(), IngestRequest{
		TenantID: 2, KBID: "kb-t2", Title: "t2doc", Content: "widget-alpha",
	})
	require.NoError(t, err)

	t2Caller := &types.APIKeyIdentity{KeyID: "t2-read", TenantID: 2, Role: types.RoleRead}
	hits, err := h.orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 2, KBID: "kb-t2", Query: "widget-alpha", TopK: 5, Caller: t2Caller,
	})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = h.orch.Retrieve(context.Background(), RetrieveRequest{
		TenantID: 2, KBID: "kb-t1", Query: "widget-alpha", TopK: 5, Caller: t2Caller,
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KBNotFound, apierr.CodeOf(err))
}
