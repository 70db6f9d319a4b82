// Package orchestrator implements the two request-facing entry points the
// spec's components sit behind (SPEC_FULL.md §3 component C9): ingesting
// a document through chunking/enrichment/indexing, and answering a
// retrieval request by resolving the KB's configured retriever and
// running the post-processing pipeline over its hits. Neither the
// Operator Registry (C1, chunkers only) nor a second registry is used for
// enrichers/indexers/retrievers, since each needs live per-KB
// dependencies (embedder, dense/sparse store, chunk/hierarchy
// repositories) that cannot be decoded purely from an OperatorRef's
// Params map — mirroring the precedent already established for
// internal/indexing. Grounded on the teacher's
// internal/application/service KnowledgeService.ProcessDocument /
// retriever-composition shape, generalized to this core's operator
// pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/chunking"
	"github.com/kbretrieval/core/internal/container"
	"github.com/kbretrieval/core/internal/enrichment"
	"github.com/kbretrieval/core/internal/indexing"
	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/postprocess"
	"github.com/kbretrieval/core/internal/retrieval"
	"github.com/kbretrieval/core/internal/store/sparse"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Orchestrator wires one Container's shared collaborators into the
// ingest/retrieve call paths.
type Orchestrator struct {
	c *container.Container
}

func New(c *container.Container) *Orchestrator {
	return &Orchestrator{c: c}
}

// IngestRequest is one document submission (spec §4.2 "chunking layer
// entry point").
type IngestRequest struct {
	TenantID       uint64
	KBID           string
	Title          string
	Content        string
	SourceMetadata map[string]any
	ACL            types.ACL
	Sensitivity    types.SensitivityLevel
	Async          bool // false runs indexing synchronously (tests, small docs)
}

// IngestResult reports what the ingestion call persisted.
type IngestResult struct {
	DocumentID string
	ChunkCount int
}

// Ingest persists the document and its chunks pending, runs enrichment,
// and either enqueues standard indexing (Async) or runs it synchronously
// (spec §4.4: "partial success is a valid resting state" — synchronous
// callers observe the same per-chunk status rows an async worker would
// leave behind).
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	tenant, err := o.c.Tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "loading tenant", err)
	}
	if !tenant.Active() {
		return nil, apierr.New(apierr.TenantDisabled, "tenant is disabled")
	}

	kb, err := o.c.KBs.GetKBWithConfig(ctx, req.TenantID, req.KBID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBNotFound, "loading knowledge base", err)
	}

	doc := &types.Document{
		ID:               uuid.NewString(),
		TenantID:         req.TenantID,
		KBID:             req.KBID,
		Title:            req.Title,
		SourceMetadata:   req.SourceMetadata,
		SummaryStatus:    types.SummarySkipped,
		SensitivityLevel: req.Sensitivity,
		ACL:              req.ACL,
	}

	if summarizerRef := findEnricher(kb.Config.Enrichers, "document-summarizer"); summarizerRef != nil {
		summary, status := o.runSummarizer(ctx, *summarizerRef, kb.Config.Embedding, doc.Title, req.Content)
		if summary != "" {
			doc.Summary = &summary
		}
		doc.SummaryStatus = status
	}

	if err := o.c.Documents.CreateDocument(ctx, doc); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "persisting document", err)
	}

	chunker, err := o.c.Chunkers.Get(kb.Config.Chunker.Name, kb.Config.Chunker.Params)
	if err != nil {
		return nil, apierr.Wrap(apierr.OperatorNotFound, "resolving chunker", err)
	}
	content := req.Content
	if mimeType, _ := req.SourceMetadata["mime_type"].(string); mimeType != "" {
		content, err = chunking.PreNormalize(mimeType, content)
		if err != nil {
			return nil, apierr.Wrap(apierr.ValidationError, "normalizing document content", err)
		}
	}
	units, err := chunker.Chunk(content, chunking.DocumentMeta{Title: req.Title, SourceMetadata: req.SourceMetadata})
	if err != nil {
		return nil, apierr.Wrap(apierr.ValidationError, "chunking document", err)
	}

	chunks := make([]*types.Chunk, 0, len(units))
	now := time.Now()
	for _, u := range units {
		chunks = append(chunks, &types.Chunk{
			ID:             uuid.NewString(),
			TenantID:       req.TenantID,
			KBID:           req.KBID,
			DocID:          doc.ID,
			Ordinal:        u.Ordinal,
			Text:           u.Text,
			Metadata:       u.Metadata,
			IndexingStatus: types.IndexingPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if enricherRef := findEnricher(kb.Config.Enrichers, "chunk-enricher"); enricherRef != nil {
		o.runChunkEnricher(ctx, *enricherRef, kb.Config.Embedding, doc, chunks)
	}

	if err := o.c.Chunks.CreateChunks(ctx, chunks); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "persisting chunks", err)
	}
	if err := o.c.KBs.IncrementDocCount(ctx, req.KBID, 1); err != nil {
		logger.Warnf(ctx, "[Orchestrator] incrementing doc count for kb=%s: %v", req.KBID, err)
	}

	isolation, err := indexing.ResolveIsolation(ctx, o.c.Chunks, req.TenantID, req.KBID, tenant.IsolationStrategy)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "resolving isolation strategy", err)
	}

	job := indexing.DocumentJob{
		TenantID: req.TenantID, KBID: req.KBID, DocID: doc.ID, Isolation: isolation,
		Embedding: kb.Config.Embedding, SparseEnabled: kb.Config.SparseEnabled,
		ACL: doc.ACL, Sensitivity: doc.SensitivityLevel,
	}

	if req.Async {
		if err := indexing.EnqueueDocumentIndex(ctx, o.c.Asynq, job); err != nil {
			return nil, apierr.Wrap(apierr.IndexingFailed, "enqueuing document index", err)
		}
	} else {
		indexer, err := o.buildStandardIndexer(kb)
		if err != nil {
			return nil, err
		}
		if err := indexer.IndexDocument(ctx, job); err != nil {
			return nil, apierr.Wrap(apierr.IndexingFailed, "indexing document", err)
		}
	}

	return &IngestResult{DocumentID: doc.ID, ChunkCount: len(chunks)}, nil
}

func (o *Orchestrator) buildStandardIndexer(kb *types.KnowledgeBase) (*indexing.StandardIndexer, error) {
	embedder, err := o.c.Resolver.Embedder(kb.Config.Embedding)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBConfigError, "resolving kb embedder", err)
	}
	if kb.Config.SparseEnabled {
		return indexing.NewStandardIndexer(o.c.Chunks, o.c.Dense, o.c.Sparse, embedder, o.c.Tokenizer, o.c.Pool), nil
	}
	return indexing.NewStandardIndexer(o.c.Chunks, o.c.Dense, nil, embedder, nil, o.c.Pool), nil
}

// UpdateKBConfigRequest patches a KB's pluggable pipeline config (spec
// §4.1, invariant 5). Fields left at their zero value keep the existing
// KB's value rather than being cleared — a PATCH, not a PUT.
type UpdateKBConfigRequest struct {
	TenantID  uint64
	KBID      string
	Chunker   *types.OperatorRef
	Enrichers []types.OperatorRef
	Indexer   *types.OperatorRef
	Retriever *types.OperatorRef
	Embedding *types.ModelConfig
	Query     *types.QueryConfig
}

// UpdateKBConfig applies req's non-nil fields over the KB's stored config.
// A non-nil Embedding that differs from the current one is rejected with
// apierr.KBConfigError once the KB has any chunk row at all (spec §3
// invariant 5). CountChunksByKBID does not filter on indexing status, so
// pending and failed chunks count as well as indexed ones. Every other
// field may change freely regardless of indexing progress.
func (o *Orchestrator) UpdateKBConfig(ctx context.Context, req UpdateKBConfigRequest) (*types.KnowledgeBase, error) {
	kb, err := o.c.KBs.GetKBWithConfig(ctx, req.TenantID, req.KBID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBNotFound, "loading knowledge base", err)
	}

	if req.Embedding != nil && !req.Embedding.Equal(kb.Config.Embedding) {
		indexedCount, err := o.c.Chunks.CountChunksByKBID(ctx, req.TenantID, req.KBID)
		if err != nil {
			return nil, apierr.Wrap(apierr.InternalError, "counting kb chunks", err)
		}
		if indexedCount > 0 {
			return nil, apierr.New(apierr.KBConfigError, "embedding configuration is immutable once the kb has indexed documents")
		}
		kb.Config.Embedding = *req.Embedding
	}
	if req.Chunker != nil {
		kb.Config.Chunker = *req.Chunker
	}
	if req.Enrichers != nil {
		kb.Config.Enrichers = req.Enrichers
	}
	if req.Indexer != nil {
		kb.Config.Indexer = *req.Indexer
	}
	if req.Retriever != nil {
		kb.Config.Retriever = *req.Retriever
	}
	if req.Query != nil {
		kb.Config.Query = *req.Query
	}

	if err := o.c.KBs.UpdateKBConfig(ctx, kb); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "persisting kb config", err)
	}
	return kb, nil
}

// JobIndexer adapts an Orchestrator's Container into an
// indexing.RetryableIndexer for the asynq worker process (cmd/server):
// unlike buildStandardIndexer, which resolves a KB's embedder once per
// ingest call, the worker only ever sees an indexing.DocumentJob off the
// queue — and DocumentJob already carries the Embedding/SparseEnabled
// values IndexDocument/RetryFailedChunks need, so a fresh
// indexing.StandardIndexer is built per job from those fields rather than
// reloading the KB.
type JobIndexer struct {
	o *Orchestrator
}

func NewJobIndexer(o *Orchestrator) *JobIndexer { return &JobIndexer{o: o} }

func (j *JobIndexer) Name() string { return "standard" }

func (j *JobIndexer) IndexDocument(ctx context.Context, job indexing.DocumentJob) error {
	indexer, err := j.o.indexerForJob(job)
	if err != nil {
		return err
	}
	return indexer.IndexDocument(ctx, job)
}

func (j *JobIndexer) RetryFailedChunks(ctx context.Context, job indexing.DocumentJob) error {
	indexer, err := j.o.indexerForJob(job)
	if err != nil {
		return err
	}
	return indexer.RetryFailedChunks(ctx, job)
}

// HierarchyJobHandler adapts an Orchestrator into the asynq worker's
// hierarchy-rebuild dispatch: unlike DocumentJob, a hierarchy rebuild
// payload only carries tenant/kb IDs (indexing.HierarchyRebuildPayload),
// so the KB's config.Indexer OperatorRef (the indexer-layer counterpart
// to Enrichers' named refs) supplies the HierarchicalOptions and
// optional Params["model"] LLM entry.
type HierarchyJobHandler struct {
	o *Orchestrator
}

func NewHierarchyJobHandler(o *Orchestrator) *HierarchyJobHandler {
	return &HierarchyJobHandler{o: o}
}

func (h *HierarchyJobHandler) Rebuild(ctx context.Context, tenantID uint64, kbID string) error {
	kb, err := h.o.c.KBs.GetKBWithConfig(ctx, tenantID, kbID)
	if err != nil {
		return apierr.Wrap(apierr.KBNotFound, "loading knowledge base", err)
	}
	embedder, err := h.o.c.Resolver.Embedder(kb.Config.Embedding)
	if err != nil {
		return apierr.Wrap(apierr.KBConfigError, "resolving kb embedder", err)
	}
	var llm interfaces.LLM
	if name, ok := kb.Config.Indexer.Params["model"].(string); ok && name != "" {
		if l, err := h.o.c.Resolver.LLMNamed(name); err == nil {
			llm = l
		} else {
			logger.Warnf(ctx, "[Orchestrator] resolving hierarchy summarizer llm: %v, falling back to naive summaries", err)
		}
	}
	opts := indexing.HierarchicalOptions{Enabled: true}
	decodeParams(kb.Config.Indexer.Params, &opts)
	indexer := indexing.NewHierarchicalIndexer(opts, h.o.c.Chunks, h.o.c.Hierarchy, embedder, llm, epochNow)
	return indexer.Rebuild(ctx, tenantID, kbID)
}

func epochNow() int64 { return time.Now().UnixNano() }

func (o *Orchestrator) indexerForJob(job indexing.DocumentJob) (*indexing.StandardIndexer, error) {
	embedder, err := o.c.Resolver.Embedder(job.Embedding)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBConfigError, "resolving job embedder", err)
	}
	if job.SparseEnabled {
		return indexing.NewStandardIndexer(o.c.Chunks, o.c.Dense, o.c.Sparse, embedder, o.c.Tokenizer, o.c.Pool), nil
	}
	return indexing.NewStandardIndexer(o.c.Chunks, o.c.Dense, nil, embedder, nil, o.c.Pool), nil
}

func findEnricher(enrichers []types.OperatorRef, name string) *types.OperatorRef {
	for i := range enrichers {
		if enrichers[i].Name == name {
			return &enrichers[i]
		}
	}
	return nil
}

func (o *Orchestrator) runSummarizer(ctx context.Context, ref types.OperatorRef, embedding types.ModelConfig, title, content string) (string, types.SummaryStatus) {
	llm, err := o.resolveEnricherLLM(ref, embedding)
	if err != nil {
		logger.Warnf(ctx, "[Orchestrator] resolving summarizer llm: %v", err)
		return "", types.SummarySkipped
	}
	opts := enrichment.SummarizerOptions{Enabled: true}
	decodeParams(ref.Params, &opts)
	summarizer := enrichment.NewSummarizer(opts, llm)
	summary, err := summarizer.Summarize(ctx, title, content)
	if err != nil {
		logger.Warnf(ctx, "[Orchestrator] document summarizer failed: %v", err)
		return "", types.SummaryFailed
	}
	if summary == "" {
		return "", types.SummarySkipped
	}
	return summary, types.SummaryCompleted
}

func (o *Orchestrator) runChunkEnricher(ctx context.Context, ref types.OperatorRef, embedding types.ModelConfig, doc *types.Document, chunks []*types.Chunk) {
	llm, err := o.resolveEnricherLLM(ref, embedding)
	if err != nil {
		logger.Warnf(ctx, "[Orchestrator] resolving chunk enricher llm: %v", err)
		return
	}
	opts := enrichment.ChunkEnricherOptions{Enabled: true}
	decodeParams(ref.Params, &opts)
	enricher := enrichment.NewChunkEnricher(opts, llm)
	before, after := enricher.Window()

	summary := ""
	if doc.Summary != nil {
		summary = *doc.Summary
	}
	for i, c := range chunks {
		beforeText := collectText(chunks, i-before, i)
		afterText := collectText(chunks, i+1, i+1+after)
		enriched, err := enricher.Enrich(ctx, doc.Title, summary, beforeText, c.Text, afterText)
		if err != nil {
			logger.Warnf(ctx, "[Orchestrator] chunk enrichment failed for chunk %s: %v", c.ID, err)
			continue
		}
		if enriched != "" {
			c.EnrichedText = &enriched
		}
	}
}

func collectText(chunks []*types.Chunk, from, to int) []string {
	if from < 0 {
		from = 0
	}
	if to > len(chunks) {
		to = len(chunks)
	}
	out := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, chunks[i].Text)
	}
	return out
}

// resolveEnricherLLM picks the LLM entry an enricher's Params name
// ("model" key). When the operator names none it returns an error; the
// embedding argument is not consulted and there is no fallback entry.
func (o *Orchestrator) resolveEnricherLLM(ref types.OperatorRef, embedding types.ModelConfig) (interfaces.LLM, error) {
	if name, ok := ref.Params["model"].(string); ok && name != "" {
		return o.c.Resolver.LLMNamed(name)
	}
	return nil, fmt.Errorf("orchestrator: enricher %q has no \"model\" parameter naming an llm entry", ref.Name)
}

// RetrieveRequest is one query submission (spec §4.5 "retrieval layer
// entry point"). KBID names the knowledge base whose pipeline config
// (chunker, retriever, embedding, rerank) resolves the request; KBIDs
// additionally scopes which knowledge bases' chunks the built retriever
// is allowed to return (defaulting to just KBID when unset), since a
// tenant may want one retriever definition searched across sibling KBs
// that share its embedding space.
type RetrieveRequest struct {
	TenantID uint64
	KBID     string
	KBIDs    []string
	Query    string
	TopK     int
	Caller   *types.APIKeyIdentity
}

// Retrieve resolves the KB's configured retriever, runs it, hydrates each
// hit's chunk text (spec §4.6's ACL trim and context-window expansion
// both need it, and no retriever populates it itself), and runs the
// fixed-order post-processing pipeline over the hits.
func (o *Orchestrator) Retrieve(ctx context.Context, req RetrieveRequest) ([]*types.RetrieveResult, error) {
	tenant, err := o.c.Tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "loading tenant", err)
	}
	if !tenant.Active() {
		return nil, apierr.New(apierr.TenantDisabled, "tenant is disabled")
	}

	kb, err := o.c.KBs.GetKBWithConfig(ctx, req.TenantID, req.KBID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBNotFound, "loading knowledge base", err)
	}

	cfg := types.DefaultResolvedConfig()
	cfg.KB = kb.Config
	if kb.Config.Query.RerankName != "" {
		cfg.Rerank.Enabled = true
		cfg.Rerank.Name = kb.Config.Query.RerankName
	}
	if kb.Config.Query.SparseSigmoidThreshold != 0 {
		cfg.Fusion.SigmoidThreshold = kb.Config.Query.SparseSigmoidThreshold
	}
	topK := req.TopK
	if topK == 0 {
		topK = kb.Config.Query.DefaultTopK
	}
	if topK == 0 {
		topK = cfg.TopK
	}
	topK, _ = types.ClampTopK(topK)
	cfg.TopK = topK

	kbIDs := req.KBIDs
	if len(kbIDs) == 0 {
		kbIDs = []string{req.KBID}
	}

	retriever, err := o.buildRetriever(ctx, kb, tenant, cfg.Fusion)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBConfigError, "resolving kb retriever", err)
	}

	hits, err := retriever.Retrieve(ctx, types.RetrieveParams{
		Query:    req.Query,
		TenantID: req.TenantID,
		KBIDs:    kbIDs,
		TopK:     cfg.TopK,
		Caller:   req.Caller,
		Config:   cfg,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "running retriever", err)
	}

	if err := o.hydrateText(ctx, req.TenantID, hits); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "hydrating chunk text", err)
	}

	var reranker interfaces.Reranker
	if cfg.Rerank.Enabled {
		reranker, err = o.c.Resolver.RerankerNamed(cfg.Rerank.Name)
		if err != nil {
			logger.Warnf(ctx, "[Orchestrator] resolving rerank model %q: %v, disabling rerank for this request", cfg.Rerank.Name, err)
			cfg.Rerank.Enabled = false
		}
	}

	pipeline := postprocess.NewPipeline(o.c.Documents, o.c.Chunks, reranker)
	out, err := pipeline.Run(ctx, req.TenantID, req.Query, hits, cfg, req.Caller)
	if err != nil {
		if errors.Is(err, postprocess.ErrNoPermission) {
			return nil, apierr.Wrap(apierr.NoPermission, "no visible hits after acl trim", err)
		}
		return nil, apierr.Wrap(apierr.InternalError, "post-processing hits", err)
	}
	return out, nil
}

// hydrateText fills in Text for every hit from the chunk repository.
// Retrievers only ever populate ChunkID/Score/Metadata/KBID/DocID
// themselves; TrimACL and ExpandContext both need Text present on the
// hits they receive.
func (o *Orchestrator) hydrateText(ctx context.Context, tenantID uint64, hits []*types.RetrieveResult) error {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := o.c.Chunks.ListChunksByID(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]*types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, h := range hits {
		if c, ok := byID[h.ChunkID]; ok {
			h.Text = c.Text
			h.Ordinal = c.Ordinal
		}
	}
	return nil
}

// buildRetriever constructs the types.Retriever tree named by
// kb.Config.Retriever. Primitive retrievers (dense, sparse, hybrid) are
// built directly from the KB's dependencies. Composite retrievers
// (hyde, multi_query, self_query, parent_document) wrap a "base"
// retriever named by Params["base"] (defaulting to "dense"); fusion and
// ensemble instead build each entry of Params["legs"] the same way, and
// hierarchical_tree wraps no other retriever — SPEC_FULL.md's Open
// Question decision, since a KB names exactly one OperatorRef for its
// retriever and a composite's wrapped leg isn't otherwise expressible.
func (o *Orchestrator) buildRetriever(ctx context.Context, kb *types.KnowledgeBase, tenant *types.Tenant, fusion types.FusionConfig) (types.Retriever, error) {
	ref := kb.Config.Retriever
	return o.buildRetrieverNamed(ctx, kb, tenant, types.RetrieverType(ref.Name), ref.Params, fusion)
}

func (o *Orchestrator) buildRetrieverNamed(ctx context.Context, kb *types.KnowledgeBase, tenant *types.Tenant, name types.RetrieverType, params map[string]any, fusion types.FusionConfig) (types.Retriever, error) {
	switch name {
	case types.DenseRetriever, "":
		return o.buildDenseRetriever(ctx, kb, tenant)
	case types.SparseRetriever:
		return o.buildSparseRetriever(kb, fusion)
	case types.HybridRetriever:
		dense, err := o.buildDenseRetriever(ctx, kb, tenant)
		if err != nil {
			return nil, err
		}
		sp, err := o.buildSparseRetriever(kb, fusion)
		if err != nil {
			return nil, err
		}
		return retrieval.NewHybridRetriever(dense, sp), nil
	case types.HyDERetriever:
		base, llm, opts, err := o.baseAndLLM(ctx, kb, tenant, params, fusion)
		if err != nil {
			return nil, err
		}
		numQueries := intParam(opts, "num_queries", 3)
		includeOriginal := boolParam(opts, "include_original", true)
		return retrieval.NewHyDERetriever(base, llm, numQueries, includeOriginal), nil
	case types.MultiQueryRetriever:
		base, llm, opts, err := o.baseAndLLM(ctx, kb, tenant, params, fusion)
		if err != nil {
			return nil, err
		}
		numQueries := intParam(opts, "num_queries", 3)
		return retrieval.NewMultiQueryRetriever(base, llm, numQueries), nil
	case types.SelfQueryRetriever:
		base, llm, _, err := o.baseAndLLM(ctx, kb, tenant, params, fusion)
		if err != nil {
			return nil, err
		}
		return retrieval.NewSelfQueryRetriever(base, llm), nil
	case types.ParentDocumentRetriever:
		base, err := o.buildBase(ctx, kb, tenant, params, fusion)
		if err != nil {
			return nil, err
		}
		mode := retrieval.ParentReturnMode(stringParam(params, "return_mode", string(retrieval.ParentOnly)))
		return retrieval.NewParentDocumentRetriever(base, o.c.Chunks, mode), nil
	case types.FusionRetriever, types.EnsembleRetriever:
		legRefs, _ := params["legs"].([]any)
		if len(legRefs) == 0 {
			return nil, fmt.Errorf("orchestrator: %s retriever requires a non-empty \"legs\" parameter", name)
		}
		legs := make([]retrieval.WeightedRetriever, 0, len(legRefs))
		for _, raw := range legRefs {
			legMap, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			legName, _ := legMap["name"].(string)
			legParams, _ := legMap["params"].(map[string]any)
			weight, _ := legMap["weight"].(float64)
			leg, err := o.buildRetrieverNamed(ctx, kb, tenant, types.RetrieverType(legName), legParams, fusion)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: building %s leg %q: %w", name, legName, err)
			}
			legs = append(legs, retrieval.WeightedRetriever{Retriever: leg, Weight: weight})
		}
		return retrieval.NewFusionRetriever(string(name), legs...), nil
	case types.HierarchicalTreeRetriever:
		embedder, err := o.c.Resolver.Embedder(kb.Config.Embedding)
		if err != nil {
			return nil, apierr.Wrap(apierr.KBConfigError, "resolving kb embedder", err)
		}
		mode := retrieval.HierarchicalMode(stringParam(params, "mode", string(retrieval.HierarchicalCollapsed)))
		beamWidth := intParam(params, "beam_width", 3)
		return retrieval.NewHierarchicalTreeRetriever(o.c.Hierarchy, o.c.Chunks, embedder, mode, beamWidth), nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown retriever %q", name)
	}
}

// baseAndLLM resolves a composite retriever's wrapped base retriever and
// the LLM its Params["model"] names, returning params for further
// decoding by the caller.
func (o *Orchestrator) baseAndLLM(ctx context.Context, kb *types.KnowledgeBase, tenant *types.Tenant, params map[string]any, fusion types.FusionConfig) (types.Retriever, interfaces.LLM, map[string]any, error) {
	base, err := o.buildBase(ctx, kb, tenant, params, fusion)
	if err != nil {
		return nil, nil, nil, err
	}
	name, _ := params["model"].(string)
	if name == "" {
		return nil, nil, nil, fmt.Errorf("orchestrator: retriever requires a \"model\" parameter naming an llm entry")
	}
	llm, err := o.c.Resolver.LLMNamed(name)
	if err != nil {
		return nil, nil, nil, err
	}
	return base, llm, params, nil
}

func (o *Orchestrator) buildBase(ctx context.Context, kb *types.KnowledgeBase, tenant *types.Tenant, params map[string]any, fusion types.FusionConfig) (types.Retriever, error) {
	baseName := stringParam(params, "base", string(types.DenseRetriever))
	baseParams, _ := params["base_params"].(map[string]any)
	return o.buildRetrieverNamed(ctx, kb, tenant, types.RetrieverType(baseName), baseParams, fusion)
}

func (o *Orchestrator) buildDenseRetriever(ctx context.Context, kb *types.KnowledgeBase, tenant *types.Tenant) (*retrieval.DenseRetriever, error) {
	embedder, err := o.c.Resolver.Embedder(kb.Config.Embedding)
	if err != nil {
		return nil, apierr.Wrap(apierr.KBConfigError, "resolving kb embedder", err)
	}
	isolation, err := indexing.ResolveIsolation(ctx, o.c.Chunks, kb.TenantID, kb.ID, tenant.IsolationStrategy)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "resolving isolation strategy", err)
	}
	return retrieval.NewDenseRetriever(o.c.Dense, embedder, isolation), nil
}

func (o *Orchestrator) buildSparseRetriever(kb *types.KnowledgeBase, fusion types.FusionConfig) (*retrieval.SparseRetriever, error) {
	if !kb.Config.SparseEnabled {
		return nil, fmt.Errorf("orchestrator: kb %s has sparse indexing disabled", kb.ID)
	}
	return retrieval.NewSparseRetriever(o.c.Sparse, o.c.Tokenizer, sparse.NormalizeSigmoid, fusion.SigmoidThreshold), nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func decodeParams(params map[string]any, out any) {
	if len(params) == 0 {
		return
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return
	}
	_ = dec.Decode(params)
}
