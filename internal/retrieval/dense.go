package retrieval

import (
	"context"
	"fmt"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// DenseRetriever is the primitive dense-vector retriever (spec §4.5):
// embed the query, search the tenant/KB-scoped collection, return hits
// ranked by cosine similarity.
type DenseRetriever struct {
	Store     dense.Store
	Embedder  interfaces.Embedder
	Isolation string // spec §4.4 isolation strategy: "shared" | "per-tenant" | "auto"
}

func NewDenseRetriever(store dense.Store, embedder interfaces.Embedder, isolation string) *DenseRetriever {
	return &DenseRetriever{Store: store, Embedder: embedder, Isolation: isolation}
}

func (r *DenseRetriever) Name() string { return string(types.DenseRetriever) }

func (r *DenseRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	if r.Embedder == nil {
		return nil, fmt.Errorf("retrieval: dense retriever requires an embedding provider")
	}
	vec, err := r.Embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query: %w", err)
	}
	collection := dense.CollectionName(r.Isolation, params.TenantID, r.Embedder.Dimensions())
	hits, err := r.Store.Search(ctx, collection, vec, params.TopK, dense.Filter{
		TenantID: params.TenantID,
		KBIDs:    params.KBIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: dense search: %w", err)
	}
	out := make([]*types.RetrieveResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, &types.RetrieveResult{
			ChunkID:  h.Record.ChunkID,
			Score:    h.Score,
			Metadata: h.Record.Metadata,
			KBID:     h.Record.KBID,
			DocID:    h.Record.DocID,
			SourceTag: r.Name(),
		})
	}
	return out, nil
}
