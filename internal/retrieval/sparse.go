package retrieval

import (
	"context"
	"fmt"

	sparsecore "github.com/kbretrieval/core/internal/store/sparse"
	"github.com/kbretrieval/core/internal/types"
)

// SparseRetriever is the primitive lexical/BM25 retriever (spec §4.5).
// Raw BM25 scores are normalized into [0, 1] before being handed back so
// every retriever's Score is comparable (the hybrid/fusion retrievers
// depend on this).
type SparseRetriever struct {
	Store     sparsecore.Store
	Tokenizer *sparsecore.Tokenizer
	Normalize sparsecore.NormalizeMode
	// Threshold is the sigmoid normalization shift (spec §4.5); unused by
	// NormalizeMinMax.
	Threshold float64
}

func NewSparseRetriever(store sparsecore.Store, tokenizer *sparsecore.Tokenizer, mode sparsecore.NormalizeMode, threshold float64) *SparseRetriever {
	return &SparseRetriever{Store: store, Tokenizer: tokenizer, Normalize: mode, Threshold: threshold}
}

func (r *SparseRetriever) Name() string { return string(types.SparseRetriever) }

func (r *SparseRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	terms := r.Tokenizer.Tokenize(params.Query)
	hits, err := r.Store.Search(ctx, terms, sparsecore.Filter{TenantID: params.TenantID, KBIDs: params.KBIDs}, params.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: sparse search: %w", err)
	}

	raw := make([]float64, len(hits))
	for i, h := range hits {
		raw[i] = h.RawScore
	}
	normalized := sparsecore.Normalize(r.Normalize, raw, r.Threshold)

	out := make([]*types.RetrieveResult, 0, len(hits))
	for i, h := range hits {
		out = append(out, &types.RetrieveResult{
			ChunkID:   h.Record.ChunkID,
			Score:     normalized[i],
			KBID:      h.Record.KBID,
			DocID:     h.Record.DocID,
			SourceTag: r.Name(),
		})
	}
	return out, nil
}
