package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
)

// HybridRetriever runs a dense and a sparse leg in parallel and fuses
// them by weighted sum of the already-normalized [0,1] leg scores,
// weighted by the KB's configured dense/sparse balance (spec §4.5:
// hybrid's contract is "weighted sum on [0,1]", distinct from fusion's
// RRF-or-weighted-sum choice, so that weighted_dense + weighted_sparse
// <= 1 whenever the two weights sum to 1 — spec §8 invariant 8).
// Grounded on
// other_examples/Aman-CERP-amanmcp/pkg/searcher/fusion.go's
// hybridSearch: parallel fan-out via errgroup, graceful degradation to
// whichever leg succeeds if the other errors, fail only if both do.
type HybridRetriever struct {
	Dense  *DenseRetriever
	Sparse *SparseRetriever
}

func NewHybridRetriever(dense *DenseRetriever, sparse *SparseRetriever) *HybridRetriever {
	return &HybridRetriever{Dense: dense, Sparse: sparse}
}

func (r *HybridRetriever) Name() string { return string(types.HybridRetriever) }

func (r *HybridRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	fetchLimit := params.TopK * 2
	if fetchLimit < 20 {
		fetchLimit = 20
	}
	legParams := params
	legParams.TopK = fetchLimit

	var denseHits, sparseHits []*types.RetrieveResult
	var denseErr, sparseErr error

	legMillis := params.Config.Timeouts.RetrieverLegMillis
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		legCtx, cancel := legTimeout(gctx, legMillis)
		defer cancel()
		denseHits, denseErr = r.Dense.Retrieve(legCtx, legParams)
		return nil
	})
	g.Go(func() error {
		legCtx, cancel := legTimeout(gctx, legMillis)
		defer cancel()
		sparseHits, sparseErr = r.Sparse.Retrieve(legCtx, legParams)
		return nil
	})
	_ = g.Wait()

	if denseErr != nil && sparseErr != nil {
		return nil, fmt.Errorf("retrieval: hybrid: both legs failed: dense=%v sparse=%v", denseErr, sparseErr)
	}
	if denseErr != nil {
		logger.Warnf(ctx, "[Hybrid] dense leg failed, degrading to sparse only: %v", denseErr)
		return truncate(sparseHits, params.TopK), nil
	}
	if sparseErr != nil {
		logger.Warnf(ctx, "[Hybrid] sparse leg failed, degrading to dense only: %v", sparseErr)
		return truncate(denseHits, params.TopK), nil
	}

	denseWeight, sparseWeight := params.Config.KB.Query.HybridDenseWeight, params.Config.KB.Query.HybridSparseWeight
	if denseWeight <= 0 && sparseWeight <= 0 {
		denseWeight, sparseWeight = 0.5, 0.5
	}
	// fuseWeightedSum treats a non-positive weight as 1, so a leg weighted
	// zero is left out instead of being passed in.
	legs := make([]rankedList, 0, 2)
	if denseWeight > 0 {
		legs = append(legs, rankedList{hits: denseHits, weight: denseWeight})
	}
	if sparseWeight > 0 {
		legs = append(legs, rankedList{hits: sparseHits, weight: sparseWeight})
	}
	fused := fuseWeightedSum(legs)
	for _, f := range fused {
		f.SourceTag = r.Name()
	}
	return truncate(fused, params.TopK), nil
}
