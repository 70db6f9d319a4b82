package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
)

// WeightedRetriever pairs a retriever leg with its merge weight, the unit
// FusionRetriever composes over — it backs both the "fusion" and
// "ensemble" operator-registry entries (spec §4.5: both merge an
// arbitrary list of weighted retrievers by RRF or weighted sum; they
// differ only in name/intent, not mechanism).
type WeightedRetriever struct {
	Retriever types.Retriever
	Weight    float64
}

// FusionRetriever runs an arbitrary set of retriever legs in parallel and
// merges them by RRF or weighted sum depending on the resolved config
// (spec §4.5 "merge by Reciprocal-Rank Fusion ... or weighted sum").
// Grounded on other_examples/Aman-CERP-amanmcp/pkg/searcher/fusion.go's
// errgroup fan-out + graceful degradation shape.
type FusionRetriever struct {
	Legs       []WeightedRetriever
	RetrieverName string // "fusion" or "ensemble"; defaults to "fusion"
}

func NewFusionRetriever(name string, legs ...WeightedRetriever) *FusionRetriever {
	if name == "" {
		name = string(types.FusionRetriever)
	}
	return &FusionRetriever{Legs: legs, RetrieverName: name}
}

func (r *FusionRetriever) Name() string { return r.RetrieverName }

func (r *FusionRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	if len(r.Legs) == 0 {
		return nil, fmt.Errorf("retrieval: %s retriever has no legs configured", r.Name())
	}
	fetchLimit := params.TopK * 2
	if fetchLimit < 20 {
		fetchLimit = 20
	}
	legParams := params
	legParams.TopK = fetchLimit

	results := make([][]*types.RetrieveResult, len(r.Legs))
	errs := make([]error, len(r.Legs))

	g, gctx := errgroup.WithContext(ctx)
	for i, leg := range r.Legs {
		i, leg := i, leg
		g.Go(func() error {
			legCtx, cancel := legTimeout(gctx, params.Config.Timeouts.RetrieverLegMillis)
			defer cancel()
			results[i], errs[i] = leg.Retriever.Retrieve(legCtx, legParams)
			return nil
		})
	}
	_ = g.Wait()

	ranked := make([]rankedList, 0, len(r.Legs))
	failures := 0
	for i, leg := range r.Legs {
		if errs[i] != nil {
			logger.Warnf(ctx, "[%s] leg %s failed, degrading: %v", r.Name(), leg.Retriever.Name(), errs[i])
			failures++
			continue
		}
		ranked = append(ranked, rankedList{hits: results[i], weight: leg.Weight})
	}
	if failures == len(r.Legs) {
		return nil, fmt.Errorf("retrieval: %s: all %d legs failed", r.Name(), len(r.Legs))
	}

	var fused []*types.RetrieveResult
	if params.Config.Fusion.UseWeighted {
		fused = fuseWeightedSum(ranked)
	} else {
		fused = fuseRRF(ranked, params.Config.Fusion.RRFK)
	}
	for _, f := range fused {
		f.SourceTag = r.Name()
	}
	return truncate(fused, params.TopK), nil
}
