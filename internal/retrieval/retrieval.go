// Package retrieval implements the primitive and composite retrievers of
// spec §4.5 (SPEC_FULL.md §3 component C5). Grounded throughout on
// other_examples/Aman-CERP-amanmcp's pkg/searcher (fusion.go's RRF
// formula and parallel errgroup fan-out) and internal/search
// (multi_fusion.go's consensus-weighted multi-query RRF, decomposer.go's
// sub-query generation shape, expander.go's query-expansion pattern).
package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/kbretrieval/core/internal/types"
)

// DefaultRRFK is the smoothing constant used when a resolved config
// doesn't override it (spec §4.5; also other_examples/Aman-CERP-amanmcp's
// DefaultRRFConstant = 60).
const DefaultRRFK = 60

// rankedList is one retriever leg's ranked hit list, as fuseRRF needs it.
type rankedList struct {
	hits   []*types.RetrieveResult
	weight float64
}

// fuseRRF combines N ranked legs into one ranked list via Reciprocal Rank
// Fusion (spec §4.5: "score(d) = Σ weight_i / (k + rank_i)"), summing
// contributions across legs that agree on a chunk ID. Grounded on
// other_examples/Aman-CERP-amanmcp/pkg/searcher/fusion.go's fuseResults
// and internal/search/multi_fusion.go's weighted variant.
func fuseRRF(legs []rankedList, k int) []*types.RetrieveResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	type accum struct {
		result *types.RetrieveResult
		score  float64
		hits   int
	}
	byID := make(map[string]*accum)
	order := make([]string, 0)

	for _, leg := range legs {
		weight := leg.weight
		if weight <= 0 {
			weight = 1
		}
		for rank, hit := range leg.hits {
			contribution := weight / float64(k+rank+1)
			if existing, ok := byID[hit.ChunkID]; ok {
				existing.score += contribution
				existing.hits++
				if hit.Score > existing.result.Score {
					existing.result.Score = hit.Score
				}
			} else {
				merged := *hit
				byID[hit.ChunkID] = &accum{result: &merged, score: contribution, hits: 1}
				order = append(order, hit.ChunkID)
			}
		}
	}

	out := make([]*types.RetrieveResult, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.result.Score = a.score
		out = append(out, a.result)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID // deterministic tie-break
	})
	return out
}

// fuseWeightedSum combines N ranked legs by summing each leg's
// already-normalized Score times its weight (spec §4.5 fusion/ensemble
// "merge by RRF or weighted sum" alternative to fuseRRF).
func fuseWeightedSum(legs []rankedList) []*types.RetrieveResult {
	type accum struct {
		result *types.RetrieveResult
		score  float64
	}
	byID := make(map[string]*accum)
	order := make([]string, 0)

	for _, leg := range legs {
		weight := leg.weight
		if weight <= 0 {
			weight = 1
		}
		for _, hit := range leg.hits {
			if existing, ok := byID[hit.ChunkID]; ok {
				existing.score += weight * hit.Score
			} else {
				merged := *hit
				byID[hit.ChunkID] = &accum{result: &merged, score: weight * hit.Score}
				order = append(order, hit.ChunkID)
			}
		}
	}

	out := make([]*types.RetrieveResult, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.result.Score = a.score
		out = append(out, a.result)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// legTimeout derives a context bounded by the resolved per-retriever-leg
// deadline (spec §5: "if a base retriever exceeds its timeout, it
// contributes an empty list rather than failing the whole request"), so
// one slow leg degrades independently instead of blocking every leg of a
// composite retriever. A non-positive millis leaves gctx as is.
func legTimeout(gctx context.Context, millis int) (context.Context, context.CancelFunc) {
	if millis <= 0 {
		return gctx, func() {}
	}
	return context.WithTimeout(gctx, time.Duration(millis)*time.Millisecond)
}

// truncate returns at most topK results (spec §4.5 clamps topK to [1,50]
// upstream; this just bounds the already-clamped value against what's
// actually available).
func truncate(results []*types.RetrieveResult, topK int) []*types.RetrieveResult {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}
