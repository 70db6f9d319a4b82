package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// MultiQueryRetriever asks an LLM for num_queries paraphrases, runs the
// base retriever on each, and RRF-merges the results with a consensus
// boost for chunks surfaced by more than one paraphrase (spec §4.5:
// "RRF-merge per-query results; attach generated_queries + per-query
// breakdowns"). The consensus-boost formula is grounded on
// other_examples/Aman-CERP-amanmcp/internal/search/multi_fusion.go's
// MultiRRFFusion ("documents appearing in multiple sub-queries get
// boosted").
type MultiQueryRetriever struct {
	Base            types.Retriever
	LLM             interfaces.LLM
	NumQueries      int
	ConsensusBoost  float64 // fraction added per additional sub-query hit, default 0.1
}

func NewMultiQueryRetriever(base types.Retriever, llm interfaces.LLM, numQueries int) *MultiQueryRetriever {
	if numQueries < 1 {
		numQueries = 1
	}
	return &MultiQueryRetriever{Base: base, LLM: llm, NumQueries: numQueries, ConsensusBoost: 0.1}
}

func (r *MultiQueryRetriever) Name() string { return string(types.MultiQueryRetriever) }

func (r *MultiQueryRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	if r.LLM == nil {
		return nil, fmt.Errorf("retrieval: multi-query retriever requires LLM access")
	}
	paraphrases, err := r.generateParaphrases(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: multi-query generation: %w", err)
	}

	fetchLimit := params.TopK * 2
	if fetchLimit < 20 {
		fetchLimit = 20
	}

	perQuery := make([][]*types.RetrieveResult, len(paraphrases))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range paraphrases {
		i, q := i, q
		g.Go(func() error {
			legCtx, cancel := legTimeout(gctx, params.Config.Timeouts.RetrieverLegMillis)
			defer cancel()
			legParams := params
			legParams.Query = q
			legParams.TopK = fetchLimit
			hits, err := r.Base.Retrieve(legCtx, legParams)
			if err != nil {
				logger.Warnf(ctx, "[MultiQuery] sub-query %d failed, contributing empty: %v", i, err)
				hits = nil
			}
			perQuery[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	fused := r.fuseWithConsensus(perQuery, params.Config.Fusion.RRFK)
	fused = truncate(fused, params.TopK)
	if len(fused) > 0 {
		fused[0].GeneratedQueries = paraphrases
		breakdown := make(map[string]any, len(paraphrases))
		for i, q := range paraphrases {
			breakdown[strconv.Itoa(i)] = map[string]any{"query": q, "hit_count": len(perQuery[i])}
		}
		fused[0].RetrievalDetails = breakdown
	}
	for _, f := range fused {
		f.SourceTag = r.Name()
	}
	return fused, nil
}

// fuseWithConsensus is fuseRRF plus a per-chunk consensus boost
// proportional to how many sub-queries surfaced it.
func (r *MultiQueryRetriever) fuseWithConsensus(perQuery [][]*types.RetrieveResult, k int) []*types.RetrieveResult {
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

	for _, hits := range perQuery {
		for rank, hit := range hits {
			contribution := 1 / float64(k+rank+1)
			if existing, ok := byID[hit.ChunkID]; ok {
				existing.score += contribution
				existing.hits++
			} else {
				merged := *hit
				byID[hit.ChunkID] = &accum{result: &merged, score: contribution, hits: 1}
				order = append(order, hit.ChunkID)
			}
		}
	}

	boost := r.ConsensusBoost
	if boost <= 0 {
		boost = 0.1
	}
	out := make([]*types.RetrieveResult, 0, len(order))
	for _, id := range order {
		a := byID[id]
		if a.hits > 1 {
			a.score *= 1 + boost*float64(a.hits-1)
		}
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

func (r *MultiQueryRetriever) generateParaphrases(ctx context.Context, query string) ([]string, error) {
	prompt := "Rewrite this question as " + strconv.Itoa(r.NumQueries) +
		" different paraphrases that preserve its meaning. Output one per line, no numbering.\n\nQuestion: " + query
	completion, err := r.LLM.Complete(ctx, prompt, 512)
	if err != nil {
		return nil, err
	}
	lines, err := splitNonEmptyLines(completion, r.NumQueries)
	if err != nil {
		return nil, err
	}
	return lines, nil
}
