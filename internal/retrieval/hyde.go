package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// HyDERetriever implements Hypothetical Document Embeddings (spec §4.5):
// ask an LLM for num_queries hypothetical answers, run the base retriever
// against each (and optionally the original query), RRF-merge, and attach
// hyde_queries to the top result for visibility.
type HyDERetriever struct {
	Base          types.Retriever
	LLM           interfaces.LLM
	NumQueries    int
	IncludeOriginal bool
}

func NewHyDERetriever(base types.Retriever, llm interfaces.LLM, numQueries int, includeOriginal bool) *HyDERetriever {
	if numQueries < 1 {
		numQueries = 1
	}
	return &HyDERetriever{Base: base, LLM: llm, NumQueries: numQueries, IncludeOriginal: includeOriginal}
}

func (r *HyDERetriever) Name() string { return string(types.HyDERetriever) }

func (r *HyDERetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	if r.LLM == nil {
		return nil, fmt.Errorf("retrieval: hyde retriever requires LLM access")
	}
	hypotheticals, err := r.generateHypotheticals(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: hyde generation: %w", err)
	}

	queries := hypotheticals
	if r.IncludeOriginal {
		queries = append([]string{params.Query}, hypotheticals...)
	}

	fetchLimit := params.TopK * 2
	if fetchLimit < 20 {
		fetchLimit = 20
	}

	legs := make([]rankedList, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			legCtx, cancel := legTimeout(gctx, params.Config.Timeouts.RetrieverLegMillis)
			defer cancel()
			legParams := params
			legParams.Query = q
			legParams.TopK = fetchLimit
			hits, err := r.Base.Retrieve(legCtx, legParams)
			if err != nil {
				logger.Warnf(ctx, "[HyDE] base leg %d failed, contributing empty: %v", i, err)
				hits = nil
			}
			legs[i] = rankedList{hits: hits, weight: 1}
			return nil
		})
	}
	_ = g.Wait()

	fused := fuseRRF(legs, params.Config.Fusion.RRFK)
	fused = truncate(fused, params.TopK)
	if len(fused) > 0 {
		fused[0].HyDEQueries = hypotheticals
	}
	for _, f := range fused {
		f.SourceTag = r.Name()
	}
	return fused, nil
}

func (r *HyDERetriever) generateHypotheticals(ctx context.Context, query string) ([]string, error) {
	prompt := "Write " + strconv.Itoa(r.NumQueries) +
		" short, plausible passages that would directly answer this question. " +
		"Output one passage per line, no numbering.\n\nQuestion: " + query
	completion, err := r.LLM.Complete(ctx, prompt, 512)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(completion, r.NumQueries)
}

func splitNonEmptyLines(text string, limit int) ([]string, error) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("retrieval: LLM returned no usable lines")
	}
	return out, nil
}
