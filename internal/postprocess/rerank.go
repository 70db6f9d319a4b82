package postprocess

import (
	"context"
	"fmt"
	"sort"

	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Rerank sends the top-N surviving hits' text to the configured rerank
// provider, replaces their scores, and re-sorts (spec §4.6 step 2). Hits
// beyond topN are left in place, appended after the reranked prefix.
// Visualization fields carried by the pre-rerank top-1 hit are migrated
// onto whichever hit ends up first after re-sorting, so a client always
// sees hyde_queries/generated_queries/semantic_query/parsed_filters/
// retrieval_details regardless of how rerank reordered things.
func (p *Pipeline) Rerank(ctx context.Context, query string, hits []*types.RetrieveResult, topN int) ([]*types.RetrieveResult, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	if topN <= 0 || topN > len(hits) {
		topN = len(hits)
	}
	head, tail := hits[:topN], hits[topN:]

	original := captureVisualizationFields(hits[0])
	clearVisualizationFields(hits[0])

	candidates := make([]interfaces.RerankCandidate, len(head))
	for i, h := range head {
		candidates[i] = interfaces.RerankCandidate{ID: h.ChunkID, Text: h.Text}
	}
	scored, err := p.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("postprocess: rerank: %w", err)
	}
	scoreByID := make(map[string]float64, len(scored))
	for _, s := range scored {
		scoreByID[s.ID] = s.Score
	}
	for _, h := range head {
		if s, ok := scoreByID[h.ChunkID]; ok {
			h.Score = s
		}
	}
	sort.SliceStable(head, func(i, j int) bool { return head[i].Score > head[j].Score })

	out := make([]*types.RetrieveResult, 0, len(hits))
	out = append(out, head...)
	out = append(out, tail...)

	applyVisualizationFields(out[0], original)
	return out, nil
}

type visualizationFields struct {
	hyDEQueries      []string
	generatedQueries []string
	semanticQuery    string
	parsedFilters    map[string]any
	retrievalDetails map[string]any
}

func captureVisualizationFields(h *types.RetrieveResult) visualizationFields {
	return visualizationFields{
		hyDEQueries:      h.HyDEQueries,
		generatedQueries: h.GeneratedQueries,
		semanticQuery:    h.SemanticQuery,
		parsedFilters:    h.ParsedFilters,
		retrievalDetails: h.RetrievalDetails,
	}
}

func clearVisualizationFields(h *types.RetrieveResult) {
	h.HyDEQueries = nil
	h.GeneratedQueries = nil
	h.SemanticQuery = ""
	h.ParsedFilters = nil
	h.RetrievalDetails = nil
}

func applyVisualizationFields(h *types.RetrieveResult, f visualizationFields) {
	h.HyDEQueries = f.hyDEQueries
	h.GeneratedQueries = f.generatedQueries
	h.SemanticQuery = f.semanticQuery
	h.ParsedFilters = f.parsedFilters
	h.RetrievalDetails = f.retrievalDetails
}
