// Package postprocess implements the fixed-order post-processing pipeline
// of spec §4.6 (SPEC_FULL.md §3 component C6): ACL security trimming,
// optional rerank, then context-window expansion. Grounded on spec.md
// §4.6 directly (no pack repo implements an equivalent stage) and on the
// teacher's error-handling idiom (internal/apierr-style sentinel errors,
// internal/logger structured logging).
package postprocess

import (
	"context"
	"errors"

	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// ErrNoPermission is returned when ACL trimming drops every hit from a
// non-empty result set (spec §4.6: "if the input was non-empty but the
// output is empty, the caller returns NO_PERMISSION").
var ErrNoPermission = errors.New("postprocess: caller has no permission to view any retrieved hit")

// Pipeline runs the three post-processing stages in spec §4.6's fixed
// order over a retriever's raw hits.
type Pipeline struct {
	Documents interfaces.DocumentRepository
	Chunks    interfaces.ChunkRepository
	Reranker  interfaces.Reranker
}

func NewPipeline(documents interfaces.DocumentRepository, chunks interfaces.ChunkRepository, reranker interfaces.Reranker) *Pipeline {
	return &Pipeline{Documents: documents, Chunks: chunks, Reranker: reranker}
}

// Run applies ACL trimming, then rerank (if configured and enabled), then
// context-window expansion, returning the final hit list handed back to
// the caller.
func (p *Pipeline) Run(ctx context.Context, tenantID uint64, query string, hits []*types.RetrieveResult, cfg types.ResolvedConfig, caller *types.APIKeyIdentity) ([]*types.RetrieveResult, error) {
	trimmed, err := p.TrimACL(ctx, tenantID, hits, caller)
	if err != nil {
		return nil, err
	}
	if len(trimmed) == 0 {
		return trimmed, nil
	}

	reranked := trimmed
	if cfg.Rerank.Enabled && p.Reranker != nil {
		reranked, err = p.Rerank(ctx, query, trimmed, cfg.Rerank.TopN)
		if err != nil {
			return nil, err
		}
	}

	return p.ExpandContext(ctx, tenantID, reranked, cfg.Context)
}
