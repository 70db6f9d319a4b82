package postprocess

import (
	"context"
	"fmt"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
)

// TrimACL drops every hit whose owning document fails types.PassesACL for
// the caller (spec §4.6 step 1). Documents are batch-fetched once per
// distinct doc_id rather than per hit.
func (p *Pipeline) TrimACL(ctx context.Context, tenantID uint64, hits []*types.RetrieveResult, caller *types.APIKeyIdentity) ([]*types.RetrieveResult, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	if caller == nil {
		return nil, fmt.Errorf("postprocess: ACL trimming requires a caller identity")
	}

	docIDs := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if h.DocID != "" && !seen[h.DocID] {
			seen[h.DocID] = true
			docIDs = append(docIDs, h.DocID)
		}
	}

	docs, err := p.Documents.GetDocumentsByIDs(ctx, tenantID, docIDs)
	if err != nil {
		return nil, fmt.Errorf("postprocess: loading documents for ACL trim: %w", err)
	}
	byID := make(map[string]*types.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	out := make([]*types.RetrieveResult, 0, len(hits))
	for _, h := range hits {
		doc, ok := byID[h.DocID]
		if !ok {
			// Document missing from the relational store (deleted, or a
			// hit whose DocID the retriever never populated): treat as
			// restricted with no ACL, deny-by-default per the same Open
			// Question 3 resolution types.PassesACL applies.
			doc = &types.Document{SensitivityLevel: types.SensitivityRestricted}
		}
		if types.PassesACL(doc, caller) {
			out = append(out, h)
		}
	}

	if len(out) == 0 {
		logger.Warnf(ctx, "[Postprocess] ACL trimming dropped all %d hits for caller %q", len(hits), caller.Identity.User)
		return nil, ErrNoPermission
	}
	return out, nil
}
