package retrieval

import (
	"context"
	"fmt"

	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// ParentDocumentRetriever runs the base retriever and resolves each hit's
// parent chunk through the hit's parent_id metadata (spec §4.5); when the
// parent cannot be loaded it falls back to the child and sets
// ParentNotFound. The base retriever's hits are not restricted to child
// chunks: a hit with no parent_id, such as a parent chunk itself, is
// returned as is with ParentNotFound set. Requires the KB's chunker to be
// parent-child (spec §4.5 Requirements column).
type ParentDocumentRetriever struct {
	Base       types.Retriever
	Chunks     interfaces.ChunkRepository
	ReturnMode ParentReturnMode
}

type ParentReturnMode string

const (
	ParentOnly         ParentReturnMode = "parent_only"
	ParentWithChildren ParentReturnMode = "parent_with_children"
)

func NewParentDocumentRetriever(base types.Retriever, chunks interfaces.ChunkRepository, mode ParentReturnMode) *ParentDocumentRetriever {
	if mode == "" {
		mode = ParentOnly
	}
	return &ParentDocumentRetriever{Base: base, Chunks: chunks, ReturnMode: mode}
}

func (r *ParentDocumentRetriever) Name() string { return string(types.ParentDocumentRetriever) }

func (r *ParentDocumentRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	childHits, err := r.Base.Retrieve(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("retrieval: parent-document base retrieve: %w", err)
	}

	seenParents := make(map[string]bool)
	out := make([]*types.RetrieveResult, 0, len(childHits))
	for _, child := range childHits {
		parentID, _ := child.Metadata["parent_id"].(string)
		if parentID == "" {
			child.ParentNotFound = true
			child.SourceTag = r.Name()
			out = append(out, child)
			continue
		}

		parent, err := r.Chunks.GetChunkByID(ctx, params.TenantID, parentID)
		if err != nil || parent == nil {
			child.ParentNotFound = true
			child.SourceTag = r.Name()
			out = append(out, child)
			continue
		}

		if r.ReturnMode == ParentWithChildren {
			result := &types.RetrieveResult{
				ChunkID: parent.ID, Text: parent.Text, Score: child.Score,
				Metadata: parent.Metadata, KBID: parent.KBID, DocID: parent.DocID,
				Ordinal: parent.ChunkIndex(), SourceTag: r.Name(),
				RetrievalDetails: map[string]any{"matched_child_id": child.ChunkID},
			}
			out = append(out, result)
			continue
		}

		if seenParents[parent.ID] {
			continue // parent_only mode: dedup multiple matched children of one parent
		}
		seenParents[parent.ID] = true
		out = append(out, &types.RetrieveResult{
			ChunkID: parent.ID, Text: parent.Text, Score: child.Score,
			Metadata: parent.Metadata, KBID: parent.KBID, DocID: parent.DocID,
			Ordinal: parent.ChunkIndex(), SourceTag: r.Name(),
		})
	}
	return truncate(out, params.TopK), nil
}
