package postprocess

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbretrieval/core/internal/types"
)

const contextSeparator = "\n\n"

// ExpandContext fetches each surviving hit's neighboring chunks within the
// same document and attaches context_text/context_before/context_after
// (spec §4.6 step 3). Hits whose chunk_index can't be determined are left
// unexpanded. Never crosses a document boundary: the range query is
// scoped to the hit's own doc_id. A total char cap trims the before/after
// context from their outer edges (the parts farthest from the hit) while
// the hit chunk's own text is always kept whole.
func (p *Pipeline) ExpandContext(ctx context.Context, tenantID uint64, hits []*types.RetrieveResult, cfg types.ContextWindowConfig) ([]*types.RetrieveResult, error) {
	if cfg.Before <= 0 && cfg.After <= 0 {
		return hits, nil
	}
	for _, h := range hits {
		idx, ok := h.Metadata["chunk_index"]
		if !ok || h.DocID == "" {
			continue
		}
		center, ok := toInt(idx)
		if !ok {
			continue
		}

		from, to := center-cfg.Before, center+cfg.After
		if from < 0 {
			from = 0
		}
		neighbors, err := p.Chunks.ListChunksByDocIDRange(ctx, tenantID, h.DocID, from, to)
		if err != nil {
			return nil, fmt.Errorf("postprocess: context window for doc %s: %w", h.DocID, err)
		}
		before, after := splitAround(neighbors, center)
		before, after = capWindow(before, after, cfg.MaxChars, len(h.Text))

		h.ContextBefore = joinText(before)
		h.ContextAfter = joinText(after)
		h.ContextText = joinAll(before, h.Text, after)
	}
	return hits, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// splitAround partitions a contiguous chunk-index-ordered neighbor list
// into the chunks strictly before and strictly after center, excluding
// the hit chunk itself.
func splitAround(neighbors []*types.Chunk, center int) (before, after []string) {
	for _, c := range neighbors {
		idx := c.ChunkIndex()
		switch {
		case idx < center:
			before = append(before, c.Text)
		case idx > center:
			after = append(after, c.Text)
		}
	}
	return before, after
}

// capWindow drops whole before/after chunks, starting from the one
// farthest from the hit chunk, until the total expansion (plus the hit
// chunk's own length and its join separators) fits within maxChars. The
// hit chunk is never touched.
func capWindow(before, after []string, maxChars, hitLen int) ([]string, []string) {
	if maxChars <= 0 {
		return before, after
	}
	total := func() int {
		n := hitLen
		for _, s := range before {
			n += len(s) + len(contextSeparator)
		}
		for _, s := range after {
			n += len(s) + len(contextSeparator)
		}
		return n
	}
	for total() > maxChars && (len(before) > 0 || len(after) > 0) {
		switch {
		case len(before) > 0 && len(after) > 0:
			// Drop whichever of the two farthest chunks (first before,
			// last after) is longer, so the window shrinks around the hit.
			if len(before[0]) >= len(after[len(after)-1]) {
				before = before[1:]
			} else {
				after = after[:len(after)-1]
			}
		case len(before) > 0:
			before = before[1:]
		default:
			after = after[:len(after)-1]
		}
	}
	return before, after
}

func joinText(parts []string) string { return strings.Join(parts, contextSeparator) }

func joinAll(before []string, center string, after []string) string {
	all := make([]string, 0, len(before)+1+len(after))
	all = append(all, before...)
	all = append(all, center)
	all = append(all, after...)
	return strings.Join(all, contextSeparator)
}
