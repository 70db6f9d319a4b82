// Package sparse collects the lexical/BM25 store drivers implementing
// the abstract contract in spec §6 (SPEC_FULL.md §3). Grounded on
// other_examples/Aman-CERP-amanmcp's internal/store/bm25.go +
// pkg/indexer/bm25.go (BM25 index wraps a Store interface operating on
// pre-tokenized content, thread-safe via sync.RWMutex, Index/Search/
// Delete/Stats/Close shape) and its pkg/searcher/fusion.go (RRF scoring
// over ranked result lists, reused later by internal/retrieval).
package sparse

import (
	"math"

	"github.com/kbretrieval/core/internal/types/interfaces"
)

type Store = interfaces.SparseStore
type Filter = interfaces.SparseFilter
type Hit = interfaces.SparseHit

// NormalizeMode selects how raw BM25 scores get mapped into [0, 1] before
// fusion with dense-store cosine similarities (spec §4.5).
type NormalizeMode string

const (
	NormalizeSigmoid NormalizeMode = "sigmoid"
	NormalizeMinMax  NormalizeMode = "min_max"
)

// Normalize maps a batch of raw BM25 scores into [0, 1], using the
// configured mode; it returns a new slice and leaves scores unchanged. sigmoid is stable for a single query (no
// cross-batch coupling) and shifts by threshold before squashing (spec
// §4.5: "1 / (1 + exp(-(raw - threshold)))", configurable since raw BM25
// scores commonly run well above the unshifted sigmoid's useful range
// and would otherwise saturate to ~1.0 for nearly every hit); min_max
// needs the full batch to define its range and degrades to all-zero when
// every score is equal (spec §4.5 "zero-variance" edge case: it returns
// the natural zero rather than panicking or dividing by an epsilon).
func Normalize(mode NormalizeMode, scores []float64, threshold float64) []float64 {
	out := make([]float64, len(scores))
	switch mode {
	case NormalizeMinMax:
		if len(scores) == 0 {
			return out
		}
		min, max := scores[0], scores[0]
		for _, s := range scores {
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		if max == min {
			return out // all zero: no signal to distinguish candidates
		}
		for i, s := range scores {
			out[i] = (s - min) / (max - min)
		}
	default: // sigmoid
		for i, s := range scores {
			out[i] = sigmoid(s - threshold)
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
