package types

// ResolvedConfig is the per-request merge of request overrides, KB config,
// tenant defaults, system defaults, and environment defaults (spec §2,
// GLOSSARY "Resolved configuration"). It is built once per request and
// threaded read-only through C1-C6.
type ResolvedConfig struct {
	KB       KBConfig
	TopK     int
	Rerank   RerankConfig
	Context  ContextWindowConfig
	Fusion   FusionConfig
	Timeouts TimeoutConfig
}

// RerankConfig configures the optional post-processing rerank step
// (spec §4.6).
type RerankConfig struct {
	Enabled bool
	Name    string
	TopN    int
}

// ContextWindowConfig configures post-processing context-window expansion
// (spec §4.6).
type ContextWindowConfig struct {
	Before  int
	After   int
	MaxChars int
}

// FusionConfig configures RRF/weighted-sum merge policy shared by fusion,
// HyDE, multi-query, and ensemble retrievers (spec §4.5).
type FusionConfig struct {
	RRFK       int // default 60
	UseWeighted bool
	// SigmoidThreshold is the absolute threshold subtracted from a raw
	// BM25 score before sigmoid normalization (spec §4.5). The default
	// (DefaultResolvedConfig) approximates a realistic corpus's BM25
	// midpoint so the sigmoid doesn't saturate to ~1.0 for nearly every
	// hit; a KB overrides it via Query.SparseSigmoidThreshold.
	SigmoidThreshold float64
}

// TimeoutConfig holds the per-hop deadlines of spec §5.
type TimeoutConfig struct {
	StorageMillis  int
	ProviderMillis int
	RetrieverLegMillis int
}

// DefaultResolvedConfig returns system defaults layered under everything
// else in the merge order (spec §2).
func DefaultResolvedConfig() ResolvedConfig {
	return ResolvedConfig{
		TopK: 10,
		Rerank: RerankConfig{Enabled: false, TopN: 20},
		Context: ContextWindowConfig{Before: 1, After: 1, MaxChars: 4000},
		Fusion:  FusionConfig{RRFK: 60, SigmoidThreshold: 5},
		Timeouts: TimeoutConfig{
			StorageMillis:      2000,
			ProviderMillis:     8000,
			RetrieverLegMillis: 5000,
		},
	}
}

// ClampTopK enforces the [1, 50] bound of spec §4.5, returning the clamped
// value and whether clamping occurred (the caller emits a warning metric
// when it did).
func ClampTopK(topK int) (int, bool) {
	if topK < 1 {
		return 1, true
	}
	if topK > 50 {
		return 50, true
	}
	return topK, false
}
