package types

import "time"

// ModelConfig names a provider+model pair for one model capability
// (embedding, LLM, rerank). Dimension is fixed per embedding provider/model
// (spec §6) and is part of the KB-config-immutability invariant (spec §3
// invariant 5).
type ModelConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension,omitempty"`
}

// OperatorRef names one registered operator plus its parameter map, the
// shape the Operator Registry (C1) consumes (spec §4.1).
type OperatorRef struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// KBConfig is a knowledge base's pluggable pipeline configuration. It is
// mutable except for Embedding once the KB has an indexed document
// (spec §3, invariant 5).
type KBConfig struct {
	Chunker       OperatorRef   `json:"chunker"`
	Enrichers     []OperatorRef `json:"enrichers,omitempty"`
	Indexer       OperatorRef   `json:"indexer"`
	Retriever     OperatorRef   `json:"retriever"`
	Embedding     ModelConfig   `json:"embedding"`
	Query         QueryConfig   `json:"query,omitempty"`
	SparseEnabled bool          `json:"sparse_enabled"`
}

// QueryConfig holds retrieval-time knobs that are safe to change even
// after documents are indexed (top_k defaults, rerank toggles, etc.) —
// distinguished from Embedding specifically so PATCHes that touch only
// this sub-struct always succeed (spec §8, scenario S5).
type QueryConfig struct {
	DefaultTopK  int     `json:"default_top_k,omitempty"`
	RerankName   string  `json:"rerank_name,omitempty"`
	HybridDenseWeight  float64 `json:"hybrid_dense_weight,omitempty"`
	HybridSparseWeight float64 `json:"hybrid_sparse_weight,omitempty"`
	// SparseSigmoidThreshold shifts sigmoid BM25 normalization (spec §4.5:
	// "1 / (1 + exp(-(raw - threshold)))"), recommended when mixing sparse
	// scores with dense. Zero means "use the system default", not "no
	// shift" — see ResolvedConfig.Fusion.SigmoidThreshold.
	SparseSigmoidThreshold float64 `json:"sparse_sigmoid_threshold,omitempty"`
}

// Equal reports whether two ModelConfig values describe the same
// provider/model/dimension — the comparison the embedding-change guard
// (spec §8 invariant 7) runs before rejecting a config update.
func (m ModelConfig) Equal(other ModelConfig) bool {
	return m.Provider == other.Provider && m.Model == other.Model && m.Dimension == other.Dimension
}

// KnowledgeBase is a tenant-owned collection of documents sharing one
// pipeline configuration (spec §3).
type KnowledgeBase struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TenantID  uint64    `gorm:"index" json:"tenant_id"`
	Config    KBConfig  `gorm:"serializer:json" json:"config"`
	DocCount  int64     `json:"doc_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
