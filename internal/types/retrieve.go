package types

import "context"

// RetrieverType distinguishes the primitive retrieval mechanisms a
// composite retriever can compose over (spec §4.5). Grounded on
// other_examples' yuewanzhe-WeKnora RetrieverType/RetrieverEngineType enum
// shape.
type RetrieverType string

const (
	DenseRetriever           RetrieverType = "dense"
	SparseRetriever          RetrieverType = "sparse"
	HybridRetriever          RetrieverType = "hybrid"
	FusionRetriever          RetrieverType = "fusion"
	HyDERetriever            RetrieverType = "hyde"
	MultiQueryRetriever      RetrieverType = "multi_query"
	SelfQueryRetriever       RetrieverType = "self_query"
	ParentDocumentRetriever  RetrieverType = "parent_document"
	EnsembleRetriever        RetrieverType = "ensemble"
	HierarchicalTreeRetriever RetrieverType = "hierarchical_tree"
)

// RetrieveParams is the input to a retriever (spec §4.5).
type RetrieveParams struct {
	Query    string
	TenantID uint64
	KBIDs    []string
	TopK     int
	Caller   *APIKeyIdentity
	Config   ResolvedConfig
}

// RetrieveResult is one ranked hit a retriever returns (spec §4.5).
type RetrieveResult struct {
	ChunkID    string
	Text       string
	Score      float64
	Metadata   map[string]any
	KBID       string
	DocID      string
	SourceTag  string
	Ordinal    int

	// Visualization fields, populated by composite retrievers and migrated
	// across rerank (spec §4.6).
	HyDEQueries       []string       `json:"hyde_queries,omitempty"`
	GeneratedQueries  []string       `json:"generated_queries,omitempty"`
	SemanticQuery     string         `json:"semantic_query,omitempty"`
	ParsedFilters     map[string]any `json:"parsed_filters,omitempty"`
	RetrievalDetails  map[string]any `json:"retrieval_details,omitempty"`

	// Set by the parent-document retriever when no parent chunk could be
	// resolved for a matched child (spec §4.5).
	ParentNotFound bool `json:"parent_not_found,omitempty"`

	// Set by hierarchical-tree retrieval (spec §4.5).
	Level int `json:"level,omitempty"`

	// Populated by post-processing's context-window expansion (spec §4.6).
	ContextText   string `json:"context_text,omitempty"`
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// ModelDescriptor identifies which providers/models served a retrieval
// request, part of the result contract (spec §6).
type ModelDescriptor struct {
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	LLMProvider       string `json:"llm_provider,omitempty"`
	LLMModel          string `json:"llm_model,omitempty"`
	RerankProvider    string `json:"rerank_provider,omitempty"`
	RerankModel       string `json:"rerank_model,omitempty"`
	Retriever         string `json:"retriever"`
}

// RetrieveResponse is what the core hands back to a caller (spec §6).
type RetrieveResponse struct {
	Hits  []*RetrieveResult `json:"hits"`
	Model ModelDescriptor   `json:"model"`
}

// Retriever is the interface every primitive and composite retrieval
// strategy implements (spec §4.5). Grounded on other_examples'
// yuewanzhe-WeKnora RetrieveEngine.Retrieve shape.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, params RetrieveParams) ([]*RetrieveResult, error)
}

// IndexInfo is the per-chunk payload handed to an indexer/retrieve-engine
// pairing during ingestion (spec §4.4, §6). Grounded on other_examples'
// yuewanzhe-WeKnora types.IndexInfo usage in the hybrid indexer.
type IndexInfo struct {
	ChunkID  string
	SourceID string
	TenantID uint64
	KBID     string
	DocID    string
	Content  string
	Metadata map[string]any
	ACL      ACL
	Sensitivity SensitivityLevel
}
