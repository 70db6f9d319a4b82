package interfaces

import "context"

// Embedder is the abstract embedding-provider contract (spec §6, §9
// "Embedding, LLM, and rerank providers each satisfy one small interface").
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// LLM is the abstract completion-provider contract used by enrichers and
// composite retrievers (HyDE, multi-query, self-query).
type LLM interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// RerankCandidate is one candidate handed to a rerank provider.
type RerankCandidate struct {
	ID   string
	Text string
}

// RerankResult pairs a candidate ID with its rerank score.
type RerankResult struct {
	ID    string
	Score float64
}

// Reranker is the abstract rerank-provider contract (spec §6).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
	Name() string
}

// Capabilities groups the provider clients a resolved configuration makes
// available, per spec §9's "capability record" design note
// (has_embedding, has_llm, has_rerank).
type Capabilities struct {
	Embedder Embedder
	LLM      LLM
	Reranker Reranker
}

func (c Capabilities) HasEmbedding() bool { return c.Embedder != nil }
func (c Capabilities) HasLLM() bool       { return c.LLM != nil }
func (c Capabilities) HasRerank() bool    { return c.Reranker != nil }
