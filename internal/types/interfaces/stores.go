package interfaces

import (
	"context"

	"github.com/kbretrieval/core/internal/types"
)

// DenseFilter scopes a dense-store search/delete to a tenant and a set of
// knowledge bases (spec §6 "search(collection, query_vector, top_k,
// filter)").
type DenseFilter struct {
	TenantID uint64
	KBIDs    []string
	DocIDs   []string // optional, narrows further (e.g. context-window lookups)
}

// DensePoint is one upserted dense-store record (spec §6 "a point =
// {id, vector, payload: ...}").
type DensePoint struct {
	ID       string
	Vector   []float32
	Record   types.VectorRecord
}

// DenseHit is one dense-store search result.
type DenseHit struct {
	ID     string
	Score  float64
	Record types.VectorRecord
}

// DenseStore is the abstract dense-vector-store driver contract (spec §6).
// Every concrete driver (Qdrant, Milvus, pgvector, Weaviate, sqlite-vec)
// implements this.
type DenseStore interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []DensePoint) error
	Search(ctx context.Context, collection string, queryVector []float32, topK int, filter DenseFilter) ([]DenseHit, error)
	DeleteByFilter(ctx context.Context, collection string, filter DenseFilter) error
	Name() string
}

// SparseFilter scopes a sparse-store search/delete (spec §6).
type SparseFilter struct {
	TenantID uint64
	KBIDs    []string
}

// SparseHit is one lexical-search result with its raw (unbounded) BM25
// score — callers must normalize before mixing with dense scores
// (spec §4.5 "BM25 normalization").
type SparseHit struct {
	ChunkID string
	RawScore float64
	Record   types.SparseRecord
}

// SparseStore is the abstract lexical/BM25 store driver contract
// (spec §6).
type SparseStore interface {
	Index(ctx context.Context, record types.SparseRecord) error
	Search(ctx context.Context, queryTerms []string, filter SparseFilter, topK int) ([]SparseHit, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Name() string
}
