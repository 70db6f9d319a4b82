// Package dense re-exports the abstract dense-vector-store driver
// contract (spec §6) and collects the concrete drivers
// (qdrant/milvus/pgvector/weaviate/sqlitevec) that implement it
// (SPEC_FULL.md §3, §6). Grounded on
// other_examples/804db6a0_yuewanzhe-WeKnora__internal-types-interfaces-retriever.go.go's
// RetrieveEngineRepository contract (Save/BatchSave/Search/
// DeleteByChunkIDList).
package dense

import (
	"strconv"

	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Store is the interface every dense-store driver implements.
type Store = interfaces.DenseStore

// Filter, Point, Hit are the shared payload shapes (spec §6: "a point =
// {id, vector, payload: ...}").
type Filter = interfaces.DenseFilter
type Point = interfaces.DensePoint
type Hit = interfaces.DenseHit

// CollectionName derives the dense-store collection/index name for a KB
// under the tenant's isolation strategy (spec §4.4): shared KBs all land
// in one collection per embedding dimension; per-tenant isolation gives
// each tenant its own collection; auto defers to the caller's measured
// data volume (SPEC_FULL.md's orchestrator decides the threshold — this
// helper only names the two concrete layouts it can choose between).
func CollectionName(isolation string, tenantID uint64, dim int) string {
	switch isolation {
	case "per-tenant":
		return collectionPrefix(dim) + "_tenant_" + strconv.FormatUint(tenantID, 10)
	default: // "shared", "auto" (auto resolves to shared or per-tenant upstream)
		return collectionPrefix(dim) + "_shared"
	}
}

func collectionPrefix(dim int) string {
	return "kbretrieval_chunks_d" + strconv.Itoa(dim)
}
