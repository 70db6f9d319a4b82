// Package indexing implements the Indexing Layer (C4): writing a
// document's chunks to the dense/sparse persistence backends and,
// optionally, rebuilding a knowledge base's hierarchical summary tree
// (spec §4.4). Unlike the Operator Registry (C1) categories populated in
// internal/chunking and internal/retrieval, indexers are not constructed
// from an OperatorRef's params alone: they need live per-KB dependencies
// (dense/sparse stores, an embedder, the chunk/hierarchy repositories)
// that aren't decodable from a parameter map, so the ingestion
// orchestrator (C9) constructs them directly rather than resolving them
// through registry.Registry[Indexer]. Only the tunables that genuinely
// are per-KB config (batch size, hierarchical max_levels/min_cluster_size/
// clustering method) travel through KBConfig.Indexer.Params.
package indexing

import (
	"context"

	"github.com/kbretrieval/core/internal/types"
)

// DocumentJob describes one document's worth of indexing work (spec
// §4.4's "standard indexer contract (per document)"). The ACL/sensitivity
// fields are a snapshot the caller (which already loaded the owning
// types.Document) passes down, since the indexer itself has no
// DocumentRepository dependency — it only ever touches chunk rows.
type DocumentJob struct {
	TenantID        uint64
	KBID            string
	DocID           string
	Isolation       string // "shared" | "per-tenant" | "auto"
	Embedding       types.ModelConfig
	SparseEnabled   bool
	ACL             types.ACL
	Sensitivity     types.SensitivityLevel
}

// Indexer is the per-KB operator that turns pending chunk rows into
// vector/sparse records (spec §4.4).
type Indexer interface {
	Name() string
	IndexDocument(ctx context.Context, job DocumentJob) error
}

// RetryableIndexer is implemented by indexers that support the explicit,
// idempotent retry operation spec §4.4's status machine requires for
// failed -> indexing transitions.
type RetryableIndexer interface {
	Indexer
	RetryFailedChunks(ctx context.Context, job DocumentJob) error
}
