// Package interfaces collects the repository/service contracts the
// ingestion and retrieval orchestrators depend on, kept separate from
// internal/types so storage-layer packages can implement them without
// importing the orchestration packages (mirrors the teacher's split
// between internal/types and internal/types/interfaces).
package interfaces

import (
	"context"

	"github.com/kbretrieval/core/internal/types"
)

// ChunkRepository is the relational store's chunk-facing contract
// (spec §6 "Relational: ... list_chunks_for_document ...").
type ChunkRepository interface {
	CreateChunks(ctx context.Context, chunks []*types.Chunk) error
	GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error)
	ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error)
	ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error)
	// ListChunksByDocIDRange returns chunks of docID whose chunk_index lies
	// in [fromIndex, toIndex] inclusive, ordered ascending — the query
	// post-processing's context-window expansion uses (spec §4.6).
	ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error)
	ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error)
	UpdateChunk(ctx context.Context, chunk *types.Chunk) error
	UpdateChunks(ctx context.Context, chunks []*types.Chunk) error
	DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error
	CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error)
	// ListIndexedChunksByKBID lists all indexed chunks of a KB, used as the
	// leaf set for hierarchical-tree builds (spec §4.4).
	ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error)
	// ListFailedChunks lists chunks eligible for retry_failed_chunks
	// (spec §4.4 status machine).
	ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error)
}

// DocumentRepository is the relational store's document-facing contract.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocumentByID(ctx context.Context, tenantID uint64, id string) (*types.Document, error)
	GetDocumentsByIDs(ctx context.Context, tenantID uint64, ids []string) ([]*types.Document, error)
	UpdateDocument(ctx context.Context, doc *types.Document) error
	DeleteDocumentCascade(ctx context.Context, tenantID uint64, id string) error
}

// KnowledgeBaseRepository is the relational store's KB-facing contract.
type KnowledgeBaseRepository interface {
	GetKBWithConfig(ctx context.Context, tenantID uint64, kbID string) (*types.KnowledgeBase, error)
	UpdateKBConfig(ctx context.Context, kb *types.KnowledgeBase) error
	IncrementDocCount(ctx context.Context, kbID string, delta int64) error
}

// TenantRepository is the relational store's tenant-facing contract.
type TenantRepository interface {
	GetTenant(ctx context.Context, tenantID uint64) (*types.Tenant, error)
}

// IdentityRepository resolves a presented API key to its full identity
// (spec §6 "get_api_key_with_identity"); the core treats this as read-only.
type IdentityRepository interface {
	GetAPIKeyWithIdentity(ctx context.Context, keyID string) (*types.APIKeyIdentity, error)
}

// HierarchyRepository stores/retrieves the optional per-KB summary tree
// (spec §3 "Hierarchy Node", §4.4).
type HierarchyRepository interface {
	ReplaceTree(ctx context.Context, kbID string, nodes []*types.HierarchyNode) error
	ListTree(ctx context.Context, kbID string) ([]*types.HierarchyNode, error)
	ListByLevel(ctx context.Context, kbID string, level int) ([]*types.HierarchyNode, error)
}
