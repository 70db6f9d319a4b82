package relational

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// APIKeyRow is the relational row for an API key identity (spec §3
// "API Key Identity"). types.APIKeyIdentity itself carries no gorm tags
// (it's a pure value type shared with non-relational callers), so this
// package maps between the two at the repository boundary.
type APIKeyRow struct {
	KeyID    string            `gorm:"primaryKey;column:key_id"`
	TenantID uint64            `gorm:"column:tenant_id"`
	Role     string            `gorm:"column:role"`
	KBScope  []string          `gorm:"serializer:json;column:kb_scope"`
	Identity types.Identity    `gorm:"serializer:json;column:identity"`
}

func (APIKeyRow) TableName() string { return "api_keys" }

func (r APIKeyRow) toIdentity() *types.APIKeyIdentity {
	return &types.APIKeyIdentity{
		KeyID: r.KeyID, TenantID: r.TenantID, Role: types.Role(r.Role),
		KBScope: r.KBScope, Identity: r.Identity,
	}
}

// ChunkRepo implements interfaces.ChunkRepository over gorm.
type ChunkRepo struct{ db *gorm.DB }

func NewChunkRepo(db *gorm.DB) *ChunkRepo { return &ChunkRepo{db: db} }

var _ interfaces.ChunkRepository = (*ChunkRepo)(nil)

func (r *ChunkRepo) CreateChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&chunks).Error
}

func (r *ChunkRepo) GetChunkByID(ctx context.Context, tenantID uint64, id string) (*types.Chunk, error) {
	var c types.Chunk
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.DocNotFound, "chunk not found")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChunkRepo) ListChunksByID(ctx context.Context, tenantID uint64, ids []string) ([]*types.Chunk, error) {
	var out []*types.Chunk
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&out).Error
	return out, err
}

func (r *ChunkRepo) ListChunksByDocID(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	var out []*types.Chunk
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND doc_id = ?", tenantID, docID).Order("ordinal asc").Find(&out).Error
	return out, err
}

func (r *ChunkRepo) ListChunksByDocIDRange(ctx context.Context, tenantID uint64, docID string, fromIndex, toIndex int) ([]*types.Chunk, error) {
	var out []*types.Chunk
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND doc_id = ? AND ordinal BETWEEN ? AND ?", tenantID, docID, fromIndex, toIndex).
		Order("ordinal asc").Find(&out).Error
	return out, err
}

func (r *ChunkRepo) ListChunksByParentID(ctx context.Context, tenantID uint64, parentID string) ([]*types.Chunk, error) {
	var all []*types.Chunk
	// parent_id lives inside the serialized metadata map, so this is a
	// relational-store concern that can't be pushed into a plain WHERE
	// column filter portably across SQLite/Postgres JSON functions; filter
	// in-process instead, scoped first by tenant for selectivity.
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&all).Error; err != nil {
		return nil, err
	}
	var out []*types.Chunk
	for _, c := range all {
		if c.ParentID() == parentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *ChunkRepo) UpdateChunk(ctx context.Context, chunk *types.Chunk) error {
	return r.db.WithContext(ctx).Save(chunk).Error
}

func (r *ChunkRepo) UpdateChunks(ctx context.Context, chunks []*types.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range chunks {
			if err := tx.Save(c).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChunkRepo) DeleteChunksByDocID(ctx context.Context, tenantID uint64, docID string) error {
	return r.db.WithContext(ctx).Where("tenant_id = ? AND doc_id = ?", tenantID, docID).Delete(&types.Chunk{}).Error
}

func (r *ChunkRepo) CountChunksByKBID(ctx context.Context, tenantID uint64, kbID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&types.Chunk{}).Where("tenant_id = ? AND kb_id = ?", tenantID, kbID).Count(&count).Error
	return count, err
}

func (r *ChunkRepo) ListIndexedChunksByKBID(ctx context.Context, tenantID uint64, kbID string) ([]*types.Chunk, error) {
	var out []*types.Chunk
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND kb_id = ? AND indexing_status = ?", tenantID, kbID, types.IndexingIndexed).
		Order("ordinal asc").Find(&out).Error
	return out, err
}

func (r *ChunkRepo) ListFailedChunks(ctx context.Context, tenantID uint64, docID string) ([]*types.Chunk, error) {
	var out []*types.Chunk
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND doc_id = ? AND indexing_status = ?", tenantID, docID, types.IndexingFailed).
		Find(&out).Error
	return out, err
}

// DocumentRepo implements interfaces.DocumentRepository over gorm.
type DocumentRepo struct{ db *gorm.DB }

func NewDocumentRepo(db *gorm.DB) *DocumentRepo { return &DocumentRepo{db: db} }

var _ interfaces.DocumentRepository = (*DocumentRepo)(nil)

func (r *DocumentRepo) CreateDocument(ctx context.Context, doc *types.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *DocumentRepo) GetDocumentByID(ctx context.Context, tenantID uint64, id string) (*types.Document, error) {
	var d types.Document
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.DocNotFound, "document not found")
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepo) GetDocumentsByIDs(ctx context.Context, tenantID uint64, ids []string) ([]*types.Document, error) {
	var out []*types.Document
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&out).Error
	return out, err
}

func (r *DocumentRepo) UpdateDocument(ctx context.Context, doc *types.Document) error {
	return r.db.WithContext(ctx).Save(doc).Error
}

// DeleteDocumentCascade deletes a document and every chunk/hierarchy
// record it owns (spec §3 invariant 7). Vector/sparse record deletion is
// the indexing layer's job (it holds the dense/sparse store handles); this
// method only removes the relational rows the core owns directly.
func (r *DocumentRepo) DeleteDocumentCascade(ctx context.Context, tenantID uint64, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND doc_id = ?", tenantID, id).Delete(&types.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&types.Document{}).Error
	})
}

// KnowledgeBaseRepo implements interfaces.KnowledgeBaseRepository.
type KnowledgeBaseRepo struct{ db *gorm.DB }

func NewKnowledgeBaseRepo(db *gorm.DB) *KnowledgeBaseRepo { return &KnowledgeBaseRepo{db: db} }

var _ interfaces.KnowledgeBaseRepository = (*KnowledgeBaseRepo)(nil)

func (r *KnowledgeBaseRepo) GetKBWithConfig(ctx context.Context, tenantID uint64, kbID string) (*types.KnowledgeBase, error) {
	var kb types.KnowledgeBase
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, kbID).First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.KBNotFound, "knowledge base not found")
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (r *KnowledgeBaseRepo) UpdateKBConfig(ctx context.Context, kb *types.KnowledgeBase) error {
	return r.db.WithContext(ctx).Save(kb).Error
}

func (r *KnowledgeBaseRepo) IncrementDocCount(ctx context.Context, kbID string, delta int64) error {
	return r.db.WithContext(ctx).Model(&types.KnowledgeBase{}).
		Where("id = ?", kbID).
		UpdateColumn("doc_count", gorm.Expr("doc_count + ?", delta)).Error
}

// TenantRepo implements interfaces.TenantRepository.
type TenantRepo struct{ db *gorm.DB }

func NewTenantRepo(db *gorm.DB) *TenantRepo { return &TenantRepo{db: db} }

var _ interfaces.TenantRepository = (*TenantRepo)(nil)

func (r *TenantRepo) GetTenant(ctx context.Context, tenantID uint64) (*types.Tenant, error) {
	var t types.Tenant
	err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.InternalError, "tenant not found")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IdentityRepo implements interfaces.IdentityRepository.
type IdentityRepo struct{ db *gorm.DB }

func NewIdentityRepo(db *gorm.DB) *IdentityRepo { return &IdentityRepo{db: db} }

var _ interfaces.IdentityRepository = (*IdentityRepo)(nil)

func (r *IdentityRepo) GetAPIKeyWithIdentity(ctx context.Context, keyID string) (*types.APIKeyIdentity, error) {
	var row APIKeyRow
	err := r.db.WithContext(ctx).Where("key_id = ?", keyID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.New(apierr.ValidationError, "unknown api key")
	}
	if err != nil {
		return nil, err
	}
	return row.toIdentity(), nil
}

// HierarchyRepo implements interfaces.HierarchyRepository.
type HierarchyRepo struct{ db *gorm.DB }

func NewHierarchyRepo(db *gorm.DB) *HierarchyRepo { return &HierarchyRepo{db: db} }

var _ interfaces.HierarchyRepository = (*HierarchyRepo)(nil)

// ReplaceTree atomically swaps a KB's hierarchy tree for a new one (spec
// §4.4: "a rebuild replaces the whole tree atomically from the caller's
// perspective; old tree remains queryable until the new one is
// committed"). Implemented by inserting the new nodes first, then deleting
// everything with an older build_epoch inside the same transaction, so
// readers outside the transaction never see a KB with zero nodes.
func (r *HierarchyRepo) ReplaceTree(ctx context.Context, kbID string, nodes []*types.HierarchyNode) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(nodes) > 0 {
			if err := tx.Create(&nodes).Error; err != nil {
				return err
			}
		}
		epoch := int64(0)
		if len(nodes) > 0 {
			epoch = nodes[0].BuildEpoch
		}
		return tx.Where("kb_id = ? AND build_epoch < ?", kbID, epoch).Delete(&types.HierarchyNode{}).Error
	})
}

func (r *HierarchyRepo) ListTree(ctx context.Context, kbID string) ([]*types.HierarchyNode, error) {
	var out []*types.HierarchyNode
	err := r.db.WithContext(ctx).Where("kb_id = ?", kbID).Find(&out).Error
	return out, err
}

func (r *HierarchyRepo) ListByLevel(ctx context.Context, kbID string, level int) ([]*types.HierarchyNode, error) {
	var out []*types.HierarchyNode
	err := r.db.WithContext(ctx).Where("kb_id = ? AND level = ?", kbID, level).Find(&out).Error
	return out, err
}
