package types

// VectorRecord is the dense-store payload written per indexed chunk
// (spec §3, §6). It mirrors the vector-store point shape the core's
// abstract driver contract uses: id + vector + payload.
type VectorRecord struct {
	ChunkID  string         `json:"chunk_id"`
	TenantID uint64         `json:"tenant_id"`
	KBID     string         `json:"kb_id"`
	DocID    string         `json:"doc_id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
	ACL      ACL            `json:"acl"`
	Sensitivity SensitivityLevel `json:"sensitivity_level"`
}

// SparseRecord is the lexical-store payload written per indexed chunk when
// the owning KB has sparse indexing enabled (spec §3, §4.4).
type SparseRecord struct {
	ChunkID     string           `json:"chunk_id"`
	TenantID    uint64           `json:"tenant_id"`
	KBID        string           `json:"kb_id"`
	DocID       string           `json:"doc_id"`
	Terms       []string         `json:"terms"`
	ACL         ACL              `json:"acl"`
	Sensitivity SensitivityLevel `json:"sensitivity_level"`
}

// HierarchyNode is one node of an optional per-KB summary tree
// (spec §3). Level 0 nodes are 1:1 with chunks at the time the tree was
// built (spec §3 invariant 4).
type HierarchyNode struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	KBID       string    `gorm:"index" json:"kb_id"`
	Level      int       `json:"level"`
	ChildrenIDs []string `gorm:"serializer:json" json:"children_ids,omitempty"`
	ChunkID    string    `json:"chunk_id,omitempty"` // set only for level 0 leaves
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	BuildEpoch int64     `json:"build_epoch"` // distinguishes concurrent tree builds (spec §4.4)
}

// IsLeaf reports whether this node wraps a chunk directly rather than a
// cluster summary.
func (h *HierarchyNode) IsLeaf() bool { return h.Level == 0 }
