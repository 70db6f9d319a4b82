package types

import "time"

// IndexingStatus is the per-chunk status machine of spec §4.4:
// pending -> indexing -> {indexed | failed}; failed -> indexing only via
// an explicit retry.
type IndexingStatus string

const (
	IndexingPending  IndexingStatus = "pending"
	IndexingRunning  IndexingStatus = "indexing"
	IndexingIndexed  IndexingStatus = "indexed"
	IndexingFailed   IndexingStatus = "failed"
)

// Chunk is the atomic retrieval unit (spec §3, GLOSSARY). Metadata carries
// at least chunk_index and, depending on the chunker, structural
// annotations (heading path, language/block-kind, parent_id/child).
type Chunk struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	TenantID       uint64         `gorm:"index" json:"tenant_id"`
	KBID           string         `gorm:"index" json:"kb_id"`
	DocID          string         `gorm:"index" json:"doc_id"`
	Ordinal        int            `json:"ordinal"`
	Text           string         `json:"text"`
	EnrichedText   *string        `json:"enriched_text,omitempty"`
	Metadata       map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	IndexingStatus IndexingStatus `json:"indexing_status"`
	IndexingError  *string        `json:"indexing_error,omitempty"`
	RetryCount     int            `json:"retry_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EmbeddingInput returns the text the embedding provider should consume:
// enriched_text when present, else the original text (spec §4.3).
func (c *Chunk) EmbeddingInput() string {
	if c.EnrichedText != nil && *c.EnrichedText != "" {
		return *c.EnrichedText
	}
	return c.Text
}

// ChunkIndex reads the chunk_index metadata field every chunker variant is
// required to set (spec §4.2).
func (c *Chunk) ChunkIndex() int {
	if c.Metadata == nil {
		return c.Ordinal
	}
	if v, ok := c.Metadata["chunk_index"]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return c.Ordinal
}

// IsChild reports whether this chunk is a parent-child chunker's child
// node (spec §3 invariant 6, §4.2).
func (c *Chunk) IsChild() bool {
	if c.Metadata == nil {
		return false
	}
	b, _ := c.Metadata["child"].(bool)
	return b
}

// ParentID reads the parent_id structural metadata field set by the
// parent-child chunker.
func (c *Chunk) ParentID() string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata["parent_id"].(string)
	return s
}

// CanRetryIndexing enforces the retry cap referenced in spec §4.4's status
// machine ("cap retry_count").
const MaxIndexingRetries = 5

func (c *Chunk) CanRetryIndexing() bool {
	return c.IndexingStatus == IndexingFailed && c.RetryCount < MaxIndexingRetries
}
