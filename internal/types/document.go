package types

import "time"

// SummaryStatus tracks the Document Summarizer enricher's progress
// (spec §4.3).
type SummaryStatus string

const (
	SummaryPending    SummaryStatus = "pending"
	SummaryGenerating SummaryStatus = "generating"
	SummaryCompleted  SummaryStatus = "completed"
	SummaryFailed     SummaryStatus = "failed"
	SummarySkipped    SummaryStatus = "skipped"
)

// SensitivityLevel gates ACL security trimming (spec §4.6).
type SensitivityLevel string

const (
	SensitivityPublic     SensitivityLevel = "public"
	SensitivityRestricted SensitivityLevel = "restricted"
)

// ACL is the document-level access-control snapshot copied into vector and
// sparse records at indexing time (spec §3 invariant 3).
type ACL struct {
	AllowUsers  []string `gorm:"serializer:json" json:"acl_allow_users,omitempty"`
	AllowRoles  []string `gorm:"serializer:json" json:"acl_allow_roles,omitempty"`
	AllowGroups []string `gorm:"serializer:json" json:"acl_allow_groups,omitempty"`
}

// Empty reports whether the document carries no ACL membership at all —
// the condition SPEC_FULL.md §9 Open Question 3 resolves.
func (a ACL) Empty() bool {
	return len(a.AllowUsers) == 0 && len(a.AllowRoles) == 0 && len(a.AllowGroups) == 0
}

// Document is a tenant- and KB-scoped unit of ingested content
// (spec §3).
type Document struct {
	ID               string           `gorm:"primaryKey" json:"id"`
	TenantID         uint64           `gorm:"index" json:"tenant_id"`
	KBID             string           `gorm:"index" json:"kb_id"`
	Title            string           `json:"title"`
	SourceMetadata   map[string]any   `gorm:"serializer:json" json:"source_metadata,omitempty"`
	Summary          *string          `json:"summary,omitempty"`
	SummaryStatus    SummaryStatus    `json:"summary_status"`
	SensitivityLevel SensitivityLevel `json:"sensitivity_level"`
	ACL              ACL              `gorm:"embedded" json:"acl"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// MimeType is a convenience accessor into SourceMetadata, used by the
// chunking layer's HTML pre-normalization step (SPEC_FULL.md §4.2).
func (d *Document) MimeType() string {
	if d.SourceMetadata == nil {
		return ""
	}
	if mt, ok := d.SourceMetadata["mime_type"].(string); ok {
		return mt
	}
	return ""
}
