package types

import "time"

// TenantStatus is the lifecycle state of a Tenant (spec §3).
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantDisabled TenantStatus = "disabled"
)

// IsolationStrategy selects how a tenant's vector records are laid out
// across dense-store collections (spec §4.4).
type IsolationStrategy string

const (
	IsolationShared    IsolationStrategy = "shared"
	IsolationPerTenant IsolationStrategy = "per-tenant"
	IsolationAuto      IsolationStrategy = "auto"
)

// Tenant is the root of ownership for knowledge bases, documents, chunks,
// and their derived records (spec §3 "Ownership").
type Tenant struct {
	ID                uint64            `gorm:"primaryKey" json:"id"`
	Status            TenantStatus      `json:"status"`
	IsolationStrategy IsolationStrategy `json:"isolation_strategy"`
	DefaultModelConfig *ModelConfig     `gorm:"serializer:json" json:"default_model_config,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Active reports whether the tenant may issue any core call (spec §7
// TENANT_DISABLED).
func (t *Tenant) Active() bool { return t.Status == TenantActive }
