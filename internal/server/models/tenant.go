package models

import "time"

// Tier is a tenant's subscription tier.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// TenantStatus is the lifecycle state of a tenant. Tenants are never hard
// deleted while scans reference them; suspension is the terminal state.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Feature is a typed tenant feature flag. Typos fail at compile time instead
// of silently granting or withholding behavior.
type Feature string

const (
	FeatureUnlimitedScans  Feature = "unlimited_scans"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureCustomRetention Feature = "custom_retention"
	FeatureAPIAccess       Feature = "api_access"
	FeatureSSO             Feature = "sso"
)

// UnlimitedQuota marks a quota field as unbounded.
const UnlimitedQuota = -1

// Tenant is one organization: the unit of data isolation.
type Tenant struct {
	OrganizationID    string       `json:"organization_id"`
	OrganizationName  string       `json:"organization_name"`
	Tier              Tier         `json:"tier"`
	Status            TenantStatus `json:"status"`
	MaxUsers          int          `json:"max_users"`
	MaxScansPerMonth  int          `json:"max_scans_per_month"`
	MaxStorageGB      int          `json:"max_storage_gb"`
	Features          []Feature    `json:"features"`
	ComplianceRegions []string     `json:"compliance_regions"`
	DataRetentionDays int          `json:"data_retention_days"`
	EncryptionEnabled bool         `json:"encryption_enabled"`
	CreatedAt         time.Time    `json:"created_at"`
}

// HasFeature reports whether the tenant has the given flag enabled.
func (t *Tenant) HasFeature(f Feature) bool {
	for _, have := range t.Features {
		if have == f {
			return true
		}
	}
	return false
}

// ScanQuotaUnlimited reports whether the monthly scan quota is unbounded,
// either by tier quota or by feature flag.
func (t *Tenant) ScanQuotaUnlimited() bool {
	return t.MaxScansPerMonth == UnlimitedQuota || t.HasFeature(FeatureUnlimitedScans)
}
