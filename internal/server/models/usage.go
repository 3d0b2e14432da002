package models

// TenantUsage tracks per-month consumption for quota checks. Month is
// formatted "2006-01".
type TenantUsage struct {
	OrganizationID string `json:"organization_id"`
	Month          string `json:"month"`
	ScanCount      int    `json:"scan_count"`
	StorageBytes   int64  `json:"storage_bytes"`
}
