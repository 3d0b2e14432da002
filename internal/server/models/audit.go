package models

import "time"

// Audit actions recorded by the store. The audit log is append-only.
const (
	AuditActionScanStored      = "scan_stored"
	AuditActionScanSpooled     = "scan_spooled"
	AuditActionIsolationBypass = "isolation_bypass"
	AuditActionTenantSuspended = "tenant_suspended"
	AuditActionTenantCreated   = "tenant_created"
)

// AuditLogEntry is one append-only audit record. Details carries
// action-specific structured context (reason, organization, decision).
type AuditLogEntry struct {
	LogID     string            `json:"log_id"`
	Username  string            `json:"username"`
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details"`
}
