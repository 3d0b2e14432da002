package models

import "time"

// ScanType identifies the scanner that produced a record.
type ScanType string

const (
	ScanTypeCode     ScanType = "code"
	ScanTypeDatabase ScanType = "database"
	ScanTypeWebsite  ScanType = "website"
	ScanTypeImage    ScanType = "image"
	ScanTypeAIModel  ScanType = "ai_model"
	ScanTypeDPIA     ScanType = "dpia"
	ScanTypeSOC2     ScanType = "soc2"
)

// DefaultOrganizationID is the sentinel used when a scanner submits a record
// without an organization. A tenant row with this id must still exist for
// the write to be accepted.
const DefaultOrganizationID = "default_org"

// ScanRecord is one completed scanner run. Records are append-only: a
// re-scan produces a new record, never an update.
//
// ResultPayload is the structured findings blob; it is the only field
// encrypted at rest. Metadata stays in plaintext so listings and summaries
// never need decryption.
type ScanRecord struct {
	ScanID         string    `json:"scan_id"`
	Username       string    `json:"username"`
	OrganizationID string    `json:"organization_id"`
	Timestamp      time.Time `json:"timestamp"`
	ScanType       ScanType  `json:"scan_type"`
	FileCount      int       `json:"file_count"`
	TotalPIIFound  int       `json:"total_pii_found"`
	HighRiskCount  int       `json:"high_risk_count"`
	ResultPayload  []byte    `json:"result_payload,omitempty"`

	// Degraded marks a record that was accepted through the file
	// fallback and has not been reconciled into the primary store yet.
	Degraded bool `json:"degraded,omitempty"`
}

// Normalize fills defaults a scanner may omit.
func (r *ScanRecord) Normalize() {
	if r.OrganizationID == "" {
		r.OrganizationID = DefaultOrganizationID
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
}
