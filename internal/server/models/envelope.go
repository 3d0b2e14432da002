package models

// ScanList is the result envelope for listing queries. The UI always gets
// an envelope, never a raw error: Stale marks cache-served results during a
// primary-store outage, Skipped counts records dropped because their payload
// could not be decrypted, and Errors carries non-fatal diagnostics.
type ScanList struct {
	Data    []*ScanRecord `json:"data"`
	Stale   bool          `json:"stale"`
	Skipped int           `json:"skipped"`
	Errors  []string      `json:"errors,omitempty"`
}

// Summary is the aggregate envelope for a tenant's dashboard counters.
type Summary struct {
	TotalScans    int      `json:"total_scans"`
	TotalPII      int      `json:"total_pii"`
	HighRiskCount int      `json:"high_risk_count"`
	Stale         bool     `json:"stale"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors,omitempty"`
}

// StoreResult reports where a stored record landed. Degraded=true means the
// record went to the file fallback and will be reconciled later.
type StoreResult struct {
	ScanID   string `json:"scan_id"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}
