// Package isolation implements the row-level-security equivalent for scan
// data: every read or write is scoped by (username, organization_id) and
// refused outright when the organization does not resolve to an existing,
// active tenant. An unknown tenant is never treated as "no restriction".
package isolation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/models"
	"github.com/complyscan/scanstore/internal/server/repositories/repomanager"
)

// Operation classifies the access being authorized.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Policy is the enforcer's configuration. It is passed in explicitly so
// tests can run enforcers with different policies in parallel; there is no
// process-wide flag.
//
// BypassEnabled is the operational escape hatch: it disables the tenant
// boundary for debugging. Because that is equivalent to disabling the
// security boundary between tenants, every decision taken while it is on is
// written to the audit log together with BypassReason.
type Policy struct {
	BypassEnabled bool
	BypassReason  string
}

type Enforcer struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	policy Policy
	logger logging.Logger
}

// NewEnforcer builds an enforcer. A bypassing policy without a reason is
// refused: the reason is what makes the audit trail reviewable.
func NewEnforcer(db *sql.DB, repos repomanager.RepositoryManager, policy Policy, logger logging.Logger) (*Enforcer, error) {
	if policy.BypassEnabled && policy.BypassReason == "" {
		return nil, common.ErrBypassNeedReason
	}
	return &Enforcer{db: db, repos: repos, policy: policy, logger: logger}, nil
}

// BypassEnabled reports whether the escape hatch is active.
func (e *Enforcer) BypassEnabled() bool {
	return e.policy.BypassEnabled
}

// Authorize resolves the tenant and decides whether the operation may
// proceed. The returned tenant carries the policy flags (encryption,
// retention, quotas) the caller needs.
//
// Deny conditions, in order: unknown tenant, suspended tenant, exhausted
// monthly scan quota (writes only). With bypass enabled the deny conditions
// are overridden but each override is audit-logged with actor, timestamp
// and reason.
func (e *Enforcer) Authorize(ctx context.Context, username, organizationID string, op Operation) (*models.Tenant, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: empty organization id", common.ErrIsolationDenied)
	}

	tenant, err := e.repos.Tenants(e.db).GetByID(ctx, organizationID)
	if err != nil {
		if err != common.ErrTenantNotFound {
			return nil, err
		}
		if !e.policy.BypassEnabled {
			return nil, fmt.Errorf("%w: unknown tenant %q", common.ErrIsolationDenied, organizationID)
		}
		e.auditBypass(ctx, username, organizationID, op, "unknown tenant allowed")
		// No tenant row to take policy from; encryption stays on.
		return &models.Tenant{
			OrganizationID:    organizationID,
			Status:            models.TenantActive,
			MaxScansPerMonth:  models.UnlimitedQuota,
			EncryptionEnabled: true,
		}, nil
	}

	if tenant.Status != models.TenantActive {
		if !e.policy.BypassEnabled {
			return nil, fmt.Errorf("%w: tenant %q is %s", common.ErrIsolationDenied, organizationID, tenant.Status)
		}
		e.auditBypass(ctx, username, organizationID, op, "suspended tenant allowed")
		return tenant, nil
	}

	if op == OpWrite {
		if err := e.checkScanQuota(ctx, tenant); err != nil {
			if !e.policy.BypassEnabled {
				return nil, err
			}
			e.auditBypass(ctx, username, organizationID, op, "quota exceeded allowed")
			return tenant, nil
		}
	}

	if e.policy.BypassEnabled {
		e.auditBypass(ctx, username, organizationID, op, "allowed")
	}

	return tenant, nil
}

func (e *Enforcer) checkScanQuota(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ScanQuotaUnlimited() {
		return nil
	}

	month := time.Now().UTC().Format("2006-01")
	u, err := e.repos.Usage(e.db).Get(ctx, tenant.OrganizationID, month)
	if err != nil {
		return err
	}
	if u.ScanCount >= tenant.MaxScansPerMonth {
		return fmt.Errorf("%w: %d/%d scans this month", common.ErrQuotaExceeded, u.ScanCount, tenant.MaxScansPerMonth)
	}
	return nil
}

// auditBypass records a decision taken while isolation is disabled. Audit
// failures are logged but never block the operation: losing one audit row
// is better than making the escape hatch unusable during an incident.
func (e *Enforcer) auditBypass(ctx context.Context, username, organizationID string, op Operation, decision string) {
	entry := &models.AuditLogEntry{
		LogID:     uuid.NewString(),
		Username:  username,
		Action:    models.AuditActionIsolationBypass,
		Timestamp: time.Now().UTC(),
		Details: map[string]string{
			"organization_id": organizationID,
			"operation":       string(op),
			"decision":        decision,
			"reason":          e.policy.BypassReason,
		},
	}

	if err := e.repos.Audit(e.db).Append(ctx, entry); err != nil {
		e.logger.Error(ctx, "failed to audit isolation bypass",
			"username", username, "org", organizationID, "error", err.Error())
	}
}
