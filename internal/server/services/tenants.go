package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/models"
	"github.com/complyscan/scanstore/internal/server/repositories/repomanager"
)

// TenantService manages tenant (organization) records. Lifecycle changes
// commit together with their audit entry in one transaction; tenants are
// suspended, never deleted, so existing scan rows always keep a resolvable
// owner.
type TenantService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewTenantService(db *sql.DB, repomanager repomanager.RepositoryManager, logger logging.Logger) *TenantService {
	return &TenantService{db: db, repomanager: repomanager, logger: logger}
}

func (s *TenantService) Create(ctx context.Context, actor string, tenant *models.Tenant) error {
	if tenant == nil || tenant.OrganizationID == "" {
		return fmt.Errorf("%w: organization id required", common.ErrTenantNotFound)
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantActive
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Tenants(tx).Create(ctx, tenant); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, models.AuditActionTenantCreated, tenant.OrganizationID, map[string]string{
			"tier": string(tenant.Tier),
		})
	})
}

func (s *TenantService) Get(ctx context.Context, organizationID string) (*models.Tenant, error) {
	return s.repomanager.Tenants(s.db).GetByID(ctx, organizationID)
}

func (s *TenantService) List(ctx context.Context) ([]*models.Tenant, error) {
	return s.repomanager.Tenants(s.db).List(ctx)
}

func (s *TenantService) Update(ctx context.Context, tenant *models.Tenant) error {
	return s.repomanager.Tenants(s.db).Update(ctx, tenant)
}

// Suspend turns the tenant off. Subsequent reads and writes for the
// organization are denied by the isolation enforcer; the data stays.
func (s *TenantService) Suspend(ctx context.Context, actor, organizationID, reason string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Tenants(tx).SetStatus(ctx, organizationID, models.TenantSuspended); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, models.AuditActionTenantSuspended, organizationID, map[string]string{
			"reason": reason,
		})
	})
}

// Usage returns the tenant's consumption for the given month ("2006-01").
// An empty month means the current one.
func (s *TenantService) Usage(ctx context.Context, organizationID, month string) (*models.TenantUsage, error) {
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	return s.repomanager.Usage(s.db).Get(ctx, organizationID, month)
}

// RecentAuditEntries exposes the tail of the audit log for review.
func (s *TenantService) RecentAuditEntries(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	return s.repomanager.Audit(s.db).SelectRecent(ctx, clampLimit(limit))
}

// audit writes the lifecycle entry on the caller's transactional handle.
// A failure here rolls the whole lifecycle change back; an unaudited tenant
// change must not exist.
func (s *TenantService) audit(ctx context.Context, tx dbx.DBTX, actor, action, organizationID string, details map[string]string) error {
	if details == nil {
		details = map[string]string{}
	}
	details["organization_id"] = organizationID

	entry := &models.AuditLogEntry{
		LogID:     uuid.NewString(),
		Username:  actor,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
	if err := s.repomanager.Audit(tx).Append(ctx, entry); err != nil {
		s.logger.Error(ctx, "failed to append audit entry",
			"action", action, "org", organizationID, "error", err.Error())
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}
