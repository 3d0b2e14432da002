package tenants

import (
	"context"

	"github.com/complyscan/scanstore/internal/server/models"
)

// Repository persists tenant (organization) records. Tenants are never hard
// deleted; SetStatus suspends them instead.
type Repository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, organizationID string) (*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	SetStatus(ctx context.Context, organizationID string, status models.TenantStatus) error
	List(ctx context.Context) ([]*models.Tenant, error)
}
