package usage

import (
	"context"

	"github.com/complyscan/scanstore/internal/server/models"
)

// Repository tracks per-tenant monthly consumption for quota enforcement.
type Repository interface {
	IncrementScanCount(ctx context.Context, organizationID, month string, storageBytes int64) error
	Get(ctx context.Context, organizationID, month string) (*models.TenantUsage, error)
}
