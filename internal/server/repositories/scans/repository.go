package scans

import (
	"context"
	"time"

	"github.com/complyscan/scanstore/internal/server/models"
)

// Repository persists scan records. Every tenant-scoped method takes the
// organization id explicitly; there is deliberately no way to select scans
// by username alone.
type Repository interface {
	Create(ctx context.Context, record *models.ScanRecord) error
	SelectByUser(ctx context.Context, username, organizationID string, limit int) ([]*models.ScanRecord, error)
	SelectRecent(ctx context.Context, since time.Time, username, organizationID string, limit int) ([]*models.ScanRecord, error)
	Summary(ctx context.Context, organizationID string) (totalScans, totalPII, highRisk int, err error)
	MarkReconciled(ctx context.Context, scanID string) error
	CountOrphans(ctx context.Context) (int, error)
	DeleteOlderThan(ctx context.Context, organizationID string, cutoff time.Time) (int64, error)
}
