package audit

import (
	"context"
	"time"

	"github.com/complyscan/scanstore/internal/server/models"
)

// Repository persists audit log entries. The log is append-only: there is
// no update, and the only delete is the retention sweep.
type Repository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	SelectRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
