package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// IncrementScanCount bumps the month's counters, creating the row on first
// use. Row-level atomicity of the upsert is all the locking this needs.
func (r *PostgresRepository) IncrementScanCount(ctx context.Context, organizationID, month string, storageBytes int64) error {

	query := `INSERT INTO tenant_usage (organization_id, month, scan_count, storage_bytes)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (organization_id, month) DO UPDATE SET
		 scan_count = tenant_usage.scan_count + 1,
		 storage_bytes = tenant_usage.storage_bytes + EXCLUDED.storage_bytes`

	_, err := r.db.ExecContext(ctx, query, organizationID, month, storageBytes)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// Get returns the month's usage; a missing row means zero consumption.
func (r *PostgresRepository) Get(ctx context.Context, organizationID, month string) (*models.TenantUsage, error) {

	query := `SELECT organization_id, month, scan_count, storage_bytes
		FROM tenant_usage WHERE organization_id = $1 AND month = $2`

	u := &models.TenantUsage{}
	err := r.db.QueryRowContext(ctx, query, organizationID, month).
		Scan(&u.OrganizationID, &u.Month, &u.ScanCount, &u.StorageBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.TenantUsage{OrganizationID: organizationID, Month: month}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return u, nil
}
