package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/server/models"
)

const uniqueViolation = "23505"

const tenantColumns = `organization_id, organization_name, tier, status,
	max_users, max_scans_per_month, max_storage_gb, features,
	compliance_regions, data_retention_days, encryption_enabled, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, tenant *models.Tenant) error {

	features, regions, err := marshalSets(tenant)
	if err != nil {
		return err
	}

	query := `INSERT INTO tenants
		(organization_id, organization_name, tier, status,
		 max_users, max_scans_per_month, max_storage_gb, features,
		 compliance_regions, data_retention_days, encryption_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, query,
		tenant.OrganizationID, tenant.OrganizationName, tenant.Tier, tenant.Status,
		tenant.MaxUsers, tenant.MaxScansPerMonth, tenant.MaxStorageGB, features,
		regions, tenant.DataRetentionDays, tenant.EncryptionEnabled,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: tenant %q", common.ErrAlreadyExists, tenant.OrganizationID)
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, organizationID string) (*models.Tenant, error) {

	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE organization_id = $1`

	row := r.db.QueryRowContext(ctx, query, organizationID)

	tenant := &models.Tenant{}
	var features, regions []byte
	err := row.Scan(
		&tenant.OrganizationID, &tenant.OrganizationName, &tenant.Tier, &tenant.Status,
		&tenant.MaxUsers, &tenant.MaxScansPerMonth, &tenant.MaxStorageGB, &features,
		&regions, &tenant.DataRetentionDays, &tenant.EncryptionEnabled, &tenant.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	if err := unmarshalSets(tenant, features, regions); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (r *PostgresRepository) Update(ctx context.Context, tenant *models.Tenant) error {

	features, regions, err := marshalSets(tenant)
	if err != nil {
		return err
	}

	query := `UPDATE tenants SET
		organization_name = $2, tier = $3, status = $4,
		max_users = $5, max_scans_per_month = $6, max_storage_gb = $7,
		features = $8, compliance_regions = $9,
		data_retention_days = $10, encryption_enabled = $11
		WHERE organization_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		tenant.OrganizationID, tenant.OrganizationName, tenant.Tier, tenant.Status,
		tenant.MaxUsers, tenant.MaxScansPerMonth, tenant.MaxStorageGB,
		features, regions, tenant.DataRetentionDays, tenant.EncryptionEnabled,
	)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.ErrTenantNotFound
	}
	return nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, organizationID string, status models.TenantStatus) error {

	query := `UPDATE tenants SET status = $2 WHERE organization_id = $1`

	res, err := r.db.ExecContext(ctx, query, organizationID, status)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.ErrTenantNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Tenant, error) {

	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY organization_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant := &models.Tenant{}
		var features, regions []byte
		if err := rows.Scan(
			&tenant.OrganizationID, &tenant.OrganizationName, &tenant.Tier, &tenant.Status,
			&tenant.MaxUsers, &tenant.MaxScansPerMonth, &tenant.MaxStorageGB, &features,
			&regions, &tenant.DataRetentionDays, &tenant.EncryptionEnabled, &tenant.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		if err := unmarshalSets(tenant, features, regions); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tenants, nil
}

func marshalSets(tenant *models.Tenant) ([]byte, []byte, error) {
	features := tenant.Features
	if features == nil {
		features = []models.Feature{}
	}
	regions := tenant.ComplianceRegions
	if regions == nil {
		regions = []string{}
	}

	f, err := json.Marshal(features)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal features: %w", err)
	}
	r, err := json.Marshal(regions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal compliance regions: %w", err)
	}
	return f, r, nil
}

func unmarshalSets(tenant *models.Tenant, features, regions []byte) error {
	if len(features) > 0 {
		if err := json.Unmarshal(features, &tenant.Features); err != nil {
			return fmt.Errorf("unmarshal features: %w", err)
		}
	}
	if len(regions) > 0 {
		if err := json.Unmarshal(regions, &tenant.ComplianceRegions); err != nil {
			return fmt.Errorf("unmarshal compliance regions: %w", err)
		}
	}
	return nil
}
