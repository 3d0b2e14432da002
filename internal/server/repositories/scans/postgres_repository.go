package scans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/server/models"
)

const uniqueViolation = "23505"

const scanColumns = `scan_id, username, organization_id, timestamp, scan_type,
	file_count, total_pii_found, high_risk_count, result_json, degraded`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, record *models.ScanRecord) error {

	query := `INSERT INTO scans
		(scan_id, username, organization_id, timestamp, scan_type,
		 file_count, total_pii_found, high_risk_count, result_json, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		record.ScanID, record.Username, record.OrganizationID, record.Timestamp,
		record.ScanType, record.FileCount, record.TotalPIIFound, record.HighRiskCount,
		record.ResultPayload, record.Degraded,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: scan %q", common.ErrAlreadyExists, record.ScanID)
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}

	return nil
}

// SelectByUser returns the caller's records, most recent first. Username and
// organization are always filtered together; dropping the organization
// filter silently was the historical tenant-leak bug this schema exists to
// prevent.
func (r *PostgresRepository) SelectByUser(ctx context.Context, username, organizationID string, limit int) ([]*models.ScanRecord, error) {

	query := `SELECT ` + scanColumns + `
		FROM scans
		WHERE username = $1 AND organization_id = $2
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, username, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// SelectRecent returns records newer than since. Username is optional. An
// empty organization id is the system-level administrative view: it joins
// tenants so scans whose organization no longer resolves (orphans) are
// excluded rather than leaked.
func (r *PostgresRepository) SelectRecent(ctx context.Context, since time.Time, username, organizationID string, limit int) ([]*models.ScanRecord, error) {

	var query string
	args := []any{since}

	if organizationID != "" {
		query = `SELECT ` + scanColumns + ` FROM scans
			WHERE timestamp >= $1 AND organization_id = $2`
		args = append(args, organizationID)
	} else {
		query = `SELECT s.scan_id, s.username, s.organization_id, s.timestamp, s.scan_type,
			s.file_count, s.total_pii_found, s.high_risk_count, s.result_json, s.degraded
			FROM scans s
			JOIN tenants t ON t.organization_id = s.organization_id
			WHERE s.timestamp >= $1`
	}

	if username != "" {
		query += fmt.Sprintf(" AND username = $%d", len(args)+1)
		args = append(args, username)
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Summary aggregates over the tenant's rows only; the org/timestamp index
// keeps it proportional to matching rows.
func (r *PostgresRepository) Summary(ctx context.Context, organizationID string) (int, int, int, error) {

	query := `SELECT COUNT(*),
		COALESCE(SUM(total_pii_found), 0),
		COALESCE(SUM(high_risk_count), 0)
		FROM scans
		WHERE organization_id = $1`

	var totalScans, totalPII, highRisk int
	err := r.db.QueryRowContext(ctx, query, organizationID).Scan(&totalScans, &totalPII, &highRisk)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("error performing sql request: %w", err)
	}

	return totalScans, totalPII, highRisk, nil
}

// MarkReconciled clears the degraded flag once a spooled record has been
// written to the primary store.
func (r *PostgresRepository) MarkReconciled(ctx context.Context, scanID string) error {

	query := `UPDATE scans SET degraded = FALSE WHERE scan_id = $1`

	if _, err := r.db.ExecContext(ctx, query, scanID); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// CountOrphans counts scans whose organization_id has no tenant row,
// exposed as a diagnostic metric instead of surfacing as data loss.
func (r *PostgresRepository) CountOrphans(ctx context.Context) (int, error) {

	query := `SELECT COUNT(*)
		FROM scans s
		LEFT JOIN tenants t ON t.organization_id = s.organization_id
		WHERE t.organization_id IS NULL`

	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes a tenant's records older than the cutoff. Only the
// retention sweep calls this; scan records are otherwise append-only.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, organizationID string, cutoff time.Time) (int64, error) {

	query := `DELETE FROM scans WHERE organization_id = $1 AND timestamp < $2`

	res, err := r.db.ExecContext(ctx, query, organizationID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return res.RowsAffected()
}

func scanRows(rows *sql.Rows) ([]*models.ScanRecord, error) {
	var records []*models.ScanRecord

	for rows.Next() {
		rec := &models.ScanRecord{}
		if err := rows.Scan(
			&rec.ScanID, &rec.Username, &rec.OrganizationID, &rec.Timestamp,
			&rec.ScanType, &rec.FileCount, &rec.TotalPIIFound, &rec.HighRiskCount,
			&rec.ResultPayload, &rec.Degraded,
		); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}
