package tenants

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func tenantRow(id string, status models.TenantStatus, features string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"organization_id", "organization_name", "tier", "status",
		"max_users", "max_scans_per_month", "max_storage_gb", "features",
		"compliance_regions", "data_retention_days", "encryption_enabled", "created_at",
	}).AddRow(id, "Acme Corp", models.TierProfessional, status,
		25, 500, 50, []byte(features),
		[]byte(`["eu","us"]`), 365, true, time.Now())
}

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM tenants WHERE organization_id = \$1`).
		WithArgs("acme").
		WillReturnRows(tenantRow("acme", models.TenantActive, `["unlimited_scans","sso"]`))

	got, err := repo.GetByID(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrganizationID != "acme" || got.Status != models.TenantActive {
		t.Fatalf("unexpected tenant: %+v", got)
	}
	if !got.HasFeature(models.FeatureUnlimitedScans) || !got.HasFeature(models.FeatureSSO) {
		t.Fatalf("features not decoded: %v", got.Features)
	}
	if len(got.ComplianceRegions) != 2 {
		t.Fatalf("regions not decoded: %v", got.ComplianceRegions)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM tenants WHERE organization_id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if err != common.ErrTenantNotFound {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestCreate_MarshalsSets(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO tenants`).
		WithArgs("acme", "Acme Corp", models.TierEnterprise, models.TenantActive,
			100, models.UnlimitedQuota, 500,
			[]byte(`["priority_support"]`), []byte(`["eu"]`), 730, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Tenant{
		OrganizationID:    "acme",
		OrganizationName:  "Acme Corp",
		Tier:              models.TierEnterprise,
		Status:            models.TenantActive,
		MaxUsers:          100,
		MaxScansPerMonth:  models.UnlimitedQuota,
		MaxStorageGB:      500,
		Features:          []models.Feature{models.FeaturePrioritySupport},
		ComplianceRegions: []string{"eu"},
		DataRetentionDays: 730,
		EncryptionEnabled: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_NilSetsBecomeEmptyArrays(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO tenants`).
		WithArgs("org1", "Org One", models.TierStarter, models.TenantActive,
			5, 100, 10, []byte(`[]`), []byte(`[]`), 365, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Tenant{
		OrganizationID:    "org1",
		OrganizationName:  "Org One",
		Tier:              models.TierStarter,
		Status:            models.TenantActive,
		MaxUsers:          5,
		MaxScansPerMonth:  100,
		MaxStorageGB:      10,
		DataRetentionDays: 365,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreate_DuplicateOrganization(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO tenants`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := repo.Create(context.Background(), &models.Tenant{
		OrganizationID:   "acme",
		OrganizationName: "Acme Corp",
		Tier:             models.TierStarter,
		Status:           models.TenantActive,
	})
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tenants SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Tenant{OrganizationID: "ghost"})
	if err != common.ErrTenantNotFound {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestSetStatus_Suspend(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tenants SET status = \$2 WHERE organization_id = \$1`).
		WithArgs("acme", models.TenantSuspended).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetStatus(context.Background(), "acme", models.TenantSuspended); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := tenantRow("acme", models.TenantActive, `[]`)
	mock.ExpectQuery(`FROM tenants ORDER BY organization_id`).
		WillReturnRows(rows)

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].OrganizationID != "acme" {
		t.Fatalf("unexpected list: %+v", got)
	}
}
