package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/server/migrations"
	"github.com/complyscan/scanstore/internal/server/repositories/audit"
	"github.com/complyscan/scanstore/internal/server/repositories/scans"
	"github.com/complyscan/scanstore/internal/server/repositories/tenants"
	"github.com/complyscan/scanstore/internal/server/repositories/usage"
)

type PostgresRepositoryManager struct {
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Scans(db dbx.DBTX) scans.Repository {
	return scans.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Tenants(db dbx.DBTX) tenants.Repository {
	return tenants.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Usage(db dbx.DBTX) usage.Repository {
	return usage.NewPostgresRepository(db)
}

// RunMigrations brings the schema forward. Goose tracks applied versions,
// so running this against an already-migrated database is a no-op. Callers
// treat a failure as degraded mode, not a crash.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSchemaDegraded, err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSchemaDegraded, err)
	}

	return nil
}
