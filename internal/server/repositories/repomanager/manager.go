package repomanager

import (
	"context"
	"database/sql"

	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/server/repositories/audit"
	"github.com/complyscan/scanstore/internal/server/repositories/scans"
	"github.com/complyscan/scanstore/internal/server/repositories/tenants"
	"github.com/complyscan/scanstore/internal/server/repositories/usage"
)

// RepositoryManager hands out repositories bound to a DB handle and owns
// schema setup. Repositories accept dbx.DBTX so the same constructor works
// inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Scans(db dbx.DBTX) scans.Repository
	Tenants(db dbx.DBTX) tenants.Repository
	Audit(db dbx.DBTX) audit.Repository
	Usage(db dbx.DBTX) usage.Repository
}
