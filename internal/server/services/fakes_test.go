package services

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/cryptox"
	"github.com/complyscan/scanstore/internal/dbx"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/config"
	"github.com/complyscan/scanstore/internal/server/fallback"
	"github.com/complyscan/scanstore/internal/server/isolation"
	"github.com/complyscan/scanstore/internal/server/models"
	auditrepo "github.com/complyscan/scanstore/internal/server/repositories/audit"
	"github.com/complyscan/scanstore/internal/server/repositories/repomanager"
	scansrepo "github.com/complyscan/scanstore/internal/server/repositories/scans"
	tenantsrepo "github.com/complyscan/scanstore/internal/server/repositories/tenants"
	usagerepo "github.com/complyscan/scanstore/internal/server/repositories/usage"
)

// --- repository fakes ---

type fakeScansRepo struct {
	records     []*models.ScanRecord
	createErrs  []error // consumed one per Create call; nil entry means success
	createCalls int
	selectErr   error
	summaryErr  error
	reconciled  []string
	deletedOrgs []string
	orphans     int
}

func (f *fakeScansRepo) Create(ctx context.Context, rec *models.ScanRecord) error {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeScansRepo) SelectByUser(ctx context.Context, username, org string, limit int) ([]*models.ScanRecord, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	var out []*models.ScanRecord
	for _, r := range f.records {
		if r.Username == username && r.OrganizationID == org {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeScansRepo) SelectRecent(ctx context.Context, since time.Time, username, org string, limit int) ([]*models.ScanRecord, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	var out []*models.ScanRecord
	for _, r := range f.records {
		if org != "" && r.OrganizationID != org {
			continue
		}
		if username != "" && r.Username != username {
			continue
		}
		if r.Timestamp.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeScansRepo) Summary(ctx context.Context, org string) (int, int, int, error) {
	if f.summaryErr != nil {
		return 0, 0, 0, f.summaryErr
	}
	var total, pii, high int
	for _, r := range f.records {
		if r.OrganizationID != org {
			continue
		}
		total++
		pii += r.TotalPIIFound
		high += r.HighRiskCount
	}
	return total, pii, high, nil
}

func (f *fakeScansRepo) MarkReconciled(ctx context.Context, scanID string) error {
	f.reconciled = append(f.reconciled, scanID)
	return nil
}

func (f *fakeScansRepo) CountOrphans(ctx context.Context) (int, error) {
	return f.orphans, nil
}

func (f *fakeScansRepo) DeleteOlderThan(ctx context.Context, org string, cutoff time.Time) (int64, error) {
	f.deletedOrgs = append(f.deletedOrgs, org)
	return 1, nil
}

type fakeTenantsRepo struct {
	tenants   map[string]*models.Tenant
	statuses  map[string]models.TenantStatus
	created   []*models.Tenant
	createErr error
}

func (f *fakeTenantsRepo) Create(ctx context.Context, t *models.Tenant) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, t)
	f.tenants[t.OrganizationID] = t
	return nil
}

func (f *fakeTenantsRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, common.ErrTenantNotFound
}

func (f *fakeTenantsRepo) Update(ctx context.Context, t *models.Tenant) error {
	f.tenants[t.OrganizationID] = t
	return nil
}

func (f *fakeTenantsRepo) SetStatus(ctx context.Context, id string, s models.TenantStatus) error {
	f.statuses[id] = s
	return nil
}

func (f *fakeTenantsRepo) List(ctx context.Context) ([]*models.Tenant, error) {
	var out []*models.Tenant
	for _, t := range f.tenants {
		out = append(out, t)
	}
	return out, nil
}

type fakeUsageRepo struct {
	counts     map[string]int
	increments []string
}

func (f *fakeUsageRepo) IncrementScanCount(ctx context.Context, org, month string, bytes int64) error {
	f.increments = append(f.increments, org+"/"+month)
	f.counts[org]++
	return nil
}

func (f *fakeUsageRepo) Get(ctx context.Context, org, month string) (*models.TenantUsage, error) {
	return &models.TenantUsage{OrganizationID: org, Month: month, ScanCount: f.counts[org]}, nil
}

type fakeAuditRepo struct {
	entries   []*models.AuditLogEntry
	appendErr error
	trimmed   bool
}

func (f *fakeAuditRepo) Append(ctx context.Context, e *models.AuditLogEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditRepo) SelectRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	return f.entries, nil
}

func (f *fakeAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.trimmed = true
	return 0, nil
}

func (f *fakeAuditRepo) actions() []string {
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeRepoManager struct {
	scans   *fakeScansRepo
	tenants *fakeTenantsRepo
	usage   *fakeUsageRepo
	audit   *fakeAuditRepo
}

func (f *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (f *fakeRepoManager) Scans(db dbx.DBTX) scansrepo.Repository              { return f.scans }
func (f *fakeRepoManager) Tenants(db dbx.DBTX) tenantsrepo.Repository          { return f.tenants }
func (f *fakeRepoManager) Audit(db dbx.DBTX) auditrepo.Repository              { return f.audit }
func (f *fakeRepoManager) Usage(db dbx.DBTX) usagerepo.Repository              { return f.usage }

var _ repomanager.RepositoryManager = (*fakeRepoManager)(nil)

func newFakeManager() *fakeRepoManager {
	return &fakeRepoManager{
		scans: &fakeScansRepo{},
		tenants: &fakeTenantsRepo{
			tenants:  map[string]*models.Tenant{},
			statuses: map[string]models.TenantStatus{},
		},
		usage: &fakeUsageRepo{counts: map[string]int{}},
		audit: &fakeAuditRepo{},
	}
}

// --- cache fake ---

type fakeCache struct {
	data        map[string][]byte
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	f.data[key] = value
}

func (f *fakeCache) Invalidate(ctx context.Context, prefix string) {
	f.invalidated = append(f.invalidated, prefix)
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
		}
	}
}

// --- environment ---

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SpoolDir = t.TempDir()
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func activeTenant(id string, maxScans int) *models.Tenant {
	return &models.Tenant{
		OrganizationID:    id,
		OrganizationName:  id,
		Tier:              models.TierStarter,
		Status:            models.TenantActive,
		MaxScansPerMonth:  maxScans,
		EncryptionEnabled: true,
		CreatedAt:         time.Now().UTC(),
	}
}

type testEnv struct {
	manager   *fakeRepoManager
	cache     *fakeCache
	spool     *fallback.Spool
	encryptor *cryptox.Encryptor
	config    *config.Config
	dbmock    sqlmock.Sqlmock
	scans     *ScanService
	tenants   *TenantService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	manager := newFakeManager()
	manager.tenants.tenants["acme"] = activeTenant("acme", 100)

	logger := testLogger()
	cfg := testConfig(t)

	// Tenant lifecycle runs inside a real transaction; back it with sqlmock
	// so Begin/Commit work while the repositories stay fakes.
	db, dbmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	enforcer, err := isolation.NewEnforcer(nil, manager, isolation.Policy{}, logger)
	require.NoError(t, err)

	encryptor, err := cryptox.NewEncryptor(testMasterKey)
	require.NoError(t, err)

	spool, err := fallback.NewSpool(cfg.SpoolDir, logger)
	require.NoError(t, err)

	c := newFakeCache()
	return &testEnv{
		manager:   manager,
		cache:     c,
		spool:     spool,
		encryptor: encryptor,
		config:    cfg,
		dbmock:    dbmock,
		scans:     NewScanService(nil, manager, enforcer, encryptor, c, spool, cfg, logger),
		tenants:   NewTenantService(db, manager, logger),
	}
}

func testRecord(username, org string) *models.ScanRecord {
	return &models.ScanRecord{
		Username:       username,
		OrganizationID: org,
		ScanType:       models.ScanTypeCode,
		FileCount:      3,
		TotalPIIFound:  7,
		HighRiskCount:  2,
		ResultPayload:  []byte(`{"findings":[{"type":"email","file":"users.go"}]}`),
	}
}
