package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/auth"
	"github.com/complyscan/scanstore/internal/server/models"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type fakeScanStore struct {
	stored     []*models.ScanRecord
	storeRes   *models.StoreResult
	storeErr   error
	list       *models.ScanList
	listErr    error
	summary    *models.Summary
	summaryErr error
	orphans    int
	pending    int

	lastUsername string
	lastOrg      string
	lastLimit    int
	lastAdmin    bool
}

func (f *fakeScanStore) Store(ctx context.Context, record *models.ScanRecord) (*models.StoreResult, error) {
	f.stored = append(f.stored, record)
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	if f.storeRes != nil {
		return f.storeRes, nil
	}
	return &models.StoreResult{ScanID: "generated"}, nil
}

func (f *fakeScanStore) GetUserScans(ctx context.Context, username, org string, limit int) (*models.ScanList, error) {
	f.lastUsername, f.lastOrg, f.lastLimit = username, org, limit
	return f.list, f.listErr
}

func (f *fakeScanStore) GetRecentScans(ctx context.Context, username, org string, since time.Time, limit int, admin bool) (*models.ScanList, error) {
	f.lastUsername, f.lastOrg, f.lastLimit, f.lastAdmin = username, org, limit, admin
	return f.list, f.listErr
}

func (f *fakeScanStore) AggregateSummary(ctx context.Context, username, org string) (*models.Summary, error) {
	f.lastUsername, f.lastOrg = username, org
	return f.summary, f.summaryErr
}

func (f *fakeScanStore) CountOrphans(ctx context.Context) (int, error) { return f.orphans, nil }
func (f *fakeScanStore) PendingFallback() (int, error)                 { return f.pending, nil }

type fakeTenantAdmin struct {
	tenants   map[string]*models.Tenant
	suspended map[string]string
	audit     []*models.AuditLogEntry
	createErr error
}

func newFakeTenantAdmin() *fakeTenantAdmin {
	return &fakeTenantAdmin{tenants: map[string]*models.Tenant{}, suspended: map[string]string{}}
}

func (f *fakeTenantAdmin) Create(ctx context.Context, actor string, t *models.Tenant) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tenants[t.OrganizationID] = t
	return nil
}

func (f *fakeTenantAdmin) Get(ctx context.Context, id string) (*models.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, common.ErrTenantNotFound
}

func (f *fakeTenantAdmin) List(ctx context.Context) ([]*models.Tenant, error) {
	var out []*models.Tenant
	for _, t := range f.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTenantAdmin) Update(ctx context.Context, t *models.Tenant) error {
	f.tenants[t.OrganizationID] = t
	return nil
}

func (f *fakeTenantAdmin) Suspend(ctx context.Context, actor, id, reason string) error {
	f.suspended[id] = reason
	return nil
}

func (f *fakeTenantAdmin) Usage(ctx context.Context, id, month string) (*models.TenantUsage, error) {
	return &models.TenantUsage{OrganizationID: id, Month: month, ScanCount: 3}, nil
}

func (f *fakeTenantAdmin) RecentAuditEntries(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	return f.audit, nil
}

func testRouter(t *testing.T, scans *fakeScanStore, tenants *fakeTenantAdmin) http.Handler {
	t.Helper()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return NewRouter(scans, tenants, testSigningKey, logger)
}

func token(t *testing.T, username, org string, admin bool) string {
	t.Helper()
	s, err := auth.GenerateToken(username, org, admin, testSigningKey, time.Hour)
	require.NoError(t, err)
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoToken(t *testing.T) {
	h := testRouter(t, &fakeScanStore{}, newFakeTenantAdmin())
	rec := doRequest(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingTokenRejected(t *testing.T) {
	h := testRouter(t, &fakeScanStore{}, newFakeTenantAdmin())
	rec := doRequest(t, h, http.MethodGet, "/v1/scans", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGarbageTokenRejected(t *testing.T) {
	h := testRouter(t, &fakeScanStore{}, newFakeTenantAdmin())
	rec := doRequest(t, h, http.MethodGet, "/v1/scans", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStoreScan_IdentityFromToken(t *testing.T) {
	scans := &fakeScanStore{}
	h := testRouter(t, scans, newFakeTenantAdmin())

	body := map[string]any{
		"username":        "mallory",
		"organization_id": "other_org",
		"scan_type":       "code",
	}
	rec := doRequest(t, h, http.MethodPost, "/v1/scans", token(t, "alice", "acme", false), body)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, scans.stored, 1)
	assert.Equal(t, "alice", scans.stored[0].Username, "username in body must be ignored")
	assert.Equal(t, "acme", scans.stored[0].OrganizationID, "org in body must be ignored for non-admins")
}

func TestStoreScan_DegradedIsAccepted(t *testing.T) {
	scans := &fakeScanStore{storeRes: &models.StoreResult{ScanID: "s1", Degraded: true}}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", token(t, "alice", "acme", false), map[string]any{})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStoreScan_QuotaMapsTo429(t *testing.T) {
	scans := &fakeScanStore{storeErr: common.ErrQuotaExceeded}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodPost, "/v1/scans", token(t, "alice", "acme", false), map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestListScans(t *testing.T) {
	scans := &fakeScanStore{list: &models.ScanList{Data: []*models.ScanRecord{{ScanID: "s1"}}}}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/scans?limit=5", token(t, "alice", "acme", false), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", scans.lastUsername)
	assert.Equal(t, "acme", scans.lastOrg)
	assert.Equal(t, 5, scans.lastLimit)

	list := &models.ScanList{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "s1", list.Data[0].ScanID)
}

func TestListScans_BadLimit(t *testing.T) {
	h := testRouter(t, &fakeScanStore{}, newFakeTenantAdmin())
	rec := doRequest(t, h, http.MethodGet, "/v1/scans?limit=many", token(t, "alice", "acme", false), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListScans_IsolationDenialMapsTo403(t *testing.T) {
	scans := &fakeScanStore{listErr: common.ErrIsolationDenied}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/scans", token(t, "alice", "ghost", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListScans_OutageMapsTo503(t *testing.T) {
	scans := &fakeScanStore{listErr: common.ErrStoreUnavailable}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/scans", token(t, "alice", "acme", false), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecentScans_NonAdminStaysInOwnOrg(t *testing.T) {
	scans := &fakeScanStore{list: &models.ScanList{}}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/scans/recent?organization_id=*", token(t, "alice", "acme", false), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", scans.lastOrg, "non-admins cannot escape their organization")
	assert.False(t, scans.lastAdmin)
}

func TestRecentScans_AdminCrossTenant(t *testing.T) {
	scans := &fakeScanStore{list: &models.ScanList{}}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/scans/recent?organization_id=*", token(t, "root", "acme", true), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, scans.lastOrg)
	assert.True(t, scans.lastAdmin)
}

func TestRecentScans_BadSince(t *testing.T) {
	h := testRouter(t, &fakeScanStore{list: &models.ScanList{}}, newFakeTenantAdmin())
	rec := doRequest(t, h, http.MethodGet, "/v1/scans/recent?since=yesterday", token(t, "alice", "acme", false), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	scans := &fakeScanStore{summary: &models.Summary{TotalScans: 7}}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/summary", token(t, "alice", "acme", false), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := &models.Summary{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), summary))
	assert.Equal(t, 7, summary.TotalScans)
}

func TestAdminSubtreeRequiresAdmin(t *testing.T) {
	h := testRouter(t, &fakeScanStore{}, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/admin/diagnostics", token(t, "alice", "acme", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminDiagnostics(t *testing.T) {
	scans := &fakeScanStore{orphans: 2, pending: 5}
	h := testRouter(t, scans, newFakeTenantAdmin())

	rec := doRequest(t, h, http.MethodGet, "/v1/admin/diagnostics", token(t, "root", "acme", true), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body["orphan_scans"])
	assert.Equal(t, 5, body["fallback_pending"])
}

func TestTenantLifecycleOverHTTP(t *testing.T) {
	tenants := newFakeTenantAdmin()
	h := testRouter(t, &fakeScanStore{}, tenants)
	admin := token(t, "root", "acme", true)

	rec := doRequest(t, h, http.MethodPost, "/v1/admin/tenants", admin,
		map[string]any{"organization_id": "globex", "tier": "enterprise"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/admin/tenants/globex", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/admin/tenants/globex/suspend", admin,
		map[string]any{"reason": "trial ended"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "trial ended", tenants.suspended["globex"])

	rec = doRequest(t, h, http.MethodGet, "/v1/admin/tenants/ghost", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTenantCreate_DuplicateMapsTo409(t *testing.T) {
	tenants := newFakeTenantAdmin()
	tenants.createErr = fmt.Errorf("%w: tenant %q", common.ErrAlreadyExists, "globex")
	h := testRouter(t, &fakeScanStore{}, tenants)

	rec := doRequest(t, h, http.MethodPost, "/v1/admin/tenants", token(t, "root", "acme", true),
		map[string]any{"organization_id": "globex", "tier": "enterprise"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTenantCreate_MissingID(t *testing.T) {
	h := testRouter(t, &fakeScanStore{}, newFakeTenantAdmin())
	rec := doRequest(t, h, http.MethodPost, "/v1/admin/tenants", token(t, "root", "acme", true),
		map[string]any{"tier": "starter"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
