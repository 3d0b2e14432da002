// Package httpapi exposes the scan store over HTTP. Handlers return errors;
// the wrap adapter maps sentinel errors to status codes in one place so no
// handler ever picks its own code for a denial.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/models"
)

var errBadRequest = errors.New("bad request")

// ScanStore is the aggregator surface the router consumes. Satisfied by
// services.ScanService.
type ScanStore interface {
	Store(ctx context.Context, record *models.ScanRecord) (*models.StoreResult, error)
	GetUserScans(ctx context.Context, username, organizationID string, limit int) (*models.ScanList, error)
	GetRecentScans(ctx context.Context, username, organizationID string, since time.Time, limit int, admin bool) (*models.ScanList, error)
	AggregateSummary(ctx context.Context, username, organizationID string) (*models.Summary, error)
	CountOrphans(ctx context.Context) (int, error)
	PendingFallback() (int, error)
}

// TenantAdmin is the tenant-management surface. Satisfied by
// services.TenantService.
type TenantAdmin interface {
	Create(ctx context.Context, actor string, tenant *models.Tenant) error
	Get(ctx context.Context, organizationID string) (*models.Tenant, error)
	List(ctx context.Context) ([]*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	Suspend(ctx context.Context, actor, organizationID, reason string) error
	Usage(ctx context.Context, organizationID, month string) (*models.TenantUsage, error)
	RecentAuditEntries(ctx context.Context, limit int) ([]*models.AuditLogEntry, error)
}

type Router struct {
	scans   ScanStore
	tenants TenantAdmin
	logger  logging.Logger
}

func NewRouter(scans ScanStore, tenants TenantAdmin, signingKey []byte, logger logging.Logger) http.Handler {
	r := &Router{scans: scans, tenants: tenants, logger: logger}

	mux := chi.NewRouter()
	mux.Use(chimiddleware.RealIP)
	mux.Use(chimiddleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	mux.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/v1", func(rt chi.Router) {
		rt.Use(authenticate(signingKey))

		rt.Post("/scans", r.wrap(r.handleStoreScan))
		rt.Get("/scans", r.wrap(r.handleListScans))
		rt.Get("/scans/recent", r.wrap(r.handleRecentScans))
		rt.Get("/summary", r.wrap(r.handleSummary))

		rt.Route("/admin", func(ad chi.Router) {
			ad.Use(requireAdmin)
			ad.Get("/diagnostics", r.wrap(r.handleDiagnostics))
			ad.Get("/audit", r.wrap(r.handleAuditLog))
			ad.Post("/tenants", r.wrap(r.handleCreateTenant))
			ad.Get("/tenants", r.wrap(r.handleListTenants))
			ad.Get("/tenants/{id}", r.wrap(r.handleGetTenant))
			ad.Put("/tenants/{id}", r.wrap(r.handleUpdateTenant))
			ad.Post("/tenants/{id}/suspend", r.wrap(r.handleSuspendTenant))
			ad.Get("/tenants/{id}/usage", r.wrap(r.handleTenantUsage))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps service errors onto HTTP status codes. The mapping is the only
// place that knows both worlds.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var status int
		switch {
		case errors.Is(err, errBadRequest):
			status = http.StatusBadRequest
		case errors.Is(err, common.ErrIsolationDenied), errors.Is(err, common.ErrTenantSuspended):
			status = http.StatusForbidden
		case errors.Is(err, common.ErrTenantNotFound):
			status = http.StatusNotFound
		case errors.Is(err, common.ErrAlreadyExists):
			status = http.StatusConflict
		case errors.Is(err, common.ErrQuotaExceeded):
			status = http.StatusTooManyRequests
		case errors.Is(err, common.ErrStoreUnavailable), errors.Is(err, common.ErrSchemaDegraded):
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusInternalServerError
			r.logger.Error(req.Context(), "request failed",
				"method", req.Method, "path", req.URL.Path, "error", err.Error())
		}

		writeJSON(w, status, map[string]string{"error": err.Error()})
	}
}

// POST /v1/scans
func (r *Router) handleStoreScan(w http.ResponseWriter, req *http.Request) error {
	claims := callerClaims(req.Context())

	record := &models.ScanRecord{}
	if err := json.NewDecoder(req.Body).Decode(record); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	// Identity comes from the token, not the payload.
	record.Username = claims.Username
	if !claims.Admin || record.OrganizationID == "" {
		record.OrganizationID = claims.OrganizationID
	}

	res, err := r.scans.Store(req.Context(), record)
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if res.Degraded {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
	return nil
}

// GET /v1/scans?limit=
func (r *Router) handleListScans(w http.ResponseWriter, req *http.Request) error {
	claims := callerClaims(req.Context())
	limit, err := intParam(req, "limit")
	if err != nil {
		return err
	}

	list, listErr := r.scans.GetUserScans(req.Context(), claims.Username, claims.OrganizationID, limit)
	if listErr != nil {
		return listErr
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/scans/recent?username=&since=&limit=&organization_id=
func (r *Router) handleRecentScans(w http.ResponseWriter, req *http.Request) error {
	claims := callerClaims(req.Context())
	q := req.URL.Query()

	limit, err := intParam(req, "limit")
	if err != nil {
		return err
	}

	var since time.Time
	if raw := q.Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("%w: since must be RFC 3339", errBadRequest)
		}
	}

	org := claims.OrganizationID
	if claims.Admin {
		// Admins may pin another organization, or query across all of
		// them with organization_id=*.
		if v := q.Get("organization_id"); v == "*" {
			org = ""
		} else if v != "" {
			org = v
		}
	}

	list, listErr := r.scans.GetRecentScans(req.Context(), q.Get("username"), org, since, limit, claims.Admin)
	if listErr != nil {
		return listErr
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/summary
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	claims := callerClaims(req.Context())

	summary, err := r.scans.AggregateSummary(req.Context(), claims.Username, claims.OrganizationID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, summary)
	return nil
}

// GET /v1/admin/diagnostics
func (r *Router) handleDiagnostics(w http.ResponseWriter, req *http.Request) error {
	orphans, err := r.scans.CountOrphans(req.Context())
	if err != nil {
		return err
	}
	pending, err := r.scans.PendingFallback()
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"orphan_scans":     orphans,
		"fallback_pending": pending,
	})
	return nil
}

// GET /v1/admin/audit?limit=
func (r *Router) handleAuditLog(w http.ResponseWriter, req *http.Request) error {
	limit, err := intParam(req, "limit")
	if err != nil {
		return err
	}
	entries, err := r.tenants.RecentAuditEntries(req.Context(), limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

// POST /v1/admin/tenants
func (r *Router) handleCreateTenant(w http.ResponseWriter, req *http.Request) error {
	claims := callerClaims(req.Context())

	tenant := &models.Tenant{}
	if err := json.NewDecoder(req.Body).Decode(tenant); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if tenant.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id is required", errBadRequest)
	}

	if err := r.tenants.Create(req.Context(), claims.Username, tenant); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, tenant)
	return nil
}

// GET /v1/admin/tenants
func (r *Router) handleListTenants(w http.ResponseWriter, req *http.Request) error {
	tenants, err := r.tenants.List(req.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, tenants)
	return nil
}

// GET /v1/admin/tenants/{id}
func (r *Router) handleGetTenant(w http.ResponseWriter, req *http.Request) error {
	tenant, err := r.tenants.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, tenant)
	return nil
}

// PUT /v1/admin/tenants/{id}
func (r *Router) handleUpdateTenant(w http.ResponseWriter, req *http.Request) error {
	tenant := &models.Tenant{}
	if err := json.NewDecoder(req.Body).Decode(tenant); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	tenant.OrganizationID = chi.URLParam(req, "id")

	if err := r.tenants.Update(req.Context(), tenant); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, tenant)
	return nil
}

// POST /v1/admin/tenants/{id}/suspend
func (r *Router) handleSuspendTenant(w http.ResponseWriter, req *http.Request) error {
	claims := callerClaims(req.Context())

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	if err := r.tenants.Suspend(req.Context(), claims.Username, chi.URLParam(req, "id"), body.Reason); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /v1/admin/tenants/{id}/usage?month=
func (r *Router) handleTenantUsage(w http.ResponseWriter, req *http.Request) error {
	usage, err := r.tenants.Usage(req.Context(), chi.URLParam(req, "id"), req.URL.Query().Get("month"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, usage)
	return nil
}

func intParam(req *http.Request, name string) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
