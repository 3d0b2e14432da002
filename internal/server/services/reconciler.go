package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/cache"
	sc "github.com/complyscan/scanstore/internal/server/config"
	"github.com/complyscan/scanstore/internal/server/fallback"
	"github.com/complyscan/scanstore/internal/server/repositories/repomanager"
)

const (
	retentionSweepInterval = time.Hour
	auditRetention         = 365 * 24 * time.Hour
)

// Reconciler drains the file fallback back into the primary store and runs
// the per-tenant retention sweep. It is a background loop owned by the
// server process; there is no external job runner.
type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	spool       *fallback.Spool
	archiver    fallback.Archiver
	cache       cache.Cache
	config      *sc.Config
	logger      logging.Logger
}

func NewReconciler(db *sql.DB, repomanager repomanager.RepositoryManager,
	spool *fallback.Spool, archiver fallback.Archiver, c cache.Cache,
	config *sc.Config, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: repomanager,
		spool:       spool,
		archiver:    archiver,
		cache:       c,
		config:      config,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled, draining the spool on every tick and
// sweeping expired records on a slower cadence.
func (r *Reconciler) Run(ctx context.Context) {
	drain := time.NewTicker(r.config.ReconcileInterval)
	defer drain.Stop()
	sweep := time.NewTicker(retentionSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drain.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.logger.Error(ctx, "spool drain failed", "error", err.Error())
			}
		case <-sweep.C:
			r.SweepRetention(ctx)
		}
	}
}

// DrainOnce moves every pending spooled record into the primary store. A
// record that already landed in a previous, partially-failed drain is
// marked reconciled instead of erroring on the duplicate key. Applied
// records are archived to object storage when an archiver is configured.
func (r *Reconciler) DrainOnce(ctx context.Context) error {
	applied, err := r.spool.Drain(ctx, func(ctx context.Context, rec *fallback.SpooledRecord) error {
		record := *rec.Record
		record.Degraded = false

		writeCtx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
		defer cancel()

		createErr := r.repomanager.Scans(r.db).Create(writeCtx, &record)
		if createErr != nil {
			if errors.Is(createErr, common.ErrAlreadyExists) {
				return r.repomanager.Scans(r.db).MarkReconciled(writeCtx, record.ScanID)
			}
			return createErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	r.logger.Info(ctx, "spool drained", "records", len(applied))

	// Listings cached between store recovery and this drain do not contain
	// the reconciled records; drop them per (org, user) and org-wide.
	type scope struct{ org, user string }
	seen := map[scope]struct{}{}
	for _, rec := range applied {
		seen[scope{rec.Record.OrganizationID, rec.Record.Username}] = struct{}{}
		seen[scope{rec.Record.OrganizationID, orgWideUser}] = struct{}{}
	}
	for s := range seen {
		r.cache.Invalidate(ctx, cache.KeyPrefix(s.org, s.user))
	}

	if r.archiver != nil {
		data, err := fallback.DrainedBatchBytes(applied)
		if err != nil {
			return err
		}
		if err := r.archiver.Archive(ctx, data); err != nil {
			// The records are safe in postgres; losing the archive copy
			// is log-worthy, not retry-worthy.
			r.logger.Error(ctx, "failed to archive drained batch", "error", err.Error())
		}
	}
	return nil
}

// SweepRetention deletes each tenant's records older than its retention
// window, and trims the audit log. Tenants without a retention policy keep
// everything.
func (r *Reconciler) SweepRetention(ctx context.Context) {
	tenants, err := r.repomanager.Tenants(r.db).List(ctx)
	if err != nil {
		r.logger.Error(ctx, "retention sweep: listing tenants failed", "error", err.Error())
		return
	}

	now := time.Now().UTC()
	for _, tenant := range tenants {
		if tenant.DataRetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -tenant.DataRetentionDays)
		n, err := r.repomanager.Scans(r.db).DeleteOlderThan(ctx, tenant.OrganizationID, cutoff)
		if err != nil {
			r.logger.Error(ctx, "retention sweep failed",
				"org", tenant.OrganizationID, "error", err.Error())
			continue
		}
		if n > 0 {
			r.logger.Info(ctx, "retention sweep removed records",
				"org", tenant.OrganizationID, "removed", n, "cutoff", cutoff.Format(time.RFC3339))
			r.cache.Invalidate(ctx, cache.KeyPrefix(tenant.OrganizationID, orgWideUser))
		}
	}

	if _, err := r.repomanager.Audit(r.db).DeleteOlderThan(ctx, now.Add(-auditRetention)); err != nil {
		r.logger.Error(ctx, "audit log trim failed", "error", err.Error())
	}
}
