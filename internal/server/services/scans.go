// Package services holds the application services behind the HTTP surface:
// the scan results aggregator, tenant management and the spool reconciler.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/cache"
	sc "github.com/complyscan/scanstore/internal/server/config"
	"github.com/complyscan/scanstore/internal/server/fallback"
	"github.com/complyscan/scanstore/internal/server/isolation"
	"github.com/complyscan/scanstore/internal/server/models"
	"github.com/complyscan/scanstore/internal/server/repositories/repomanager"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50

	defaultRecentWindow = 24 * time.Hour

	// Stale copies outlive the regular cache entry so listings can still be
	// served, marked stale, while the primary store is down.
	staleTTLFactor = 10

	retryBackoff = 200 * time.Millisecond
)

// Encryptor is the payload codec the aggregator uses. Satisfied by
// cryptox.Encryptor.
type Encryptor interface {
	Encrypt(organizationID string, plaintext []byte) ([]byte, error)
	Decrypt(organizationID string, blob []byte) ([]byte, error)
}

// ScanService is the results aggregator: the single entry point for storing
// and querying scan records. Every operation authorizes through the
// isolation enforcer first, and every read path returns an envelope rather
// than a bare error so the dashboard can always render something.
type ScanService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	enforcer    *isolation.Enforcer
	encryptor   Encryptor
	cache       cache.Cache
	spool       *fallback.Spool
	config      *sc.Config
	logger      logging.Logger
}

func NewScanService(db *sql.DB, repomanager repomanager.RepositoryManager,
	enforcer *isolation.Enforcer, encryptor Encryptor, c cache.Cache,
	spool *fallback.Spool, config *sc.Config, logger logging.Logger) *ScanService {
	return &ScanService{
		db:          db,
		repomanager: repomanager,
		enforcer:    enforcer,
		encryptor:   encryptor,
		cache:       c,
		spool:       spool,
		config:      config,
		logger:      logger,
	}
}

// Store accepts one scan record. The write is retried once against the
// primary store; if both attempts fail the record is spooled to the file
// fallback and the call still succeeds, reporting Degraded=true. The caller
// never gets an error for a store outage, only for an authorization denial
// or an invalid record.
func (s *ScanService) Store(ctx context.Context, record *models.ScanRecord) (*models.StoreResult, error) {
	if record == nil || record.Username == "" {
		return nil, fmt.Errorf("%w: scan record requires a username", common.ErrIsolationDenied)
	}
	record.Normalize()

	tenant, err := s.enforcer.Authorize(ctx, record.Username, record.OrganizationID, isolation.OpWrite)
	if err != nil {
		return nil, err
	}

	if record.ScanID == "" {
		record.ScanID = uuid.NewString()
	}

	if tenant.EncryptionEnabled && len(record.ResultPayload) > 0 {
		blob, err := s.encryptor.Encrypt(record.OrganizationID, record.ResultPayload)
		if err != nil {
			return nil, fmt.Errorf("encrypt payload: %w", err)
		}
		record.ResultPayload = blob
	}

	machine := fallback.NewWriteMachine()
	writeErr := retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(retryBackoff)),
		func(ctx context.Context) error {
			if err := s.insert(ctx, record); err != nil {
				machine.Fail()
				s.logger.Warn(ctx, "scan insert failed",
					"scan_id", record.ScanID, "state", machine.State().String(), "error", err.Error())
				return retry.RetryableError(err)
			}
			return nil
		})

	if writeErr != nil {
		return s.storeDegraded(ctx, record, writeErr)
	}

	s.afterStore(ctx, record, models.AuditActionScanStored)
	return &models.StoreResult{ScanID: record.ScanID, Degraded: false}, nil
}

// insert performs the actual database write. The context is detached from
// the caller's cancellation: once the record is accepted, an impatient HTTP
// client must not abort the insert halfway.
func (s *ScanService) insert(ctx context.Context, record *models.ScanRecord) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.WriteTimeout)
	defer cancel()
	return s.repomanager.Scans(s.db).Create(writeCtx, record)
}

func (s *ScanService) storeDegraded(ctx context.Context, record *models.ScanRecord, cause error) (*models.StoreResult, error) {
	record.Degraded = true
	spooled := &fallback.SpooledRecord{
		Record:    record,
		Reason:    cause.Error(),
		SpooledAt: time.Now().UTC(),
	}
	if err := s.spool.Append(ctx, spooled); err != nil {
		// Primary store and fallback both failed; nothing durable holds
		// the record, so this is the one store path that errors.
		return nil, fmt.Errorf("%w: %v (spool: %v)", common.ErrStoreUnavailable, cause, err)
	}

	s.logger.Warn(ctx, "scan record spooled to file fallback",
		"scan_id", record.ScanID, "org", record.OrganizationID, "cause", cause.Error())
	s.afterStore(ctx, record, models.AuditActionScanSpooled)

	return &models.StoreResult{
		ScanID:   record.ScanID,
		Degraded: true,
		Reason:   "primary store unavailable, record spooled for reconciliation",
	}, nil
}

// afterStore handles the non-critical tail of a write: usage accounting,
// audit and cache invalidation. Failures here are logged, never surfaced;
// the record itself is already durable.
func (s *ScanService) afterStore(ctx context.Context, record *models.ScanRecord, action string) {
	ctx = context.WithoutCancel(ctx)

	month := record.Timestamp.UTC().Format("2006-01")
	if err := s.repomanager.Usage(s.db).IncrementScanCount(ctx, record.OrganizationID, month, int64(len(record.ResultPayload))); err != nil {
		s.logger.Error(ctx, "failed to record tenant usage",
			"org", record.OrganizationID, "error", err.Error())
	}

	entry := &models.AuditLogEntry{
		LogID:     uuid.NewString(),
		Username:  record.Username,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Details: map[string]string{
			"scan_id":         record.ScanID,
			"organization_id": record.OrganizationID,
			"scan_type":       string(record.ScanType),
		},
	}
	if err := s.repomanager.Audit(s.db).Append(ctx, entry); err != nil {
		s.logger.Error(ctx, "failed to append audit entry",
			"action", action, "scan_id", record.ScanID, "error", err.Error())
	}

	s.cache.Invalidate(ctx, cache.KeyPrefix(record.OrganizationID, record.Username))
	s.cache.Invalidate(ctx, cache.KeyPrefix(record.OrganizationID, orgWideUser))
}

// orgWideUser is the username slot in cache keys for org-wide queries.
const orgWideUser = "_all"

// GetUserScans lists the caller's own records, newest first. Reads go
// through the cache; on a primary-store outage a stale cached copy is
// served, marked Stale, rather than answering with an empty list.
func (s *ScanService) GetUserScans(ctx context.Context, username, organizationID string, limit int) (*models.ScanList, error) {
	tenant, err := s.enforcer.Authorize(ctx, username, organizationID, isolation.OpRead)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	key := cache.Key(organizationID, username, "user", strconv.Itoa(limit))
	records, stale, err := s.fetchCached(ctx, key, func(ctx context.Context) ([]*models.ScanRecord, error) {
		return s.repomanager.Scans(s.db).SelectByUser(ctx, username, organizationID, limit)
	})
	if err != nil {
		return nil, err
	}

	return s.buildList(ctx, tenant, records, stale), nil
}

// GetRecentScans lists records across the organization newer than since.
// Username is an optional narrowing filter. An empty organization id is the
// administrative cross-tenant view and is only reachable when the caller
// passed the admin gate upstream.
func (s *ScanService) GetRecentScans(ctx context.Context, username, organizationID string, since time.Time, limit int, admin bool) (*models.ScanList, error) {
	var tenant *models.Tenant
	if organizationID == "" {
		if !admin {
			return nil, fmt.Errorf("%w: cross-tenant listing requires admin", common.ErrIsolationDenied)
		}
	} else {
		var err error
		tenant, err = s.enforcer.Authorize(ctx, username, organizationID, isolation.OpRead)
		if err != nil {
			return nil, err
		}
	}

	limit = clampLimit(limit)
	if since.IsZero() {
		since = time.Now().UTC().Add(-defaultRecentWindow)
	}

	readCtx, cancel := context.WithTimeout(ctx, s.config.ReadTimeout)
	defer cancel()

	records, err := s.repomanager.Scans(s.db).SelectRecent(readCtx, since, username, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	if tenant == nil {
		// Cross-tenant view: payloads stay sealed, metadata only.
		list := &models.ScanList{Data: stripPayloads(records)}
		return list, nil
	}
	return s.buildList(ctx, tenant, records, false), nil
}

// AggregateSummary returns the tenant's dashboard counters. Same degrade
// path as listings: a stale cached summary beats an error page.
func (s *ScanService) AggregateSummary(ctx context.Context, username, organizationID string) (*models.Summary, error) {
	if _, err := s.enforcer.Authorize(ctx, username, organizationID, isolation.OpRead); err != nil {
		return nil, err
	}

	key := cache.Key(organizationID, orgWideUser, "summary")
	if blob, ok := s.cache.Get(ctx, key); ok {
		summary := &models.Summary{}
		if err := json.Unmarshal(blob, summary); err == nil {
			return summary, nil
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, s.config.ReadTimeout)
	defer cancel()

	totalScans, totalPII, highRisk, err := s.repomanager.Scans(s.db).Summary(readCtx, organizationID)
	if err != nil {
		if blob, ok := s.cache.Get(ctx, staleKey(key)); ok {
			summary := &models.Summary{}
			if jerr := json.Unmarshal(blob, summary); jerr == nil {
				summary.Stale = true
				summary.Errors = append(summary.Errors, "primary store unavailable, serving cached summary")
				return summary, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	summary := &models.Summary{TotalScans: totalScans, TotalPII: totalPII, HighRiskCount: highRisk}
	if blob, err := json.Marshal(summary); err == nil {
		s.cache.Set(ctx, key, blob, s.config.CacheTTL)
		s.cache.Set(ctx, staleKey(key), blob, staleTTLFactor*s.config.CacheTTL)
	}
	return summary, nil
}

// CountOrphans reports scans whose organization no longer resolves to a
// tenant row. Diagnostic only; orphans are excluded from every query.
func (s *ScanService) CountOrphans(ctx context.Context) (int, error) {
	return s.repomanager.Scans(s.db).CountOrphans(ctx)
}

// PendingFallback reports how many records sit in the file fallback waiting
// for reconciliation.
func (s *ScanService) PendingFallback() (int, error) {
	return s.spool.Pending()
}

// fetchCached is the read-through path shared by listing queries: cache,
// then database, then the long-lived stale copy when the database is down.
// Cached entries hold records with payloads still sealed; decryption always
// happens after this returns, so plaintext never reaches the cache backend.
func (s *ScanService) fetchCached(ctx context.Context, key string,
	query func(ctx context.Context) ([]*models.ScanRecord, error)) ([]*models.ScanRecord, bool, error) {

	if blob, ok := s.cache.Get(ctx, key); ok {
		var records []*models.ScanRecord
		if err := json.Unmarshal(blob, &records); err == nil {
			return records, false, nil
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, s.config.ReadTimeout)
	defer cancel()

	records, err := query(readCtx)
	if err != nil {
		if blob, ok := s.cache.Get(ctx, staleKey(key)); ok {
			var stale []*models.ScanRecord
			if jerr := json.Unmarshal(blob, &stale); jerr == nil {
				s.logger.Warn(ctx, "serving stale cached records", "key", key, "error", err.Error())
				return stale, true, nil
			}
		}
		// No stale copy: an outage must read as unavailable, never as an
		// empty result set.
		return nil, false, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	if blob, err := json.Marshal(records); err == nil {
		s.cache.Set(ctx, key, blob, s.config.CacheTTL)
		s.cache.Set(ctx, staleKey(key), blob, staleTTLFactor*s.config.CacheTTL)
	}
	return records, false, nil
}

// buildList decrypts payloads and assembles the result envelope. Records
// whose payload cannot be opened are skipped and counted instead of failing
// the whole listing: one stale-key record must not take down the dashboard.
func (s *ScanService) buildList(ctx context.Context, tenant *models.Tenant, records []*models.ScanRecord, stale bool) *models.ScanList {
	list := &models.ScanList{Data: make([]*models.ScanRecord, 0, len(records)), Stale: stale}
	if stale {
		list.Errors = append(list.Errors, "primary store unavailable, serving cached results")
	}

	for _, rec := range records {
		if !tenant.EncryptionEnabled || len(rec.ResultPayload) == 0 {
			list.Data = append(list.Data, rec)
			continue
		}

		plaintext, err := s.encryptor.Decrypt(rec.OrganizationID, rec.ResultPayload)
		switch {
		case err == nil:
			out := *rec
			out.ResultPayload = plaintext
			list.Data = append(list.Data, &out)
		case errors.Is(err, common.ErrStaleKey):
			list.Skipped++
			list.Errors = append(list.Errors, fmt.Sprintf("scan %s: written under a rotated key", rec.ScanID))
			s.logger.Warn(ctx, "skipping record written under rotated key", "scan_id", rec.ScanID)
		default:
			list.Skipped++
			list.Errors = append(list.Errors, fmt.Sprintf("scan %s: payload could not be decrypted", rec.ScanID))
			s.logger.Error(ctx, "skipping undecryptable record", "scan_id", rec.ScanID, "error", err.Error())
		}
	}
	return list
}

func stripPayloads(records []*models.ScanRecord) []*models.ScanRecord {
	out := make([]*models.ScanRecord, 0, len(records))
	for _, rec := range records {
		cp := *rec
		cp.ResultPayload = nil
		out = append(out, &cp)
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// staleKey prefixes rather than suffixes so stale copies live outside the
// per-user invalidation prefix: a degraded write must not wipe the copy
// that exists to be served during the outage.
func staleKey(key string) string {
	return "stale:" + key
}
