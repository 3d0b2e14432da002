// Package server initializes and runs the scan store server: it resolves
// key material, connects storage backends, wires the services together and
// owns graceful shutdown. Startup distinguishes fatal misconfiguration
// (bad keys, bad policy) from degradable outages (schema migration failure,
// unreachable cache), which log and continue.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/cryptox"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/cache"
	"github.com/complyscan/scanstore/internal/server/config"
	"github.com/complyscan/scanstore/internal/server/fallback"
	"github.com/complyscan/scanstore/internal/server/httpapi"
	"github.com/complyscan/scanstore/internal/server/isolation"
	"github.com/complyscan/scanstore/internal/server/keys"
	"github.com/complyscan/scanstore/internal/server/repositories/repomanager"
	"github.com/complyscan/scanstore/internal/server/services"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	handler    http.Handler
	reconciler *services.Reconciler
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// Key material first: a server with a bad master key must not come up.
	keyManager, err := keys.Resolve(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("key manager: %w", err)
	}
	logger.Info(ctx, "key material resolved", "provider", keyManager.ProviderName())

	encryptor, err := cryptox.NewEncryptor(keyManager.MasterKey())
	if err != nil {
		return nil, fmt.Errorf("encryptor: %w", err)
	}

	if cfg.DatabaseDSN == "" {
		return nil, common.ErrMissingDSN
	}
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxDBConns)
	db.SetMaxIdleConns(cfg.MaxDBConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(ctx, db); err != nil {
		// Reads against the existing schema still work; only features
		// relying on the newest migration are off.
		logger.Error(ctx, "schema migration failed, continuing degraded", "error", err.Error())
	}

	enforcer, err := isolation.NewEnforcer(db, manager, isolation.Policy{
		BypassEnabled: cfg.DisableIsolation,
		BypassReason:  cfg.IsolationBypassReason,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("isolation policy: %w", err)
	}
	if enforcer.BypassEnabled() {
		logger.Warn(ctx, "TENANT ISOLATION IS DISABLED", "reason", cfg.IsolationBypassReason)
	}

	resultCache := buildCache(ctx, cfg, logger)

	spool, err := fallback.NewSpool(cfg.SpoolDir, logger)
	if err != nil {
		return nil, fmt.Errorf("fallback spool: %w", err)
	}

	var archiver fallback.Archiver
	if cfg.ArchiveBucket != "" {
		archiver = fallback.NewS3Archiver(cfg)
	}

	scanService := services.NewScanService(db, manager, enforcer, encryptor, resultCache, spool, cfg, logger)
	tenantService := services.NewTenantService(db, manager, logger)
	reconciler := services.NewReconciler(db, manager, spool, archiver, resultCache, cfg, logger)

	handler := httpapi.NewRouter(scanService, tenantService, keyManager.SigningSecret(), logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		handler:    handler,
		reconciler: reconciler,
	}, nil
}

// buildCache wires the configured backend behind the degrading wrapper. No
// backend configured, or a backend that does not answer, still yields a
// working (all-miss) cache.
func buildCache(ctx context.Context, cfg *config.Config, logger logging.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewNoop()
	}

	backend := cache.NewRedisBackend(cfg.RedisAddr)
	if err := backend.Ping(ctx); err != nil {
		logger.Warn(ctx, "cache backend not answering, starting degraded",
			"addr", cfg.RedisAddr, "error", err.Error())
	}
	return cache.NewDegrading(backend, logger)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:         app.config.EndpointAddrHTTP,
		Handler:      app.handler,
		ReadTimeout:  app.config.ReadTimeout,
		WriteTimeout: app.config.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "http shutdown error", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server error", "error", err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting scan store")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reconciler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
	app.logger.Info(ctx, "scan store stopped")
}
