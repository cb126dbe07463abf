// Package main is the entry point for the cylinder inventory portal server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/internal/config"
	"github.com/pitabwire/cylinder-portal/internal/dashboard"
	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/internal/inward"
	"github.com/pitabwire/cylinder-portal/internal/issuance"
	"github.com/pitabwire/cylinder-portal/internal/observability"
	"github.com/pitabwire/cylinder-portal/internal/procurement"
	"github.com/pitabwire/cylinder-portal/internal/report"
	"github.com/pitabwire/cylinder-portal/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, observability.ServiceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	secret := os.Getenv(cfg.Identity.SecretEnv)
	if secret == "" {
		logger.Error("operator token secret not set", zap.String("env", cfg.Identity.SecretEnv))
		return 1
	}

	// Step 4: Stock ledger and activity feed.
	feed := dashboard.NewFeed(cfg.Dashboard.FeedSize)
	ledger := inventory.NewLedger(cfg.Inventory.Seed, cfg.Inventory.LowStockThresholdPct,
		inventory.WithObserver(metrics),
		inventory.WithObserver(feed),
	)
	for _, level := range ledger.Levels() {
		metrics.SetStockLevel(level, level.LowStock(ledger.Threshold()))
	}

	// Step 5: Material inward persistence.
	sessionStore, recorder, inwardCloser, err := buildInwardStore(ctx, cfg.Inward.Store, logger)
	if err != nil {
		logger.Error("inward store initialization failed", zap.Error(err))
		return 1
	}
	inwardSvc := inward.NewService(sessionStore, recorder,
		inward.WithStockLedger(ledger),
		inward.WithObserver(metrics),
		inward.WithObserver(feed),
		inward.WithLogger(logger),
	)

	// Step 6: Cylinder issue desk.
	idempotencyStore, idempotencyCloser, err := buildIdempotencyStore(ctx, cfg.Issuance.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	desk := issuance.NewDesk(issuance.NewMemoryRequestRepository(cfg.Issuance.Requests), ledger,
		issuance.WithIdempotencyStore(idempotencyStore, cfg.Issuance.Idempotency.DefaultTTL),
		issuance.WithObserver(metrics),
		issuance.WithObserver(feed),
		issuance.WithLogger(logger),
	)

	// Step 7: Purchase orders, dashboard and reports.
	breaker := cfg.Procurement.Breaker
	orderSource := procurement.NewGuardedSource(
		procurement.StaticSource(cfg.Procurement.Orders),
		procurement.NewCircuitBreaker(breaker.FailureThreshold, breaker.SuccessThreshold, breaker.Cooldown),
	)
	catalog := procurement.NewCatalog(orderSource, cfg.Procurement.ResponseWindow)
	if added, err := catalog.Sync(ctx); err != nil {
		logger.Warn("initial purchase order sync failed", zap.Error(err))
	} else {
		logger.Info("purchase orders loaded", zap.Int("count", added))
	}

	refresher := dashboard.NewRefresher(ledger, catalog, desk, cfg.Dashboard.RefreshInterval,
		dashboard.WithFeed(feed),
		dashboard.WithObserver(metrics),
		dashboard.WithLogger(logger),
	)
	exporter := report.NewExporter(inwardSvc, ledger, desk)

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		DashboardReady: func() bool { return refresher.Snapshot().RefreshedAt != "" },
		OrderSource:    orderSource,
	}
	if hc, ok := sessionStore.(observability.HealthChecker); ok {
		readinessChecks.InwardStore = hc
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, []byte(secret)),
		Inward:         inwardSvc,
		Desk:           desk,
		Ledger:         ledger,
		Catalog:        catalog,
		Dashboard:      refresher,
		Reports:        exporter,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readinessChecks),
		MetricsHandler: observability.Handler(),
	})

	// Wrap router with metrics middleware.
	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go refresher.Run(bgCtx)
	go runPurchaseOrderSync(bgCtx, catalog, cfg.Procurement.SyncInterval, logger)

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("inward_store", cfg.Inward.Store.Driver),
		zap.String("idempotency_store", cfg.Issuance.Idempotency.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if inwardCloser != nil {
		inwardCloser()
	}
	if idempotencyCloser != nil {
		idempotencyCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildInwardStore creates the session store and shipment recorder based on
// config. Both share one connection pool when backed by PostgreSQL.
func buildInwardStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (inward.SessionStore, inward.ShipmentRecorder, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory inward store")
		return inward.NewMemorySessionStore(), inward.NewMemoryShipmentRecorder(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("inward store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("inward store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("inward store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("inward store: ping: %w", err)
		}

		if cfg.Migrate {
			if err := inward.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
			logger.Info("inward schema migrated")
		}

		return inward.NewPgSessionStore(pool), inward.NewPgShipmentRecorder(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported inward store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the issuance idempotency store based on config.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyStoreConfig, logger *zap.Logger) (issuance.IdempotencyStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return issuance.NewMemoryIdempotencyStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return issuance.NewRedisIdempotencyStore(client), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Driver)
	}
}

// runPurchaseOrderSync periodically pulls purchase orders from the ERP
// source.
func runPurchaseOrderSync(ctx context.Context, catalog *procurement.Catalog, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, err := catalog.Sync(ctx)
			if err != nil {
				logger.Error("purchase order sync failed", zap.Error(err))
				continue
			}
			if added > 0 {
				logger.Info("purchase orders synced", zap.Int("added", added))
			}
		}
	}
}

// runToken prints a signed operator token for local use.
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	operator := fs.String("operator", "", "operator id (token subject)")
	plant := fs.String("plant", "", "plant id")
	roles := fs.String("roles", "store_keeper", "comma-separated roles")
	ttl := fs.Duration("ttl", 8*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *operator == "" || *plant == "" {
		fmt.Fprintln(os.Stderr, "token: -operator and -plant are required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	secret := os.Getenv(cfg.Identity.SecretEnv)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "token: %s environment variable not set\n", cfg.Identity.SecretEnv)
		return 1
	}

	token, err := transport.IssueToken(cfg.Identity, []byte(secret), *operator, *plant, strings.Split(*roles, ","), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
