package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/config"
	"github.com/platinummonkey/acesso/pkg/identity"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/rbac"
	"github.com/platinummonkey/acesso/pkg/server"
)

var version = "dev"

var (
	configPath = flag.String("config", getEnv("ACESSO_CONFIG", ""), "Path to YAML configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	seedAdmin  = flag.String("seed-admin", "", "Create an active Admin employee as id:name if it does not exist")
	issueToken = flag.String("issue-token", "", "Print a bearer token for the given employee id and exit")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout).WithField("service", "acessod")
	jwt := identity.NewJWTProvider(cfg.Identity.JWTSecret, cfg.Identity.Issuer)

	if *issueToken != "" {
		token, err := jwt.Issue(identity.Actor{ID: *issueToken, Name: *issueToken}, cfg.Identity.TokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger, jwt); err != nil {
		logger.WithError(err).Error("acessod stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, jwt *identity.JWTProvider) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	origins, err := audit.NewOriginResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	health := observability.NewHealthChecker(version)
	store, err := server.OpenStore(ctx, cfg, logger, health)
	if err != nil {
		return err
	}

	auditStore := audit.NewStore(store, audit.StoreConfig{
		WriteTimeout: cfg.Audit.WriteTimeout,
		MaxAttempts:  cfg.Audit.MaxAttempts,
		RetryBackoff: audit.DefaultStoreConfig().RetryBackoff,
	}, logger, metrics)

	recorder := audit.QueryRecorder(auditStore)
	var fileRecorder *audit.FileRecorder
	if cfg.Audit.FilePath != "" {
		fileRecorder, err = audit.NewFileRecorder(audit.FileRecorderConfig{
			Path:     cfg.Audit.FilePath,
			MaxSize:  int64(cfg.Audit.FileMaxSizeMB) << 20,
			MaxFiles: 10,
		})
		if err != nil {
			store.Close() //nolint:errcheck
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		recorder = teeRecorder{Store: auditStore, copies: audit.NewMultiRecorder(fileRecorder), logger: logger}
	}

	overrides := rbac.NewOverrideStore(store, recorder, rbac.OverrideStoreConfig{
		CacheSize:   cfg.RBAC.OverrideCacheSize,
		CacheTTL:    cfg.RBAC.OverrideCacheTTL,
		LoadTimeout: cfg.RBAC.OverrideLoadTimeout,
	}, logger, metrics)
	directory := rbac.NewDirectory(store, recorder, logger)
	resolver := rbac.NewResolver(overrides, logger, metrics)

	if *seedAdmin != "" {
		if err := seed(ctx, directory, *seedAdmin); err != nil {
			store.Close() //nolint:errcheck
			return err
		}
	}

	srv := server.New(server.Options{
		Logger:      logger,
		Metrics:     metrics,
		Registry:    registry,
		Health:      health,
		Identity:    jwt,
		Directory:   directory,
		Overrides:   overrides,
		Resolver:    resolver,
		Audit:       recorder,
		Origins:     origins,
		RateLimit:   cfg.Server.RateLimit,
		Development: cfg.Server.Development,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     log.New(logger.Writer(), "", 0),
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return store.Close() })
	if fileRecorder != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return fileRecorder.Close() })
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return observability.ShutdownOTel(ctx, providers) })
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    cfg.Server.Addr,
			"version": version,
			"storage": cfg.Storage.Driver,
		}).Info("starting acessod")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	done := make(chan error, 1)
	go func() { done <- shutdown.WaitForShutdown() }()

	select {
	case err, ok := <-errCh:
		if ok {
			shutdown.Shutdown() //nolint:errcheck
			return fmt.Errorf("http server failed: %w", err)
		}
		return <-done
	case err := <-done:
		return err
	}
}

// teeRecorder records to the document store and then to the copies. Only
// the store decides whether the entry was recorded.
type teeRecorder struct {
	*audit.Store
	copies audit.Recorder
	logger *observability.Logger
}

func (t teeRecorder) Record(ctx context.Context, entry *audit.Entry) error {
	if err := t.Store.Record(ctx, entry); err != nil {
		return err
	}
	if err := t.copies.Record(ctx, entry); err != nil {
		t.logger.WithError(err).WithField("entry_id", entry.ID).Warn("audit copy not written")
	}
	return nil
}

func seed(ctx context.Context, directory *rbac.Directory, value string) error {
	id, name, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("seed-admin must be id:name, got %q", value)
	}

	admin := &rbac.Employee{ID: id, Name: name, Role: rbac.RoleAdmin, Status: rbac.StatusActive}
	err := directory.Create(ctx, admin, audit.Actor{ID: "system", Name: "system"})
	switch {
	case err == nil, errors.Is(err, audit.ErrRecordFailed):
		return nil
	case errors.Is(err, rbac.ErrEmployeeExists):
		return nil
	default:
		return fmt.Errorf("failed to seed admin %s: %w", id, err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
