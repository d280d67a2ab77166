package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard-api/api"
	"taskboard-api/config"
	"taskboard-api/domain"
	"taskboard-api/identity"
	"taskboard-api/storage"
)

const shutdownTimeout = 10 * time.Second

var errAdminDisabled = errors.New("user management is not configured")

// disabledAdmin stands in for the identity admin when no service account is
// configured, e.g. in local auth mode.
type disabledAdmin struct{}

func (disabledAdmin) CreateUser(context.Context, domain.NewIdentity) (domain.IdentityRecord, error) {
	return domain.IdentityRecord{}, errAdminDisabled
}

func (disabledAdmin) DeleteUser(context.Context, string) error {
	return errAdminDisabled
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := newLogger(cfg)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	)
	otel.SetTracerProvider(tp)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var deduper api.Deduper
	if cfg.Redis.ConnectionString != "" {
		rc := redis.NewClient(redisOptions(cfg.Redis.ConnectionString))
		defer rc.Close()
		store = storage.NewCache(store, rc, cfg.Redis.BoardCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		logger.Info("redis board cache and idempotency keys enabled")
	}

	var publisher domain.Publisher = domain.NopPublisher{}
	var dispatcher *storage.Dispatcher
	if cfg.Storage.Backend == config.BackendAzure && cfg.Storage.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue, runtime.NumCPU())
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		dispatcher = storage.NewDispatcher(queue, storage.DispatcherConfig{
			Workers:        cfg.Events.Workers,
			Buffer:         cfg.Events.Buffer,
			Timeout:        cfg.Events.Timeout,
			HandoffTimeout: cfg.Events.HandoffTimeout,
		}, queue.Concurrency(), runtime.NumCPU(), logger)
		publisher = dispatcher
	}

	verifier, err := identity.NewVerifier(identity.VerifierConfig{
		ProjectID:   cfg.Firebase.ProjectID,
		KeyCacheTTL: cfg.Firebase.JWKSCacheTTL,
		LocalMode:   cfg.Firebase.LocalAuthMode,
		LocalSecret: cfg.Firebase.LocalAuthSecret,
	}, logger)
	if err != nil {
		logger.Fatalf("token verifier: %v", err)
	}
	defer verifier.Close()

	var admin domain.IdentityAdmin = disabledAdmin{}
	if cfg.HasServiceAccount() {
		admin, err = identity.NewAdmin(ctx, identity.AdminConfig{
			ProjectID:   cfg.Firebase.ProjectID,
			ClientEmail: cfg.Firebase.ClientEmail,
			PrivateKey:  cfg.Firebase.PrivateKey,
		})
		if err != nil {
			logger.Fatalf("identity admin: %v", err)
		}
	} else {
		logger.Warn("no service account configured; registration is disabled")
	}

	tasks := domain.NewTaskService(store, publisher, logger)
	accounts := domain.NewAccountService(store, admin, verifier, publisher, logger)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Validator = api.NewRequestValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.CORSOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware(0))
	e.Use(middleware.BodyLimit(api.BodyLimit))
	e.Use(echoprometheus.NewMiddleware("taskboard"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, accounts, tasks, verifier, deduper, logger)

	go func() {
		logger.Infof("listening on :%s (storage: %s)", cfg.Port, cfg.Storage.Backend)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown failed")
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

// openStore returns the configured document store and its cleanup func.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (domain.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.Storage.SQLitePath).Info("using sqlite storage")
		return db, func() { _ = db.Close() }, nil
	default:
		if cfg.Storage.Provision {
			if err := storage.Provision(ctx, cfg.Storage.ConnectionString, cfg.Storage.DocumentsTable, cfg.Storage.EventsQueue, logger); err != nil {
				return nil, nil, err
			}
		}
		tables, err := storage.NewTables(cfg.Storage.ConnectionString, cfg.Storage.DocumentsTable)
		if err != nil {
			return nil, nil, err
		}
		return tables, func() {}, nil
	}
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
