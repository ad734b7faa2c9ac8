package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/activitymap"
	"github.com/goliatone/go-auth-gate/backend"
	"github.com/goliatone/go-auth-gate/provider/identitytoolkit"
	"github.com/goliatone/go-auth-gate/repository"
	"github.com/goliatone/go-auth-gate/rest"
)

//go:embed views
var viewsFS embed.FS

// redisEntryTTL bounds how long an idle browser keeps its local storage
const redisEntryTTL = 30 * 24 * time.Hour

type App struct {
	cfg    *gate.EnvConfig
	lgr    *glog.BaseLogger
	logger gate.Logger

	db      *bun.DB
	rdb     redis.UniversalClient
	storage gate.LocalStorage

	promReg  *prometheus.Registry
	metrics  *gate.Metrics
	activity gate.ActivitySink

	identity *identitytoolkit.Provider
	verifier *identitytoolkit.Verifier
	public   *backend.Public

	clients *gate.ClientRegistry
	guard   *gate.RouteGuard
	srv     *fiber.App
}

// Serve boots every collaborator and blocks until ctx is done
func Serve(ctx context.Context, cfg *gate.EnvConfig) error {
	app := &App{cfg: cfg}
	app.SetLogger(newLogger(cfg.Debug))
	defer app.Close()

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithMetrics,
		WithIdentity,
		WithBackend,
		WithClients,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			return err
		}
	}

	Routes(app)

	go app.clients.Run(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.srv.Listen(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		app.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.srv.ShutdownWithContext(shutdownCtx)
	}
}

func (a *App) SetLogger(lgr *glog.BaseLogger) *App {
	a.lgr = lgr
	a.logger = lgr.GetLogger("app")
	return a
}

func (a *App) GetLogger(name string) gate.Logger {
	return a.lgr.GetLogger(name)
}

func (a *App) Close() {
	if a.clients != nil {
		a.clients.Close()
	}
	if a.verifier != nil {
		a.verifier.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close", "error", err)
		}
	}
}

// WithPersistence picks Redis when an address is configured and the SQL
// local storage otherwise.
func WithPersistence(ctx context.Context, app *App) error {
	if app.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		app.rdb = rdb
		app.storage = repository.NewRedisStorage(rdb, redisEntryTTL)
		app.GetLogger("persistence").Info("using redis local storage", "addr", app.cfg.RedisAddr)
		return nil
	}

	db, store, err := openSQLStorage(ctx, app.cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	app.db = db
	app.storage = store
	return nil
}

func openSQLStorage(ctx context.Context, dsn string) (*bun.DB, *repository.BunStorage, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	store := repository.NewBunStorage(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate local storage: %w", err)
	}
	return db, store, nil
}

// PruneTokens deletes persisted token records older than ttl
func PruneTokens(ctx context.Context, cfg *gate.EnvConfig, ttl time.Duration) (int64, error) {
	db, store, err := openSQLStorage(ctx, cfg.DatabaseDSN)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return store.Prune(ctx, gate.TokenStorageKey, time.Now().Add(-ttl))
}

func WithMetrics(_ context.Context, app *App) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.promReg = reg
	app.metrics = gate.NewMetrics(reg)

	logger := app.GetLogger("activity")
	app.activity = activitymap.Sink(func(record activitymap.Record) error {
		logger.Info("activity",
			"verb", record.Verb,
			"actor", record.ActorID,
			"client", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})
	return nil
}

func WithIdentity(_ context.Context, app *App) error {
	cfg := app.cfg
	if cfg.IdentityAPIKey == "" {
		return errors.New("TOURGATE_IDENTITY_API_KEY is required")
	}

	client := identitytoolkit.NewClient(identitytoolkit.Config{
		BaseURL:    cfg.IdentityURL,
		TokenURL:   cfg.IdentityTokenURL,
		APIKey:     cfg.IdentityAPIKey,
		HTTPClient: &http.Client{Timeout: cfg.GetRequestTimeout()},
	})

	logger := app.GetLogger("identity")
	if cfg.IdentityJWKSURL != "" {
		verifier, err := identitytoolkit.NewVerifier(identitytoolkit.VerifierConfig{
			JWKSURL:  cfg.IdentityJWKSURL,
			Issuer:   cfg.IdentityIssuer,
			Audience: cfg.IdentityAudience,
			Leeway:   30 * time.Second,
			RefreshErrorHandler: func(err error) {
				logger.Error("failed to do a background refresh of JWT set", "error", err)
			},
		})
		if err != nil {
			return err
		}
		app.verifier = verifier
	} else {
		logger.Warn("TOURGATE_IDENTITY_JWKS_URL not set, identity tokens are not verified")
	}

	app.identity = identitytoolkit.NewProvider(client, app.verifier).
		WithLogger(logger).
		WithLoadTimeout(cfg.GetRequestTimeout()).
		WithDebug(cfg.Debug)
	return nil
}

func WithBackend(_ context.Context, app *App) error {
	client, err := rest.NewPublic(app.cfg.BackendURL, rest.WithTimeout(app.cfg.GetRequestTimeout()))
	if err != nil {
		return err
	}
	app.public = backend.NewPublic(client)
	return nil
}

// WithClients wires the per browser session: local storage scoped to the
// client, its identity state, the session store, an authenticated backend
// client reading the store token and the role resolver on top of it.
func WithClients(_ context.Context, app *App) error {
	cfg := app.cfg

	factory := func(ctx context.Context, clientID string) (*gate.ClientSession, error) {
		storage := gate.Scope(app.storage, clientID)
		identity := app.identity.ForClient(storage)

		store := gate.NewStore(clientID, identity, storage, app.public).
			WithLogger(app.GetLogger("gate:session")).
			WithTokenTTL(cfg.GetTokenTTL()).
			WithRequestTimeout(cfg.GetRequestTimeout()).
			WithActivitySink(app.activity).
			WithMetrics(app.metrics)

		secureClient, err := rest.NewAuthenticated(cfg.BackendURL, store, rest.WithTimeout(cfg.GetRequestTimeout()))
		if err != nil {
			return nil, err
		}
		secure := backend.NewSecure(secureClient)

		roles := gate.NewRoleResolver(secure).
			WithFetchTimeout(cfg.GetRequestTimeout()).
			WithLogger(app.GetLogger("gate:roles")).
			WithMetrics(app.metrics)

		client := gate.NewClientSession(clientID, store, roles)
		client.API = secure
		return client, nil
	}

	app.clients = gate.NewClientRegistry(factory, cfg).
		WithLogger(app.GetLogger("gate:clients")).
		WithMetrics(app.metrics)

	app.guard = gate.NewRouteGuard(app.clients, cfg).
		WithLogger(app.GetLogger("gate:guard")).
		WithMetrics(app.metrics).
		WithActivitySink(app.activity)
	app.guard.LoadingView = "loading"

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	engine := django.NewPathForwardingFileSystem(http.FS(viewsFS), "/views", ".html")
	engine.Reload(app.cfg.Debug)

	app.srv = fiber.New(fiber.Config{
		AppName:               "tourgate",
		Views:                 engine,
		DisableStartupMessage: !app.cfg.Debug,
		ErrorHandler:          errorHandler(app.GetLogger("http")),
	})
	app.srv.Use(recover.New(), gate.CSRF(app.cfg))
	return nil
}

func newLogger(debug bool) *glog.BaseLogger {
	if debug {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("tourgate"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithLevel(glog.Info),
		glog.WithName("tourgate"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}
