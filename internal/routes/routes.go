package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/vault-core/vault_core/internal/audit"
	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/cache"
	"github.com/vault-core/vault_core/internal/config"
	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/metrics"
	"github.com/vault-core/vault_core/internal/middleware"
	"github.com/vault-core/vault_core/internal/query"
	"github.com/vault-core/vault_core/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB, SQL,
// Cache and Audit are optional in development.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	SQL     *sqlx.DB
	Cache   *redis.Client
	Audit   audit.Emitter
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.DB != nil && d.SQL == nil {
		return fmt.Errorf("read model connection is required alongside the database pool")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewCollector()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	var (
		store  ledger.Store
		reader query.Reader
	)
	if d.DB != nil {
		if d.Cfg.AutoMigrate {
			if err := ledger.EnsureSchema(context.Background(), d.DB); err != nil {
				return err
			}
		}
		store = ledger.NewPostgresStore(d.DB)
		reader = query.NewSQLReader(d.SQL)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger")
		mem := ledger.NewInMemoryStore()
		store, reader = mem, mem
	}

	emitter := audit.Fanout{audit.NewLoggerEmitter(d.Logger), d.Audit}
	opts := []ledger.Option{
		ledger.WithEmitter(emitter),
		ledger.WithObserver(d.Metrics),
		ledger.WithLogger(d.Logger),
		ledger.WithMaxAttempts(d.Cfg.MaxCommitAttempts),
	}
	var limiter redis.Cmdable
	if d.Cache != nil {
		opts = append(opts, ledger.WithReplayCache(cache.NewReplayCache(d.Cache, d.Cfg.IdempotencyTTL)))
		limiter = d.Cache
	}
	engine := ledger.NewEngine(store, opts...)
	walletSvc := wallet.NewService(store, emitter, d.Logger, d.Cfg.DefaultCurrency)
	querySvc := query.NewService(reader, store, engine)

	secret := d.Cfg.JWTSecret
	if secret == "" {
		d.Logger.Warn("JWT_SECRET not set, using development secret")
		secret = auth.DevSecret
	}
	tokens, err := auth.NewTokens(secret, d.Cfg.AppName)
	if err != nil {
		return err
	}

	api := app.Group("/api/v1",
		middleware.Authenticate(tokens),
		middleware.RateLimit(limiter, d.Cfg.RateLimitPerMinute, d.Logger),
	)
	RegisterLedgerRoutes(api, ledger.NewHandler(engine))
	RegisterQueryRoutes(api, query.NewHandler(querySvc))
	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc))

	return nil
}
