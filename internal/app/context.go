package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"supplyrouter/internal/cache"
	"supplyrouter/internal/config"
	"supplyrouter/internal/db"
	"supplyrouter/internal/engine"
	"supplyrouter/internal/engine/auth"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/migrate"
	"supplyrouter/internal/notify"
	"supplyrouter/internal/pending"
	"supplyrouter/internal/repo"
)

// ResolveConfig loads configPath when given, otherwise supplyrouter.yml from
// the workspace, falling back to defaults when the workspace has none. The
// database workspace defaults to workspace.
func ResolveConfig(workspace, configPath string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.FromFile(configPath)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Database.Workspace == "" {
		cfg.Database.Workspace = workspace
	}
	return cfg, nil
}

// App is a fully wired runtime: storage, cache, notifications and the engine.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	Engine     engine.Engine
	Auth       auth.Service
	Dispatcher *notify.Dispatcher
	Log        logger.Logger
}

// Open connects storage, applies migrations and wires the engine. Redis is
// used for the registry cache and pending replies when enabled; the webhook
// notifier replaces the log notifier when a URL is configured.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	conn, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Workspace: cfg.Database.Workspace})
	if err != nil {
		return nil, err
	}
	driver := cfg.Database.Driver
	if driver == "" {
		driver = db.DriverSQLite
	}
	if err := migrate.Migrate(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Config: cfg, DB: conn, Log: log}
	r := repo.Repo{DB: conn, Driver: driver}
	if cfg.Redis.Enabled {
		a.Redis = cache.NewClient(cache.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	registry := cache.New(a.Redis, r, cfg.SupplierTTL(), cfg.OrderTTL(), log)
	if err := registry.Ping(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var store pending.Store = pending.NewMemoryStore(cfg.PendingTTL())
	if a.Redis != nil {
		store = pending.NewRedisStore(a.Redis, cfg.PendingTTL())
	}

	var n notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.Notify.WebhookURL != "" {
		n = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Secret, cfg.NotifyTimeout(), cfg.Notify.RatePerSecond, cfg.Notify.Burst)
	}
	a.Dispatcher = notify.NewDispatcher(n, cfg.NotifyTimeout(), log)

	e := engine.New(conn, driver, cfg)
	e.Registry = registry
	e.Pending = store
	e.Hooks = a.Dispatcher
	e.Log = log
	a.Engine = e
	a.Auth = auth.Service{Repo: r, Config: cfg}
	log.Info("supplyrouter ready", logger.Fields{
		"driver":  driver,
		"redis":   a.Redis != nil,
		"webhook": cfg.Notify.WebhookURL != "",
	})
	return a, nil
}

// Close drains pending notifications and releases connections.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.Dispatcher.Wait()
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
