// Package app wires configuration, storage and services into a runnable API.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
	"residencial.org/internal/config"
	"residencial.org/internal/httpapi"
	"residencial.org/internal/people"
	"residencial.org/internal/seed"
	"residencial.org/internal/store/sqlstore"
	"residencial.org/internal/throttle"
)

// App owns every long-lived dependency of the API process.
type App struct {
	Config config.Config
	Logger *zap.Logger

	DB        *sqlstore.DB
	Redis     *redis.Client
	Persons   *sqlstore.Persons
	Sessions  *sqlstore.Sessions
	Roles     *sqlstore.Roles
	AuditLogs *sqlstore.AuditLogs

	Auth   *auth.Service
	People *people.Service
	Audit  *audit.Recorder
	API    *httpapi.API
}

// New opens storage, applies migrations and seeds, and builds the HTTP API.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Persons:   sqlstore.NewPersons(db),
		Sessions:  sqlstore.NewSessions(db),
		Roles:     sqlstore.NewRoles(db),
		AuditLogs: sqlstore.NewAuditLogs(db),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	if err := a.DB.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	hasher := auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}
	mgr, err := a.DB.Migrations()
	if err != nil {
		return err
	}
	if err := seed.New(a.Roles, a.Persons, hasher, a.Logger.Named("seed")).Run(ctx, mgr, cfg.Seed); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	a.Audit = audit.NewRecorder(a.AuditLogs, a.Logger.Named("audit"), audit.WithWriteTimeout(cfg.Audit.WriteTimeout))

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	if err != nil {
		return err
	}
	a.Auth, err = auth.NewService(a.Persons, a.Sessions, a.Roles, issuer,
		auth.WithSessionTTLs(cfg.Auth.SessionTTL, cfg.Auth.SessionRememberTTL),
		auth.WithLockout(cfg.Auth.LockThreshold, cfg.Auth.LockDuration),
		auth.WithHasher(hasher),
		auth.WithAuditor(a.Audit),
		auth.WithLogger(a.Logger.Named("auth")),
	)
	if err != nil {
		return err
	}
	a.People = people.NewService(a.Persons, a.Roles, a.Audit, hasher, a.Logger.Named("people"))

	var limiter throttle.Limiter = throttle.Nop{}
	if cfg.RedisURL != "" {
		a.Redis, err = throttle.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		limiter = throttle.NewRedis(a.Redis, "login:ip:", cfg.Auth.LoginIPLimit, cfg.Auth.LoginIPWindow, a.Logger.Named("throttle"))
	}

	proxies, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	a.API = httpapi.New(httpapi.Deps{
		Auth:    a.Auth,
		People:  a.People,
		Audit:   a.Audit,
		Limiter: limiter,
		Ready:   httpapi.ReadyProbe{DB: a.DB.DB},
		Logger:  a.Logger.Named("http"),
	}, httpapi.Options{
		Version:        cfg.Version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		TrustedProxies: proxies,
	})
	return nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
