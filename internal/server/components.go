package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpinegear/identity/config"
	"github.com/alpinegear/identity/internal/codes"
	"github.com/alpinegear/identity/internal/credentials"
	"github.com/alpinegear/identity/internal/db"
	"github.com/alpinegear/identity/internal/limiter"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/alpinegear/identity/internal/mq"
	"github.com/alpinegear/identity/internal/notify"
	"github.com/alpinegear/identity/internal/services"
	"github.com/alpinegear/identity/internal/store"
	"github.com/alpinegear/identity/internal/tokens"
	"github.com/redis/go-redis/v9"
)

const brand = "Alpine Gear"

// Components are the process-scoped collaborators built from configuration.
type Components struct {
	Accounts     store.AccountRepository
	Registration *services.RegistrationService
	Auth         *services.AuthService
	Recovery     *services.RecoveryService
	Log          logging.Logger

	closers []func() error
}

// Build opens every backend selected by cfg and wires the account flows.
// On error, whatever was already opened is closed.
func Build(ctx context.Context, cfg config.Config, log logging.Logger) (_ *Components, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Components{Log: log}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Accounts, err = c.openAccounts(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	mailer, err := c.openMailer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	attempts, err := c.openLimiter(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	tokenService, err := tokens.NewService(cfg.Auth.JWTSecret,
		tokens.WithIssuer(cfg.Auth.Issuer),
		tokens.WithSessionTTL(cfg.Auth.SessionTTL),
	)
	if err != nil {
		return nil, err
	}
	passwords, err := credentials.NewPasswords(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}
	secretWords, err := credentials.NewSecretWords(nil)
	if err != nil {
		return nil, err
	}

	deps := services.Dependencies{
		Accounts:    c.Accounts,
		Passwords:   passwords,
		SecretWords: secretWords,
		Codes:       codes.NewGenerator(codes.DefaultDigits, cfg.Auth.CodeTTL, time.Now),
		Tokens:      tokenService,
		Mailer:      mailer,
		Templates:   notify.NewTemplates(brand, cfg.Auth.FrontendURL),
		Limiter:     attempts,
		Logger:      log,
		Clock:       time.Now,
	}
	policy := services.Policy{
		VerificationTTL:   cfg.Auth.VerificationTTL,
		ResetTTL:          cfg.Auth.ResetTTL,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		RequireVerified:   cfg.Auth.RequireVerified,
	}
	c.Registration = services.NewRegistrationService(deps, policy)
	c.Auth = services.NewAuthService(deps, policy)
	c.Recovery = services.NewRecoveryService(deps, policy)
	return c, nil
}

func (c *Components) openAccounts(ctx context.Context, cfg config.DatabaseConfig) (store.AccountRepository, error) {
	switch cfg.Driver {
	case "postgres":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		c.closers = append(c.closers, conn.Close)
		return store.NewPostgresAccountRepository(conn), nil
	case "mongo":
		client, err := db.ConnectMongo(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		c.closers = append(c.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		repo := store.NewMongoAccountRepository(db.AccountsCollection(client, cfg))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	case "memory":
		c.Log.Warn(ctx, "using in-memory account store, accounts are lost on restart")
		return store.NewMemoryAccountRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

func (c *Components) openMailer(ctx context.Context, cfg config.Config) (notify.Dispatcher, error) {
	if cfg.Notify.Mode != "queue" {
		return notify.NewSMTPMailer(cfg.SMTP), nil
	}
	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	c.closers = append(c.closers, broker.Close)
	return notify.NewQueueDispatcher(broker, cfg.Notify.Channel), nil
}

func (c *Components) openLimiter(ctx context.Context, cfg config.RedisConfig) (limiter.Limiter, error) {
	if cfg.Addr == "" {
		c.Log.Warn(ctx, "REDIS_ADDR not set, attempt limits are disabled")
		return limiter.Nop{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c.closers = append(c.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return limiter.NewRedis(client, Budgets(cfg)), nil
}

// Budgets maps the configured attempt limits to limiter scopes.
func Budgets(cfg config.RedisConfig) map[limiter.Scope]limiter.Budget {
	return map[limiter.Scope]limiter.Budget{
		limiter.ScopeSecretWord: {Attempts: cfg.SecretWordAttempts, Window: cfg.SecretWordWindow},
		limiter.ScopeCodeResend: {Attempts: cfg.ResendAttempts, Window: cfg.ResendWindow},
		limiter.ScopeCodeVerify: {Attempts: cfg.VerifyAttempts, Window: cfg.VerifyWindow},
	}
}

// Close releases backends in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
