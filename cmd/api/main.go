// Package main is the entrypoint for the credits API server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/viralgo/credits/internal/auth"
	"github.com/viralgo/credits/internal/billing"
	"github.com/viralgo/credits/internal/billing/paddle"
	"github.com/viralgo/credits/internal/billing/stripe"
	"github.com/viralgo/credits/internal/cache"
	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/config"
	"github.com/viralgo/credits/internal/entitlement"
	"github.com/viralgo/credits/internal/handler"
	"github.com/viralgo/credits/internal/journal"
	"github.com/viralgo/credits/internal/metrics"
	"github.com/viralgo/credits/internal/repository"
	"github.com/viralgo/credits/internal/server"
	"github.com/viralgo/credits/internal/service"
	"github.com/viralgo/credits/internal/store"
	"github.com/viralgo/credits/internal/store/identity"
	"github.com/viralgo/credits/internal/store/memory"
	"github.com/viralgo/credits/internal/store/redisstore"
	"github.com/viralgo/credits/internal/usage"
	"github.com/viralgo/credits/migrations"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	// Credit policy
	resolver, err := clock.NewResolver(cfg.ResetTimeZone)
	if err != nil {
		return fmt.Errorf("reset timezone: %w", err)
	}
	policy, err := entitlement.NewPolicy(entitlement.Config{
		FreeAllowance: cfg.FreeDailyCredits,
		PaidAllowance: cfg.PaidDailyCredits,
		Costs: map[entitlement.Action]int{
			entitlement.ActionCreate: cfg.CostCreate,
			entitlement.ActionRemix:  cfg.CostRemix,
			entitlement.ActionTTS:    cfg.CostTTS,
		},
	}, resolver)
	if err != nil {
		return fmt.Errorf("credit policy: %w", err)
	}

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Initialize database
	var repo *repository.Repository
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		repo, err = repository.New(ctx, cfg.DatabaseURL, repository.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			return fmt.Errorf("connect to database: %s", sanitizeError(err, cfg.DatabaseURL))
		}
		closers = append(closers, repo.Close)
		logger.Info("connected to database")

		if cfg.RunMigrations {
			if err := migrations.Up(ctx, repo.Pool(), logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		db = stdlib.OpenDBFromPool(repo.Pool())
		closers = append(closers, func() { _ = db.Close() })
	}

	// Initialize cache
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			return fmt.Errorf("connect to redis: %s", sanitizeError(err, cfg.RedisURL))
		}
		closers = append(closers, func() { _ = cacheClient.Close() })
		logger.Info("connected to Redis")
	}

	// Record store
	baseStore, err := newRecordStore(cfg, repo, cacheClient)
	if err != nil {
		return err
	}
	records := store.WithMetrics(store.WithRetry(baseStore, store.RetryConfig{
		Timeout:     cfg.StoreTimeout,
		ReadRetries: cfg.StoreReadRetries,
	}), recorder)
	logger.Info("record store ready",
		"backend", cfg.RecordStore,
		"atomic_preconditions", records.Capabilities().AtomicPreconditions,
	)

	// Billing journal and customer index
	var events interface {
		journal.Journal
		journal.CustomerIndex
	}
	if db != nil {
		events = journal.NewRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, billing journal is kept in memory")
		events = journal.NewMemory()
	}

	// Usage stream
	var sink usage.Sink = usage.Discard{}
	if cacheClient != nil {
		sink = usage.NewPublisher(cacheClient.Client(), logger, recorder)
	}

	// Usage rollups
	var usageHandler *handler.UsageHandler
	var usageWorker *usage.Worker
	if repo != nil {
		usageRepo := repository.NewUsageRepository(repo)
		usageHandler = handler.NewUsageHandler(usageRepo, clock.System.Now, logger)
		if cacheClient != nil && cfg.UsageWorkerEnabled {
			usageWorker = usage.NewWorker(cacheClient.Client(), usageRepo, logger, usage.NewConsumerID(), recorder)
			usageWorker.SetBatchSize(cfg.UsageWorkerBatchSize)
		}
	}

	// Initialize services
	ledgerCfg := service.LedgerConfig{MaxAttempts: cfg.LedgerMaxAttempts}
	ledger := service.NewLedger(records, policy, clock.System, ledgerCfg, logger, recorder, service.WithUsageSink(sink))
	reconciler := service.NewReconciler(records, policy, events, clock.System, ledgerCfg, logger, recorder)

	var billingHandler *handler.BillingHandler
	var webhookHandler *handler.WebhookHandler
	if cfg.BillingEnabled() {
		provider, err := newBillingProvider(cfg, logger)
		if err != nil {
			return err
		}
		billingSvc := service.NewBillingService(provider, records, policy, events, clock.System, service.BillingConfig{
			PriceID:         cfg.BillingPriceID,
			SuccessURL:      cfg.SuccessURL(),
			CancelURL:       cfg.CancelURL(),
			PortalReturnURL: cfg.CancelURL(),
			MaxAttempts:     cfg.LedgerMaxAttempts,
		}, logger, recorder)
		billingHandler = handler.NewBillingHandler(billingSvc, events, logger)
		webhookHandler = handler.NewWebhookHandler(provider, events, reconciler, logger)
	} else {
		logger.Warn("BILLING_PROVIDER not set, checkout and webhooks are disabled")
	}

	// Initialize handlers
	deps := routerDeps{
		cfg:      cfg,
		logger:   logger,
		root:     handler.New(),
		health:   handler.NewHealthHandler(healthDeps(repo, cacheClient)...),
		credits:  handler.NewCreditsHandler(ledger, policy, cfg.GrantAmount, logger),
		usage:    usageHandler,
		billing:  billingHandler,
		webhook:  webhookHandler,
		metrics:  handler.NewMetricsHandler(registry),
		verifier: auth.NewVerifier(cfg.AuthJWTSecret, auth.WithIssuer(cfg.AuthJWTIssuer)),
		recorder: recorder,
	}
	if cacheClient != nil {
		deps.limiter = cacheClient
	}

	// Setup router
	r := setupRouter(deps)

	// Create and run server
	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	if usageWorker != nil {
		go func() {
			if err := usageWorker.Run(ctx); err != nil {
				logger.Error("usage worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("usage-worker", usageWorker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"billing_provider", cfg.BillingProvider,
	)

	return srv.Run(ctx)
}

func newRecordStore(cfg *config.Config, repo *repository.Repository, cacheClient *cache.Cache) (store.RecordStore, error) {
	switch cfg.RecordStore {
	case config.StorePostgres:
		return repository.NewCreditRecordRepository(repo), nil
	case config.StoreRedis:
		return redisstore.New(cacheClient.Client()), nil
	case config.StoreIdentity:
		s, err := identity.New(identity.Config{
			BaseURL:   cfg.IdentityAPIURL,
			SecretKey: cfg.IdentitySecret,
			Timeout:   cfg.StoreTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("identity store: %w", err)
		}
		return s, nil
	case config.StoreMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
}

func newBillingProvider(cfg *config.Config, logger *slog.Logger) (billing.Provider, error) {
	switch cfg.BillingProvider {
	case config.ProviderStripe:
		p, err := stripe.New(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.StripeAPIURL,
		}, stripe.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		return p, nil
	case config.ProviderPaddle:
		p, err := paddle.New(paddle.Config{
			APIKey:        cfg.PaddleAPIKey,
			WebhookSecret: cfg.PaddleWebhookSecret,
			Environment:   cfg.PaddleEnvironment,
		})
		if err != nil {
			return nil, fmt.Errorf("paddle provider: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown billing provider %q", cfg.BillingProvider)
}

func healthDeps(repo *repository.Repository, cacheClient *cache.Cache) []handler.Dependency {
	deps := []handler.Dependency{{Name: "postgres"}, {Name: "redis"}}
	if repo != nil {
		deps[0].Checker = repo
	}
	if cacheClient != nil {
		deps[1].Checker = cacheClient
	}
	return deps
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
