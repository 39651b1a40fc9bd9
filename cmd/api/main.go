package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/checkout"
	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/config"
	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/health"
	"github.com/noah-isme/dental-quote/internal/lock"
	"github.com/noah-isme/dental-quote/internal/notify"
	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/payment"
	"github.com/noah-isme/dental-quote/internal/promo"
	"github.com/noah-isme/dental-quote/internal/quote"
	"github.com/noah-isme/dental-quote/internal/ratelimit"
	"github.com/noah-isme/dental-quote/internal/resilience"
	"github.com/noah-isme/dental-quote/internal/snapshot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.Namespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.Obs.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   cfg.Obs.ServiceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TraceExporter,
			SamplingRatio: cfg.Obs.SampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	redisClient := mustInitRedis(startCtx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	pool, ledger := mustInitLedger(startCtx, cfg, logger)
	if pool != nil {
		defer pool.Close()
	}

	cat := mustLoadCatalog(cfg, logger)
	table := mustLoadPromoTable(cfg, logger)
	resolver := newResolver(cfg, table, logger)

	bridge := snapshot.NewBridge(snapshot.NewRedisStore(redisClient, cfg.SnapshotTTL), "", logger)
	sessions := quote.NewSessions(quote.SessionsConfig{
		Catalog:  cat,
		Resolver: resolver,
		Store:    bridge,
		Logger:   logger,
	})

	var taskClient *asynq.Client
	bus := &events.Bus{Store: ledger}
	switch {
	case !cfg.NotifyEmailEnabled:
	case cfg.NotifyEmailMode == "queue":
		taskClient = mustInitTaskClient(cfg, logger)
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		bus.Notifiers = append(bus.Notifiers, notify.QueueNotifier{
			Client:       taskClient,
			Queue:        cfg.QueueName,
			TopicToggles: cfg.NotifyTopics,
		})
	default:
		bus.Notifiers = append(bus.Notifiers, notify.EmailNotifier{
			Mail:         common.LogEmailSender{Logger: logger},
			Enabled:      true,
			TopicToggles: cfg.NotifyTopics,
		})
	}

	provider := payment.Stripe{WebhookSecret: cfg.PaymentWebhookSecret}
	checkoutSvc := &checkout.Service{
		Sessions:  sessions,
		Ledger:    ledger,
		Provider:  provider,
		Events:    bus,
		Locker:    lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond, MaxWait: 2 * time.Second},
		LockTTL:   cfg.LockTTL,
		IntentTTL: cfg.PaymentIntentTTL,
		Currency:  cfg.CurrencyCode,
		Logger:    logger,
	}

	globalStore, err := ratelimit.NewStore(redisClient, "ratelimit:global")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	global, err := ratelimit.NewGlobal(globalStore, cfg.RateLimitGlobal)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise global rate limit")
	}
	limitErr := func(err error) { logger.Warn().Err(err).Msg("rate_limit_unavailable") }
	global.OnError = limitErr

	var pinger health.Pinger
	if pool != nil {
		pinger = pool
	}

	rt := routes{
		Logger:      logger,
		Tracing:     tracingEnabled,
		CORSOrigins: cfg.CORSAllowedOrigins,
		HSTS:        cfg.IsProduction(),
		Global:      global,
		CodeLimit: ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:code:"},
			Config: ratelimit.Config{
				Key:    ratelimit.SessionKey,
				Window: cfg.RateLimitCodeWindow,
				Max:    cfg.RateLimitCodeMax,
			},
			OnError: limitErr,
		},
		Idem:     common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL, Prefix: "idem:submit:"},
		Health:   health.Handler{Checker: health.Dependencies{DB: pinger, Redis: redisClient}},
		Catalog:  catalog.NewHandler(catalog.HandlerConfig{Catalog: cat}),
		Promo:    promo.NewHandler(promo.HandlerConfig{Resolver: resolver, Table: table}),
		Quotes:   &quote.Handler{Sessions: sessions, Currency: cfg.CurrencyCode},
		Checkout: &checkout.Handler{Svc: checkoutSvc},
		Webhook: payment.Webhook{
			Providers: map[string]payment.Provider{provider.Name(): provider},
			Payments:  ledger,
			Replay:    payment.RedisReplayGuard{Client: redisClient},
			ReplayTTL: cfg.WebhookReplayTTL,
			Events:    bus,
			Logger:    logger,
		},
	}
	if cfg.Obs.MetricsEnabled {
		rt.Metrics = obs.NewHTTPMetrics(cfg.Obs.Namespace, obs.ParseBucketsCSV(cfg.Obs.Buckets), nil)
		rt.MetricsHandler = promhttp.Handler()
	}
	if cfg.Obs.PprofEnabled {
		rt.Pprof = protectPprof(middleware.Profiler(), cfg.Obs.PprofUser, cfg.Obs.PprofPass)
	}

	go sweepSessions(ctx, sessions, cfg.SweepInterval, cfg.SessionIdleTTL, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("currency", cfg.CurrencyCode).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
		logger.Info().Msg("server shutdown complete")
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// mustInitLedger opens Postgres when DATABASE_URL is set and otherwise keeps
// submissions in memory.
func mustInitLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, checkout.Ledger) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; submissions are kept in memory")
		return nil, checkout.NewMemoryLedger()
	}
	if err := checkout.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	pool, err := checkout.OpenPool(ctx, cfg.DatabaseURL, cfg.Obs.ServiceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	return pool, checkout.PGLedger{DB: pool}
}

func mustInitTaskClient(cfg *config.Config, logger zerolog.Logger) *asynq.Client {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	return asynq.NewClient(opt)
}

func mustLoadCatalog(cfg *config.Config, logger zerolog.Logger) *catalog.Catalog {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogFile != "" {
		cat, err = catalog.LoadFile(cfg.CatalogFile)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("load treatment catalog")
	}
	if c := cat.Currency(); c != "" && c != cfg.CurrencyCode {
		logger.Warn().Str("catalog_currency", c).Str("currency", cfg.CurrencyCode).Msg("catalog currency differs from CURRENCY_CODE")
	}
	return cat
}

func mustLoadPromoTable(cfg *config.Config, logger zerolog.Logger) *promo.Table {
	var (
		table *promo.Table
		err   error
	)
	if cfg.PromoFile != "" {
		table, err = promo.LoadTableFile(cfg.PromoFile)
	} else {
		table, err = promo.DefaultTable()
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("load promo table")
	}
	return table
}

// newResolver consults the local table first and then the remote validation
// service when one is configured.
func newResolver(cfg *config.Config, table *promo.Table, logger zerolog.Logger) promo.Resolver {
	if cfg.PromoRemoteURL == "" {
		return table
	}
	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget("promo-remote").
		WithLogger(logger)
	remote := promo.RemoteResolver{
		URL: cfg.PromoRemoteURL,
		HTTP: resilience.HTTPClient{
			Client:      promo.NewHTTPClient(cfg.PromoRemoteTimeout),
			Breaker:     breaker,
			BaseBackoff: cfg.PromoRetryBackoff,
			MaxAttempts: cfg.PromoRetryAttempts,
			Jitter:      cfg.PromoRetryJitter,
			Timeout:     cfg.PromoRemoteTimeout,
			Target:      "promo-remote",
			Logger:      &logger,
		},
		Logger: logger,
	}
	return promo.Chain{table, remote}
}

func sweepSessions(ctx context.Context, sessions *quote.Sessions, every, maxIdle time.Duration, logger zerolog.Logger) {
	if every <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(maxIdle); n > 0 {
				logger.Debug().Int("evicted", n).Int("active", sessions.Len()).Msg("quote_sessions_swept")
			}
		}
	}
}
