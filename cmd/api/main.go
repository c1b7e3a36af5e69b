package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-refunds/internal/breakdown"
	"github.com/noah-isme/toko-refunds/internal/common"
	"github.com/noah-isme/toko-refunds/internal/config"
	"github.com/noah-isme/toko-refunds/internal/events"
	"github.com/noah-isme/toko-refunds/internal/health"
	"github.com/noah-isme/toko-refunds/internal/lock"
	"github.com/noah-isme/toko-refunds/internal/notify"
	"github.com/noah-isme/toko-refunds/internal/obs"
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
	"github.com/noah-isme/toko-refunds/internal/ratelimit"
	"github.com/noah-isme/toko-refunds/internal/refund"
	"github.com/noah-isme/toko-refunds/internal/resilience"
	"github.com/noah-isme/toko-refunds/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "toko")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	refundMetrics := obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	if err := resilience.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error().Err(err).Msg("register breaker metrics")
	}

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-refunds",
			Version:       envOrDefault("APP_VERSION", "dev"),
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			Insecure:      envBool("OBS_OTLP_INSECURE", false),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if envBool("OBS_ENABLE_OTEL_METRICS", false) {
		shutdown, err := obs.InitMeter(context.Background(), obs.MeterConfig{
			ServiceName: "toko-refunds",
			Version:     envOrDefault("APP_VERSION", "dev"),
			Environment: cfg.AppEnv,
			Exporter:    envOrDefault("OBS_METRICS_EXPORTER", "otlp"),
			Endpoint:    envOrDefault("OBS_OTLP_METRICS_ENDPOINT", ""),
			Insecure:    envBool("OBS_OTLP_INSECURE", false),
			Interval:    envDurationMillis("OBS_METRICS_INTERVAL_MS", 30000),
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise otel metrics")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown meter")
				}
			}()
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(rootCtx)

	redisClient := newRedis(rootCtx, cfg, logger, metricsEnabled)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	formatter := pricing.Formatter{Currency: cfg.CurrencyCode, Locale: cfg.CurrencyLocale}
	eventStore := events.NewMemoryStore(cfg.EventBuffer)
	bus := &events.Bus{
		Store:     eventStore,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}
	if webhooks := newWebhookDispatcher(cfg, redisClient, logger); webhooks != nil {
		bus.Notifiers = append(bus.Notifiers, webhooks)
		g.Go(func() error {
			webhooks.Run(gctx)
			return nil
		})
	}

	store := orderitem.NewStore()
	g.Go(func() error {
		loadItems(gctx, store, orderitem.MockSource{Latency: cfg.ItemSourceLatency}, bus, logger)
		return nil
	})

	refundSvc := &refund.Service{
		Store:   store,
		Issuer:  newIssuer(cfg, logger),
		Events:  bus,
		LockTTL: cfg.LockTTL,
		Metrics: refundMetrics,
		Logger:  logger.With().Str("component", "refund").Logger(),
	}
	if redisClient != nil {
		refundSvc.Locker = lock.Locker{R: redisClient, Prefix: "refund:submit:"}
	}

	dialogs := refund.NewDialogRegistry(cfg.DialogIdleTTL, cfg.NoticeTTL, formatter)
	dialogs.OnTransition = func(from, to refund.State) {
		refundMetrics.DialogTransitions.WithLabelValues(from.String(), to.String()).Inc()
	}

	refundHandler := &refund.Handler{Svc: refundSvc, Dialogs: dialogs, Formatter: formatter}
	breakdownHandler := &breakdown.Handler{Store: store, Formatter: formatter, EventStore: eventStore}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	refundLimit := ratelimit.Handler{
		Limiter: newLimiter(redisClient),
		Config: ratelimit.Config{
			Key:    ratelimit.ByActorOrIP("refunds"),
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", common.ActorHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.EnableHSTS, NoStore: true}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{Store: store, Redis: redisClient},
		RedisTimeout: envDurationMillis("HEALTH_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(common.ActorMiddleware)

		v.Get("/items", breakdownHandler.List)
		v.Route("/items/{itemId}", func(it chi.Router) {
			it.Get("/", breakdownHandler.Get)
			it.Get("/events", breakdownHandler.Events)
			it.Post("/refund-quote", refundHandler.Quote)
		})

		v.Group(func(g chi.Router) {
			g.Use(refundLimit.Middleware)
			g.Use(idem.Middleware)
			g.Post("/refunds", refundHandler.Create)
		})

		v.Route("/refund-dialogs", func(d chi.Router) {
			d.Post("/", refundHandler.OpenDialog)
			d.Get("/{dialogId}", refundHandler.GetDialog)
			d.Patch("/{dialogId}", refundHandler.PatchDialog)
			d.Delete("/{dialogId}", refundHandler.CloseDialog)
			d.With(refundLimit.Middleware).Post("/{dialogId}/confirm", refundHandler.ConfirmDialog)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		ctx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		return srv.Shutdown(ctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("issuer", cfg.RefundIssuer).Bool("redis", redisClient != nil).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func loadItems(ctx context.Context, store *orderitem.Store, src orderitem.Source, bus *events.Bus, logger zerolog.Logger) {
	if err := store.Load(ctx, src); err != nil {
		logger.Error().Err(err).Msg("load order items")
		return
	}
	items, err := store.List()
	if err != nil {
		logger.Error().Err(err).Msg("list order items")
		return
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if _, err := bus.Emit(ctx, events.TopicItemsLoaded, "order", map[string]any{"itemIds": ids, "version": store.Version()}); err != nil {
		logger.Error().Err(err).Msg("emit items loaded")
	}
	logger.Info().Int("items", len(items)).Msg("order items loaded")
}

func newRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metricsEnabled bool) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set; idempotency keys and submission locks are process-local")
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func newIssuer(cfg *config.Config, logger zerolog.Logger) refund.Issuer {
	if cfg.RefundIssuer == config.IssuerHTTP {
		issuerLogger := logger.With().Str("component", "refund_issuer").Logger()
		breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailRatio, cfg.CircuitOpenFor).
			WithTarget("refund_issuer").
			WithLogger(issuerLogger)
		return refund.HTTPIssuer{
			URL: cfg.RefundIssuerURL,
			Client: resilience.HTTPClient{
				Client:      refund.NewHTTPClient(),
				Breaker:     breaker,
				BaseBackoff: cfg.RetryBaseBackoff,
				MaxAttempts: cfg.RefundIssuerAttempts,
				Jitter:      0.2,
				Timeout:     cfg.RefundIssuerTimeout,
				Target:      "refund_issuer",
				Logger:      &issuerLogger,
			},
		}
	}
	mock := &refund.MockIssuer{Latency: cfg.RefundMockLatency}
	mock.SetAlwaysFail(cfg.RefundMockFail)
	return mock
}

func newWebhookDispatcher(cfg *config.Config, client *redis.Client, logger zerolog.Logger) *notify.Dispatcher {
	if cfg.WebhookURL == "" {
		return nil
	}
	webhookLogger := logger.With().Str("component", "webhooks").Logger()
	d := &notify.Dispatcher{
		Endpoint: notify.Endpoint{URL: cfg.WebhookURL, Secret: cfg.WebhookSecret, Topics: cfg.WebhookTopics},
		HTTP: &resilience.HTTPClient{
			Client: notify.HttpClient(int(cfg.WebhookTimeout / time.Millisecond)),
			Breaker: resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailRatio, cfg.CircuitOpenFor).
				WithTarget("webhook").
				WithLogger(webhookLogger),
			Timeout: cfg.WebhookTimeout,
			Target:  "webhook",
			Logger:  &webhookLogger,
		},
		ReplayTTL:   cfg.WebhookReplayTTL,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BackoffBase: cfg.RetryBaseBackoff,
		Logger:      webhookLogger,
	}
	if client != nil {
		d.Replay = notify.RedisReplayProtector{Client: client}
	} else {
		d.Replay = &notify.MemoryReplayProtector{}
	}
	d.Start(cfg.EventBuffer)
	return d
}

func newLimiter(client *redis.Client) ratelimit.Allower {
	if client == nil {
		return ratelimit.NewMemoryLimiter("ratelimit")
	}
	return ratelimit.Limiter{Client: client, Prefix: "ratelimit:"}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
