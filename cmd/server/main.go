package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kcnuts/internal"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/gateway"
	"github.com/dukerupert/kcnuts/internal/handler"
	"github.com/dukerupert/kcnuts/internal/handler/api"
	"github.com/dukerupert/kcnuts/internal/ledger"
	"github.com/dukerupert/kcnuts/internal/middleware"
	"github.com/dukerupert/kcnuts/internal/postgres"
	"github.com/dukerupert/kcnuts/internal/pricing"
	"github.com/dukerupert/kcnuts/internal/router"
	"github.com/dukerupert/kcnuts/internal/routes"
	"github.com/dukerupert/kcnuts/internal/service"
	"github.com/dukerupert/kcnuts/internal/telemetry"
	"github.com/dukerupert/kcnuts/internal/worker"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, "kcnuts-api")

	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	telemetry.InitBusinessMetrics("kcnuts")

	// Database
	logger.Info("Connecting to database...")
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		logger.Info("Running database migrations...")
		sqlDB := stdlib.OpenDBFromPool(pool)
		err := internal.RunMigrations(sqlDB)
		sqlDB.Close()
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database migrations completed successfully")
	}

	catalog := postgres.NewCatalogStore(pool)
	coupons := postgres.NewCouponStore(pool)
	orders := postgres.NewOrderStore(pool)
	txLedger := ledger.New(postgres.NewTransactionStore(pool), cfg.Checkout.Currency)

	engine := pricing.NewEngine(catalog, coupons, logger)

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("payment gateway initialization failed: %w", err)
	}
	logger.Info("Payment gateway initialized", "provider", gw.Name())

	// Events
	var publisher events.Publisher = events.NopPublisher{}
	var broker *events.RabbitMQ
	if cfg.Events.URL != "" {
		broker, err = events.Dial(events.Config{
			URL:                cfg.Events.URL,
			Exchange:           cfg.Events.Exchange,
			DelayExchange:      cfg.Events.DelayExchange,
			PaymentCheckQueue:  cfg.Events.PaymentCheckQueue,
			DeadLetterExchange: cfg.Events.DeadLetterExchange,
		}, logger)
		if err != nil {
			return fmt.Errorf("event broker connection failed: %w", err)
		}
		defer broker.Close()
		publisher = broker
	} else {
		logger.Warn("RABBITMQ_URL not set, order events are disabled")
	}

	// Services
	checkoutService := service.NewCheckoutService(orders, engine, gw, publisher, logger, service.CheckoutConfig{
		Currency:          cfg.Checkout.Currency,
		GatewayTimeout:    cfg.Gateway.Timeout,
		PaymentCheckDelay: cfg.Checkout.PaymentCheckDelay,
	})
	paymentService := service.NewPaymentService(orders, gw, txLedger, publisher, logger, service.PaymentConfig{
		GatewayTimeout: cfg.Gateway.Timeout,
		DecrementStock: cfg.Checkout.DecrementStock,
		RedeemCoupon:   cfg.Checkout.RedeemCoupon,
	})
	orderService := service.NewOrderService(orders, logger)
	couponService := service.NewCouponService(coupons, engine, logger)

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	orderHandler := api.NewOrderHandler(checkoutService, paymentService, orderService, logger)
	couponHandler := api.NewCouponHandler(couponService, logger)

	apiDeps := routes.APIDeps{
		OrderHandler:  orderHandler,
		CouponHandler: couponHandler,
		CartHandler:   api.NewCartHandler(engine),
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		apiDeps.VerifyThrottle = middleware.ThrottleFailures(
			middleware.NewRedisFailureStore(rdb, ""),
			middleware.ThrottleConfig{
				MaxFailures: cfg.Redis.VerifyMaxFails,
				Window:      cfg.Redis.VerifyFailureTTL,
			},
		)
	} else {
		logger.Warn("REDIS_URL not set, payment verification throttling is disabled")
	}

	adminDeps := routes.AdminDeps{
		OrderHandler:  orderHandler,
		CouponHandler: couponHandler,
	}
	opsDeps := routes.OpsDeps{
		Health:  api.HealthHandler(pool),
		Metrics: promhttp.Handler(),
	}

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	metrics := middleware.NewMetrics("kcnuts", prometheus.DefaultRegisterer)

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(),
		router.CORS(cfg.CORSOrigins),
		telemetry.SentryMiddleware(),
		middleware.SecurityHeaders(securityConfig),
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		rateLimiter.Middleware,
		metrics.Middleware,
		middleware.Authenticate(verifier),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterOpsRoutes(r, opsDeps)
	routes.RegisterAPIRoutes(r, apiDeps)
	routes.RegisterAdminRoutes(r, adminDeps)
	r.NotFound(handler.NotFoundResponse)

	// ==========================================================================
	// Start background worker and server
	// ==========================================================================

	workerDone := make(chan error, 1)
	if broker != nil && cfg.Worker.Enabled {
		w := worker.NewWorker(broker, orders, txLedger, worker.Config{
			MaxConcurrency: cfg.Worker.MaxConcurrency,
		}, logger)
		go func() { workerDone <- w.Start(ctx) }()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	stop()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
	}
	return nil
}

// newGateway builds the configured payment provider. The mock provider
// signs with the configured secret so locally issued signatures verify.
func newGateway(cfg *internal.Config) (gateway.Gateway, error) {
	if cfg.Gateway.Provider == "mock" {
		slog.Default().Warn("Using mock payment gateway")
		return gateway.NewMockGateway(cfg.Gateway.KeySecret), nil
	}
	return gateway.New(gateway.Config{
		Provider:  cfg.Gateway.Provider,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Currency:  cfg.Checkout.Currency,
		Timeout:   cfg.Gateway.Timeout,
		BaseURL:   cfg.Gateway.BaseURL,
	})
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
