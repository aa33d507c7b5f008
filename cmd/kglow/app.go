package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/nkiryanov/kglow/internal/db"
	"github.com/nkiryanov/kglow/internal/handlers"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
	"github.com/nkiryanov/kglow/internal/pricing"
	"github.com/nkiryanov/kglow/internal/repository/postgres"
	"github.com/nkiryanov/kglow/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/kglow/internal/service/autorecharge"
	"github.com/nkiryanov/kglow/internal/service/billing"
	"github.com/nkiryanov/kglow/internal/service/ledger"
	"github.com/nkiryanov/kglow/internal/service/processor"
	"github.com/nkiryanov/kglow/internal/service/quote"
	"github.com/nkiryanov/kglow/internal/service/quote/pdf"
	"github.com/nkiryanov/kglow/internal/service/rates"
)

const (
	shutdownTimeout = 5 * time.Second
	ratesTimeout    = 5 * time.Second
)

type App struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	// Either asynq (with redis) or local workers run auto-recharges
	asynqClient *asynq.Client
	asynqServer *asynq.Server
	asynqMux    *asynq.ServeMux
	local       *autorecharge.Local

	sweeper *autorecharge.Sweeper
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &App{ListenAddr: c.ListenAddr, logger: logger}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	// Connect to the database and run migrations
	app.pool, err = db.ConnectAndMigrate(ctx, c.DatabaseDSN, int32(c.DatabaseMaxConns))
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		if err = app.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize repositories
	storage := postgres.NewStorage(app.pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	processorClient := processor.NewClient(c.ProcessorAddr, c.ProcessorKey, c.ProcessorTimeout, logger.With("component", "processor"))
	billingService := billing.NewService(storage, processorClient, c.Currency, logger.With("component", "billing"), m)

	var dispatcher ledger.Dispatcher
	if app.redis != nil {
		redisOpt := asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
		app.asynqClient = asynq.NewClient(redisOpt)
		app.asynqServer = autorecharge.NewServer(redisOpt, c.Workers, logger)
		app.asynqMux = autorecharge.NewServeMux(autorecharge.NewHandler(billingService, logger.With("component", "autorecharge")))
		dispatcher = autorecharge.NewEnqueuer(app.asynqClient, c.DispatchUnique)
	} else {
		app.local = autorecharge.NewLocal(c.Workers, 0, billingService, logger.With("component", "autorecharge"))
		dispatcher = app.local
	}
	app.sweeper = autorecharge.NewSweeper(c.SweepInterval, storage.Account(), dispatcher, billingService, logger.With("component", "sweeper"))

	ledgerService := ledger.NewService(storage, dispatcher, nil, logger.With("component", "ledger"), m)

	var (
		rateCache    rates.Cache
		limiterStore limiter.Store
	)
	if app.redis != nil {
		rateCache = rates.NewRedisCache(app.redis, c.RatesTTL)
		limiterStore, err = limiterredis.NewStoreWithOptions(app.redis, limiter.StoreOptions{Prefix: "kglow:limiter"})
		if err != nil {
			return nil, fmt.Errorf("error while creating rate limiter store. Err: %w", err)
		}
	} else {
		rateCache = rates.NewMemoryCache(c.RatesTTL)
		limiterStore = memory.NewStore()
	}
	rateService := rates.NewService(
		rates.NewHTTPSource(c.RatesAddr, ratesTimeout, logger.With("component", "rates")),
		rateCache,
		c.fallbackRate(),
		logger.With("component", "rates"),
		m,
	)
	quoteService := quote.NewService(storage.Quote(), rateService, pricing.DefaultRates(), pdf.New(c.FontDir), logger.With("component", "quote"), m)

	quoteRate, err := limiter.NewRateFromFormatted(c.QuoteRateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid quote rate limit. Err: %w", err)
	}

	app.Handler = handlers.NewRouter(handlers.RouterConfig{
		Tokens:       tokenManager,
		Quotes:       quoteService,
		Credits:      ledgerService,
		Billing:      billingService,
		DB:           app.pool,
		QuoteLimiter: limiter.New(limiterStore, quoteRate),
		Metrics:      m,
		Gatherer:     registry,
	}, logger)

	ready = true
	return app, nil
}

// Run starts auto-recharge workers and http server. Everything stops on context cancellation
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped []<-chan struct{}

	if a.asynqServer != nil {
		if err := a.asynqServer.Start(a.asynqMux); err != nil {
			return fmt.Errorf("error while starting auto-recharge worker. Err: %w", err)
		}
		defer a.asynqServer.Shutdown()
	}
	if a.local != nil {
		stopped = append(stopped, a.local.Run(ctx))
	}
	stopped = append(stopped, a.sweeper.Run(ctx))

	err := a.serve(ctx)

	cancel()
	for _, done := range stopped {
		<-done
	}
	a.logger.Info("Auto-recharge workers stopped")

	return err
}

// serve runs http server and closes gracefully on context cancellation
func (a *App) serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.ListenAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		a.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	a.logger.Info("Starting server", "address", a.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}

// Close releases connections. Safe to call on partially initialized app
func (a *App) Close() {
	if a.asynqClient != nil {
		_ = a.asynqClient.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
