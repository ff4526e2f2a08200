package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/vvoyage/exchange-API-tochka/libs/health"
	"github.com/vvoyage/exchange-API-tochka/libs/httpmiddleware"
	"github.com/vvoyage/exchange-API-tochka/libs/kafka"
	"github.com/vvoyage/exchange-API-tochka/libs/logging"
	"github.com/vvoyage/exchange-API-tochka/libs/metrics"
	"github.com/vvoyage/exchange-API-tochka/libs/trace"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/config"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/handlers"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/ledger"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/matching"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/rate"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/service"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage/memory"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env, cfg.TraceEndpoint)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()

	serviceMetrics := service.NewMetrics(registry)
	matchingMetrics := matching.NewMetrics(registry)

	ready := health.NewManager(false)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	ready.AddCheck("store", store.Ping)

	sink, closeSink, err := buildSink(cfg, logger, registry)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer closeSink()

	limiter, closeLimiter := buildLimiter(cfg, ready)
	defer closeLimiter()

	l := ledger.New(serviceMetrics)
	engine := matching.NewEngine(store, l, sink, logger, matchingMetrics, cfg.Matching.MaxCandidates)

	orders := service.NewOrderService(store, engine, l, logger, serviceMetrics)
	balances := service.NewBalanceService(store, l, logger, serviceMetrics)
	instruments := service.NewInstrumentService(store, logger, serviceMetrics)
	users := service.NewUserService(store, cfg.Auth.KeyEnv, logger, serviceMetrics)

	if err := ensureQuoteInstrument(instruments); err != nil {
		logger.Error("quote instrument bootstrap failed", "error", err)
		os.Exit(1)
	}

	handler := handlers.New(orders, balances, instruments, users, logger, handlers.Options{
		JWTSecret:           []byte(cfg.Auth.JWTSecret),
		AdminToken:          cfg.Auth.AdminToken,
		Limiter:             limiter,
		DefaultBookDepth:    cfg.Matching.OrderbookDefaultDepth,
		DefaultHistoryLimit: cfg.Matching.HistoryDefaultLimit,
	})

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router)

	httpServer := &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      withCORS(router),
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("exchange http starting", "addr", httpServer.Addr, "db_driver", cfg.DB.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.DB.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, state is lost on restart")
		return memory.New(), nil
	}

	pool, err := connectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("db connection: %w", err)
	}
	store := postgres.New(pool)
	if cfg.DB.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, nil
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildSink always logs matching events and additionally publishes them to
// Kafka when enabled. Publishing runs off the matching path through a
// bounded queue; failed publishes go to the dead-letter topic.
func buildSink(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (matching.Sink, func(), error) {
	logSink := matching.NewLogSink(logger)
	if !cfg.Kafka.Enabled {
		return logSink, func() {}, nil
	}

	producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	}, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return nil, nil, err
	}
	publisher := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
	kafkaSink := matching.NewAsyncSink(
		matching.NewKafkaSink(publisher, cfg.Kafka.Topics.MatchingEvents, logger),
		matching.DefaultAsyncBuffer, logger)
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := kafkaSink.Close(ctx); err != nil {
			logger.Warn("matching event queue not drained", "error", err, "dropped", kafkaSink.Dropped())
		}
		if err := publisher.Close(); err != nil {
			logger.Error("kafka producer close failed", "error", err)
		}
	}
	return matching.Multi(logSink, kafkaSink), closeFn, nil
}

// buildLimiter picks the order rate limiter: none, Redis shared across
// replicas, or per process.
func buildLimiter(cfg *config.Config, ready *health.Manager) (rate.Limiter, func()) {
	if cfg.RateLimit.OrdersPerWindow == 0 {
		return rate.Disabled{}, func() {}
	}
	if cfg.Redis.Addr == "" {
		return rate.NewMemory(cfg.RateLimit.OrdersPerWindow, cfg.RateLimit.Window), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ready.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return rate.NewRedisLimiter(client, cfg.RateLimit.OrdersPerWindow, cfg.RateLimit.Window, ""), func() {
		_ = client.Close()
	}
}

func ensureQuoteInstrument(instruments *service.InstrumentService) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := instruments.Add(ctx, "Russian Rouble", ledger.QuoteTicker)
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return err
	}
	return nil
}

func withCORS(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", httpmiddleware.RequestIDHeader},
	})
	return c.Handler(h)
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
