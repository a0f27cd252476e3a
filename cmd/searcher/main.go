// Command searcher serves free-text and similar-book search over the
// published catalog.
//
// It loads every published book into an in-memory TF-IDF snapshot, keeps the
// snapshot current from catalog change events on Kafka (plus a periodic
// refresh), caches results in Redis and reports each lookup to the analytics
// topic.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/booksphere/booksphere/internal/analytics"
	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/internal/catalog/events"
	"github.com/booksphere/booksphere/internal/catalog/postgres"
	"github.com/booksphere/booksphere/internal/search"
	"github.com/booksphere/booksphere/internal/search/cache"
	"github.com/booksphere/booksphere/internal/search/handler"
	"github.com/booksphere/booksphere/pkg/config"
	"github.com/booksphere/booksphere/pkg/health"
	"github.com/booksphere/booksphere/pkg/kafka"
	"github.com/booksphere/booksphere/pkg/logger"
	"github.com/booksphere/booksphere/pkg/metrics"
	"github.com/booksphere/booksphere/pkg/middleware"
	pgclient "github.com/booksphere/booksphere/pkg/postgres"
	pkgredis "github.com/booksphere/booksphere/pkg/redis"
	"github.com/booksphere/booksphere/pkg/resilience"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	db, err := pgclient.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	var reader catalog.Reader = postgres.New(db)

	checker := health.NewChecker()
	// the snapshot keeps serving while postgres is away
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))

	var redisClient *pkgredis.Client
	var backend cache.Backend
	var breaker *resilience.CircuitBreaker
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			backend = redisClient
			breaker = resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
				OnStateChange: func(name string, to resilience.State) {
					m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			})
			checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	queryCache := cache.New[search.Result](backend, cfg.Redis.CacheTTL, breaker)

	svc := search.NewService(reader, queryCache, m, search.OptionsFromConfig(cfg.Search))
	if _, err := svc.Refresh(ctx, search.TriggerStartup); err != nil {
		slog.Error("failed to build initial ranking snapshot", "error", err)
		os.Exit(1)
	}
	checker.Register("snapshot", func(context.Context) health.ComponentHealth {
		info, ok := svc.Snapshot()
		if !ok {
			return health.ComponentHealth{Status: health.StatusDown, Message: "not built"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("version %d, %d books", info.Version, info.Books),
		}
	})
	go svc.Run(ctx, cfg.Search.RefreshInterval)

	mux := http.NewServeMux()

	// Without Kafka, search events are aggregated in-process and served
	// here; otherwise the analytics service owns them.
	var sink analytics.Sink
	if cfg.Kafka.Enabled {
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		sink = analytics.KafkaSink{Publisher: analyticsProducer}

		// Every replica must rebuild on every change, so each gets its own
		// consumer group.
		group := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
		catalogConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CatalogEvents, group, events.Handler(svc.HandleEvent))
		go func() {
			if err := catalogConsumer.Start(ctx); err != nil {
				slog.Error("catalog event consumer stopped", "error", err)
			}
		}()
		slog.Info("consuming catalog events", "topic", cfg.Kafka.Topics.CatalogEvents, "group", group)
	} else {
		aggregator := analytics.NewAggregator()
		sink = aggregator
		analytics.NewHandler(aggregator, nil).Register(mux)
		slog.Info("kafka disabled, analytics aggregated in-process; catalog changes picked up by periodic refresh")
	}
	collector := analytics.NewCollector(sink, cfg.Analytics.BufferSize,
		analytics.WithBatching(cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval),
		analytics.WithDropHook(m.AnalyticsDropped.Inc),
	)
	collector.Start(ctx)

	handler.New(svc, collector).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []middleware.Middleware{
		middleware.RequestID(),
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Metrics(m),
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		go limiter.RunSweeper(ctx)
		mws = append(mws, middleware.RateLimit(limiter, m.RateLimitedTotal.Inc))
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	collector.Wait()
	slog.Info("search service stopped")
}
