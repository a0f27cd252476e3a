// Command analytics aggregates the search events published by every search
// replica and serves the totals at GET /api/v1/analytics.
//
// Stats are snapshotted to PostgreSQL periodically, and the latest snapshot
// is listed at GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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
	"github.com/booksphere/booksphere/internal/analytics/store"
	"github.com/booksphere/booksphere/pkg/config"
	"github.com/booksphere/booksphere/pkg/health"
	"github.com/booksphere/booksphere/pkg/kafka"
	"github.com/booksphere/booksphere/pkg/logger"
	"github.com/booksphere/booksphere/pkg/metrics"
	"github.com/booksphere/booksphere/pkg/middleware"
	pgclient "github.com/booksphere/booksphere/pkg/postgres"
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
	if !cfg.Kafka.Enabled {
		fmt.Fprintln(os.Stderr, "the analytics service needs kafka; with kafka disabled the searcher aggregates in-process")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.AnalyticsServer.Port)

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
	history := store.New(db)
	if err := history.Migrate(ctx); err != nil {
		slog.Error("failed to apply analytics schema", "error", err)
		os.Exit(1)
	}

	aggregator := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.ConsumerGroup+"-analytics", aggregator.HandleMessage())
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer stopped", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	saved := make(chan struct{})
	go func() {
		defer close(saved)
		history.Run(ctx, aggregator, cfg.Analytics.SnapshotInterval)
	}()
	if cfg.Analytics.Retention > 0 {
		go prune(ctx, history, cfg.Analytics.Retention)
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))

	mux := http.NewServeMux()
	analytics.NewHandler(aggregator, history).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.AnalyticsServer.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID(),
			middleware.CORS(middleware.DefaultCORSConfig()),
			middleware.Metrics(m),
		),
		ReadTimeout:  cfg.AnalyticsServer.ReadTimeout,
		WriteTimeout: cfg.AnalyticsServer.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AnalyticsServer.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-saved
	slog.Info("analytics service stopped")
}

// prune drops expired snapshots once an hour.
func prune(ctx context.Context, history *store.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := history.Prune(ctx, now.Add(-retention))
			if err != nil {
				slog.Error("pruning analytics snapshots failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned analytics snapshots", "deleted", n)
			}
		}
	}
}
