// Command catalog serves the book catalog: merchants create and edit
// listings, admins publish them, and every committed change is announced on
// the catalog-events topic for the search service.
//
// Usage:
//
//	go run ./cmd/catalog [-config configs/development.yaml] [-memory]
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

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/internal/catalog/handler"
	"github.com/booksphere/booksphere/internal/catalog/memory"
	"github.com/booksphere/booksphere/internal/catalog/postgres"
	"github.com/booksphere/booksphere/internal/catalog/service"
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
	inMemory := flag.Bool("memory", false, "keep the catalog in memory instead of postgres")
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
	slog.Info("starting catalog service", "port", cfg.CatalogServer.Port, "in_memory", *inMemory)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	var store catalog.Store
	if *inMemory {
		store = memory.New()
	} else {
		db, err := pgclient.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := postgres.New(db)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to apply catalog schema", "error", err)
			os.Exit(1)
		}
		store = pg
		checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))
	}

	var publisher kafka.Publisher = kafka.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CatalogEvents)
		defer producer.Close()
		publisher = producer
		slog.Info("publishing catalog events", "topic", cfg.Kafka.Topics.CatalogEvents)
	}

	mux := http.NewServeMux()
	handler.New(service.New(store, publisher), m).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.CatalogServer.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID(),
			middleware.CORS(middleware.DefaultCORSConfig()),
			middleware.Metrics(m),
			middleware.Timeout(cfg.CatalogServer.WriteTimeout),
		),
		ReadTimeout:  cfg.CatalogServer.ReadTimeout,
		WriteTimeout: cfg.CatalogServer.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CatalogServer.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("catalog service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog service stopped")
}
