package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/config"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/fare"
	httpapi "github.com/example/ride-hailing/internal/http"
	"github.com/example/ride-hailing/internal/ingest"
	"github.com/example/ride-hailing/internal/logging"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/routing"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := applyMigrations(cfg.PGDSN, "migrations", logger); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	routes, err := buildRoutingClient(cfg)
	if err != nil {
		logger.Error("routing client init failed", "provider", cfg.RoutingProvider, "error", err)
		os.Exit(1)
	}
	estimator := fare.NewEstimator(routes)

	var (
		rideStore  ride.Store
		sessionLog presence.SessionStore
	)
	if cfg.PGDSN != "" {
		pg, err := ride.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		rideStore = pg
		sessions, err := presence.NewPostgresSessionLog(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer sessions.Close()
		sessionLog = sessions
		logger.Info("using postgres storage")
	} else {
		rideStore = ride.NewMemoryStore()
		sessionLog = presence.NewMemorySessionLog()
		logger.Info("using in-memory storage")
	}

	rides := ride.NewService(rideStore, estimator, routes, logger)
	tracker := presence.NewTracker(sessionLog, logger)

	var telemetry dispatch.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		telemetry = producer
		logger.Info("location telemetry enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	hub := dispatch.NewHub(rides, tracker, telemetry, logger)
	api := httpapi.NewServer(rides, estimator, hub, tracker, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatcher listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildRoutingClient(cfg config.ServerConfig) (routing.Client, error) {
	var inner routing.Client
	switch cfg.RoutingProvider {
	case "google":
		g, err := routing.NewGoogleClient(cfg.MapsAPIKey)
		if err != nil {
			return nil, err
		}
		inner = g
	default:
		inner = routing.NewOSRMClient(cfg.OSRMEndpoint)
	}
	return routing.NewCachedClient(inner, cfg.RouteCacheTTL), nil
}

// applyMigrations runs every migrations/*.sql in lexical order. The statements
// are written to be re-runnable (CREATE TABLE IF NOT EXISTS), so applying on
// every boot is safe.
func applyMigrations(dsn, dir string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		start := time.Now()
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
		logger.Info("migration applied", "file", filepath.Base(f), "duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}
