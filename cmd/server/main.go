package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/graphsnap/graphsnap/internal/api"
	"github.com/graphsnap/graphsnap/internal/auth"
	"github.com/graphsnap/graphsnap/internal/config"
	"github.com/graphsnap/graphsnap/internal/database"
	"github.com/graphsnap/graphsnap/internal/logging"
	"github.com/graphsnap/graphsnap/internal/metrics"
	"github.com/graphsnap/graphsnap/internal/scheduler"
	"github.com/graphsnap/graphsnap/internal/server"
	"github.com/graphsnap/graphsnap/internal/store"
	"log/slog"
)

func main() {
	// Load .env if present; the environment wins over the file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting graphsnap store")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick the repository backend: PostgreSQL when configured, otherwise the
	// in-memory repository for local or ephemeral runs.
	var repo store.Repository
	if cfg.Database.URL != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.Database.URL

		logger.Info("connecting to database")
		db, err := database.Connect(ctx, dbCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("database connected")

		if err := database.RunMigrations(db, cfg.Database.MigrationsDir, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		repo = database.NewPostgresConnectionRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repository")
		repo = store.NewMemoryRepository()
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	service := store.NewService(repo, cfg.Limits, logger, collector)

	// Retention sweep
	retention := scheduler.NewRetentionScheduler(service, cfg.Retention, logger)
	go retention.Start(ctx)
	defer retention.Stop()

	// Setup HTTP routes
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", collector.Handler())

	authConfig := auth.LoadConfigFromEnv()
	logger.Info("auth configured", "jwt_secret_set", authConfig.JWTSecret != "change-this-secret")

	api.SetupRoutes(mux, service, authConfig, logger)

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
