package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/philmcc/dbdash-backend/internal/api/middleware"
	"github.com/philmcc/dbdash-backend/internal/api/rest"
	"github.com/philmcc/dbdash-backend/internal/config"
	"github.com/philmcc/dbdash-backend/internal/pkg/logger"
	"github.com/philmcc/dbdash-backend/internal/pkg/tracing"
	"github.com/philmcc/dbdash-backend/internal/repository"
	"github.com/philmcc/dbdash-backend/internal/service"
	"github.com/philmcc/dbdash-backend/internal/telemetry"
	"github.com/philmcc/dbdash-backend/migrations"
)

const serviceName = "dbdash-backend"

func main() {
	log := logger.StdLogger()
	log.Info("Starting", "service", serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("Configuration loaded", "port", cfg.Port, "db", cfg.DatabasePath, "targets", len(cfg.Targets))

	shutdownTracing, err := tracing.Init(serviceName, cfg.OTLPEndpoint, cfg.TraceSamplingRate)
	if err != nil {
		log.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracing()
	}

	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	migrationSQL, err := migrations.All()
	if err != nil {
		log.Error("Failed to load migrations", "error", err)
		os.Exit(1)
	}
	if err := repo.RunMigrations(migrationSQL); err != nil {
		log.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Sessions left running by a previous process have no poll loop to
	// drive them; close them out before accepting new start requests.
	recovered, err := repo.RecoverOrphanedSessions(ctx)
	if err != nil {
		log.Error("Failed to recover orphaned sessions", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		log.Info("Recovered orphaned sessions", "count", recovered)
	}

	source := telemetry.NewPostgresSource(func(targetID string) (string, error) {
		dsn, ok := cfg.Targets[targetID]
		if !ok {
			return "", fmt.Errorf("unknown target: %s", targetID)
		}
		return dsn, nil
	})
	defer source.Close()

	monitor := service.NewMonitor(repo, source, cfg, log)
	queryService := service.NewQueryService(repo, log)

	maintenance := service.NewMaintenanceService(repo, cfg, log)
	maintenance.Start(ctx)

	router := mux.NewRouter()

	healthz := rest.NewHealthzHandler(repo)
	router.HandleFunc("/health", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler := rest.NewHandler(monitor, queryService)
	rest.SetupRoutes(apiRouter, handler)

	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.Recovery)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	maintenance.Stop()
	monitor.StopAll(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}
