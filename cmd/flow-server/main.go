/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for the NeuronFlow API server
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/cmd/flow-server/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neurondb/NeuronFlow/internal/api"
	"github.com/neurondb/NeuronFlow/internal/config"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("c", "", "Path to configuration file")
		configLong  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("flow-server version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		os.Exit(0)
	}

	cfg := loadConfig(*configPath, *configLong)
	metrics.InitLogging(cfg.Logging.Level, cfg.Logging.Format)

	database, err := db.NewDB(cfg.Database.ConnString(), db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	/* Run migrations */
	migrationRunner, err := db.NewMigrationRunner(database.DB, "./migrations")
	if err == nil {
		if err := migrationRunner.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: Migration failed: %v\n", err)
			os.Exit(1)
		}
	}

	queries := db.NewQueries(database.DB)
	handlers := api.NewHandlers(queries)
	progressHub := api.NewProgressHub(queries, database.ConnString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := progressHub.Run(ctx); err != nil {
			metrics.ErrorWithContext(ctx, "Progress hub failed", err, nil)
		}
	}()

	/* Report pool statistics periodically */
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.RecordDBPoolStats(database.GetPoolStats())
			}
		}
	}()

	router := api.NewRouter(database, handlers, progressHub)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		metrics.InfoWithContext(ctx, "NeuronFlow API server listening", map[string]interface{}{
			"addr":    server.Addr,
			"version": version,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metrics.ErrorWithContext(ctx, "Server failed", err, nil)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	metrics.InfoWithContext(ctx, "Shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		metrics.ErrorWithContext(ctx, "Server shutdown failed", err, nil)
	}
}

func loadConfig(short, long string) *config.Config {
	path := short
	if path == "" {
		path = long
	}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			fmt.Printf("Failed to load config: %v, using defaults\n", err)
			cfg = config.DefaultConfig()
			config.LoadFromEnv(cfg)
		}
		return cfg
	}

	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)
	return cfg
}
