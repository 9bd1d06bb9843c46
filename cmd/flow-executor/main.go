/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for the NeuronFlow executor
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/cmd/flow-executor/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neurondb/NeuronFlow/internal/config"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/executor"
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
		fmt.Printf("flow-executor version %s\n", version)
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exec, err := executor.New(ctx, database, cfg.Executor)
	if err != nil {
		metrics.ErrorWithContext(ctx, "Executor initialization failed", err, nil)
		os.Exit(1)
	}

	ctx = metrics.WithExecutorIDLogContext(ctx, exec.ExecutorID())
	metrics.InfoWithContext(ctx, "Running executor", map[string]interface{}{
		"version": version,
	})

	if err := exec.Run(ctx); err != nil && ctx.Err() == nil {
		metrics.ErrorWithContext(ctx, "Executor exited with error", err, nil)
		os.Exit(1)
	}

	metrics.InfoWithContext(ctx, "Executor exited", nil)
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
