// Command migrate applies the embedded schema migrations. Every migration is
// idempotent, so running it again is a no-op.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"auction-ingest/internal/config"
	"auction-ingest/internal/storage/migrations"
	pgstore "auction-ingest/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.RegisterStorageFlags(flag.CommandLine)
	flag.Parse()

	logger := cfg.NewLogger()
	if cfg.PostgresDSN == "" && cfg.ClickhouseDSN == "" {
		logger.Fatal("Nothing to migrate: set --postgres-dsn and/or --clickhouse-dsn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("Failed to connect to postgres: %v", err)
		}
		err = migrations.RunPostgres(ctx, pool, logger)
		pool.Close()
		if err != nil {
			logger.Fatalf("Postgres migration failed: %v", err)
		}
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouse(ctx, cfg.ClickhouseDSN, logger)
		if err != nil {
			logger.Fatalf("ClickHouse migration failed: %v", err)
		}
		_ = conn.Close()
	}

	logger.Info("Migrations complete")
}
