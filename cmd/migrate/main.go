package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"kubeheal-backend/internal/logging"
	"kubeheal-backend/migrations"
)

func main() {
	logger, err := logging.New(os.Getenv("LOG_LEVEL"), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	dsn := os.Getenv("KUBEHEAL_HISTORY_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	defer pool.Close()

	all, err := migrations.All()
	if err != nil {
		logger.Fatal("failed to list migrations", zap.Error(err))
	}
	for _, m := range all {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			logger.Fatal("failed to apply migration", zap.String("file", m.Name), zap.Error(err))
		}
		logger.Info("applied migration", zap.String("file", m.Name))
	}
}
