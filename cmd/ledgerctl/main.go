package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(openRuntime, nil)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func openRuntime(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg, "ledgerctl")

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.DefaultPingTimeout)
	if err != nil {
		pool.Close()
		return nil, err
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)

	services := app.NewServices(app.ServiceDeps{
		Config:      cfg,
		Pool:        pool,
		RedisClient: redisClient,
		Logger:      logger,
	})

	return &cli.Runtime{
		Numbering:      services.Numbering,
		Ledger:         services.Ledger,
		Close:          services.Close,
		Reconciliation: services.Reconciliation,
		Jobs:           jobsCLI,
		Release: func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
			pool.Close()
		},
	}, nil
}
