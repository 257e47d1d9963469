package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/taskledger-ai/taskledger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env before reading the log level (non-fatal; production won't
	// have one). taskledger.New loads it again, which is a no-op.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("TASKLEDGER_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := taskledger.New(
		taskledger.WithLogger(logger),
		taskledger.WithVersion(version),
	)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
