package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "fieldvisit/common/logger"
	"fieldvisit/internal/bootstrap"
	"fieldvisit/internal/config"
	"fieldvisit/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "fieldvisit")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize fieldvisit", zap.Error(err))
	}
	defer app.Close()

	srv := service.NewServer(cfg.HTTP.Addr, app.Router(), service.DefaultShutdownTimeout, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("HTTP server error", zap.Error(err))
	}
	logger.Info("Service stopped")
}
