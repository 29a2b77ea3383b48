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
	"fieldvisit/internal/consumer"
	"fieldvisit/internal/scheduler"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "fieldvisit-scheduler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting fieldvisit-scheduler service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize fieldvisit-scheduler", zap.Error(err))
	}
	defer app.Close()

	job := scheduler.NewDailyJob(app.Schedules, app.Hierarchy, cfg.Schedule.Hierarchies, cfg.Schedule.Interval, logger)

	errChan := make(chan error, 2)
	go func() {
		if err := job.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// 主数据事件驱动（需要 Redis）
	if app.RedisClient != nil {
		events := consumer.NewEventConsumer(
			app.RedisClient,
			job,
			logger,
			cfg.Events.Stream,
			cfg.Events.Group,
			cfg.Events.Consumer,
			10,
		)
		go func() {
			if err := events.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	} else {
		logger.Warn("Redis unavailable, master data events disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Service error", zap.Error(err))
	}
	cancel()

	logger.Info("Service stopped")
}
