package cli

import (
	"context"
	"fmt"

	logpkg "fieldvisit/common/logger"
	"fieldvisit/internal/bootstrap"
	"fieldvisit/internal/config"
)

// loadApp 读取配置并组装服务；调用方负责 Close
func loadApp(ctx context.Context) (*bootstrap.App, error) {
	cfg := config.Load()
	logger, err := logpkg.NewLogger(cfg.Log.Level, "console", "fieldvisitctl")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return bootstrap.New(ctx, cfg, logger)
}
