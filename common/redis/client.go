package redis

import (
	"context"
	"fmt"
	"time"

	"fieldvisit/common/config"

	"github.com/go-redis/redis/v8"
)

// Client go-redis 客户端
type Client = redis.Client

// connectTimeout 启动时探测 Redis 的上限，不可用时服务降级为无缓存
const connectTimeout = 2 * time.Second

// NewRedisClient 创建客户端（不建立连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxRetries:   1,
	})
}

// Connect 创建客户端并在 connectTimeout 内 PING；失败时关闭客户端并返回错误
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return client, nil
}
