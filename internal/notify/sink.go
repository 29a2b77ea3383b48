package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	rediscommon "fieldvisit/common/redis"
	"fieldvisit/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// EventRouteNotification 通知事件在 stream / topic 中的类型名
const EventRouteNotification = "route_plan.notification"

// Sink 通知出口；投递失败只返回错误，由调用方记录日志
type Sink interface {
	Emit(ctx context.Context, n domain.Notification) error
}

// ========== Log ==========

// LogSink 仅写日志（默认出口，本地联测用）
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, n domain.Notification) error {
	s.logger.Info("Notification",
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.Any("filters", n.Filters),
		zap.Strings("target_roles", n.TargetRoles),
	)
	return nil
}

// ========== Redis Streams ==========

// RedisStreamSink 发布到 Redis Stream，由通知投递服务消费
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

func (s *RedisStreamSink) Emit(ctx context.Context, n domain.Notification) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, EventRouteNotification, n); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", s.stream, err)
	}
	return nil
}

// ========== MQTT ==========

// Publisher MQTT 发布能力（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTSink 发布到 MQTT topic
type MQTTSink struct {
	pub   Publisher
	topic string
}

func NewMQTTSink(pub Publisher, topic string) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic}
}

func (s *MQTTSink) Emit(_ context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return s.pub.Publish(s.topic, payload)
}

// ========== Webhook ==========

// WebhookSink POST 到外部通知服务
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink 创建 webhook 出口；token 非空时带 Bearer 认证
func NewWebhookSink(url, token string, timeout time.Duration) *WebhookSink {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Emit(ctx context.Context, n domain.Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("notification webhook returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
