package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "fieldvisit/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 主数据服务发布的事件类型
const (
	EventHierarchyImported = "hierarchy.imported"
	EventActorUpdated      = "actor.updated"
)

// Trigger 收到主数据变更后重新生成当天排程（*scheduler.DailyJob 实现）
type Trigger interface {
	RunOnce(ctx context.Context, hierarchyNames ...string) error
}

// MasterDataEvent 主数据变更事件
type MasterDataEvent struct {
	HierarchyName string `json:"hierarchy_name,omitempty"`
	Code          string `json:"code,omitempty"`
}

// EventConsumer 主数据事件消费者
type EventConsumer struct {
	redisClient  *redis.Client
	trigger      Trigger
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
}

// NewEventConsumer 创建事件消费者
func NewEventConsumer(
	redisClient *redis.Client,
	trigger Trigger,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *EventConsumer {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &EventConsumer{
		redisClient:  redisClient,
		trigger:      trigger,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		block:        5 * time.Second,
	}
}

// Start 启动事件消费者
func (c *EventConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Event consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费事件（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeEvents(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume events",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeEvents 读取一批消息；处理失败的消息不确认，留在 PEL 中
func (c *EventConsumer) consumeEvents(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processEvent(ctx, msg); err != nil {
			c.logger.Error("Failed to process event",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// processEvent 处理单个事件
func (c *EventConsumer) processEvent(ctx context.Context, msg rediscommon.StreamMessage) error {
	eventType, event, err := parseEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}

	c.logger.Info("Processing master data event",
		zap.String("event_type", eventType),
		zap.String("hierarchy_name", event.HierarchyName),
		zap.String("code", event.Code),
	)

	switch eventType {
	case EventHierarchyImported:
		if event.HierarchyName == "" {
			return fmt.Errorf("%s without hierarchy_name", eventType)
		}
		return c.trigger.RunOnce(ctx, event.HierarchyName)
	case EventActorUpdated:
		// 不知道员工所在层级时重跑全部层级（生成是幂等的）
		if event.HierarchyName != "" {
			return c.trigger.RunOnce(ctx, event.HierarchyName)
		}
		return c.trigger.RunOnce(ctx)
	default:
		c.logger.Debug("Ignoring event", zap.String("event_type", eventType))
		return nil
	}
}

// parseEvent 解析 {type, data, timestamp} 格式的消息
func parseEvent(msg rediscommon.StreamMessage) (string, MasterDataEvent, error) {
	var event MasterDataEvent
	eventType, _ := msg.Values["type"].(string)
	if eventType == "" {
		return "", event, fmt.Errorf("missing type field")
	}
	data, _ := msg.Values["data"].(string)
	if data == "" {
		return eventType, event, nil
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", event, fmt.Errorf("invalid data: %w", err)
	}
	return eventType, event, nil
}
