package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldvisit/internal/service"

	"go.uber.org/zap"
)

// Generator 每日排程生成（*service.ScheduleService 实现）
type Generator interface {
	GenerateDailySchedules(ctx context.Context, hierarchyName string) (*service.GenerateDailyResponse, error)
}

// HierarchyLister 列出所有层级（*service.HierarchyService 实现）
type HierarchyLister interface {
	ListHierarchyNames(ctx context.Context) ([]string, error)
}

// DailyJob 按层级批量生成当天排程
// hierarchies 为空时每次运行都从层级表读取全部名称
type DailyJob struct {
	gen         Generator
	lister      HierarchyLister
	hierarchies []string
	interval    time.Duration
	logger      *zap.Logger
}

// NewDailyJob 创建每日排程任务
func NewDailyJob(gen Generator, lister HierarchyLister, hierarchies []string, interval time.Duration, logger *zap.Logger) *DailyJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &DailyJob{
		gen:         gen,
		lister:      lister,
		hierarchies: hierarchies,
		interval:    interval,
		logger:      logger,
	}
}

// RunOnce 为指定层级生成排程；names 为空时使用配置或全部层级
// 单个层级失败不影响其余层级，错误合并返回
func (j *DailyJob) RunOnce(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = j.hierarchies
	}
	if len(names) == 0 {
		all, err := j.lister.ListHierarchyNames(ctx)
		if err != nil {
			return fmt.Errorf("failed to list hierarchies: %w", err)
		}
		names = all
	}

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := j.gen.GenerateDailySchedules(ctx, name)
		if err != nil {
			j.logger.Error("Daily generation failed",
				zap.String("hierarchy_name", name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		j.logger.Debug("Daily generation done",
			zap.String("hierarchy_name", name),
			zap.Int("created", resp.Created),
			zap.Int("augmented", resp.Augmented),
		)
	}
	return errors.Join(errs...)
}

// Start 启动时执行一次，之后按 interval 定时执行，直到 ctx 取消
func (j *DailyJob) Start(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Starting daily schedule job",
		zap.Duration("interval", j.interval),
		zap.Strings("hierarchies", j.hierarchies),
	)

	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("Failed to generate schedules on startup", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("Failed to generate schedules", zap.Error(err))
			}
		}
	}
}
