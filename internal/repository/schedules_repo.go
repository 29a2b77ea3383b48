package repository

import (
	"context"
	"time"

	"fieldvisit/internal/domain"
)

// SchedulesRepository 拜访排程 Repository 接口
// ScheduleStore 作为整体文档读写；写入使用乐观锁（Version）
type SchedulesRepository interface {
	// CreateSchedule 创建排程；ID 为空时生成；Version 置为 1
	// 同一员工同一起始日已有同模式（daily / weekly）排程时返回 ErrDuplicate
	CreateSchedule(ctx context.Context, s *domain.ScheduleStore) error

	// GetSchedule 按 ID 获取
	GetSchedule(ctx context.Context, id string) (*domain.ScheduleStore, error)

	// FindCovering 查询员工周期覆盖 day 的排程（按 start_date 升序）
	FindCovering(ctx context.Context, employeeCode string, day time.Time) ([]*domain.ScheduleStore, error)

	// ListForEmployee 查询与 [start, end] 有交集的排程
	ListForEmployee(ctx context.Context, employeeCode string, start, end time.Time) ([]*domain.ScheduleStore, error)

	// ListRangePage 按 ID 键集分页扫描与 [start, end] 有交集的排程（报表使用）
	// afterID 为空表示第一页；返回数量小于 limit 表示已到末尾
	ListRangePage(ctx context.Context, start, end time.Time, afterID string, limit int) ([]*domain.ScheduleStore, error)

	// UpdateSchedule 整体写回；s.Version 必须等于存储中的版本，否则返回 ErrVersionConflict
	// 成功后 s.Version 自增
	UpdateSchedule(ctx context.Context, s *domain.ScheduleStore) error

	// DeleteSchedule 删除排程（调用方必须先写 DeletionRecord）
	DeleteSchedule(ctx context.Context, id string) error
}
