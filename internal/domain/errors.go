package domain

import (
	"errors"
	"fmt"
)

// 未找到类错误的哨兵值，配合 errors.Is 使用
var (
	ErrNoActiveSchedule   = errors.New("no active schedule")
	ErrDealerNotScheduled = errors.New("dealer not scheduled")
)

// ValidationError 缺少或非法的输入
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError 构造校验错误
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Required 必填字段缺失
func Required(field string) error {
	return &ValidationError{Field: field}
}

// NotFoundError 层级行 / 排程 / 排程中的经销商 不存在
type NotFoundError struct {
	Resource string
	Key      string
	Err      error // 可选哨兵：ErrNoActiveSchedule, ErrDealerNotScheduled
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// NewNotFound 构造未找到错误
func NewNotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

// NoActiveScheduleError 员工当前没有覆盖今天的排程
func NoActiveScheduleError(employeeCode string) error {
	return &NotFoundError{Resource: "active schedule", Key: employeeCode, Err: ErrNoActiveSchedule}
}

// DealerNotScheduledError 经销商不在今天的排程里
func DealerNotScheduledError(dealerCode string) error {
	return &NotFoundError{Resource: "scheduled dealer", Key: dealerCode, Err: ErrDealerNotScheduled}
}

// OutOfRangeError 地理围栏校验失败，用户靠近后可重试
type OutOfRangeError struct {
	DistanceMeters  float64
	ThresholdMeters float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.0f m (allowed %.0f m)", e.DistanceMeters, e.ThresholdMeters)
}

// ConflictError 并发写冲突（乐观锁重试耗尽）
type ConflictError struct {
	Resource string
	Key      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict on %s %s after %d attempts", e.Resource, e.Key, e.Attempts)
}

// ForbiddenError 调用者角色不允许该操作
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s requires admin role", e.Action)
}

// InternalError 协作方（存档 / 通知 / 存储）失败
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Internal 包装协作方错误
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InternalError{Op: op, Err: err}
}
