package repository

import (
	"context"

	"fieldvisit/internal/domain"
)

// EmployeeRef 层级中出现的员工（编码 + 所在岗位）
type EmployeeRef struct {
	Code     string
	Position domain.Position
}

// HierarchyRepository 层级行 Repository 接口（只读，数据由层级管理模块导入）
type HierarchyRepository interface {
	// ListRowsByPosition 查询 hierarchy_name 内指定岗位列等于 code 的所有行
	ListRowsByPosition(ctx context.Context, hierarchyName string, position domain.Position, code string) ([]domain.HierarchyRow, error)

	// ListEmployees 查询 hierarchy_name 内在给定岗位上出现过的所有员工（去重）
	ListEmployees(ctx context.Context, hierarchyName string, positions []domain.Position) ([]EmployeeRef, error)

	// ListHierarchyNames 所有层级名称
	ListHierarchyNames(ctx context.Context) ([]string, error)
}
