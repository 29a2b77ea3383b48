package repository

import (
	"context"

	"fieldvisit/internal/domain"
)

// RoutePlanFilters 路线计划查询过滤器
type RoutePlanFilters struct {
	EmployeeCode string
	Status       domain.RouteStatus
	IDs          []string
}

// RoutePlansRepository 路线计划 / 申请路线 / 预定义路线 Repository 接口
type RoutePlansRepository interface {
	// ========== RoutePlan ==========
	CreateRoutePlan(ctx context.Context, p *domain.RoutePlan) error
	GetRoutePlan(ctx context.Context, id string) (*domain.RoutePlan, error)
	ListRoutePlans(ctx context.Context, filters RoutePlanFilters, page, size int) ([]domain.RoutePlan, int, error)
	DeleteRoutePlan(ctx context.Context, id string) error

	// ========== RequestedRoute ==========
	CreateRequestedRoute(ctx context.Context, r *domain.RequestedRoute) error
	GetRequestedRoute(ctx context.Context, id string) (*domain.RequestedRoute, error)
	ListRequestedRoutes(ctx context.Context, status domain.RouteStatus, page, size int) ([]domain.RequestedRoute, int, error)
	SetRequestedRouteStatus(ctx context.Context, id string, status domain.RouteStatus) error
	DeleteRequestedRoute(ctx context.Context, id string) error

	// ========== NamedRoute ==========
	// GetNamedRoutes 按名称获取预定义路线；不存在的名称忽略
	GetNamedRoutes(ctx context.Context, names []string) ([]domain.NamedRoute, error)
}
