package repository

import (
	"context"

	"fieldvisit/internal/domain"
)

// ActorsRepository 主数据查询接口（员工 / 经销商），本服务只读
type ActorsRepository interface {
	// GetActor 按编码获取
	GetActor(ctx context.Context, code string) (*domain.Actor, error)

	// FindActorsByCodes 批量按编码获取；不存在的编码直接忽略
	FindActorsByCodes(ctx context.Context, codes []string) ([]domain.Actor, error)

	// FindActorsByGeography 按地理条件 + 岗位查询
	FindActorsByGeography(ctx context.Context, filter domain.GeoFilter) ([]domain.Actor, error)
}
