package repository

import (
	"context"

	"fieldvisit/internal/domain"
)

// ArchiveRepository 删除存档（DeletionRecord 只增不改）
type ArchiveRepository interface {
	// Archive 写入存档；ID / DeletedAt 为空时自动填充
	Archive(ctx context.Context, rec *domain.DeletionRecord) error

	// ListDeletionRecords 查询存档（collection 为空表示全部）
	ListDeletionRecords(ctx context.Context, collection string, page, size int) ([]domain.DeletionRecord, int, error)
}
