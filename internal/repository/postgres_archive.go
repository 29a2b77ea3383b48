package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldvisit/internal/domain"

	"github.com/google/uuid"
)

// PostgresArchiveRepository 删除存档 Repository 实现
type PostgresArchiveRepository struct {
	db *sql.DB
}

// NewPostgresArchiveRepository 创建删除存档 Repository
func NewPostgresArchiveRepository(db *sql.DB) *PostgresArchiveRepository {
	return &PostgresArchiveRepository{db: db}
}

var _ ArchiveRepository = (*PostgresArchiveRepository)(nil)

// Archive 写入存档
func (r *PostgresArchiveRepository) Archive(ctx context.Context, rec *domain.DeletionRecord) error {
	if rec.CollectionName == "" {
		return fmt.Errorf("collection_name is required")
	}
	if rec.DeletedBy == "" {
		return fmt.Errorf("deleted_by is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DeletedAt.IsZero() {
		rec.DeletedAt = time.Now()
	}
	data := []byte(rec.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deletion_records (id, collection_name, data, deleted_by, deleted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.CollectionName, data, rec.DeletedBy, rec.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", rec.CollectionName, err)
	}
	return nil
}

// ListDeletionRecords 查询存档
func (r *PostgresArchiveRepository) ListDeletionRecords(ctx context.Context, collection string, page, size int) ([]domain.DeletionRecord, int, error) {
	where := "1=1"
	args := []any{}
	if collection != "" {
		where = "collection_name = $1"
		args = append(args, collection)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deletion_records WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count deletion records: %w", err)
	}

	page, size = normalizePage(page, size)
	n := len(args)
	query := fmt.Sprintf(`
		SELECT id::text, collection_name, data, deleted_by, deleted_at
		FROM deletion_records
		WHERE %s
		ORDER BY deleted_at DESC
		LIMIT $%d OFFSET $%d
	`, where, n+1, n+2)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list deletion records: %w", err)
	}
	defer rows.Close()

	out := []domain.DeletionRecord{}
	for rows.Next() {
		var rec domain.DeletionRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.CollectionName, &data, &rec.DeletedBy, &rec.DeletedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan deletion record: %w", err)
		}
		rec.Data = data
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate deletion records: %w", err)
	}
	return out, total, nil
}
