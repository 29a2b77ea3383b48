package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldvisit/internal/domain"

	"github.com/google/uuid"
)

// MemoryArchiveRepo 删除存档内存实现
type MemoryArchiveRepo struct {
	mu      sync.RWMutex
	records []domain.DeletionRecord
}

func NewMemoryArchiveRepo() *MemoryArchiveRepo {
	return &MemoryArchiveRepo{}
}

var _ ArchiveRepository = (*MemoryArchiveRepo)(nil)

func (r *MemoryArchiveRepo) Archive(_ context.Context, rec *domain.DeletionRecord) error {
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
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.Data = append([]byte(nil), rec.Data...)
	r.records = append(r.records, cp)
	return nil
}

func (r *MemoryArchiveRepo) ListDeletionRecords(_ context.Context, collection string, page, size int) ([]domain.DeletionRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := []domain.DeletionRecord{}
	for _, rec := range r.records {
		if collection == "" || rec.CollectionName == collection {
			all = append(all, rec)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].DeletedAt.After(all[j].DeletedAt) })
	start, end := paginate(len(all), page, size)
	return all[start:end], len(all), nil
}
