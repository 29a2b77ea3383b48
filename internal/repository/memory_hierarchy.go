package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fieldvisit/internal/domain"

	"github.com/google/uuid"
)

// MemoryHierarchyRepo 层级行内存实现（DB 未就绪时联测 / 单元测试）
type MemoryHierarchyRepo struct {
	mu   sync.RWMutex
	rows []domain.HierarchyRow
}

func NewMemoryHierarchyRepo(rows ...domain.HierarchyRow) *MemoryHierarchyRepo {
	r := &MemoryHierarchyRepo{}
	r.AddRows(rows...)
	return r
}

var _ HierarchyRepository = (*MemoryHierarchyRepo)(nil)

// AddRows 追加层级行
func (r *MemoryHierarchyRepo) AddRows(rows ...domain.HierarchyRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		r.rows = append(r.rows, row)
	}
}

func (r *MemoryHierarchyRepo) ListRowsByPosition(_ context.Context, hierarchyName string, position domain.Position, code string) ([]domain.HierarchyRow, error) {
	idx := domain.LevelIndex(position)
	if idx < 0 {
		return nil, fmt.Errorf("unknown position: %s", position)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.HierarchyRow{}
	if hierarchyName == "" || code == "" {
		return out, nil
	}
	for _, row := range r.rows {
		if row.HierarchyName == hierarchyName && row.Levels[idx] == code {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DealerCode() < out[j].DealerCode() })
	return out, nil
}

func (r *MemoryHierarchyRepo) ListEmployees(_ context.Context, hierarchyName string, positions []domain.Position) ([]EmployeeRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[EmployeeRef]struct{}{}
	out := []EmployeeRef{}
	for _, p := range positions {
		idx := domain.LevelIndex(p)
		if idx < 0 || p.IsVisitTarget() {
			continue
		}
		for _, row := range r.rows {
			if row.HierarchyName != hierarchyName || row.Levels[idx] == "" {
				continue
			}
			ref := EmployeeRef{Code: row.Levels[idx], Position: p}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *MemoryHierarchyRepo) ListHierarchyNames(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	var names []string
	for _, row := range r.rows {
		if _, ok := seen[row.HierarchyName]; ok {
			continue
		}
		seen[row.HierarchyName] = struct{}{}
		names = append(names, row.HierarchyName)
	}
	sort.Strings(names)
	return names, nil
}
