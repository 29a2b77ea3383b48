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

// MemorySchedulesRepo 排程内存实现
// 存取均为深拷贝，版本校验和 daily / weekly 唯一约束与 Postgres 实现一致
type MemorySchedulesRepo struct {
	mu        sync.RWMutex
	schedules map[string]*domain.ScheduleStore
}

func NewMemorySchedulesRepo() *MemorySchedulesRepo {
	return &MemorySchedulesRepo{schedules: map[string]*domain.ScheduleStore{}}
}

var _ SchedulesRepository = (*MemorySchedulesRepo)(nil)

func (r *MemorySchedulesRepo) CreateSchedule(_ context.Context, s *domain.ScheduleStore) error {
	if s.EmployeeCode == "" {
		return fmt.Errorf("employee_code is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := domain.DateOnly(s.StartDate)
	for _, existing := range r.schedules {
		if existing.Mode == s.Mode && existing.EmployeeCode == s.EmployeeCode &&
			domain.DateOnly(existing.StartDate).Equal(start) {
			return ErrDuplicate
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := r.schedules[s.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Version = 1
	s.StartDate = domain.DateOnly(s.StartDate)
	s.EndDate = domain.DateOnly(s.EndDate)
	r.schedules[s.ID] = s.Clone()
	return nil
}

func (r *MemorySchedulesRepo) GetSchedule(_ context.Context, id string) (*domain.ScheduleStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemorySchedulesRepo) FindCovering(_ context.Context, employeeCode string, day time.Time) ([]*domain.ScheduleStore, error) {
	return r.filter(func(s *domain.ScheduleStore) bool {
		return s.EmployeeCode == employeeCode && s.Covers(day)
	}, byStartDate), nil
}

func (r *MemorySchedulesRepo) ListForEmployee(_ context.Context, employeeCode string, start, end time.Time) ([]*domain.ScheduleStore, error) {
	return r.filter(func(s *domain.ScheduleStore) bool {
		return s.EmployeeCode == employeeCode && overlaps(s, start, end)
	}, byStartDate), nil
}

func (r *MemorySchedulesRepo) ListRangePage(_ context.Context, start, end time.Time, afterID string, limit int) ([]*domain.ScheduleStore, error) {
	if limit <= 0 {
		limit = 200
	}
	out := r.filter(func(s *domain.ScheduleStore) bool {
		return overlaps(s, start, end) && (afterID == "" || s.ID > afterID)
	}, func(a, b *domain.ScheduleStore) bool { return a.ID < b.ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemorySchedulesRepo) UpdateSchedule(_ context.Context, s *domain.ScheduleStore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.schedules[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now()
	r.schedules[s.ID] = s.Clone()
	return nil
}

func (r *MemorySchedulesRepo) DeleteSchedule(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(r.schedules, id)
	return nil
}

// Count 排程数量（测试用）
func (r *MemorySchedulesRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedules)
}

func (r *MemorySchedulesRepo) filter(keep func(*domain.ScheduleStore) bool, less func(a, b *domain.ScheduleStore) bool) []*domain.ScheduleStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.ScheduleStore{}
	for _, s := range r.schedules {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byStartDate(a, b *domain.ScheduleStore) bool {
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.Before(b.StartDate)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func overlaps(s *domain.ScheduleStore, start, end time.Time) bool {
	return !domain.DateOnly(s.StartDate).After(domain.DateOnly(end)) &&
		!domain.DateOnly(s.EndDate).Before(domain.DateOnly(start))
}
