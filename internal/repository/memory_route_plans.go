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

// MemoryRoutePlansRepo 路线计划内存实现
type MemoryRoutePlansRepo struct {
	mu        sync.RWMutex
	plans     map[string]domain.RoutePlan
	requested map[string]domain.RequestedRoute
	named     map[string]domain.NamedRoute
}

func NewMemoryRoutePlansRepo() *MemoryRoutePlansRepo {
	return &MemoryRoutePlansRepo{
		plans:     map[string]domain.RoutePlan{},
		requested: map[string]domain.RequestedRoute{},
		named:     map[string]domain.NamedRoute{},
	}
}

var _ RoutePlansRepository = (*MemoryRoutePlansRepo)(nil)

// PutNamedRoute 新增或覆盖预定义路线
func (r *MemoryRoutePlansRepo) PutNamedRoute(nr domain.NamedRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[nr.Name] = nr
}

func stampRoutePlan(p *domain.RoutePlan) error {
	if p.EmployeeCode == "" {
		return fmt.Errorf("employee_code is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.StartDate = domain.DateOnly(p.StartDate)
	p.EndDate = domain.DateOnly(p.EndDate)
	return nil
}

func (r *MemoryRoutePlansRepo) CreateRoutePlan(_ context.Context, p *domain.RoutePlan) error {
	if err := stampRoutePlan(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = *p
	return nil
}

func (r *MemoryRoutePlansRepo) GetRoutePlan(_ context.Context, id string) (*domain.RoutePlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRoutePlansRepo) ListRoutePlans(_ context.Context, filters RoutePlanFilters, page, size int) ([]domain.RoutePlan, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids map[string]struct{}
	if len(filters.IDs) > 0 {
		ids = map[string]struct{}{}
		for _, id := range filters.IDs {
			ids[id] = struct{}{}
		}
	}
	all := []domain.RoutePlan{}
	for _, p := range r.plans {
		if filters.EmployeeCode != "" && p.EmployeeCode != filters.EmployeeCode {
			continue
		}
		if filters.Status != "" && p.Status != filters.Status {
			continue
		}
		if ids != nil {
			if _, ok := ids[p.ID]; !ok {
				continue
			}
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartDate.Equal(all[j].StartDate) {
			return all[i].StartDate.After(all[j].StartDate)
		}
		return all[i].ID < all[j].ID
	})
	start, end := paginate(len(all), page, size)
	return all[start:end], len(all), nil
}

func (r *MemoryRoutePlansRepo) DeleteRoutePlan(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[id]; !ok {
		return ErrNotFound
	}
	delete(r.plans, id)
	return nil
}

func (r *MemoryRoutePlansRepo) CreateRequestedRoute(_ context.Context, rr *domain.RequestedRoute) error {
	if err := stampRoutePlan(&rr.RoutePlan); err != nil {
		return err
	}
	if rr.Status == "" {
		rr.Status = domain.RouteRequested
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested[rr.ID] = *rr
	return nil
}

func (r *MemoryRoutePlansRepo) GetRequestedRoute(_ context.Context, id string) (*domain.RequestedRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rr, ok := r.requested[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rr, nil
}

func (r *MemoryRoutePlansRepo) ListRequestedRoutes(_ context.Context, status domain.RouteStatus, page, size int) ([]domain.RequestedRoute, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := []domain.RequestedRoute{}
	for _, rr := range r.requested {
		if status != "" && rr.Status != status {
			continue
		}
		all = append(all, rr)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start, end := paginate(len(all), page, size)
	return all[start:end], len(all), nil
}

func (r *MemoryRoutePlansRepo) SetRequestedRouteStatus(_ context.Context, id string, status domain.RouteStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %s", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rr, ok := r.requested[id]
	if !ok {
		return ErrNotFound
	}
	rr.Status = status
	rr.UpdatedAt = time.Now()
	r.requested[id] = rr
	return nil
}

func (r *MemoryRoutePlansRepo) DeleteRequestedRoute(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requested[id]; !ok {
		return ErrNotFound
	}
	delete(r.requested, id)
	return nil
}

func (r *MemoryRoutePlansRepo) GetNamedRoutes(_ context.Context, names []string) ([]domain.NamedRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.NamedRoute{}
	for _, n := range cleanCodes(names) {
		if nr, ok := r.named[n]; ok {
			out = append(out, nr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
