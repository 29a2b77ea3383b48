package repository

import (
	"context"
	"sort"
	"sync"

	"fieldvisit/internal/domain"
)

// MemoryActorsRepo 主数据内存实现
type MemoryActorsRepo struct {
	mu     sync.RWMutex
	actors map[string]domain.Actor
}

func NewMemoryActorsRepo(actors ...domain.Actor) *MemoryActorsRepo {
	r := &MemoryActorsRepo{actors: map[string]domain.Actor{}}
	r.Put(actors...)
	return r
}

var _ ActorsRepository = (*MemoryActorsRepo)(nil)

// Put 新增或覆盖
func (r *MemoryActorsRepo) Put(actors ...domain.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actors {
		r.actors[a.Code] = a
	}
}

func (r *MemoryActorsRepo) GetActor(_ context.Context, code string) (*domain.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryActorsRepo) FindActorsByCodes(_ context.Context, codes []string) ([]domain.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Actor{}
	for _, c := range cleanCodes(codes) {
		if a, ok := r.actors[c]; ok {
			out = append(out, a)
		}
	}
	sortActors(out)
	return out, nil
}

func (r *MemoryActorsRepo) FindActorsByGeography(_ context.Context, filter domain.GeoFilter) ([]domain.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Actor{}
	for _, a := range r.actors {
		if filter.MatchesActor(a) {
			out = append(out, a)
		}
	}
	sortActors(out)
	return out, nil
}

func sortActors(in []domain.Actor) {
	sort.Slice(in, func(i, j int) bool { return in[i].Code < in[j].Code })
}
