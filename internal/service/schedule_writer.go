package service

import (
	"context"
	"errors"
	"sync"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/repository"

	"go.uber.org/zap"
)

// DefaultMaxRetries 乐观锁冲突的默认重试次数
const DefaultMaxRetries = 5

// keyedMutex 按 key 加锁；无人持有的 key 会被回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

// Lock 加锁并返回解锁函数
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// errNoChange mutate 回调返回此值表示无需写回
var errNoChange = errors.New("no change")

// scheduleWriter 排程写入：进程内按排程 ID 串行化 + 存储层版本校验重试
// 所有修改 ScheduleStore 的服务共享同一个 scheduleWriter
type scheduleWriter struct {
	repo       repository.SchedulesRepository
	locks      *keyedMutex
	maxRetries int
	logger     *zap.Logger
}

func newScheduleWriter(repo repository.SchedulesRepository, maxRetries int, logger *zap.Logger) *scheduleWriter {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &scheduleWriter{
		repo:       repo,
		locks:      newKeyedMutex(),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// mutate 读-改-写；fn 在最新副本上修改，返回 errNoChange 时不写回
// 版本冲突时重新加载并重放 fn，重试耗尽返回 ConflictError
func (w *scheduleWriter) mutate(ctx context.Context, id string, fn func(s *domain.ScheduleStore) error) (*domain.ScheduleStore, error) {
	unlock := w.locks.Lock("schedule:" + id)
	defer unlock()

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		s, err := w.repo.GetSchedule(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NewNotFound("schedule", id)
			}
			return nil, domain.Internal("load schedule", err)
		}

		if err := fn(s); err != nil {
			if errors.Is(err, errNoChange) {
				return s, nil
			}
			return nil, err
		}

		err = w.repo.UpdateSchedule(ctx, s)
		if err == nil {
			return s, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNotFound("schedule", id)
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, domain.Internal("update schedule", err)
		}
		w.logger.Debug("Schedule version conflict, retrying",
			zap.String("schedule_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return nil, &domain.ConflictError{Resource: "schedule", Key: id, Attempts: w.maxRetries}
}
