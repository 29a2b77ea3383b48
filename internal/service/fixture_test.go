package service

import (
	"context"
	"testing"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/repository"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// 固定的"今天"：2024-05-15 周三
var testToday = time.Date(2024, 5, 15, 9, 30, 0, 0, time.UTC)

func row(name string, levels ...string) domain.HierarchyRow {
	r := domain.HierarchyRow{HierarchyName: name}
	copy(r.Levels[:], levels)
	return r
}

func dealer(code, zone, town string) domain.Actor {
	return domain.Actor{Code: code, Name: "Dealer " + code, Role: "dealer", Position: domain.PositionDealer,
		Latitude: 18.52, Longitude: 73.85, Zone: zone, District: "Pune", Taluka: "Haveli", Town: town}
}

// fixture 内存仓储 + 全部服务
type fixture struct {
	hierarchy  *repository.MemoryHierarchyRepo
	actors     *repository.MemoryActorsRepo
	schedules  *repository.MemorySchedulesRepo
	routeRepo  *repository.MemoryRoutePlansRepo
	archive    repository.ArchiveRepository
	resolver   *HierarchyService
	scheduler  *ScheduleService
	visits     *VisitService
	routePlans *RoutePlanService
	reports    *ReportService
}

type fixtureOption func(*fixture)

func withArchive(a repository.ArchiveRepository) fixtureOption {
	return func(f *fixture) { f.archive = a }
}

// newFixture 层级 north：
//
//	E1(asm) -> T1(tse) -> D1
//	E1(asm) -> T1(tse) -> M1(mdd) -> D2
//	E2(asm) -> T2(tse) -> D3
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := zap.NewNop()

	f := &fixture{
		hierarchy: repository.NewMemoryHierarchyRepo(
			row("north", "Z1", "S1", "E1", "T1", "", "D1"),
			row("north", "Z1", "S1", "E1", "T1", "M1", "D2"),
			row("north", "Z1", "S1", "E2", "T2", "", "D3"),
		),
		actors: repository.NewMemoryActorsRepo(
			dealer("D1", "West", "Pune"),
			dealer("D2", "West", "Hadapsar"),
			dealer("D3", "East", "Nagpur"),
			domain.Actor{Code: "M1", Name: "MDD M1", Role: "dealer", Position: domain.PositionMDD, Zone: "West", Town: "Pune"},
			domain.Actor{Code: "E1", Name: "Asha", Role: domain.RoleEmployee, Position: domain.PositionASM},
			domain.Actor{Code: "T1", Name: "Ravi", Role: domain.RoleEmployee, Position: domain.PositionTSE},
		),
		schedules: repository.NewMemorySchedulesRepo(),
		routeRepo: repository.NewMemoryRoutePlansRepo(),
		archive:   repository.NewMemoryArchiveRepo(),
	}
	for _, o := range opts {
		o(f)
	}

	f.resolver = NewHierarchyService(f.hierarchy, logger)
	f.scheduler = NewScheduleService(f.schedules, f.actors, f.hierarchy, f.resolver,
		ScheduleOptions{Location: time.UTC}, logger)
	f.scheduler.now = func() time.Time { return testToday }
	f.visits = NewVisitService(f.scheduler, f.archive, logger)
	f.routePlans = NewRoutePlanService(f.routeRepo, f.actors, f.scheduler, f.archive, &recordingSink{}, logger)
	f.reports = NewReportService(f.schedules, f.routePlans, nil, ReportOptions{PageSize: 2, Location: time.UTC}, logger)
	f.reports.now = func() time.Time { return testToday }
	return f
}

var (
	admin    = domain.Identity{Code: "ADM", Role: domain.RoleAdmin}
	employee = domain.Identity{Code: "E1", Role: domain.RoleEmployee}
)

func km(v float64) *float64 { return &v }

// MockArchiveRepository ArchiveRepository 的 mock 实现
type MockArchiveRepository struct {
	mock.Mock
}

func (m *MockArchiveRepository) Archive(ctx context.Context, rec *domain.DeletionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockArchiveRepository) ListDeletionRecords(ctx context.Context, collection string, page, size int) ([]domain.DeletionRecord, int, error) {
	args := m.Called(ctx, collection, page, size)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.DeletionRecord), args.Int(1), args.Error(2)
}

// MockSink notify.Sink 的 mock 实现
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Emit(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// recordingSink 记录收到的通知
type recordingSink struct {
	got []domain.Notification
}

func (s *recordingSink) Emit(_ context.Context, n domain.Notification) error {
	s.got = append(s.got, n)
	return nil
}
