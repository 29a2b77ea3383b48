package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// seedDaily 直接写入 daily 排程；done 中的经销商在当天 10:00 完成
func seedDaily(t *testing.T, f *fixture, employeeCode string, day time.Time, codes []string, done ...string) {
	t.Helper()
	ctx := context.Background()
	actors, err := f.actors.FindActorsByCodes(ctx, codes)
	require.NoError(t, err)
	st := &domain.ScheduleStore{EmployeeCode: employeeCode, Mode: domain.ScheduleDaily, StartDate: day, EndDate: day}
	st.AppendVisits(day, pendingVisits(actors))
	for _, code := range done {
		v := st.FindDealerOn(day, code)
		require.NotNil(t, v, code)
		st.MarkDone(v, 0.1, day.Add(10*time.Hour))
	}
	require.NoError(t, f.schedules.CreateSchedule(ctx, st))
}

// seedReport 五月的数据：
//
//	E1 05-13 D1 pending, D2 done
//	E1 05-14 D1 done
//	T1 05-14 D3 pending
//	E1 05-20 D3 done（区间外，只计入 overall）
func seedReport(t *testing.T, f *fixture) {
	seedDaily(t, f, "E1", may(13), []string{"D1", "D2"}, "D2")
	seedDaily(t, f, "E1", may(14), []string{"D1"}, "D1")
	seedDaily(t, f, "T1", may(14), []string{"D3"})
	seedDaily(t, f, "E1", may(20), []string{"D3"}, "D3")
}

func dealerRowCodes(rows []DealerSummary) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.DealerCode)
	}
	return out
}

func TestGetReport_DoneIfAnyVisitDone(t *testing.T) {
	f := newFixture(t)
	seedReport(t, f)

	resp, err := f.reports.GetReport(context.Background(), ReportRequest{Start: may(13), End: may(14)})
	require.NoError(t, err)

	assert.Equal(t, Summary{Start: "2024-05-13", End: "2024-05-14", Total: 3, Done: 2, Pending: 1}, resp.Summary)
	require.Len(t, resp.Data, 3)

	d1 := resp.Data[0]
	assert.Equal(t, "D1", d1.DealerCode)
	assert.Equal(t, domain.VisitDone, d1.Status)
	assert.Equal(t, 1, d1.Visits)
	assert.Equal(t, 2, d1.Scheduled)
	assert.Equal(t, []string{"E1"}, d1.Employees)
	require.NotNil(t, d1.LastVisitedAt)
	assert.True(t, d1.LastVisitedAt.Equal(may(14).Add(10*time.Hour)))

	d3 := resp.Data[2]
	assert.Equal(t, domain.VisitPending, d3.Status)
	assert.Equal(t, []string{"T1"}, d3.Employees)
	assert.Nil(t, d3.LastVisitedAt)

	assert.Equal(t, []EmployeeSummary{
		{EmployeeCode: "E1", Total: 3, Done: 2, Pending: 1},
		{EmployeeCode: "T1", Total: 1, Done: 0, Pending: 1},
	}, resp.Employees)

	// 当月汇总：D3 在 05-20 完成
	assert.Equal(t, Summary{Start: "2024-05-01", End: "2024-05-31", Total: 3, Done: 3, Pending: 0}, resp.Overall)
}

func TestGetReport_Filters(t *testing.T) {
	f := newFixture(t)
	seedReport(t, f)
	ctx := context.Background()

	cases := []struct {
		name    string
		filters ReportFilters
		want    []string
	}{
		{"status pending", ReportFilters{Status: domain.VisitPending}, []string{"D3"}},
		{"status done", ReportFilters{Status: domain.VisitDone}, []string{"D1", "D2"}},
		{"zone", ReportFilters{Zones: []string{"East"}}, []string{"D3"}},
		{"town", ReportFilters{Towns: []string{"Pune", "Hadapsar"}}, []string{"D1", "D2"}},
		{"dealer", ReportFilters{DealerCodes: []string{"D2"}}, []string{"D2"}},
		{"employee", ReportFilters{EmployeeCodes: []string{"T1"}}, []string{"D3"}},
		{"and across dimensions", ReportFilters{Zones: []string{"West"}, EmployeeCodes: []string{"T1"}}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := f.reports.GetReport(ctx, ReportRequest{Start: may(13), End: may(14), Filters: tc.filters})
			require.NoError(t, err)
			assert.Equal(t, tc.want, dealerRowCodes(resp.Data))
			assert.Equal(t, len(tc.want), resp.Total)
		})
	}
}

func TestGetReport_RouteFilter(t *testing.T) {
	f := newFixture(t)
	seedReport(t, f)
	ctx := context.Background()

	plan := &domain.RoutePlan{EmployeeCode: "T1", StartDate: may(14), EndDate: may(14),
		Status: domain.RouteApproved, Itinerary: domain.Itinerary{Towns: []string{"Nagpur"}}}
	require.NoError(t, f.routeRepo.CreateRoutePlan(ctx, plan))

	resp, err := f.reports.GetReport(ctx, ReportRequest{Start: may(13), End: may(14),
		Filters: ReportFilters{RouteIDs: []string{plan.ID}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"D3"}, dealerRowCodes(resp.Data))
}

func TestGetReport_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []ReportRequest{
		{},
		{Start: may(14), End: may(13)},
		{Start: may(1), End: may(1).AddDate(1, 0, 1)},
		{Start: may(13), Filters: ReportFilters{Status: "late"}},
	}
	for _, req := range cases {
		_, err := f.reports.GetReport(ctx, req)
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve, "request %+v", req)
	}

	resp, err := f.reports.GetReport(ctx, ReportRequest{Start: may(13)})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-13", resp.End)
	assert.Empty(t, resp.Data)
}

func TestGetReport_OverallCachedUntilScheduleChanges(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.reports = NewReportService(f.schedules, f.routePlans, store.NewRedisKV(client),
		ReportOptions{CacheTTL: time.Minute, Location: time.UTC}, zap.NewNop())
	f.reports.now = func() time.Time { return testToday }
	f.visits.AddListener(f.reports)
	seedReport(t, f)
	ctx := context.Background()
	req := ReportRequest{Start: may(13), End: may(14)}

	first, err := f.reports.GetReport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Overall.Total)

	var cached []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, overallCachePrefix+"2024-05:") {
			cached = append(cached, k)
		}
	}
	require.Len(t, cached, 1)

	// 绕过服务直接写入，缓存仍返回旧的汇总
	seedDaily(t, f, "T2", may(22), []string{"M1"})
	stale, err := f.reports.GetReport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, stale.Overall.Total)

	// 任意一次拜访确认都会让缓存失效
	seedToday(t, f)
	_, err = f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1", DistanceKm: km(0.1)})
	require.NoError(t, err)

	fresh, err := f.reports.GetReport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 4, fresh.Overall.Total)
	assert.Equal(t, 3, fresh.Overall.Done)
}

func overallKeys(mr *miniredis.Miniredis) []string {
	var out []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, overallCachePrefix) {
			out = append(out, k)
		}
	}
	return out
}

func TestGetReport_OverallRefreshedAfterScheduleGeneration(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.reports = NewReportService(f.schedules, f.routePlans, store.NewRedisKV(client),
		ReportOptions{CacheTTL: time.Minute, Location: time.UTC}, zap.NewNop())
	f.reports.now = func() time.Time { return testToday }
	f.scheduler.AddListener(f.reports)
	ctx := context.Background()
	req := ReportRequest{Start: testToday, End: testToday}

	empty, err := f.reports.GetReport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Overall.Total)
	require.Len(t, overallKeys(mr), 1)

	_, err = f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Empty(t, overallKeys(mr))

	generated, err := f.reports.GetReport(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 4, generated.Total)
	assert.Equal(t, generated.Total, generated.Overall.Total)
	require.Len(t, overallKeys(mr), 1)

	// 路线计划落地新增记录同样清除缓存
	_, err = f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E2", StartDate: may(16), Itinerary: domain.Itinerary{Zones: []string{"West"}},
	})
	require.NoError(t, err)
	assert.Empty(t, overallKeys(mr))

	// 没有新增记录时不清缓存
	_, err = f.reports.GetReport(ctx, req)
	require.NoError(t, err)
	_, err = f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Len(t, overallKeys(mr), 1)
}

func TestOverallCacheKey_DependsOnFilters(t *testing.T) {
	a := overallCacheKey(may(1), ReportFilters{Zones: []string{"West"}})
	b := overallCacheKey(may(1), ReportFilters{Zones: []string{"East"}})
	c := overallCacheKey(may(1), ReportFilters{Zones: []string{"West"}})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.True(t, strings.HasPrefix(a, overallCachePrefix+"2024-05:"))
}
