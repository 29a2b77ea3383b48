package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"fieldvisit/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dealerCodes(visits []domain.VisitRecord) []string {
	out := make([]string, 0, len(visits))
	for _, v := range visits {
		out = append(out, v.DealerCode)
	}
	return out
}

func TestGenerateDailySchedules_CreatesPerEmployee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-15", resp.Date)
	assert.Equal(t, 4, resp.Employees) // E1, E2, T1, T2
	assert.Equal(t, 4, resp.Created)
	assert.Equal(t, 8, resp.VisitsAdded)
	assert.Empty(t, resp.Failed)

	stores, err := f.scheduler.GetScheduleForEmployee(ctx, GetScheduleRequest{EmployeeCode: "E1"})
	require.NoError(t, err)
	require.Len(t, stores, 1)
	st := stores[0]
	assert.Equal(t, domain.ScheduleDaily, st.Mode)
	assert.Equal(t, "Asha", st.EmployeeName)
	assert.Equal(t, []string{"D1", "D2", "M1"}, dealerCodes(st.Visits))
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Pending)
	assert.NoError(t, st.CheckCounters())
}

func TestGenerateDailySchedules_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)

	again, err := f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 0, again.Augmented)
	assert.Equal(t, 0, again.VisitsAdded)
	assert.Equal(t, 4, f.schedules.Count())
}

func TestGenerateDailySchedules_AugmentsWhenHierarchyGrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)

	f.hierarchy.AddRows(row("north", "Z1", "S1", "E2", "T2", "", "D1"))
	resp, err := f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Created)
	assert.Equal(t, 2, resp.Augmented) // E2 和 T2 各增补 D1
	assert.Equal(t, 2, resp.VisitsAdded)
	assert.Equal(t, 4, f.schedules.Count())
}

func TestGenerateDailySchedules_SkipsUnknownDealersAndEmptySets(t *testing.T) {
	f := newFixture(t)
	// E3 只管辖一个主数据里不存在的经销商
	f.hierarchy.AddRows(row("north", "", "", "E3", "", "", "D404"))

	resp, err := f.scheduler.GenerateDailySchedules(context.Background(), "north")
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Employees)
	assert.Equal(t, 4, resp.Created)
	assert.Equal(t, 4, f.schedules.Count())
}

func TestGenerateDailySchedules_RequiresHierarchy(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.GenerateDailySchedules(context.Background(), " ")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestEnsure_AugmentsCoveringWeekly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	week, err := f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{
		EmployeeCode: "E1",
		Plan:         map[int][]string{2: {"D1"}, 4: {"D3"}},
	})
	require.NoError(t, err)
	assert.True(t, week.Created)
	assert.Equal(t, 2, week.Added)

	res, err := f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"D1", "D2", "DX"}})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, week.ScheduleID, res.ScheduleID)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, []string{"DX"}, res.Skipped)

	st, err := f.scheduler.GetSchedule(ctx, week.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleWeekly, st.Mode)
	assert.Equal(t, []string{"D1", "D2"}, dealerCodes(st.Days[2]))
	assert.Equal(t, []string{"D3"}, dealerCodes(st.Days[4]))
	assert.Equal(t, 1, f.schedules.Count())
	assert.NoError(t, st.CheckCounters())
}

func TestEnsure_SkipsDealersInOtherCoveringStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	week, err := f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{2: {"D1"}}})
	require.NoError(t, err)
	daily := &domain.ScheduleStore{EmployeeCode: "E1", Mode: domain.ScheduleDaily, StartDate: testToday, EndDate: testToday}
	daily.AppendVisits(testToday, []domain.VisitRecord{{DealerCode: "D2"}})
	require.NoError(t, f.schedules.CreateSchedule(ctx, daily))

	res, err := f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"D1", "D2", "M1"}})
	require.NoError(t, err)
	assert.Equal(t, week.ScheduleID, res.ScheduleID)
	assert.Equal(t, 1, res.Added)

	st, err := f.scheduler.GetSchedule(ctx, week.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "M1"}, dealerCodes(st.Days[2]))
	other, err := f.scheduler.GetSchedule(ctx, daily.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, dealerCodes(other.Visits))
}

func TestEnsureWeek_SkipsDealersAlreadyInDailyStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	daily, err := f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"D1"}})
	require.NoError(t, err)

	// 当天的经销商全部已在 daily 排程中，不创建空的周排程
	res, err := f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{2: {"D1"}}})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, f.schedules.Count())

	res, err = f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{2: {"D1", "D2"}, 3: {"D1"}}})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Added)

	st, err := f.scheduler.GetSchedule(ctx, res.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, dealerCodes(st.Days[2]))
	assert.Equal(t, []string{"D1"}, dealerCodes(st.Days[3]))

	covering, err := f.schedules.FindCovering(ctx, "E1", testToday)
	require.NoError(t, err)
	seen := map[string]int{}
	for _, c := range covering {
		for code := range c.DealerCodesOn(testToday) {
			seen[code]++
		}
	}
	assert.Equal(t, map[string]int{"D1": 1, "D2": 1}, seen)
	assert.NotEqual(t, daily.ScheduleID, res.ScheduleID)
}

func TestScheduleService_NotifiesListenersOnNewRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := &countingListener{}
	f.scheduler.AddListener(l)

	_, err := f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, 1, l.count())

	// 重复生成没有新增记录
	_, err = f.scheduler.GenerateDailySchedules(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, 1, l.count())

	_, err = f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{4: {"D3"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, l.count())

	_, err = f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E2", DealerCodes: []string{"D1"}})
	require.NoError(t, err)
	assert.Equal(t, 3, l.count())
}

func TestEnsureWeek_IdempotentAndValidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{0: {"D1", "D2"}}}

	first, err := f.scheduler.EnsureWeek(ctx, req)
	require.NoError(t, err)
	second, err := f.scheduler.EnsureWeek(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ScheduleID, second.ScheduleID)
	assert.False(t, second.Created)
	assert.Equal(t, 0, second.Added)

	_, err = f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{7: {"D1"}}})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestEnsure_ConcurrentCallsShareOneStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("D%d", i%3+1)
			_, err := f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{code}})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.schedules.Count())
	stores, err := f.scheduler.GetScheduleForEmployee(ctx, GetScheduleRequest{EmployeeCode: "E1"})
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.ElementsMatch(t, []string{"D1", "D2", "D3"}, dealerCodes(stores[0].Visits))
	assert.NoError(t, stores[0].CheckCounters())
}

func TestEnsure_NoDealersCreatesNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.scheduler.Ensure(context.Background(), EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"DX"}})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Empty(t, res.ScheduleID)
	assert.Equal(t, 0, f.schedules.Count())
}

func TestGetScheduleForEmployee_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.GetScheduleForEmployee(ctx, GetScheduleRequest{})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = f.scheduler.GetScheduleForEmployee(ctx, GetScheduleRequest{
		EmployeeCode: "E1", Start: testToday, End: testToday.AddDate(0, 0, -1),
	})
	assert.ErrorAs(t, err, &ve)

	_, err = f.scheduler.GetSchedule(ctx, "missing")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
