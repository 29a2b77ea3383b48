package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldvisit/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingListener struct {
	mu sync.Mutex
	n  int
}

func (l *countingListener) ScheduleChanged(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
}

func (l *countingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// seedToday 为 E1 生成今天的 daily 排程：D1, D2, M1
func seedToday(t *testing.T, f *fixture) *domain.ScheduleStore {
	t.Helper()
	res, err := f.scheduler.Ensure(context.Background(), EnsureScheduleRequest{
		EmployeeCode: "E1", DealerCodes: []string{"D1", "D2", "M1"},
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	st, err := f.scheduler.GetSchedule(context.Background(), res.ScheduleID)
	require.NoError(t, err)
	return st
}

func TestMarkVisitDone_ThenAlreadyDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)
	l := &countingListener{}
	f.visits.AddListener(l)

	resp, err := f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D2", DistanceKm: km(0.2)})
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeDone, resp.Status)
	assert.Equal(t, st.ID, resp.ScheduleID)
	assert.Equal(t, 2, resp.Ordinal)
	assert.Equal(t, 0.2, resp.DistanceKm)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Done)
	assert.Equal(t, 2, resp.Pending)
	assert.Equal(t, 1, l.count())

	again, err := f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D2", DistanceKm: km(0.05)})
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeAlreadyDone, again.Status)
	assert.Equal(t, 0.2, again.DistanceKm)
	assert.Equal(t, 1, again.Done)
	assert.Equal(t, 1, l.count())

	stored, err := f.scheduler.GetSchedule(ctx, st.ID)
	require.NoError(t, err)
	v := stored.FindDealerOn(testToday, "D2")
	require.NotNil(t, v)
	require.NotNil(t, v.VisitedAt)
	assert.True(t, v.VisitedAt.Equal(testToday))
	assert.NoError(t, stored.CheckCounters())
}

func TestMarkVisitDone_OutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)

	_, err := f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1", DistanceKm: km(0.25)})
	var oor *domain.OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.InDelta(t, 250, oor.DistanceMeters, 0.001)

	stored, err := f.scheduler.GetSchedule(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Done)
	assert.Equal(t, st.Version, stored.Version)
}

func TestMarkVisitDone_FromCoordinates(t *testing.T) {
	f := newFixture(t)
	seedToday(t, f)

	here := domain.Coordinate{Lat: 18.52, Lon: 73.85}
	resp, err := f.visits.MarkVisitDone(context.Background(), MarkVisitDoneRequest{
		EmployeeCode: "E1", DealerCode: "D1", EmployeeCoord: &here, DealerCoord: &here,
	})
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeDone, resp.Status)
	assert.Equal(t, 0.0, resp.DistanceKm)
}

func TestMarkVisitDone_NotFoundCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1", DistanceKm: km(0)})
	assert.True(t, errors.Is(err, domain.ErrNoActiveSchedule))

	seedToday(t, f)
	_, err = f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D3", DistanceKm: km(0)})
	assert.True(t, errors.Is(err, domain.ErrDealerNotScheduled))
}

func TestMarkVisitDone_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ve *domain.ValidationError

	_, err := f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{DealerCode: "D1", DistanceKm: km(0)})
	assert.ErrorAs(t, err, &ve)
	_, err = f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1"})
	assert.ErrorAs(t, err, &ve)
	_, err = f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1", DistanceKm: km(-1)})
	assert.ErrorAs(t, err, &ve)
}

func TestMarkVisitDone_ParallelOnSameStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)

	var wg sync.WaitGroup
	results := make(chan string, 6)
	for _, code := range []string{"D1", "D2", "M1", "D1", "D2", "M1"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			resp, err := f.visits.MarkVisitDone(ctx, MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: code, DistanceKm: km(0.1)})
			if assert.NoError(t, err) {
				results <- resp.Status
			}
		}(code)
	}
	wg.Wait()
	close(results)

	counts := map[string]int{}
	for s := range results {
		counts[s]++
	}
	assert.Equal(t, 3, counts[VisitOutcomeDone])
	assert.Equal(t, 3, counts[VisitOutcomeAlreadyDone])

	stored, err := f.scheduler.GetSchedule(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Done)
	assert.Equal(t, 0, stored.Pending)
	assert.NoError(t, stored.CheckCounters())
}

func TestMarkVisitDone_DailyAndWeeklyShareOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	daily, err := f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"D1"}})
	require.NoError(t, err)
	require.True(t, daily.Created)

	// 周排程不再重复收录 daily 排程当天已有的经销商
	week, err := f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{2: {"D1"}, 3: {"D1"}}})
	require.NoError(t, err)
	assert.True(t, week.Created)
	assert.Equal(t, 1, week.Added)

	req := MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1", DistanceKm: km(0.1)}
	first, err := f.visits.MarkVisitDone(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeDone, first.Status)
	assert.Equal(t, daily.ScheduleID, first.ScheduleID)

	second, err := f.visits.MarkVisitDone(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeAlreadyDone, second.Status)
	assert.Equal(t, daily.ScheduleID, second.ScheduleID)

	stored, err := f.scheduler.GetSchedule(ctx, week.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Done)
	assert.Equal(t, 1, stored.Pending)

	rep, err := f.reports.GetReport(ctx, ReportRequest{Start: testToday, End: testToday})
	require.NoError(t, err)
	require.Len(t, rep.Data, 1)
	assert.Equal(t, "D1", rep.Data[0].DealerCode)
	assert.Equal(t, 1, rep.Data[0].Scheduled)
	assert.Equal(t, 1, rep.Data[0].Visits)
}

func TestMarkVisitDone_DoneInAnyStoreIsAlreadyDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 旧数据：同一天两个排程都收录了 D1
	week, err := f.scheduler.EnsureWeek(ctx, EnsureWeekRequest{EmployeeCode: "E1", Plan: map[int][]string{2: {"D1"}}})
	require.NoError(t, err)
	daily := &domain.ScheduleStore{EmployeeCode: "E1", Mode: domain.ScheduleDaily, StartDate: testToday, EndDate: testToday}
	daily.AppendVisits(testToday, []domain.VisitRecord{{DealerCode: "D1"}})
	require.NoError(t, f.schedules.CreateSchedule(ctx, daily))

	req := MarkVisitDoneRequest{EmployeeCode: "E1", DealerCode: "D1", DistanceKm: km(0.1)}
	first, err := f.visits.MarkVisitDone(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeDone, first.Status)
	assert.Equal(t, week.ScheduleID, first.ScheduleID)

	second, err := f.visits.MarkVisitDone(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, VisitOutcomeAlreadyDone, second.Status)

	stored, err := f.scheduler.GetSchedule(ctx, daily.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Done)
}

func TestOverwriteVisitStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)

	_, err := f.visits.OverwriteVisitStatus(ctx, employee, OverwriteVisitStatusRequest{ScheduleID: st.ID, Ordinal: 1, Status: domain.VisitDone})
	var fe *domain.ForbiddenError
	require.ErrorAs(t, err, &fe)

	// 管理员覆盖不做围栏校验
	updated, err := f.visits.OverwriteVisitStatus(ctx, admin, OverwriteVisitStatusRequest{
		ScheduleID: st.ID, Ordinal: 1, Status: domain.VisitDone, DistanceKm: km(3.5),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Done)
	assert.Equal(t, 3.5, *updated.FindVisit(1).DistanceKm)

	updated, err = f.visits.OverwriteVisitStatus(ctx, admin, OverwriteVisitStatusRequest{ScheduleID: st.ID, Ordinal: 1, Status: domain.VisitPending})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Done)
	assert.Nil(t, updated.FindVisit(1).DistanceKm)
	assert.Nil(t, updated.FindVisit(1).VisitedAt)
	assert.NoError(t, updated.CheckCounters())

	_, err = f.visits.OverwriteVisitStatus(ctx, admin, OverwriteVisitStatusRequest{ScheduleID: st.ID, Ordinal: 99, Status: domain.VisitDone})
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = f.visits.OverwriteVisitStatus(ctx, admin, OverwriteVisitStatusRequest{ScheduleID: st.ID, Ordinal: 1, Status: "skipped"})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestReplaceDayBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)

	updated, err := f.visits.ReplaceDayBucket(ctx, admin, ReplaceDayBucketRequest{
		ScheduleID: st.ID,
		Weekday:    2,
		Visits: []domain.VisitRecord{
			{DealerCode: "D3", Status: domain.VisitDone, DistanceKm: km(0.1)},
			{DealerCode: "D1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"D3", "D1"}, dealerCodes(updated.Visits))
	assert.Equal(t, 4, updated.Visits[0].Ordinal)
	assert.Equal(t, 5, updated.Visits[1].Ordinal)
	assert.Equal(t, 2, updated.Total)
	assert.Equal(t, 1, updated.Done)
	assert.NoError(t, updated.CheckCounters())

	var ve *domain.ValidationError
	_, err = f.visits.ReplaceDayBucket(ctx, admin, ReplaceDayBucketRequest{ScheduleID: st.ID, Weekday: 3})
	assert.ErrorAs(t, err, &ve)
	_, err = f.visits.ReplaceDayBucket(ctx, admin, ReplaceDayBucketRequest{
		ScheduleID: st.ID, Weekday: 2,
		Visits: []domain.VisitRecord{{DealerCode: "D1"}, {DealerCode: "D1"}},
	})
	assert.ErrorAs(t, err, &ve)
}

func TestRemoveVisit_ArchivesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)

	updated, err := f.visits.RemoveVisit(ctx, admin, st.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "M1"}, dealerCodes(updated.Visits))
	assert.Equal(t, 2, updated.Total)

	records, total, err := f.visits.ListDeletionRecords(ctx, admin, domain.CollectionVisitRecords, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "ADM", records[0].DeletedBy)
	assert.Contains(t, string(records[0].Data), `"dealer_code":"D2"`)

	// ordinal 不复用
	res, err := f.scheduler.Ensure(ctx, EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"D2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	st, err = f.scheduler.GetSchedule(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.FindDealerOn(testToday, "D2").Ordinal)

	_, _, err = f.visits.ListDeletionRecords(ctx, employee, "", 1, 10)
	var fe *domain.ForbiddenError
	assert.ErrorAs(t, err, &fe)
}

func TestRemoveVisit_ArchiveFailureKeepsRecord(t *testing.T) {
	archive := new(MockArchiveRepository)
	archive.On("Archive", mock.Anything, mock.Anything).Return(errors.New("archive down"))
	f := newFixture(t, withArchive(archive))
	ctx := context.Background()
	st := seedToday(t, f)

	_, err := f.visits.RemoveVisit(ctx, admin, st.ID, 1)
	var ie *domain.InternalError
	require.ErrorAs(t, err, &ie)

	stored, err := f.scheduler.GetSchedule(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Total)
	assert.NotNil(t, stored.FindVisit(1))
	archive.AssertNumberOfCalls(t, "Archive", 1)
}

func TestArchiveSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedToday(t, f)

	require.ErrorAs(t, f.visits.ArchiveSchedule(ctx, employee, st.ID), new(*domain.ForbiddenError))
	require.NoError(t, f.visits.ArchiveSchedule(ctx, admin, st.ID))

	_, err := f.scheduler.GetSchedule(ctx, st.ID)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	records, _, err := f.visits.ListDeletionRecords(ctx, admin, domain.CollectionSchedules, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, string(records[0].Data), st.ID)

	assert.ErrorAs(t, f.visits.ArchiveSchedule(ctx, admin, st.ID), &nf)
}

func TestArchiveSchedule_ArchiveFailureKeepsSchedule(t *testing.T) {
	archive := new(MockArchiveRepository)
	archive.On("Archive", mock.Anything, mock.MatchedBy(func(rec *domain.DeletionRecord) bool {
		return rec.CollectionName == domain.CollectionSchedules
	})).Return(errors.New("archive down"))
	f := newFixture(t, withArchive(archive))
	ctx := context.Background()
	st := seedToday(t, f)

	err := f.visits.ArchiveSchedule(ctx, admin, st.ID)
	var ie *domain.InternalError
	require.ErrorAs(t, err, &ie)

	_, err = f.scheduler.GetSchedule(ctx, st.ID)
	assert.NoError(t, err)
	archive.AssertExpectations(t)
}

func TestMarkVisitDone_UsesScheduleTimezone(t *testing.T) {
	f := newFixture(t)
	kolkata := time.FixedZone("IST", 5*3600+1800)
	f.scheduler.loc = kolkata
	// UTC 5/14 20:00 在 IST 已是 5/15
	f.scheduler.now = func() time.Time { return time.Date(2024, 5, 14, 20, 0, 0, 0, time.UTC) }

	res, err := f.scheduler.Ensure(context.Background(), EnsureScheduleRequest{EmployeeCode: "E1", DealerCodes: []string{"D1"}})
	require.NoError(t, err)
	st, err := f.scheduler.GetSchedule(context.Background(), res.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-15", st.StartDate.Format("2006-01-02"))
}
