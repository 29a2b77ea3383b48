package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func may(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateOrApproveRoutePlan_Materializes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E1",
		StartDate:    may(16),
		EndDate:      may(17),
		Itinerary:    domain.Itinerary{Zones: []string{"West"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Plan.ID)
	assert.Equal(t, domain.RouteApproved, resp.Plan.Status)
	assert.True(t, resp.Plan.Approved)
	assert.Equal(t, "ADM", resp.Plan.CreatedBy)
	assert.Equal(t, MaterializeResult{Days: 2, Dealers: 3, SchedulesCreated: 2, VisitsAdded: 6}, resp.Materialize)

	stores, err := f.scheduler.GetScheduleForEmployee(ctx, GetScheduleRequest{EmployeeCode: "E1", Start: may(16), End: may(17)})
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, []string{"D1", "D2", "M1"}, dealerCodes(stores[0].Visits))

	sink := f.routePlans.sink.(*recordingSink)
	require.Len(t, sink.got, 1)
	assert.Equal(t, []string{domain.RoleAdmin, domain.RoleSuperAdmin}, sink.got[0].TargetRoles)
	assert.Equal(t, resp.Plan.ID, sink.got[0].Filters["route_plan_id"])

	// 再次注入相同行程不重复
	again, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E1", StartDate: may(16), EndDate: may(17),
		Itinerary: domain.Itinerary{Zones: []string{"West"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Materialize.VisitsAdded)
	assert.Equal(t, 0, again.Materialize.SchedulesCreated)
}

func TestCreateOrApproveRoutePlan_NamedRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.routeRepo.PutNamedRoute(domain.NamedRoute{Name: "ring", Towns: []string{"Hadapsar"}})

	resp, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E1", StartDate: may(16),
		Itinerary: domain.Itinerary{RouteNames: []string{"ring"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Materialize.Dealers)
	assert.Equal(t, 1, resp.Materialize.VisitsAdded)

	// 路线名无法解析时不能退化为全量经销商
	resp, err = f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E1", StartDate: may(18),
		Itinerary: domain.Itinerary{RouteNames: []string{"nope"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Materialize.Dealers)
	assert.Equal(t, 0, resp.Materialize.SchedulesCreated)
}

func TestCreateOrApproveRoutePlan_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	west := domain.Itinerary{Zones: []string{"West"}}

	_, err := f.routePlans.CreateOrApproveRoutePlan(ctx, employee, RoutePlanRequest{EmployeeCode: "E1", StartDate: may(16), Itinerary: west})
	var fe *domain.ForbiddenError
	assert.ErrorAs(t, err, &fe)

	cases := []RoutePlanRequest{
		{StartDate: may(16), Itinerary: west},
		{EmployeeCode: "E1", Itinerary: west},
		{EmployeeCode: "E1", StartDate: may(16), EndDate: may(15), Itinerary: west},
		{EmployeeCode: "E1", StartDate: may(1), EndDate: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), Itinerary: west},
		{EmployeeCode: "E1", StartDate: may(16), Itinerary: domain.Itinerary{Towns: []string{" "}}},
	}
	for _, req := range cases {
		_, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, req)
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve, "request %+v", req)
	}
	assert.Equal(t, 0, f.schedules.Count())
}

func TestRequestApproveFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rr, err := f.routePlans.RequestRoutePlan(ctx, employee, RoutePlanRequest{
		StartDate: may(20), Itinerary: domain.Itinerary{Towns: []string{"Pune"}}, Reason: "market day",
	})
	require.NoError(t, err)
	assert.Equal(t, "E1", rr.EmployeeCode)
	assert.Equal(t, domain.RouteRequested, rr.Status)
	assert.Equal(t, 0, f.schedules.Count())

	_, err = f.routePlans.RequestRoutePlan(ctx, employee, RoutePlanRequest{
		EmployeeCode: "T1", StartDate: may(20), Itinerary: domain.Itinerary{Towns: []string{"Pune"}},
	})
	var fe *domain.ForbiddenError
	assert.ErrorAs(t, err, &fe)

	_, _, err = f.routePlans.ListRequestedRoutes(ctx, employee, "", 1, 10)
	assert.ErrorAs(t, err, &fe)
	pending, total, err := f.routePlans.ListRequestedRoutes(ctx, admin, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "market day", pending[0].Reason)

	resp, err := f.routePlans.ApproveRequestedRoute(ctx, admin, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteApproved, resp.Plan.Status)
	assert.NotEqual(t, rr.ID, resp.Plan.ID)
	assert.Equal(t, 2, resp.Materialize.VisitsAdded) // D1 + M1 在 Pune

	_, err = f.routeRepo.GetRequestedRoute(ctx, rr.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	plans, total, err := f.routePlans.ListRoutePlans(ctx, admin, ListRoutePlansRequest{EmployeeCode: "E1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, resp.Plan.ID, plans[0].ID)

	_, err = f.routePlans.ApproveRequestedRoute(ctx, admin, rr.ID)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	sink := f.routePlans.sink.(*recordingSink)
	assert.Len(t, sink.got, 2)
}

func TestRejectRequestedRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rr, err := f.routePlans.RequestRoutePlan(ctx, employee, RoutePlanRequest{
		Name: "pune run", StartDate: may(20), Itinerary: domain.Itinerary{Towns: []string{"Pune"}},
	})
	require.NoError(t, err)

	var fe *domain.ForbiddenError
	assert.ErrorAs(t, f.routePlans.RejectRequestedRoute(ctx, employee, rr.ID, ""), &fe)
	require.NoError(t, f.routePlans.RejectRequestedRoute(ctx, admin, rr.ID, "budget"))

	stored, err := f.routeRepo.GetRequestedRoute(ctx, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteRejected, stored.Status)

	sink := f.routePlans.sink.(*recordingSink)
	require.Len(t, sink.got, 2)
	assert.Equal(t, "ADM rejected pune run: budget", sink.got[1].Message)

	_, err = f.routePlans.ApproveRequestedRoute(ctx, admin, rr.ID)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, f.schedules.Count())
}

func TestRoutePlan_SinkFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	sink := new(MockSink)
	sink.On("Emit", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	svc := NewRoutePlanService(f.routeRepo, f.actors, f.scheduler, f.archive, sink, zap.NewNop())

	resp, err := svc.CreateOrApproveRoutePlan(context.Background(), admin, RoutePlanRequest{
		EmployeeCode: "E1", StartDate: may(16), Itinerary: domain.Itinerary{Zones: []string{"East"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Materialize.VisitsAdded)
	sink.AssertNumberOfCalls(t, "Emit", 1)
}

func TestDeleteRoutePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E1", StartDate: may(16), Itinerary: domain.Itinerary{Zones: []string{"East"}},
	})
	require.NoError(t, err)

	var fe *domain.ForbiddenError
	assert.ErrorAs(t, f.routePlans.DeleteRoutePlan(ctx, employee, resp.Plan.ID), &fe)
	require.NoError(t, f.routePlans.DeleteRoutePlan(ctx, admin, resp.Plan.ID))

	_, err = f.routeRepo.GetRoutePlan(ctx, resp.Plan.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	records, _, err := f.visits.ListDeletionRecords(ctx, admin, domain.CollectionRoutePlans, 1, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	// 已注入的排程保留
	assert.Equal(t, 1, f.schedules.Count())

	var nf *domain.NotFoundError
	assert.ErrorAs(t, f.routePlans.DeleteRoutePlan(ctx, admin, resp.Plan.ID), &nf)
}

func TestDeleteRoutePlan_ArchiveFailureKeepsPlan(t *testing.T) {
	archive := new(MockArchiveRepository)
	archive.On("Archive", mock.Anything, mock.Anything).Return(errors.New("archive down"))
	f := newFixture(t, withArchive(archive))
	ctx := context.Background()

	resp, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
		EmployeeCode: "E1", StartDate: may(16), Itinerary: domain.Itinerary{Zones: []string{"East"}},
	})
	require.NoError(t, err)

	var ie *domain.InternalError
	assert.ErrorAs(t, f.routePlans.DeleteRoutePlan(ctx, admin, resp.Plan.ID), &ie)
	_, err = f.routeRepo.GetRoutePlan(ctx, resp.Plan.ID)
	assert.NoError(t, err)
}

func TestListRoutePlans_EmployeeSeesOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, emp := range []string{"E1", "T1"} {
		_, err := f.routePlans.CreateOrApproveRoutePlan(ctx, admin, RoutePlanRequest{
			EmployeeCode: emp, StartDate: may(16), Itinerary: domain.Itinerary{Zones: []string{"East"}},
		})
		require.NoError(t, err)
	}

	plans, total, err := f.routePlans.ListRoutePlans(ctx, employee, ListRoutePlansRequest{EmployeeCode: "T1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "E1", plans[0].EmployeeCode)

	_, total, err = f.routePlans.ListRoutePlans(ctx, admin, ListRoutePlansRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, _, err = f.routePlans.ListRoutePlans(ctx, admin, ListRoutePlansRequest{Status: "bogus"})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestBuildRouteMatcher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := &domain.RoutePlan{EmployeeCode: "E1", StartDate: may(16), EndDate: may(16),
		Status: domain.RouteApproved, Itinerary: domain.Itinerary{Towns: []string{"Nagpur"}}}
	require.NoError(t, f.routeRepo.CreateRoutePlan(ctx, plan))

	m, err := f.routePlans.BuildRouteMatcher(ctx, []string{plan.ID, "unknown"})
	require.NoError(t, err)
	assert.True(t, m.Matches("East", "Pune", "Haveli", "Nagpur"))
	assert.False(t, m.Matches("West", "Pune", "Haveli", "Pune"))

	empty, err := f.routePlans.BuildRouteMatcher(ctx, nil)
	require.NoError(t, err)
	assert.False(t, empty.Matches("East", "", "", "Nagpur"))
}
