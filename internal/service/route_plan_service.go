package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/notify"
	"fieldvisit/internal/repository"

	"go.uber.org/zap"
)

// MaxRoutePlanDays 单个路线计划允许的最大天数
const MaxRoutePlanDays = 92

// routeTargetPositions 路线计划注入的拜访对象岗位
var routeTargetPositions = []domain.Position{domain.PositionDealer, domain.PositionMDD}

// notificationRoles 路线计划通知的接收角色
var notificationRoles = []string{domain.RoleAdmin, domain.RoleSuperAdmin}

// RoutePlanService 路线计划：行程 -> 经销商集合 -> 按天注入排程；申请 / 审批流程
type RoutePlanService struct {
	repo      repository.RoutePlansRepository
	actors    repository.ActorsRepository
	schedules *ScheduleService
	archive   repository.ArchiveRepository
	sink      notify.Sink
	logger    *zap.Logger
}

// NewRoutePlanService 创建路线计划服务
func NewRoutePlanService(
	repo repository.RoutePlansRepository,
	actors repository.ActorsRepository,
	schedules *ScheduleService,
	archive repository.ArchiveRepository,
	sink notify.Sink,
	logger *zap.Logger,
) *RoutePlanService {
	return &RoutePlanService{
		repo:      repo,
		actors:    actors,
		schedules: schedules,
		archive:   archive,
		sink:      sink,
		logger:    logger,
	}
}

// RoutePlanRequest 创建 / 申请路线计划
type RoutePlanRequest struct {
	Name         string
	EmployeeCode string
	StartDate    time.Time
	EndDate      time.Time
	Itinerary    domain.Itinerary
	Reason       string
}

// MaterializeResult 计划注入排程的统计
type MaterializeResult struct {
	Days             int `json:"days"`
	Dealers          int `json:"dealers"`
	SchedulesCreated int `json:"schedules_created"`
	VisitsAdded      int `json:"visits_added"`
}

// RoutePlanResponse 计划 + 注入统计
type RoutePlanResponse struct {
	Plan        domain.RoutePlan  `json:"plan"`
	Materialize MaterializeResult `json:"materialize"`
}

func validateRoutePlan(req *RoutePlanRequest) error {
	req.EmployeeCode = strings.TrimSpace(req.EmployeeCode)
	if req.EmployeeCode == "" {
		return domain.Required("employee_code")
	}
	if req.StartDate.IsZero() {
		return domain.Required("start_date")
	}
	if req.EndDate.IsZero() {
		req.EndDate = req.StartDate
	}
	start, end := domain.DateOnly(req.StartDate), domain.DateOnly(req.EndDate)
	if end.Before(start) {
		return domain.NewValidationError("end_date", "must not be before start_date")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > MaxRoutePlanDays {
		return domain.NewValidationError("end_date", fmt.Sprintf("plan spans %d days, at most %d allowed", days, MaxRoutePlanDays))
	}
	req.Itinerary.Zones = cleanList(req.Itinerary.Zones)
	req.Itinerary.Districts = cleanList(req.Itinerary.Districts)
	req.Itinerary.Talukas = cleanList(req.Itinerary.Talukas)
	req.Itinerary.Towns = cleanList(req.Itinerary.Towns)
	req.Itinerary.RouteNames = cleanList(req.Itinerary.RouteNames)
	if req.Itinerary.IsEmpty() {
		return domain.NewValidationError("itinerary", "at least one zone, district, taluka, town or route is required")
	}
	return nil
}

func (r RoutePlanRequest) toPlan() domain.RoutePlan {
	name := r.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", r.EmployeeCode, domain.DateOnly(r.StartDate).Format("2006-01-02"))
	}
	return domain.RoutePlan{
		Name:         name,
		EmployeeCode: r.EmployeeCode,
		StartDate:    domain.DateOnly(r.StartDate),
		EndDate:      domain.DateOnly(r.EndDate),
		Itinerary:    r.Itinerary,
	}
}

// itineraryFilter 把行程转换为地理过滤条件；预定义路线展开为城镇
// 只给了路线名且都无法解析时 ok 为 false（不能退化为不过滤）
func (s *RoutePlanService) itineraryFilter(ctx context.Context, it domain.Itinerary) (domain.GeoFilter, bool, error) {
	towns := append([]string(nil), it.Towns...)
	if len(it.RouteNames) > 0 {
		named, err := s.repo.GetNamedRoutes(ctx, it.RouteNames)
		if err != nil {
			return domain.GeoFilter{}, false, domain.Internal("load named routes", err)
		}
		for _, nr := range named {
			towns = append(towns, nr.Towns...)
		}
		towns = cleanList(towns)
		if len(towns) == 0 {
			return domain.GeoFilter{}, false, nil
		}
	}
	f := domain.GeoFilter{
		Zones:     it.Zones,
		Districts: it.Districts,
		Talukas:   it.Talukas,
		Towns:     towns,
		Positions: routeTargetPositions,
	}
	return f, !f.IsEmpty(), nil
}

// ResolveItinerary 行程 -> 经销商 / MDD 主数据
func (s *RoutePlanService) ResolveItinerary(ctx context.Context, it domain.Itinerary) ([]domain.Actor, error) {
	f, ok, err := s.itineraryFilter(ctx, it)
	if err != nil || !ok {
		return nil, err
	}
	actors, err := s.actors.FindActorsByGeography(ctx, f)
	if err != nil {
		return nil, domain.Internal("find dealers by geography", err)
	}
	return actors, nil
}

// materialize 对计划内每一天调用排程生成
func (s *RoutePlanService) materialize(ctx context.Context, plan domain.RoutePlan) (MaterializeResult, error) {
	dealers, err := s.ResolveItinerary(ctx, plan.Itinerary)
	if err != nil {
		return MaterializeResult{}, err
	}
	res := MaterializeResult{Dealers: len(dealers)}
	for _, day := range plan.Days() {
		r, err := s.schedules.ensureVisits(ctx, plan.EmployeeCode, day, dealers)
		if err != nil {
			return res, fmt.Errorf("materialize %s: %w", day.Format("2006-01-02"), err)
		}
		res.Days++
		res.VisitsAdded += r.Added
		if r.Created {
			res.SchedulesCreated++
		}
	}
	if res.VisitsAdded > 0 {
		s.schedules.changed(ctx)
	}
	return res, nil
}

// CreateOrApproveRoutePlan 管理员直接创建并生效的路线计划
func (s *RoutePlanService) CreateOrApproveRoutePlan(ctx context.Context, who domain.Identity, req RoutePlanRequest) (*RoutePlanResponse, error) {
	if err := requireAdmin(who, "create route plan"); err != nil {
		return nil, err
	}
	if err := validateRoutePlan(&req); err != nil {
		return nil, err
	}
	plan := req.toPlan()
	return s.approve(ctx, who, plan, "Route plan created")
}

func (s *RoutePlanService) approve(ctx context.Context, who domain.Identity, plan domain.RoutePlan, title string) (*RoutePlanResponse, error) {
	res, err := s.materialize(ctx, plan)
	if err != nil {
		return nil, err
	}
	plan.ID = ""
	plan.CreatedAt = time.Time{}
	plan.Status = domain.RouteApproved
	plan.Approved = true
	plan.CreatedBy = who.Code
	if err := s.repo.CreateRoutePlan(ctx, &plan); err != nil {
		return nil, domain.Internal("create route plan", err)
	}
	s.logger.Info("Route plan approved",
		zap.String("route_plan_id", plan.ID),
		zap.String("employee_code", plan.EmployeeCode),
		zap.Int("days", res.Days),
		zap.Int("dealers", res.Dealers),
		zap.Int("visits_added", res.VisitsAdded),
	)
	s.emit(ctx, title, plan, fmt.Sprintf("%s: %d dealers over %d days", plan.EmployeeCode, res.Dealers, res.Days))
	return &RoutePlanResponse{Plan: plan, Materialize: res}, nil
}

// RequestRoutePlan 员工申请路线计划（只保存申请并通知管理员，不注入排程）
func (s *RoutePlanService) RequestRoutePlan(ctx context.Context, who domain.Identity, req RoutePlanRequest) (*domain.RequestedRoute, error) {
	if req.EmployeeCode == "" {
		req.EmployeeCode = who.Code
	}
	if !who.IsAdmin() && req.EmployeeCode != who.Code {
		return nil, &domain.ForbiddenError{Action: "request route plan for another employee"}
	}
	if err := validateRoutePlan(&req); err != nil {
		return nil, err
	}
	rr := &domain.RequestedRoute{RoutePlan: req.toPlan(), Reason: req.Reason}
	rr.Status = domain.RouteRequested
	rr.CreatedBy = who.Code
	if err := s.repo.CreateRequestedRoute(ctx, rr); err != nil {
		return nil, domain.Internal("create requested route", err)
	}
	s.logger.Info("Route plan requested",
		zap.String("requested_route_id", rr.ID),
		zap.String("employee_code", rr.EmployeeCode),
	)
	s.emit(ctx, "Route plan requested", rr.RoutePlan,
		fmt.Sprintf("%s requested %s (%s to %s)", who.Code, rr.Name,
			rr.StartDate.Format("2006-01-02"), rr.EndDate.Format("2006-01-02")))
	return rr, nil
}

func (s *RoutePlanService) loadRequested(ctx context.Context, id string) (*domain.RequestedRoute, error) {
	if id == "" {
		return nil, domain.Required("id")
	}
	rr, err := s.repo.GetRequestedRoute(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNotFound("requested route", id)
		}
		return nil, domain.Internal("get requested route", err)
	}
	if rr.Status != domain.RouteRequested {
		return nil, domain.NewValidationError("status", fmt.Sprintf("requested route is %s", rr.Status))
	}
	return rr, nil
}

// ApproveRequestedRoute 审批通过：注入排程、保存为 RoutePlan、删除申请
func (s *RoutePlanService) ApproveRequestedRoute(ctx context.Context, who domain.Identity, id string) (*RoutePlanResponse, error) {
	if err := requireAdmin(who, "approve requested route"); err != nil {
		return nil, err
	}
	rr, err := s.loadRequested(ctx, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.approve(ctx, who, rr.RoutePlan, "Route plan approved")
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteRequestedRoute(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Internal("delete requested route", err)
	}
	return resp, nil
}

// RejectRequestedRoute 审批拒绝：状态置为 rejected 并通知
func (s *RoutePlanService) RejectRequestedRoute(ctx context.Context, who domain.Identity, id, reason string) error {
	if err := requireAdmin(who, "reject requested route"); err != nil {
		return err
	}
	rr, err := s.loadRequested(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetRequestedRouteStatus(ctx, id, domain.RouteRejected); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewNotFound("requested route", id)
		}
		return domain.Internal("reject requested route", err)
	}
	msg := fmt.Sprintf("%s rejected %s", who.Code, rr.Name)
	if reason != "" {
		msg += ": " + reason
	}
	s.emit(ctx, "Route plan rejected", rr.RoutePlan, msg)
	return nil
}

// ListRoutePlansRequest 查询路线计划
type ListRoutePlansRequest struct {
	EmployeeCode string
	Status       domain.RouteStatus
	Page         int
	Size         int
}

// ListRoutePlans 非管理员只能查询自己的计划
func (s *RoutePlanService) ListRoutePlans(ctx context.Context, who domain.Identity, req ListRoutePlansRequest) ([]domain.RoutePlan, int, error) {
	if !who.IsAdmin() {
		req.EmployeeCode = who.Code
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, 0, domain.NewValidationError("status", fmt.Sprintf("invalid status %q", req.Status))
	}
	items, total, err := s.repo.ListRoutePlans(ctx, repository.RoutePlanFilters{
		EmployeeCode: req.EmployeeCode,
		Status:       req.Status,
	}, req.Page, req.Size)
	if err != nil {
		return nil, 0, domain.Internal("list route plans", err)
	}
	return items, total, nil
}

// ListRequestedRoutes 按状态查询申请（默认 requested）
func (s *RoutePlanService) ListRequestedRoutes(ctx context.Context, who domain.Identity, status domain.RouteStatus, page, size int) ([]domain.RequestedRoute, int, error) {
	if err := requireAdmin(who, "list requested routes"); err != nil {
		return nil, 0, err
	}
	if status == "" {
		status = domain.RouteRequested
	}
	if !status.Valid() {
		return nil, 0, domain.NewValidationError("status", fmt.Sprintf("invalid status %q", status))
	}
	items, total, err := s.repo.ListRequestedRoutes(ctx, status, page, size)
	if err != nil {
		return nil, 0, domain.Internal("list requested routes", err)
	}
	return items, total, nil
}

// DeleteRoutePlan 先写存档再删除路线计划（已注入的排程记录保留）
func (s *RoutePlanService) DeleteRoutePlan(ctx context.Context, who domain.Identity, id string) error {
	if err := requireAdmin(who, "delete route plan"); err != nil {
		return err
	}
	plan, err := s.repo.GetRoutePlan(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewNotFound("route plan", id)
		}
		return domain.Internal("get route plan", err)
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return domain.Internal("encode route plan", err)
	}
	if err := s.archive.Archive(ctx, &domain.DeletionRecord{
		CollectionName: domain.CollectionRoutePlans,
		Data:           data,
		DeletedBy:      who.Code,
	}); err != nil {
		return domain.Internal("archive route plan", err)
	}
	if err := s.repo.DeleteRoutePlan(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewNotFound("route plan", id)
		}
		return domain.Internal("delete route plan", err)
	}
	s.logger.Info("Route plan deleted", zap.String("route_plan_id", id), zap.String("by", who.Code))
	return nil
}

// RouteMatcher 路线成员判定：经销商命中任意一条路线即可
type RouteMatcher struct {
	filters []domain.GeoFilter
}

// Matches 经销商地理标签是否命中任意路线
func (m *RouteMatcher) Matches(zone, district, taluka, town string) bool {
	for _, f := range m.filters {
		if f.Matches(zone, district, taluka, town) {
			return true
		}
	}
	return false
}

// BuildRouteMatcher 由路线计划 ID 构建匹配器；未知 ID 忽略
func (s *RoutePlanService) BuildRouteMatcher(ctx context.Context, routeIDs []string) (*RouteMatcher, error) {
	ids := cleanList(routeIDs)
	m := &RouteMatcher{}
	if len(ids) == 0 {
		return m, nil
	}
	plans, _, err := s.repo.ListRoutePlans(ctx, repository.RoutePlanFilters{IDs: ids}, 1, len(ids))
	if err != nil {
		return nil, domain.Internal("load route plans", err)
	}
	for _, p := range plans {
		f, ok, err := s.itineraryFilter(ctx, p.Itinerary)
		if err != nil {
			return nil, err
		}
		if ok {
			m.filters = append(m.filters, f)
		}
	}
	return m, nil
}

// emit 通知失败只记录日志
func (s *RoutePlanService) emit(ctx context.Context, title string, plan domain.RoutePlan, message string) {
	if s.sink == nil {
		return
	}
	n := domain.Notification{
		Title:   title,
		Message: message,
		Filters: map[string]string{
			"employee_code": plan.EmployeeCode,
			"start_date":    plan.StartDate.Format("2006-01-02"),
			"end_date":      plan.EndDate.Format("2006-01-02"),
		},
		TargetRoles: notificationRoles,
		CreatedAt:   time.Now(),
	}
	if plan.ID != "" {
		n.Filters["route_plan_id"] = plan.ID
	}
	if err := s.sink.Emit(ctx, n); err != nil {
		s.logger.Warn("Failed to emit notification",
			zap.String("title", title),
			zap.String("employee_code", plan.EmployeeCode),
			zap.Error(err),
		)
	}
}
