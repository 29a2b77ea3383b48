package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/repository"
	"fieldvisit/internal/store"

	"go.uber.org/zap"
)

const (
	// DefaultReportPageSize 报表扫描的键集分页大小
	DefaultReportPageSize = 200
	// MaxReportDays 单次报表允许的最大区间
	MaxReportDays = 366

	overallCachePrefix = "fieldvisit:report:overall:"
)

// ReportFilters 报表维度过滤（各维度之间为 AND，维度内部为 OR）
type ReportFilters struct {
	Status        domain.VisitStatus `json:"status,omitempty"`
	Zones         []string           `json:"zones,omitempty"`
	Districts     []string           `json:"districts,omitempty"`
	Talukas       []string           `json:"talukas,omitempty"`
	Towns         []string           `json:"towns,omitempty"`
	DealerCodes   []string           `json:"dealer_codes,omitempty"`
	EmployeeCodes []string           `json:"employee_codes,omitempty"`
	RouteIDs      []string           `json:"route_ids,omitempty"`
}

// ReportRequest 报表请求
type ReportRequest struct {
	Start   time.Time
	End     time.Time
	Filters ReportFilters
}

// DealerSummary 经销商行：区间内任意一次 done 即为 done，Visits 为 done 的次数
type DealerSummary struct {
	DealerCode    string             `json:"dealer_code"`
	DealerName    string             `json:"dealer_name"`
	Zone          string             `json:"zone"`
	District      string             `json:"district"`
	Taluka        string             `json:"taluka"`
	Town          string             `json:"town"`
	Status        domain.VisitStatus `json:"status"`
	Visits        int                `json:"visits"`
	Scheduled     int                `json:"scheduled"`
	Employees     []string           `json:"employees"`
	LastVisitedAt *time.Time         `json:"last_visited_at,omitempty"`
}

// EmployeeSummary 员工行：区间内记录数
type EmployeeSummary struct {
	EmployeeCode string `json:"employee_code"`
	EmployeeName string `json:"employee_name"`
	Total        int    `json:"total"`
	Done         int    `json:"done"`
	Pending      int    `json:"pending"`
}

// Summary 经销商维度的汇总
type Summary struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Total   int    `json:"total"`
	Done    int    `json:"done"`
	Pending int    `json:"pending"`
}

// ReportResponse 报表
type ReportResponse struct {
	Summary
	Data      []DealerSummary   `json:"data"`
	Employees []EmployeeSummary `json:"employees"`
	Overall   Summary           `json:"overall"`
}

// ReportService 跨排程的报表聚合
type ReportService struct {
	schedules repository.SchedulesRepository
	routes    *RoutePlanService
	kv        store.KV
	cacheTTL  time.Duration
	pageSize  int
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// ReportOptions 报表参数
type ReportOptions struct {
	PageSize int
	CacheTTL time.Duration
	Location *time.Location
}

// NewReportService 创建报表服务；kv 为 nil 时不缓存
func NewReportService(schedules repository.SchedulesRepository, routes *RoutePlanService, kv store.KV, opts ReportOptions, logger *zap.Logger) *ReportService {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultReportPageSize
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &ReportService{
		schedules: schedules,
		routes:    routes,
		kv:        kv,
		cacheTTL:  opts.CacheTTL,
		pageSize:  opts.PageSize,
		loc:       opts.Location,
		now:       time.Now,
		logger:    logger,
	}
}

// GetReport 区间报表 + 当月 overall 汇总
func (s *ReportService) GetReport(ctx context.Context, req ReportRequest) (*ReportResponse, error) {
	if req.Start.IsZero() {
		return nil, domain.Required("start")
	}
	if req.End.IsZero() {
		req.End = req.Start
	}
	start, end := domain.DateOnly(req.Start), domain.DateOnly(req.End)
	if end.Before(start) {
		return nil, domain.NewValidationError("end", "must not be before start")
	}
	if int(end.Sub(start).Hours()/24)+1 > MaxReportDays {
		return nil, domain.NewValidationError("end", fmt.Sprintf("range exceeds %d days", MaxReportDays))
	}
	if req.Filters.Status != "" && !req.Filters.Status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("invalid status %q", req.Filters.Status))
	}

	m, err := s.newMatcher(ctx, req.Filters)
	if err != nil {
		return nil, err
	}
	agg, err := s.aggregate(ctx, start, end, m)
	if err != nil {
		return nil, err
	}
	resp := &ReportResponse{
		Data:      agg.dealerRows(req.Filters.Status),
		Employees: agg.employeeRows(),
	}
	resp.Summary = summarize(start, end, resp.Data)

	overall, err := s.overall(ctx, req.Filters, m)
	if err != nil {
		return nil, err
	}
	resp.Overall = overall
	return resp, nil
}

// overall 当前自然月的汇总（与请求区间无关），结果按过滤条件缓存
func (s *ReportService) overall(ctx context.Context, filters ReportFilters, m *reportMatcher) (Summary, error) {
	today := domain.DateOnly(s.now().In(s.loc))
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)

	key := ""
	if s.kv != nil && s.cacheTTL > 0 {
		key = overallCacheKey(monthStart, filters)
		if raw, err := s.kv.Get(ctx, key); err == nil {
			var cached Summary
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Failed to read overall report cache", zap.String("key", key), zap.Error(err))
		}
	}

	agg, err := s.aggregate(ctx, monthStart, monthEnd, m)
	if err != nil {
		return Summary{}, err
	}
	sum := summarize(monthStart, monthEnd, agg.dealerRows(filters.Status))

	if key != "" {
		if b, err := json.Marshal(sum); err == nil {
			if err := s.kv.Set(ctx, key, string(b), s.cacheTTL); err != nil {
				s.logger.Warn("Failed to write overall report cache", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return sum, nil
}

// ScheduleChanged 排程变化后清除 overall 缓存
func (s *ReportService) ScheduleChanged(ctx context.Context) {
	if s.kv == nil || s.cacheTTL <= 0 {
		return
	}
	if err := store.DeletePattern(ctx, s.kv, overallCachePrefix+"*"); err != nil {
		s.logger.Warn("Failed to invalidate overall report cache", zap.Error(err))
	}
}

func overallCacheKey(month time.Time, filters ReportFilters) string {
	b, _ := json.Marshal(filters)
	sum := sha1.Sum(b)
	return overallCachePrefix + month.Format("2006-01") + ":" + hex.EncodeToString(sum[:])
}

func summarize(start, end time.Time, rows []DealerSummary) Summary {
	sum := Summary{Start: start.Format("2006-01-02"), End: end.Format("2006-01-02"), Total: len(rows)}
	for _, r := range rows {
		if r.Status == domain.VisitDone {
			sum.Done++
		}
	}
	sum.Pending = sum.Total - sum.Done
	return sum
}

// reportMatcher 记录级过滤
type reportMatcher struct {
	geo       domain.GeoFilter
	dealers   map[string]struct{}
	employees map[string]struct{}
	routes    *RouteMatcher
}

func toSet(list []string) map[string]struct{} {
	list = cleanList(list)
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(list))
	for _, v := range list {
		m[v] = struct{}{}
	}
	return m
}

func (s *ReportService) newMatcher(ctx context.Context, f ReportFilters) (*reportMatcher, error) {
	m := &reportMatcher{
		geo: domain.GeoFilter{
			Zones:     cleanList(f.Zones),
			Districts: cleanList(f.Districts),
			Talukas:   cleanList(f.Talukas),
			Towns:     cleanList(f.Towns),
		},
		dealers:   toSet(f.DealerCodes),
		employees: toSet(f.EmployeeCodes),
	}
	if len(cleanList(f.RouteIDs)) > 0 {
		if s.routes == nil {
			return nil, domain.NewValidationError("route_ids", "route filtering is not available")
		}
		rm, err := s.routes.BuildRouteMatcher(ctx, f.RouteIDs)
		if err != nil {
			return nil, err
		}
		m.routes = rm
	}
	return m, nil
}

func (m *reportMatcher) employee(code string) bool {
	if m.employees == nil {
		return true
	}
	_, ok := m.employees[code]
	return ok
}

func (m *reportMatcher) visit(v *domain.VisitRecord) bool {
	if m.dealers != nil {
		if _, ok := m.dealers[v.DealerCode]; !ok {
			return false
		}
	}
	if !m.geo.Matches(v.Zone, v.District, v.Taluka, v.Town) {
		return false
	}
	if m.routes != nil && !m.routes.Matches(v.Zone, v.District, v.Taluka, v.Town) {
		return false
	}
	return true
}

// aggregation 扫描累积状态
type aggregation struct {
	dealers   map[string]*DealerSummary
	employees map[string]*EmployeeSummary
}

// aggregate 按 ID 键集分页扫描排程，只保留聚合结果
func (s *ReportService) aggregate(ctx context.Context, start, end time.Time, m *reportMatcher) (*aggregation, error) {
	agg := &aggregation{
		dealers:   map[string]*DealerSummary{},
		employees: map[string]*EmployeeSummary{},
	}
	afterID := ""
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.schedules.ListRangePage(ctx, start, end, afterID, s.pageSize)
		if err != nil {
			return nil, domain.Internal("scan schedules", err)
		}
		pages++
		for _, st := range page {
			if m.employee(st.EmployeeCode) {
				agg.add(st, start, end, m)
			}
		}
		if len(page) < s.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	s.logger.Debug("Report range scanned",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("pages", pages),
		zap.Int("dealers", len(agg.dealers)),
	)
	return agg, nil
}

func (a *aggregation) add(st *domain.ScheduleStore, start, end time.Time, m *reportMatcher) {
	st.EachVisit(func(day time.Time, v *domain.VisitRecord) {
		if day.Before(start) || day.After(end) || !m.visit(v) {
			return
		}

		emp, ok := a.employees[st.EmployeeCode]
		if !ok {
			emp = &EmployeeSummary{EmployeeCode: st.EmployeeCode, EmployeeName: st.EmployeeName}
			a.employees[st.EmployeeCode] = emp
		}
		emp.Total++

		d, ok := a.dealers[v.DealerCode]
		if !ok {
			d = &DealerSummary{
				DealerCode: v.DealerCode,
				DealerName: v.DealerName,
				Zone:       v.Zone,
				District:   v.District,
				Taluka:     v.Taluka,
				Town:       v.Town,
				Status:     domain.VisitPending,
			}
			a.dealers[v.DealerCode] = d
		}
		d.Scheduled++
		if !containsString(d.Employees, st.EmployeeCode) {
			d.Employees = append(d.Employees, st.EmployeeCode)
		}

		if v.Status == domain.VisitDone {
			emp.Done++
			d.Status = domain.VisitDone
			d.Visits++
			if v.VisitedAt != nil && (d.LastVisitedAt == nil || v.VisitedAt.After(*d.LastVisitedAt)) {
				t := *v.VisitedAt
				d.LastVisitedAt = &t
			}
		} else {
			emp.Pending++
		}
	})
}

func (a *aggregation) dealerRows(status domain.VisitStatus) []DealerSummary {
	out := make([]DealerSummary, 0, len(a.dealers))
	for _, d := range a.dealers {
		if status != "" && d.Status != status {
			continue
		}
		sort.Strings(d.Employees)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DealerCode < out[j].DealerCode })
	return out
}

func (a *aggregation) employeeRows() []EmployeeSummary {
	out := make([]EmployeeSummary, 0, len(a.employees))
	for _, e := range a.employees {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeCode < out[j].EmployeeCode })
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
