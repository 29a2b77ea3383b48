package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/repository"

	"go.uber.org/zap"
)

// ScheduleOptions 排程生成参数
type ScheduleOptions struct {
	VisitPositions []string       // 生成每日排程的员工岗位，默认 asm, tse
	MaxRetries     int            // 乐观锁冲突重试次数
	Location       *time.Location // "今天" 所在时区
}

// ScheduleService 排程生成：创建或增补 ScheduleStore，不产生重复拜访记录
type ScheduleService struct {
	schedules      repository.SchedulesRepository
	actors         repository.ActorsRepository
	hierarchyRepo  repository.HierarchyRepository
	resolver       *HierarchyService
	writer         *scheduleWriter
	employees      *keyedMutex
	visitPositions []domain.Position
	listeners      []ChangeListener
	loc            *time.Location
	now            func() time.Time
	logger         *zap.Logger
}

// NewScheduleService 创建排程服务
func NewScheduleService(
	schedules repository.SchedulesRepository,
	actors repository.ActorsRepository,
	hierarchyRepo repository.HierarchyRepository,
	resolver *HierarchyService,
	opts ScheduleOptions,
	logger *zap.Logger,
) *ScheduleService {
	positions := make([]domain.Position, 0, len(opts.VisitPositions))
	for _, p := range opts.VisitPositions {
		if pos, ok := domain.ParsePosition(p); ok && !pos.IsVisitTarget() {
			positions = append(positions, pos)
		} else {
			logger.Warn("Ignoring invalid visit position", zap.String("position", p))
		}
	}
	if len(positions) == 0 {
		positions = []domain.Position{domain.PositionASM, domain.PositionTSE}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &ScheduleService{
		schedules:      schedules,
		actors:         actors,
		hierarchyRepo:  hierarchyRepo,
		resolver:       resolver,
		writer:         newScheduleWriter(schedules, opts.MaxRetries, logger),
		employees:      newKeyedMutex(),
		visitPositions: positions,
		loc:            loc,
		now:            time.Now,
		logger:         logger,
	}
}

// AddListener 注册变化回调；新增记录后触发
func (s *ScheduleService) AddListener(l ChangeListener) {
	s.listeners = append(s.listeners, l)
}

func (s *ScheduleService) changed(ctx context.Context) {
	for _, l := range s.listeners {
		l.ScheduleChanged(ctx)
	}
}

// today 当前日历日期（按配置时区）
func (s *ScheduleService) today() time.Time {
	return domain.DateOnly(s.now().In(s.loc))
}

// EnsureScheduleRequest 确保某员工某天的排程包含给定经销商
type EnsureScheduleRequest struct {
	EmployeeCode string
	Day          time.Time
	DealerCodes  []string
}

// EnsureScheduleResponse 生成 / 增补结果
type EnsureScheduleResponse struct {
	ScheduleID string   `json:"schedule_id,omitempty"`
	Created    bool     `json:"created"`
	Added      int      `json:"added"`
	Skipped    []string `json:"skipped,omitempty"` // 主数据中不存在的经销商
}

// Ensure 有覆盖当天的排程则增补当天的桶，否则创建当天的 daily 排程
// 对 (员工, 日期, 经销商) 幂等
func (s *ScheduleService) Ensure(ctx context.Context, req EnsureScheduleRequest) (*EnsureScheduleResponse, error) {
	if strings.TrimSpace(req.EmployeeCode) == "" {
		return nil, domain.Required("employee_code")
	}
	day := req.Day
	if day.IsZero() {
		day = s.today()
	}
	candidates, skipped, err := s.lookupDealers(ctx, req.DealerCodes)
	if err != nil {
		return nil, err
	}
	res, err := s.ensureVisits(ctx, req.EmployeeCode, day, candidates)
	if err != nil {
		return nil, err
	}
	res.Skipped = skipped
	if res.Added > 0 {
		s.changed(ctx)
	}
	return res, nil
}

// lookupDealers 按输入顺序取经销商主数据；缺失的编码单独返回
func (s *ScheduleService) lookupDealers(ctx context.Context, codes []string) ([]domain.Actor, []string, error) {
	codes = cleanList(codes)
	if len(codes) == 0 {
		return nil, nil, nil
	}
	actors, err := s.actors.FindActorsByCodes(ctx, codes)
	if err != nil {
		return nil, nil, domain.Internal("find dealers", err)
	}
	byCode := make(map[string]domain.Actor, len(actors))
	for _, a := range actors {
		byCode[a.Code] = a
	}
	out := make([]domain.Actor, 0, len(codes))
	var missing []string
	for _, c := range codes {
		if a, ok := byCode[c]; ok {
			out = append(out, a)
		} else {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("Dealers missing from master data, skipped",
			zap.Strings("dealer_codes", missing))
	}
	return out, missing, nil
}

// scheduledOn 除 skipID 以外的排程在 day 已排的经销商
func scheduledOn(stores []*domain.ScheduleStore, skipID string, day time.Time) map[string]struct{} {
	out := map[string]struct{}{}
	for _, st := range stores {
		if st.ID == skipID {
			continue
		}
		for c := range st.DealerCodesOn(day) {
			out[c] = struct{}{}
		}
	}
	return out
}

func withoutDealers(dealers []domain.Actor, taken map[string]struct{}) []domain.Actor {
	if len(taken) == 0 {
		return dealers
	}
	out := make([]domain.Actor, 0, len(dealers))
	for _, d := range dealers {
		if _, ok := taken[d.Code]; !ok {
			out = append(out, d)
		}
	}
	return out
}

// ensureVisits 增补或创建；并发创建 daily 排程撞上唯一约束时转为增补
// 同一天由多个排程覆盖时，任一排程里已有的经销商都不再追加
// 不触发变化回调，由调用方汇总后触发
func (s *ScheduleService) ensureVisits(ctx context.Context, employeeCode string, day time.Time, dealers []domain.Actor) (*EnsureScheduleResponse, error) {
	day = domain.DateOnly(day)
	unlock := s.employees.Lock(employeeCode)
	defer unlock()

	for attempt := 1; attempt <= s.writer.maxRetries; attempt++ {
		covering, err := s.schedules.FindCovering(ctx, employeeCode, day)
		if err != nil {
			return nil, domain.Internal("find covering schedule", err)
		}

		if len(covering) > 0 {
			target := covering[0]
			fresh := withoutDealers(dealers, scheduledOn(covering, target.ID, day))
			added := 0
			updated, err := s.writer.mutate(ctx, target.ID, func(st *domain.ScheduleStore) error {
				added = st.AppendVisits(day, pendingVisits(fresh))
				if added == 0 {
					return errNoChange
				}
				return nil
			})
			if err != nil {
				var nf *domain.NotFoundError
				if errors.As(err, &nf) {
					// 排程在加载后被归档删除
					continue
				}
				return nil, err
			}
			if added > 0 {
				s.logger.Info("Schedule augmented",
					zap.String("schedule_id", updated.ID),
					zap.String("employee_code", employeeCode),
					zap.Time("day", day),
					zap.Int("added", added),
				)
			}
			return &EnsureScheduleResponse{ScheduleID: updated.ID, Added: added}, nil
		}

		if len(dealers) == 0 {
			return &EnsureScheduleResponse{}, nil
		}

		st := &domain.ScheduleStore{
			EmployeeCode: employeeCode,
			EmployeeName: s.employeeName(ctx, employeeCode),
			Mode:         domain.ScheduleDaily,
			StartDate:    day,
			EndDate:      day,
		}
		added := st.AppendVisits(day, pendingVisits(dealers))
		if err := s.schedules.CreateSchedule(ctx, st); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			return nil, domain.Internal("create schedule", err)
		}
		s.logger.Info("Daily schedule created",
			zap.String("schedule_id", st.ID),
			zap.String("employee_code", employeeCode),
			zap.Time("day", day),
			zap.Int("total", st.Total),
		)
		return &EnsureScheduleResponse{ScheduleID: st.ID, Created: true, Added: added}, nil
	}
	return nil, &domain.ConflictError{Resource: "employee schedule", Key: employeeCode, Attempts: s.writer.maxRetries}
}

func (s *ScheduleService) employeeName(ctx context.Context, code string) string {
	a, err := s.actors.GetActor(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Failed to load employee", zap.String("employee_code", code), zap.Error(err))
		}
		return ""
	}
	return a.Name
}

func pendingVisits(dealers []domain.Actor) []domain.VisitRecord {
	out := make([]domain.VisitRecord, 0, len(dealers))
	for _, d := range dealers {
		out = append(out, domain.NewPendingVisit(d))
	}
	return out
}

// EnsureWeekRequest 按周一..周日计划构建周排程
type EnsureWeekRequest struct {
	EmployeeCode string
	WeekOf       time.Time        // 该周任意一天
	Plan         map[int][]string // 周下标（周一为 0）-> 经销商编码
}

// EnsureWeek 创建或增补 weekly 排程（周期为 WeekOf 所在的周一..周日）
// 没有可追加的记录时不创建空排程
func (s *ScheduleService) EnsureWeek(ctx context.Context, req EnsureWeekRequest) (*EnsureScheduleResponse, error) {
	if strings.TrimSpace(req.EmployeeCode) == "" {
		return nil, domain.Required("employee_code")
	}
	weekOf := req.WeekOf
	if weekOf.IsZero() {
		weekOf = s.today()
	}
	start := domain.WeekStart(weekOf)

	var allCodes []string
	for idx, codes := range req.Plan {
		if idx < 0 || idx > 6 {
			return nil, domain.NewValidationError("plan", fmt.Sprintf("weekday index %d out of range", idx))
		}
		allCodes = append(allCodes, codes...)
	}
	actors, skipped, err := s.lookupDealers(ctx, allCodes)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]domain.Actor, len(actors))
	for _, a := range actors {
		byCode[a.Code] = a
	}
	end := start.AddDate(0, 0, 6)
	// 其他排程（通常是 daily）当天已有的经销商不进入周排程
	perDay := func(st *domain.ScheduleStore, others []*domain.ScheduleStore) int {
		added := 0
		for idx := 0; idx < 7; idx++ {
			day := start.AddDate(0, 0, idx)
			taken := scheduledOn(others, st.ID, day)
			var visits []domain.VisitRecord
			for _, c := range cleanList(req.Plan[idx]) {
				if _, dup := taken[c]; dup {
					continue
				}
				if a, ok := byCode[c]; ok {
					visits = append(visits, domain.NewPendingVisit(a))
				}
			}
			added += st.AppendVisits(day, visits)
		}
		return added
	}

	unlock := s.employees.Lock(req.EmployeeCode)
	defer unlock()

	for attempt := 1; attempt <= s.writer.maxRetries; attempt++ {
		existing, err := s.schedules.ListForEmployee(ctx, req.EmployeeCode, start, end)
		if err != nil {
			return nil, domain.Internal("list schedules", err)
		}
		var weekly *domain.ScheduleStore
		for _, st := range existing {
			if st.Mode == domain.ScheduleWeekly && domain.DateOnly(st.StartDate).Equal(start) {
				weekly = st
				break
			}
		}

		if weekly != nil {
			added := 0
			updated, err := s.writer.mutate(ctx, weekly.ID, func(cur *domain.ScheduleStore) error {
				added = perDay(cur, existing)
				if added == 0 {
					return errNoChange
				}
				return nil
			})
			if err != nil {
				var nf *domain.NotFoundError
				if errors.As(err, &nf) {
					continue
				}
				return nil, err
			}
			if added > 0 {
				s.changed(ctx)
			}
			return &EnsureScheduleResponse{ScheduleID: updated.ID, Added: added, Skipped: skipped}, nil
		}

		st := &domain.ScheduleStore{
			EmployeeCode: req.EmployeeCode,
			EmployeeName: s.employeeName(ctx, req.EmployeeCode),
			Mode:         domain.ScheduleWeekly,
			StartDate:    start,
			EndDate:      end,
		}
		added := perDay(st, existing)
		if added == 0 {
			return &EnsureScheduleResponse{Skipped: skipped}, nil
		}
		if err := s.schedules.CreateSchedule(ctx, st); err != nil {
			// 另一个进程先建了同一周的排程
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			return nil, domain.Internal("create weekly schedule", err)
		}
		s.logger.Info("Weekly schedule created",
			zap.String("schedule_id", st.ID),
			zap.String("employee_code", req.EmployeeCode),
			zap.Time("week_start", start),
			zap.Int("total", st.Total),
		)
		s.changed(ctx)
		return &EnsureScheduleResponse{ScheduleID: st.ID, Created: true, Added: added, Skipped: skipped}, nil
	}
	return nil, &domain.ConflictError{Resource: "employee schedule", Key: req.EmployeeCode, Attempts: s.writer.maxRetries}
}

// GenerateDailyResponse 每日排程生成结果
type GenerateDailyResponse struct {
	HierarchyName string   `json:"hierarchy_name"`
	Date          string   `json:"date"`
	Employees     int      `json:"employees"`
	Created       int      `json:"created"`
	Augmented     int      `json:"augmented"`
	VisitsAdded   int      `json:"visits_added"`
	Failed        []string `json:"failed,omitempty"`
}

// GenerateDailySchedules 为层级内每个拜访岗位的员工确保今天的排程存在
// 重复调用不产生重复记录；单个员工失败不影响其他员工
func (s *ScheduleService) GenerateDailySchedules(ctx context.Context, hierarchyName string) (*GenerateDailyResponse, error) {
	if strings.TrimSpace(hierarchyName) == "" {
		return nil, domain.Required("hierarchy_name")
	}
	today := s.today()

	refs, err := s.hierarchyRepo.ListEmployees(ctx, hierarchyName, s.visitPositions)
	if err != nil {
		return nil, domain.Internal("list hierarchy employees", err)
	}
	positionsByEmployee := map[string][]domain.Position{}
	for _, ref := range refs {
		positionsByEmployee[ref.Code] = append(positionsByEmployee[ref.Code], ref.Position)
	}
	codes := make([]string, 0, len(positionsByEmployee))
	for c := range positionsByEmployee {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	resp := &GenerateDailyResponse{
		HierarchyName: hierarchyName,
		Date:          today.Format("2006-01-02"),
		Employees:     len(codes),
	}
	var errs []error
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		res, err := s.generateForEmployee(ctx, hierarchyName, code, positionsByEmployee[code], today)
		if err != nil {
			s.logger.Error("Failed to generate daily schedule",
				zap.String("hierarchy_name", hierarchyName),
				zap.String("employee_code", code),
				zap.Error(err),
			)
			resp.Failed = append(resp.Failed, code)
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
			continue
		}
		if res.Created {
			resp.Created++
		} else if res.Added > 0 {
			resp.Augmented++
		}
		resp.VisitsAdded += res.Added
	}

	s.logger.Info("Daily schedules generated",
		zap.String("hierarchy_name", hierarchyName),
		zap.String("date", resp.Date),
		zap.Int("employees", resp.Employees),
		zap.Int("created", resp.Created),
		zap.Int("augmented", resp.Augmented),
		zap.Int("failed", len(resp.Failed)),
	)
	if resp.VisitsAdded > 0 {
		s.changed(ctx)
	}
	return resp, errors.Join(errs...)
}

func (s *ScheduleService) generateForEmployee(ctx context.Context, hierarchyName, code string, positions []domain.Position, day time.Time) (*EnsureScheduleResponse, error) {
	var dealerCodes []string
	for _, pos := range positions {
		set, err := s.resolver.ResolveDealers(ctx, ResolveDealersRequest{
			HierarchyName: hierarchyName,
			Code:          code,
			Position:      string(pos),
			IncludeMDD:    true,
		})
		if err != nil {
			return nil, err
		}
		dealerCodes = append(dealerCodes, set.All()...)
	}
	dealers, _, err := s.lookupDealers(ctx, dealerCodes)
	if err != nil {
		return nil, err
	}
	return s.ensureVisits(ctx, code, day, dealers)
}

// GetScheduleRequest 查询员工排程
type GetScheduleRequest struct {
	EmployeeCode string
	Start        time.Time
	End          time.Time
}

// GetScheduleForEmployee 查询与区间有交集的排程；区间缺省为今天
func (s *ScheduleService) GetScheduleForEmployee(ctx context.Context, req GetScheduleRequest) ([]*domain.ScheduleStore, error) {
	if strings.TrimSpace(req.EmployeeCode) == "" {
		return nil, domain.Required("employee_code")
	}
	start, end := req.Start, req.End
	if start.IsZero() {
		start = s.today()
	}
	if end.IsZero() {
		end = start
	}
	if domain.DateOnly(end).Before(domain.DateOnly(start)) {
		return nil, domain.NewValidationError("end", "must not be before start")
	}
	out, err := s.schedules.ListForEmployee(ctx, req.EmployeeCode, start, end)
	if err != nil {
		return nil, domain.Internal("list schedules", err)
	}
	return out, nil
}

// GetSchedule 按 ID 查询
func (s *ScheduleService) GetSchedule(ctx context.Context, id string) (*domain.ScheduleStore, error) {
	st, err := s.schedules.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNotFound("schedule", id)
		}
		return nil, domain.Internal("get schedule", err)
	}
	return st, nil
}

// cleanList 去空白、去空、去重（保持顺序）
func cleanList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
