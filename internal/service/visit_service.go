package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/geo"
	"fieldvisit/internal/repository"

	"go.uber.org/zap"
)

// MarkVisitDone 的结果状态
const (
	VisitOutcomeDone        = "done"
	VisitOutcomeAlreadyDone = "alreadyDone"
)

// ChangeListener 排程内容变化后的回调（例如让报表缓存失效）
type ChangeListener interface {
	ScheduleChanged(ctx context.Context)
}

// VisitService 拜访状态机：pending -> done（地理围栏校验）与管理员覆盖
type VisitService struct {
	schedules *ScheduleService
	writer    *scheduleWriter
	archive   repository.ArchiveRepository
	listeners []ChangeListener
	logger    *zap.Logger
}

// NewVisitService 创建拜访状态服务（与 ScheduleService 共享写入串行化）
func NewVisitService(schedules *ScheduleService, archive repository.ArchiveRepository, logger *zap.Logger) *VisitService {
	return &VisitService{
		schedules: schedules,
		writer:    schedules.writer,
		archive:   archive,
		logger:    logger,
	}
}

// AddListener 注册变化回调
func (s *VisitService) AddListener(l ChangeListener) {
	s.listeners = append(s.listeners, l)
}

func (s *VisitService) changed(ctx context.Context) {
	for _, l := range s.listeners {
		l.ScheduleChanged(ctx)
	}
}

// MarkVisitDoneRequest 拜访确认请求
// DistanceKm 缺省时用两端坐标计算
type MarkVisitDoneRequest struct {
	EmployeeCode  string
	DealerCode    string
	DistanceKm    *float64
	EmployeeCoord *domain.Coordinate
	DealerCoord   *domain.Coordinate
}

// MarkVisitDoneResponse 拜访确认结果
type MarkVisitDoneResponse struct {
	Status     string  `json:"status"` // done | alreadyDone
	ScheduleID string  `json:"schedule_id"`
	Ordinal    int     `json:"ordinal"`
	DistanceKm float64 `json:"distance_km"`
	Total      int     `json:"total"`
	Done       int     `json:"done"`
	Pending    int     `json:"pending"`
}

// MarkVisitDone 校验距离后把今天排程中的经销商记录置为 done
// 已是 done 时返回 alreadyDone，不做任何修改
func (s *VisitService) MarkVisitDone(ctx context.Context, req MarkVisitDoneRequest) (*MarkVisitDoneResponse, error) {
	if strings.TrimSpace(req.EmployeeCode) == "" {
		return nil, domain.Required("employee_code")
	}
	if strings.TrimSpace(req.DealerCode) == "" {
		return nil, domain.Required("dealer_code")
	}

	distanceKm, err := resolveDistance(req)
	if err != nil {
		return nil, err
	}
	if err := geo.CheckVisit(distanceKm); err != nil {
		s.logger.Info("Visit rejected by geofence",
			zap.String("employee_code", req.EmployeeCode),
			zap.String("dealer_code", req.DealerCode),
			zap.Float64("distance_km", distanceKm),
		)
		return nil, err
	}

	now := s.schedules.now()
	today := domain.DateOnly(now.In(s.schedules.loc))
	stores, err := s.schedules.schedules.FindCovering(ctx, req.EmployeeCode, today)
	if err != nil {
		return nil, domain.Internal("find covering schedule", err)
	}
	if len(stores) == 0 {
		return nil, domain.NoActiveScheduleError(req.EmployeeCode)
	}

	// 当天任一排程里已 done 即视为已拜访；否则取第一条 pending 记录
	var target *domain.ScheduleStore
	for _, st := range stores {
		v := st.FindDealerOn(today, req.DealerCode)
		if v == nil {
			continue
		}
		if v.Status == domain.VisitDone {
			return alreadyDoneResponse(st, today, req.DealerCode), nil
		}
		if target == nil {
			target = st
		}
	}
	if target == nil {
		return nil, domain.DealerNotScheduledError(req.DealerCode)
	}

	var outcome string
	var record domain.VisitRecord
	updated, err := s.writer.mutate(ctx, target.ID, func(st *domain.ScheduleStore) error {
		v := st.FindDealerOn(today, req.DealerCode)
		if v == nil {
			return domain.DealerNotScheduledError(req.DealerCode)
		}
		if !st.MarkDone(v, distanceKm, now) {
			outcome = VisitOutcomeAlreadyDone
			record = *v
			return errNoChange
		}
		outcome = VisitOutcomeDone
		record = *v
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &MarkVisitDoneResponse{
		Status:     outcome,
		ScheduleID: updated.ID,
		Ordinal:    record.Ordinal,
		Total:      updated.Total,
		Done:       updated.Done,
		Pending:    updated.Pending,
	}
	if record.DistanceKm != nil {
		resp.DistanceKm = *record.DistanceKm
	}
	if outcome == VisitOutcomeDone {
		s.logger.Info("Visit marked done",
			zap.String("schedule_id", updated.ID),
			zap.String("employee_code", req.EmployeeCode),
			zap.String("dealer_code", req.DealerCode),
			zap.Float64("distance_km", distanceKm),
		)
		s.changed(ctx)
	}
	return resp, nil
}

func resolveDistance(req MarkVisitDoneRequest) (float64, error) {
	if req.DistanceKm != nil {
		if *req.DistanceKm < 0 {
			return 0, domain.NewValidationError("distance_km", "must not be negative")
		}
		return *req.DistanceKm, nil
	}
	if req.EmployeeCoord != nil && req.DealerCoord != nil {
		return geo.DistanceKm(*req.EmployeeCoord, *req.DealerCoord), nil
	}
	return 0, domain.NewValidationError("distance_km", "distance or both coordinates are required")
}

func alreadyDoneResponse(st *domain.ScheduleStore, day time.Time, dealerCode string) *MarkVisitDoneResponse {
	resp := &MarkVisitDoneResponse{
		Status:     VisitOutcomeAlreadyDone,
		ScheduleID: st.ID,
		Total:      st.Total,
		Done:       st.Done,
		Pending:    st.Pending,
	}
	if v := st.FindDealerOn(day, dealerCode); v != nil {
		resp.Ordinal = v.Ordinal
		if v.DistanceKm != nil {
			resp.DistanceKm = *v.DistanceKm
		}
	}
	return resp
}

func requireAdmin(who domain.Identity, action string) error {
	if !who.IsAdmin() {
		return &domain.ForbiddenError{Action: action}
	}
	return nil
}

// OverwriteVisitStatusRequest 管理员覆盖单条记录状态（不做围栏校验）
type OverwriteVisitStatusRequest struct {
	ScheduleID string
	Ordinal    int
	Status     domain.VisitStatus
	DistanceKm *float64
}

// OverwriteVisitStatus 管理员直接设置状态，完成后全量重算计数器
func (s *VisitService) OverwriteVisitStatus(ctx context.Context, who domain.Identity, req OverwriteVisitStatusRequest) (*domain.ScheduleStore, error) {
	if err := requireAdmin(who, "overwrite visit status"); err != nil {
		return nil, err
	}
	if req.ScheduleID == "" {
		return nil, domain.Required("schedule_id")
	}
	if !req.Status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("invalid status %q", req.Status))
	}
	if req.DistanceKm != nil && *req.DistanceKm < 0 {
		return nil, domain.NewValidationError("distance_km", "must not be negative")
	}

	now := s.schedules.now()
	updated, err := s.writer.mutate(ctx, req.ScheduleID, func(st *domain.ScheduleStore) error {
		v := st.FindVisit(req.Ordinal)
		if v == nil {
			return domain.NewNotFound("visit record", fmt.Sprintf("%s/%d", req.ScheduleID, req.Ordinal))
		}
		v.Status = req.Status
		if req.Status == domain.VisitDone {
			if req.DistanceKm != nil {
				d := *req.DistanceKm
				v.DistanceKm = &d
			}
			if v.VisitedAt == nil {
				t := now
				v.VisitedAt = &t
			}
		} else {
			v.DistanceKm = nil
			v.VisitedAt = nil
		}
		st.Recount()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Visit status overwritten",
		zap.String("schedule_id", req.ScheduleID),
		zap.Int("ordinal", req.Ordinal),
		zap.String("status", string(req.Status)),
		zap.String("by", who.Code),
	)
	s.changed(ctx)
	return updated, nil
}

// ReplaceDayBucketRequest 管理员整体替换某一天的记录
type ReplaceDayBucketRequest struct {
	ScheduleID string
	Weekday    int // 周一为 0
	Visits     []domain.VisitRecord
}

// ReplaceDayBucket 替换某天的桶；新记录重新分配 ordinal，完成后全量重算计数器
func (s *VisitService) ReplaceDayBucket(ctx context.Context, who domain.Identity, req ReplaceDayBucketRequest) (*domain.ScheduleStore, error) {
	if err := requireAdmin(who, "replace day bucket"); err != nil {
		return nil, err
	}
	if req.ScheduleID == "" {
		return nil, domain.Required("schedule_id")
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		return nil, domain.NewValidationError("weekday", "must be between monday and sunday")
	}
	seen := map[string]struct{}{}
	for i, v := range req.Visits {
		if strings.TrimSpace(v.DealerCode) == "" {
			return nil, domain.Required(fmt.Sprintf("visits[%d].dealer_code", i))
		}
		if _, ok := seen[v.DealerCode]; ok {
			return nil, domain.NewValidationError(fmt.Sprintf("visits[%d].dealer_code", i), "duplicate dealer "+v.DealerCode)
		}
		seen[v.DealerCode] = struct{}{}
		if v.Status != "" && !v.Status.Valid() {
			return nil, domain.NewValidationError(fmt.Sprintf("visits[%d].status", i), fmt.Sprintf("invalid status %q", v.Status))
		}
	}

	updated, err := s.writer.mutate(ctx, req.ScheduleID, func(st *domain.ScheduleStore) error {
		var bucket *[]domain.VisitRecord
		if st.Mode == domain.ScheduleWeekly {
			bucket = &st.Days[req.Weekday]
		} else {
			if domain.WeekdayIndex(st.StartDate.Weekday()) != req.Weekday {
				return domain.NewValidationError("weekday", "does not match the daily schedule date")
			}
			bucket = &st.Visits
		}
		if st.NextOrdinal <= 0 {
			st.SyncNextOrdinal()
		}
		replaced := make([]domain.VisitRecord, 0, len(req.Visits))
		for _, v := range req.Visits {
			if v.Status == "" {
				v.Status = domain.VisitPending
			}
			if v.Status == domain.VisitPending {
				v.DistanceKm = nil
				v.VisitedAt = nil
			}
			v.Ordinal = st.NextOrdinal
			st.NextOrdinal++
			replaced = append(replaced, v)
		}
		*bucket = replaced
		st.Recount()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Day bucket replaced",
		zap.String("schedule_id", req.ScheduleID),
		zap.Int("weekday", req.Weekday),
		zap.Int("visits", len(req.Visits)),
		zap.String("by", who.Code),
	)
	s.changed(ctx)
	return updated, nil
}

// RemoveVisit 先写存档再删除单条记录；存档失败时不删除
func (s *VisitService) RemoveVisit(ctx context.Context, who domain.Identity, scheduleID string, ordinal int) (*domain.ScheduleStore, error) {
	if err := requireAdmin(who, "remove visit"); err != nil {
		return nil, err
	}
	if scheduleID == "" {
		return nil, domain.Required("schedule_id")
	}

	archived := false
	updated, err := s.writer.mutate(ctx, scheduleID, func(st *domain.ScheduleStore) error {
		v := st.FindVisit(ordinal)
		if v == nil {
			return domain.NewNotFound("visit record", fmt.Sprintf("%s/%d", scheduleID, ordinal))
		}
		if !archived {
			data, err := json.Marshal(map[string]any{
				"schedule_id":   st.ID,
				"employee_code": st.EmployeeCode,
				"visit":         v,
			})
			if err != nil {
				return domain.Internal("encode visit record", err)
			}
			if err := s.archive.Archive(ctx, &domain.DeletionRecord{
				CollectionName: domain.CollectionVisitRecords,
				Data:           data,
				DeletedBy:      who.Code,
			}); err != nil {
				return domain.Internal("archive visit record", err)
			}
			archived = true
		}
		st.RemoveVisit(ordinal)
		st.Recount()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Visit removed",
		zap.String("schedule_id", scheduleID),
		zap.Int("ordinal", ordinal),
		zap.String("by", who.Code),
	)
	s.changed(ctx)
	return updated, nil
}

// ArchiveSchedule 先写存档再删除整个排程；存档失败时不删除
func (s *VisitService) ArchiveSchedule(ctx context.Context, who domain.Identity, scheduleID string) error {
	if err := requireAdmin(who, "archive schedule"); err != nil {
		return err
	}
	if scheduleID == "" {
		return domain.Required("schedule_id")
	}

	unlock := s.writer.locks.Lock("schedule:" + scheduleID)
	defer unlock()

	st, err := s.schedules.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewNotFound("schedule", scheduleID)
		}
		return domain.Internal("load schedule", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return domain.Internal("encode schedule", err)
	}
	if err := s.archive.Archive(ctx, &domain.DeletionRecord{
		CollectionName: domain.CollectionSchedules,
		Data:           data,
		DeletedBy:      who.Code,
	}); err != nil {
		return domain.Internal("archive schedule", err)
	}
	if err := s.schedules.schedules.DeleteSchedule(ctx, scheduleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewNotFound("schedule", scheduleID)
		}
		return domain.Internal("delete schedule", err)
	}
	s.logger.Info("Schedule archived",
		zap.String("schedule_id", scheduleID),
		zap.String("employee_code", st.EmployeeCode),
		zap.String("by", who.Code),
	)
	s.changed(ctx)
	return nil
}

// ListDeletionRecords 查询存档
func (s *VisitService) ListDeletionRecords(ctx context.Context, who domain.Identity, collection string, page, size int) ([]domain.DeletionRecord, int, error) {
	if err := requireAdmin(who, "list deletion records"); err != nil {
		return nil, 0, err
	}
	items, total, err := s.archive.ListDeletionRecords(ctx, collection, page, size)
	if err != nil {
		return nil, 0, domain.Internal("list deletion records", err)
	}
	return items, total, nil
}
