package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/service"

	"go.uber.org/zap"
)

// ScheduleHandler 排程 / 拜访状态 Handler
type ScheduleHandler struct {
	schedules *service.ScheduleService
	visits    *service.VisitService
	logger    *zap.Logger
}

func NewScheduleHandler(schedules *service.ScheduleService, visits *service.VisitService, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, visits: visits, logger: logger}
}

// ServeHTTP 路由分发
func (h *ScheduleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/visits/done" && r.Method == http.MethodPost:
		h.MarkVisitDone(w, r)
	case path == "/api/v1/deletion-records" && r.Method == http.MethodGet:
		h.ListDeletionRecords(w, r)
	case path == "/api/v1/schedules" && r.Method == http.MethodGet:
		h.GetScheduleForEmployee(w, r)
	case path == "/api/v1/schedules/generate-daily" && r.Method == http.MethodPost:
		h.GenerateDaily(w, r)
	case path == "/api/v1/schedules/week" && r.Method == http.MethodPost:
		h.EnsureWeek(w, r)
	case path == "/api/v1/schedules/ensure" && r.Method == http.MethodPost:
		h.Ensure(w, r)
	case strings.HasPrefix(path, "/api/v1/schedules/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/v1/schedules/"), "/")
		h.dispatchByID(w, r, parts)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ScheduleHandler) dispatchByID(w http.ResponseWriter, r *http.Request, parts []string) {
	id := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.GetSchedule(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.ArchiveSchedule(w, r, id)
	case len(parts) == 4 && parts[1] == "visits" && parts[3] == "status" && r.Method == http.MethodPut:
		h.OverwriteVisitStatus(w, r, id, parts[2])
	case len(parts) == 3 && parts[1] == "visits" && r.Method == http.MethodDelete:
		h.RemoveVisit(w, r, id, parts[2])
	case len(parts) == 3 && parts[1] == "days" && r.Method == http.MethodPut:
		h.ReplaceDayBucket(w, r, id, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ============================================
// 排程生成
// ============================================

type generateDailyBody struct {
	HierarchyName string `json:"hierarchy_name" validate:"required"`
}

// GenerateDaily POST /api/v1/schedules/generate-daily
func (h *ScheduleHandler) GenerateDaily(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !who.IsAdmin() {
		writeError(w, h.logger, &domain.ForbiddenError{Action: "generate daily schedules"})
		return
	}
	var body generateDailyBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.schedules.GenerateDailySchedules(r.Context(), body.HierarchyName)
	if err != nil && resp == nil {
		writeError(w, h.logger, err)
		return
	}
	if err != nil {
		// 部分员工失败：返回统计，失败名单在 failed 中
		h.logger.Warn("Daily generation finished with failures", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

type ensureBody struct {
	EmployeeCode string   `json:"employee_code" validate:"required"`
	Date         string   `json:"date"`
	DealerCodes  []string `json:"dealer_codes" validate:"required,min=1,dive,required"`
}

// Ensure POST /api/v1/schedules/ensure
func (h *ScheduleHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !who.IsAdmin() {
		writeError(w, h.logger, &domain.ForbiddenError{Action: "ensure schedule"})
		return
	}
	var body ensureBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	day, err := parseDate("date", body.Date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.schedules.Ensure(r.Context(), service.EnsureScheduleRequest{
		EmployeeCode: body.EmployeeCode,
		Day:          day,
		DealerCodes:  body.DealerCodes,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

type ensureWeekBody struct {
	EmployeeCode string              `json:"employee_code" validate:"required"`
	WeekOf       string              `json:"week_of"`
	Plan         map[string][]string `json:"plan" validate:"required,min=1"`
}

// EnsureWeek POST /api/v1/schedules/week
func (h *ScheduleHandler) EnsureWeek(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !who.IsAdmin() {
		writeError(w, h.logger, &domain.ForbiddenError{Action: "build weekly schedule"})
		return
	}
	var body ensureWeekBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	weekOf, err := parseDate("week_of", body.WeekOf)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	plan := make(map[int][]string, len(body.Plan))
	for day, codes := range body.Plan {
		idx, ok := domain.ParseWeekday(day)
		if !ok {
			writeError(w, h.logger, domain.NewValidationError("plan", "unknown weekday "+day))
			return
		}
		plan[idx] = append(plan[idx], codes...)
	}
	resp, err := h.schedules.EnsureWeek(r.Context(), service.EnsureWeekRequest{
		EmployeeCode: body.EmployeeCode,
		WeekOf:       weekOf,
		Plan:         plan,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// ============================================
// 查询
// ============================================

// GetScheduleForEmployee GET /api/v1/schedules?employee_code=&start=&end=
// 非管理员只能查询自己
func (h *ScheduleHandler) GetScheduleForEmployee(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	code := strings.TrimSpace(q.Get("employee_code"))
	if code == "" {
		code = who.Code
	}
	if code != who.Code && !who.IsAdmin() {
		writeError(w, h.logger, &domain.ForbiddenError{Action: "view another employee's schedule"})
		return
	}
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items, err := h.schedules.GetScheduleForEmployee(r.Context(), service.GetScheduleRequest{
		EmployeeCode: code,
		Start:        start,
		End:          end,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// GetSchedule GET /api/v1/schedules/{id}
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request, id string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	st, err := h.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if st.EmployeeCode != who.Code && !who.IsAdmin() {
		writeError(w, h.logger, &domain.ForbiddenError{Action: "view another employee's schedule"})
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

// ============================================
// 拜访状态
// ============================================

type markVisitDoneBody struct {
	EmployeeCode  string             `json:"employee_code"`
	DealerCode    string             `json:"dealer_code" validate:"required"`
	DistanceKm    *float64           `json:"distance_km"`
	EmployeeCoord *domain.Coordinate `json:"employee_coord"`
	DealerCoord   *domain.Coordinate `json:"dealer_coord"`
}

// MarkVisitDone POST /api/v1/visits/done
func (h *ScheduleHandler) MarkVisitDone(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var body markVisitDoneBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	code := strings.TrimSpace(body.EmployeeCode)
	if code == "" {
		code = who.Code
	}
	if code != who.Code && !who.IsAdmin() {
		writeError(w, h.logger, &domain.ForbiddenError{Action: "mark another employee's visit"})
		return
	}
	resp, err := h.visits.MarkVisitDone(r.Context(), service.MarkVisitDoneRequest{
		EmployeeCode:  code,
		DealerCode:    body.DealerCode,
		DistanceKm:    body.DistanceKm,
		EmployeeCoord: body.EmployeeCoord,
		DealerCoord:   body.DealerCoord,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

type overwriteStatusBody struct {
	Status     string   `json:"status" validate:"required,oneof=pending done"`
	DistanceKm *float64 `json:"distance_km"`
}

// OverwriteVisitStatus PUT /api/v1/schedules/{id}/visits/{ordinal}/status
func (h *ScheduleHandler) OverwriteVisitStatus(w http.ResponseWriter, r *http.Request, id, ordinalStr string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ordinal, err := strconv.Atoi(ordinalStr)
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("ordinal", "must be an integer"))
		return
	}
	var body overwriteStatusBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	st, err := h.visits.OverwriteVisitStatus(r.Context(), who, service.OverwriteVisitStatusRequest{
		ScheduleID: id,
		Ordinal:    ordinal,
		Status:     domain.VisitStatus(body.Status),
		DistanceKm: body.DistanceKm,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

type replaceDayBody struct {
	Visits []visitBody `json:"visits" validate:"dive"`
}

type visitBody struct {
	DealerCode string     `json:"dealer_code" validate:"required"`
	DealerName string     `json:"dealer_name"`
	Latitude   float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Status     string     `json:"status" validate:"omitempty,oneof=pending done"`
	DistanceKm *float64   `json:"distance_km"`
	VisitedAt  *time.Time `json:"visited_at"`
	Zone       string     `json:"zone"`
	District   string     `json:"district"`
	Taluka     string     `json:"taluka"`
	Town       string     `json:"town"`
	Position   string     `json:"position"`
}

// ReplaceDayBucket PUT /api/v1/schedules/{id}/days/{weekday}
func (h *ScheduleHandler) ReplaceDayBucket(w http.ResponseWriter, r *http.Request, id, weekday string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	idx, ok := domain.ParseWeekday(weekday)
	if !ok {
		writeError(w, h.logger, domain.NewValidationError("weekday", "unknown weekday "+weekday))
		return
	}
	var body replaceDayBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	visits := make([]domain.VisitRecord, 0, len(body.Visits))
	for _, v := range body.Visits {
		visits = append(visits, domain.VisitRecord{
			DealerCode: v.DealerCode,
			DealerName: v.DealerName,
			Latitude:   v.Latitude,
			Longitude:  v.Longitude,
			Status:     domain.VisitStatus(v.Status),
			DistanceKm: v.DistanceKm,
			VisitedAt:  v.VisitedAt,
			Zone:       v.Zone,
			District:   v.District,
			Taluka:     v.Taluka,
			Town:       v.Town,
			Position:   domain.Position(v.Position),
		})
	}
	st, err := h.visits.ReplaceDayBucket(r.Context(), who, service.ReplaceDayBucketRequest{
		ScheduleID: id,
		Weekday:    idx,
		Visits:     visits,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

// RemoveVisit DELETE /api/v1/schedules/{id}/visits/{ordinal}
func (h *ScheduleHandler) RemoveVisit(w http.ResponseWriter, r *http.Request, id, ordinalStr string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ordinal, err := strconv.Atoi(ordinalStr)
	if err != nil {
		writeError(w, h.logger, domain.NewValidationError("ordinal", "must be an integer"))
		return
	}
	st, err := h.visits.RemoveVisit(r.Context(), who, id, ordinal)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

// ArchiveSchedule DELETE /api/v1/schedules/{id}
func (h *ScheduleHandler) ArchiveSchedule(w http.ResponseWriter, r *http.Request, id string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.visits.ArchiveSchedule(r.Context(), who, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}

// ListDeletionRecords GET /api/v1/deletion-records?collection=&page=&size=
func (h *ScheduleHandler) ListDeletionRecords(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)
	if size > 100 {
		size = 100
	}
	items, total, err := h.visits.ListDeletionRecords(r.Context(), who, strings.TrimSpace(q.Get("collection")), page, size)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(PageResult[domain.DeletionRecord]{Items: items, Total: total, Page: page, Size: size}))
}
