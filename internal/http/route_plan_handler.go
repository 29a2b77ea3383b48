package httpapi

import (
	"net/http"
	"strings"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/service"

	"go.uber.org/zap"
)

// RoutePlanHandler 路线计划 / 路线申请 Handler
type RoutePlanHandler struct {
	svc    *service.RoutePlanService
	logger *zap.Logger
}

func NewRoutePlanHandler(svc *service.RoutePlanService, logger *zap.Logger) *RoutePlanHandler {
	return &RoutePlanHandler{svc: svc, logger: logger}
}

// ServeHTTP 路由分发
func (h *RoutePlanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/route-plans" && r.Method == http.MethodPost:
		h.CreateRoutePlan(w, r)
	case path == "/api/v1/route-plans" && r.Method == http.MethodGet:
		h.ListRoutePlans(w, r)
	case strings.HasPrefix(path, "/api/v1/route-plans/") && r.Method == http.MethodDelete:
		h.DeleteRoutePlan(w, r, strings.TrimPrefix(path, "/api/v1/route-plans/"))
	case path == "/api/v1/route-requests" && r.Method == http.MethodPost:
		h.RequestRoutePlan(w, r)
	case path == "/api/v1/route-requests" && r.Method == http.MethodGet:
		h.ListRequestedRoutes(w, r)
	case strings.HasPrefix(path, "/api/v1/route-requests/") && r.Method == http.MethodPost:
		parts := strings.Split(strings.TrimPrefix(path, "/api/v1/route-requests/"), "/")
		if len(parts) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch parts[1] {
		case "approve":
			h.ApproveRequestedRoute(w, r, parts[0])
		case "reject":
			h.RejectRequestedRoute(w, r, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type itineraryBody struct {
	Zones      []string `json:"zones"`
	Districts  []string `json:"districts"`
	Talukas    []string `json:"talukas"`
	Towns      []string `json:"towns"`
	RouteNames []string `json:"route_names"`
}

type routePlanBody struct {
	Name         string        `json:"name"`
	EmployeeCode string        `json:"employee_code"`
	StartDate    string        `json:"start_date" validate:"required"`
	EndDate      string        `json:"end_date"`
	Itinerary    itineraryBody `json:"itinerary"`
	Reason       string        `json:"reason"`
}

func (b routePlanBody) toRequest() (service.RoutePlanRequest, error) {
	start, err := parseDate("start_date", b.StartDate)
	if err != nil {
		return service.RoutePlanRequest{}, err
	}
	end, err := parseDate("end_date", b.EndDate)
	if err != nil {
		return service.RoutePlanRequest{}, err
	}
	return service.RoutePlanRequest{
		Name:         strings.TrimSpace(b.Name),
		EmployeeCode: strings.TrimSpace(b.EmployeeCode),
		StartDate:    start,
		EndDate:      end,
		Itinerary: domain.Itinerary{
			Zones:      b.Itinerary.Zones,
			Districts:  b.Itinerary.Districts,
			Talukas:    b.Itinerary.Talukas,
			Towns:      b.Itinerary.Towns,
			RouteNames: b.Itinerary.RouteNames,
		},
		Reason: strings.TrimSpace(b.Reason),
	}, nil
}

func (h *RoutePlanHandler) decodePlan(r *http.Request) (service.RoutePlanRequest, error) {
	var body routePlanBody
	if err := decodeAndValidate(r, &body); err != nil {
		return service.RoutePlanRequest{}, err
	}
	return body.toRequest()
}

// CreateRoutePlan POST /api/v1/route-plans
// 管理员直接创建即审批通过，并把计划注入排程
func (h *RoutePlanHandler) CreateRoutePlan(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	req, err := h.decodePlan(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.svc.CreateOrApproveRoutePlan(r.Context(), who, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(resp))
}

// ListRoutePlans GET /api/v1/route-plans?employee_code=&status=&page=&size=
func (h *RoutePlanHandler) ListRoutePlans(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)
	items, total, err := h.svc.ListRoutePlans(r.Context(), who, service.ListRoutePlansRequest{
		EmployeeCode: strings.TrimSpace(q.Get("employee_code")),
		Status:       domain.RouteStatus(strings.TrimSpace(q.Get("status"))),
		Page:         page,
		Size:         size,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(PageResult[domain.RoutePlan]{Items: items, Total: total, Page: page, Size: size}))
}

// DeleteRoutePlan DELETE /api/v1/route-plans/{id}
func (h *RoutePlanHandler) DeleteRoutePlan(w http.ResponseWriter, r *http.Request, id string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.svc.DeleteRoutePlan(r.Context(), who, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}

// RequestRoutePlan POST /api/v1/route-requests
func (h *RoutePlanHandler) RequestRoutePlan(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	req, err := h.decodePlan(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	rr, err := h.svc.RequestRoutePlan(r.Context(), who, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(rr))
}

// ListRequestedRoutes GET /api/v1/route-requests?status=&page=&size=
func (h *RoutePlanHandler) ListRequestedRoutes(w http.ResponseWriter, r *http.Request) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)
	items, total, err := h.svc.ListRequestedRoutes(r.Context(), who,
		domain.RouteStatus(strings.TrimSpace(q.Get("status"))), page, size)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(PageResult[domain.RequestedRoute]{Items: items, Total: total, Page: page, Size: size}))
}

// ApproveRequestedRoute POST /api/v1/route-requests/{id}/approve
func (h *RoutePlanHandler) ApproveRequestedRoute(w http.ResponseWriter, r *http.Request, id string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.svc.ApproveRequestedRoute(r.Context(), who, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

type rejectBody struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RejectRequestedRoute POST /api/v1/route-requests/{id}/reject
func (h *RoutePlanHandler) RejectRequestedRoute(w http.ResponseWriter, r *http.Request, id string) {
	who, err := identityFromReq(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var body rejectBody
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.svc.RejectRequestedRoute(r.Context(), who, id, strings.TrimSpace(body.Reason)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id, "status": string(domain.RouteRejected)}))
}
