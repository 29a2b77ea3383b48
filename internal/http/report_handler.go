package httpapi

import (
	"net/http"
	"strings"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/service"

	"go.uber.org/zap"
)

// ReportHandler 报表 Handler
type ReportHandler struct {
	svc    *service.ReportService
	logger *zap.Logger
}

func NewReportHandler(svc *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, logger: logger}
}

// reportRequest 从 query 解析报表请求；非管理员只能看到自己的记录
func (h *ReportHandler) reportRequest(r *http.Request) (service.ReportRequest, error) {
	who, err := identityFromReq(r)
	if err != nil {
		return service.ReportRequest{}, err
	}
	q := r.URL.Query()
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		return service.ReportRequest{}, err
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		return service.ReportRequest{}, err
	}
	filters := service.ReportFilters{
		Status:        domain.VisitStatus(strings.TrimSpace(q.Get("status"))),
		Zones:         splitQuery(r, "zone"),
		Districts:     splitQuery(r, "district"),
		Talukas:       splitQuery(r, "taluka"),
		Towns:         splitQuery(r, "town"),
		DealerCodes:   splitQuery(r, "dealer_codes"),
		EmployeeCodes: splitQuery(r, "employee_codes"),
		RouteIDs:      splitQuery(r, "route_ids"),
	}
	if !who.IsAdmin() {
		filters.EmployeeCodes = []string{who.Code}
	}
	return service.ReportRequest{Start: start, End: end, Filters: filters}, nil
}

// GetReport GET /api/v1/reports/visits?start=&end=&status=&zone=&...
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := h.reportRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.svc.GetReport(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// ExportReport GET /api/v1/reports/visits/export 导出 xlsx
func (h *ReportHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := h.reportRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.svc.GetReport(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	data, err := GenerateReportExport(resp)
	if err != nil {
		h.logger.Error("GenerateReportExport failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := "visit-report-" + resp.Start + "_" + resp.End + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
