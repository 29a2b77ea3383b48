package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterScheduleRoutes 排程 + 拜访状态 + 存档
func (r *Router) RegisterScheduleRoutes(h *ScheduleHandler) {
	r.HandleHandler("/api/v1/schedules", h)
	r.HandleHandler("/api/v1/schedules/", h)
	r.HandleHandler("/api/v1/visits/done", h)
	r.HandleHandler("/api/v1/deletion-records", h)
}

// RegisterRoutePlanRoutes 路线计划 + 申请审批
func (r *Router) RegisterRoutePlanRoutes(h *RoutePlanHandler) {
	r.HandleHandler("/api/v1/route-plans", h)
	r.HandleHandler("/api/v1/route-plans/", h)
	r.HandleHandler("/api/v1/route-requests", h)
	r.HandleHandler("/api/v1/route-requests/", h)
}

// RegisterReportRoutes 报表
func (r *Router) RegisterReportRoutes(h *ReportHandler) {
	r.Handle("/api/v1/reports/visits", h.GetReport)
	r.Handle("/api/v1/reports/visits/export", h.ExportReport)
}

// RegisterHierarchyRoutes 层级解析
func (r *Router) RegisterHierarchyRoutes(h *HierarchyHandler) {
	r.Handle("/api/v1/hierarchy/dealers", h.ResolveDealers)
	r.Handle("/api/v1/hierarchy/names", h.ListNames)
}
