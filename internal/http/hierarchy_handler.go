package httpapi

import (
	"net/http"
	"strings"

	"fieldvisit/internal/service"

	"go.uber.org/zap"
)

// HierarchyHandler 层级解析 Handler
type HierarchyHandler struct {
	svc    *service.HierarchyService
	logger *zap.Logger
}

func NewHierarchyHandler(svc *service.HierarchyService, logger *zap.Logger) *HierarchyHandler {
	return &HierarchyHandler{svc: svc, logger: logger}
}

// ResolveDealers GET /api/v1/hierarchy/dealers?hierarchy=&code=&position=&include_mdd=
func (h *HierarchyHandler) ResolveDealers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	set, err := h.svc.ResolveDealers(r.Context(), service.ResolveDealersRequest{
		HierarchyName: strings.TrimSpace(q.Get("hierarchy")),
		Code:          strings.TrimSpace(q.Get("code")),
		Position:      strings.TrimSpace(q.Get("position")),
		IncludeMDD:    q.Get("include_mdd") == "true",
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(set))
}

// ListNames GET /api/v1/hierarchy/names
func (h *HierarchyHandler) ListNames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names, err := h.svc.ListHierarchyNames(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, Ok(names))
}
