package domain

import (
	"encoding/json"
	"time"
)

// RouteStatus 路线计划状态
type RouteStatus string

const (
	RouteInactive  RouteStatus = "inactive"
	RouteActive    RouteStatus = "active"
	RouteApproved  RouteStatus = "approved"
	RouteRejected  RouteStatus = "rejected"
	RouteRequested RouteStatus = "requested"
)

// Valid 是否为合法状态
func (s RouteStatus) Valid() bool {
	switch s {
	case RouteInactive, RouteActive, RouteApproved, RouteRejected, RouteRequested:
		return true
	}
	return false
}

// Itinerary 行程：地理过滤列表 + 预定义路线名
type Itinerary struct {
	Zones      []string `json:"zones,omitempty"`
	Districts  []string `json:"districts,omitempty"`
	Talukas    []string `json:"talukas,omitempty"`
	Towns      []string `json:"towns,omitempty"`
	RouteNames []string `json:"route_names,omitempty"` // 预定义路线，解析为城镇列表
}

// IsEmpty 没有任何筛选条件
func (it Itinerary) IsEmpty() bool {
	return len(it.Zones) == 0 && len(it.Districts) == 0 && len(it.Talukas) == 0 &&
		len(it.Towns) == 0 && len(it.RouteNames) == 0
}

// RoutePlan 路线计划（对应 route_plans 表）
type RoutePlan struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	EmployeeCode string      `json:"employee_code"`
	StartDate    time.Time   `json:"start_date"`
	EndDate      time.Time   `json:"end_date"`
	Itinerary    Itinerary   `json:"itinerary"`
	Status       RouteStatus `json:"status"`
	Approved     bool        `json:"approved"`
	CreatedBy    string      `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Days 返回 [StartDate, EndDate] 内的每一天
func (p RoutePlan) Days() []time.Time {
	start := DateOnly(p.StartDate)
	end := DateOnly(p.EndDate)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// RequestedRoute 员工提交、等待管理员审批的路线（对应 requested_routes 表）
// 审批通过后转换为 RoutePlan 并删除
type RequestedRoute struct {
	RoutePlan
	Reason string `json:"reason,omitempty"`
}

// NamedRoute 预定义路线（对应 named_routes 表）
type NamedRoute struct {
	Name  string   `json:"name"`
	Towns []string `json:"towns"`
}

// DeletionRecord 删除存档（对应 deletion_records 表，只增不改）
type DeletionRecord struct {
	ID             string          `json:"id"`
	CollectionName string          `json:"collection_name"` // beat_schedules, visit_records, route_plans
	Data           json.RawMessage `json:"data"`
	DeletedBy      string          `json:"deleted_by"`
	DeletedAt      time.Time       `json:"deleted_at"`
}

const (
	CollectionSchedules    = "beat_schedules"
	CollectionVisitRecords = "visit_records"
	CollectionRoutePlans   = "route_plans"
)

// Notification 通知事件
type Notification struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Filters     map[string]string `json:"filters,omitempty"`
	TargetRoles []string          `json:"target_roles"`
	CreatedAt   time.Time         `json:"created_at"`
}
