package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldvisit/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const routePlanColumns = `
			id::text,
			COALESCE(name, ''),
			employee_code,
			start_date,
			end_date,
			itinerary,
			status,
			approved,
			COALESCE(created_by, ''),
			created_at,
			updated_at
`

// PostgresRoutePlansRepository 路线计划 Repository 实现
type PostgresRoutePlansRepository struct {
	db *sql.DB
}

// NewPostgresRoutePlansRepository 创建路线计划 Repository
func NewPostgresRoutePlansRepository(db *sql.DB) *PostgresRoutePlansRepository {
	return &PostgresRoutePlansRepository{db: db}
}

var _ RoutePlansRepository = (*PostgresRoutePlansRepository)(nil)

func scanRoutePlan(s rowScanner, extra ...any) (*domain.RoutePlan, error) {
	var p domain.RoutePlan
	var itinerary []byte
	var status string
	dest := []any{
		&p.ID, &p.Name, &p.EmployeeCode, &p.StartDate, &p.EndDate,
		&itinerary, &status, &p.Approved, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	p.Status = domain.RouteStatus(status)
	p.StartDate = domain.DateOnly(p.StartDate)
	p.EndDate = domain.DateOnly(p.EndDate)
	if len(itinerary) > 0 {
		if err := json.Unmarshal(itinerary, &p.Itinerary); err != nil {
			return nil, fmt.Errorf("failed to decode itinerary: %w", err)
		}
	}
	return &p, nil
}

func prepareRoutePlan(p *domain.RoutePlan) ([]byte, error) {
	if p.EmployeeCode == "" {
		return nil, fmt.Errorf("employee_code is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return json.Marshal(p.Itinerary)
}

// ========== RoutePlan ==========

// CreateRoutePlan 创建路线计划
func (r *PostgresRoutePlansRepository) CreateRoutePlan(ctx context.Context, p *domain.RoutePlan) error {
	itinerary, err := prepareRoutePlan(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO route_plans (
			id, name, employee_code, start_date, end_date, itinerary,
			status, approved, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query, p.ID, p.Name, p.EmployeeCode,
		domain.DateOnly(p.StartDate), domain.DateOnly(p.EndDate), itinerary,
		string(p.Status), p.Approved, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create route plan: %w", err)
	}
	return nil
}

// GetRoutePlan 按 ID 获取
func (r *PostgresRoutePlansRepository) GetRoutePlan(ctx context.Context, id string) (*domain.RoutePlan, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	p, err := scanRoutePlan(r.db.QueryRowContext(ctx, `SELECT `+routePlanColumns+` FROM route_plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get route plan: %w", err)
	}
	return p, nil
}

// ListRoutePlans 查询路线计划（支持过滤和分页）
func (r *PostgresRoutePlansRepository) ListRoutePlans(ctx context.Context, filters RoutePlanFilters, page, size int) ([]domain.RoutePlan, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1
	if filters.EmployeeCode != "" {
		where = append(where, fmt.Sprintf("employee_code = $%d", argN))
		args = append(args, filters.EmployeeCode)
		argN++
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, string(filters.Status))
		argN++
	}
	if len(filters.IDs) > 0 {
		where = append(where, fmt.Sprintf("id::text = ANY($%d)", argN))
		args = append(args, pq.Array(filters.IDs))
		argN++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM route_plans WHERE `+strings.Join(where, " AND "), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count route plans: %w", err)
	}

	page, size = normalizePage(page, size)
	query := `SELECT ` + routePlanColumns + ` FROM route_plans WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY start_date DESC, id LIMIT $%d OFFSET $%d`, argN, argN+1)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list route plans: %w", err)
	}
	defer rows.Close()

	out := []domain.RoutePlan{}
	for rows.Next() {
		p, err := scanRoutePlan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan route plan: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate route plans: %w", err)
	}
	return out, total, nil
}

// DeleteRoutePlan 删除路线计划（调用方必须先写 DeletionRecord）
func (r *PostgresRoutePlansRepository) DeleteRoutePlan(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "route_plans", id)
}

// ========== RequestedRoute ==========

// CreateRequestedRoute 创建申请路线
func (r *PostgresRoutePlansRepository) CreateRequestedRoute(ctx context.Context, rr *domain.RequestedRoute) error {
	itinerary, err := prepareRoutePlan(&rr.RoutePlan)
	if err != nil {
		return err
	}
	if rr.Status == "" {
		rr.Status = domain.RouteRequested
	}
	query := `
		INSERT INTO requested_routes (
			id, name, employee_code, start_date, end_date, itinerary,
			status, approved, created_by, created_at, updated_at, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query, rr.ID, rr.Name, rr.EmployeeCode,
		domain.DateOnly(rr.StartDate), domain.DateOnly(rr.EndDate), itinerary,
		string(rr.Status), rr.Approved, rr.CreatedBy, rr.CreatedAt, rr.UpdatedAt, rr.Reason)
	if err != nil {
		return fmt.Errorf("failed to create requested route: %w", err)
	}
	return nil
}

// GetRequestedRoute 按 ID 获取
func (r *PostgresRoutePlansRepository) GetRequestedRoute(ctx context.Context, id string) (*domain.RequestedRoute, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var reason string
	p, err := scanRoutePlan(r.db.QueryRowContext(ctx,
		`SELECT `+routePlanColumns+`, COALESCE(reason, '') FROM requested_routes WHERE id = $1`, id), &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get requested route: %w", err)
	}
	return &domain.RequestedRoute{RoutePlan: *p, Reason: reason}, nil
}

// ListRequestedRoutes 按状态查询申请路线
func (r *PostgresRoutePlansRepository) ListRequestedRoutes(ctx context.Context, status domain.RouteStatus, page, size int) ([]domain.RequestedRoute, int, error) {
	where := "1=1"
	args := []any{}
	if status != "" {
		where = "status = $1"
		args = append(args, string(status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requested_routes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requested routes: %w", err)
	}

	page, size = normalizePage(page, size)
	n := len(args)
	query := `SELECT ` + routePlanColumns + `, COALESCE(reason, '') FROM requested_routes WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requested routes: %w", err)
	}
	defer rows.Close()

	out := []domain.RequestedRoute{}
	for rows.Next() {
		var reason string
		p, err := scanRoutePlan(rows, &reason)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan requested route: %w", err)
		}
		out = append(out, domain.RequestedRoute{RoutePlan: *p, Reason: reason})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate requested routes: %w", err)
	}
	return out, total, nil
}

// SetRequestedRouteStatus 更新申请状态
func (r *PostgresRoutePlansRepository) SetRequestedRouteStatus(ctx context.Context, id string, status domain.RouteStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %s", status)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE requested_routes SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), time.Now())
	if err != nil {
		return fmt.Errorf("failed to set requested route status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRequestedRoute 删除申请路线
func (r *PostgresRoutePlansRepository) DeleteRequestedRoute(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "requested_routes", id)
}

// ========== NamedRoute ==========

// GetNamedRoutes 按名称获取预定义路线
func (r *PostgresRoutePlansRepository) GetNamedRoutes(ctx context.Context, names []string) ([]domain.NamedRoute, error) {
	names = cleanCodes(names)
	if len(names) == 0 {
		return []domain.NamedRoute{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, towns FROM named_routes WHERE name = ANY($1) ORDER BY name`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to get named routes: %w", err)
	}
	defer rows.Close()

	out := []domain.NamedRoute{}
	for rows.Next() {
		var nr domain.NamedRoute
		var towns pq.StringArray
		if err := rows.Scan(&nr.Name, &towns); err != nil {
			return nil, fmt.Errorf("failed to scan named route: %w", err)
		}
		nr.Towns = []string(towns)
		out = append(out, nr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate named routes: %w", err)
	}
	return out, nil
}

func (r *PostgresRoutePlansRepository) deleteByID(ctx context.Context, table, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
