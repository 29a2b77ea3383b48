package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldvisit/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// scheduleDoc beat_schedules.document 列（JSONB）的结构
type scheduleDoc struct {
	Days        domain.WeekBuckets   `json:"days"`
	Visits      []domain.VisitRecord `json:"visits"`
	NextOrdinal int                  `json:"next_ordinal"`
}

const scheduleSelect = `
		SELECT
			id::text,
			employee_code,
			COALESCE(employee_name, ''),
			mode,
			start_date,
			end_date,
			document,
			total,
			done,
			pending,
			version,
			created_at,
			updated_at
		FROM beat_schedules
`

// PostgresSchedulesRepository 排程 Repository 实现
// 排程以 JSONB 文档整体存储，计数器冗余为列便于报表过滤
type PostgresSchedulesRepository struct {
	db *sql.DB
}

// NewPostgresSchedulesRepository 创建排程 Repository
func NewPostgresSchedulesRepository(db *sql.DB) *PostgresSchedulesRepository {
	return &PostgresSchedulesRepository{db: db}
}

var _ SchedulesRepository = (*PostgresSchedulesRepository)(nil)

func scanSchedule(s rowScanner) (*domain.ScheduleStore, error) {
	var st domain.ScheduleStore
	var mode string
	var doc []byte
	if err := s.Scan(
		&st.ID,
		&st.EmployeeCode,
		&st.EmployeeName,
		&mode,
		&st.StartDate,
		&st.EndDate,
		&doc,
		&st.Total,
		&st.Done,
		&st.Pending,
		&st.Version,
		&st.CreatedAt,
		&st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	st.Mode = domain.ScheduleMode(mode)
	st.StartDate = domain.DateOnly(st.StartDate)
	st.EndDate = domain.DateOnly(st.EndDate)

	var d scheduleDoc
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, fmt.Errorf("failed to decode schedule document: %w", err)
		}
	}
	st.Days = d.Days
	st.Visits = d.Visits
	st.NextOrdinal = d.NextOrdinal
	if st.NextOrdinal <= 0 {
		st.SyncNextOrdinal()
	}
	return &st, nil
}

func encodeScheduleDoc(s *domain.ScheduleStore) ([]byte, error) {
	return json.Marshal(scheduleDoc{Days: s.Days, Visits: s.Visits, NextOrdinal: s.NextOrdinal})
}

// CreateSchedule 创建排程
func (r *PostgresSchedulesRepository) CreateSchedule(ctx context.Context, s *domain.ScheduleStore) error {
	if s.EmployeeCode == "" {
		return fmt.Errorf("employee_code is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Version = 1

	doc, err := encodeScheduleDoc(s)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	query := `
		INSERT INTO beat_schedules (
			id, employee_code, employee_name, mode, start_date, end_date,
			document, total, done, pending, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.EmployeeCode, s.EmployeeName, string(s.Mode),
		domain.DateOnly(s.StartDate), domain.DateOnly(s.EndDate),
		doc, s.Total, s.Done, s.Pending, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule 按 ID 获取
func (r *PostgresSchedulesRepository) GetSchedule(ctx context.Context, id string) (*domain.ScheduleStore, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	st, err := scanSchedule(r.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return st, nil
}

// FindCovering 周期覆盖 day 的排程
func (r *PostgresSchedulesRepository) FindCovering(ctx context.Context, employeeCode string, day time.Time) ([]*domain.ScheduleStore, error) {
	d := domain.DateOnly(day)
	return r.list(ctx, scheduleSelect+`
		WHERE employee_code = $1 AND start_date <= $2 AND end_date >= $2
		ORDER BY start_date, created_at
	`, employeeCode, d)
}

// ListForEmployee 与 [start, end] 有交集的排程
func (r *PostgresSchedulesRepository) ListForEmployee(ctx context.Context, employeeCode string, start, end time.Time) ([]*domain.ScheduleStore, error) {
	return r.list(ctx, scheduleSelect+`
		WHERE employee_code = $1 AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date, created_at
	`, employeeCode, domain.DateOnly(start), domain.DateOnly(end))
}

// ListRangePage 键集分页
func (r *PostgresSchedulesRepository) ListRangePage(ctx context.Context, start, end time.Time, afterID string, limit int) ([]*domain.ScheduleStore, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.list(ctx, scheduleSelect+`
		WHERE start_date <= $2 AND end_date >= $1 AND ($3 = '' OR id::text > $3)
		ORDER BY id::text
		LIMIT $4
	`, domain.DateOnly(start), domain.DateOnly(end), afterID, limit)
}

func (r *PostgresSchedulesRepository) list(ctx context.Context, query string, args ...any) ([]*domain.ScheduleStore, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	out := []*domain.ScheduleStore{}
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}
	return out, nil
}

// UpdateSchedule 带版本条件的整体写回
func (r *PostgresSchedulesRepository) UpdateSchedule(ctx context.Context, s *domain.ScheduleStore) error {
	doc, err := encodeScheduleDoc(s)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	now := time.Now()

	query := `
		UPDATE beat_schedules
		SET
			employee_name = $3,
			document = $4,
			total = $5,
			done = $6,
			pending = $7,
			version = version + 1,
			updated_at = $8
		WHERE id = $1 AND version = $2
	`
	result, err := r.db.ExecContext(ctx, query, s.ID, s.Version, s.EmployeeName, doc,
		s.Total, s.Done, s.Pending, now)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM beat_schedules WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check schedule: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = now
	return nil
}

// DeleteSchedule 删除排程
func (r *PostgresSchedulesRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM beat_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
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
