package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"fieldvisit/internal/domain"

	"github.com/lib/pq"
)

// hierarchyColumns 岗位 -> 列名（固定白名单，禁止动态拼接用户输入）
var hierarchyColumns = map[domain.Position]string{
	domain.PositionSZD:    "szd",
	domain.PositionSMD:    "smd",
	domain.PositionASM:    "asm",
	domain.PositionTSE:    "tse",
	domain.PositionMDD:    "mdd",
	domain.PositionDealer: "dealer",
}

const hierarchySelect = `
		SELECT
			id::text,
			hierarchy_name,
			COALESCE(szd, ''),
			COALESCE(smd, ''),
			COALESCE(asm, ''),
			COALESCE(tse, ''),
			COALESCE(mdd, ''),
			dealer,
			extra
		FROM hierarchy_rows
`

// PostgresHierarchyRepository 层级行 Repository 实现
type PostgresHierarchyRepository struct {
	db *sql.DB
}

// NewPostgresHierarchyRepository 创建层级行 Repository
func NewPostgresHierarchyRepository(db *sql.DB) *PostgresHierarchyRepository {
	return &PostgresHierarchyRepository{db: db}
}

// 确保实现了接口
var _ HierarchyRepository = (*PostgresHierarchyRepository)(nil)

// ListRowsByPosition 查询指定岗位列等于 code 的行
func (r *PostgresHierarchyRepository) ListRowsByPosition(ctx context.Context, hierarchyName string, position domain.Position, code string) ([]domain.HierarchyRow, error) {
	col, ok := hierarchyColumns[position]
	if !ok {
		return nil, fmt.Errorf("unknown position: %s", position)
	}
	if hierarchyName == "" || code == "" {
		return []domain.HierarchyRow{}, nil
	}

	query := hierarchySelect + `
		WHERE hierarchy_name = $1 AND ` + col + ` = $2
		ORDER BY dealer
	`
	rows, err := r.db.QueryContext(ctx, query, hierarchyName, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy rows: %w", err)
	}
	defer rows.Close()

	out := []domain.HierarchyRow{}
	for rows.Next() {
		var row domain.HierarchyRow
		var extra []byte
		if err := rows.Scan(
			&row.ID,
			&row.HierarchyName,
			&row.Levels[0],
			&row.Levels[1],
			&row.Levels[2],
			&row.Levels[3],
			&row.Levels[4],
			&row.Levels[5],
			&extra,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy row: %w", err)
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &row.Extra); err != nil {
				return nil, fmt.Errorf("failed to decode hierarchy extra: %w", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hierarchy rows: %w", err)
	}
	return out, nil
}

// ListEmployees 查询给定岗位上出现过的员工
func (r *PostgresHierarchyRepository) ListEmployees(ctx context.Context, hierarchyName string, positions []domain.Position) ([]EmployeeRef, error) {
	var parts []string
	for _, p := range positions {
		col, ok := hierarchyColumns[p]
		if !ok || p.IsVisitTarget() {
			continue
		}
		parts = append(parts, fmt.Sprintf(
			`SELECT DISTINCT %s AS code, '%s' AS position FROM hierarchy_rows WHERE hierarchy_name = $1 AND COALESCE(%s, '') <> ''`,
			col, string(p), col))
	}
	if len(parts) == 0 {
		return []EmployeeRef{}, nil
	}
	query := strings.Join(parts, " UNION ") + " ORDER BY code"

	rows, err := r.db.QueryContext(ctx, query, hierarchyName)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy employees: %w", err)
	}
	defer rows.Close()

	out := []EmployeeRef{}
	for rows.Next() {
		var ref EmployeeRef
		var pos string
		if err := rows.Scan(&ref.Code, &pos); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy employee: %w", err)
		}
		ref.Position = domain.Position(pos)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hierarchy employees: %w", err)
	}
	return out, nil
}

// ListHierarchyNames 所有层级名称
func (r *PostgresHierarchyRepository) ListHierarchyNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT hierarchy_name FROM hierarchy_rows ORDER BY hierarchy_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// InsertRows 批量写入层级行（供导入工具和测试初始化使用，核心流程只读）
func (r *PostgresHierarchyRepository) InsertRows(ctx context.Context, rowsIn []domain.HierarchyRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("hierarchy_rows",
		"hierarchy_name", "szd", "smd", "asm", "tse", "mdd", "dealer", "extra"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, row := range rowsIn {
		if row.DealerCode() == "" {
			_ = stmt.Close()
			return fmt.Errorf("hierarchy row without dealer in %s", row.HierarchyName)
		}
		extra, err := jsonOrEmptyObject(row.Extra)
		if err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to encode extra: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, row.HierarchyName,
			nullIfEmpty(row.Levels[0]), nullIfEmpty(row.Levels[1]), nullIfEmpty(row.Levels[2]),
			nullIfEmpty(row.Levels[3]), nullIfEmpty(row.Levels[4]), row.Levels[5], string(extra)); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy hierarchy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	return tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
