package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fieldvisit/internal/domain"

	"github.com/lib/pq"
)

const actorSelect = `
		SELECT
			code,
			name,
			role,
			position,
			COALESCE(latitude, 0),
			COALESCE(longitude, 0),
			COALESCE(zone, ''),
			COALESCE(district, ''),
			COALESCE(taluka, ''),
			COALESCE(town, '')
		FROM actors
`

// PostgresActorsRepository 主数据 Repository 实现
type PostgresActorsRepository struct {
	db *sql.DB
}

// NewPostgresActorsRepository 创建主数据 Repository
func NewPostgresActorsRepository(db *sql.DB) *PostgresActorsRepository {
	return &PostgresActorsRepository{db: db}
}

var _ ActorsRepository = (*PostgresActorsRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(s rowScanner) (domain.Actor, error) {
	var a domain.Actor
	var pos string
	err := s.Scan(&a.Code, &a.Name, &a.Role, &pos, &a.Latitude, &a.Longitude,
		&a.Zone, &a.District, &a.Taluka, &a.Town)
	a.Position = domain.Position(pos)
	return a, err
}

// GetActor 按编码获取
func (r *PostgresActorsRepository) GetActor(ctx context.Context, code string) (*domain.Actor, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	a, err := scanActor(r.db.QueryRowContext(ctx, actorSelect+` WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	return &a, nil
}

// FindActorsByCodes 批量获取
func (r *PostgresActorsRepository) FindActorsByCodes(ctx context.Context, codes []string) ([]domain.Actor, error) {
	codes = cleanCodes(codes)
	if len(codes) == 0 {
		return []domain.Actor{}, nil
	}
	return r.query(ctx, actorSelect+` WHERE code = ANY($1) ORDER BY code`, pq.Array(codes))
}

// FindActorsByGeography 按地理条件查询
func (r *PostgresActorsRepository) FindActorsByGeography(ctx context.Context, filter domain.GeoFilter) ([]domain.Actor, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1

	add := func(col string, values []string) {
		if len(values) == 0 {
			return
		}
		where = append(where, fmt.Sprintf("%s = ANY($%d)", col, argN))
		args = append(args, pq.Array(values))
		argN++
	}
	add("zone", filter.Zones)
	add("district", filter.Districts)
	add("taluka", filter.Talukas)
	add("town", filter.Towns)
	if len(filter.Positions) > 0 {
		ps := make([]string, 0, len(filter.Positions))
		for _, p := range filter.Positions {
			ps = append(ps, string(p))
		}
		add("position", ps)
	}

	query := actorSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY code`
	return r.query(ctx, query, args...)
}

func (r *PostgresActorsRepository) query(ctx context.Context, query string, args ...any) ([]domain.Actor, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actors: %w", err)
	}
	defer rows.Close()

	out := []domain.Actor{}
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate actors: %w", err)
	}
	return out, nil
}
