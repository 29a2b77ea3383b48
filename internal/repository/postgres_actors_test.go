package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"fieldvisit/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// arrayArg 匹配 pq.Array 编码后的文本形式，例如 {"West"}
type arrayArg string

func (a arrayArg) Match(v driver.Value) bool {
	switch x := v.(type) {
	case string:
		return x == string(a)
	case []byte:
		return string(x) == string(a)
	}
	return false
}

var actorColumns = []string{
	"code", "name", "role", "position", "latitude", "longitude", "zone", "district", "taluka", "town",
}

func setupActorsMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresActorsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresActorsRepository(db)
}

func TestFindActorsByGeography_BuildsAnyFilters(t *testing.T) {
	db, mock, repo := setupActorsMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE 1=1 AND zone = ANY\(\$1\) AND town = ANY\(\$2\) AND position = ANY\(\$3\) ORDER BY code`).
		WithArgs(arrayArg(`{"West"}`), arrayArg(`{"Pune","Hadapsar"}`), arrayArg(`{"dealer","mdd"}`)).
		WillReturnRows(sqlmock.NewRows(actorColumns).
			AddRow("D1", "Dealer One", "dealer", "dealer", 18.52, 73.85, "West", "Pune", "Haveli", "Pune").
			AddRow("M1", "Sub Dist", "mdd", "mdd", 18.50, 73.90, "West", "Pune", "Haveli", "Hadapsar"))

	actors, err := repo.FindActorsByGeography(context.Background(), domain.GeoFilter{
		Zones:     []string{"West"},
		Towns:     []string{"Pune", "Hadapsar"},
		Positions: []domain.Position{domain.PositionDealer, domain.PositionMDD},
	})
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, "D1", actors[0].Code)
	assert.Equal(t, domain.PositionMDD, actors[1].Position)
	assert.Equal(t, "Hadapsar", actors[1].Town)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActorsByCodes(t *testing.T) {
	db, mock, repo := setupActorsMock(t)
	defer db.Close()

	// 空编码列表不访问数据库
	actors, err := repo.FindActorsByCodes(context.Background(), []string{" ", ""})
	require.NoError(t, err)
	assert.Empty(t, actors)

	mock.ExpectQuery(`WHERE code = ANY\(\$1\)`).
		WithArgs(arrayArg(`{"D1","D3"}`)).
		WillReturnRows(sqlmock.NewRows(actorColumns).
			AddRow("D1", "Dealer One", "dealer", "dealer", 18.52, 73.85, "West", "Pune", "Haveli", "Pune"))

	actors, err = repo.FindActorsByCodes(context.Background(), []string{"D1", "D3", "D1"})
	require.NoError(t, err)
	require.Len(t, actors, 1)
	assert.Equal(t, 18.52, actors[0].Latitude)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActor_NotFound(t *testing.T) {
	db, mock, repo := setupActorsMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE code = \$1`).WithArgs("DX").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetActor(context.Background(), "DX")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
