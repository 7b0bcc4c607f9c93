package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/party-race/internal/models"
	"gorm.io/gorm"
)

func createTestCar(t *testing.T, db *gorm.DB, name string, speed int, active bool) *models.RaceCar {
	t.Helper()
	car := &models.RaceCar{
		Name:        name,
		SpeedPlain:  speed,
		SpeedDesert: speed,
		SpeedMuddy:  speed,
		Active:      active,
	}
	require.NoError(t, db.Create(car).Error)
	return car
}

func TestCarRepository_CreateAndFind(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewCarRepository(db)
	ctx := context.Background()

	car := createTestCar(t, db, "闪电", 60, true)

	found, err := repo.FindByID(ctx, car.ID)
	require.NoError(t, err)
	assert.Equal(t, "闪电", found.Name)
	assert.Equal(t, 60, found.SpeedPlain)

	_, err = repo.FindByID(ctx, 999)
	assert.Error(t, err)
}

func TestCarRepository_FindActive(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewCarRepository(db)
	ctx := context.Background()

	createTestCar(t, db, "闪电", 60, true)
	createTestCar(t, db, "沙暴", 90, true)
	createTestCar(t, db, "报废车", 30, false)

	cars, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Len(t, cars, 2)

	count, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCarRepository_SetActive(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewCarRepository(db)
	ctx := context.Background()

	car := createTestCar(t, db, "闪电", 60, true)

	require.NoError(t, repo.SetActive(ctx, car.ID, false))

	found, err := repo.FindByID(ctx, car.ID)
	require.NoError(t, err)
	assert.False(t, found.Active)

	assert.Error(t, repo.SetActive(ctx, 999, true))
}

func TestCarRepository_List(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewCarRepository(db)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		createTestCar(t, db, "赛车", 50+i, true)
	}

	p := NewPagination(1, 10)
	cars, err := repo.List(ctx, p)
	require.NoError(t, err)
	assert.Len(t, cars, 10)
	assert.Equal(t, int64(12), p.Total)
}

func TestCarRepository_SpeedFor(t *testing.T) {
	car := &models.RaceCar{
		SpeedPlain:  80,
		SpeedDesert: 50,
		SpeedMuddy:  20,
	}

	assert.Equal(t, 80, car.SpeedFor(models.TerrainPlain))
	assert.Equal(t, 50, car.SpeedFor(models.TerrainDesert))
	assert.Equal(t, 20, car.SpeedFor(models.TerrainMuddy))
	// 未知地形按平地处理
	assert.Equal(t, 80, car.SpeedFor("swamp"))
}
