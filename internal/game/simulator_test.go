package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/party-race/internal/models"
)

func testCar(id uint, plain, desert, muddy int) *models.RaceCar {
	car := &models.RaceCar{
		Name:        "测试赛车",
		SpeedPlain:  plain,
		SpeedDesert: desert,
		SpeedMuddy:  muddy,
		Active:      true,
	}
	car.ID = id
	return car
}

func plainTrack() []string {
	return []string{models.TerrainPlain, models.TerrainPlain, models.TerrainPlain}
}

func TestGenerateTrack(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	track := GenerateTrack(rng)
	require.Len(t, track, SegmentCount)
	for _, terrain := range track {
		assert.Contains(t, []string{
			models.TerrainPlain,
			models.TerrainDesert,
			models.TerrainMuddy,
		}, terrain)
	}
}

func TestPickCars(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cars := []*models.RaceCar{
		testCar(1, 50, 50, 50),
		testCar(2, 60, 60, 60),
		testCar(3, 70, 70, 70),
		testCar(4, 80, 80, 80),
	}

	picked, err := PickCars(cars, 3, rng)
	require.NoError(t, err)
	require.Len(t, picked, 3)

	// 不放回抽取，不能有重复
	seen := make(map[uint]bool)
	for _, car := range picked {
		assert.False(t, seen[car.ID])
		seen[car.ID] = true
	}
}

func TestPickCars_NotEnough(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cars := []*models.RaceCar{
		testCar(1, 50, 50, 50),
		testCar(2, 60, 60, 60),
	}

	_, err := PickCars(cars, 3, rng)
	assert.Error(t, err)
}

func TestSimulate_Ordering(t *testing.T) {
	// 全平地赛道：总耗时 = 300/速度，速度 60/90/30 → 名次 2号道、1号道、3号道
	lanes := []models.RaceLane{
		{LaneNo: 1, CarID: 1, Track: plainTrack()},
		{LaneNo: 2, CarID: 2, Track: plainTrack()},
		{LaneNo: 3, CarID: 3, Track: plainTrack()},
	}
	cars := map[uint]*models.RaceCar{
		1: testCar(1, 60, 60, 60),
		2: testCar(2, 90, 90, 90),
		3: testCar(3, 30, 30, 30),
	}

	results, err := Simulate(lanes, cars)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 2, results[0].LaneNo)
	assert.Equal(t, 1, results[0].Position)
	assert.InDelta(t, 300.0/90.0, results[0].TotalTime, 1e-9)

	assert.Equal(t, 1, results[1].LaneNo)
	assert.Equal(t, 2, results[1].Position)
	assert.InDelta(t, 5.0, results[1].TotalTime, 1e-9)

	assert.Equal(t, 3, results[2].LaneNo)
	assert.Equal(t, 3, results[2].Position)
	assert.InDelta(t, 10.0, results[2].TotalTime, 1e-9)
}

func TestSimulate_TerrainAffectsTime(t *testing.T) {
	// 同一辆车在不同地形的分段耗时不同
	lanes := []models.RaceLane{
		{LaneNo: 1, CarID: 1, Track: []string{models.TerrainPlain, models.TerrainDesert, models.TerrainMuddy}},
		{LaneNo: 2, CarID: 2, Track: plainTrack()},
		{LaneNo: 3, CarID: 3, Track: plainTrack()},
	}
	cars := map[uint]*models.RaceCar{
		1: testCar(1, 100, 50, 25),
		2: testCar(2, 10, 10, 10),
		3: testCar(3, 20, 20, 20),
	}

	results, err := Simulate(lanes, cars)
	require.NoError(t, err)

	var lane1 *models.RaceLaneResult
	for i := range results {
		if results[i].LaneNo == 1 {
			lane1 = &results[i]
		}
	}
	require.NotNil(t, lane1)
	assert.InDelta(t, 1.0, lane1.SegmentTimes[0], 1e-9)
	assert.InDelta(t, 2.0, lane1.SegmentTimes[1], 1e-9)
	assert.InDelta(t, 4.0, lane1.SegmentTimes[2], 1e-9)
	assert.InDelta(t, 7.0, lane1.TotalTime, 1e-9)
}

func TestSimulate_TieBreakByLaneNo(t *testing.T) {
	// 总耗时完全相同时，赛道号小者名次靠前
	lanes := []models.RaceLane{
		{LaneNo: 1, CarID: 1, Track: plainTrack()},
		{LaneNo: 2, CarID: 2, Track: plainTrack()},
		{LaneNo: 3, CarID: 3, Track: plainTrack()},
	}
	cars := map[uint]*models.RaceCar{
		1: testCar(1, 50, 50, 50),
		2: testCar(2, 50, 50, 50),
		3: testCar(3, 50, 50, 50),
	}

	results, err := Simulate(lanes, cars)
	require.NoError(t, err)

	assert.Equal(t, 1, results[0].LaneNo)
	assert.Equal(t, 2, results[1].LaneNo)
	assert.Equal(t, 3, results[2].LaneNo)
}

func TestSimulate_Deterministic(t *testing.T) {
	// 相同输入必然得到相同输出
	lanes := []models.RaceLane{
		{LaneNo: 1, CarID: 1, Track: []string{models.TerrainDesert, models.TerrainMuddy, models.TerrainPlain}},
		{LaneNo: 2, CarID: 2, Track: []string{models.TerrainMuddy, models.TerrainMuddy, models.TerrainDesert}},
		{LaneNo: 3, CarID: 3, Track: plainTrack()},
	}
	cars := map[uint]*models.RaceCar{
		1: testCar(1, 88, 42, 17),
		2: testCar(2, 73, 55, 31),
		3: testCar(3, 64, 28, 90),
	}

	first, err := Simulate(lanes, cars)
	require.NoError(t, err)
	second, err := Simulate(lanes, cars)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSimulate_InvalidInput(t *testing.T) {
	cars := map[uint]*models.RaceCar{
		1: testCar(1, 50, 50, 50),
	}

	// 赛道数不对
	_, err := Simulate([]models.RaceLane{{LaneNo: 1, CarID: 1, Track: plainTrack()}}, cars)
	assert.Error(t, err)

	// 引用了不存在的赛车
	lanes := []models.RaceLane{
		{LaneNo: 1, CarID: 1, Track: plainTrack()},
		{LaneNo: 2, CarID: 99, Track: plainTrack()},
		{LaneNo: 3, CarID: 1, Track: plainTrack()},
	}
	_, err = Simulate(lanes, cars)
	assert.Error(t, err)

	// 速度非法
	badCars := map[uint]*models.RaceCar{
		1: testCar(1, 0, 50, 50),
		2: testCar(2, 50, 50, 50),
		3: testCar(3, 50, 50, 50),
	}
	badLanes := []models.RaceLane{
		{LaneNo: 1, CarID: 1, Track: plainTrack()},
		{LaneNo: 2, CarID: 2, Track: plainTrack()},
		{LaneNo: 3, CarID: 3, Track: plainTrack()},
	}
	_, err = Simulate(badLanes, badCars)
	assert.Error(t, err)
}

func TestWinnerOf(t *testing.T) {
	results := []models.RaceLaneResult{
		{LaneNo: 2, CarID: 5, Position: 1, TotalTime: 3.5},
		{LaneNo: 1, CarID: 4, Position: 2, TotalTime: 4.2},
		{LaneNo: 3, CarID: 6, Position: 3, TotalTime: 6.0},
	}

	winner := WinnerOf(results)
	require.NotNil(t, winner)
	assert.Equal(t, uint(5), winner.CarID)
	assert.InDelta(t, 3.5, FastestTime(results), 1e-9)

	assert.Nil(t, WinnerOf(nil))
}
