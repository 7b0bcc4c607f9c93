package game

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/wfunc/party-race/internal/models"
)

// terrains 可抽取的地形种类
var terrains = []string{
	models.TerrainPlain,
	models.TerrainDesert,
	models.TerrainMuddy,
}

// GenerateTrack 随机生成一条赛道（每段地形独立抽取）
func GenerateTrack(rng *rand.Rand) []string {
	track := make([]string, SegmentCount)
	for i := range track {
		track[i] = terrains[rng.Intn(len(terrains))]
	}
	return track
}

// PickCars 从可参赛赛车中不放回随机抽取 n 辆
func PickCars(cars []*models.RaceCar, n int, rng *rand.Rand) ([]*models.RaceCar, error) {
	if len(cars) < n {
		return nil, fmt.Errorf("可参赛赛车不足: 需要%d辆, 只有%d辆", n, len(cars))
	}

	shuffled := make([]*models.RaceCar, len(cars))
	copy(shuffled, cars)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled[:n], nil
}

// Simulate 纯函数：根据赛道分配与赛车速度计算比赛结果
// 相同输入必然得到相同输出（进程重启后可用持久化数据复算）
// 每段耗时 = 段长 / 对应地形速度；总耗时相同时赛道号小者名次靠前
func Simulate(lanes []models.RaceLane, cars map[uint]*models.RaceCar) ([]models.RaceLaneResult, error) {
	if len(lanes) != LaneCount {
		return nil, fmt.Errorf("赛道数必须为%d, 实际%d", LaneCount, len(lanes))
	}

	results := make([]models.RaceLaneResult, 0, len(lanes))
	for _, lane := range lanes {
		car, ok := cars[lane.CarID]
		if !ok {
			return nil, fmt.Errorf("赛车不存在: id=%d", lane.CarID)
		}

		segmentTimes := make([]float64, 0, len(lane.Track))
		total := 0.0
		for _, terrain := range lane.Track {
			speed := car.SpeedFor(terrain)
			if speed <= 0 {
				return nil, fmt.Errorf("赛车速度无效: id=%d terrain=%s speed=%d", car.ID, terrain, speed)
			}
			t := float64(SegmentLength) / float64(speed)
			segmentTimes = append(segmentTimes, t)
			total += t
		}

		results = append(results, models.RaceLaneResult{
			LaneNo:       lane.LaneNo,
			CarID:        lane.CarID,
			SegmentTimes: segmentTimes,
			TotalTime:    total,
		})
	}

	// 按总耗时升序排名，耗时相同时赛道号小者优先（保证确定性）
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TotalTime != results[j].TotalTime {
			return results[i].TotalTime < results[j].TotalTime
		}
		return results[i].LaneNo < results[j].LaneNo
	})

	for i := range results {
		results[i].Position = i + 1
	}

	return results, nil
}

// WinnerOf 返回名次第一的结果
func WinnerOf(results []models.RaceLaneResult) *models.RaceLaneResult {
	for i := range results {
		if results[i].Position == 1 {
			return &results[i]
		}
	}
	return nil
}

// FastestTime 返回冠军的总耗时
func FastestTime(results []models.RaceLaneResult) float64 {
	winner := WinnerOf(results)
	if winner == nil {
		return 0
	}
	return winner.TotalTime
}
