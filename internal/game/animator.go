package game

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/wfunc/party-race/internal/models"
	"go.uber.org/zap"
)

// tickCeilingFactor 动画硬性tick上限倍数（防浮点边界导致永不收官）
const tickCeilingFactor = 2

// Animator 比赛动画器
// 把模拟器的最终结果按时间缩放成连续的进度流，只影响观感，不影响胜负
type Animator struct {
	clock       quartz.Clock
	logger      *zap.Logger
	minDuration time.Duration
	maxDuration time.Duration
	tick        time.Duration
}

// NewAnimator 创建动画器
func NewAnimator(clock quartz.Clock, logger *zap.Logger, minDuration, maxDuration, tick time.Duration) *Animator {
	return &Animator{
		clock:       clock,
		logger:      logger,
		minDuration: minDuration,
		maxDuration: maxDuration,
		tick:        tick,
	}
}

// Duration 返回本次动画的实际时长（冠军真实耗时收敛到配置区间）
func (a *Animator) Duration(results []models.RaceLaneResult) time.Duration {
	fastest := time.Duration(FastestTime(results) * float64(time.Second))
	if fastest < a.minDuration {
		return a.minDuration
	}
	if fastest > a.maxDuration {
		return a.maxDuration
	}
	return fastest
}

// Run 运行动画直到有赛车到达终点
// 每个tick通过emit推送一帧进度；任一赛车进度达到100%立即收官
// 超过tick上限时把进度最高者钉到100%，保证必然终止
func (a *Animator) Run(ctx context.Context, results []models.RaceLaneResult, emit func(lanes []LaneProgress, overall float64)) {
	fastest := FastestTime(results)
	if fastest <= 0 {
		return
	}

	animDuration := a.Duration(results)
	// 真实耗时 → 动画时长的统一缩放系数
	timeScale := fastest / animDuration.Seconds()
	tickCeiling := int(a.maxDuration/a.tick) * tickCeilingFactor

	ticker := a.clock.NewTicker(a.tick, "animator")
	defer ticker.Stop()

	for tickNo := 1; ; tickNo++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Duration(tickNo) * a.tick
		simTime := elapsed.Seconds() * timeScale

		lanes := make([]LaneProgress, 0, len(results))
		overall := 0.0
		finished := false
		for _, result := range results {
			distance, segIndex := progressAt(result.SegmentTimes, simTime)
			progress := distance / float64(FinishDistance) * 100
			if progress >= 100 {
				progress = 100
				distance = FinishDistance
				finished = true
			}
			if progress > overall {
				overall = progress
			}
			lanes = append(lanes, LaneProgress{
				LaneNo:       result.LaneNo,
				CarID:        result.CarID,
				Distance:     distance,
				Progress:     progress,
				SegmentIndex: segIndex,
			})
		}

		if tickNo >= tickCeiling && !finished {
			// 浮点边界：把进度最高者钉到终点
			best := 0
			for i := range lanes {
				if lanes[i].Progress > lanes[best].Progress {
					best = i
				}
			}
			lanes[best].Progress = 100
			lanes[best].Distance = FinishDistance
			overall = 100
			finished = true
			a.logger.Warn("动画到达tick上限，强制收官",
				zap.Int("tick", tickNo),
				zap.Int("lane", lanes[best].LaneNo))
		}

		emit(lanes, overall)

		if finished {
			return
		}
	}
}

// progressAt 按缩放后的已用时间沿分段耗时推进，返回已行距离与当前段号
func progressAt(segmentTimes []float64, simTime float64) (float64, int) {
	distance := 0.0
	remaining := simTime
	for i, segTime := range segmentTimes {
		if segTime <= 0 {
			continue
		}
		if remaining >= segTime {
			remaining -= segTime
			distance += SegmentLength
			continue
		}
		distance += remaining / segTime * SegmentLength
		return distance, i
	}
	if distance > FinishDistance {
		distance = FinishDistance
	}
	return distance, len(segmentTimes) - 1
}
