package game

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/party-race/internal/models"
	"go.uber.org/zap"
)

func TestAnimatorDuration(t *testing.T) {
	animator := NewAnimator(quartz.NewReal(), zap.NewNop(), 8*time.Second, 15*time.Second, 500*time.Millisecond)

	// 冠军耗时收敛到配置区间
	fast := []models.RaceLaneResult{{LaneNo: 1, Position: 1, TotalTime: 2.0}}
	assert.Equal(t, 8*time.Second, animator.Duration(fast))

	slow := []models.RaceLaneResult{{LaneNo: 1, Position: 1, TotalTime: 20.0}}
	assert.Equal(t, 15*time.Second, animator.Duration(slow))

	within := []models.RaceLaneResult{{LaneNo: 1, Position: 1, TotalTime: 10.0}}
	assert.Equal(t, 10*time.Second, animator.Duration(within))
}

func TestAnimatorRun(t *testing.T) {
	mockClock := quartz.NewMock(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 冠军真实耗时4秒 < 下限8秒 → 动画8秒，tick 500ms → 恰好16帧收官
	results := []models.RaceLaneResult{
		{LaneNo: 1, CarID: 1, Position: 1, SegmentTimes: []float64{2, 1, 1}, TotalTime: 4.0},
		{LaneNo: 2, CarID: 2, Position: 2, SegmentTimes: []float64{2, 2, 2}, TotalTime: 6.0},
		{LaneNo: 3, CarID: 3, Position: 3, SegmentTimes: []float64{3, 3, 2}, TotalTime: 8.0},
	}

	animator := NewAnimator(mockClock, zap.NewNop(), 8*time.Second, 15*time.Second, 500*time.Millisecond)

	type frame struct {
		lanes   []LaneProgress
		overall float64
	}
	frames := make(chan frame, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		animator.Run(ctx, results, func(lanes []LaneProgress, overall float64) {
			frames <- frame{lanes: lanes, overall: overall}
		})
	}()

	// 等动画协程把ticker挂上
	time.Sleep(10 * time.Millisecond)

	var collected []frame
	for i := 0; i < 16; i++ {
		mockClock.Advance(500 * time.Millisecond).MustWait(ctx)
		select {
		case f := <-frames:
			collected = append(collected, f)
		case <-time.After(5 * time.Second):
			t.Fatalf("第%d帧未送达", i+1)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("动画未在冠军到达终点时收官")
	}

	require.Len(t, collected, 16)

	// 进度单调不减
	prev := 0.0
	for _, f := range collected {
		assert.GreaterOrEqual(t, f.overall, prev)
		prev = f.overall
	}

	// 最后一帧冠军到达终点
	last := collected[len(collected)-1]
	assert.Equal(t, 100.0, last.overall)
	for _, lane := range last.lanes {
		if lane.LaneNo == 1 {
			assert.Equal(t, 100.0, lane.Progress)
			assert.Equal(t, float64(FinishDistance), lane.Distance)
		} else {
			assert.Less(t, lane.Progress, 100.0)
		}
	}
}

func TestAnimatorRun_ContextCancel(t *testing.T) {
	mockClock := quartz.NewMock(t)
	ctx, cancel := context.WithCancel(context.Background())

	results := []models.RaceLaneResult{
		{LaneNo: 1, CarID: 1, Position: 1, SegmentTimes: []float64{2, 1, 1}, TotalTime: 4.0},
	}

	animator := NewAnimator(mockClock, zap.NewNop(), 8*time.Second, 15*time.Second, 500*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		animator.Run(ctx, results, func([]LaneProgress, float64) {})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("取消上下文后动画未退出")
	}
}

func TestProgressAt(t *testing.T) {
	segmentTimes := []float64{2, 1, 1}

	// 第一段走到一半
	distance, seg := progressAt(segmentTimes, 1.0)
	assert.InDelta(t, 50.0, distance, 1e-9)
	assert.Equal(t, 0, seg)

	// 正好跨入第二段
	distance, seg = progressAt(segmentTimes, 2.5)
	assert.InDelta(t, 150.0, distance, 1e-9)
	assert.Equal(t, 1, seg)

	// 全程走完
	distance, _ = progressAt(segmentTimes, 4.0)
	assert.InDelta(t, float64(FinishDistance), distance, 1e-9)

	// 超出全程不溢出
	distance, _ = progressAt(segmentTimes, 100.0)
	assert.InDelta(t, float64(FinishDistance), distance, 1e-9)
}
