package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/party-race/internal/models"
	"github.com/wfunc/party-race/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// recordingBroadcaster 记录所有广播事件的测试替身
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
	ch     chan string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{ch: make(chan string, 256)}
}

func (b *recordingBroadcaster) BroadcastEvent(event string, payload interface{}) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()

	select {
	case b.ch <- event:
	default:
	}
}

func (b *recordingBroadcaster) seen(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

// waitEvent 等待指定事件广播（真实时间超时兜底）
func waitEvent(t *testing.T, b *recordingBroadcaster, event string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if b.seen(event) {
			return
		}
		select {
		case <-b.ch:
		case <-deadline:
			t.Fatalf("等待事件超时: %s", event)
		}
	}
}

func seedCars(t *testing.T, db *gorm.DB, speeds ...int) {
	t.Helper()
	names := []string{"闪电", "沙暴", "泥王", "夜行", "烈焰"}
	for i, speed := range speeds {
		car := &models.RaceCar{
			Name:        names[i%len(names)],
			SpeedPlain:  speed,
			SpeedDesert: speed,
			SpeedMuddy:  speed,
			Active:      true,
			SortOrder:   i,
		}
		require.NoError(t, db.Create(car).Error)
	}
}

type schedulerTestEnv struct {
	db        *gorm.DB
	clock     *quartz.Mock
	presence  *PresenceGate
	bc        *recordingBroadcaster
	scheduler *Scheduler
	service   *RaceService
	rounds    repository.RoundRepository
}

func newSchedulerTestEnv(t *testing.T) *schedulerTestEnv {
	db := repository.SetupTestDB()
	t.Cleanup(func() { repository.CleanupTestDB(db) })

	mockClock := quartz.NewMock(t)
	cfg := testRaceConfig()
	presence := NewPresenceGate(zap.NewNop())
	bc := newRecordingBroadcaster()

	scheduler := NewScheduler(&SchedulerConfig{
		DB:          db,
		Logger:      zap.NewNop(),
		Clock:       mockClock,
		Race:        cfg,
		Broadcaster: bc,
		Presence:    presence,
		Seed:        1,
	})

	return &schedulerTestEnv{
		db:        db,
		clock:     mockClock,
		presence:  presence,
		bc:        bc,
		scheduler: scheduler,
		service:   NewRaceService(db, zap.NewNop(), mockClock, cfg),
		rounds:    repository.NewRoundRepository(db),
	}
}

// advance 给协程让出调度窗口后推进模拟时钟
func (e *schedulerTestEnv) advance(t *testing.T, d time.Duration) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.clock.Advance(d).MustWait(ctx)
}

// advanceTicksUntil 按动画tick逐步推进直到事件出现
func (e *schedulerTestEnv) advanceTicksUntil(t *testing.T, event string, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if e.bc.seen(event) {
			return
		}
		e.advance(t, 500*time.Millisecond)
	}
	waitEvent(t, e.bc, event)
}

func TestScheduler_FullRoundLifecycle(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	seedCars(t, env.db, 60, 90, 30)
	seedWallet(t, env.db, 1, 1000)
	seedWallet(t, env.db, 2, 1000)
	env.presence.Add("viewer-1")

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	// 有观众 → 立即开新回合
	waitEvent(t, env.bc, EventRoundStarted)

	round, err := env.rounds.FindOpen(ctx)
	require.NoError(t, err)
	require.NotNil(t, round)
	assert.Equal(t, models.RoundStatusPredicting, round.Status)
	assert.Equal(t, uint64(1), round.SeqNo)

	// 速度全同的赛车里90那辆必然夺冠：用户1押它两注，用户2押别的车一注
	lanes, err := round.GetLanes()
	require.NoError(t, err)
	var fastCarID, slowCarID uint
	for _, lane := range lanes {
		var car models.RaceCar
		require.NoError(t, env.db.First(&car, lane.CarID).Error)
		if car.SpeedPlain == 90 {
			fastCarID = lane.CarID
		} else if slowCarID == 0 {
			slowCarID = lane.CarID
		}
	}
	require.NotZero(t, fastCarID)
	require.NotZero(t, slowCarID)

	_, err = env.service.PlacePrediction(ctx, 1, fastCarID, "")
	require.NoError(t, err)
	_, err = env.service.PlacePrediction(ctx, 1, fastCarID, "")
	require.NoError(t, err)
	_, err = env.service.PlacePrediction(ctx, 2, slowCarID, "")
	require.NoError(t, err)

	// 竞猜期结束 → 封盘
	env.advance(t, 15*time.Second)
	waitEvent(t, env.bc, EventPredictionsLocked)

	locked, err := env.rounds.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusLocked, locked.Status)
	assert.Equal(t, int64(300), locked.TotalPot)
	assert.Equal(t, 3, locked.PredictionCount)

	// 封盘后下注被拒绝
	_, err = env.service.PlacePrediction(ctx, 2, slowCarID, "")
	require.Error(t, err)

	// 倒计时结束 → 起跑
	env.advance(t, 5*time.Second)
	waitEvent(t, env.bc, EventRaceStart)

	racing, err := env.rounds.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusRacing, racing.Status)
	assert.Equal(t, fastCarID, racing.WinnerCarID)

	// 动画逐tick推进直到收官结算
	env.advanceTicksUntil(t, EventRoundFinished, 40)
	assert.True(t, env.bc.seen(EventRaceProgress))

	finished, err := env.rounds.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusFinished, finished.Status)

	// 总投注300，抽成5% → 15，奖池285，2笔中奖每笔142
	assert.Equal(t, int64(300), finished.TotalPot)
	assert.Equal(t, int64(15), finished.PlatformFee)
	assert.Equal(t, int64(285), finished.PayoutPool)

	var predictions []models.RacePrediction
	require.NoError(t, env.db.Where("round_id = ?", round.ID).Order("id").Find(&predictions).Error)
	require.Len(t, predictions, 3)
	for _, p := range predictions {
		if p.CarID == fastCarID {
			assert.Equal(t, models.PredictionWon, p.Outcome)
			assert.Equal(t, int64(142), p.Payout)
		} else {
			assert.Equal(t, models.PredictionLost, p.Outcome)
			assert.Equal(t, int64(0), p.Payout)
		}
	}

	// 用户1：1000 - 200注 + 284派奖 = 1084；用户2：1000 - 100 = 900
	var wallet1, wallet2 models.Wallet
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&wallet1).Error)
	require.NoError(t, env.db.Where("user_id = ?", 2).First(&wallet2).Error)
	assert.Equal(t, int64(1084), wallet1.Balance)
	assert.Equal(t, int64(900), wallet2.Balance)
	assert.Equal(t, int64(284), wallet1.TotalWin)

	// 派奖流水带入账前后余额（下注200后是800，派奖284后是1084）
	var winTxn models.Transaction
	require.NoError(t, env.db.Where("user_id = ? AND type = ?", 1, "win").First(&winTxn).Error)
	assert.Equal(t, int64(284), winTxn.Amount)
	assert.Equal(t, int64(800), winTxn.BeforeBalance)
	assert.Equal(t, int64(1084), winTxn.AfterBalance)

	// 结果展示期结束 → 下一回合自动开启
	env.advance(t, 8*time.Second)
	waitEvent(t, env.bc, EventRoundStarted)
	next, err := env.rounds.FindOpen(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, uint64(2), next.SeqNo)
}

func TestScheduler_NoViewersNoRound(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	seedCars(t, env.db, 60, 90, 30)

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	// 无观众：校准tick来了也不开新回合
	for i := 0; i < 3; i++ {
		env.advance(t, 3*time.Minute)
	}

	var count int64
	env.db.Model(&models.RaceRound{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestScheduler_SettlesAfterViewersLeave(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	seedCars(t, env.db, 60, 90, 30)
	seedWallet(t, env.db, 1, 1000)
	env.presence.Add("viewer-1")

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	waitEvent(t, env.bc, EventRoundStarted)

	round, err := env.rounds.FindOpen(ctx)
	require.NoError(t, err)
	lanes, err := round.GetLanes()
	require.NoError(t, err)

	_, err = env.service.PlacePrediction(ctx, 1, lanes[0].CarID, "")
	require.NoError(t, err)

	env.advance(t, 15*time.Second)
	waitEvent(t, env.bc, EventPredictionsLocked)

	// 封盘后观众全部离场：回合仍必须走完并结算
	env.presence.Remove("viewer-1")

	env.advance(t, 5*time.Second)
	waitEvent(t, env.bc, EventRaceStart)
	env.advanceTicksUntil(t, EventRoundFinished, 40)

	finished, err := env.rounds.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusFinished, finished.Status)

	var p models.RacePrediction
	require.NoError(t, env.db.Where("round_id = ?", round.ID).First(&p).Error)
	assert.NotEqual(t, models.PredictionPending, p.Outcome)

	// 但没有观众时不开下一回合
	env.advance(t, 8*time.Second)
	env.advance(t, 3*time.Minute)

	var count int64
	env.db.Model(&models.RaceRound{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestScheduler_AdoptsStaleRound(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	seedCars(t, env.db, 60, 90, 30)
	env.presence.Add("viewer-1")

	// 竞猜截止时间已过的遗留回合（相当于进程宕机重启）
	seedPredictingRound(t, env.db, env.clock, -1*time.Second)

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	// 启动时的校准直接把它推进到封盘，而不是开新回合
	waitEvent(t, env.bc, EventPredictionsLocked)

	env.advance(t, 5*time.Second)
	waitEvent(t, env.bc, EventRaceStart)
	env.advanceTicksUntil(t, EventRoundFinished, 40)

	var rounds []models.RaceRound
	require.NoError(t, env.db.Find(&rounds).Error)
	require.Len(t, rounds, 1)
	assert.Equal(t, models.RoundStatusFinished, rounds[0].Status)
	assert.NotZero(t, rounds[0].WinnerCarID)

	// 空回合：无投注也能正常结算
	assert.Equal(t, int64(0), rounds[0].TotalPot)
}

func TestScheduler_NoDuplicateOpenRounds(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	seedCars(t, env.db, 60, 90, 30)
	env.presence.Add("viewer-1")

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	waitEvent(t, env.bc, EventRoundStarted)

	// 重复唤醒不会开出第二个回合
	for i := 0; i < 5; i++ {
		env.scheduler.Kick()
	}
	time.Sleep(50 * time.Millisecond)

	var count int64
	env.db.Model(&models.RaceRound{}).Where("status != ?", models.RoundStatusFinished).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestScheduler_NoNewRoundDuringResultDisplay(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	seedCars(t, env.db, 60, 90, 30)
	env.presence.Add("viewer-1")

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	waitEvent(t, env.bc, EventRoundStarted)
	env.advance(t, 15*time.Second)
	waitEvent(t, env.bc, EventPredictionsLocked)
	env.advance(t, 5*time.Second)
	waitEvent(t, env.bc, EventRaceStart)
	env.advanceTicksUntil(t, EventRoundFinished, 40)

	// 展示期内不推进时钟，任何来源的唤醒都不该开出下一回合
	for i := 0; i < 5; i++ {
		env.scheduler.Kick()
		time.Sleep(20 * time.Millisecond)
	}

	open, err := env.rounds.FindOpen(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	// 展示期过后才开下一期
	env.advance(t, 8*time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for {
		next, err := env.rounds.FindOpen(ctx)
		require.NoError(t, err)
		if next != nil {
			assert.Equal(t, uint64(2), next.SeqNo)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("展示期结束后没有开出下一回合")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_InsufficientCars(t *testing.T) {
	env := newSchedulerTestEnv(t)
	ctx := context.Background()

	// 只有两辆可参赛赛车：放弃开回合而不是崩溃
	seedCars(t, env.db, 60, 90)
	env.presence.Add("viewer-1")

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	env.advance(t, 3*time.Minute)

	var count int64
	env.db.Model(&models.RaceRound{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
