package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/wfunc/party-race/internal/config"
	"github.com/wfunc/party-race/internal/models"
	"github.com/wfunc/party-race/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// safetyCeilingFactor 比赛阶段安全上限 = 动画时长上限 × 该倍数
// 超过上限直接用已持久化的模拟结果强制收官，回合永远不会卡死
const safetyCeilingFactor = 3

// SchedulerConfig 调度器依赖配置
type SchedulerConfig struct {
	DB          *gorm.DB
	Logger      *zap.Logger
	Clock       quartz.Clock
	Race        *config.RaceConfig
	Broadcaster Broadcaster
	Presence    *PresenceGate
	Seed        int64 // 随机种子，0表示按时间取
}

// Scheduler 比赛调度器
// 唯一的状态机与计时权威：创建回合、封盘、起跑、结算全部由它驱动
// 所有阶段转换以持久化时间戳为准，周期校准tick会补上错过的转换
type Scheduler struct {
	mu          sync.Mutex
	db          *gorm.DB
	logger      *zap.Logger
	clock       quartz.Clock
	cfg         *config.RaceConfig
	broadcaster Broadcaster
	presence    *PresenceGate
	animator    *Animator
	rng         *rand.Rand

	rounds      repository.RoundRepository
	cars        repository.CarRepository
	predictions repository.PredictionRepository
	wallets     repository.WalletRepository

	// 进行中回合的内存守卫（持久化re-check是第二道防线）
	creating    bool
	finishing   map[uint]bool
	animRunning map[uint]bool
	timers      map[string]*quartz.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kick   chan struct{}
}

// NewScheduler 创建调度器
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}

	return &Scheduler{
		db:          cfg.DB,
		logger:      cfg.Logger,
		clock:       clock,
		cfg:         cfg.Race,
		broadcaster: cfg.Broadcaster,
		presence:    cfg.Presence,
		animator: NewAnimator(clock, cfg.Logger,
			cfg.Race.MinAnimation, cfg.Race.MaxAnimation, cfg.Race.ProgressTick),
		rng:         rand.New(rand.NewSource(seed)),
		rounds:      repository.NewRoundRepository(cfg.DB),
		cars:        repository.NewCarRepository(cfg.DB),
		predictions: repository.NewPredictionRepository(cfg.DB),
		wallets:     repository.NewWalletRepository(cfg.DB),
		finishing:   make(map[uint]bool),
		animRunning: make(map[uint]bool),
		timers:      make(map[string]*quartz.Timer),
		kick:        make(chan struct{}, 1),
	}
}

// Start 启动调度器
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	// 首位观众上线时立即唤醒，不必等周期tick
	s.presence.OnFirstViewer(s.Kick)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("比赛调度器已启动",
		zap.Duration("predict_duration", s.cfg.PredictDuration),
		zap.Duration("reconcile_tick", s.cfg.ReconcileTick))
}

// Stop 停止调度器（不清算进行中的回合，下次启动由校准接管）
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("比赛调度器已停止")
}

// Kick 唤醒调度器立即做一次校准
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// run 调度主循环：唤醒信号 + 周期校准tick
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.ReconcileTick, "reconcile")
	defer ticker.Stop()

	s.reconcile()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			s.reconcile()
		case <-ticker.C:
			// 无观众时不做任何调度工作
			if s.presence.HasViewers() {
				s.reconcile()
			}
		}
	}
}

// reconcile 校准：从持久化状态推导当前应处的阶段，补上任何错过的转换
// 不信任任何一次性定时器一定触发过，这是防"卡死回合"的根本手段
func (s *Scheduler) reconcile() {
	round, err := s.rounds.FindOpen(s.ctx)
	if err != nil {
		// 基础设施故障：只记录，不提交任何转换，下个tick重试
		s.logger.Error("读取进行中回合失败", zap.Error(err))
		return
	}

	if round == nil {
		s.maybeCreateRound()
		return
	}

	now := s.clock.Now()

	switch round.Status {
	case models.RoundStatusPredicting:
		if round.PredictEndAt != nil && !now.Before(*round.PredictEndAt) {
			s.lockRound(round)
		} else if round.PredictEndAt != nil {
			s.armTimer(fmt.Sprintf("lock-%d", round.ID), round.PredictEndAt.Sub(now), s.Kick)
		}

	case models.RoundStatusLocked:
		startAt := s.raceStartTime(round)
		if !now.Before(startAt) {
			s.startRace(round)
		} else {
			s.armTimer(fmt.Sprintf("start-%d", round.ID), startAt.Sub(now), s.Kick)
		}

	case models.RoundStatusRacing:
		ceiling := s.racingCeiling(round)
		if !now.Before(ceiling) {
			s.logger.Warn("比赛超过安全上限，强制结算",
				zap.Uint64("seq_no", round.SeqNo))
			s.finishRound(round.ID)
			return
		}
		// 进程中没有动画在跑（重启后接管的回合）则重放动画
		s.mu.Lock()
		running := s.animRunning[round.ID]
		s.mu.Unlock()
		if !running {
			s.resumeRace(round)
		}
	}
}

// raceStartTime 封盘后的起跑时刻
func (s *Scheduler) raceStartTime(round *models.RaceRound) time.Time {
	if round.PredictEndAt != nil {
		return round.PredictEndAt.Add(s.cfg.LockCountdown)
	}
	return round.CreatedAt.Add(s.cfg.PredictDuration + s.cfg.LockCountdown)
}

// racingCeiling 比赛阶段的硬性截止时刻
func (s *Scheduler) racingCeiling(round *models.RaceRound) time.Time {
	start := s.clock.Now()
	if round.RaceStartAt != nil {
		start = *round.RaceStartAt
	}
	return start.Add(s.cfg.MaxAnimation * safetyCeilingFactor)
}

// armTimer 装载一次性定时器（同名定时器只装载一次）
func (s *Scheduler) armTimer(key string, d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[key]; ok {
		return
	}
	s.timers[key] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	}, key)
}

// maybeCreateRound 在有观众且没有进行中回合时创建新回合
func (s *Scheduler) maybeCreateRound() {
	if !s.presence.HasViewers() {
		return
	}

	s.mu.Lock()
	if s.creating {
		s.mu.Unlock()
		return
	}
	s.creating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.creating = false
		s.mu.Unlock()
	}()

	// 持久化re-check：并发路径先建的回合直接接管
	if open, err := s.rounds.FindOpen(s.ctx); err != nil {
		s.logger.Error("创建前复查失败", zap.Error(err))
		return
	} else if open != nil {
		return
	}

	// 上一回合的结果展示期内不开新回合，任何来源的唤醒都挡在这里
	if recent, err := s.rounds.FindRecentFinished(s.ctx, 1); err != nil {
		s.logger.Error("读取上一回合失败", zap.Error(err))
		return
	} else if len(recent) > 0 && recent[0].RaceEndAt != nil {
		displayEnd := recent[0].RaceEndAt.Add(s.cfg.ResultDuration)
		if remaining := displayEnd.Sub(s.clock.Now()); remaining > 0 {
			s.armTimer(fmt.Sprintf("next-%d", recent[0].ID), remaining, s.Kick)
			return
		}
	}

	activeCars, err := s.cars.FindActive(s.ctx)
	if err != nil {
		s.logger.Error("读取可参赛赛车失败", zap.Error(err))
		return
	}

	picked, err := PickCars(activeCars, LaneCount, s.rng)
	if err != nil {
		// 前置条件失败：本轮放弃，不原地重试
		s.logger.Warn("无法开新回合", zap.Error(err))
		return
	}

	seqNo, err := s.rounds.NextSeqNo(s.ctx)
	if err != nil {
		s.logger.Error("计算期号失败", zap.Error(err))
		return
	}

	lanes := make([]models.RaceLane, 0, LaneCount)
	for i, car := range picked {
		lanes = append(lanes, models.RaceLane{
			LaneNo:  i + 1,
			CarID:   car.ID,
			CarName: car.Name,
			Track:   GenerateTrack(s.rng),
		})
	}

	now := s.clock.Now()
	predictEnd := now.Add(s.cfg.PredictDuration)
	round := &models.RaceRound{
		SeqNo:        seqNo,
		Status:       models.RoundStatusPredicting,
		PredictEndAt: &predictEnd,
	}
	if err := round.SetLanes(lanes); err != nil {
		s.logger.Error("序列化赛道失败", zap.Error(err))
		return
	}

	if err := s.rounds.Create(s.ctx, round); err != nil {
		s.logger.Error("创建回合失败", zap.Error(err))
		return
	}

	s.logger.Info("新回合开始",
		zap.Uint64("seq_no", seqNo),
		zap.Time("predict_end_at", predictEnd))

	s.broadcaster.BroadcastEvent(EventRoundStarted, &RoundStartedPayload{
		RoundID:      round.ID,
		SeqNo:        seqNo,
		Lanes:        maskedLanes(lanes),
		PredictEndAt: predictEnd,
		StakeAmount:  s.cfg.StakeAmount,
	})

	s.armTimer(fmt.Sprintf("lock-%d", round.ID), s.cfg.PredictDuration, s.Kick)
}

// lockRound 封盘：冻结投注汇总并安排起跑
func (s *Scheduler) lockRound(round *models.RaceRound) {
	totalPot, count, err := s.predictions.SumAmount(s.ctx, round.ID)
	if err != nil {
		s.logger.Error("统计投注失败", zap.Error(err))
		return
	}

	carCounts, err := s.predictions.CountByCar(s.ctx, round.ID)
	if err != nil {
		s.logger.Error("统计各车投注失败", zap.Error(err))
		return
	}

	if err := s.rounds.Lock(s.ctx, round.ID, totalPot, count); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// 已被其他路径封盘，视为无操作
			s.logger.Debug("回合已封盘", zap.Uint64("seq_no", round.SeqNo))
			return
		}
		s.logger.Error("封盘失败", zap.Error(err))
		return
	}

	raceStartAt := s.clock.Now().Add(s.cfg.LockCountdown)

	s.logger.Info("竞猜封盘",
		zap.Uint64("seq_no", round.SeqNo),
		zap.Int64("total_pot", totalPot),
		zap.Int("count", count))

	s.broadcaster.BroadcastEvent(EventPredictionsLocked, &PredictionsLockedPayload{
		RoundID:     round.ID,
		SeqNo:       round.SeqNo,
		CarCounts:   carCounts,
		TotalPot:    totalPot,
		RaceStartAt: raceStartAt,
	})

	s.armTimer(fmt.Sprintf("start-%d", round.ID), s.cfg.LockCountdown, s.Kick)
}

// startRace 起跑：运行模拟器、持久化结果、开始动画
func (s *Scheduler) startRace(round *models.RaceRound) {
	lanes, err := round.GetLanes()
	if err != nil {
		s.logger.Error("解析赛道失败", zap.Error(err))
		return
	}

	carMap, err := s.loadCars(lanes)
	if err != nil {
		s.logger.Error("读取参赛赛车失败", zap.Error(err))
		return
	}

	results, err := Simulate(lanes, carMap)
	if err != nil {
		s.logger.Error("比赛模拟失败", zap.Error(err))
		return
	}

	winner := WinnerOf(results)
	if err := round.SetResults(results); err != nil {
		s.logger.Error("序列化结果失败", zap.Error(err))
		return
	}
	round.WinnerCarID = winner.CarID

	now := s.clock.Now()
	endAt := now.Add(s.animator.Duration(results))
	if err := s.rounds.StartRace(s.ctx, round, now, endAt); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			s.logger.Debug("回合已起跑", zap.Uint64("seq_no", round.SeqNo))
			return
		}
		s.logger.Error("起跑失败", zap.Error(err))
		return
	}
	round.RaceStartAt = &now
	round.RaceEndAt = &endAt

	s.logger.Info("比赛开始",
		zap.Uint64("seq_no", round.SeqNo),
		zap.Uint("winner_car_id", winner.CarID),
		zap.Float64("fastest_time", winner.TotalTime))

	s.broadcaster.BroadcastEvent(EventRaceStart, &RaceStartPayload{
		RoundID: round.ID,
		SeqNo:   round.SeqNo,
		Lanes:   lanes,
		Results: results,
	})

	s.runAnimation(round, results)
}

// resumeRace 接管处于racing状态但没有动画在跑的回合（进程重启后）
// 模拟器是纯函数：持久化的结果直接重放即可，胜负不变
func (s *Scheduler) resumeRace(round *models.RaceRound) {
	results, err := round.GetResults()
	if err != nil || len(results) == 0 {
		s.logger.Error("解析已持久化结果失败", zap.Error(err))
		return
	}

	s.logger.Info("重放进行中的比赛动画", zap.Uint64("seq_no", round.SeqNo))
	s.runAnimation(round, results)
}

// runAnimation 启动动画协程，收官后进入结算
func (s *Scheduler) runAnimation(round *models.RaceRound, results []models.RaceLaneResult) {
	s.mu.Lock()
	if s.animRunning[round.ID] {
		s.mu.Unlock()
		return
	}
	s.animRunning[round.ID] = true
	s.mu.Unlock()

	// 安全上限：动画再怎么异常也会在这个时刻被强制结算
	s.armTimer(fmt.Sprintf("safety-%d", round.ID),
		s.cfg.MaxAnimation*safetyCeilingFactor, s.Kick)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.animRunning, round.ID)
			s.mu.Unlock()
		}()

		s.animator.Run(s.ctx, results, func(lanes []LaneProgress, overall float64) {
			s.broadcaster.BroadcastEvent(EventRaceProgress, &RaceProgressPayload{
				RoundID:  round.ID,
				SeqNo:    round.SeqNo,
				Lanes:    lanes,
				Progress: overall,
			})
		})

		if s.ctx.Err() != nil {
			return
		}
		s.finishRound(round.ID)
	}()
}

// finishRound 结算：派奖、写钱包、广播最终结果
// 回合状态转换、每笔竞猜结算、每个用户入账在同一个事务内完成
// 封盘后即使观众全部离场也必须走到这里：真金白银已经扣了
func (s *Scheduler) finishRound(roundID uint) {
	s.mu.Lock()
	if s.finishing[roundID] {
		s.mu.Unlock()
		return
	}
	s.finishing[roundID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.finishing, roundID)
		s.mu.Unlock()
	}()

	round, err := s.rounds.FindByID(s.ctx, roundID)
	if err != nil {
		s.logger.Error("读取待结算回合失败", zap.Error(err))
		return
	}
	if round.IsFinished() {
		// 无操作：已被其他路径结算
		return
	}

	results, err := round.GetResults()
	if err != nil || len(results) == 0 {
		s.logger.Error("待结算回合缺少模拟结果", zap.Error(err))
		return
	}
	winner := WinnerOf(results)

	predictions, err := s.predictions.FindByRound(s.ctx, roundID)
	if err != nil {
		s.logger.Error("读取竞猜记录失败", zap.Error(err))
		return
	}

	totalPot := int64(0)
	for _, p := range predictions {
		totalPot += p.Amount
	}

	payout := CalcPayout(totalPot, s.cfg.FeeRate, CountWinners(predictions, winner.CarID))
	credits := SettlePredictions(predictions, winner.CarID, payout.PerWagerPayout)
	endedAt := s.clock.Now()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		totals := &repository.RoundTotals{
			WinnerCarID: winner.CarID,
			TotalPot:    payout.TotalPot,
			PlatformFee: payout.PlatformFee,
			PayoutPool:  payout.PayoutPool,
			Count:       len(predictions),
			EndedAt:     endedAt,
		}
		if err := s.rounds.Finish(tx, roundID, totals); err != nil {
			return err
		}

		for _, p := range predictions {
			if err := s.predictions.SettleTx(tx, p.ID, p.Outcome, p.Payout); err != nil {
				return err
			}
		}

		walletTx := s.wallets.WithTx(tx).(repository.WalletRepository)
		for _, credit := range credits {
			wallet, err := walletTx.LockForUpdate(s.ctx, credit.UserID)
			if err != nil {
				return err
			}
			if err := walletTx.AddBalance(s.ctx, credit.UserID, credit.Amount); err != nil {
				return err
			}
			if err := walletTx.UpdateRaceStatsTx(tx, credit.UserID, 0, credit.Amount); err != nil {
				return err
			}
			if err := walletTx.CreateTransaction(s.ctx, &models.Transaction{
				UserID:        credit.UserID,
				OrderNo:       fmt.Sprintf("WIN-%d-%d", round.SeqNo, credit.UserID),
				Type:          "win",
				Amount:        credit.Amount,
				BeforeBalance: wallet.Balance,
				AfterBalance:  wallet.Balance + credit.Amount,
				Status:        "success",
				RefID:         fmt.Sprintf("%d", round.SeqNo),
				RefType:       "race_round",
				Description:   fmt.Sprintf("第%d期竞猜派奖（%d笔）", round.SeqNo, credit.Count),
			}); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// 已被其他路径结算，视为无操作
			s.logger.Debug("回合已结算", zap.Uint64("seq_no", round.SeqNo))
			return
		}
		// 事务整体回滚：没有任何部分状态被提交，下个tick重试
		s.logger.Error("结算事务失败", zap.Error(err))
		return
	}

	winnerName := ""
	if lanes, err := round.GetLanes(); err == nil {
		for _, lane := range lanes {
			if lane.CarID == winner.CarID {
				winnerName = lane.CarName
			}
		}
	}

	s.logger.Info("回合结束",
		zap.Uint64("seq_no", round.SeqNo),
		zap.Uint("winner_car_id", winner.CarID),
		zap.Int64("total_pot", payout.TotalPot),
		zap.Int64("platform_fee", payout.PlatformFee),
		zap.Int("winner_count", payout.WinnerCount))

	s.broadcaster.BroadcastEvent(EventRoundFinished, &RoundFinishedPayload{
		RoundID:        round.ID,
		SeqNo:          round.SeqNo,
		WinnerCarID:    winner.CarID,
		WinnerCarName:  winnerName,
		Results:        results,
		TotalPot:       payout.TotalPot,
		PlatformFee:    payout.PlatformFee,
		PayoutPool:     payout.PayoutPool,
		Count:          len(predictions),
		WinnerCount:    payout.WinnerCount,
		PerWagerPayout: payout.PerWagerPayout,
	})

	// 结果展示期过后再考虑开下一回合（届时仍需有观众）
	s.armTimer(fmt.Sprintf("next-%d", round.ID), s.cfg.ResultDuration, s.Kick)
}

// loadCars 读取赛道分配对应的赛车
func (s *Scheduler) loadCars(lanes []models.RaceLane) (map[uint]*models.RaceCar, error) {
	carMap := make(map[uint]*models.RaceCar, len(lanes))
	for _, lane := range lanes {
		car, err := s.cars.FindByID(s.ctx, lane.CarID)
		if err != nil {
			return nil, err
		}
		carMap[lane.CarID] = car
	}
	return carMap, nil
}
