package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/wfunc/party-race/internal/config"
	apperrors "github.com/wfunc/party-race/internal/errors"
	"github.com/wfunc/party-race/internal/models"
	"github.com/wfunc/party-race/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RaceService 竞猜业务服务
// 下注与撤注的准入校验和钱包操作都在这里，阶段推进归Scheduler管
type RaceService struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  quartz.Clock
	cfg    *config.RaceConfig

	rounds      repository.RoundRepository
	predictions repository.PredictionRepository
	wallets     repository.WalletRepository
}

// NewRaceService 创建竞猜服务
func NewRaceService(db *gorm.DB, logger *zap.Logger, clock quartz.Clock, cfg *config.RaceConfig) *RaceService {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &RaceService{
		db:          db,
		logger:      logger,
		clock:       clock,
		cfg:         cfg,
		rounds:      repository.NewRoundRepository(db),
		predictions: repository.NewPredictionRepository(db),
		wallets:     repository.NewWalletRepository(db),
	}
}

// openPredictingRound 取当前可竞猜的回合
func (s *RaceService) openPredictingRound(ctx context.Context) (*models.RaceRound, error) {
	round, err := s.rounds.FindOpen(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if round == nil {
		return nil, apperrors.New(apperrors.ErrRoundNotOpen)
	}
	if round.Status != models.RoundStatusPredicting {
		return nil, apperrors.New(apperrors.ErrRoundLocked)
	}
	// 以持久化的截止时间为准，不依赖调度器是否已经封盘
	if round.PredictEndAt != nil && !s.clock.Now().Before(*round.PredictEndAt) {
		return nil, apperrors.New(apperrors.ErrRoundLocked)
	}
	return round, nil
}

// laneForCar 校验赛车属于本回合赛道
func laneForCar(round *models.RaceRound, carID uint) (*models.RaceLane, error) {
	lanes, err := round.GetLanes()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDataIntegrity)
	}
	for i := range lanes {
		if lanes[i].CarID == carID {
			return &lanes[i], nil
		}
	}
	return nil, apperrors.New(apperrors.ErrCarNotFound)
}

// PlacePrediction 下注：固定注金，同一回合只能押同一辆车，可重复加注
func (s *RaceService) PlacePrediction(ctx context.Context, userID, carID uint, roomID string) (*models.RacePrediction, error) {
	round, err := s.openPredictingRound(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := laneForCar(round, carID); err != nil {
		return nil, err
	}

	existing, err := s.predictions.FindByRoundAndUser(ctx, round.ID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	for _, p := range existing {
		if p.CarID != carID {
			return nil, apperrors.New(apperrors.ErrCarConflict)
		}
	}

	stake := s.cfg.StakeAmount
	prediction := &models.RacePrediction{
		RoundID: round.ID,
		UserID:  userID,
		CarID:   carID,
		Amount:  stake,
		Outcome: models.PredictionPending,
		RoomID:  roomID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		walletTx := s.wallets.WithTx(tx).(repository.WalletRepository)
		predictionTx := s.predictions.WithTx(tx).(repository.PredictionRepository)

		wallet, err := walletTx.LockForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		// 钱包锁内复查：并发请求在此串行化，事务外的预检挡不住它们
		held, err := predictionTx.FindByRoundAndUser(ctx, round.ID, userID)
		if err != nil {
			return err
		}
		for _, p := range held {
			if p.CarID != carID {
				return apperrors.New(apperrors.ErrCarConflict)
			}
		}

		if err := walletTx.DeductBalance(ctx, userID, stake); err != nil {
			return err
		}
		if err := walletTx.UpdateRaceStatsTx(tx, userID, stake, 0); err != nil {
			return err
		}

		if err := predictionTx.Create(ctx, prediction); err != nil {
			return err
		}

		return walletTx.CreateTransaction(ctx, &models.Transaction{
			UserID:        userID,
			OrderNo:       fmt.Sprintf("BET-%s", uuid.New().String()),
			Type:          "bet",
			Amount:        -stake,
			BeforeBalance: wallet.Balance,
			AfterBalance:  wallet.Balance - stake,
			Status:        "success",
			RefID:         fmt.Sprintf("%d", round.SeqNo),
			RefType:       "race_round",
			Description:   fmt.Sprintf("第%d期竞猜下注", round.SeqNo),
		})
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, apperrors.New(apperrors.ErrInsufficientBalance)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrTransaction)
	}

	s.logger.Info("竞猜下注成功",
		zap.Uint("user_id", userID),
		zap.Uint64("seq_no", round.SeqNo),
		zap.Uint("car_id", carID),
		zap.Int64("amount", stake))

	return prediction, nil
}

// CancelPrediction 撤注：封盘前撤回最近一笔并全额退款
func (s *RaceService) CancelPrediction(ctx context.Context, userID, carID uint) (*models.RacePrediction, error) {
	round, err := s.openPredictingRound(ctx)
	if err != nil {
		return nil, err
	}

	prediction, err := s.predictions.FindLatest(ctx, round.ID, userID, carID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if prediction == nil {
		return nil, apperrors.New(apperrors.ErrPredictionNotFound)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		walletTx := s.wallets.WithTx(tx).(repository.WalletRepository)
		predictionTx := s.predictions.WithTx(tx).(repository.PredictionRepository)

		wallet, err := walletTx.LockForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		if err := predictionTx.Delete(ctx, prediction.ID); err != nil {
			return err
		}
		if err := walletTx.AddBalance(ctx, userID, prediction.Amount); err != nil {
			return err
		}
		if err := walletTx.UpdateRaceStatsTx(tx, userID, -prediction.Amount, 0); err != nil {
			return err
		}

		return walletTx.CreateTransaction(ctx, &models.Transaction{
			UserID:        userID,
			OrderNo:       fmt.Sprintf("RFD-%s", uuid.New().String()),
			Type:          "refund",
			Amount:        prediction.Amount,
			BeforeBalance: wallet.Balance,
			AfterBalance:  wallet.Balance + prediction.Amount,
			Status:        "success",
			RefID:         fmt.Sprintf("%d", round.SeqNo),
			RefType:       "race_round",
			Description:   fmt.Sprintf("第%d期竞猜撤注退款", round.SeqNo),
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransaction)
	}

	s.logger.Info("竞猜撤注成功",
		zap.Uint("user_id", userID),
		zap.Uint64("seq_no", round.SeqNo),
		zap.Uint("car_id", carID))

	return prediction, nil
}

// GetPredictionCounts 当前回合各赛车的竞猜统计
func (s *RaceService) GetPredictionCounts(ctx context.Context) (*PredictionCounts, error) {
	round, err := s.rounds.FindOpen(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if round == nil {
		return nil, apperrors.New(apperrors.ErrRoundNotOpen)
	}

	carCounts, err := s.predictions.CountByCar(ctx, round.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	totalPot, _, err := s.predictions.SumAmount(ctx, round.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	return &PredictionCounts{
		RoundID:   round.ID,
		SeqNo:     round.SeqNo,
		CarCounts: carCounts,
		TotalPot:  totalPot,
	}, nil
}

// RoundView 回合快照（REST查询用）
type RoundView struct {
	RoundID      uint                    `json:"round_id"`
	SeqNo        uint64                  `json:"seq_no"`
	Status       string                  `json:"status"`
	Lanes        interface{}             `json:"lanes"`
	Results      []models.RaceLaneResult `json:"results,omitempty"`
	WinnerCarID  uint                    `json:"winner_car_id,omitempty"`
	PredictEndAt interface{}             `json:"predict_end_at,omitempty"`
	TotalPot     int64                   `json:"total_pot"`
	StakeAmount  int64                   `json:"stake_amount"`
}

// CurrentRound 当前回合快照
// 起跑前只露出每条赛道的第一段地形，起跑后才给完整赛道和结果
func (s *RaceService) CurrentRound(ctx context.Context) (*RoundView, error) {
	round, err := s.rounds.FindOpen(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if round == nil {
		return nil, apperrors.New(apperrors.ErrRoundNotOpen)
	}

	lanes, err := round.GetLanes()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDataIntegrity)
	}

	view := &RoundView{
		RoundID:     round.ID,
		SeqNo:       round.SeqNo,
		Status:      round.Status,
		TotalPot:    round.TotalPot,
		StakeAmount: s.cfg.StakeAmount,
	}
	if round.PredictEndAt != nil {
		view.PredictEndAt = *round.PredictEndAt
	}

	switch round.Status {
	case models.RoundStatusPredicting, models.RoundStatusLocked:
		view.Lanes = maskedLanes(lanes)
	default:
		view.Lanes = lanes
		if results, err := round.GetResults(); err == nil {
			view.Results = results
		}
		view.WinnerCarID = round.WinnerCarID
	}

	return view, nil
}

// MyPredictions 用户历史竞猜（分页）
func (s *RaceService) MyPredictions(ctx context.Context, userID uint, p *repository.Pagination) ([]*models.RacePrediction, error) {
	records, err := s.predictions.FindByUser(ctx, userID, p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return records, nil
}

// RecentRounds 最近已结束的回合
func (s *RaceService) RecentRounds(ctx context.Context, limit int) ([]*models.RaceRound, error) {
	rounds, err := s.rounds.FindRecentFinished(ctx, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return rounds, nil
}
