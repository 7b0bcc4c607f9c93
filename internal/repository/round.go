package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/party-race/internal/models"
	"gorm.io/gorm"
)

// 仓储层哨兵错误
var (
	// ErrStaleTransition 状态转换未命中任何行（已被其他路径推进）
	ErrStaleTransition = errors.New("回合状态已变更")
)

// RoundRepository 比赛回合仓储接口
type RoundRepository interface {
	BaseRepository
	Create(ctx context.Context, round *models.RaceRound) error
	FindByID(ctx context.Context, id uint) (*models.RaceRound, error)
	FindBySeqNo(ctx context.Context, seqNo uint64) (*models.RaceRound, error)
	FindOpen(ctx context.Context) (*models.RaceRound, error)
	NextSeqNo(ctx context.Context) (uint64, error)
	Lock(ctx context.Context, roundID uint, totalPot int64, count int) error
	StartRace(ctx context.Context, round *models.RaceRound, startAt, endAt time.Time) error
	Finish(tx *gorm.DB, roundID uint, totals *RoundTotals) error
	FindRecentFinished(ctx context.Context, limit int) ([]*models.RaceRound, error)
}

// RoundTotals 回合结算汇总
type RoundTotals struct {
	WinnerCarID uint
	TotalPot    int64
	PlatformFee int64
	PayoutPool  int64
	Count       int
	EndedAt     time.Time
}

// roundRepo 比赛回合仓储实现
type roundRepo struct {
	*BaseRepo
}

// NewRoundRepository 创建比赛回合仓储
func NewRoundRepository(db *gorm.DB) RoundRepository {
	return &roundRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建回合
func (r *roundRepo) Create(ctx context.Context, round *models.RaceRound) error {
	return r.db.WithContext(ctx).Create(round).Error
}

// FindByID 根据ID查找回合
func (r *roundRepo) FindByID(ctx context.Context, id uint) (*models.RaceRound, error) {
	var round models.RaceRound
	err := r.db.WithContext(ctx).First(&round, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("回合不存在")
		}
		return nil, err
	}
	return &round, nil
}

// FindBySeqNo 根据期号查找回合
func (r *roundRepo) FindBySeqNo(ctx context.Context, seqNo uint64) (*models.RaceRound, error) {
	var round models.RaceRound
	err := r.db.WithContext(ctx).Where("seq_no = ?", seqNo).First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("回合不存在")
		}
		return nil, err
	}
	return &round, nil
}

// FindOpen 查找未结束的回合（若存在，调度器直接接管而不再新建）
func (r *roundRepo) FindOpen(ctx context.Context) (*models.RaceRound, error) {
	var round models.RaceRound
	err := r.db.WithContext(ctx).
		Where("status != ?", models.RoundStatusFinished).
		Order("seq_no DESC").
		First(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &round, nil
}

// NextSeqNo 计算下一期号（严格递增）
func (r *roundRepo) NextSeqNo(ctx context.Context) (uint64, error) {
	var maxSeq uint64
	err := r.db.WithContext(ctx).
		Model(&models.RaceRound{}).
		Select("COALESCE(MAX(seq_no), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// Lock 封盘：predicting → locked，冻结投注汇总
// WHERE 带状态条件保证同一回合只封盘一次
func (r *roundRepo) Lock(ctx context.Context, roundID uint, totalPot int64, count int) error {
	result := r.db.WithContext(ctx).
		Model(&models.RaceRound{}).
		Where("id = ? AND status = ?", roundID, models.RoundStatusPredicting).
		Updates(map[string]interface{}{
			"status":           models.RoundStatusLocked,
			"total_pot":        totalPot,
			"prediction_count": count,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// StartRace 起跑：locked → racing，并持久化模拟结果
func (r *roundRepo) StartRace(ctx context.Context, round *models.RaceRound, startAt, endAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.RaceRound{}).
		Where("id = ? AND status = ?", round.ID, models.RoundStatusLocked).
		Updates(map[string]interface{}{
			"status":        models.RoundStatusRacing,
			"result_data":   round.ResultData,
			"winner_car_id": round.WinnerCarID,
			"race_start_at": startAt,
			"race_end_at":   endAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// Finish 结束：racing → finished，写入结算汇总
// WHERE 带状态条件保证同一回合至多结束一次（不能重复派奖）
func (r *roundRepo) Finish(tx *gorm.DB, roundID uint, totals *RoundTotals) error {
	result := tx.Model(&models.RaceRound{}).
		Where("id = ? AND status = ?", roundID, models.RoundStatusRacing).
		Updates(map[string]interface{}{
			"status":           models.RoundStatusFinished,
			"winner_car_id":    totals.WinnerCarID,
			"total_pot":        totals.TotalPot,
			"platform_fee":     totals.PlatformFee,
			"payout_pool":      totals.PayoutPool,
			"prediction_count": totals.Count,
			"race_end_at":      totals.EndedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// FindRecentFinished 查找最近结束的回合
func (r *roundRepo) FindRecentFinished(ctx context.Context, limit int) ([]*models.RaceRound, error) {
	var rounds []*models.RaceRound
	err := r.db.WithContext(ctx).
		Where("status = ?", models.RoundStatusFinished).
		Order("seq_no DESC").
		Limit(limit).
		Find(&rounds).Error
	return rounds, err
}

// WithTx 使用事务
func (r *roundRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &roundRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
