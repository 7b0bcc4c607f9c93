package repository

import (
	"context"
	"errors"

	"github.com/wfunc/party-race/internal/models"
	"gorm.io/gorm"
)

// PredictionRepository 竞猜记录仓储接口
type PredictionRepository interface {
	BaseRepository
	Create(ctx context.Context, prediction *models.RacePrediction) error
	FindByRound(ctx context.Context, roundID uint) ([]*models.RacePrediction, error)
	FindByRoundAndUser(ctx context.Context, roundID, userID uint) ([]*models.RacePrediction, error)
	FindLatest(ctx context.Context, roundID, userID, carID uint) (*models.RacePrediction, error)
	Delete(ctx context.Context, id uint) error
	CountByCar(ctx context.Context, roundID uint) (map[uint]int, error)
	SumAmount(ctx context.Context, roundID uint) (int64, int, error)
	SettleTx(tx *gorm.DB, id uint, outcome string, payout int64) error
	FindByUser(ctx context.Context, userID uint, p *Pagination) ([]*models.RacePrediction, error)
}

// predictionRepo 竞猜记录仓储实现
type predictionRepo struct {
	*BaseRepo
}

// NewPredictionRepository 创建竞猜记录仓储
func NewPredictionRepository(db *gorm.DB) PredictionRepository {
	return &predictionRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建竞猜记录
func (r *predictionRepo) Create(ctx context.Context, prediction *models.RacePrediction) error {
	return r.db.WithContext(ctx).Create(prediction).Error
}

// FindByRound 查找回合全部竞猜记录
func (r *predictionRepo) FindByRound(ctx context.Context, roundID uint) ([]*models.RacePrediction, error) {
	var predictions []*models.RacePrediction
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("id").
		Find(&predictions).Error
	return predictions, err
}

// FindByRoundAndUser 查找某用户在回合内的竞猜记录
func (r *predictionRepo) FindByRoundAndUser(ctx context.Context, roundID, userID uint) ([]*models.RacePrediction, error) {
	var predictions []*models.RacePrediction
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND user_id = ?", roundID, userID).
		Order("id").
		Find(&predictions).Error
	return predictions, err
}

// FindLatest 查找某用户对某赛车最近的一笔竞猜（用于撤单）
// 没有记录时返回 nil 而不是错误
func (r *predictionRepo) FindLatest(ctx context.Context, roundID, userID, carID uint) (*models.RacePrediction, error) {
	var prediction models.RacePrediction
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND user_id = ? AND car_id = ?", roundID, userID, carID).
		Order("id DESC").
		First(&prediction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &prediction, nil
}

// Delete 删除竞猜记录（仅竞猜阶段撤单使用，物理删除）
func (r *predictionRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Unscoped().Delete(&models.RacePrediction{}, id).Error
}

// CountByCar 按赛车统计回合内竞猜数
func (r *predictionRepo) CountByCar(ctx context.Context, roundID uint) (map[uint]int, error) {
	type carCount struct {
		CarID uint
		Count int
	}
	var rows []carCount
	err := r.db.WithContext(ctx).
		Model(&models.RacePrediction{}).
		Select("car_id, COUNT(*) as count").
		Where("round_id = ?", roundID).
		Group("car_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[uint]int, len(rows))
	for _, row := range rows {
		counts[row.CarID] = row.Count
	}
	return counts, nil
}

// SumAmount 统计回合总投注额与笔数
func (r *predictionRepo) SumAmount(ctx context.Context, roundID uint) (int64, int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.RacePrediction{}).
		Where("round_id = ?", roundID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, 0, err
	}

	var count int64
	err = r.db.WithContext(ctx).
		Model(&models.RacePrediction{}).
		Where("round_id = ?", roundID).
		Count(&count).Error
	if err != nil {
		return 0, 0, err
	}

	return total, int(count), nil
}

// SettleTx 在事务中结算单笔竞猜
// WHERE 带 pending 条件保证每笔竞猜至多结算一次
func (r *predictionRepo) SettleTx(tx *gorm.DB, id uint, outcome string, payout int64) error {
	result := tx.Model(&models.RacePrediction{}).
		Where("id = ? AND outcome = ?", id, models.PredictionPending).
		Updates(map[string]interface{}{
			"outcome": outcome,
			"payout":  payout,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// FindByUser 分页查询用户竞猜历史
func (r *predictionRepo) FindByUser(ctx context.Context, userID uint, p *Pagination) ([]*models.RacePrediction, error) {
	var predictions []*models.RacePrediction

	// 查询总数
	r.db.WithContext(ctx).
		Model(&models.RacePrediction{}).
		Where("user_id = ?", userID).
		Count(&p.Total)

	// 查询数据
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scopes(Paginate(p)).
		Find(&predictions).Error

	return predictions, err
}

// WithTx 使用事务
func (r *predictionRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &predictionRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
