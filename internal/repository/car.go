package repository

import (
	"context"
	"errors"

	"github.com/wfunc/party-race/internal/models"
	"gorm.io/gorm"
)

// CarRepository 赛车仓储接口
type CarRepository interface {
	BaseRepository
	Create(ctx context.Context, car *models.RaceCar) error
	Update(ctx context.Context, car *models.RaceCar) error
	FindByID(ctx context.Context, id uint) (*models.RaceCar, error)
	FindActive(ctx context.Context) ([]*models.RaceCar, error)
	CountActive(ctx context.Context) (int64, error)
	SetActive(ctx context.Context, id uint, active bool) error
	List(ctx context.Context, p *Pagination) ([]*models.RaceCar, error)
}

// carRepo 赛车仓储实现
type carRepo struct {
	*BaseRepo
}

// NewCarRepository 创建赛车仓储
func NewCarRepository(db *gorm.DB) CarRepository {
	return &carRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建赛车
func (r *carRepo) Create(ctx context.Context, car *models.RaceCar) error {
	return r.db.WithContext(ctx).Create(car).Error
}

// Update 更新赛车
func (r *carRepo) Update(ctx context.Context, car *models.RaceCar) error {
	return r.db.WithContext(ctx).Save(car).Error
}

// FindByID 根据ID查找赛车
func (r *carRepo) FindByID(ctx context.Context, id uint) (*models.RaceCar, error) {
	var car models.RaceCar
	err := r.db.WithContext(ctx).First(&car, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("赛车不存在")
		}
		return nil, err
	}
	return &car, nil
}

// FindActive 查找所有可参赛赛车
func (r *carRepo) FindActive(ctx context.Context) ([]*models.RaceCar, error) {
	var cars []*models.RaceCar
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("sort_order, id").
		Find(&cars).Error
	return cars, err
}

// CountActive 统计可参赛赛车数
func (r *carRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RaceCar{}).
		Where("active = ?", true).
		Count(&count).Error
	return count, err
}

// SetActive 设置赛车可参赛状态
func (r *carRepo) SetActive(ctx context.Context, id uint, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.RaceCar{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("赛车不存在")
	}
	return nil
}

// List 分页查询赛车
func (r *carRepo) List(ctx context.Context, p *Pagination) ([]*models.RaceCar, error) {
	var cars []*models.RaceCar

	// 查询总数
	r.db.WithContext(ctx).
		Model(&models.RaceCar{}).
		Count(&p.Total)

	// 查询数据
	err := r.db.WithContext(ctx).
		Order("sort_order, id").
		Scopes(Paginate(p)).
		Find(&cars).Error

	return cars, err
}

// WithTx 使用事务
func (r *carRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &carRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
