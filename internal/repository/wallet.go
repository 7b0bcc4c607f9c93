package repository

import (
	"context"
	"errors"

	"github.com/wfunc/party-race/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientBalance 余额不足以扣减
var ErrInsufficientBalance = errors.New("余额不足")

// WalletRepository 钱包仓储接口
type WalletRepository interface {
	BaseRepository
	Create(ctx context.Context, wallet *models.Wallet) error
	FindByUserID(ctx context.Context, userID uint) (*models.Wallet, error)
	AddBalance(ctx context.Context, userID uint, amount int64) error
	DeductBalance(ctx context.Context, userID uint, amount int64) error
	LockForUpdate(ctx context.Context, userID uint) (*models.Wallet, error)
	UpdateRaceStatsTx(tx *gorm.DB, userID uint, betAmount, winAmount int64) error
	CreateTransaction(ctx context.Context, transaction *models.WalletTransaction) error
	FindTransactions(ctx context.Context, userID uint, p *Pagination) ([]*models.WalletTransaction, error)
}

// walletRepo 钱包仓储实现
type walletRepo struct {
	*BaseRepo
}

// NewWalletRepository 创建钱包仓储
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建钱包
func (r *walletRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

// FindByUserID 根据用户ID查找钱包
func (r *walletRepo) FindByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("钱包不存在")
		}
		return nil, err
	}
	return &wallet, nil
}

// AddBalance 增加余额
func (r *walletRepo) AddBalance(ctx context.Context, userID uint, amount int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

// DeductBalance 扣减余额（余额不足时整体失败）
func (r *walletRepo) DeductBalance(ctx context.Context, userID uint, amount int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}

	return nil
}

// LockForUpdate 锁定钱包用于更新（悲观锁）
func (r *walletRepo) LockForUpdate(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("钱包不存在")
		}
		return nil, err
	}
	return &wallet, nil
}

// UpdateRaceStatsTx 在事务中更新竞猜统计
func (r *walletRepo) UpdateRaceStatsTx(tx *gorm.DB, userID uint, betAmount, winAmount int64) error {
	updates := map[string]interface{}{
		"total_bet": gorm.Expr("total_bet + ?", betAmount),
		"total_win": gorm.Expr("total_win + ?", winAmount),
	}

	result := tx.Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return errors.New("钱包不存在")
	}

	return nil
}

// CreateTransaction 创建交易记录
func (r *walletRepo) CreateTransaction(ctx context.Context, transaction *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

// FindTransactions 分页查询用户交易记录
func (r *walletRepo) FindTransactions(ctx context.Context, userID uint, p *Pagination) ([]*models.WalletTransaction, error) {
	var transactions []*models.WalletTransaction

	query := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("user_id = ?", userID)

	if err := query.Count(&p.Total).Error; err != nil {
		return nil, err
	}

	err := query.Scopes(Paginate(p)).
		Order("id DESC").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}

	return transactions, nil
}

// WithTx 使用事务
func (r *walletRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &walletRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
