package models

import (
	"time"
)

// Wallet 用户钱包表
type Wallet struct {
	BaseModel
	UserID       uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance      int64     `gorm:"default:0" json:"balance"` // 余额（分）
	TotalBet     int64     `gorm:"default:0" json:"total_bet"`
	TotalWin     int64     `gorm:"default:0" json:"total_win"`
	TotalDeposit int64     `gorm:"default:0" json:"total_deposit"`
	LastResetAt  time.Time `json:"last_reset_at"`

	// 关联（注意：不直接嵌入 User，避免循环依赖）
	// 查询时使用 Preload("User") 来加载用户信息
}

// WalletTransaction 是 Transaction 的别名，用于兼容性
type WalletTransaction = Transaction

// Transaction 交易记录表
type Transaction struct {
	BaseModel
	UserID        uint    `gorm:"not null;index" json:"user_id"`
	OrderNo       string  `gorm:"uniqueIndex;size:64;not null" json:"order_no"`
	Type          string  `gorm:"size:50;not null;index" json:"type"` // bet, win, refund, deposit
	Amount        int64   `gorm:"not null" json:"amount"`
	BeforeBalance int64   `json:"before_balance"`
	AfterBalance  int64   `json:"after_balance"`
	Status        string  `gorm:"size:20;default:'pending';index" json:"status"` // pending, success, failed
	RefID         string  `gorm:"size:100;index" json:"ref_id"`                  // 关联ID（回合ID等）
	RefType       string  `gorm:"size:50" json:"ref_type"`
	Description   string  `gorm:"size:500" json:"description"`
	Metadata      JSONMap `gorm:"type:json" json:"metadata"`
}
