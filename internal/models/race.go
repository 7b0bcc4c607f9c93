package models

import (
	"encoding/json"
	"time"
)

// 地形类型
const (
	TerrainPlain  = "plain"  // 平地
	TerrainDesert = "desert" // 沙漠
	TerrainMuddy  = "muddy"  // 泥地
)

// 回合状态
const (
	RoundStatusPredicting = "predicting" // 竞猜中
	RoundStatusLocked     = "locked"     // 已封盘（倒计时）
	RoundStatusRacing     = "racing"     // 比赛中
	RoundStatusFinished   = "finished"   // 已结束
)

// 竞猜结算结果
const (
	PredictionPending = "pending" // 未结算
	PredictionWon     = "won"     // 赢
	PredictionLost    = "lost"    // 输
)

// RaceCar 赛车表（三种地形各有速度属性）
type RaceCar struct {
	BaseModel
	Name        string `gorm:"size:100;not null" json:"name"`
	Icon        string `gorm:"size:255" json:"icon"`
	SpeedPlain  int    `gorm:"not null" json:"speed_plain"`  // 平地速度 1-100
	SpeedDesert int    `gorm:"not null" json:"speed_desert"` // 沙漠速度 1-100
	SpeedMuddy  int    `gorm:"not null" json:"speed_muddy"`  // 泥地速度 1-100
	Active      bool   `gorm:"default:true;index" json:"active"`
	SortOrder   int    `gorm:"default:0" json:"sort_order"`
}

// SpeedFor 返回指定地形的速度
func (c *RaceCar) SpeedFor(terrain string) int {
	switch terrain {
	case TerrainDesert:
		return c.SpeedDesert
	case TerrainMuddy:
		return c.SpeedMuddy
	default:
		return c.SpeedPlain
	}
}

// RaceLane 回合内的一条赛道分配（序列化存储在 RaceRound.LaneData）
type RaceLane struct {
	LaneNo  int      `json:"lane_no"` // 赛道号 1-3
	CarID   uint     `json:"car_id"`
	CarName string   `json:"car_name"`
	Track   []string `json:"track"` // 每段地形，固定3段
}

// RaceLaneResult 单条赛道的模拟结果（序列化存储在 RaceRound.ResultData）
type RaceLaneResult struct {
	LaneNo       int       `json:"lane_no"`
	CarID        uint      `json:"car_id"`
	SegmentTimes []float64 `json:"segment_times"` // 每段耗时（秒）
	TotalTime    float64   `json:"total_time"`    // 总耗时（秒）
	Position     int       `json:"position"`      // 名次 1-3
}

// RaceRound 比赛回合表（一局游戏的聚合根）
type RaceRound struct {
	BaseModel
	SeqNo           uint64     `gorm:"uniqueIndex;not null" json:"seq_no"` // 期号，递增
	Status          string     `gorm:"size:20;default:'predicting';index" json:"status"`
	LaneData        string     `gorm:"type:text" json:"-"` // JSON格式的赛道分配
	ResultData      string     `gorm:"type:text" json:"-"` // JSON格式的模拟结果
	PredictEndAt    *time.Time `json:"predict_end_at,omitempty"`
	RaceStartAt     *time.Time `json:"race_start_at,omitempty"`
	RaceEndAt       *time.Time `json:"race_end_at,omitempty"`
	WinnerCarID     uint       `gorm:"default:0" json:"winner_car_id"`
	TotalPot        int64      `gorm:"default:0" json:"total_pot"`
	PlatformFee     int64      `gorm:"default:0" json:"platform_fee"`
	PayoutPool      int64      `gorm:"default:0" json:"payout_pool"`
	PredictionCount int        `gorm:"default:0" json:"prediction_count"`
}

// TableName 指定表名
func (RaceRound) TableName() string {
	return "race_rounds"
}

// IsFinished 检查回合是否已结束
func (r *RaceRound) IsFinished() bool {
	return r.Status == RoundStatusFinished
}

// IsPredicting 检查回合是否处于竞猜阶段
func (r *RaceRound) IsPredicting() bool {
	return r.Status == RoundStatusPredicting
}

// SetLanes 序列化赛道分配
func (r *RaceRound) SetLanes(lanes []RaceLane) error {
	data, err := json.Marshal(lanes)
	if err != nil {
		return err
	}
	r.LaneData = string(data)
	return nil
}

// GetLanes 反序列化赛道分配
func (r *RaceRound) GetLanes() ([]RaceLane, error) {
	if r.LaneData == "" {
		return nil, nil
	}
	var lanes []RaceLane
	if err := json.Unmarshal([]byte(r.LaneData), &lanes); err != nil {
		return nil, err
	}
	return lanes, nil
}

// SetResults 序列化模拟结果
func (r *RaceRound) SetResults(results []RaceLaneResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	r.ResultData = string(data)
	return nil
}

// GetResults 反序列化模拟结果
func (r *RaceRound) GetResults() ([]RaceLaneResult, error) {
	if r.ResultData == "" {
		return nil, nil
	}
	var results []RaceLaneResult
	if err := json.Unmarshal([]byte(r.ResultData), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// RacePrediction 竞猜记录表
type RacePrediction struct {
	BaseModel
	RoundID uint   `gorm:"not null;index:idx_round_user;index" json:"round_id"`
	UserID  uint   `gorm:"not null;index:idx_round_user" json:"user_id"`
	CarID   uint   `gorm:"not null;index" json:"car_id"`
	Amount  int64  `gorm:"not null" json:"amount"` // 单注金额（固定）
	Outcome string `gorm:"size:20;default:'pending';index" json:"outcome"`
	Payout  int64  `gorm:"default:0" json:"payout"`
	RoomID  string `gorm:"size:64" json:"room_id"` // 发起房间（可选）
}

// TableName 指定表名
func (RacePrediction) TableName() string {
	return "race_predictions"
}

// IsSettled 检查竞猜是否已结算
func (p *RacePrediction) IsSettled() bool {
	return p.Outcome != PredictionPending
}
