package game

import (
	"time"

	"github.com/wfunc/party-race/internal/models"
)

// 赛道常量
const (
	SegmentCount   = 3   // 每条赛道段数
	SegmentLength  = 100 // 每段长度（距离单位）
	FinishDistance = SegmentCount * SegmentLength
	LaneCount      = 3 // 每回合赛道数
)

// 广播事件类型
const (
	EventRoundStarted      = "round_started"      // 新回合开始（竞猜开放）
	EventPredictionsLocked = "predictions_locked" // 封盘
	EventRaceStart         = "race_start"         // 起跑
	EventRaceProgress      = "race_progress"      // 比赛进度
	EventRoundFinished     = "round_finished"     // 回合结束（含结算）
)

// Broadcaster 广播网关（由WebSocket Hub适配实现）
type Broadcaster interface {
	BroadcastEvent(event string, payload interface{})
}

// LaneView 赛道视图（round_started 只展示第一段地形，其余遮蔽）
type LaneView struct {
	LaneNo       int      `json:"lane_no"`
	CarID        uint     `json:"car_id"`
	CarName      string   `json:"car_name"`
	Track        []string `json:"track"`
	SegmentCount int      `json:"segment_count"`
}

// RoundStartedPayload 新回合开始事件
type RoundStartedPayload struct {
	RoundID      uint       `json:"round_id"`
	SeqNo        uint64     `json:"seq_no"`
	Lanes        []LaneView `json:"lanes"`
	PredictEndAt time.Time  `json:"predict_end_at"`
	StakeAmount  int64      `json:"stake_amount"`
}

// PredictionsLockedPayload 封盘事件
type PredictionsLockedPayload struct {
	RoundID     uint         `json:"round_id"`
	SeqNo       uint64       `json:"seq_no"`
	CarCounts   map[uint]int `json:"car_counts"`
	TotalPot    int64        `json:"total_pot"`
	RaceStartAt time.Time    `json:"race_start_at"`
}

// RaceStartPayload 起跑事件（完整赛道与模拟结果先行下发）
type RaceStartPayload struct {
	RoundID uint                    `json:"round_id"`
	SeqNo   uint64                  `json:"seq_no"`
	Lanes   []models.RaceLane       `json:"lanes"`
	Results []models.RaceLaneResult `json:"results"`
}

// LaneProgress 单条赛道进度
type LaneProgress struct {
	LaneNo       int     `json:"lane_no"`
	CarID        uint    `json:"car_id"`
	Distance     float64 `json:"distance"`
	Progress     float64 `json:"progress"` // 0-100
	SegmentIndex int     `json:"segment_index"`
}

// RaceProgressPayload 比赛进度事件
type RaceProgressPayload struct {
	RoundID  uint           `json:"round_id"`
	SeqNo    uint64         `json:"seq_no"`
	Lanes    []LaneProgress `json:"lanes"`
	Progress float64        `json:"progress"` // 领先者进度 0-100
}

// RoundFinishedPayload 回合结束事件
type RoundFinishedPayload struct {
	RoundID        uint                    `json:"round_id"`
	SeqNo          uint64                  `json:"seq_no"`
	WinnerCarID    uint                    `json:"winner_car_id"`
	WinnerCarName  string                  `json:"winner_car_name"`
	Results        []models.RaceLaneResult `json:"results"`
	TotalPot       int64                   `json:"total_pot"`
	PlatformFee    int64                   `json:"platform_fee"`
	PayoutPool     int64                   `json:"payout_pool"`
	Count          int                     `json:"count"`
	WinnerCount    int                     `json:"winner_count"`
	PerWagerPayout int64                   `json:"per_wager_payout"`
}

// PredictionCounts 当前各赛车竞猜统计
type PredictionCounts struct {
	RoundID   uint         `json:"round_id"`
	SeqNo     uint64       `json:"seq_no"`
	CarCounts map[uint]int `json:"car_counts"`
	TotalPot  int64        `json:"total_pot"`
}

// maskedLanes 生成只露出第一段地形的赛道视图
func maskedLanes(lanes []models.RaceLane) []LaneView {
	views := make([]LaneView, 0, len(lanes))
	for _, lane := range lanes {
		track := make([]string, 0, 1)
		if len(lane.Track) > 0 {
			track = append(track, lane.Track[0])
		}
		views = append(views, LaneView{
			LaneNo:       lane.LaneNo,
			CarID:        lane.CarID,
			CarName:      lane.CarName,
			Track:        track,
			SegmentCount: len(lane.Track),
		})
	}
	return views
}
