package game

import (
	"math"

	"github.com/wfunc/party-race/internal/models"
)

// PayoutResult 派奖计算结果
type PayoutResult struct {
	TotalPot       int64 // 总奖池
	PlatformFee    int64 // 平台抽成
	PayoutPool     int64 // 可分配奖池
	WinnerCount    int   // 中奖笔数
	PerWagerPayout int64 // 每笔中奖派奖（等额均分）
}

// CalcPayout 纯函数：根据总投注额与中奖笔数计算派奖
// 派奖按"每笔中奖竞猜等额均分"执行，整数除法的余数不派发
// 无人中奖时奖池不派发，所有字段如实反映
func CalcPayout(totalPot int64, feeRate float64, winnerCount int) PayoutResult {
	fee := int64(math.Round(float64(totalPot) * feeRate))
	pool := totalPot - fee

	result := PayoutResult{
		TotalPot:    totalPot,
		PlatformFee: fee,
		PayoutPool:  pool,
		WinnerCount: winnerCount,
	}

	if winnerCount > 0 {
		result.PerWagerPayout = pool / int64(winnerCount)
	}

	return result
}

// UserCredit 单个用户应得的派奖汇总
type UserCredit struct {
	UserID uint
	Amount int64
	Count  int // 中奖笔数
}

// SettlePredictions 纯函数：标记每笔竞猜的输赢并汇总每个用户应得派奖
// 每个用户的派奖合并为一次原子入账
func SettlePredictions(predictions []*models.RacePrediction, winnerCarID uint, perWagerPayout int64) []UserCredit {
	credits := make(map[uint]*UserCredit)
	order := make([]uint, 0)

	for _, p := range predictions {
		if p.CarID == winnerCarID {
			p.Outcome = models.PredictionWon
			p.Payout = perWagerPayout

			credit, ok := credits[p.UserID]
			if !ok {
				credit = &UserCredit{UserID: p.UserID}
				credits[p.UserID] = credit
				order = append(order, p.UserID)
			}
			credit.Amount += perWagerPayout
			credit.Count++
		} else {
			p.Outcome = models.PredictionLost
			p.Payout = 0
		}
	}

	// 保持稳定顺序，便于测试与日志比对
	result := make([]UserCredit, 0, len(order))
	for _, userID := range order {
		result = append(result, *credits[userID])
	}
	return result
}

// CountWinners 统计押中冠军的竞猜笔数
func CountWinners(predictions []*models.RacePrediction, winnerCarID uint) int {
	count := 0
	for _, p := range predictions {
		if p.CarID == winnerCarID {
			count++
		}
	}
	return count
}
