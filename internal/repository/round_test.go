package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/party-race/internal/models"
	"gorm.io/gorm"
)

func createTestRound(t *testing.T, db *gorm.DB, seqNo uint64, status string) *models.RaceRound {
	t.Helper()
	predictEnd := time.Now().Add(15 * time.Second)
	round := &models.RaceRound{
		SeqNo:        seqNo,
		Status:       status,
		PredictEndAt: &predictEnd,
	}
	require.NoError(t, round.SetLanes([]models.RaceLane{
		{LaneNo: 1, CarID: 1, CarName: "闪电", Track: []string{"plain", "plain", "plain"}},
		{LaneNo: 2, CarID: 2, CarName: "沙暴", Track: []string{"desert", "plain", "muddy"}},
		{LaneNo: 3, CarID: 3, CarName: "泥王", Track: []string{"muddy", "desert", "plain"}},
	}))
	require.NoError(t, db.Create(round).Error)
	return round
}

func TestRoundRepository_CreateAndFind(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	round := createTestRound(t, db, 1, models.RoundStatusPredicting)

	found, err := repo.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), found.SeqNo)

	bySeq, err := repo.FindBySeqNo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, round.ID, bySeq.ID)

	lanes, err := found.GetLanes()
	require.NoError(t, err)
	require.Len(t, lanes, 3)
	assert.Equal(t, "闪电", lanes[0].CarName)
}

func TestRoundRepository_FindOpen(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	// 没有回合时返回nil而不是错误
	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	createTestRound(t, db, 1, models.RoundStatusFinished)
	round2 := createTestRound(t, db, 2, models.RoundStatusPredicting)

	open, err = repo.FindOpen(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, round2.ID, open.ID)
}

func TestRoundRepository_NextSeqNo(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	seq, err := repo.NextSeqNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	createTestRound(t, db, 7, models.RoundStatusFinished)

	seq, err = repo.NextSeqNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), seq)
}

func TestRoundRepository_Lock(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	round := createTestRound(t, db, 1, models.RoundStatusPredicting)

	err := repo.Lock(ctx, round.ID, 300, 3)
	require.NoError(t, err)

	locked, err := repo.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusLocked, locked.Status)
	assert.Equal(t, int64(300), locked.TotalPot)
	assert.Equal(t, 3, locked.PredictionCount)

	// 第二次封盘不命中任何行
	err = repo.Lock(ctx, round.ID, 300, 3)
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestRoundRepository_StartRace(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	round := createTestRound(t, db, 1, models.RoundStatusLocked)
	require.NoError(t, round.SetResults([]models.RaceLaneResult{
		{LaneNo: 1, CarID: 1, Position: 1, TotalTime: 3.5, SegmentTimes: []float64{1, 1.5, 1}},
		{LaneNo: 2, CarID: 2, Position: 2, TotalTime: 4.0, SegmentTimes: []float64{1, 1, 2}},
		{LaneNo: 3, CarID: 3, Position: 3, TotalTime: 5.0, SegmentTimes: []float64{2, 2, 1}},
	}))
	round.WinnerCarID = 1

	startAt := time.Now()
	endAt := startAt.Add(8 * time.Second)
	require.NoError(t, repo.StartRace(ctx, round, startAt, endAt))

	racing, err := repo.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusRacing, racing.Status)
	assert.Equal(t, uint(1), racing.WinnerCarID)

	results, err := racing.GetResults()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Position)

	// 重复起跑被拒绝
	err = repo.StartRace(ctx, round, startAt, endAt)
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestRoundRepository_StartRace_WrongPhase(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	// 未封盘不能起跑
	round := createTestRound(t, db, 1, models.RoundStatusPredicting)
	err := repo.StartRace(ctx, round, time.Now(), time.Now().Add(8*time.Second))
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestRoundRepository_Finish(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	round := createTestRound(t, db, 1, models.RoundStatusRacing)

	totals := &RoundTotals{
		WinnerCarID: 2,
		TotalPot:    300,
		PlatformFee: 15,
		PayoutPool:  285,
		Count:       3,
		EndedAt:     time.Now(),
	}
	require.NoError(t, repo.Finish(db, round.ID, totals))

	finished, err := repo.FindByID(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusFinished, finished.Status)
	assert.Equal(t, uint(2), finished.WinnerCarID)
	assert.Equal(t, int64(285), finished.PayoutPool)

	// 重复结算不命中任何行（不会重复派奖）
	err = repo.Finish(db, round.ID, totals)
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestRoundRepository_FindRecentFinished(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewRoundRepository(db)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		createTestRound(t, db, i, models.RoundStatusFinished)
	}
	createTestRound(t, db, 6, models.RoundStatusPredicting)

	rounds, err := repo.FindRecentFinished(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rounds, 3)

	// 按期号倒序，且不含未结束的回合
	assert.Equal(t, uint64(5), rounds[0].SeqNo)
	assert.Equal(t, uint64(4), rounds[1].SeqNo)
	assert.Equal(t, uint64(3), rounds[2].SeqNo)
}
