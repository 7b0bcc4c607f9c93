package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/party-race/internal/game"
	"github.com/wfunc/party-race/internal/middleware"
	"github.com/wfunc/party-race/internal/repository"
)

// RaceHandler 竞猜REST处理器
type RaceHandler struct {
	service *game.RaceService
}

// NewRaceHandler 创建竞猜处理器
func NewRaceHandler(service *game.RaceService) *RaceHandler {
	return &RaceHandler{service: service}
}

// PredictionRequest 下注/撤注请求
type PredictionRequest struct {
	CarID  uint   `json:"car_id" binding:"required"`
	RoomID string `json:"room_id"`
}

// GetCurrentRound 获取当前回合快照
func (h *RaceHandler) GetCurrentRound(c *gin.Context) {
	view, err := h.service.CurrentRound(c.Request.Context())
	if err != nil {
		respondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetPredictionCounts 获取当前回合竞猜统计
func (h *RaceHandler) GetPredictionCounts(c *gin.Context) {
	counts, err := h.service.GetPredictionCounts(c.Request.Context())
	if err != nil {
		respondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// PlacePrediction 下注
func (h *RaceHandler) PlacePrediction(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "未登录",
		})
		return
	}

	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	prediction, err := h.service.PlacePrediction(c.Request.Context(), userID, req.CarID, req.RoomID)
	if err != nil {
		respondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, prediction)
}

// CancelPrediction 撤注
func (h *RaceHandler) CancelPrediction(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "未登录",
		})
		return
	}

	carID, err := strconv.ParseUint(c.Param("car_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "赛车ID无效",
		})
		return
	}

	prediction, err := h.service.CancelPrediction(c.Request.Context(), userID, uint(carID))
	if err != nil {
		respondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, prediction)
}

// GetMyPredictions 获取我的竞猜记录（分页）
func (h *RaceHandler) GetMyPredictions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "未登录",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	p := repository.NewPagination(page, pageSize)

	records, err := h.service.MyPredictions(c.Request.Context(), userID, p)
	if err != nil {
		respondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records":    records,
		"pagination": p,
	})
}

// GetRecentRounds 获取最近已结束的回合
func (h *RaceHandler) GetRecentRounds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	rounds, err := h.service.RecentRounds(c.Request.Context(), limit)
	if err != nil {
		respondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}
