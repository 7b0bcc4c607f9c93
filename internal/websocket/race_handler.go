package websocket

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/wfunc/party-race/internal/errors"
	"github.com/wfunc/party-race/internal/game"
	"go.uber.org/zap"
)

// RaceHandler 处理竞猜相关的客户端消息
type RaceHandler struct {
	service *game.RaceService
	logger  *zap.Logger
}

// NewRaceHandler 创建竞猜消息处理器
func NewRaceHandler(service *game.RaceService, logger *zap.Logger) *RaceHandler {
	return &RaceHandler{
		service: service,
		logger:  logger,
	}
}

// predictionRequest 下注/撤注请求
type predictionRequest struct {
	CarID uint `json:"car_id"`
}

// HandleClientMessage 实现 MessageHandler
func (h *RaceHandler) HandleClientMessage(client *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Error("解析竞猜消息失败",
			zap.String("client_id", client.ID),
			zap.Error(err))
		client.sendError("消息格式错误")
		client.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Type {
	case MessageTypePong:
		// 心跳响应

	case MessageTypePlacePrediction:
		h.handlePlace(ctx, client, msg.Data)

	case MessageTypeCancelPrediction:
		h.handleCancel(ctx, client, msg.Data)

	case MessageTypePredictionCounts:
		h.handleCounts(ctx, client)

	case MessageTypeCurrentRound:
		h.handleCurrentRound(ctx, client)

	default:
		h.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", client.ID),
			zap.String("type", msg.Type))
		client.sendError("不支持的消息类型: " + msg.Type)
	}
}

// handlePlace 下注
func (h *RaceHandler) handlePlace(ctx context.Context, client *Client, data json.RawMessage) {
	if client.UserID == 0 {
		h.sendAppError(client, apperrors.New(apperrors.ErrAuthentication))
		return
	}

	var req predictionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.CarID == 0 {
		h.sendAppError(client, apperrors.New(apperrors.ErrInvalidParam))
		return
	}

	prediction, err := h.service.PlacePrediction(ctx, client.UserID, req.CarID, client.RoomID)
	if err != nil {
		h.sendAppError(client, err)
		return
	}

	client.SendMessage(MessageTypePredictionPlaced, prediction)
}

// handleCancel 撤注
func (h *RaceHandler) handleCancel(ctx context.Context, client *Client, data json.RawMessage) {
	if client.UserID == 0 {
		h.sendAppError(client, apperrors.New(apperrors.ErrAuthentication))
		return
	}

	var req predictionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.CarID == 0 {
		h.sendAppError(client, apperrors.New(apperrors.ErrInvalidParam))
		return
	}

	prediction, err := h.service.CancelPrediction(ctx, client.UserID, req.CarID)
	if err != nil {
		h.sendAppError(client, err)
		return
	}

	client.SendMessage(MessageTypePredictionCanceled, prediction)
}

// handleCounts 查询当前回合竞猜统计
func (h *RaceHandler) handleCounts(ctx context.Context, client *Client) {
	counts, err := h.service.GetPredictionCounts(ctx)
	if err != nil {
		h.sendAppError(client, err)
		return
	}
	client.SendMessage(MessageTypePredictionCounts, counts)
}

// handleCurrentRound 查询当前回合快照
func (h *RaceHandler) handleCurrentRound(ctx context.Context, client *Client) {
	view, err := h.service.CurrentRound(ctx)
	if err != nil {
		h.sendAppError(client, err)
		return
	}
	client.SendMessage(MessageTypeCurrentRound, view)
}

// sendAppError 把业务错误按错误码下发
func (h *RaceHandler) sendAppError(client *Client, err error) {
	code := apperrors.GetCode(err)
	payload, _ := json.Marshal(map[string]interface{}{
		"code":  code,
		"error": err.Error(),
	})
	client.SendMessage(MessageTypeError, json.RawMessage(payload))
}
