package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/wfunc/party-race/internal/middleware"
	ws "github.com/wfunc/party-race/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket连接处理器
type WebSocketHandler struct {
	hub    *ws.Hub
	logger *zap.Logger

	upgrader gorillaws.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection 升级WebSocket连接
// 未登录也允许连接（观众模式），userID为0
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	client.RoomID = c.Query("room_id")

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// GetOnlineCount 获取在线人数
func (h *WebSocketHandler) GetOnlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online": h.hub.GetOnlineCount(),
	})
}
