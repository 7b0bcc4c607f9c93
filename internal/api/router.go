package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/party-race/internal/config"
	"github.com/wfunc/party-race/internal/game"
	"github.com/wfunc/party-race/internal/middleware"
	"github.com/wfunc/party-race/internal/repository"
	"github.com/wfunc/party-race/internal/service"
	ws "github.com/wfunc/party-race/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterConfig 路由配置
type RouterConfig struct {
	DB          *gorm.DB
	Logger      *zap.Logger
	AuthService service.AuthService
	RaceService *game.RaceService
	Hub         *ws.Hub
	RaceConfig  *config.RaceConfig
}

// SetupRouter 设置路由
func SetupRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthService)

	authHandler := NewAuthHandler(cfg.AuthService)
	raceHandler := NewRaceHandler(cfg.RaceService)
	walletHandler := NewWalletHandler(repository.NewWalletRepository(cfg.DB))
	carHandler := NewCarHandler(repository.NewCarRepository(cfg.DB), cfg.RaceConfig)
	wsHandler := NewWebSocketHandler(cfg.Hub, cfg.Logger)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := cfg.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	v1 := router.Group("/api/v1")
	{
		// 认证
		auth := v1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)

			authed := auth.Group("")
			authed.Use(authMiddleware.RequireAuth())
			{
				authed.POST("/logout", authHandler.Logout)
				authed.POST("/change-password", authHandler.ChangePassword)
			}
		}

		// 竞猜：查询公开，下注需登录
		race := v1.Group("/race")
		{
			race.GET("/current", raceHandler.GetCurrentRound)
			race.GET("/counts", raceHandler.GetPredictionCounts)
			race.GET("/rounds", raceHandler.GetRecentRounds)

			authed := race.Group("")
			authed.Use(authMiddleware.RequireAuth())
			{
				authed.POST("/predictions", raceHandler.PlacePrediction)
				authed.DELETE("/predictions/:car_id", raceHandler.CancelPrediction)
				authed.GET("/predictions", raceHandler.GetMyPredictions)
			}
		}

		// 钱包
		wallet := v1.Group("/wallet")
		wallet.Use(authMiddleware.RequireAuth())
		{
			wallet.GET("/balance", walletHandler.GetBalance)
			wallet.GET("/transactions", walletHandler.GetTransactions)
		}

		// 赛车管理（仅管理员）
		admin := v1.Group("/admin")
		admin.Use(authMiddleware.RequireRole("admin"))
		{
			admin.GET("/cars", carHandler.ListCars)
			admin.POST("/cars", carHandler.CreateCar)
			admin.PUT("/cars/:id", carHandler.UpdateCar)
			admin.PATCH("/cars/:id/active", carHandler.SetCarActive)
		}

		// 在线人数
		v1.GET("/online", wsHandler.GetOnlineCount)
	}

	// WebSocket：游客可连，登录后才能下注
	router.GET("/ws", authMiddleware.OptionalAuth(), wsHandler.HandleConnection)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "接口不存在",
		})
	})

	return router
}

// requestLogger 请求日志中间件
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP请求",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()))
	}
}
