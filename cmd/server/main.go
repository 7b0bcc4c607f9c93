package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/party-race/internal/api"
	"github.com/wfunc/party-race/internal/config"
	"github.com/wfunc/party-race/internal/database"
	"github.com/wfunc/party-race/internal/game"
	"github.com/wfunc/party-race/internal/logger"
	"github.com/wfunc/party-race/internal/repository"
	"github.com/wfunc/party-race/internal/service"
	"github.com/wfunc/party-race/internal/utils"
	ws "github.com/wfunc/party-race/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	log.Info("正在启动竞猜赛车服务器",
		zap.String("version", Version),
		zap.String("mode", cfg.Server.Mode))

	if err := run(cfg, log); err != nil {
		log.Fatal("服务器异常退出", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

func run(cfg *config.Config, log *zap.Logger) error {
	// 初始化数据库
	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	db := database.GetDB()

	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 认证
	jwtManager := utils.NewJWTManager(
		cfg.Security.JWT.Secret,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour,
		time.Duration(cfg.Security.JWT.RefreshHours)*time.Hour,
	)
	authService := service.NewAuthService(
		db,
		repository.NewUserRepository(db),
		repository.NewWalletRepository(db),
		jwtManager,
		log,
	)

	// 观众门控与WebSocket集线器
	presence := game.NewPresenceGate(log)
	hub := ws.NewHub(log, presence)
	go hub.Run()

	// 竞猜服务
	raceService := game.NewRaceService(db, log, nil, &cfg.Race)
	hub.SetMessageHandler(ws.NewRaceHandler(raceService, log))

	// 比赛调度器
	scheduler := game.NewScheduler(&game.SchedulerConfig{
		DB:          db,
		Logger:      log,
		Race:        &cfg.Race,
		Broadcaster: hub,
		Presence:    presence,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// HTTP路由
	router := api.SetupRouter(&api.RouterConfig{
		DB:          db,
		Logger:      log,
		AuthService: authService,
		RaceService: raceService,
		Hub:         hub,
		RaceConfig:  &cfg.Race,
	})

	// 配置热更新只记录，进行中的回合不受影响
	config.Watch(func(newCfg *config.Config) {
		log.Info("配置已重新加载", zap.String("mode", newCfg.Server.Mode))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP服务已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP服务异常: %w", err)
	case sig := <-sigCh:
		log.Info("收到退出信号", zap.String("signal", sig.String()))
	}

	// 优雅关闭：先停止调度器，再关HTTP
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP关闭超时: %w", err)
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("竞猜赛车服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
