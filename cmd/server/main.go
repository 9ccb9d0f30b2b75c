package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/api"
	"github.com/qs3c/punch_coach_server/internal/api/handler"
	"github.com/qs3c/punch_coach_server/internal/database"
	"github.com/qs3c/punch_coach_server/internal/pkg/cron"
	"github.com/qs3c/punch_coach_server/internal/pkg/logger"
	"github.com/qs3c/punch_coach_server/internal/pkg/oss"
	"github.com/qs3c/punch_coach_server/internal/pkg/pubsub"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/pkg/ws"
	"github.com/qs3c/punch_coach_server/internal/repository"
	"github.com/qs3c/punch_coach_server/internal/service"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.FromConfig(cfg.Log, "punch-coach-server")
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		zl.Fatal("server.db_connect_failed", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		zl.Fatal("server.migrate_failed", zap.Error(err))
	}

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zl.Fatal("server.redis_connect_failed", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)
	subscriber := pubsub.NewSubscriber(rdb)
	wsHub := ws.NewHub(zl)

	// 初始化 Repository
	analysisRepo := repository.NewAnalysisRepository(db)
	videoRepo := repository.NewVideoRepository(db)
	reportRepo := repository.NewReportRepository(db)
	stampRepo := repository.NewStampRepository(db)

	// 初始化 Service
	analysisService := service.NewAnalysisService(analysisRepo, videoRepo, jobQueue, publisher, cfg, zl)
	reportService := service.NewReportService(reportRepo, stampRepo, zl)

	// 初始化 Handler
	analysisHandler := handler.NewAnalysisHandler(analysisService, reportService, zl)
	reportHandler := handler.NewReportHandler(reportService, zl)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// worker 的进度经 Redis 转发到 WebSocket
	go func() {
		forward := handler.ForwardProgress(wsHub, zl)
		for ctx.Err() == nil {
			if err := subscriber.Subscribe(ctx, forward); err != nil && ctx.Err() == nil {
				zl.Warn("server.subscribe_failed", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()

	// 本地姿态数据目录只在未配置 OSS 时需要清理
	var purger cron.Purger
	if !cfg.OSS.Enabled() {
		store, err := oss.NewLocalStore(cfg.Pipeline.PoseDataDir)
		if err != nil {
			zl.Fatal("server.pose_store_failed", zap.Error(err))
		}
		purger = store
	}
	sweeper := cron.NewService(analysisService, purger, cron.Options{
		Timeout:   cfg.Pipeline.ProcessingTimeout(),
		Retention: time.Duration(cfg.Pipeline.PoseDataRetentionHours) * time.Hour,
	}, zl)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	router := api.NewRouter(analysisHandler, reportHandler, websocketHandler, cfg)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		zl.Info("server.started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server.listen_failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	zl.Info("server.shutdown_signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server.shutdown_failed", zap.Error(err))
	}
	zl.Info("server.stopped")
}
