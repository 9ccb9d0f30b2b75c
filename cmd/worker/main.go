package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/database"
	"github.com/qs3c/punch_coach_server/internal/pipeline/coach"
	"github.com/qs3c/punch_coach_server/internal/pipeline/detection"
	"github.com/qs3c/punch_coach_server/internal/pkg/llm"
	"github.com/qs3c/punch_coach_server/internal/pkg/lock"
	"github.com/qs3c/punch_coach_server/internal/pkg/logger"
	"github.com/qs3c/punch_coach_server/internal/pkg/oss"
	"github.com/qs3c/punch_coach_server/internal/pkg/pose"
	"github.com/qs3c/punch_coach_server/internal/pkg/pubsub"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/repository"
	"github.com/qs3c/punch_coach_server/internal/service"
	"github.com/qs3c/punch_coach_server/internal/worker"
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

	zl, err := logger.FromConfig(cfg.Log, "punch-coach-worker")
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		zl.Fatal("worker.db_connect_failed", zap.Error(err))
	}

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zl.Fatal("worker.redis_connect_failed", zap.Error(err))
	}

	// 姿态数据归档：配置了 OSS 用 OSS，本地目录作为上传失败时的暂存；否则直接落本地
	local, err := oss.NewLocalStore(cfg.Pipeline.PoseDataDir)
	if err != nil {
		zl.Fatal("worker.pose_store_failed", zap.Error(err))
	}
	var (
		store      oss.Store = local
		fallback   oss.Store
		reuploader *worker.Reuploader
	)
	if cfg.OSS.Enabled() {
		client, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			zl.Fatal("worker.oss_init_failed", zap.Error(err))
		}
		store, fallback = client, local
		reuploader = worker.NewReuploader(local, client, zl)
		zl.Info("worker.pose_store", zap.String("backend", "oss"), zap.String("bucket", cfg.OSS.BucketName))
	} else {
		zl.Info("worker.pose_store", zap.String("backend", "local"), zap.String("dir", cfg.Pipeline.PoseDataDir))
	}

	// 姿态估计后端启动时确定，未知后端不回退
	estimator, err := pose.New(cfg.Pose, zl)
	if err != nil {
		zl.Fatal("worker.pose_init_failed", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	analysisRepo := repository.NewAnalysisRepository(db)
	videoRepo := repository.NewVideoRepository(db)
	reportRepo := repository.NewReportRepository(db)
	stampRepo := repository.NewStampRepository(db)

	analysisService := service.NewAnalysisService(analysisRepo, videoRepo, jobQueue, publisher, cfg, zl)

	processor := worker.NewProcessor(worker.Deps{
		Analyses:  analysisService,
		Assembler: service.NewReportAssembler(reportRepo, analysisService, zl),
		VideoRepo: videoRepo,
		StampRepo: stampRepo,
		Estimator: estimator,
		Engine:    detection.NewEngine(detection.DefaultConfig(), zl),
		Coach:     coach.NewOrchestrator(llm.NewOpenAIClient(cfg.LLM, zl), cfg.LLM, zl),
		Store:     store,
		Fallback:  fallback,
		Locker:    lock.NewLocker(rdb, "punch:lock:"),
	}, cfg, zl)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		zl.Info("worker.shutdown_signal")
		cancel()
	}()

	zl.Info("worker.started",
		zap.Int("max_workers", cfg.Queue.MaxWorkers),
		zap.String("queue", cfg.Queue.AnalysisQueue),
		zap.String("pose_backend", estimator.Name()),
	)

	if reuploader != nil {
		go reuploader.Start(ctx)
	}

	worker.Run(ctx, jobQueue, processor, cfg.Queue.MaxWorkers, zl)
	zl.Info("worker.stopped")
}
