package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/database"
	"github.com/qs3c/punch_coach_server/internal/pkg/cron"
	"github.com/qs3c/punch_coach_server/internal/pkg/logger"
	"github.com/qs3c/punch_coach_server/internal/pkg/oss"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/repository"
	"github.com/qs3c/punch_coach_server/internal/service"
)

var (
	dryRun         = flag.Bool("dry-run", true, "Dry run mode, only report what would change")
	timeoutMinutes = flag.Int("timeout-minutes", 0, "Override pipeline.processing_timeout_minutes")
	retentionHours = flag.Int("retention-hours", -1, "Override pipeline.pose_data_retention_hours (0 disables purge)")
)

func main() {
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.FromConfig(cfg.Log, "punch-coach-sweeper")
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	timeout := cfg.Pipeline.ProcessingTimeout()
	if *timeoutMinutes > 0 {
		timeout = time.Duration(*timeoutMinutes) * time.Minute
	}
	retention := time.Duration(cfg.Pipeline.PoseDataRetentionHours) * time.Hour
	if *retentionHours >= 0 {
		retention = time.Duration(*retentionHours) * time.Hour
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		zl.Fatal("sweeper.db_connect_failed", zap.Error(err))
	}
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		zl.Fatal("sweeper.redis_connect_failed", zap.Error(err))
	}

	analysisRepo := repository.NewAnalysisRepository(db)
	analyses := service.NewAnalysisService(
		analysisRepo,
		repository.NewVideoRepository(db),
		queue.NewQueue(rdb, cfg.Queue.AnalysisQueue),
		nil, cfg, zl,
	)

	var purger cron.Purger
	if !cfg.OSS.Enabled() {
		store, err := oss.NewLocalStore(cfg.Pipeline.PoseDataDir)
		if err != nil {
			zl.Fatal("sweeper.pose_store_failed", zap.Error(err))
		}
		purger = store
	}

	ctx := context.Background()

	// dry-run 时只列出会被置为超时失败的分析
	stale := 0
	if *dryRun && timeout > 0 {
		list, err := analysisRepo.ListStale(ctx, time.Now().Add(-timeout))
		if err != nil {
			zl.Fatal("sweeper.list_stale_failed", zap.Error(err))
		}
		for _, a := range list {
			log.Printf("  - analysis %d (%s, queued %s ago)",
				a.ID, a.Status, time.Since(a.QueuedAt).Round(time.Minute))
		}
		stale = len(list)
	}

	svc := cron.NewService(analyses, purger, cron.Options{Timeout: timeout, Retention: retention}, zl)
	res := svc.SweepOnce(ctx, *dryRun)
	if !*dryRun {
		stale = res.TimedOut
	}

	log.Println(strings.Repeat("=", 60))
	log.Println("Sweep Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Stale analyses (timeout %s): %d", timeout, stale)
	log.Printf("Expired pose data files (retention %s): %d", retention, res.Purged)
	if *dryRun {
		log.Println("DRY RUN MODE - nothing was changed, run with -dry-run=false to apply")
	}
	log.Println(strings.Repeat("=", 60))
}
