package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StaleSweeper 把超时未结束的分析标记为失败
type StaleSweeper interface {
	FailStaleAnalyses(ctx context.Context, timeout time.Duration) (int, error)
}

// Purger 清理本地归档的过期姿态数据
type Purger interface {
	PurgeOlderThan(cutoff time.Time, dryRun bool) (int, error)
}

type Options struct {
	// Timeout 分析允许停留在非终态的最长时间
	Timeout time.Duration
	// Retention 本地姿态数据保留时长，0 表示不清理
	Retention time.Duration
	// Interval 巡检周期
	Interval time.Duration
}

type Service struct {
	sweeper  StaleSweeper
	purger   Purger
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewService purger 可为 nil（使用 OSS 时本地无归档）
func NewService(sweeper StaleSweeper, purger Purger, opts Options, logger *zap.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Service{
		sweeper:  sweeper,
		purger:   purger,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 启动定时巡检，重复调用无效
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started = true
		go s.run(ctx)
		s.logger.Info("cron.started",
			zap.Duration("interval", s.opts.Interval),
			zap.Duration("timeout", s.opts.Timeout),
			zap.Duration("retention", s.opts.Retention),
		)
	})
}

// Stop 停止并等待当前一轮结束，未启动时直接返回
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.started {
			<-s.done
		}
		s.logger.Info("cron.stopped")
	})
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx, false)
		}
	}
}

// SweepResult 一轮巡检的结果
type SweepResult struct {
	TimedOut int
	Purged   int
}

// SweepOnce 执行一轮：超时分析置失败，过期姿态数据删除；dryRun 只统计不删除
func (s *Service) SweepOnce(ctx context.Context, dryRun bool) SweepResult {
	var res SweepResult

	if s.opts.Timeout > 0 && !dryRun {
		n, err := s.sweeper.FailStaleAnalyses(ctx, s.opts.Timeout)
		if err != nil {
			s.logger.Error("cron.sweep_stale_failed", zap.Error(err))
		}
		res.TimedOut = n
	}

	if s.purger != nil && s.opts.Retention > 0 {
		n, err := s.purger.PurgeOlderThan(s.now().Add(-s.opts.Retention), dryRun)
		if err != nil {
			s.logger.Error("cron.purge_failed", zap.Error(err))
		}
		res.Purged = n
	}

	if res.TimedOut > 0 || res.Purged > 0 {
		s.logger.Info("cron.sweep_summary",
			zap.Int("timed_out", res.TimedOut),
			zap.Int("purged", res.Purged),
			zap.Bool("dry_run", dryRun),
		)
	}
	return res
}
