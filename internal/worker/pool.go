package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
)

const popTimeout = 5 * time.Second

// JobSource 阻塞取任务，超时返回 nil
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
}

// Handler 处理单条任务
type Handler interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

// Run 启动 workers 个消费协程，ctx 取消后等待全部退出
func Run(ctx context.Context, source JobSource, handler Handler, workers int, logger *zap.Logger) {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log := logger.With(zap.Int("worker_id", workerID))
			for {
				if ctx.Err() != nil {
					log.Info("worker.shutdown")
					return
				}

				msg, err := source.Pop(ctx, popTimeout)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Warn("worker.pop_failed", zap.Error(err))
					time.Sleep(time.Second)
					continue
				}
				if msg == nil {
					continue
				}

				log.Info("worker.job_received", zap.Int64("analysis_id", msg.AnalysisID))
				if err := handler.Process(ctx, msg); err != nil {
					log.Warn("worker.job_failed", zap.Int64("analysis_id", msg.AnalysisID), zap.Error(err))
				}
			}
		}(i)
	}
	wg.Wait()
}
