package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/internal/pkg/oss"
)

const reuploadInterval = 5 * time.Minute

// PendingStore OSS 上传失败时暂存姿态数据的本地目录
type PendingStore interface {
	oss.Store
	Keys() ([]string, error)
}

// Reuploader 后台把暂存在本地的姿态数据补传到 OSS，key 不变
type Reuploader struct {
	pending PendingStore
	remote  oss.Store
	logger  *zap.Logger
}

func NewReuploader(pending PendingStore, remote oss.Store, logger *zap.Logger) *Reuploader {
	return &Reuploader{
		pending: pending,
		remote:  remote,
		logger:  logger,
	}
}

// Start 启动后台重传循环，ctx 取消后返回
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.RunOnce(ctx)

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reuploader.stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce 补传一轮，返回成功数量
func (r *Reuploader) RunOnce(ctx context.Context) int {
	keys, err := r.pending.Keys()
	if err != nil {
		r.logger.Warn("reuploader.list_failed", zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	r.logger.Info("reuploader.pending", zap.Int("count", len(keys)))

	uploaded := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		log := r.logger.With(zap.String("key", key))

		data, err := r.pending.Get(ctx, key)
		if err != nil {
			log.Warn("reuploader.read_failed", zap.Error(err))
			continue
		}
		if err := r.remote.Put(ctx, key, data); err != nil {
			log.Warn("reuploader.upload_failed", zap.Error(err))
			continue
		}
		if err := r.pending.Delete(ctx, key); err != nil {
			log.Warn("reuploader.cleanup_failed", zap.Error(err))
		}
		uploaded++
	}

	if uploaded > 0 {
		r.logger.Info("reuploader.done", zap.Int("uploaded", uploaded), zap.Int("pending", len(keys)-uploaded))
	}
	return uploaded
}
