package pose

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
)

var (
	// ErrSubjectLost 目标人物在跟踪过程中丢失
	ErrSubjectLost = errors.New("subject lost during tracking")
	// ErrVideoTooDark 画面过暗无法识别
	ErrVideoTooDark = errors.New("video too dark for pose estimation")
)

// Job 一次姿态估计的输入
type Job struct {
	AnalysisID  int64
	VideoID     int64
	StorageKey  string
	TotalFrames int
	FPS         float64
	// Subject 用户在选人界面框选的目标
	Subject model.BoundingBox
	// SubjectFrame 框选所在帧
	SubjectFrame int
}

// ProgressFunc 估计过程中定期回调，参数为累计已处理帧数与失败帧数
type ProgressFunc func(processed, failed int)

// Estimator 姿态估计能力，启动时按配置选定实现
type Estimator interface {
	Estimate(ctx context.Context, job Job, onProgress ProgressFunc) (*model.PoseData, error)
	Name() string
}

// New 按 pose.backend 创建实现，未知后端直接报错
func New(cfg config.PoseConfig, logger *zap.Logger) (Estimator, error) {
	switch cfg.Backend {
	case config.PoseBackendStub:
		logger.Warn("pose.stub_backend_enabled", zap.String("note", "synthetic pose frames, not for production"))
		return NewStubEstimator(cfg.FPS, cfg.ReportEveryFrames), nil
	case config.PoseBackendRemote:
		return NewRemoteEstimator(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown pose backend %q", cfg.Backend)
	}
}
