package pose

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
)

// 远端推理服务返回的业务错误码
const (
	remoteCodeSubjectLost  = "SUBJECT_LOST"
	remoteCodeVideoTooDark = "VIDEO_TOO_DARK"
)

type estimateRequest struct {
	AnalysisID   int64             `json:"analysis_id"`
	VideoID      int64             `json:"video_id"`
	StorageKey   string            `json:"storage_key"`
	FPS          float64           `json:"fps,omitempty"`
	TotalFrames  int               `json:"total_frames,omitempty"`
	Subject      model.BoundingBox `json:"subject_bbox"`
	SubjectFrame int               `json:"subject_frame"`
}

type estimateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RemoteEstimator 调用独立部署的姿态推理服务
type RemoteEstimator struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewRemoteEstimator(cfg config.PoseConfig, logger *zap.Logger) *RemoteEstimator {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RemoteEstimator{httpClient: client, logger: logger}
}

func (r *RemoteEstimator) Name() string {
	return "remote"
}

// Estimate 推理服务一次性返回全部帧，进度只在完成后回调一次
func (r *RemoteEstimator) Estimate(ctx context.Context, job Job, onProgress ProgressFunc) (*model.PoseData, error) {
	var result model.PoseData
	var apiErr estimateError

	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetBody(estimateRequest{
			AnalysisID:   job.AnalysisID,
			VideoID:      job.VideoID,
			StorageKey:   job.StorageKey,
			FPS:          job.FPS,
			TotalFrames:  job.TotalFrames,
			Subject:      job.Subject,
			SubjectFrame: job.SubjectFrame,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/estimate")
	if err != nil {
		return nil, fmt.Errorf("call pose service: %w", err)
	}
	if resp.IsError() {
		r.logger.Warn("pose.remote_error",
			zap.Int64("analysis_id", job.AnalysisID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("code", apiErr.Code),
			zap.String("message", apiErr.Message),
		)
		switch apiErr.Code {
		case remoteCodeSubjectLost:
			return nil, ErrSubjectLost
		case remoteCodeVideoTooDark:
			return nil, ErrVideoTooDark
		}
		return nil, fmt.Errorf("pose service returned %d: %s", resp.StatusCode(), apiErr.Message)
	}

	if result.TotalFrames == 0 {
		result.TotalFrames = len(result.Frames)
	}
	if onProgress != nil {
		onProgress(result.SuccessfulFrames+result.FailedFrames, result.FailedFrames)
	}
	return &result, nil
}
