package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/model/dto"
	"github.com/qs3c/punch_coach_server/internal/pkg/pubsub"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/repository"
)

// JobQueue 分析任务投递
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// ProgressPublisher 进度事件发布，可为 nil
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

type AnalysisService struct {
	analysisRepo *repository.AnalysisRepository
	videoRepo    *repository.VideoRepository
	queue        JobQueue
	publisher    ProgressPublisher
	cfg          *config.Config
	logger       *zap.Logger
	now          func() time.Time
}

func NewAnalysisService(
	analysisRepo *repository.AnalysisRepository,
	videoRepo *repository.VideoRepository,
	queue JobQueue,
	publisher ProgressPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		analysisRepo: analysisRepo,
		videoRepo:    videoRepo,
		queue:        queue,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// StartAnalysis 校验视频、目标人物和身体数据后创建分析并投递任务
func (s *AnalysisService) StartAnalysis(ctx context.Context, userID int64, req *dto.StartAnalysisRequest) (*dto.StartAnalysisResponse, error) {
	if req.VideoID <= 0 || req.SubjectID <= 0 || req.BodyProfileID <= 0 {
		return nil, ErrInvalidID
	}

	video, err := s.videoRepo.GetVideoForUser(ctx, req.VideoID, userID)
	if err != nil {
		return nil, notFound(err, ErrVideoNotFound)
	}
	if _, err := s.videoRepo.GetSubject(ctx, req.SubjectID, req.VideoID); err != nil {
		return nil, notFound(err, ErrSubjectNotFound)
	}
	if _, err := s.videoRepo.GetBodyProfile(ctx, req.BodyProfileID, req.VideoID, userID); err != nil {
		return nil, notFound(err, ErrBodyProfileNotFound)
	}

	existing, err := s.analysisRepo.GetByVideoID(ctx, req.VideoID)
	switch {
	case err == nil:
		if existing.Status != model.StatusFailed {
			return nil, ErrAnalysisExists
		}
		// 失败的分析被新分析替换
		if err := s.analysisRepo.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("delete failed analysis: %w", err)
		}
		s.logger.Info("analysis.replaced_failed",
			zap.Int64("previous_analysis_id", existing.ID),
			zap.Int64("video_id", req.VideoID),
		)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	analysis := &model.Analysis{
		UserID:        userID,
		VideoID:       req.VideoID,
		SubjectID:     req.SubjectID,
		BodyProfileID: req.BodyProfileID,
		Status:        model.StatusQueued,
		TotalFrames:   video.TotalFrames,
		QueuedAt:      s.now(),
	}
	if err := s.analysisRepo.Create(ctx, analysis); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAnalysisExists
		}
		return nil, err
	}

	job := &queue.JobMessage{
		AnalysisID:    analysis.ID,
		UserID:        userID,
		VideoID:       req.VideoID,
		SubjectID:     req.SubjectID,
		BodyProfileID: req.BodyProfileID,
		EnqueuedAt:    analysis.QueuedAt.Unix(),
	}
	if err := s.queue.Push(ctx, job); err != nil {
		if _, markErr := s.MarkFailed(ctx, analysis.ID, CodeProcessingError, "failed to enqueue analysis: "+err.Error()); markErr != nil {
			s.logger.Error("analysis.mark_failed_error", zap.Int64("analysis_id", analysis.ID), zap.Error(markErr))
		}
		return nil, fmt.Errorf("enqueue analysis: %w", err)
	}

	s.logger.Info("analysis.started",
		zap.Int64("analysis_id", analysis.ID),
		zap.Int64("video_id", req.VideoID),
		zap.Int64("user_id", userID),
	)

	return &dto.StartAnalysisResponse{
		AnalysisID:       analysis.ID,
		VideoID:          req.VideoID,
		Status:           model.StatusQueued,
		EstimatedMinutes: estimateMinutes(video.TotalFrames),
		ProgressChannel:  fmt.Sprintf("%s/api/v1/ws?analysis_id=%d", s.cfg.Server.WebsocketBaseURL, analysis.ID),
	}, nil
}

// Get worker 读取分析，不校验归属
func (s *AnalysisService) Get(ctx context.Context, analysisID int64) (*model.Analysis, error) {
	analysis, err := s.analysisRepo.GetByID(ctx, analysisID)
	if err != nil {
		return nil, notFound(err, ErrAnalysisNotFound)
	}
	return analysis, nil
}

// UpdateProgress 推进阶段并记录进度；终态或回退的上报只记日志不生效
func (s *AnalysisService) UpdateProgress(ctx context.Context, analysisID int64, update dto.ProgressUpdate) (*model.Analysis, error) {
	status, ok := model.StatusForStage(update.Stage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, update.Stage)
	}

	analysis, err := s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if !model.CanAdvance(analysis.Status, status) {
		s.logger.Info("analysis.progress_ignored",
			zap.Int64("analysis_id", analysisID),
			zap.String("status", analysis.Status),
			zap.String("stage", update.Stage),
		)
		return analysis, nil
	}

	now := s.now()
	fields := map[string]interface{}{
		"status":           status,
		"current_stage":    update.Stage,
		"progress_percent": clampPercent(update.ProgressPercent),
		"started_at":       repository.WriteOnce("started_at", now),
	}
	if update.FramesProcessed != nil {
		fields["frames_processed"] = *update.FramesProcessed
	}
	if update.FramesFailed != nil {
		fields["frames_failed"] = *update.FramesFailed
	}
	if update.TotalFrames != nil && *update.TotalFrames > 0 {
		fields["total_frames"] = *update.TotalFrames
	}

	// 进入某阶段时补齐之前各阶段的时间戳
	for _, stage := range model.Stages {
		cols := model.StageTimestampColumns[stage]
		fields[cols[0]] = repository.WriteOnce(cols[0], now)
		if stage == update.Stage {
			break
		}
		fields[cols[1]] = repository.WriteOnce(cols[1], now)
	}

	affected, err := s.analysisRepo.UpdateIfStatus(ctx, analysisID, analysis.Status, fields)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		s.logger.Info("analysis.progress_conflict",
			zap.Int64("analysis_id", analysisID),
			zap.String("expected_status", analysis.Status),
		)
		return s.Get(ctx, analysisID)
	}

	analysis, err = s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("analysis.progress",
		zap.Int64("analysis_id", analysisID),
		zap.String("stage", update.Stage),
		zap.Int("progress_percent", analysis.ProgressPercent),
		zap.Int("frames_processed", analysis.FramesProcessed),
		zap.Int("frames_failed", analysis.FramesFailed),
	)

	threshold := s.cfg.Pipeline.QualityFailureThreshold
	if analysis.ShouldFailForQuality(threshold) {
		return s.MarkFailed(ctx, analysisID, CodePoseQualityLow,
			fmt.Sprintf("Frame failure rate exceeded %.1f%%", threshold*100))
	}

	s.publish(ctx, &pubsub.ProgressMessage{
		Type:            pubsub.TypeProgress,
		UserID:          analysis.UserID,
		AnalysisID:      analysis.ID,
		Status:          analysis.Status,
		Stage:           analysis.CurrentStage,
		Progress:        analysis.ProgressPercent,
		FramesProcessed: analysis.FramesProcessed,
		FramesFailed:    analysis.FramesFailed,
	})
	return analysis, nil
}

// MarkCompleted 写入报告引用并进入 completed；对终态分析重复调用不做修改
func (s *AnalysisService) MarkCompleted(ctx context.Context, analysisID, reportID int64, poseDataKey string) (*model.Analysis, error) {
	analysis, err := s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if analysis.IsTerminal() {
		s.logger.Info("analysis.already_terminal",
			zap.Int64("analysis_id", analysisID),
			zap.String("status", analysis.Status),
			zap.String("operation", "mark_completed"),
		)
		return analysis, nil
	}

	now := s.now()
	fields := map[string]interface{}{
		"status":           model.StatusCompleted,
		"progress_percent": 100,
		"report_id":        reportID,
		"completed_at":     now,
		"started_at":       repository.WriteOnce("started_at", now),
	}
	if poseDataKey != "" {
		fields["pose_data_key"] = poseDataKey
	}
	for _, stage := range model.Stages {
		cols := model.StageTimestampColumns[stage]
		fields[cols[0]] = repository.WriteOnce(cols[0], now)
		fields[cols[1]] = repository.WriteOnce(cols[1], now)
	}

	affected, err := s.analysisRepo.UpdateIfActive(ctx, analysisID, fields)
	if err != nil {
		return nil, err
	}
	analysis, err = s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return analysis, nil
	}

	s.logger.Info("analysis.completed",
		zap.Int64("analysis_id", analysisID),
		zap.Int64("report_id", reportID),
		zap.Int64("duration_seconds", int64(now.Sub(analysis.QueuedAt).Seconds())),
	)
	s.publish(ctx, &pubsub.ProgressMessage{
		Type:       pubsub.TypeComplete,
		UserID:     analysis.UserID,
		AnalysisID: analysis.ID,
		Status:     analysis.Status,
		Progress:   100,
		ReportID:   reportID,
		Message:    "Analysis complete",
	})
	return analysis, nil
}

// MarkFailed 记录错误码与原因并进入 failed；对终态分析重复调用不做修改
func (s *AnalysisService) MarkFailed(ctx context.Context, analysisID int64, code, message string) (*model.Analysis, error) {
	analysis, err := s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if analysis.IsTerminal() {
		s.logger.Info("analysis.already_terminal",
			zap.Int64("analysis_id", analysisID),
			zap.String("status", analysis.Status),
			zap.String("operation", "mark_failed"),
		)
		return analysis, nil
	}

	affected, err := s.analysisRepo.UpdateIfActive(ctx, analysisID, map[string]interface{}{
		"status":        model.StatusFailed,
		"failed_at":     s.now(),
		"error_code":    code,
		"error_message": message,
	})
	if err != nil {
		return nil, err
	}
	analysis, err = s.Get(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return analysis, nil
	}

	s.logger.Error("analysis.failed",
		zap.Int64("analysis_id", analysisID),
		zap.String("error_code", code),
		zap.String("error_message", message),
		zap.String("stage", analysis.CurrentStage),
	)
	info := ResolveError(code, message)
	s.publish(ctx, &pubsub.ProgressMessage{
		Type:       pubsub.TypeError,
		UserID:     analysis.UserID,
		AnalysisID: analysis.ID,
		Status:     analysis.Status,
		Stage:      analysis.CurrentStage,
		Progress:   analysis.ProgressPercent,
		ErrorCode:  info.Code,
		Message:    info.Message,
		UserAction: info.UserAction,
	})
	return analysis, nil
}

// GetStatus 按当前状态返回进行中、完成或失败三种快照之一
func (s *AnalysisService) GetStatus(ctx context.Context, userID, analysisID int64) (*dto.AnalysisStatusResponse, error) {
	if analysisID <= 0 {
		return nil, ErrInvalidID
	}
	analysis, err := s.analysisRepo.GetByIDAndUser(ctx, analysisID, userID)
	if err != nil {
		return nil, notFound(err, ErrAnalysisNotFound)
	}

	resp := &dto.AnalysisStatusResponse{
		AnalysisID: analysis.ID,
		Status:     analysis.Status,
	}

	switch analysis.Status {
	case model.StatusCompleted:
		resp.ReportID = analysis.ReportID
		resp.CompletedAt = formatTime(analysis.CompletedAt)
		if analysis.CompletedAt != nil {
			d := int64(analysis.CompletedAt.Sub(analysis.QueuedAt).Seconds())
			resp.TotalDurationSeconds = &d
		}
	case model.StatusFailed:
		resp.FailedStage = analysis.CurrentStage
		resp.Error = ResolveError(analysis.ErrorCode, analysis.ErrorMessage)
		resp.FailedAt = formatTime(analysis.FailedAt)
	default:
		progress := analysis.ProgressPercent
		resp.CurrentStage = analysis.CurrentStage
		resp.ProgressPercent = &progress
		resp.Stages = buildStages(analysis)
		resp.EstimatedCompletion = s.estimateCompletion(analysis)
	}
	return resp, nil
}

// FailStaleAnalyses 把超时仍未结束的分析标记为 PROCESSING_TIMEOUT，返回处理条数
func (s *AnalysisService) FailStaleAnalyses(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := s.analysisRepo.ListStale(ctx, s.now().Add(-timeout))
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, a := range stale {
		msg := fmt.Sprintf("Analysis did not finish within %s", timeout)
		if _, err := s.MarkFailed(ctx, a.ID, CodeProcessingTimeout, msg); err != nil {
			s.logger.Error("analysis.timeout_mark_failed", zap.Int64("analysis_id", a.ID), zap.Error(err))
			continue
		}
		failed++
	}
	return failed, nil
}

func (s *AnalysisService) publish(ctx context.Context, msg *pubsub.ProgressMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProgress(ctx, msg); err != nil {
		s.logger.Warn("analysis.publish_failed",
			zap.Int64("analysis_id", msg.AnalysisID),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}

// estimateCompletion 按已用时间与进度线性外推，未开始或进度为 0 时不给出
func (s *AnalysisService) estimateCompletion(a *model.Analysis) string {
	if a.StartedAt == nil || a.TotalFrames == 0 || a.ProgressPercent <= 0 {
		return ""
	}
	now := s.now()
	elapsed := now.Sub(*a.StartedAt).Seconds()
	total := elapsed / (float64(a.ProgressPercent) / 100)
	remaining := time.Duration(total-elapsed) * time.Second
	return now.Truncate(time.Second).Add(remaining).Format(time.RFC3339)
}

func buildStages(a *model.Analysis) []dto.StageStatus {
	stages := make([]dto.StageStatus, 0, len(model.Stages))
	for _, name := range model.Stages {
		started, completed := a.StageTimes(name)
		st := dto.StageStatus{
			Name:        name,
			Status:      dto.StagePending,
			StartedAt:   formatTime(started),
			CompletedAt: formatTime(completed),
		}
		switch {
		case started != nil && completed != nil:
			st.Status = dto.StageCompleted
		case started != nil && a.CurrentStage == name:
			st.Status = dto.StageProcessing
		}

		if name == model.StagePoseEstimation {
			processed, total := a.FramesProcessed, a.TotalFrames
			st.FramesProcessed = &processed
			st.TotalFrames = &total
			if st.Status == dto.StageProcessing {
				progress := a.ProgressPercent
				st.ProgressPercent = &progress
			}
		}
		stages = append(stages, st)
	}
	return stages
}

func estimateMinutes(totalFrames int) int {
	if totalFrames <= 0 {
		return 3
	}
	minutes := totalFrames/1000 + 1
	if minutes > 10 {
		minutes = 10
	}
	return minutes
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// notFound 把记录不存在转换为业务错误，其它错误原样返回
func notFound(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
