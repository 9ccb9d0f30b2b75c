package worker

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/model/dto"
	"github.com/qs3c/punch_coach_server/internal/pipeline/coach"
	"github.com/qs3c/punch_coach_server/internal/pipeline/detection"
	"github.com/qs3c/punch_coach_server/internal/pipeline/metrics"
	"github.com/qs3c/punch_coach_server/internal/pkg/lock"
	"github.com/qs3c/punch_coach_server/internal/pkg/oss"
	"github.com/qs3c/punch_coach_server/internal/pkg/pose"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/repository"
	"github.com/qs3c/punch_coach_server/internal/service"
)

// errHalted 分析已被其他路径结束（质量失败、超时清理），停止后续阶段
var errHalted = errors.New("analysis already terminal")

// 各阶段开始时的整体进度
const (
	progressPose   = 0
	progressStamps = 60
	progressLLM    = 75
	progressReport = 90
)

// Deps 处理器依赖；Fallback 为 Store 写入失败时的本地暂存，由 Reuploader 补传，可为 nil
type Deps struct {
	Analyses  *service.AnalysisService
	Assembler *service.ReportAssembler
	VideoRepo *repository.VideoRepository
	StampRepo *repository.StampRepository
	Estimator pose.Estimator
	Engine    *detection.Engine
	Coach     *coach.Orchestrator
	Store     oss.Store
	Fallback  oss.Store
	Locker    *lock.Locker
}

// Processor 按阶段执行一次分析，每个分析同一时刻只由一个 worker 处理
type Processor struct {
	Deps
	cfg    *config.Config
	logger *zap.Logger
}

func NewProcessor(deps Deps, cfg *config.Config, logger *zap.Logger) *Processor {
	return &Processor{Deps: deps, cfg: cfg, logger: logger}
}

// Process 处理一条任务；阶段错误统一转换为失败码写回分析
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) (err error) {
	log := p.logger.With(zap.Int64("analysis_id", msg.AnalysisID))

	lk, err := p.Locker.Acquire(ctx, fmt.Sprintf("analysis:%d", msg.AnalysisID), p.lockTTL())
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Info("worker.lock_busy")
			return nil
		}
		return err
	}
	stopKeepAlive := p.keepAlive(ctx, lk, log)
	defer func() {
		stopKeepAlive()
		if relErr := lk.Release(context.WithoutCancel(ctx)); relErr != nil {
			log.Warn("worker.lock_release_failed", zap.Error(relErr))
		}
	}()

	if timeout := p.cfg.Pipeline.ProcessingTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker.panic", zap.Any("panic", r), zap.Stack("stack"))
			p.fail(ctx, msg.AnalysisID, service.CodeProcessingError, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	start := time.Now()
	err = p.run(ctx, msg.AnalysisID, log)
	switch {
	case err == nil:
		log.Info("worker.analysis_done", zap.Duration("elapsed", time.Since(start)))
		return nil
	case errors.Is(err, errHalted):
		log.Info("worker.analysis_halted")
		return nil
	}

	p.fail(ctx, msg.AnalysisID, FailureCode(err), err.Error())
	return err
}

func (p *Processor) run(ctx context.Context, analysisID int64, log *zap.Logger) error {
	analysis, err := p.Analyses.Get(ctx, analysisID)
	if err != nil {
		return err
	}
	if analysis.IsTerminal() {
		return errHalted
	}

	video, err := p.VideoRepo.GetVideo(ctx, analysis.VideoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	subject, err := p.VideoRepo.GetSubject(ctx, analysis.SubjectID, analysis.VideoID)
	if err != nil {
		return fmt.Errorf("load subject: %w", err)
	}
	profile, err := p.VideoRepo.GetBodyProfileByID(ctx, analysis.BodyProfileID)
	if err != nil {
		return fmt.Errorf("load body profile: %w", err)
	}

	// 姿态估计
	if _, err := p.advance(ctx, analysisID, dto.ProgressUpdate{Stage: model.StagePoseEstimation, ProgressPercent: progressPose}); err != nil {
		return err
	}
	data, err := p.estimate(ctx, analysis, video, subject, log)
	if err != nil {
		return err
	}
	poseDataKey := p.archive(ctx, analysisID, data, log)

	// 动作识别
	if _, err := p.advance(ctx, analysisID, dto.ProgressUpdate{Stage: model.StageStampGeneration, ProgressPercent: progressStamps}); err != nil {
		return err
	}
	stamps := p.Engine.DetectWithStance(data.Frames, data.FPS, profile.Stance)
	if err := p.StampRepo.ReplaceForAnalysis(ctx, analysisID, stamps); err != nil {
		return fmt.Errorf("save stamps: %w", err)
	}

	// 教练反馈
	if _, err := p.advance(ctx, analysisID, dto.ProgressUpdate{Stage: model.StageLLMAnalysis, ProgressPercent: progressLLM}); err != nil {
		return err
	}
	summary := data.Summary()
	metricMap := metrics.Calculate(summary, stamps, profile)
	feedback, err := p.Coach.Analyze(ctx, coach.Input{
		Pose:    summary,
		Stamps:  stamps,
		Profile: profile,
		Metrics: metricMap,
	})
	if err != nil {
		return err
	}

	// 报告
	analysis, err = p.advance(ctx, analysisID, dto.ProgressUpdate{Stage: model.StageReportGeneration, ProgressPercent: progressReport})
	if err != nil {
		return err
	}
	report, err := p.Assembler.Assemble(ctx, analysis, feedback, metricMap, poseDataKey)
	if err != nil {
		return err
	}

	log.Info("worker.report_ready",
		zap.Int64("report_id", report.ID),
		zap.Int("stamps", len(stamps)),
		zap.Int("performance_score", report.PerformanceScore),
	)
	return nil
}

// advance 推进阶段，进入前后都确认分析仍未结束
func (p *Processor) advance(ctx context.Context, analysisID int64, update dto.ProgressUpdate) (*model.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	analysis, err := p.Analyses.UpdateProgress(ctx, analysisID, update)
	if err != nil {
		return nil, err
	}
	if analysis.IsTerminal() {
		return nil, errHalted
	}
	return analysis, nil
}

func (p *Processor) estimate(ctx context.Context, analysis *model.Analysis, video *model.Video, subject *model.Subject, log *zap.Logger) (*model.PoseData, error) {
	fps := video.FPS
	if fps <= 0 {
		fps = p.cfg.Pose.FPS
	}
	job := pose.Job{
		AnalysisID:   analysis.ID,
		VideoID:      video.ID,
		StorageKey:   video.StorageKey,
		TotalFrames:  video.TotalFrames,
		FPS:          fps,
		Subject:      subject.BBox,
		SubjectFrame: subject.FrameNumber,
	}

	// 质量不达标被判失败后立即停止估计
	poseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	halted := false
	onProgress := func(processed, failed int) {
		update := dto.ProgressUpdate{
			Stage:           model.StagePoseEstimation,
			ProgressPercent: poseProgress(processed, job.TotalFrames),
			FramesProcessed: &processed,
			FramesFailed:    &failed,
		}
		if job.TotalFrames > 0 {
			update.TotalFrames = &job.TotalFrames
		}
		a, err := p.Analyses.UpdateProgress(poseCtx, analysis.ID, update)
		if err != nil {
			log.Warn("worker.progress_update_failed", zap.Error(err))
			return
		}
		if a.IsTerminal() {
			halted = true
			cancel()
		}
	}

	data, err := p.Estimator.Estimate(poseCtx, job, onProgress)
	if halted {
		return nil, errHalted
	}
	if err != nil {
		return nil, fmt.Errorf("pose estimation (%s): %w", p.Estimator.Name(), err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pose data: %w", err)
	}

	// 最终帧数以估计结果为准，再做一次质量判定
	processed, failed, total := data.SuccessfulFrames+data.FailedFrames, data.FailedFrames, data.TotalFrames
	if _, err := p.advance(ctx, analysis.ID, dto.ProgressUpdate{
		Stage:           model.StagePoseEstimation,
		ProgressPercent: progressStamps,
		FramesProcessed: &processed,
		FramesFailed:    &failed,
		TotalFrames:     &total,
	}); err != nil {
		return nil, err
	}

	log.Info("worker.pose_estimated",
		zap.String("backend", p.Estimator.Name()),
		zap.Int("total_frames", data.TotalFrames),
		zap.Int("failed_frames", data.FailedFrames),
		zap.Float64("average_confidence", data.AverageConfidence),
	)
	return data, nil
}

// archive 压缩后归档姿态数据，失败只记日志，不影响分析结果
func (p *Processor) archive(ctx context.Context, analysisID int64, data *model.PoseData, log *zap.Logger) string {
	if p.Store == nil {
		return ""
	}
	payload, err := EncodePoseData(data)
	if err != nil {
		log.Warn("worker.pose_archive_failed", zap.Error(err))
		return ""
	}
	key := oss.PoseDataKey(analysisID)
	err = p.Store.Put(ctx, key, payload)
	if err == nil {
		return key
	}
	if p.Fallback != nil {
		if fbErr := p.Fallback.Put(ctx, key, payload); fbErr == nil {
			log.Warn("worker.pose_archive_deferred", zap.String("key", key), zap.Error(err))
			return key
		}
	}
	log.Warn("worker.pose_archive_failed", zap.String("key", key), zap.Error(err))
	return ""
}

func (p *Processor) fail(ctx context.Context, analysisID int64, code, message string) {
	// 超时或取消后仍需写回失败状态
	ctx = context.WithoutCancel(ctx)
	if _, err := p.Analyses.MarkFailed(ctx, analysisID, code, message); err != nil {
		p.logger.Error("worker.mark_failed_error", zap.Int64("analysis_id", analysisID), zap.Error(err))
	}
}

func (p *Processor) lockTTL() time.Duration {
	if p.cfg.Queue.LockTTLSeconds > 0 {
		return time.Duration(p.cfg.Queue.LockTTLSeconds) * time.Second
	}
	return 15 * time.Minute
}

// keepAlive 按 TTL 的三分之一周期续期锁，返回停止函数
func (p *Processor) keepAlive(ctx context.Context, lk *lock.Lock, log *zap.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.lockTTL() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lk.Refresh(ctx); err != nil {
					log.Warn("worker.lock_refresh_failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// FailureCode 阶段错误到对外错误码的映射
func FailureCode(err error) string {
	switch {
	case errors.Is(err, coach.ErrRetryExhausted):
		return service.CodeLLMRetryExhausted
	case errors.Is(err, pose.ErrSubjectLost):
		return service.CodeSubjectLost
	case errors.Is(err, pose.ErrVideoTooDark):
		return service.CodeVideoTooDark
	case errors.Is(err, context.DeadlineExceeded):
		return service.CodeProcessingTimeout
	default:
		return service.CodeProcessingError
	}
}

func poseProgress(processed, total int) int {
	if total <= 0 {
		return progressPose
	}
	pct := progressPose + processed*(progressStamps-progressPose)/total
	if pct > progressStamps {
		pct = progressStamps
	}
	return pct
}

// EncodePoseData gzip 压缩的 JSON
func EncodePoseData(data *model.PoseData) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(data); err != nil {
		return nil, fmt.Errorf("encode pose data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePoseData EncodePoseData 的逆过程
func DecodePoseData(payload []byte) (*model.PoseData, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var data model.PoseData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode pose data: %w", err)
	}
	return &data, nil
}
