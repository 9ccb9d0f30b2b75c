package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/model/dto"
	"github.com/qs3c/punch_coach_server/internal/pkg/pubsub"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/repository"
	"github.com/qs3c/punch_coach_server/internal/testutil"
)

type fakeQueue struct {
	jobs []*queue.JobMessage
	err  error
}

func (q *fakeQueue) Push(_ context.Context, msg *queue.JobMessage) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, msg)
	return nil
}

type fakePublisher struct {
	messages []*pubsub.ProgressMessage
}

func (p *fakePublisher) PublishProgress(_ context.Context, msg *pubsub.ProgressMessage) error {
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) ofType(typ string) []*pubsub.ProgressMessage {
	var out []*pubsub.ProgressMessage
	for _, m := range p.messages {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeClock 测试中手动推进的时钟
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func ptr(v int) *int { return &v }

func progress(stage string, p int) dto.ProgressUpdate {
	return dto.ProgressUpdate{Stage: stage, ProgressPercent: p}
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{WebsocketBaseURL: "ws://localhost:8080"},
		Pipeline: config.PipelineConfig{QualityFailureThreshold: 0.20},
	}
}

type serviceFixture struct {
	db        *gorm.DB
	svc       *AnalysisService
	queue     *fakeQueue
	publisher *fakePublisher
	clock     *fakeClock
	logs      *observer.ObservedLogs
}

func setupAnalysisService(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	core, logs := observer.New(zapcore.DebugLevel)
	q := &fakeQueue{}
	pub := &fakePublisher{}
	clock := newFakeClock()

	svc := NewAnalysisService(
		repository.NewAnalysisRepository(db),
		repository.NewVideoRepository(db),
		q, pub, testConfig(), zap.New(core),
	)
	svc.now = clock.now

	return &serviceFixture{db: db, svc: svc, queue: q, publisher: pub, clock: clock, logs: logs}
}

// seedVideo 创建视频、目标人物和身体数据
func (f *serviceFixture) seedVideo(t *testing.T, userID int64, opts ...func(*model.Video)) *dto.StartAnalysisRequest {
	t.Helper()
	video := testutil.TestVideo(t, f.db, userID, opts...)
	subject := testutil.TestSubject(t, f.db, video.ID)
	profile := testutil.TestBodyProfile(t, f.db, userID, video.ID)
	return &dto.StartAnalysisRequest{VideoID: video.ID, SubjectID: subject.ID, BodyProfileID: profile.ID}
}

func (f *serviceFixture) start(t *testing.T, userID int64) *dto.StartAnalysisResponse {
	t.Helper()
	resp, err := f.svc.StartAnalysis(context.Background(), userID, f.seedVideo(t, userID))
	require.NoError(t, err)
	return resp
}

func TestAnalysisService_StartAnalysis(t *testing.T) {
	f := setupAnalysisService(t)
	req := f.seedVideo(t, 7, testutil.WithTotalFrames(4500))

	resp, err := f.svc.StartAnalysis(context.Background(), 7, req)
	require.NoError(t, err)

	assert.NotZero(t, resp.AnalysisID)
	assert.Equal(t, req.VideoID, resp.VideoID)
	assert.Equal(t, model.StatusQueued, resp.Status)
	assert.Equal(t, 5, resp.EstimatedMinutes)
	assert.Equal(t, "ws://localhost:8080/api/v1/ws?analysis_id="+strconv.FormatInt(resp.AnalysisID, 10), resp.ProgressChannel)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, resp.AnalysisID, job.AnalysisID)
	assert.Equal(t, req.SubjectID, job.SubjectID)
	assert.Equal(t, req.BodyProfileID, job.BodyProfileID)

	a, err := f.svc.Get(context.Background(), resp.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, 4500, a.TotalFrames)
	assert.Equal(t, 1, f.logs.FilterMessage("analysis.started").Len())
}

func TestAnalysisService_StartAnalysis_Validation(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	req := f.seedVideo(t, 1)
	other := f.seedVideo(t, 2)

	_, err := f.svc.StartAnalysis(ctx, 1, &dto.StartAnalysisRequest{VideoID: 0, SubjectID: 1, BodyProfileID: 1})
	assert.ErrorIs(t, err, ErrInvalidID)

	// 视频属于其他用户
	_, err = f.svc.StartAnalysis(ctx, 1, &dto.StartAnalysisRequest{VideoID: other.VideoID, SubjectID: other.SubjectID, BodyProfileID: other.BodyProfileID})
	assert.ErrorIs(t, err, ErrVideoNotFound)

	// 目标人物属于其他视频
	_, err = f.svc.StartAnalysis(ctx, 1, &dto.StartAnalysisRequest{VideoID: req.VideoID, SubjectID: other.SubjectID, BodyProfileID: req.BodyProfileID})
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	_, err = f.svc.StartAnalysis(ctx, 1, &dto.StartAnalysisRequest{VideoID: req.VideoID, SubjectID: req.SubjectID, BodyProfileID: other.BodyProfileID})
	assert.ErrorIs(t, err, ErrBodyProfileNotFound)

	assert.Empty(t, f.queue.jobs)
}

func TestAnalysisService_StartAnalysis_Conflict(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	req := f.seedVideo(t, 1)

	_, err := f.svc.StartAnalysis(ctx, 1, req)
	require.NoError(t, err)

	_, err = f.svc.StartAnalysis(ctx, 1, req)
	assert.ErrorIs(t, err, ErrAnalysisExists)
	assert.Len(t, f.queue.jobs, 1)
}

func TestAnalysisService_StartAnalysis_ReplacesFailed(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	req := f.seedVideo(t, 1)

	first, err := f.svc.StartAnalysis(ctx, 1, req)
	require.NoError(t, err)
	_, err = f.svc.MarkFailed(ctx, first.AnalysisID, CodeSubjectLost, "lost")
	require.NoError(t, err)

	second, err := f.svc.StartAnalysis(ctx, 1, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.AnalysisID, second.AnalysisID)

	_, err = f.svc.Get(ctx, first.AnalysisID)
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestAnalysisService_StartAnalysis_EnqueueFailure(t *testing.T) {
	f := setupAnalysisService(t)
	f.queue.err = errors.New("redis down")
	req := f.seedVideo(t, 1)

	_, err := f.svc.StartAnalysis(context.Background(), 1, req)
	require.Error(t, err)

	var a model.Analysis
	require.NoError(t, f.db.Where("video_id = ?", req.VideoID).First(&a).Error)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, CodeProcessingError, a.ErrorCode)
}

func TestEstimateMinutes(t *testing.T) {
	assert.Equal(t, 3, estimateMinutes(0))
	assert.Equal(t, 1, estimateMinutes(300))
	assert.Equal(t, 2, estimateMinutes(1000))
	assert.Equal(t, 10, estimateMinutes(50000))
}

func TestAnalysisService_UpdateProgress_QualityFailure(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID

	a, err := f.svc.UpdateProgress(ctx, id, dto.ProgressUpdate{
		Stage: model.StagePoseEstimation, ProgressPercent: 40,
		FramesProcessed: ptr(120), FramesFailed: ptr(60), TotalFrames: ptr(300),
	})
	require.NoError(t, err)
	// 恰好 20% 不触发
	assert.Equal(t, model.StatusPoseEstimation, a.Status)

	a, err = f.svc.UpdateProgress(ctx, id, dto.ProgressUpdate{
		Stage: model.StagePoseEstimation, ProgressPercent: 80,
		FramesProcessed: ptr(240), FramesFailed: ptr(70),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, CodePoseQualityLow, a.ErrorCode)
	assert.Equal(t, "Frame failure rate exceeded 20.0%", a.ErrorMessage)
	assert.NotNil(t, a.FailedAt)

	errs := f.publisher.ofType(pubsub.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodePoseQualityLow, errs[0].ErrorCode)
	assert.Equal(t, "Unable to track subject clearly in video", errs[0].Message)
}

func TestAnalysisService_UpdateProgress_WriteOnceTimestamps(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID
	t0 := f.clock.now()

	_, err := f.svc.UpdateProgress(ctx, id, progress(model.StagePoseEstimation, 10))
	require.NoError(t, err)

	f.clock.advance(30 * time.Second)
	a, err := f.svc.UpdateProgress(ctx, id, progress(model.StagePoseEstimation, 60))
	require.NoError(t, err)
	require.NotNil(t, a.PoseStartedAt)
	assert.True(t, a.PoseStartedAt.Equal(t0))
	assert.True(t, a.StartedAt.Equal(t0))
	assert.Nil(t, a.PoseCompletedAt)

	f.clock.advance(30 * time.Second)
	t1 := f.clock.now()
	a, err = f.svc.UpdateProgress(ctx, id, progress(model.StageLLMAnalysis, 70))
	require.NoError(t, err)
	assert.Equal(t, model.StatusLLMAnalysis, a.Status)
	assert.True(t, a.PoseStartedAt.Equal(t0))
	require.NotNil(t, a.PoseCompletedAt)
	assert.True(t, a.PoseCompletedAt.Equal(t1))
	// 跳过的阶段也补齐
	require.NotNil(t, a.StampsStartedAt)
	require.NotNil(t, a.StampsCompletedAt)
	require.NotNil(t, a.LLMStartedAt)
	assert.Nil(t, a.LLMCompletedAt)

	// 回退的上报被忽略
	a, err = f.svc.UpdateProgress(ctx, id, progress(model.StagePoseEstimation, 99))
	require.NoError(t, err)
	assert.Equal(t, model.StatusLLMAnalysis, a.Status)
	assert.Equal(t, 70, a.ProgressPercent)
	assert.Equal(t, 1, f.logs.FilterMessage("analysis.progress_ignored").Len())

	assert.Len(t, f.publisher.ofType(pubsub.TypeProgress), 3)
}

func TestAnalysisService_UpdateProgress_InvalidStage(t *testing.T) {
	f := setupAnalysisService(t)
	id := f.start(t, 1).AnalysisID

	_, err := f.svc.UpdateProgress(context.Background(), id, progress("rendering", 10))
	assert.ErrorIs(t, err, ErrInvalidStage)

	_, err = f.svc.UpdateProgress(context.Background(), 9999, progress(model.StagePoseEstimation, 10))
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestAnalysisService_UpdateProgress_ClampsPercent(t *testing.T) {
	f := setupAnalysisService(t)
	id := f.start(t, 1).AnalysisID

	a, err := f.svc.UpdateProgress(context.Background(), id, progress(model.StagePoseEstimation, 140))
	require.NoError(t, err)
	assert.Equal(t, 100, a.ProgressPercent)
}

func TestAnalysisService_TerminalIsIdempotent(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID

	a, err := f.svc.MarkFailed(ctx, id, CodeVideoTooDark, "too dark")
	require.NoError(t, err)
	failedAt := *a.FailedAt

	f.clock.advance(time.Minute)
	a, err = f.svc.MarkFailed(ctx, id, CodeProcessingTimeout, "late")
	require.NoError(t, err)
	assert.Equal(t, CodeVideoTooDark, a.ErrorCode)
	assert.True(t, a.FailedAt.Equal(failedAt))

	a, err = f.svc.MarkCompleted(ctx, id, 42, "pose/1.json.gz")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Nil(t, a.ReportID)

	a, err = f.svc.UpdateProgress(ctx, id, progress(model.StageLLMAnalysis, 70))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, a.Status)

	assert.Len(t, f.publisher.ofType(pubsub.TypeError), 1)
	assert.Equal(t, 2, f.logs.FilterMessage("analysis.already_terminal").Len())
}

func TestAnalysisService_MarkCompleted(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID

	_, err := f.svc.UpdateProgress(ctx, id, progress(model.StageReportGeneration, 90))
	require.NoError(t, err)

	f.clock.advance(2 * time.Minute)
	a, err := f.svc.MarkCompleted(ctx, id, 42, "pose/1.json.gz")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, a.Status)
	assert.Equal(t, 100, a.ProgressPercent)
	require.NotNil(t, a.ReportID)
	assert.Equal(t, int64(42), *a.ReportID)
	assert.Equal(t, "pose/1.json.gz", a.PoseDataKey)
	assert.NotNil(t, a.ReportCompletedAt)
	assert.NotNil(t, a.CompletedAt)

	complete := f.publisher.ofType(pubsub.TypeComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, int64(42), complete[0].ReportID)

	a, err = f.svc.MarkCompleted(ctx, id, 43, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), *a.ReportID)
	assert.Len(t, f.publisher.ofType(pubsub.TypeComplete), 1)
}

func TestAnalysisService_GetStatus_InProgress(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID
	t0 := f.clock.now()

	_, err := f.svc.UpdateProgress(ctx, id, dto.ProgressUpdate{Stage: model.StagePoseEstimation, ProgressPercent: 10, FramesProcessed: ptr(30)})
	require.NoError(t, err)
	f.clock.advance(time.Minute)
	_, err = f.svc.UpdateProgress(ctx, id, progress(model.StageStampGeneration, 25))
	require.NoError(t, err)

	resp, err := f.svc.GetStatus(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStampGeneration, resp.Status)
	assert.Equal(t, model.StageStampGeneration, resp.CurrentStage)
	require.NotNil(t, resp.ProgressPercent)
	assert.Equal(t, 25, *resp.ProgressPercent)
	assert.Nil(t, resp.ReportID)
	assert.Nil(t, resp.Error)

	require.Len(t, resp.Stages, 4)
	pose := resp.Stages[0]
	assert.Equal(t, dto.StageCompleted, pose.Status)
	assert.Nil(t, pose.ProgressPercent)
	assert.Equal(t, 30, *pose.FramesProcessed)
	assert.Equal(t, 300, *pose.TotalFrames)
	assert.Equal(t, dto.StageProcessing, resp.Stages[1].Status)
	assert.Equal(t, dto.StagePending, resp.Stages[2].Status)
	assert.Equal(t, model.StageReportGeneration, resp.Stages[3].Name)

	// 已用 60 秒、进度 25%，预计再需 180 秒
	assert.Equal(t, t0.Add(4*time.Minute).Format(time.RFC3339), resp.EstimatedCompletion)
}

func TestAnalysisService_GetStatus_Queued(t *testing.T) {
	f := setupAnalysisService(t)
	id := f.start(t, 1).AnalysisID

	resp, err := f.svc.GetStatus(context.Background(), 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, resp.Status)
	assert.Empty(t, resp.EstimatedCompletion)
	for _, st := range resp.Stages {
		assert.Equal(t, dto.StagePending, st.Status)
	}
}

func TestAnalysisService_GetStatus_Completed(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID

	f.clock.advance(150 * time.Second)
	_, err := f.svc.MarkCompleted(ctx, id, 9, "")
	require.NoError(t, err)

	resp, err := f.svc.GetStatus(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, resp.Status)
	require.NotNil(t, resp.ReportID)
	assert.Equal(t, int64(9), *resp.ReportID)
	require.NotNil(t, resp.TotalDurationSeconds)
	assert.Equal(t, int64(150), *resp.TotalDurationSeconds)
	assert.NotEmpty(t, resp.CompletedAt)
	assert.Empty(t, resp.Stages)
	assert.Nil(t, resp.ProgressPercent)
}

func TestAnalysisService_GetStatus_Failed(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	id := f.start(t, 1).AnalysisID

	_, err := f.svc.UpdateProgress(ctx, id, progress(model.StageLLMAnalysis, 70))
	require.NoError(t, err)
	_, err = f.svc.MarkFailed(ctx, id, CodeLLMRetryExhausted, "3 attempts")
	require.NoError(t, err)

	resp, err := f.svc.GetStatus(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, resp.Status)
	assert.Equal(t, model.StageLLMAnalysis, resp.FailedStage)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeLLMRetryExhausted, resp.Error.Code)
	assert.Equal(t, ErrorCatalog[CodeLLMRetryExhausted].UserAction, resp.Error.UserAction)
	assert.NotEmpty(t, resp.FailedAt)
	assert.Empty(t, resp.Stages)
}

func TestAnalysisService_GetStatus_NotOwned(t *testing.T) {
	f := setupAnalysisService(t)
	id := f.start(t, 1).AnalysisID

	_, err := f.svc.GetStatus(context.Background(), 2, id)
	assert.ErrorIs(t, err, ErrAnalysisNotFound)

	_, err = f.svc.GetStatus(context.Background(), 1, -1)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestAnalysisService_FailStaleAnalyses(t *testing.T) {
	f := setupAnalysisService(t)
	ctx := context.Background()
	now := f.clock.now()

	stale := testutil.TestAnalysis(t, f.db, 1, 100, testutil.WithQueuedAt(now.Add(-2*time.Hour)), testutil.WithStatus(model.StatusLLMAnalysis))
	fresh := testutil.TestAnalysis(t, f.db, 1, 101, testutil.WithQueuedAt(now.Add(-5*time.Minute)))
	done := testutil.TestAnalysis(t, f.db, 1, 102, testutil.WithQueuedAt(now.Add(-3*time.Hour)), testutil.WithStatus(model.StatusCompleted))

	n, err := f.svc.FailStaleAnalyses(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, CodeProcessingTimeout, a.ErrorCode)

	a, err = f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, a.Status)

	a, err = f.svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, a.Status)
}

func TestResolveError(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		stored     string
		wantCode   string
		wantMsg    string
		wantAction string
	}{
		{"catalog", CodeVideoTooDark, "raw", CodeVideoTooDark, "Video is too dark for accurate analysis", "Please upload a video with better lighting"},
		{"timeout", CodeProcessingTimeout, "", CodeProcessingTimeout, "Processing took too long", "Please try again or upload a shorter video"},
		{"unmapped", CodeProcessingError, "boom", CodeUnknownError, "boom", "Please try again or contact support"},
		{"empty", "", "", CodeUnknownError, "Unknown error", "Please try again or contact support"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveError(tt.code, tt.stored)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantMsg, got.Message)
			assert.Equal(t, tt.wantAction, got.UserAction)
		})
	}
}
