package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/pipeline/coach"
	"github.com/qs3c/punch_coach_server/internal/pipeline/detection"
	"github.com/qs3c/punch_coach_server/internal/pkg/llm"
	"github.com/qs3c/punch_coach_server/internal/pkg/lock"
	"github.com/qs3c/punch_coach_server/internal/pkg/oss"
	"github.com/qs3c/punch_coach_server/internal/pkg/pose"
	"github.com/qs3c/punch_coach_server/internal/pkg/queue"
	"github.com/qs3c/punch_coach_server/internal/repository"
	"github.com/qs3c/punch_coach_server/internal/service"
	"github.com/qs3c/punch_coach_server/internal/testutil"
)

type nopQueue struct{}

func (nopQueue) Push(context.Context, *queue.JobMessage) error { return nil }

type estimatorFunc func(ctx context.Context, job pose.Job, onProgress pose.ProgressFunc) (*model.PoseData, error)

func (f estimatorFunc) Estimate(ctx context.Context, job pose.Job, onProgress pose.ProgressFunc) (*model.PoseData, error) {
	return f(ctx, job, onProgress)
}

func (f estimatorFunc) Name() string { return "fake" }

type fakeLLM struct {
	err   error
	calls int
}

func (f *fakeLLM) Complete(context.Context, llm.Request) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	content, _ := json.Marshal(map[string]interface{}{
		"overall_assessment": "Busy lead hand, guard drifts after the straight.",
		"performance_score":  68,
		"strengths":          []map[string]string{{"title": "Jab volume"}, {"title": "Range"}, {"title": "Balance"}},
		"weaknesses":         []map[string]string{{"title": "Guard"}, {"title": "Head movement"}, {"title": "Hooks"}},
		"recommendations": []map[string]string{
			{"title": "Return to guard", "priority": "high", "drill_type": "defense"},
			{"title": "Slip line", "priority": "medium", "drill_type": "defense"},
			{"title": "Double jab", "priority": "low", "drill_type": "speed"},
		},
	})
	return &llm.Completion{Content: string(content), Model: "gpt-4", PromptTokens: 900, CompletionTokens: 300}, nil
}

func (f *fakeLLM) Model() string { return "gpt-4" }

type processorFixture struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	locker    *lock.Locker
	analyses  *service.AnalysisService
	store     *oss.LocalStore
	processor *Processor
	analysis  *model.Analysis
	llm       *fakeLLM
}

func setupProcessor(t *testing.T, estimator pose.Estimator) *processorFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		Queue:    config.QueueConfig{LockTTLSeconds: 60},
		LLM:      config.LLMConfig{MaxAttempts: 3, BaseDelayMS: 1},
		Pose:     config.PoseConfig{FPS: 30},
		Pipeline: config.PipelineConfig{QualityFailureThreshold: 0.2, ProcessingTimeoutMinutes: 5},
	}
	logger := zap.NewNop()

	store, err := oss.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	analyses := service.NewAnalysisService(
		repository.NewAnalysisRepository(db),
		repository.NewVideoRepository(db),
		nopQueue{}, nil, cfg, logger,
	)
	client := &fakeLLM{}
	noSleep := func(context.Context, time.Duration) error { return nil }
	locker := lock.NewLocker(rdb, "test:lock:")

	processor := NewProcessor(Deps{
		Analyses:  analyses,
		Assembler: service.NewReportAssembler(repository.NewReportRepository(db), analyses, logger),
		VideoRepo: repository.NewVideoRepository(db),
		StampRepo: repository.NewStampRepository(db),
		Estimator: estimator,
		Engine:    detection.NewEngine(detection.DefaultConfig(), logger),
		Coach:     coach.NewOrchestrator(client, cfg.LLM, logger, coach.WithSleep(noSleep)),
		Store:     store,
		Locker:    locker,
	}, cfg, logger)

	video := testutil.TestVideo(t, db, 1)
	subject := testutil.TestSubject(t, db, video.ID)
	profile := testutil.TestBodyProfile(t, db, 1, video.ID)
	analysis := testutil.TestAnalysis(t, db, 1, video.ID, testutil.WithRefs(subject.ID, profile.ID))

	return &processorFixture{
		db: db, mr: mr, locker: locker, analyses: analyses, store: store,
		processor: processor, analysis: analysis, llm: client,
	}
}

func (f *processorFixture) job() *queue.JobMessage {
	return &queue.JobMessage{AnalysisID: f.analysis.ID, UserID: f.analysis.UserID, VideoID: f.analysis.VideoID}
}

func (f *processorFixture) reload(t *testing.T) *model.Analysis {
	t.Helper()
	a, err := f.analyses.Get(context.Background(), f.analysis.ID)
	require.NoError(t, err)
	return a
}

func (f *processorFixture) stampCount(t *testing.T) int64 {
	t.Helper()
	n, err := repository.NewStampRepository(f.db).CountByAnalysis(context.Background(), f.analysis.ID)
	require.NoError(t, err)
	return n
}

func TestProcessor_Process_Completes(t *testing.T) {
	f := setupProcessor(t, pose.NewStubEstimator(30, 30))

	require.NoError(t, f.processor.Process(context.Background(), f.job()))

	a := f.reload(t)
	assert.Equal(t, model.StatusCompleted, a.Status)
	assert.Equal(t, 100, a.ProgressPercent)
	require.NotNil(t, a.ReportID)
	assert.Equal(t, 300, a.FramesProcessed)
	assert.Less(t, a.FramesFailed, 60)
	for _, stage := range model.Stages {
		started, completed := a.StageTimes(stage)
		assert.NotNil(t, started, stage)
		assert.NotNil(t, completed, stage)
	}

	report, err := repository.NewReportRepository(f.db).GetByID(context.Background(), *a.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 68, report.PerformanceScore)
	assert.Contains(t, report.Metrics, "punch_frequency")
	assert.Positive(t, f.stampCount(t))

	require.Equal(t, oss.PoseDataKey(a.ID), a.PoseDataKey)
	payload, err := f.store.Get(context.Background(), a.PoseDataKey)
	require.NoError(t, err)
	data, err := DecodePoseData(payload)
	require.NoError(t, err)
	assert.Equal(t, 300, data.TotalFrames)
	assert.Len(t, data.Frames, 300)

	// 锁已释放
	assert.Empty(t, f.mr.Keys())
}

// brokenStore 模拟 OSS 不可用
type brokenStore struct{ oss.Store }

func (brokenStore) Put(context.Context, string, []byte) error { return errors.New("oss unavailable") }

func TestProcessor_Process_ArchiveFallback(t *testing.T) {
	f := setupProcessor(t, pose.NewStubEstimator(30, 30))
	f.processor.Store = brokenStore{}
	f.processor.Fallback = f.store

	require.NoError(t, f.processor.Process(context.Background(), f.job()))

	a := f.reload(t)
	assert.Equal(t, model.StatusCompleted, a.Status)
	require.Equal(t, oss.PoseDataKey(a.ID), a.PoseDataKey)
	keys, err := f.store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{a.PoseDataKey}, keys)
}

func TestProcessor_Process_ArchiveFailureDoesNotFail(t *testing.T) {
	f := setupProcessor(t, pose.NewStubEstimator(30, 30))
	f.processor.Store = brokenStore{}

	require.NoError(t, f.processor.Process(context.Background(), f.job()))

	a := f.reload(t)
	assert.Equal(t, model.StatusCompleted, a.Status)
	assert.Empty(t, a.PoseDataKey)
}

func TestProcessor_Process_LLMRetryExhausted(t *testing.T) {
	f := setupProcessor(t, pose.NewStubEstimator(30, 30))
	f.llm.err = errors.New("503 service unavailable")

	err := f.processor.Process(context.Background(), f.job())
	assert.ErrorIs(t, err, coach.ErrRetryExhausted)
	assert.Equal(t, 3, f.llm.calls)

	a := f.reload(t)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, service.CodeLLMRetryExhausted, a.ErrorCode)
	assert.Equal(t, model.StageLLMAnalysis, a.CurrentStage)
	assert.Nil(t, a.ReportID)
}

func TestProcessor_Process_SubjectLost(t *testing.T) {
	f := setupProcessor(t, estimatorFunc(func(context.Context, pose.Job, pose.ProgressFunc) (*model.PoseData, error) {
		return nil, pose.ErrSubjectLost
	}))

	err := f.processor.Process(context.Background(), f.job())
	assert.ErrorIs(t, err, pose.ErrSubjectLost)

	a := f.reload(t)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, service.CodeSubjectLost, a.ErrorCode)
	assert.Zero(t, f.llm.calls)
}

func TestProcessor_Process_QualityFailureStopsEstimation(t *testing.T) {
	var sawCancel bool
	f := setupProcessor(t, estimatorFunc(func(ctx context.Context, job pose.Job, onProgress pose.ProgressFunc) (*model.PoseData, error) {
		onProgress(100, 70)
		if ctx.Err() != nil {
			sawCancel = true
			return nil, ctx.Err()
		}
		return nil, errors.New("should have been canceled")
	}))

	require.NoError(t, f.processor.Process(context.Background(), f.job()))
	assert.True(t, sawCancel)

	a := f.reload(t)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, service.CodePoseQualityLow, a.ErrorCode)
	assert.Zero(t, f.stampCount(t))
	assert.Zero(t, f.llm.calls)
}

func TestProcessor_Process_Timeout(t *testing.T) {
	f := setupProcessor(t, estimatorFunc(func(ctx context.Context, _ pose.Job, _ pose.ProgressFunc) (*model.PoseData, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.processor.Process(ctx, f.job())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a := f.reload(t)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, service.CodeProcessingTimeout, a.ErrorCode)
}

func TestProcessor_Process_Panic(t *testing.T) {
	f := setupProcessor(t, estimatorFunc(func(context.Context, pose.Job, pose.ProgressFunc) (*model.PoseData, error) {
		panic("decoder exploded")
	}))

	err := f.processor.Process(context.Background(), f.job())
	require.Error(t, err)

	a := f.reload(t)
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, service.CodeProcessingError, a.ErrorCode)
	assert.Contains(t, a.ErrorMessage, "decoder exploded")
	assert.Empty(t, f.mr.Keys())
}

func TestProcessor_Process_LockBusy(t *testing.T) {
	called := false
	f := setupProcessor(t, estimatorFunc(func(context.Context, pose.Job, pose.ProgressFunc) (*model.PoseData, error) {
		called = true
		return nil, errors.New("unreachable")
	}))

	held, err := f.locker.Acquire(context.Background(), fmt.Sprintf("analysis:%d", f.analysis.ID), time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	require.NoError(t, f.processor.Process(context.Background(), f.job()))
	assert.False(t, called)
	assert.Equal(t, model.StatusQueued, f.reload(t).Status)
}

func TestProcessor_Process_SkipsTerminal(t *testing.T) {
	called := false
	f := setupProcessor(t, estimatorFunc(func(context.Context, pose.Job, pose.ProgressFunc) (*model.PoseData, error) {
		called = true
		return nil, errors.New("unreachable")
	}))
	_, err := f.analyses.MarkFailed(context.Background(), f.analysis.ID, service.CodeProcessingTimeout, "swept")
	require.NoError(t, err)

	require.NoError(t, f.processor.Process(context.Background(), f.job()))
	assert.False(t, called)
	assert.Equal(t, service.CodeProcessingTimeout, f.reload(t).ErrorCode)
}

func TestFailureCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", coach.ErrRetryExhausted), service.CodeLLMRetryExhausted},
		{fmt.Errorf("pose estimation (remote): %w", pose.ErrSubjectLost), service.CodeSubjectLost},
		{pose.ErrVideoTooDark, service.CodeVideoTooDark},
		{context.DeadlineExceeded, service.CodeProcessingTimeout},
		{coach.ErrParseResponse, service.CodeProcessingError},
		{errors.New("disk full"), service.CodeProcessingError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FailureCode(tt.err), tt.err.Error())
	}
}

func TestPoseProgress(t *testing.T) {
	assert.Equal(t, 0, poseProgress(0, 300))
	assert.Equal(t, 30, poseProgress(150, 300))
	assert.Equal(t, 60, poseProgress(300, 300))
	assert.Equal(t, 60, poseProgress(400, 300))
	assert.Equal(t, 0, poseProgress(10, 0))
}

type sliceSource struct {
	mu   sync.Mutex
	jobs []*queue.JobMessage
}

func (s *sliceSource) Pop(ctx context.Context, _ time.Duration) (*queue.JobMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return nil, nil
		}
	}
	msg := s.jobs[0]
	s.jobs = s.jobs[1:]
	return msg, nil
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []int64
	done chan struct{}
	want int
}

func (h *recordingHandler) Process(_ context.Context, msg *queue.JobMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, msg.AnalysisID)
	if len(h.seen) == h.want {
		close(h.done)
	}
	return nil
}

func TestRun_DrainsQueueAndStops(t *testing.T) {
	source := &sliceSource{jobs: []*queue.JobMessage{{AnalysisID: 1}, {AnalysisID: 2}, {AnalysisID: 3}}}
	handler := &recordingHandler{done: make(chan struct{}), want: 3}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		Run(ctx, source, handler, 2, zap.NewNop())
		close(finished)
	}()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, handler.seen)
}
