package testutil

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/internal/model"
)

// TestVideo 创建测试视频
func TestVideo(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Video)) *model.Video {
	t.Helper()

	video := &model.Video{
		UserID:      userID,
		StorageKey:  "videos/test.mp4",
		TotalFrames: 300,
		FPS:         30,
	}

	for _, opt := range opts {
		opt(video)
	}

	if err := db.Create(video).Error; err != nil {
		t.Fatalf("Failed to create test video: %v", err)
	}

	return video
}

// WithTotalFrames 设置视频总帧数
func WithTotalFrames(n int) func(*model.Video) {
	return func(v *model.Video) {
		v.TotalFrames = n
	}
}

// TestSubject 创建测试目标人物
func TestSubject(t *testing.T, db *gorm.DB, videoID int64) *model.Subject {
	t.Helper()

	subject := &model.Subject{
		VideoID:     videoID,
		FrameNumber: 0,
		BBox:        model.BoundingBox{X: 0.3, Y: 0.1, Width: 0.4, Height: 0.8},
	}

	if err := db.Create(subject).Error; err != nil {
		t.Fatalf("Failed to create test subject: %v", err)
	}

	return subject
}

// TestBodyProfile 创建测试身体数据
func TestBodyProfile(t *testing.T, db *gorm.DB, userID, videoID int64, opts ...func(*model.BodyProfile)) *model.BodyProfile {
	t.Helper()

	profile := &model.BodyProfile{
		UserID:          userID,
		VideoID:         videoID,
		HeightCm:        178,
		WeightKg:        75,
		ExperienceLevel: model.LevelIntermediate,
		Stance:          model.StanceOrthodox,
	}

	for _, opt := range opts {
		opt(profile)
	}

	if err := db.Create(profile).Error; err != nil {
		t.Fatalf("Failed to create test body profile: %v", err)
	}

	return profile
}

// WithExperience 设置经验等级
func WithExperience(level string) func(*model.BodyProfile) {
	return func(p *model.BodyProfile) {
		p.ExperienceLevel = level
	}
}

// TestAnalysis 创建测试分析
func TestAnalysis(t *testing.T, db *gorm.DB, userID, videoID int64, opts ...func(*model.Analysis)) *model.Analysis {
	t.Helper()

	analysis := &model.Analysis{
		UserID:        userID,
		VideoID:       videoID,
		SubjectID:     1,
		BodyProfileID: 1,
		Status:        model.StatusQueued,
		TotalFrames:   300,
		QueuedAt:      time.Now(),
	}

	for _, opt := range opts {
		opt(analysis)
	}

	if err := db.Create(analysis).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}

	return analysis
}

// WithStatus 设置状态
func WithStatus(status string) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.Status = status
	}
}

// WithRefs 设置目标人物与身体数据
func WithRefs(subjectID, profileID int64) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.SubjectID = subjectID
		a.BodyProfileID = profileID
	}
}

// WithQueuedAt 设置入队时间
func WithQueuedAt(at time.Time) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.QueuedAt = at
	}
}

// TestReport 创建测试报告
func TestReport(t *testing.T, db *gorm.DB, analysis *model.Analysis) *model.Report {
	t.Helper()

	report := &model.Report{
		AnalysisID:        analysis.ID,
		UserID:            analysis.UserID,
		PerformanceScore:  72,
		OverallAssessment: "Solid fundamentals with room to sharpen defense.",
		Strengths:         model.FeedbackItems{{Title: "Jab", Description: "Consistent lead hand"}},
		Weaknesses:        model.FeedbackItems{{Title: "Guard", Description: "Slow to return"}},
		Recommendations: model.Recommendations{{
			Title: "Shadow boxing", Description: "Focus on returning to guard",
			Priority: model.PriorityHigh, DrillType: model.DrillDefense,
		}},
		Metrics:    model.MetricMap{"punch_frequency": {Value: 2, Unit: "punches_per_10s", BenchmarkMin: 1.5, BenchmarkMax: 2.5, Percentile: 50}},
		Disclaimer: model.DefaultDisclaimer,
		LLMModel:   "gpt-4",
	}

	if err := db.Create(report).Error; err != nil {
		t.Fatalf("Failed to create test report: %v", err)
	}

	return report
}
