package model

import (
	"time"
)

// 分析状态
const (
	StatusQueued           = "queued"
	StatusPoseEstimation   = "pose_estimation"
	StatusStampGeneration  = "stamp_generation"
	StatusLLMAnalysis      = "llm_analysis"
	StatusReportGeneration = "report_generation"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
)

// 处理阶段（worker 上报进度时使用）
const (
	StagePoseEstimation   = "pose_estimation"
	StageStampGeneration  = "stamp_generation"
	StageLLMAnalysis      = "llm_analysis"
	StageReportGeneration = "report_generation"
)

// Stages 按执行顺序排列的阶段
var Stages = []string{
	StagePoseEstimation,
	StageStampGeneration,
	StageLLMAnalysis,
	StageReportGeneration,
}

// statusRank 状态只能沿此顺序前进，failed 可从任意非终态进入
var statusRank = map[string]int{
	StatusQueued:           0,
	StatusPoseEstimation:   1,
	StatusStampGeneration:  2,
	StatusLLMAnalysis:      3,
	StatusReportGeneration: 4,
	StatusCompleted:        5,
}

// StatusForStage 阶段名到状态的映射
func StatusForStage(stage string) (string, bool) {
	switch stage {
	case StagePoseEstimation:
		return StatusPoseEstimation, true
	case StageStampGeneration:
		return StatusStampGeneration, true
	case StageLLMAnalysis:
		return StatusLLMAnalysis, true
	case StageReportGeneration:
		return StatusReportGeneration, true
	}
	return "", false
}

// IsTerminalStatus completed 和 failed 为终态
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// CanAdvance 判断 from -> to 是否为合法的单调前进
func CanAdvance(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fromRank, ok1 := statusRank[from]
	toRank, ok2 := statusRank[to]
	return ok1 && ok2 && toRank >= fromRank
}

type Analysis struct {
	ID              int64  `gorm:"primaryKey" json:"id"`
	UserID          int64  `gorm:"not null;index" json:"user_id"`
	VideoID         int64  `gorm:"not null;uniqueIndex" json:"video_id"`
	SubjectID       int64  `gorm:"not null" json:"subject_id"`
	BodyProfileID   int64  `gorm:"not null" json:"body_profile_id"`
	Status          string `gorm:"size:30;default:queued;index" json:"status"`
	CurrentStage    string `gorm:"size:30" json:"current_stage,omitempty"`
	ProgressPercent int    `gorm:"default:0" json:"progress_percent"`
	FramesProcessed int    `gorm:"default:0" json:"frames_processed"`
	FramesFailed    int    `gorm:"default:0" json:"frames_failed"`
	TotalFrames     int    `gorm:"default:0" json:"total_frames"`

	// 阶段时间戳：每个字段只写一次（首次写入生效），之后不再覆盖
	QueuedAt          time.Time  `gorm:"not null" json:"queued_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	PoseStartedAt     *time.Time `json:"pose_started_at,omitempty"`
	PoseCompletedAt   *time.Time `json:"pose_completed_at,omitempty"`
	StampsStartedAt   *time.Time `json:"stamps_started_at,omitempty"`
	StampsCompletedAt *time.Time `json:"stamps_completed_at,omitempty"`
	LLMStartedAt      *time.Time `gorm:"column:llm_started_at" json:"llm_started_at,omitempty"`
	LLMCompletedAt    *time.Time `gorm:"column:llm_completed_at" json:"llm_completed_at,omitempty"`
	ReportStartedAt   *time.Time `json:"report_started_at,omitempty"`
	ReportCompletedAt *time.Time `json:"report_completed_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`

	ErrorCode    string `gorm:"size:50" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	ReportID     *int64 `json:"report_id,omitempty"`
	PoseDataKey  string `gorm:"size:500" json:"pose_data_key,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Analysis) TableName() string {
	return "analyses"
}

// IsTerminal 是否已进入终态
func (a *Analysis) IsTerminal() bool {
	return IsTerminalStatus(a.Status)
}

// FailureRate 失败帧占比，total_frames 未知时为 0
func (a *Analysis) FailureRate() float64 {
	if a.TotalFrames <= 0 {
		return 0
	}
	return float64(a.FramesFailed) / float64(a.TotalFrames)
}

// ShouldFailForQuality 失败帧占比严格大于阈值时返回 true
func (a *Analysis) ShouldFailForQuality(threshold float64) bool {
	return a.FailureRate() > threshold
}

// StageTimestampColumns 每个阶段对应的开始/完成时间列
var StageTimestampColumns = map[string][2]string{
	StagePoseEstimation:   {"pose_started_at", "pose_completed_at"},
	StageStampGeneration:  {"stamps_started_at", "stamps_completed_at"},
	StageLLMAnalysis:      {"llm_started_at", "llm_completed_at"},
	StageReportGeneration: {"report_started_at", "report_completed_at"},
}

// StageTimes 返回阶段的开始和完成时间
func (a *Analysis) StageTimes(stage string) (started, completed *time.Time) {
	switch stage {
	case StagePoseEstimation:
		return a.PoseStartedAt, a.PoseCompletedAt
	case StageStampGeneration:
		return a.StampsStartedAt, a.StampsCompletedAt
	case StageLLMAnalysis:
		return a.LLMStartedAt, a.LLMCompletedAt
	case StageReportGeneration:
		return a.ReportStartedAt, a.ReportCompletedAt
	}
	return nil, nil
}
