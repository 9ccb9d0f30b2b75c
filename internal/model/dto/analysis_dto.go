package dto

// StartAnalysisRequest 开始分析请求
type StartAnalysisRequest struct {
	VideoID       int64 `json:"video_id" binding:"required,min=1"`
	SubjectID     int64 `json:"subject_id" binding:"required,min=1"`
	BodyProfileID int64 `json:"body_profile_id" binding:"required,min=1"`
}

// StartAnalysisResponse 开始分析响应
type StartAnalysisResponse struct {
	AnalysisID       int64  `json:"analysis_id"`
	VideoID          int64  `json:"video_id"`
	Status           string `json:"status"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	ProgressChannel  string `json:"progress_channel"`
}

// 阶段状态
const (
	StagePending    = "pending"
	StageProcessing = "processing"
	StageCompleted  = "completed"
)

// StageStatus 单个阶段的状态
type StageStatus struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	ProgressPercent *int   `json:"progress_percent,omitempty"`
	FramesProcessed *int   `json:"frames_processed,omitempty"`
	TotalFrames     *int   `json:"total_frames,omitempty"`
}

// AnalysisError 失败原因
type AnalysisError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	UserAction string `json:"user_action"`
}

// AnalysisStatusResponse 分析状态快照，字段按状态取舍：
// 进行中返回 stages/estimated_completion，完成返回 report_id，失败返回 error
type AnalysisStatusResponse struct {
	AnalysisID int64  `json:"analysis_id"`
	Status     string `json:"status"`

	// 进行中
	CurrentStage        string        `json:"current_stage,omitempty"`
	ProgressPercent     *int          `json:"progress_percent,omitempty"`
	Stages              []StageStatus `json:"stages,omitempty"`
	EstimatedCompletion string        `json:"estimated_completion,omitempty"`

	// 已完成
	ReportID             *int64 `json:"report_id,omitempty"`
	CompletedAt          string `json:"completed_at,omitempty"`
	TotalDurationSeconds *int64 `json:"total_duration_seconds,omitempty"`

	// 已失败
	FailedStage string         `json:"failed_stage,omitempty"`
	Error       *AnalysisError `json:"error,omitempty"`
	FailedAt    string         `json:"failed_at,omitempty"`
}

// ProgressUpdate worker 上报的进度
type ProgressUpdate struct {
	Stage           string `json:"stage"`
	ProgressPercent int    `json:"progress_percent"`
	FramesProcessed *int   `json:"frames_processed,omitempty"`
	FramesFailed    *int   `json:"frames_failed,omitempty"`
	TotalFrames     *int   `json:"total_frames,omitempty"` // 姿态阶段得到实际帧数后回填
}
