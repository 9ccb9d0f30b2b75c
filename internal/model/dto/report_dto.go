package dto

import "github.com/qs3c/punch_coach_server/internal/model"

// StampItem 报告中展示的动作
type StampItem struct {
	ID               int64                 `json:"id"`
	TimestampSeconds float64               `json:"timestamp_seconds"`
	FrameNumber      int                   `json:"frame_number"`
	ActionType       string                `json:"action_type"`
	Side             string                `json:"side"`
	Confidence       float64               `json:"confidence"`
	VelocityVector   *model.VelocityVector `json:"velocity_vector,omitempty"`
	TrajectoryData   model.Trajectory      `json:"trajectory_data,omitempty"`
}

// ReportDetail 报告详情，stamps 在读取时按时间排序拼入
type ReportDetail struct {
	ID                int64                 `json:"id"`
	AnalysisID        int64                 `json:"analysis_id"`
	PerformanceScore  int                   `json:"performance_score"`
	OverallAssessment string                `json:"overall_assessment"`
	Strengths         model.FeedbackItems   `json:"strengths"`
	Weaknesses        model.FeedbackItems   `json:"weaknesses"`
	Recommendations   model.Recommendations `json:"recommendations"`
	Metrics           model.MetricMap       `json:"metrics"`
	Disclaimer        string                `json:"disclaimer"`
	LLMModel          string                `json:"llm_model"`
	PromptTokens      int                   `json:"prompt_tokens"`
	CompletionTokens  int                   `json:"completion_tokens"`
	Stamps            []StampItem           `json:"stamps"`
	CreatedAt         string                `json:"created_at"`
}
