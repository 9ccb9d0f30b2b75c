package service

import (
	"errors"

	"github.com/qs3c/punch_coach_server/internal/model/dto"
)

var (
	ErrVideoNotFound       = errors.New("视频不存在")
	ErrSubjectNotFound     = errors.New("目标人物不存在")
	ErrBodyProfileNotFound = errors.New("身体数据不存在")
	ErrAnalysisNotFound    = errors.New("分析不存在")
	ErrAnalysisExists      = errors.New("该视频已有进行中或已完成的分析")
	ErrInvalidID           = errors.New("无效的 ID")
	ErrInvalidStage        = errors.New("未知的处理阶段")
	ErrReportNotFound      = errors.New("报告不存在")
)

// 失败状态对外暴露的错误码
const (
	CodePoseQualityLow    = "POSE_QUALITY_LOW"
	CodeSubjectLost       = "SUBJECT_LOST"
	CodeVideoTooDark      = "VIDEO_TOO_DARK"
	CodeProcessingTimeout = "PROCESSING_TIMEOUT"
	CodeLLMRetryExhausted = "LLM_RETRY_EXHAUSTED"
	CodeProcessingError   = "PROCESSING_ERROR"
	CodeUnknownError      = "UNKNOWN_ERROR"
)

const (
	defaultUnknownMessage = "Unknown error"
	defaultUnknownAction  = "Please try again or contact support"
)

// ErrorInfo 错误码对应的固定文案
type ErrorInfo struct {
	Message    string
	UserAction string
}

// ErrorCatalog 固定错误码表，未收录的错误码统一按 UNKNOWN_ERROR 展示
var ErrorCatalog = map[string]ErrorInfo{
	CodePoseQualityLow: {
		Message:    "Unable to track subject clearly in video",
		UserAction: "Please upload video with better lighting or camera angle",
	},
	CodeSubjectLost: {
		Message:    "Subject was lost during tracking",
		UserAction: "Please ensure the subject stays visible throughout the video",
	},
	CodeVideoTooDark: {
		Message:    "Video is too dark for accurate analysis",
		UserAction: "Please upload a video with better lighting",
	},
	CodeProcessingTimeout: {
		Message:    "Processing took too long",
		UserAction: "Please try again or upload a shorter video",
	},
	CodeLLMRetryExhausted: {
		Message:    "Coaching feedback could not be generated",
		UserAction: "Please try again in a few minutes",
	},
}

// ResolveError 把存储的错误码和原始信息转换为对外展示的三元组
func ResolveError(code, storedMessage string) *dto.AnalysisError {
	if info, ok := ErrorCatalog[code]; ok {
		return &dto.AnalysisError{Code: code, Message: info.Message, UserAction: info.UserAction}
	}
	msg := storedMessage
	if msg == "" {
		msg = defaultUnknownMessage
	}
	return &dto.AnalysisError{Code: CodeUnknownError, Message: msg, UserAction: defaultUnknownAction}
}
