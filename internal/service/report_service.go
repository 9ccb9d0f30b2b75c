package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/model/dto"
	"github.com/qs3c/punch_coach_server/internal/pipeline/coach"
	"github.com/qs3c/punch_coach_server/internal/repository"
)

// ReportAssembler 把教练反馈和指标落成报告，并结束分析
type ReportAssembler struct {
	reportRepo *repository.ReportRepository
	analyses   *AnalysisService
	logger     *zap.Logger
}

func NewReportAssembler(reportRepo *repository.ReportRepository, analyses *AnalysisService, logger *zap.Logger) *ReportAssembler {
	return &ReportAssembler{reportRepo: reportRepo, analyses: analyses, logger: logger}
}

// Assemble 创建报告后标记分析完成；同一分析重复组装时复用已有报告
func (a *ReportAssembler) Assemble(ctx context.Context, analysis *model.Analysis, fb *coach.Feedback, metrics model.MetricMap, poseDataKey string) (*model.Report, error) {
	if fb == nil {
		return nil, errors.New("assemble report: nil feedback")
	}

	report, err := a.reportRepo.GetByAnalysisID(ctx, analysis.ID)
	switch {
	case err == nil:
		a.logger.Info("report.reused", zap.Int64("analysis_id", analysis.ID), zap.Int64("report_id", report.ID))
	case errors.Is(err, gorm.ErrRecordNotFound):
		report, err = a.create(ctx, analysis, fb, metrics)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if _, err := a.analyses.MarkCompleted(ctx, analysis.ID, report.ID, poseDataKey); err != nil {
		return nil, fmt.Errorf("mark analysis completed: %w", err)
	}
	return report, nil
}

func (a *ReportAssembler) create(ctx context.Context, analysis *model.Analysis, fb *coach.Feedback, metrics model.MetricMap) (*model.Report, error) {
	if metrics == nil {
		metrics = model.MetricMap{}
	}
	report := &model.Report{
		AnalysisID:        analysis.ID,
		UserID:            analysis.UserID,
		PerformanceScore:  fb.PerformanceScore,
		OverallAssessment: fb.OverallAssessment,
		Strengths:         fb.Strengths,
		Weaknesses:        fb.Weaknesses,
		Recommendations:   fb.Recommendations,
		Metrics:           metrics,
		Disclaimer:        model.DefaultDisclaimer,
		LLMModel:          fb.Model,
		PromptTokens:      fb.PromptTokens,
		CompletionTokens:  fb.CompletionTokens,
	}
	if err := a.reportRepo.Create(ctx, report); err != nil {
		// 并发组装时另一方已写入
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return a.reportRepo.GetByAnalysisID(ctx, analysis.ID)
		}
		return nil, fmt.Errorf("create report: %w", err)
	}

	a.logger.Info("report.created",
		zap.Int64("analysis_id", analysis.ID),
		zap.Int64("report_id", report.ID),
		zap.Int("performance_score", report.PerformanceScore),
		zap.String("llm_model", report.LLMModel),
	)
	return report, nil
}

// ReportService 报告读取，动作列表在读取时按时间拼入
type ReportService struct {
	reportRepo *repository.ReportRepository
	stampRepo  *repository.StampRepository
	logger     *zap.Logger
}

func NewReportService(reportRepo *repository.ReportRepository, stampRepo *repository.StampRepository, logger *zap.Logger) *ReportService {
	return &ReportService{reportRepo: reportRepo, stampRepo: stampRepo, logger: logger}
}

// GetReport 不属于该用户的报告按不存在处理
func (s *ReportService) GetReport(ctx context.Context, userID, reportID int64) (*dto.ReportDetail, error) {
	if reportID <= 0 {
		return nil, ErrInvalidID
	}
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		return nil, notFound(err, ErrReportNotFound)
	}
	return s.detail(ctx, userID, report)
}

func (s *ReportService) GetReportByAnalysis(ctx context.Context, userID, analysisID int64) (*dto.ReportDetail, error) {
	if analysisID <= 0 {
		return nil, ErrInvalidID
	}
	report, err := s.reportRepo.GetByAnalysisID(ctx, analysisID)
	if err != nil {
		return nil, notFound(err, ErrReportNotFound)
	}
	return s.detail(ctx, userID, report)
}

func (s *ReportService) detail(ctx context.Context, userID int64, report *model.Report) (*dto.ReportDetail, error) {
	if report.UserID != userID {
		s.logger.Warn("report.ownership_denied",
			zap.Int64("report_id", report.ID),
			zap.Int64("owner_id", report.UserID),
			zap.Int64("requester_id", userID),
		)
		return nil, ErrReportNotFound
	}

	stamps, err := s.stampRepo.ListByAnalysis(ctx, report.AnalysisID)
	if err != nil {
		return nil, err
	}
	items := make([]dto.StampItem, len(stamps))
	for i, st := range stamps {
		items[i] = dto.StampItem{
			ID:               st.ID,
			TimestampSeconds: st.TimestampSeconds,
			FrameNumber:      st.FrameNumber,
			ActionType:       st.ActionType,
			Side:             st.Side,
			Confidence:       st.Confidence,
			VelocityVector:   st.VelocityVector,
			TrajectoryData:   st.TrajectoryData,
		}
	}

	metrics := report.Metrics
	if metrics == nil {
		metrics = model.MetricMap{}
	}

	s.logger.Info("report.retrieved",
		zap.Int64("report_id", report.ID),
		zap.Int64("user_id", userID),
		zap.Int("stamps_count", len(items)),
	)

	return &dto.ReportDetail{
		ID:                report.ID,
		AnalysisID:        report.AnalysisID,
		PerformanceScore:  report.PerformanceScore,
		OverallAssessment: report.OverallAssessment,
		Strengths:         report.Strengths,
		Weaknesses:        report.Weaknesses,
		Recommendations:   report.Recommendations,
		Metrics:           metrics,
		Disclaimer:        report.Disclaimer,
		LLMModel:          report.LLMModel,
		PromptTokens:      report.PromptTokens,
		CompletionTokens:  report.CompletionTokens,
		Stamps:            items,
		CreatedAt:         report.CreatedAt.Format(time.RFC3339),
	}, nil
}
