package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/internal/api/middleware"
	"github.com/qs3c/punch_coach_server/internal/model/dto"
	"github.com/qs3c/punch_coach_server/internal/pkg/response"
	"github.com/qs3c/punch_coach_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
	reportService   *service.ReportService
	logger          *zap.Logger
}

func NewAnalysisHandler(analysisService *service.AnalysisService, reportService *service.ReportService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		reportService:   reportService,
		logger:          logger,
	}
}

// Start 发起分析
// POST /api/v1/analyses
func (h *AnalysisHandler) Start(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.StartAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	resp, err := h.analysisService.StartAnalysis(c.Request.Context(), userID, &req)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	response.Accepted(c, resp)
}

// GetStatus 查询分析进度
// GET /api/v1/analyses/:id/status
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.analysisService.GetStatus(c.Request.Context(), userID, analysisID)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	response.Success(c, status)
}

// GetReport 按分析 ID 获取报告
// GET /api/v1/analyses/:id/report
func (h *AnalysisHandler) GetReport(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID, ok := parseID(c)
	if !ok {
		return
	}

	report, err := h.reportService.GetReportByAnalysis(c.Request.Context(), userID, analysisID)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	response.Success(c, report)
}

type ReportHandler struct {
	reportService *service.ReportService
	logger        *zap.Logger
}

func NewReportHandler(reportService *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reportService: reportService, logger: logger}
}

// Get 获取报告详情
// GET /api/v1/reports/:id
func (h *ReportHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	reportID, ok := parseID(c)
	if !ok {
		return
	}

	report, err := h.reportService.GetReport(c.Request.Context(), userID, reportID)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}

	response.Success(c, report)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "无效的ID")
		return 0, false
	}
	return id, true
}

// writeServiceError 按错误类别映射响应码，无权访问与不存在同样返回 NotFound
func writeServiceError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrVideoNotFound),
		errors.Is(err, service.ErrSubjectNotFound),
		errors.Is(err, service.ErrBodyProfileNotFound),
		errors.Is(err, service.ErrAnalysisNotFound),
		errors.Is(err, service.ErrReportNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrAnalysisExists):
		response.ConflictError(c, err.Error())
	case errors.Is(err, service.ErrInvalidID), errors.Is(err, service.ErrInvalidStage):
		response.ValidationError(c, err.Error())
	default:
		logger.Error("api.request_failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.ServerError(c, "")
	}
}
