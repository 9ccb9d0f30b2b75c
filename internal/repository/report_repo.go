package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/internal/model"
)

// ReportRepository 查询自动排除已软删除的报告
type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, report *model.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*model.Report, error) {
	var report model.Report
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *ReportRepository) GetByAnalysisID(ctx context.Context, analysisID int64) (*model.Report, error) {
	var report model.Report
	err := r.db.WithContext(ctx).Where("analysis_id = ?", analysisID).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}
