package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/internal/model"
)

const stampBatchSize = 200

type StampRepository struct {
	db *gorm.DB
}

func NewStampRepository(db *gorm.DB) *StampRepository {
	return &StampRepository{db: db}
}

// ReplaceForAnalysis 以单个批次写入某次分析的全部动作，已有记录先清除
func (r *StampRepository) ReplaceForAnalysis(ctx context.Context, analysisID int64, stamps []model.Stamp) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", analysisID).Delete(&model.Stamp{}).Error; err != nil {
			return err
		}
		if len(stamps) == 0 {
			return nil
		}
		for i := range stamps {
			stamps[i].AnalysisID = analysisID
		}
		return tx.CreateInBatches(stamps, stampBatchSize).Error
	})
}

// ListByAnalysis 按时间升序返回
func (r *StampRepository) ListByAnalysis(ctx context.Context, analysisID int64) ([]model.Stamp, error) {
	var stamps []model.Stamp
	err := r.db.WithContext(ctx).
		Where("analysis_id = ?", analysisID).
		Order("timestamp_seconds ASC, id ASC").
		Find(&stamps).Error
	return stamps, err
}

func (r *StampRepository) CountByAnalysis(ctx context.Context, analysisID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Stamp{}).Where("analysis_id = ?", analysisID).Count(&count).Error
	return count, err
}
