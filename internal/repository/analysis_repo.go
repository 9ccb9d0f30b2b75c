package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/internal/model"
)

var terminalStatuses = []string{model.StatusCompleted, model.StatusFailed}

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *AnalysisRepository) WithTx(tx *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: tx}
}

// Transaction 在单个事务中执行 fn
func (r *AnalysisRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *AnalysisRepository) Create(ctx context.Context, analysis *model.Analysis) error {
	return r.db.WithContext(ctx).Create(analysis).Error
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id int64) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// GetByIDAndUser 不属于该用户时与不存在返回相同错误
func (r *AnalysisRepository) GetByIDAndUser(ctx context.Context, id, userID int64) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// GetByVideoID 每个视频最多一条分析记录
func (r *AnalysisRepository) GetByVideoID(ctx context.Context, videoID int64) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.WithContext(ctx).Where("video_id = ?", videoID).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// Delete 删除分析及其动作记录
func (r *AnalysisRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", id).Delete(&model.Stamp{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Analysis{}, id).Error
	})
}

// UpdateIfStatus 仅当当前状态仍为 expectedStatus 时更新，返回受影响行数
func (r *AnalysisRepository) UpdateIfStatus(ctx context.Context, id int64, expectedStatus string, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Analysis{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(fields)
	return result.RowsAffected, result.Error
}

// UpdateIfActive 仅当分析尚未进入终态时更新，返回受影响行数
func (r *AnalysisRepository) UpdateIfActive(ctx context.Context, id int64, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Analysis{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(fields)
	return result.RowsAffected, result.Error
}

// ListStale 在 before 之前入队且仍未结束的分析
func (r *AnalysisRepository) ListStale(ctx context.Context, before time.Time) ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND queued_at < ?", terminalStatuses, before).
		Order("queued_at ASC").
		Find(&analyses).Error
	return analyses, err
}

// WriteOnce 生成“仅当为空时写入”的列表达式
func WriteOnce(column string, value interface{}) interface{} {
	return gorm.Expr("COALESCE("+column+", ?)", value)
}
