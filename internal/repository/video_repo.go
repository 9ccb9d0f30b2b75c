package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/punch_coach_server/internal/model"
)

// VideoRepository 读取上传模块维护的视频、目标人物和身体数据
type VideoRepository struct {
	db *gorm.DB
}

func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) GetVideoForUser(ctx context.Context, videoID, userID int64) (*model.Video, error) {
	var video model.Video
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", videoID, userID).First(&video).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *VideoRepository) GetVideo(ctx context.Context, videoID int64) (*model.Video, error) {
	var video model.Video
	err := r.db.WithContext(ctx).Where("id = ?", videoID).First(&video).Error
	if err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *VideoRepository) GetSubject(ctx context.Context, subjectID, videoID int64) (*model.Subject, error) {
	var subject model.Subject
	err := r.db.WithContext(ctx).Where("id = ? AND video_id = ?", subjectID, videoID).First(&subject).Error
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// GetBodyProfile 身体数据必须同时属于该视频和该用户
func (r *VideoRepository) GetBodyProfile(ctx context.Context, profileID, videoID, userID int64) (*model.BodyProfile, error) {
	var profile model.BodyProfile
	err := r.db.WithContext(ctx).
		Where("id = ? AND video_id = ? AND user_id = ?", profileID, videoID, userID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *VideoRepository) GetBodyProfileByID(ctx context.Context, profileID int64) (*model.BodyProfile, error) {
	var profile model.BodyProfile
	err := r.db.WithContext(ctx).Where("id = ?", profileID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
