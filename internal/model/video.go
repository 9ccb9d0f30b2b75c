package model

import (
	"time"
)

// 以下记录由上传/选人/身体数据等外部模块维护，分析流程只读

type Video struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	UserID      int64     `gorm:"not null;index" json:"user_id"`
	StorageKey  string    `gorm:"size:500" json:"storage_key"`
	TotalFrames int       `gorm:"default:0" json:"total_frames"`
	FPS         float64   `gorm:"default:0" json:"fps"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Video) TableName() string {
	return "videos"
}

type Subject struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	VideoID     int64       `gorm:"not null;index" json:"video_id"`
	FrameNumber int         `json:"frame_number"`
	BBox        BoundingBox `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (Subject) TableName() string {
	return "subjects"
}

// 经验等级
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
	LevelCompetitive  = "competitive"
)

// 站架
const (
	StanceOrthodox = "orthodox"
	StanceSouthpaw = "southpaw"
)

type BodyProfile struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	UserID          int64     `gorm:"not null;index" json:"user_id"`
	VideoID         int64     `gorm:"not null;index" json:"video_id"`
	HeightCm        int       `json:"height_cm"`
	WeightKg        int       `json:"weight_kg"`
	ExperienceLevel string    `gorm:"size:20;not null" json:"experience_level"`
	Stance          string    `gorm:"size:10;not null" json:"stance"`
	CreatedAt       time.Time `json:"created_at"`
}

func (BodyProfile) TableName() string {
	return "body_profiles"
}
