package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// DefaultDisclaimer 每份报告附带的固定免责声明
const DefaultDisclaimer = "This report is generated by AI based on computer vision analysis of your sparring video. " +
	"It is intended for training reference only and is not a substitute for guidance from a qualified boxing coach. " +
	"Always train under proper supervision and consult a professional before changing your technique or training load."

// 建议优先级
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// 训练类别
const (
	DrillSpeed     = "speed"
	DrillPower     = "power"
	DrillDefense   = "defense"
	DrillTechnique = "technique"
	DrillFootwork  = "footwork"
)

type FeedbackItem struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	MetricReference string `json:"metric_reference,omitempty"`
}

type FeedbackItems []FeedbackItem

func (f FeedbackItems) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	return string(b), err
}

func (f *FeedbackItems) Scan(value interface{}) error {
	return scanJSON(value, f)
}

type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DrillType   string `json:"drill_type"`
}

type Recommendations []Recommendation

func (r Recommendations) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	return string(b), err
}

func (r *Recommendations) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// MetricValue 单项指标及其所在经验等级的基准区间
type MetricValue struct {
	Value        float64 `json:"value"`
	Unit         string  `json:"unit"`
	BenchmarkMin float64 `json:"benchmark_min"`
	BenchmarkMax float64 `json:"benchmark_max"`
	Percentile   int     `json:"percentile"`
}

type MetricMap map[string]MetricValue

func (m MetricMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *MetricMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

type Report struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	AnalysisID        int64           `gorm:"not null;uniqueIndex" json:"analysis_id"`
	UserID            int64           `gorm:"not null;index" json:"user_id"`
	PerformanceScore  int             `gorm:"not null" json:"performance_score"`
	OverallAssessment string          `gorm:"type:text" json:"overall_assessment"`
	Strengths         FeedbackItems   `gorm:"type:text" json:"strengths"`
	Weaknesses        FeedbackItems   `gorm:"type:text" json:"weaknesses"`
	Recommendations   Recommendations `gorm:"type:text" json:"recommendations"`
	Metrics           MetricMap       `gorm:"type:text" json:"metrics"`
	Disclaimer        string          `gorm:"type:text" json:"disclaimer"`
	LLMModel          string          `gorm:"column:llm_model;size:50" json:"llm_model"`
	PromptTokens      int             `json:"prompt_tokens"`
	CompletionTokens  int             `json:"completion_tokens"`
	CreatedAt         time.Time       `json:"created_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Report) TableName() string {
	return "reports"
}
