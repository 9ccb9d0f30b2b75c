package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 动作类型：进攻
const (
	ActionJab      = "jab"
	ActionStraight = "straight"
	ActionHook     = "hook"
	ActionUppercut = "uppercut"
)

// 动作类型：防守
const (
	ActionGuardUp   = "guard_up"
	ActionGuardDown = "guard_down"
	ActionSlip      = "slip"
	ActionDuck      = "duck"
	ActionBobWeave  = "bob_weave"
)

// 出手/动作方向
const (
	SideLeft  = "left"
	SideRight = "right"
	SideBoth  = "both"
)

// IsStrike 是否为进攻动作
func IsStrike(actionType string) bool {
	switch actionType {
	case ActionJab, ActionStraight, ActionHook, ActionUppercut:
		return true
	}
	return false
}

// IsDefense 是否为防守动作
func IsDefense(actionType string) bool {
	switch actionType {
	case ActionGuardUp, ActionGuardDown, ActionSlip, ActionDuck, ActionBobWeave:
		return true
	}
	return false
}

// scanJSON 兼容 MySQL（[]byte）和 SQLite（string）两种返回
func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}

// VelocityVector 检测时的腕部速度，单位为归一化坐标/秒
type VelocityVector struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Speed float64 `json:"speed"`
}

func (v VelocityVector) Value() (driver.Value, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (v *VelocityVector) Scan(value interface{}) error {
	return scanJSON(value, v)
}

type TrajectoryPoint struct {
	FrameIndex int     `json:"frame_index"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
}

// Trajectory 产生动作时最近几帧的关键点轨迹
type Trajectory []TrajectoryPoint

func (t Trajectory) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	return string(b), err
}

func (t *Trajectory) Scan(value interface{}) error {
	return scanJSON(value, t)
}

type Stamp struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	AnalysisID       int64           `gorm:"not null;index:idx_stamp_analysis_ts,priority:1" json:"analysis_id"`
	TimestampSeconds float64         `gorm:"not null;index:idx_stamp_analysis_ts,priority:2" json:"timestamp_seconds"`
	FrameNumber      int             `gorm:"not null" json:"frame_number"`
	ActionType       string          `gorm:"size:20;not null" json:"action_type"`
	Side             string          `gorm:"size:10;not null" json:"side"`
	Confidence       float64         `gorm:"not null" json:"confidence"`
	VelocityVector   *VelocityVector `gorm:"type:text" json:"velocity_vector,omitempty"`
	TrajectoryData   Trajectory      `gorm:"type:text" json:"trajectory_data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (Stamp) TableName() string {
	return "stamps"
}
