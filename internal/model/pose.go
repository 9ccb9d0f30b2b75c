package model

import "fmt"

// JointCount 人体关键点数量
const JointCount = 33

// 常用关键点下标
const (
	JointNose          = 0
	JointLeftShoulder  = 11
	JointRightShoulder = 12
	JointLeftElbow     = 13
	JointRightElbow    = 14
	JointLeftWrist     = 15
	JointRightWrist    = 16
	JointLeftHip       = 23
	JointRightHip      = 24
	JointLeftKnee      = 25
	JointRightKnee     = 26
	JointLeftAnkle     = 27
	JointRightAnkle    = 28
)

// Joint 单个关键点，x/y 归一化到 0-1，z 为相对深度
type Joint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PoseFrame 单帧姿态数据，由姿态估计产出后只读
type PoseFrame struct {
	FrameIndex       int               `json:"frame_index"`
	TimestampSeconds float64           `json:"timestamp_seconds"`
	Detected         bool              `json:"detected"`
	Joints           [JointCount]Joint `json:"joints"`
	Confidence       float64           `json:"confidence"`
	BBox             *BoundingBox      `json:"bbox,omitempty"`
}

// Validate 检查坐标范围，在流水线入口调用
func (f *PoseFrame) Validate() error {
	if f.FrameIndex < 0 {
		return fmt.Errorf("frame %d: negative index", f.FrameIndex)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("frame %d: confidence %v out of range", f.FrameIndex, f.Confidence)
	}
	if !f.Detected {
		return nil
	}
	for i, j := range f.Joints {
		if j.Visibility < 0 || j.Visibility > 1 {
			return fmt.Errorf("frame %d joint %d: visibility %v out of range", f.FrameIndex, i, j.Visibility)
		}
	}
	return nil
}

// PoseData 一次姿态估计的完整结果
type PoseData struct {
	FPS               float64     `json:"fps"`
	TotalFrames       int         `json:"total_frames"`
	SuccessfulFrames  int         `json:"successful_frames"`
	FailedFrames      int         `json:"failed_frames"`
	AverageConfidence float64     `json:"average_confidence"`
	Frames            []PoseFrame `json:"frames"`
}

// PoseSummary 供指标计算与 prompt 使用的姿态质量摘要
type PoseSummary struct {
	TotalFrames      int     `json:"total_frames"`
	SuccessfulFrames int     `json:"successful_frames"`
	FPS              float64 `json:"fps"`
	TrackingQuality  float64 `json:"tracking_quality"`
	DurationSeconds  float64 `json:"analysis_duration_seconds"`
}

// Validate 校验所有帧并检查帧率
func (p *PoseData) Validate() error {
	if p.FPS <= 0 {
		return fmt.Errorf("invalid fps %v", p.FPS)
	}
	for i := range p.Frames {
		if err := p.Frames[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *PoseData) Summary() PoseSummary {
	s := PoseSummary{
		TotalFrames:      p.TotalFrames,
		SuccessfulFrames: p.SuccessfulFrames,
		FPS:              p.FPS,
		TrackingQuality:  p.AverageConfidence,
	}
	if p.FPS > 0 {
		s.DurationSeconds = float64(p.TotalFrames) / p.FPS
	}
	return s
}
