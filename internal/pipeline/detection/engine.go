package detection

import (
	"sort"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/internal/model"
)

// Config 检测阈值，距离类阈值以肩宽为单位
type Config struct {
	StrikeSpeed      float64 // 腕部速度，肩宽/秒
	MinExtension     float64 // 峰值时肩到腕的距离
	StrikeRefractory float64 // 同侧两次出拳的最小间隔（秒）
	MaxStrikeRun     float64 // 触发后追踪伸展峰值的最长时间（秒）
	UppercutAngle    float64 // 速度上扬角超过该值判为上勾拳（度）
	HookElbowAngle   float64 // 峰值肘角小于该值判为摆拳（度）
	SteepDropAngle   float64 // 速度下压角低于该值不算出拳（度）
	MinVisibility    float64

	GuardUpRatio   float64 // 双腕到鼻子平均距离低于该值为护头
	GuardDownRatio float64 // 高于该值为掉手

	SlipOffset     float64 // 肩中点相对髋中点的横向偏移
	SlipExitFactor float64
	DuckDrop       float64 // 躯干高度相对近期最大值的下降比例
	DuckExitFactor float64
	BaselineWindow float64 // 横向/纵向基线的回看窗口（秒）
	BobWeaveWindow float64 // 侧闪与下潜合并的时间窗口（秒）

	MaxFrameGap      float64 // 相邻有效帧的最大间隔（秒），超过视为不连续
	TrajectoryPoints int
}

func DefaultConfig() Config {
	return Config{
		StrikeSpeed:      4.0,
		MinExtension:     0.8,
		StrikeRefractory: 0.3,
		MaxStrikeRun:     0.3,
		UppercutAngle:    50,
		HookElbowAngle:   120,
		SteepDropAngle:   -45,
		MinVisibility:    0.3,

		GuardUpRatio:   1.0,
		GuardDownRatio: 1.6,

		SlipOffset:     0.35,
		SlipExitFactor: 0.6,
		DuckDrop:       0.15,
		DuckExitFactor: 0.5,
		BaselineWindow: 1.5,
		BobWeaveWindow: 0.5,

		MaxFrameGap:      0.2,
		TrajectoryPoints: 5,
	}
}

// Engine 从姿态序列中识别进攻与防守动作，无状态，可并发使用
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// sample 一帧有效姿态及其派生量
type sample struct {
	frame *model.PoseFrame
	t     float64
	sw    float64 // 肩宽
}

func (s sample) joint(idx int) model.Joint {
	return s.frame.Joints[idx]
}

// Detect 按正架处理
func (e *Engine) Detect(frames []model.PoseFrame, fps float64) []model.Stamp {
	return e.DetectWithStance(frames, fps, model.StanceOrthodox)
}

// DetectWithStance 站架决定前手：正架左手，反架右手
func (e *Engine) DetectWithStance(frames []model.PoseFrame, fps float64, stance string) []model.Stamp {
	segments := e.segments(frames, fps)

	var all []sample
	var strikes, defenses []model.Stamp
	leadSide := model.SideLeft
	if stance == model.StanceSouthpaw {
		leadSide = model.SideRight
	}

	for _, seg := range segments {
		all = append(all, seg...)
		strikes = append(strikes, e.detectStrikes(seg, model.SideLeft, leadSide == model.SideLeft)...)
		strikes = append(strikes, e.detectStrikes(seg, model.SideRight, leadSide == model.SideRight)...)

		slips := e.detectSlips(seg)
		ducks := e.detectDucks(seg)
		defenses = append(defenses, e.mergeBobWeave(slips, ducks)...)
	}
	defenses = append(defenses, e.detectGuard(all)...)

	stamps := append(strikes, defenses...)
	sort.SliceStable(stamps, func(i, j int) bool {
		return stamps[i].TimestampSeconds < stamps[j].TimestampSeconds
	})

	summary := Summarize(stamps)
	e.logger.Info("stamp_detection.complete",
		zap.Int("frames", len(frames)),
		zap.Int("usable_frames", len(all)),
		zap.Int("segments", len(segments)),
		zap.Int("strikes", summary.TotalStrikes),
		zap.Int("defenses", summary.TotalDefenses),
	)
	if stamps == nil {
		return []model.Stamp{}
	}
	return stamps
}

// segments 按未检出帧和时间断档切分连续片段
func (e *Engine) segments(frames []model.PoseFrame, fps float64) [][]sample {
	var out [][]sample
	var cur []sample
	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}

	for i := range frames {
		f := &frames[i]
		if !f.Detected {
			flush()
			continue
		}
		sw := jointVec(f.Joints[model.JointLeftShoulder]).sub(jointVec(f.Joints[model.JointRightShoulder])).norm2D()
		if sw < 1e-6 {
			flush()
			continue
		}

		t := f.TimestampSeconds
		if t == 0 && f.FrameIndex > 0 && fps > 0 {
			t = float64(f.FrameIndex) / fps
		}
		if n := len(cur); n > 0 && t-cur[n-1].t > e.cfg.MaxFrameGap {
			flush()
		}
		cur = append(cur, sample{frame: f, t: t, sw: sw})
	}
	flush()
	return out
}

// trajectory 取 idx 及之前最多 TrajectoryPoints 帧的轨迹
func (e *Engine) trajectory(seg []sample, idx int, point func(sample) vec3) model.Trajectory {
	start := idx - e.cfg.TrajectoryPoints + 1
	if start < 0 {
		start = 0
	}
	traj := make(model.Trajectory, 0, idx-start+1)
	for k := start; k <= idx; k++ {
		p := point(seg[k])
		traj = append(traj, model.TrajectoryPoint{
			FrameIndex: seg[k].frame.FrameIndex,
			X:          round3(p.X),
			Y:          round3(p.Y),
			Z:          round3(p.Z),
		})
	}
	return traj
}

func newStamp(s sample, actionType, side string, conf float64) model.Stamp {
	return model.Stamp{
		TimestampSeconds: round3(s.t),
		FrameNumber:      s.frame.FrameIndex,
		ActionType:       actionType,
		Side:             side,
		Confidence:       conf,
	}
}
