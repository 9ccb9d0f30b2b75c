package pose

import (
	"context"
	"math"
	"math/rand"

	"github.com/qs3c/punch_coach_server/internal/model"
)

const (
	defaultStubFrames = 300
	stubDropRate      = 0.03
	stubJitter        = 0.002
)

// StubEstimator 以视频 ID 为种子生成确定性的模拟对练姿态，仅用于开发和测试
type StubEstimator struct {
	fps         float64
	reportEvery int
}

func NewStubEstimator(fps float64, reportEvery int) *StubEstimator {
	if fps <= 0 {
		fps = 30
	}
	if reportEvery <= 0 {
		reportEvery = 30
	}
	return &StubEstimator{fps: fps, reportEvery: reportEvery}
}

func (s *StubEstimator) Name() string {
	return "stub"
}

func (s *StubEstimator) Estimate(ctx context.Context, job Job, onProgress ProgressFunc) (*model.PoseData, error) {
	fps := job.FPS
	if fps <= 0 {
		fps = s.fps
	}
	total := job.TotalFrames
	if total <= 0 {
		total = defaultStubFrames
	}

	rng := rand.New(rand.NewSource(job.VideoID))
	script := newSparringScript(rng, float64(total)/fps)

	data := &model.PoseData{
		FPS:         fps,
		TotalFrames: total,
		Frames:      make([]model.PoseFrame, 0, total),
	}
	var confSum float64

	for i := 0; i < total; i++ {
		if i%s.reportEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		ts := float64(i) / fps
		frame := model.PoseFrame{
			FrameIndex:       i,
			TimestampSeconds: math.Round(ts*1000) / 1000,
		}
		if rng.Float64() < stubDropRate {
			data.FailedFrames++
		} else {
			frame.Detected = true
			frame.Joints = script.pose(ts, rng)
			frame.Confidence = 0.8 + rng.Float64()*0.17
			box := boundingBox(frame.Joints)
			frame.BBox = &box
			confSum += frame.Confidence
			data.SuccessfulFrames++
		}
		data.Frames = append(data.Frames, frame)

		if onProgress != nil && ((i+1)%s.reportEvery == 0 || i == total-1) {
			onProgress(i+1, data.FailedFrames)
		}
	}

	if data.SuccessfulFrames > 0 {
		data.AverageConfidence = math.Round(confSum/float64(data.SuccessfulFrames)*1000) / 1000
	}
	return data, nil
}

type vec3 struct{ x, y, z float64 }

func lerp(a, b vec3, t float64) vec3 {
	return vec3{a.x + (b.x-a.x)*t, a.y + (b.y-a.y)*t, a.z + (b.z-a.z)*t}
}

func mid(a, b vec3) vec3 {
	return lerp(a, b, 0.5)
}

// 正面站立、左手在前的基准姿势（图像坐标，人物左侧在画面右侧）
var (
	baseNose      = vec3{0.50, 0.25, -0.10}
	baseLShoulder = vec3{0.58, 0.35, 0}
	baseRShoulder = vec3{0.42, 0.35, 0}
	baseLElbow    = vec3{0.60, 0.45, 0}
	baseRElbow    = vec3{0.40, 0.45, 0}
	baseLWrist    = vec3{0.54, 0.30, 0}
	baseRWrist    = vec3{0.46, 0.30, 0}
	baseLHip      = vec3{0.56, 0.60, 0.05}
	baseRHip      = vec3{0.44, 0.60, 0.05}
	baseLKnee     = vec3{0.57, 0.75, 0.05}
	baseRKnee     = vec3{0.43, 0.75, 0.05}
	baseLAnkle    = vec3{0.58, 0.90, 0.05}
	baseRAnkle    = vec3{0.42, 0.90, 0.05}

	jabTarget      = vec3{0.60, 0.33, -0.35}
	straightTarget = vec3{0.40, 0.33, -0.38}
	hookTarget     = vec3{0.72, 0.30, -0.12}
	hookElbow      = vec3{0.70, 0.40, 0.02}
	uppercutDip    = vec3{0.46, 0.42, -0.02}
	uppercutTop    = vec3{0.47, 0.22, -0.12}
	droppedLWrist  = vec3{0.56, 0.55, 0}
	droppedRWrist  = vec3{0.44, 0.55, 0}
)

const (
	slipShift = 0.07
	duckDrop  = 0.065
)

type actionKind int

const (
	actJab actionKind = iota
	actStraight
	actHook
	actUppercut
	actSlip
	actDuck
	actBobWeave
	actGuardDrop
)

type scriptedAction struct {
	kind  actionKind
	start float64
	dur   float64
	dir   float64 // 躲闪方向 ±1
}

type sparringScript struct {
	actions []scriptedAction
}

func newSparringScript(rng *rand.Rand, duration float64) *sparringScript {
	weights := []struct {
		kind   actionKind
		weight float64
	}{
		{actJab, 0.35}, {actStraight, 0.22}, {actHook, 0.13}, {actUppercut, 0.10},
		{actSlip, 0.08}, {actDuck, 0.07}, {actBobWeave, 0.05},
	}

	s := &sparringScript{}
	t := 0.8
	for t < duration-1.0 {
		r := rng.Float64()
		kind := actJab
		for _, w := range weights {
			if r < w.weight {
				kind = w.kind
				break
			}
			r -= w.weight
		}

		a := scriptedAction{kind: kind, start: t, dur: actionDuration(kind), dir: 1}
		if rng.Float64() < 0.5 {
			a.dir = -1
		}
		s.actions = append(s.actions, a)
		t += a.dur

		// 出拳后偶尔掉手，随后回到防守位
		if isStrikeAction(kind) && rng.Float64() < 0.35 {
			hold := 0.3 + rng.Float64()*0.3
			drop := scriptedAction{kind: actGuardDrop, start: t, dur: 0.3 + hold}
			s.actions = append(s.actions, drop)
			t += drop.dur
		}

		t += 0.6 + rng.Float64()*1.2
	}
	return s
}

func isStrikeAction(k actionKind) bool {
	return k == actJab || k == actStraight || k == actHook || k == actUppercut
}

func actionDuration(k actionKind) float64 {
	switch k {
	case actUppercut:
		return 0.7
	case actSlip, actDuck:
		return 0.5
	case actBobWeave:
		return 0.6
	default:
		return 0.4
	}
}

func (s *sparringScript) active(ts float64) (scriptedAction, bool) {
	for _, a := range s.actions {
		if ts >= a.start && ts < a.start+a.dur {
			return a, true
		}
	}
	return scriptedAction{}, false
}

// punchCurve 0.15s 打出，余下时间收回
func punchCurve(elapsed, dur float64) float64 {
	const extend = 0.15
	if elapsed < extend {
		return elapsed / extend
	}
	return math.Max(0, 1-(elapsed-extend)/(dur-extend))
}

// holdCurve 0.15s 进入，保持，0.15s 退出
func holdCurve(elapsed, dur float64) float64 {
	const ramp = 0.15
	switch {
	case elapsed < ramp:
		return elapsed / ramp
	case elapsed > dur-ramp:
		return math.Max(0, (dur-elapsed)/ramp)
	default:
		return 1
	}
}

func (s *sparringScript) pose(ts float64, rng *rand.Rand) [model.JointCount]model.Joint {
	nose, lSh, rSh := baseNose, baseLShoulder, baseRShoulder
	lEl, rEl, lWr, rWr := baseLElbow, baseRElbow, baseLWrist, baseRWrist

	var dx, dy float64
	if a, ok := s.active(ts); ok {
		elapsed := ts - a.start
		switch a.kind {
		case actJab:
			k := punchCurve(elapsed, a.dur)
			lWr = lerp(baseLWrist, jabTarget, k)
			lEl = lerp(baseLElbow, mid(baseLShoulder, jabTarget), k)
		case actStraight:
			k := punchCurve(elapsed, a.dur)
			rWr = lerp(baseRWrist, straightTarget, k)
			rEl = lerp(baseRElbow, mid(baseRShoulder, straightTarget), k)
		case actHook:
			k := punchCurve(elapsed, a.dur)
			lWr = lerp(baseLWrist, hookTarget, k)
			lEl = lerp(baseLElbow, hookElbow, k)
		case actUppercut:
			// 0.3s 缓慢下沉，0.15s 上勾，0.25s 收回
			switch {
			case elapsed < 0.3:
				rWr = lerp(baseRWrist, uppercutDip, elapsed/0.3)
			case elapsed < 0.45:
				rWr = lerp(uppercutDip, uppercutTop, (elapsed-0.3)/0.15)
			default:
				rWr = lerp(uppercutTop, baseRWrist, math.Min(1, (elapsed-0.45)/0.25))
			}
		case actSlip:
			dx = a.dir * slipShift * holdCurve(elapsed, a.dur)
		case actDuck:
			dy = duckDrop * holdCurve(elapsed, a.dur)
		case actBobWeave:
			k := holdCurve(elapsed, a.dur)
			dx = a.dir * slipShift * k
			dy = duckDrop * k
		case actGuardDrop:
			k := holdCurve(elapsed, a.dur)
			lWr = lerp(baseLWrist, droppedLWrist, k)
			rWr = lerp(baseRWrist, droppedRWrist, k)
		}
	}

	shift := func(v vec3) vec3 { return vec3{v.x + dx, v.y + dy, v.z} }

	var joints [model.JointCount]model.Joint
	set := func(idx int, v vec3) {
		joints[idx] = model.Joint{
			X:          v.x + rng.NormFloat64()*stubJitter,
			Y:          v.y + rng.NormFloat64()*stubJitter,
			Z:          v.z + rng.NormFloat64()*stubJitter,
			Visibility: 0.85 + rng.Float64()*0.14,
		}
	}

	// 未单独建模的面部和手脚关键点贴近相邻关节
	for idx := 1; idx <= 10; idx++ {
		set(idx, shift(vec3{nose.x + float64(idx%3-1)*0.01, nose.y - 0.01, nose.z}))
	}
	set(model.JointNose, shift(nose))
	set(model.JointLeftShoulder, shift(lSh))
	set(model.JointRightShoulder, shift(rSh))
	set(model.JointLeftElbow, shift(lEl))
	set(model.JointRightElbow, shift(rEl))
	set(model.JointLeftWrist, shift(lWr))
	set(model.JointRightWrist, shift(rWr))
	for idx := 17; idx <= 22; idx++ {
		if idx%2 == 1 {
			set(idx, shift(lWr))
		} else {
			set(idx, shift(rWr))
		}
	}
	set(model.JointLeftHip, baseLHip)
	set(model.JointRightHip, baseRHip)
	set(model.JointLeftKnee, baseLKnee)
	set(model.JointRightKnee, baseRKnee)
	set(model.JointLeftAnkle, baseLAnkle)
	set(model.JointRightAnkle, baseRAnkle)
	for idx := 29; idx < model.JointCount; idx++ {
		if idx%2 == 1 {
			set(idx, baseLAnkle)
		} else {
			set(idx, baseRAnkle)
		}
	}
	return joints
}

func boundingBox(joints [model.JointCount]model.Joint) model.BoundingBox {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, j := range joints {
		minX, maxX = math.Min(minX, j.X), math.Max(maxX, j.X)
		minY, maxY = math.Min(minY, j.Y), math.Max(maxY, j.Y)
	}
	return model.BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
