package detection

import (
	"math"

	"github.com/qs3c/punch_coach_server/internal/model"
)

type arm struct {
	shoulder, elbow, wrist int
}

func armFor(side string) arm {
	if side == model.SideRight {
		return arm{model.JointRightShoulder, model.JointRightElbow, model.JointRightWrist}
	}
	return arm{model.JointLeftShoulder, model.JointLeftElbow, model.JointLeftWrist}
}

// extension 肩到腕的三维距离，以肩宽为单位
func (a arm) extension(s sample) float64 {
	return jointVec(s.joint(a.wrist)).sub(jointVec(s.joint(a.shoulder))).norm() / s.sw
}

func (a arm) velocity(prev, cur sample) (vec3, bool) {
	dt := cur.t - prev.t
	if dt <= 0 {
		return vec3{}, false
	}
	return jointVec(cur.joint(a.wrist)).sub(jointVec(prev.joint(a.wrist))).scale(1 / dt), true
}

func (e *Engine) visible(j model.Joint) bool {
	return j.Visibility >= e.cfg.MinVisibility
}

// detectStrikes 单侧手臂：腕速超过阈值且正在伸展时触发，沿伸展方向追到峰值帧再分类
func (e *Engine) detectStrikes(seg []sample, side string, lead bool) []model.Stamp {
	a := armFor(side)
	var out []model.Stamp
	lastStrike := math.Inf(-1)

	for i := 1; i < len(seg); i++ {
		prev, cur := seg[i-1], seg[i]
		if !e.visible(cur.joint(a.wrist)) || !e.visible(prev.joint(a.wrist)) {
			continue
		}
		if cur.t-lastStrike < e.cfg.StrikeRefractory {
			continue
		}
		v, ok := a.velocity(prev, cur)
		if !ok {
			continue
		}
		speed := v.norm() / cur.sw
		if speed < e.cfg.StrikeSpeed || a.extension(cur) <= a.extension(prev) {
			continue
		}
		if riseAngle(v) < e.cfg.SteepDropAngle {
			continue
		}

		peak, best, bestSpeed := i, v, speed
		for j := i + 1; j < len(seg) && seg[j].t-cur.t <= e.cfg.MaxStrikeRun; j++ {
			if !e.visible(seg[j].joint(a.wrist)) || a.extension(seg[j]) <= a.extension(seg[peak]) {
				break
			}
			peak = j
			if vj, ok := a.velocity(seg[j-1], seg[j]); ok && vj.norm()/seg[j].sw > bestSpeed {
				best, bestSpeed = vj, vj.norm()/seg[j].sw
			}
		}

		top := seg[peak]
		if a.extension(top) < e.cfg.MinExtension {
			continue
		}

		elbow := jointAngle(jointVec(top.joint(a.shoulder)), jointVec(top.joint(a.elbow)), jointVec(top.joint(a.wrist)))
		actionType := e.classifyStrike(best, elbow, lead)

		vis := (top.joint(a.wrist).Visibility + top.joint(a.elbow).Visibility + top.joint(a.shoulder).Visibility) / 3
		st := newStamp(top, actionType, side, confidence(bestSpeed/e.cfg.StrikeSpeed-1, vis))
		st.VelocityVector = &model.VelocityVector{
			X:     round3(best.X),
			Y:     round3(best.Y),
			Z:     round3(best.Z),
			Speed: round3(best.norm()),
		}
		st.TrajectoryData = e.trajectory(seg, peak, func(s sample) vec3 { return jointVec(s.joint(a.wrist)) })
		out = append(out, st)

		lastStrike = top.t
		i = peak
	}
	return out
}

// classifyStrike 依次判断上勾拳、摆拳，其余按前后手区分刺拳与直拳
func (e *Engine) classifyStrike(v vec3, elbowAngle float64, lead bool) string {
	if riseAngle(v) > e.cfg.UppercutAngle {
		return model.ActionUppercut
	}
	lateral := math.Abs(v.X)
	if elbowAngle < e.cfg.HookElbowAngle || (lateral > math.Abs(v.Z) && lateral > math.Abs(v.Y)) {
		return model.ActionHook
	}
	if lead {
		return model.ActionJab
	}
	return model.ActionStraight
}
