package detection

import (
	"math"

	"github.com/qs3c/punch_coach_server/internal/model"
)

func wristMid(s sample) vec3 {
	return midpoint(s.joint(model.JointLeftWrist), s.joint(model.JointRightWrist))
}

// guardRatio 双腕到鼻子的平均平面距离
func guardRatio(s sample) float64 {
	nose := jointVec(s.joint(model.JointNose))
	l := jointVec(s.joint(model.JointLeftWrist)).sub(nose).norm2D()
	r := jointVec(s.joint(model.JointRightWrist)).sub(nose).norm2D()
	return (l + r) / 2 / s.sw
}

// detectGuard 护头状态带滞回，首帧只确定初始状态不产生动作
func (e *Engine) detectGuard(samples []sample) []model.Stamp {
	var out []model.Stamp
	known, up := false, true

	for i, s := range samples {
		lw, rw, nose := s.joint(model.JointLeftWrist), s.joint(model.JointRightWrist), s.joint(model.JointNose)
		if !e.visible(lw) || !e.visible(rw) || !e.visible(nose) {
			continue
		}
		ratio := guardRatio(s)
		if !known {
			known, up = true, ratio <= e.cfg.GuardDownRatio
			continue
		}

		vis := (lw.Visibility + rw.Visibility + nose.Visibility) / 3
		switch {
		case up && ratio > e.cfg.GuardDownRatio:
			up = false
			st := newStamp(s, model.ActionGuardDown, model.SideBoth, confidence(ratio/e.cfg.GuardDownRatio-1, vis))
			st.TrajectoryData = e.trajectory(samples, i, wristMid)
			out = append(out, st)
		case !up && ratio < e.cfg.GuardUpRatio:
			up = true
			st := newStamp(s, model.ActionGuardUp, model.SideBoth, confidence(e.cfg.GuardUpRatio/math.Max(ratio, 1e-6)-1, vis))
			st.TrajectoryData = e.trajectory(samples, i, wristMid)
			out = append(out, st)
		}
	}
	return out
}

func shoulderMid(s sample) vec3 {
	return midpoint(s.joint(model.JointLeftShoulder), s.joint(model.JointRightShoulder))
}

func hipMid(s sample) vec3 {
	return midpoint(s.joint(model.JointLeftHip), s.joint(model.JointRightHip))
}

// lateralOffset 肩中点相对髋中点的横向偏移
func lateralOffset(s sample) float64 {
	return (shoulderMid(s).X - hipMid(s).X) / s.sw
}

// torsoHeight 鼻子到髋中点的纵向距离
func torsoHeight(s sample) float64 {
	return hipMid(s).Y - jointVec(s.joint(model.JointNose)).Y
}

func torsoVisibility(s sample) float64 {
	return (s.joint(model.JointLeftShoulder).Visibility + s.joint(model.JointRightShoulder).Visibility +
		s.joint(model.JointLeftHip).Visibility + s.joint(model.JointRightHip).Visibility) / 4
}

// detectSlips 横向偏移相对近期基线超过阈值时记一次侧闪
func (e *Engine) detectSlips(seg []sample) []model.Stamp {
	var out []model.Stamp
	inSlip := false
	// 基线只统计未处于侧闪中的帧
	type point struct{ t, offset float64 }
	var history []point

	for i, s := range seg {
		if torsoVisibility(s) < e.cfg.MinVisibility {
			continue
		}
		offset := lateralOffset(s)
		for len(history) > 0 && s.t-history[0].t > e.cfg.BaselineWindow {
			history = history[1:]
		}
		if len(history) == 0 {
			inSlip = false
			history = append(history, point{s.t, offset})
			continue
		}

		var sum float64
		for _, p := range history {
			sum += p.offset
		}
		dev := offset - sum/float64(len(history))

		switch {
		case !inSlip && math.Abs(dev) > e.cfg.SlipOffset:
			inSlip = true
			// 位移方向与人物左肩方向一致即为向左
			leftDir := s.joint(model.JointLeftShoulder).X - s.joint(model.JointRightShoulder).X
			side := model.SideRight
			if dev*leftDir > 0 {
				side = model.SideLeft
			}
			st := newStamp(s, model.ActionSlip, side, confidence(math.Abs(dev)/e.cfg.SlipOffset-1, torsoVisibility(s)))
			st.TrajectoryData = e.trajectory(seg, i, shoulderMid)
			out = append(out, st)
		case inSlip && math.Abs(dev) < e.cfg.SlipOffset*e.cfg.SlipExitFactor:
			inSlip = false
		}
		if !inSlip {
			history = append(history, point{s.t, offset})
		}
	}
	return out
}

// detectDucks 躯干高度相对回看窗口内最大值下降超过阈值时记一次下潜
func (e *Engine) detectDucks(seg []sample) []model.Stamp {
	var out []model.Stamp
	inDuck := false
	type point struct{ t, height float64 }
	var history []point

	for i, s := range seg {
		nose := s.joint(model.JointNose)
		if !e.visible(nose) || torsoVisibility(s) < e.cfg.MinVisibility {
			continue
		}
		h := torsoHeight(s)
		for len(history) > 0 && s.t-history[0].t > e.cfg.BaselineWindow {
			history = history[1:]
		}

		var maxH float64
		for _, p := range history {
			maxH = math.Max(maxH, p.height)
		}
		history = append(history, point{s.t, h})
		if maxH <= 0 {
			continue
		}

		drop := 1 - h/maxH
		switch {
		case !inDuck && drop > e.cfg.DuckDrop:
			inDuck = true
			vis := (nose.Visibility + torsoVisibility(s)) / 2
			st := newStamp(s, model.ActionDuck, model.SideBoth, confidence(drop/e.cfg.DuckDrop-1, vis))
			st.TrajectoryData = e.trajectory(seg, i, func(s sample) vec3 { return jointVec(s.joint(model.JointNose)) })
			out = append(out, st)
		case inDuck && drop < e.cfg.DuckDrop*e.cfg.DuckExitFactor:
			inDuck = false
		}
	}
	return out
}

// mergeBobWeave 时间上相近的侧闪和下潜合并为一次摇闪
func (e *Engine) mergeBobWeave(slips, ducks []model.Stamp) []model.Stamp {
	var out []model.Stamp
	used := make([]bool, len(slips))

	for _, d := range ducks {
		matched := -1
		for k, s := range slips {
			if !used[k] && math.Abs(s.TimestampSeconds-d.TimestampSeconds) <= e.cfg.BobWeaveWindow {
				matched = k
				break
			}
		}
		if matched < 0 {
			out = append(out, d)
			continue
		}

		used[matched] = true
		s := slips[matched]
		first := s
		if d.TimestampSeconds < s.TimestampSeconds {
			first = d
		}
		bw := model.Stamp{
			TimestampSeconds: first.TimestampSeconds,
			FrameNumber:      first.FrameNumber,
			ActionType:       model.ActionBobWeave,
			Side:             s.Side,
			Confidence:       round3((s.Confidence + d.Confidence) / 2),
			TrajectoryData:   s.TrajectoryData,
		}
		out = append(out, bw)
	}

	for k, s := range slips {
		if !used[k] {
			out = append(out, s)
		}
	}
	return out
}
