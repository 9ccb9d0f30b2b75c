package detection

import (
	"math"

	"github.com/qs3c/punch_coach_server/internal/model"
)

type vec3 struct{ X, Y, Z float64 }

func jointVec(j model.Joint) vec3 {
	return vec3{j.X, j.Y, j.Z}
}

func (a vec3) sub(b vec3) vec3     { return vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a vec3) scale(k float64) vec3 { return vec3{a.X * k, a.Y * k, a.Z * k} }
func (a vec3) norm() float64        { return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z) }
func (a vec3) norm2D() float64      { return math.Hypot(a.X, a.Y) }

func midpoint(a, b model.Joint) vec3 {
	return vec3{(a.X + b.X) / 2, (a.Y + b.Y) / 2, (a.Z + b.Z) / 2}
}

// riseAngle 速度方向与水平面的夹角（度），图像 y 轴向下，向上为正
func riseAngle(v vec3) float64 {
	return math.Atan2(-v.Y, math.Hypot(v.X, v.Z)) * 180 / math.Pi
}

// jointAngle 以 b 为顶点的夹角（度）
func jointAngle(a, b, c vec3) float64 {
	ba, bc := a.sub(b), c.sub(b)
	den := ba.norm() * bc.norm()
	if den == 0 {
		return 180
	}
	cos := (ba.X*bc.X + ba.Y*bc.Y + ba.Z*bc.Z) / den
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// confidence 阈值余量与关键点可见度共同决定置信度
func confidence(margin, visibility float64) float64 {
	return round3(clamp01(0.4 + 0.3*math.Min(1, math.Max(0, margin)) + 0.3*clamp01(visibility)))
}
