package metrics

import (
	"math"
	"sort"

	"github.com/qs3c/punch_coach_server/internal/model"
)

// 指标名称
const (
	PunchFrequency       = "punch_frequency"
	GuardRecoverySpeed   = "guard_recovery_speed"
	CombinationFrequency = "combination_frequency"
	DefenseRatio         = "defense_ratio"
)

const (
	// recoveryHorizon 出拳后超过该时长才回防不计入样本
	recoveryHorizon = 2.0
	// comboGap 相邻两拳间隔小于该值算一次组合
	comboGap = 1.0
)

// Range 某经验等级的基准区间
type Range struct {
	Min float64
	Max float64
}

type benchmark struct {
	unit     string
	inverted bool // 越小越好
	byLevel  map[string]Range
	fixed    *Range
}

func (b benchmark) rangeFor(level string) Range {
	if b.fixed != nil {
		return *b.fixed
	}
	if r, ok := b.byLevel[level]; ok {
		return r
	}
	return b.byLevel[model.LevelIntermediate]
}

var benchmarks = map[string]benchmark{
	PunchFrequency: {
		unit: "punches_per_10s",
		byLevel: map[string]Range{
			model.LevelBeginner:     {1.0, 2.0},
			model.LevelIntermediate: {1.5, 2.5},
			model.LevelAdvanced:     {2.0, 3.0},
			model.LevelCompetitive:  {2.5, 3.5},
		},
	},
	GuardRecoverySpeed: {
		unit:     "seconds",
		inverted: true,
		byLevel: map[string]Range{
			model.LevelBeginner:     {0.8, 1.2},
			model.LevelIntermediate: {0.5, 0.8},
			model.LevelAdvanced:     {0.3, 0.5},
			model.LevelCompetitive:  {0.2, 0.4},
		},
	},
	CombinationFrequency: {
		unit:  "combinations_per_minute",
		fixed: &Range{2.0, 8.0},
	},
	DefenseRatio: {
		unit:  "ratio",
		fixed: &Range{0.2, 0.4},
	},
}

// Benchmark 查询指标在某经验等级下的基准区间，未知等级按 intermediate
func Benchmark(metric, level string) (Range, bool) {
	b, ok := benchmarks[metric]
	if !ok {
		return Range{}, false
	}
	return b.rangeFor(level), true
}

// Percentile 线性插值到 [0,100]，区间退化时返回 50
func Percentile(value float64, r Range, inverted bool) int {
	if r.Max == r.Min {
		return 50
	}
	normalized := (value - r.Min) / (r.Max - r.Min)
	if inverted {
		normalized = 1 - normalized
	}
	p := int(normalized * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func newMetric(name, level string, value float64, places int) model.MetricValue {
	b := benchmarks[name]
	r := b.rangeFor(level)
	return model.MetricValue{
		Value:        round(value, places),
		Unit:         b.unit,
		BenchmarkMin: r.Min,
		BenchmarkMax: r.Max,
		Percentile:   Percentile(value, r, b.inverted),
	}
}

// isDefensive 掉手不算防守动作
func isDefensive(actionType string) bool {
	return model.IsDefense(actionType) && actionType != model.ActionGuardDown
}

// Calculate 由姿态摘要、动作与身体数据计算派生指标，无法计算的指标不出现在结果中
func Calculate(summary model.PoseSummary, stamps []model.Stamp, profile *model.BodyProfile) model.MetricMap {
	level := model.LevelIntermediate
	if profile != nil && profile.ExperienceLevel != "" {
		level = profile.ExperienceLevel
	}
	duration := summary.DurationSeconds
	if duration == 0 && summary.FPS > 0 {
		duration = float64(summary.TotalFrames) / summary.FPS
	}

	ordered := make([]model.Stamp, len(stamps))
	copy(ordered, stamps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimestampSeconds < ordered[j].TimestampSeconds
	})

	var strikes, guardUps []float64
	var defenses int
	for _, st := range ordered {
		switch {
		case model.IsStrike(st.ActionType):
			strikes = append(strikes, st.TimestampSeconds)
		case st.ActionType == model.ActionGuardUp:
			guardUps = append(guardUps, st.TimestampSeconds)
		}
		if isDefensive(st.ActionType) {
			defenses++
		}
	}

	metrics := make(model.MetricMap)

	if duration > 0 {
		freq := float64(len(strikes)) / duration * 10
		metrics[PunchFrequency] = newMetric(PunchFrequency, level, freq, 2)
	}

	if samples := recoverySamples(strikes, guardUps); len(samples) > 0 {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		metrics[GuardRecoverySpeed] = newMetric(GuardRecoverySpeed, level, sum/float64(len(samples)), 2)
	}

	if len(strikes) > 0 && duration > 0 {
		var combos int
		for i := 0; i+1 < len(strikes); i++ {
			if strikes[i+1]-strikes[i] < comboGap {
				combos++
			}
		}
		metrics[CombinationFrequency] = newMetric(CombinationFrequency, level, float64(combos)/duration*60, 1)
	}

	if len(ordered) > 0 {
		metrics[DefenseRatio] = newMetric(DefenseRatio, level, float64(defenses)/float64(len(ordered)), 2)
	}

	return metrics
}

// recoverySamples 每次出拳与其后第一个 guard_up 配对，超出时限的出拳不产生样本
func recoverySamples(strikes, guardUps []float64) []float64 {
	var samples []float64
	for _, st := range strikes {
		idx := sort.Search(len(guardUps), func(i int) bool { return guardUps[i] > st })
		if idx == len(guardUps) {
			continue
		}
		if d := guardUps[idx] - st; d < recoveryHorizon {
			samples = append(samples, d)
		}
	}
	return samples
}
