package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/punch_coach_server/internal/model"
)

func tenSeconds() model.PoseSummary {
	return model.PoseSummary{TotalFrames: 300, SuccessfulFrames: 290, FPS: 30, DurationSeconds: 10}
}

func TestCalculate_JabGuardStraight(t *testing.T) {
	stamps := []model.Stamp{
		{TimestampSeconds: 2.0, ActionType: model.ActionStraight, Side: model.SideRight},
		{TimestampSeconds: 1.0, ActionType: model.ActionJab, Side: model.SideLeft},
		{TimestampSeconds: 1.4, ActionType: model.ActionGuardUp, Side: model.SideBoth},
	}
	profile := &model.BodyProfile{ExperienceLevel: model.LevelIntermediate}

	m := Calculate(tenSeconds(), stamps, profile)

	freq, ok := m[PunchFrequency]
	require.True(t, ok)
	assert.Equal(t, 2.0, freq.Value)
	assert.Equal(t, "punches_per_10s", freq.Unit)
	assert.Equal(t, 1.5, freq.BenchmarkMin)
	assert.Equal(t, 2.5, freq.BenchmarkMax)
	assert.Equal(t, 50, freq.Percentile)

	recovery, ok := m[GuardRecoverySpeed]
	require.True(t, ok)
	assert.Equal(t, 0.4, recovery.Value)
	assert.Equal(t, "seconds", recovery.Unit)
	// 快于区间下限，反向指标封顶 100
	assert.Equal(t, 100, recovery.Percentile)

	// 两拳间隔正好 1 秒，不算组合
	combo := m[CombinationFrequency]
	assert.Zero(t, combo.Value)
	assert.Zero(t, combo.Percentile)

	ratio := m[DefenseRatio]
	assert.Equal(t, 0.33, ratio.Value)
}

func TestCalculate_Combinations(t *testing.T) {
	stamps := []model.Stamp{
		{TimestampSeconds: 1.0, ActionType: model.ActionJab},
		{TimestampSeconds: 1.5, ActionType: model.ActionStraight},
		{TimestampSeconds: 2.2, ActionType: model.ActionHook},
		{TimestampSeconds: 6.0, ActionType: model.ActionJab},
	}
	m := Calculate(tenSeconds(), stamps, nil)

	combo := m[CombinationFrequency]
	assert.Equal(t, 12.0, combo.Value)
	assert.Equal(t, "combinations_per_minute", combo.Unit)
	assert.Equal(t, 100, combo.Percentile)
}

func TestCalculate_NoStamps(t *testing.T) {
	m := Calculate(tenSeconds(), nil, &model.BodyProfile{ExperienceLevel: model.LevelBeginner})

	freq, ok := m[PunchFrequency]
	require.True(t, ok)
	assert.Zero(t, freq.Value)
	assert.Zero(t, freq.Percentile)

	assert.NotContains(t, m, GuardRecoverySpeed)
	assert.NotContains(t, m, CombinationFrequency)
	assert.NotContains(t, m, DefenseRatio)
}

func TestCalculate_RecoveryBeyondHorizonIgnored(t *testing.T) {
	stamps := []model.Stamp{
		{TimestampSeconds: 1.0, ActionType: model.ActionJab},
		{TimestampSeconds: 3.5, ActionType: model.ActionGuardUp},
	}
	m := Calculate(tenSeconds(), stamps, nil)
	assert.NotContains(t, m, GuardRecoverySpeed)
}

func TestCalculate_UnknownLevelFallsBackToIntermediate(t *testing.T) {
	stamps := []model.Stamp{{TimestampSeconds: 1.0, ActionType: model.ActionJab}}
	m := Calculate(tenSeconds(), stamps, &model.BodyProfile{ExperienceLevel: "legend"})

	assert.Equal(t, 1.5, m[PunchFrequency].BenchmarkMin)
	assert.Equal(t, 2.5, m[PunchFrequency].BenchmarkMax)
}

func TestCalculate_GuardDownIsNotDefense(t *testing.T) {
	stamps := []model.Stamp{
		{TimestampSeconds: 1.0, ActionType: model.ActionGuardDown},
		{TimestampSeconds: 2.0, ActionType: model.ActionSlip},
	}
	m := Calculate(tenSeconds(), stamps, nil)
	assert.Equal(t, 0.5, m[DefenseRatio].Value)
}

func TestPercentile_Bounds(t *testing.T) {
	r := Range{Min: 0.5, Max: 0.8}

	assert.Equal(t, 0, Percentile(0.5, r, false))
	assert.Equal(t, 100, Percentile(0.8, r, false))
	assert.Equal(t, 100, Percentile(0.5, r, true))
	assert.Equal(t, 0, Percentile(0.8, r, true))

	assert.Equal(t, 0, Percentile(-3, r, false))
	assert.Equal(t, 100, Percentile(9, r, false))
	assert.Equal(t, 0, Percentile(9, r, true))
	assert.Equal(t, 100, Percentile(-3, r, true))

	assert.Equal(t, 50, Percentile(1.0, Range{Min: 1, Max: 1}, false))
}

func TestBenchmark(t *testing.T) {
	r, ok := Benchmark(GuardRecoverySpeed, model.LevelCompetitive)
	require.True(t, ok)
	assert.Equal(t, Range{Min: 0.2, Max: 0.4}, r)

	_, ok = Benchmark("reach_ratio", model.LevelCompetitive)
	assert.False(t, ok)
}
