package detection

import (
	"math"

	"github.com/qs3c/punch_coach_server/internal/model"
)

// Summary 动作统计，供日志与 prompt 使用
type Summary struct {
	TotalActions      int            `json:"total_actions"`
	TotalStrikes      int            `json:"total_strikes"`
	TotalDefenses     int            `json:"total_defenses"`
	ByType            map[string]int `json:"by_type"`
	AverageConfidence float64        `json:"average_confidence"`
	NoActionsDetected bool           `json:"no_actions_detected"`
}

func Summarize(stamps []model.Stamp) Summary {
	s := Summary{
		TotalActions: len(stamps),
		ByType:       make(map[string]int),
	}
	if len(stamps) == 0 {
		s.NoActionsDetected = true
		return s
	}

	var confSum float64
	for _, st := range stamps {
		s.ByType[st.ActionType]++
		confSum += st.Confidence
		switch {
		case model.IsStrike(st.ActionType):
			s.TotalStrikes++
		case model.IsDefense(st.ActionType):
			s.TotalDefenses++
		}
	}
	s.AverageConfidence = math.Round(confSum/float64(len(stamps))*1000) / 1000
	return s
}
