package coach

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/pipeline/detection"
)

const systemPrompt = "You are an expert boxing coach providing strategic analysis. Always respond with valid JSON only."

// timelineLimit prompt 中最多列出的动作条数
const timelineLimit = 20

// 按经验等级调整用语和侧重点
var levelDirectives = map[string]string{
	model.LevelBeginner: `The user is a BEGINNER boxer. Please:
- Use simple, beginner-friendly terminology
- Focus on fundamental techniques (basic stance, guard position, simple punches)
- Provide instructional, encouraging tone
- Emphasize safety and proper form over advanced techniques
- Recommend basic drills suitable for newcomers`,
	model.LevelIntermediate: `The user is an INTERMEDIATE boxer. Please:
- Use standard boxing terminology
- Focus on refining technique and building consistency
- Balance technical feedback with practical advice
- Recommend drills that challenge and improve existing skills`,
	model.LevelAdvanced: `The user is an ADVANCED boxer. Please:
- Use technical boxing terminology
- Focus on subtle technique refinements and strategic elements
- Provide detailed analysis of timing, angles, and combinations
- Recommend advanced drills and sparring concepts`,
	model.LevelCompetitive: `The user is a COMPETITIVE boxer (competition-level). Please:
- Use advanced technical and strategic terminology
- Focus on high-level refinements and optimization
- Analyze tactical elements, ring generalship, and fight IQ
- Provide competition-specific recommendations
- Compare metrics to competitive benchmarks`,
}

const responseSchema = `{
    "overall_assessment": "A 2-3 sentence overall assessment of the boxer's performance",
    "performance_score": <integer 0-100>,
    "strengths": [
        {"title": "Brief title", "description": "Detailed description (1-2 sentences)", "metric_reference": "metric_name or null"}
    ],
    "weaknesses": [
        {"title": "Brief title", "description": "Detailed description (1-2 sentences)", "metric_reference": "metric_name or null"}
    ],
    "recommendations": [
        {"title": "Brief title", "description": "Specific drill or practice recommendation (1-2 sentences)", "priority": "high|medium|low", "drill_type": "speed|power|defense|technique|footwork"}
    ]
}`

const noActionsSection = `No actions were detected in this video. Do not invent specific punches or defensive moves.
Base your feedback on general fundamentals (stance, guard, movement) and recommend recording a clearer,
longer sparring clip so that actions can be detected next time.`

// Input 生成 prompt 所需的全部数据
type Input struct {
	Pose    model.PoseSummary
	Stamps  []model.Stamp
	Profile *model.BodyProfile
	Metrics model.MetricMap
}

type timelineEntry struct {
	Time   float64 `json:"time"`
	Action string  `json:"action"`
	Side   string  `json:"side"`
}

type stampDigest struct {
	TotalActions      int             `json:"total_actions"`
	Strikes           map[string]int  `json:"strikes"`
	Defenses          map[string]int  `json:"defenses"`
	TotalStrikes      int             `json:"total_strikes"`
	TotalDefenses     int             `json:"total_defenses"`
	AverageConfidence float64         `json:"average_confidence"`
	Timeline          []timelineEntry `json:"timeline"`
}

func digestStamps(stamps []model.Stamp) stampDigest {
	summary := detection.Summarize(stamps)
	d := stampDigest{
		TotalActions:      summary.TotalActions,
		Strikes:           make(map[string]int),
		Defenses:          make(map[string]int),
		TotalStrikes:      summary.TotalStrikes,
		TotalDefenses:     summary.TotalDefenses,
		AverageConfidence: math.Round(summary.AverageConfidence*100) / 100,
		Timeline:          make([]timelineEntry, 0, timelineLimit),
	}
	for action, n := range summary.ByType {
		switch {
		case model.IsStrike(action):
			d.Strikes[action] = n
		case model.IsDefense(action):
			d.Defenses[action] = n
		}
	}
	for i, st := range stamps {
		if i >= timelineLimit {
			break
		}
		d.Timeline = append(d.Timeline, timelineEntry{
			Time:   math.Round(st.TimestampSeconds*10) / 10,
			Action: st.ActionType,
			Side:   st.Side,
		})
	}
	return d
}

func experienceLevel(p *model.BodyProfile) string {
	if p == nil {
		return model.LevelIntermediate
	}
	if _, ok := levelDirectives[p.ExperienceLevel]; !ok {
		return model.LevelIntermediate
	}
	return p.ExperienceLevel
}

// FormatPrompt 把姿态摘要、动作统计、指标与经验等级要求组装成一次请求
func (o *Orchestrator) FormatPrompt(in Input) (string, error) {
	level := experienceLevel(in.Profile)

	poseJSON, err := json.MarshalIndent(in.Pose, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal pose summary: %w", err)
	}
	metrics := in.Metrics
	if metrics == nil {
		metrics = model.MetricMap{}
	}
	metricsJSON, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an expert boxing coach analyzing a sparring video.\n")
	b.WriteString("Analyze the following data and provide strategic coaching feedback.\n\n")

	b.WriteString("## User Profile\n")
	if p := in.Profile; p != nil {
		fmt.Fprintf(&b, "- Height: %d cm\n- Weight: %d kg\n", p.HeightCm, p.WeightKg)
		stance := p.Stance
		if stance == "" {
			stance = model.StanceOrthodox
		}
		fmt.Fprintf(&b, "- Experience Level: %s\n- Stance: %s\n\n", level, stance)
	} else {
		fmt.Fprintf(&b, "- Height: Unknown\n- Weight: Unknown\n- Experience Level: %s\n- Stance: %s\n\n", level, model.StanceOrthodox)
	}
	b.WriteString(levelDirectives[level])
	b.WriteString("\n\n")

	b.WriteString("## Pose Analysis Summary\n")
	b.Write(poseJSON)
	b.WriteString("\n\n")

	b.WriteString("## Detected Actions (Stamps)\n")
	if len(in.Stamps) == 0 {
		b.WriteString(noActionsSection)
	} else {
		stampsJSON, err := json.MarshalIndent(digestStamps(in.Stamps), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal stamp summary: %w", err)
		}
		b.Write(stampsJSON)
	}
	b.WriteString("\n\n")

	b.WriteString("## Calculated Metrics\n")
	b.Write(metricsJSON)
	b.WriteString("\n\n")

	b.WriteString("## Your Task\n")
	b.WriteString("Based on the data above, provide a comprehensive analysis in the following JSON format:\n\n")
	b.WriteString(responseSchema)
	b.WriteString(`

IMPORTANT:
- Provide exactly 3-5 items for each of strengths, weaknesses, and recommendations
- Be specific and actionable in your feedback
- Reference the metrics data where relevant
- Adjust terminology and recommendations to the user's experience level
- Return ONLY the JSON object, no additional text
`)
	return b.String(), nil
}
