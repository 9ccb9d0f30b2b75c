package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
	"github.com/qs3c/punch_coach_server/internal/model"
	"github.com/qs3c/punch_coach_server/internal/pkg/llm"
)

var (
	// ErrRetryExhausted 模型调用在全部重试后仍失败
	ErrRetryExhausted = errors.New("llm retry exhausted")
	// ErrParseResponse 模型输出不是约定的 JSON 结构
	ErrParseResponse = errors.New("invalid llm response")
)

const (
	minItems = 3
	maxItems = 5
)

// Feedback 解析后的教练反馈及模型用量
type Feedback struct {
	OverallAssessment string
	PerformanceScore  int
	Strengths         model.FeedbackItems
	Weaknesses        model.FeedbackItems
	Recommendations   model.Recommendations
	Model             string
	PromptTokens      int
	CompletionTokens  int
}

// SleepFunc 重试间隔，可被 ctx 打断
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Option func(*Orchestrator)

// WithSleep 替换重试等待，测试用
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// Orchestrator 组装 prompt、带退避调用模型并校验输出，不持有单次分析的状态
type Orchestrator struct {
	client      llm.Client
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	logger      *zap.Logger
}

func NewOrchestrator(client llm.Client, cfg config.LLMConfig, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay(),
		sleep:       sleepContext,
		logger:      logger,
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 3
	}
	if o.baseDelay <= 0 {
		o.baseDelay = time.Second
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze 生成 prompt、调用模型并解析结果
func (o *Orchestrator) Analyze(ctx context.Context, in Input) (*Feedback, error) {
	prompt, err := o.FormatPrompt(in)
	if err != nil {
		return nil, err
	}

	completion, err := o.CallWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	fb, err := o.ParseResponse(completion.Content)
	if err != nil {
		return nil, err
	}
	fb.Model = completion.Model
	fb.PromptTokens = completion.PromptTokens
	fb.CompletionTokens = completion.CompletionTokens

	o.logger.Info("llm.analysis_generated",
		zap.Int("strengths_count", len(fb.Strengths)),
		zap.Int("weaknesses_count", len(fb.Weaknesses)),
		zap.Int("recommendations_count", len(fb.Recommendations)),
		zap.Int("performance_score", fb.PerformanceScore),
		zap.String("model", fb.Model),
	)
	return fb, nil
}

// CallWithRetry 失败后按 base·2^n 退避重试，最后一次失败后不再等待
func (o *Orchestrator) CallWithRetry(ctx context.Context, prompt string) (*llm.Completion, error) {
	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		o.logger.Info("llm.call_attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", o.maxAttempts),
		)

		completion, err := o.client.Complete(ctx, llm.Request{
			System:   systemPrompt,
			User:     prompt,
			JSONMode: true,
		})
		if err == nil {
			return completion, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		o.logger.Warn("llm.call_failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt < o.maxAttempts-1 {
			delay := o.baseDelay << attempt
			o.logger.Info("llm.retry_scheduled",
				zap.Duration("delay", delay),
				zap.Int("next_attempt", attempt+2),
			)
			if err := o.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	o.logger.Error("llm.retries_exhausted",
		zap.Int("max_attempts", o.maxAttempts),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("%w: %d attempts, last error: %v", ErrRetryExhausted, o.maxAttempts, lastErr)
}

type rawFeedback struct {
	OverallAssessment string                 `json:"overall_assessment"`
	PerformanceScore  float64                `json:"performance_score"`
	Strengths         []model.FeedbackItem   `json:"strengths"`
	Weaknesses        []model.FeedbackItem   `json:"weaknesses"`
	Recommendations   []model.Recommendation `json:"recommendations"`
}

var requiredKeys = []string{"overall_assessment", "performance_score", "strengths", "weaknesses", "recommendations"}

// ParseResponse 校验必需字段，条目数超出截断到 5，不足补足 3 条通用内容
func (o *Orchestrator) ParseResponse(content string) (*Feedback, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseResponse, err)
	}
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			return nil, fmt.Errorf("%w: missing required key %q", ErrParseResponse, k)
		}
	}

	var raw rawFeedback
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseResponse, err)
	}

	score := int(math.Round(raw.PerformanceScore))
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	fb := &Feedback{
		OverallAssessment: raw.OverallAssessment,
		PerformanceScore:  score,
		Strengths:         o.fitFeedback("strengths", raw.Strengths),
		Weaknesses:        o.fitFeedback("weaknesses", raw.Weaknesses),
		Recommendations:   o.fitRecommendations(raw.Recommendations),
	}
	return fb, nil
}

func (o *Orchestrator) warnItemCount(section string, count int) {
	o.logger.Warn("llm.item_count_warning",
		zap.String("section", section),
		zap.Int("count", count),
		zap.String("expected", "3-5"),
	)
}

func (o *Orchestrator) fitFeedback(section string, items []model.FeedbackItem) model.FeedbackItems {
	if len(items) >= minItems && len(items) <= maxItems {
		return items
	}
	o.warnItemCount(section, len(items))
	if len(items) > maxItems {
		return items[:maxItems]
	}
	out := make(model.FeedbackItems, len(items), minItems)
	copy(out, items)
	for len(out) < minItems {
		out = append(out, model.FeedbackItem{
			Title:       "Additional " + section[:len(section)-1],
			Description: "Additional analysis point",
		})
	}
	return out
}

func (o *Orchestrator) fitRecommendations(items []model.Recommendation) model.Recommendations {
	for i := range items {
		switch items[i].Priority {
		case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		default:
			items[i].Priority = model.PriorityMedium
		}
		switch items[i].DrillType {
		case model.DrillSpeed, model.DrillPower, model.DrillDefense, model.DrillTechnique, model.DrillFootwork:
		default:
			items[i].DrillType = model.DrillTechnique
		}
	}

	if len(items) >= minItems && len(items) <= maxItems {
		return items
	}
	o.warnItemCount("recommendations", len(items))
	if len(items) > maxItems {
		return items[:maxItems]
	}
	out := make(model.Recommendations, len(items), minItems)
	copy(out, items)
	for len(out) < minItems {
		out = append(out, model.Recommendation{
			Title:       "Additional recommendation",
			Description: "Additional analysis point",
			Priority:    model.PriorityLow,
			DrillType:   model.DrillTechnique,
		})
	}
	return out
}
