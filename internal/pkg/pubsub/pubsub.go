package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelAnalysisProgress = "analysis_progress"
)

// 消息类型
const (
	TypeProgress = "progress"
	TypeComplete = "complete"
	TypeError    = "error"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type            string `json:"type"`
	UserID          int64  `json:"user_id"`
	AnalysisID      int64  `json:"analysis_id"`
	Status          string `json:"status"`
	Stage           string `json:"stage,omitempty"`
	Progress        int    `json:"progress_percent"`
	FramesProcessed int    `json:"frames_processed,omitempty"`
	FramesFailed    int    `json:"frames_failed,omitempty"`
	ReportID        int64  `json:"report_id,omitempty"`
	Message         string `json:"message,omitempty"`
	ErrorCode       string `json:"code,omitempty"`
	UserAction      string `json:"user_action,omitempty"`
}

// 阶段对应的消息
var StageMessages = map[string]string{
	"pose_estimation":   "Tracking body movement",
	"stamp_generation":  "Detecting punches and defensive moves",
	"llm_analysis":      "Generating coaching feedback",
	"report_generation": "Assembling your report",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	if msg.Type == "" {
		msg.Type = TypeProgress
	}

	// 自动填充阶段描述
	if msg.Message == "" && msg.Type == TypeProgress && msg.Stage != "" {
		if message, ok := StageMessages[msg.Stage]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelAnalysisProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，阻塞直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer pubsub.Close()

	// 等待订阅确认，避免之后发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
