package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/config"
)

// ErrEmptyResponse 模型未返回任何内容
var ErrEmptyResponse = errors.New("llm returned no choices")

// Request 一次对话请求
type Request struct {
	System string
	User   string
	// JSONMode 要求模型只输出 JSON 对象
	JSONMode bool
}

// Completion 模型输出与用量
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client 语言模型调用，实现需并发安全且不持有单次分析的状态
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Model() string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient OpenAI 兼容的 chat/completions 接口
type OpenAIClient struct {
	httpClient  *resty.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewOpenAIClient 重试由调用方控制，这里不开启 resty 的自动重试
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &OpenAIClient{
		httpClient:  client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var result chatResponse
	var apiErr errorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("call chat completions: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn("llm.http_error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error_type", apiErr.Error.Type),
			zap.String("error_message", apiErr.Error.Message),
		)
		return nil, fmt.Errorf("chat completions returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	model := result.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Content:          result.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}
