package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qs3c/punch_coach_server/internal/pkg/jwt"
	"github.com/qs3c/punch_coach_server/internal/pkg/pubsub"
	"github.com/qs3c/punch_coach_server/internal/pkg/response"
	"github.com/qs3c/punch_coach_server/internal/pkg/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境需要按 cors.allowed_origins 校验 Origin
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	hub       *ws.Hub
	jwtSecret string
	logger    *zap.Logger
}

func NewWebSocketHandler(hub *ws.Hub, jwtSecret string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// Handle WebSocket 连接处理
// GET /api/v1/ws?token=xxx&analysis_id=yyy
// 推送只发往令牌所属用户，analysis_id 只用于过滤
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.AuthError(c, "missing token")
		return
	}

	claims, err := jwt.ParseToken(token, h.jwtSecret)
	if err != nil {
		response.AuthError(c, "invalid token")
		return
	}

	var analysisID int64
	if raw := c.Query("analysis_id"); raw != "" {
		analysisID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || analysisID <= 0 {
			response.ValidationError(c, "无效的分析ID")
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws.upgrade_failed", zap.Error(err))
		return
	}

	client := &ws.Client{
		UserID:     claims.UserID,
		AnalysisID: analysisID,
		Conn:       conn,
	}

	h.hub.Register(client)

	// 保持连接，读取消息（主要用于检测断开）
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ForwardProgress 把 Redis 上的进度消息转发给对应用户的连接
func ForwardProgress(hub *ws.Hub, logger *zap.Logger) func(*pubsub.ProgressMessage) {
	return func(msg *pubsub.ProgressMessage) {
		if msg.UserID == 0 {
			return
		}
		if err := hub.SendAnalysis(msg.UserID, msg.AnalysisID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
			logger.Warn("ws.forward_failed",
				zap.Int64("analysis_id", msg.AnalysisID),
				zap.Error(err),
			)
		}
	}
}
