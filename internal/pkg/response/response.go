package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess     = 0
	CodeValidation  = 1000
	CodeAuthFailed  = 1001
	CodeNotFound    = 1003
	CodeConflict    = 1005
	CodeServerError = 5000
	CodeUnavailable = 5003
)

// 错误码对应的默认消息与 HTTP 状态
var codeMeta = map[int]struct {
	message string
	status  int
}{
	CodeSuccess:     {"success", http.StatusOK},
	CodeValidation:  {"invalid request", http.StatusBadRequest},
	CodeAuthFailed:  {"authentication failed", http.StatusUnauthorized},
	CodeNotFound:    {"resource not found", http.StatusNotFound},
	CodeConflict:    {"resource already exists", http.StatusConflict},
	CodeServerError: {"internal server error", http.StatusInternalServerError},
	CodeUnavailable: {"service unavailable", http.StatusServiceUnavailable},
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted 异步任务已受理
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    CodeSuccess,
		Message: "accepted",
		Data:    data,
	})
}

// Error 错误响应，HTTP 状态由错误码决定
func Error(c *gin.Context, code int, message string) {
	meta, ok := codeMeta[code]
	if !ok {
		meta = codeMeta[CodeServerError]
	}
	if message == "" {
		message = meta.message
	}
	c.JSON(meta.status, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ValidationError 参数错误
func ValidationError(c *gin.Context, message string) {
	Error(c, CodeValidation, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, CodeAuthFailed, message)
}

// NotFoundError 资源不存在（包括无权访问）
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

// ConflictError 资源冲突
func ConflictError(c *gin.Context, message string) {
	Error(c, CodeConflict, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// UnavailableError 依赖服务不可用
func UnavailableError(c *gin.Context, message string) {
	Error(c, CodeUnavailable, message)
}
