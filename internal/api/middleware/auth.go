package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/punch_coach_server/internal/pkg/jwt"
	"github.com/qs3c/punch_coach_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
)

// Auth 校验登录模块签发的 Bearer 令牌，把用户 ID 放进上下文
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		switch {
		case errors.Is(err, jwt.ErrExpiredToken):
			response.AuthError(c, "认证已过期")
			c.Abort()
			return
		case err != nil || claims.UserID <= 0:
			response.AuthError(c, "认证失败")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
