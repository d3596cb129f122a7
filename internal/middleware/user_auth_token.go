package middleware

import (
	"strings"

	"github.com/haierkeys/fast-board-sync/internal/identity"
	"github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

// UserIdentityKey gin context key of the authenticated domain.Identity
const UserIdentityKey = "user_identity"

// UserAuthToken 用户 Token 认证中间件（使用注入的 TokenManager）
// Token 按优先级读取：Authorization 头（可带 Bearer 前缀）-> token 查询参数
func UserAuthToken(tokens identity.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := app.NewResponse(c)

		token := c.GetHeader("Authorization")
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			response.ToResponse(code.ErrorNotUserAuthToken)
			c.Abort()
			return
		}

		claims, err := tokens.Parse(token)
		if err != nil {
			response.ToResponse(code.ErrorInvalidUserAuthToken)
			c.Abort()
			return
		}
		c.Set(UserIdentityKey, claims.Identity())

		c.Next()
	}
}
