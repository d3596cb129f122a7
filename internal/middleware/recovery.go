package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/haierkeys/fast-board-sync/global"
	"github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryWithLogger 创建带日志器的 Recovery 中间件（支持依赖注入）
func RecoveryWithLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = global.Log()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			var (
				errorMsg string
				field    zap.Field
			)
			switch v := err.(type) {
			case error:
				errorMsg = v.Error()
				field = zap.Error(v)
			default:
				// 非 error 类型的 panic
				errorMsg = fmt.Sprintf("%v", v)
				field = zap.String("panic_value", errorMsg)
			}
			logger.Error("Recovered from panic",
				zap.String("router", path),
				zap.String("method", c.Request.Method),
				zap.String("query", query),
				zap.String("ip", app.GetRequestIP(c)),
				zap.String("user-agent", c.Request.UserAgent()),
				zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()), // 记录错误的上下文
				field,
				zap.String("stack", string(debug.Stack())), // 错误堆栈
			)

			// 返回统一的错误响应
			app.NewResponse(c).ToResponse(code.Failed.WithDetails(errorMsg))
			c.Abort()
		}()

		c.Next()
	}
}
