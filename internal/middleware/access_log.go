package middleware

import (
	"time"

	"github.com/haierkeys/fast-board-sync/global"
	"github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLogWithLogger 创建访问日志中间件（使用注入的日志器）
func AccessLogWithLogger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = global.Log()
	}
	return func(c *gin.Context) {

		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		startTime := time.Now()
		c.Next()

		timeCost := time.Since(startTime)

		log.Info(path,
			zap.String("method", c.Request.Method),
			zap.String("url", path+"?"+query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("time-cost", timeCost),
			zap.String("ip", app.GetRequestIP(c)),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.String(logger.FieldTraceID, GetTraceIDFromGin(c)),
			zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()),
		)
	}
}
