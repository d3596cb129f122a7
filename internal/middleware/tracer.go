package middleware

import (
	"context"

	"github.com/haierkeys/fast-board-sync/pkg/app"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// DefaultTraceIDHeader 默认的 Trace ID 请求头名称
	DefaultTraceIDHeader = "X-Trace-ID"
	// TraceIDKey Context 中存储 Trace ID 的键，与应答体共用
	TraceIDKey = app.TraceIDKey
)

type traceIDKey struct{}

// TraceMiddlewareWithConfig 创建请求追踪中间件
// 功能：
// 1. 从请求头获取或生成唯一的 Trace ID
// 2. 将 Trace ID 注入到 gin.Context 和 request.Context
// 3. 在响应头中返回 Trace ID
func TraceMiddlewareWithConfig(enabled bool, header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultTraceIDHeader
	}
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		traceID := c.GetHeader(header)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), traceIDKey{}, traceID))
		c.Header(header, traceID)

		c.Next()
	}
}

// GetTraceID 从 context.Context 获取 Trace ID
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetTraceIDFromGin 从 gin.Context 获取 Trace ID
func GetTraceIDFromGin(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(TraceIDKey)
}
