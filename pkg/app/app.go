package app

import (
	"net"

	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

const (
	// TraceIDKey gin context key holding the request trace id
	// TraceIDKey gin 上下文中保存追踪 ID 的键
	TraceIDKey = "trace_id"
	// StatusKey gin context key holding the HTTP status chosen for the envelope
	StatusKey = "status_code"
)

// VersionInfo build metadata served by /api/version
// VersionInfo 版本信息
type VersionInfo struct {
	Version   string `json:"version"`
	GitTag    string `json:"gitTag"`
	BuildTime string `json:"buildTime"`
}

// Envelope body of every plain HTTP reply.
// Its fields line up with the websocket result frame so one client decoder serves both.
// Envelope HTTP 应答体，字段与 websocket 结果帧保持一致
type Envelope struct {
	Code    int      `json:"code"`
	Status  bool     `json:"status"`
	Msg     string   `json:"msg"`
	Data    any      `json:"data,omitempty"`
	Details []string `json:"details,omitempty"`
	TraceID string   `json:"traceId,omitempty"`
}

// NewEnvelope builds the reply body of codeObj
func NewEnvelope(codeObj *code.Code) Envelope {
	return Envelope{
		Code:    codeObj.Code(),
		Status:  codeObj.Status(),
		Msg:     codeObj.Msg(),
		Data:    codeObj.Data(),
		Details: codeObj.Details(),
	}
}

type Response struct {
	Ctx *gin.Context
}

func NewResponse(ctx *gin.Context) *Response {
	return &Response{Ctx: ctx}
}

// GetRequestIP client address with loopback folded to 127.0.0.1
// GetRequestIP 获取客户端 ip，回环地址统一为 127.0.0.1
func GetRequestIP(c *gin.Context) string {
	reqIP := c.ClientIP()
	if ip := net.ParseIP(reqIP); ip != nil && ip.IsLoopback() {
		return "127.0.0.1"
	}
	return reqIP
}

// ToResponse writes codeObj with the HTTP status it maps to and the request trace id
// ToResponse 按结果码对应的 HTTP 状态输出，并附带追踪 ID
func (r *Response) ToResponse(codeObj *code.Code) {
	status := codeObj.StatusCode()
	r.Ctx.Set(StatusKey, status)

	body := NewEnvelope(codeObj)
	body.TraceID = r.Ctx.GetString(TraceIDKey)
	r.Ctx.JSON(status, body)
}
