// Package websocket_router 提供 WebSocket 路由处理器
package websocket_router

import (
	"context"
	"errors"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/dto"
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bound of one store call made for a gateway request
const DefaultRequestTimeout = 30 * time.Second

// WSHandler WebSocket 基础 Handler 结构体
type WSHandler struct {
	Store   docstore.Store
	Logger  *zap.Logger
	Timeout time.Duration
}

// NewWSHandler 创建 WebSocket 基础 Handler 实例
func NewWSHandler(store docstore.Store, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{Store: store, Logger: log, Timeout: DefaultRequestTimeout}
}

func (h *WSHandler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.Timeout)
}

// respondInvalid replies with the validation errors of a request
func (h *WSHandler) respondInvalid(c *pkgapp.WebsocketClient, action string, msg *pkgapp.WebSocketMessage, errs pkgapp.ValidErrors) {
	c.ToResponse(action, pkgapp.RequestID(msg.Data), code.ErrorInvalidParams.WithDetails(errs.Errors()...))
}

// respondError logs err and replies with its result code
// respondError 记录错误并以对应结果码应答
func (h *WSHandler) respondError(c *pkgapp.WebsocketClient, action string, id uint64, err error, fields ...zap.Field) {
	codeObj := CodeFor(err)
	if codeObj.Code() >= code.Failed.Code() {
		h.Logger.Error("websocket request failed", append(fields,
			zap.String(logger.FieldAction, action),
			zap.String(logger.FieldUID, c.User.ID),
			zap.Error(err))...)
	}
	c.ToResponse(action, id, codeObj.WithDetails(err.Error()))
}

// CodeFor maps store errors to result codes
// CodeFor 将存储错误映射为结果码
func CodeFor(err error) *code.Code {
	switch {
	case err == nil:
		return code.Success
	case errors.Is(err, docstore.ErrNotFound):
		return code.ErrorDocumentNotFound
	case errors.Is(err, docstore.ErrInvalidPath):
		return code.ErrorInvalidPath
	case errors.Is(err, docstore.ErrInvalidUpdate):
		return code.ErrorInvalidUpdate
	case errors.Is(err, docstore.ErrClosed):
		return code.ErrorStoreClosed
	default:
		return code.ErrorDocumentStore
	}
}

func result(id uint64) dto.Result {
	return dto.NewResult(id, code.Success)
}
