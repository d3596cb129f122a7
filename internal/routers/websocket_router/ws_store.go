package websocket_router

import (
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/dto"
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"go.uber.org/zap"
)

// StoreWSHandler forwards document store requests of a gateway connection
// StoreWSHandler 将网关连接上的文档存储请求转发给存储
type StoreWSHandler struct {
	*WSHandler
}

// NewStoreWSHandler creates StoreWSHandler instance
func NewStoreWSHandler(h *WSHandler) *StoreWSHandler {
	return &StoreWSHandler{WSHandler: h}
}

// Put writes or merges one document
// Put 写入或合并文档
func (h *StoreWSHandler) Put(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.PutRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionPut, msg, errs)
		return
	}
	var opts []docstore.PutOption
	if params.Merge {
		opts = append(opts, docstore.Merge())
	}
	if params.Doc == nil {
		params.Doc = map[string]any{}
	}

	ctx, cancel := h.context()
	defer cancel()
	if err := h.Store.Put(ctx, params.Path, params.Doc, opts...); err != nil {
		h.respondError(c, dto.ActionPut, params.ID, err, zap.String(logger.FieldPath, params.Path))
		return
	}
	c.Reply(dto.ActionPut, result(params.ID))
}

// Update applies atomic field transforms
// Update 执行原子字段变换
func (h *StoreWSHandler) Update(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.UpdateRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionUpdate, msg, errs)
		return
	}

	ctx, cancel := h.context()
	defer cancel()
	if err := h.Store.Update(ctx, params.Path, params.Updates...); err != nil {
		h.respondError(c, dto.ActionUpdate, params.ID, err, zap.String(logger.FieldPath, params.Path))
		return
	}
	c.Reply(dto.ActionUpdate, result(params.ID))
}

// Get reads one document
func (h *StoreWSHandler) Get(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.PathRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionGet, msg, errs)
		return
	}

	ctx, cancel := h.context()
	defer cancel()
	doc, err := h.Store.Get(ctx, params.Path)
	if err != nil {
		h.respondError(c, dto.ActionGet, params.ID, err, zap.String(logger.FieldPath, params.Path))
		return
	}
	res := result(params.ID)
	res.Doc = doc
	c.Reply(dto.ActionGet, res)
}

// Delete removes one document, missing documents are not an error
func (h *StoreWSHandler) Delete(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.PathRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionDelete, msg, errs)
		return
	}

	ctx, cancel := h.context()
	defer cancel()
	if err := h.Store.Delete(ctx, params.Path); err != nil {
		h.respondError(c, dto.ActionDelete, params.ID, err, zap.String(logger.FieldPath, params.Path))
		return
	}
	c.Reply(dto.ActionDelete, result(params.ID))
}

// BatchDelete removes many documents atomically
// BatchDelete 原子地删除多个文档
func (h *StoreWSHandler) BatchDelete(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.BatchDeleteRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionBatchDelete, msg, errs)
		return
	}

	ctx, cancel := h.context()
	defer cancel()
	if err := h.Store.BatchDelete(ctx, params.Paths); err != nil {
		h.respondError(c, dto.ActionBatchDelete, params.ID, err, zap.Int(logger.FieldCount, len(params.Paths)))
		return
	}
	c.Reply(dto.ActionBatchDelete, result(params.ID))
}

// Query reads the current result set of a target
func (h *StoreWSHandler) Query(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.QueryRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionQuery, msg, errs)
		return
	}

	ctx, cancel := h.context()
	defer cancel()
	docs, err := h.Store.Query(ctx, params.Target)
	if err != nil {
		h.respondError(c, dto.ActionQuery, params.ID, err, zap.String(logger.FieldPath, params.Target.Path))
		return
	}
	res := result(params.ID)
	res.Docs = docs
	if res.Docs == nil {
		res.Docs = []docstore.Document{}
	}
	c.Reply(dto.ActionQuery, res)
}

// Subscribe opens a live subscription whose snapshots are pushed to the connection
// Subscribe 开启实时订阅，快照推送到当前连接
// Snapshots may arrive before the Result of the request.
func (h *StoreWSHandler) Subscribe(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.SubscribeRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionSubscribe, msg, errs)
		return
	}
	subID := params.SubID

	unsub, err := h.Store.Subscribe(params.Target,
		func(s docstore.Snapshot) {
			c.Send(dto.ActionSnapshot, dto.SnapshotMessage{SubID: subID, Snapshot: s})
		},
		func(err error) {
			codeObj := CodeFor(err)
			h.Logger.Warn("gateway subscription failed",
				zap.Uint64(logger.FieldSubID, subID),
				zap.String(logger.FieldPath, params.Target.Path),
				zap.Error(err))
			c.Send(dto.ActionSnapshotError, dto.SnapshotErrorMessage{SubID: subID, Code: codeObj.Code(), Msg: err.Error()})
			if cancel, ok := c.Untrack(subID); ok {
				go cancel()
			}
		})
	if err != nil {
		h.respondError(c, dto.ActionSubscribe, params.ID, err, zap.String(logger.FieldPath, params.Target.Path))
		return
	}
	c.Track(subID, unsub)
	h.Logger.Debug("gateway subscription opened",
		zap.String(logger.FieldUID, c.User.ID),
		zap.Uint64(logger.FieldSubID, subID),
		zap.String(logger.FieldPath, params.Target.Path))
	c.Reply(dto.ActionSubscribe, result(params.ID))
}

// Unsubscribe closes a subscription of this connection
func (h *StoreWSHandler) Unsubscribe(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.UnsubscribeRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		h.respondInvalid(c, dto.ActionUnsubscribe, msg, errs)
		return
	}
	cancel, ok := c.Untrack(params.SubID)
	if !ok {
		c.ToResponse(dto.ActionUnsubscribe, params.ID, code.ErrorSubscriptionNotFound)
		return
	}
	cancel()
	c.Reply(dto.ActionUnsubscribe, result(params.ID))
}
