// Package dto frames exchanged on the document store gateway
// Package dto 文档存储网关上交换的消息帧
//
// Every text frame is "Action|json". Requests carry a client chosen id that the
// matching Result echoes; snapshot pushes are addressed by subscription id.
package dto

import (
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/pkg/code"
)

// WebSocketAction WebSocket text message type
// WebSocket 文本消息类型
type WebSocketAction = string

const (
	// ActionAuthorization first frame of a connection, data is the raw token
	// ActionAuthorization 连接的第一帧，数据为原始令牌
	ActionAuthorization WebSocketAction = "Authorization"

	ActionPut         WebSocketAction = "Put"
	ActionUpdate      WebSocketAction = "Update"
	ActionGet         WebSocketAction = "Get"
	ActionDelete      WebSocketAction = "Delete"
	ActionBatchDelete WebSocketAction = "BatchDelete"
	ActionQuery       WebSocketAction = "Query"
	ActionSubscribe   WebSocketAction = "Subscribe"
	ActionUnsubscribe WebSocketAction = "Unsubscribe"

	// ActionResult reply to exactly one request
	// ActionResult 对单个请求的应答
	ActionResult WebSocketAction = "Result"
	// ActionSnapshot full result set of a subscription
	// ActionSnapshot 订阅的完整结果集
	ActionSnapshot WebSocketAction = "Snapshot"
	// ActionSnapshotError subscription failed and will not push again
	// ActionSnapshotError 订阅失败，不再推送
	ActionSnapshotError WebSocketAction = "SnapshotError"
)

// PutRequest write or merge one document
// PutRequest 写入或合并单个文档
type PutRequest struct {
	ID    uint64         `json:"id" binding:"required"`
	Path  string         `json:"path" binding:"required"`
	Doc   map[string]any `json:"doc"`
	Merge bool           `json:"merge,omitempty"`
}

// UpdateRequest atomic field transforms on an existing document
// UpdateRequest 对已存在文档的原子字段变换
type UpdateRequest struct {
	ID      uint64                 `json:"id" binding:"required"`
	Path    string                 `json:"path" binding:"required"`
	Updates []docstore.FieldUpdate `json:"updates" binding:"required,min=1,dive"`
}

// PathRequest Get or Delete of a single document
type PathRequest struct {
	ID   uint64 `json:"id" binding:"required"`
	Path string `json:"path" binding:"required"`
}

// BatchDeleteRequest delete many documents in one step
type BatchDeleteRequest struct {
	ID    uint64   `json:"id" binding:"required"`
	Paths []string `json:"paths" binding:"required,min=1,dive,required"`
}

// QueryRequest one-shot read of a target
type QueryRequest struct {
	ID     uint64          `json:"id" binding:"required"`
	Target docstore.Target `json:"target"`
}

// SubscribeRequest opens a live subscription; SubID is chosen by the client
// SubscribeRequest 开启实时订阅，SubID 由客户端选择
type SubscribeRequest struct {
	ID     uint64          `json:"id" binding:"required"`
	SubID  uint64          `json:"subId" binding:"required"`
	Target docstore.Target `json:"target"`
}

// UnsubscribeRequest closes a subscription
type UnsubscribeRequest struct {
	ID    uint64 `json:"id" binding:"required"`
	SubID uint64 `json:"subId" binding:"required"`
}

// Result reply to one request
// Result 单个请求的应答
type Result struct {
	ID      uint64              `json:"id"`
	Code    int                 `json:"code"`
	Status  bool                `json:"status"`
	Msg     string              `json:"msg"`
	Details []string            `json:"details,omitempty"`
	Doc     *docstore.Document  `json:"doc,omitempty"`
	Docs    []docstore.Document `json:"docs,omitempty"`
}

// SnapshotMessage pushed whenever a subscription's result set changes
// SnapshotMessage 订阅结果集变化时推送
type SnapshotMessage struct {
	SubID    uint64            `json:"subId"`
	Snapshot docstore.Snapshot `json:"snapshot"`
}

// SnapshotErrorMessage terminal failure of a subscription
type SnapshotErrorMessage struct {
	SubID uint64 `json:"subId"`
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
}

// NewResult reply for request id carrying codeObj
// NewResult 根据结果码构造请求 id 的应答
func NewResult(id uint64, codeObj *code.Code) Result {
	return Result{
		ID:      id,
		Code:    codeObj.Code(),
		Status:  codeObj.Status(),
		Msg:     codeObj.Msg(),
		Details: codeObj.Details(),
	}
}
