package logger

// 统一的日志字段命名常量
// Log field names shared by every package so logs can be queried uniformly
const (
	// FieldUID 用户 ID 字段
	FieldUID = "uid"

	// FieldBoardID 看板 ID 字段
	FieldBoardID = "boardId"

	// FieldCardID 卡片 ID 字段
	FieldCardID = "cardId"

	// FieldLinkID 连线 ID 字段
	FieldLinkID = "linkId"

	// FieldPath 文档路径字段
	FieldPath = "path"

	// FieldCollection 集合路径字段
	FieldCollection = "collection"

	// FieldAction 操作类型字段
	FieldAction = "action"

	// FieldSessionID 会话 ID 字段
	FieldSessionID = "sessionId"

	// FieldState 状态机状态字段
	FieldState = "state"

	// FieldStatus 同步状态字段
	FieldStatus = "status"

	// FieldEpoch 看板订阅代数字段
	FieldEpoch = "epoch"

	// FieldCount 数量字段
	FieldCount = "count"

	// FieldDuration 耗时字段
	FieldDuration = "duration"

	// FieldTraceID 请求追踪 ID 字段
	FieldTraceID = "traceId"

	// FieldSubID 网关订阅 ID 字段
	FieldSubID = "subId"
)
