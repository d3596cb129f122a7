package domain

// SyncStatus aggregate synchronization indicator
// SyncStatus 聚合同步状态指示
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncOffline SyncStatus = "offline"
	SyncError   SyncStatus = "error"
)

// BoardState lifecycle state of the subscription manager
// BoardState 订阅管理器的生命周期状态
type BoardState string

const (
	BoardIdle    BoardState = "idle"
	BoardLoading BoardState = "loading"
	BoardActive  BoardState = "active"
	BoardFailed  BoardState = "failed"
)
