// Package service implements the board synchronization core
// Package service 实现看板同步核心
package service

import (
	"time"
)

// SyncConfig timing and invite configuration of the sync core
// SyncConfig 同步核心的时间及邀请配置
type SyncConfig struct {
	// EditDelay coalescing delay of card field edits, default 800ms
	// EditDelay 卡片字段编辑的合并延迟，默认 800ms
	EditDelay time.Duration
	// DragDelay coalescing delay of pure position drags, default 400ms
	// DragDelay 纯拖拽位置更新的合并延迟，默认 400ms
	DragDelay time.Duration
	// CursorDelay coalescing delay of cursor updates, default 100ms
	// CursorDelay 光标更新的合并延迟，默认 100ms
	CursorDelay time.Duration
	// CleanupInterval local presence cleanup period, default 30s; the heartbeat runs at half of it
	// CleanupInterval 本地在线状态清理周期，默认 30s；心跳周期为其一半
	CleanupInterval time.Duration
	// StaleTimeout presence records older than this are hidden, default 60s
	// StaleTimeout 超过该时长未刷新的在线记录将被隐藏，默认 60s
	StaleTimeout time.Duration
	// ShareBaseURL prefix of rendered share links
	ShareBaseURL string
	// ShareCodeAttempts collision checked attempts when generating a share code, 0 disables the check
	// ShareCodeAttempts 生成邀请码时的冲突检查次数，0 表示不检查
	ShareCodeAttempts int
}

// minCleanupInterval lower bound of CleanupInterval, keeps the heartbeat period positive
const minCleanupInterval = 10 * time.Millisecond

// DefaultSyncConfig returns default configuration
// DefaultSyncConfig 返回默认配置
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		EditDelay:         800 * time.Millisecond,
		DragDelay:         400 * time.Millisecond,
		CursorDelay:       100 * time.Millisecond,
		CleanupInterval:   30 * time.Second,
		StaleTimeout:      60 * time.Second,
		ShareBaseURL:      "http://localhost:9100/",
		ShareCodeAttempts: 3,
	}
}

// HeartbeatInterval presence heartbeat period
func (c SyncConfig) HeartbeatInterval() time.Duration {
	return c.CleanupInterval / 2
}

// withDefaults fills zero values from DefaultSyncConfig
func (c *SyncConfig) withDefaults() SyncConfig {
	d := DefaultSyncConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.EditDelay <= 0 {
		out.EditDelay = d.EditDelay
	}
	if out.DragDelay <= 0 {
		out.DragDelay = d.DragDelay
	}
	if out.CursorDelay <= 0 {
		out.CursorDelay = d.CursorDelay
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = d.CleanupInterval
	} else if out.CleanupInterval < minCleanupInterval {
		out.CleanupInterval = minCleanupInterval
	}
	if out.StaleTimeout <= 0 {
		out.StaleTimeout = d.StaleTimeout
	}
	if out.ShareBaseURL == "" {
		out.ShareBaseURL = d.ShareBaseURL
	}
	if out.ShareCodeAttempts < 0 {
		out.ShareCodeAttempts = 0
	}
	return out
}
