package domain

import (
	"hash/fnv"
	"time"
)

// presenceColors palette used to tint remote cursors
var presenceColors = []string{
	"#e57373", "#64b5f6", "#81c784", "#ffb74d",
	"#ba68c8", "#4db6ac", "#f06292", "#a1887f",
}

// PresenceColor deterministic palette pick for uid
// PresenceColor 根据 uid 确定性地选取颜色
func PresenceColor(uid string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uid))
	return presenceColors[h.Sum32()%uint32(len(presenceColors))]
}

// PresenceRecord one user's live session on one board
// PresenceRecord 单个用户在单个看板上的实时会话记录
type PresenceRecord struct {
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	Color          string    `json:"color,omitempty"`
	CursorPosition *Position `json:"cursorPosition,omitempty"`
	SelectedCardID string    `json:"selectedCardId,omitempty"`
	EditingCardID  string    `json:"editingCardId,omitempty"`
	LastSeen       time.Time `json:"lastSeen"`
	IsOnline       bool      `json:"isOnline"`
}

// StaleAt reports whether the record has not been refreshed within timeout at now
// StaleAt 判断记录在 now 时刻是否已超过 timeout 未刷新
func (p PresenceRecord) StaleAt(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastSeen) >= timeout
}
