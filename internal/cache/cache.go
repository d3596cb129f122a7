package cache

import (
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/pkg/observable"
)

// Cache local view of the signed-in user's boards and the active board
// Cache 当前用户看板列表及活动看板的本地视图
type Cache struct {
	Cards    *Collection[domain.Card]
	Links    *Collection[domain.Link]
	Presence *Collection[domain.PresenceRecord]
	// Boards boards the user is a member of
	// Boards 用户所属的看板
	Boards *Collection[domain.BoardMetadata]
	// Board metadata of the active board, nil when none is loaded
	// Board 活动看板元数据，未加载时为 nil
	Board *observable.Value[*domain.BoardMetadata]
	// Status aggregate sync status
	Status *observable.Value[domain.SyncStatus]
}

// New creates an empty cache
// New 创建空缓存
func New() *Cache {
	return &Cache{
		Cards:    NewCollection[domain.Card](),
		Links:    NewCollection[domain.Link](),
		Presence: NewCollection[domain.PresenceRecord](),
		Boards:   NewCollection[domain.BoardMetadata](),
		Board:    observable.NewValue[*domain.BoardMetadata](nil),
		Status:   observable.NewValue(domain.SyncIdle),
	}
}

// ClearBoard drops everything belonging to the active board
// ClearBoard 清空活动看板相关的所有数据
func (c *Cache) ClearBoard() {
	c.Board.Set(nil)
	c.Cards.Clear()
	c.Links.Clear()
	c.Presence.Clear()
}

// Reset clears every collection; used on sign-out
// Reset 清空所有集合（用于退出登录）
func (c *Cache) Reset() {
	c.ClearBoard()
	c.Boards.Clear()
}

// ActiveBoardID id of the loaded board, empty when none
func (c *Cache) ActiveBoardID() string {
	if b := c.Board.Get(); b != nil {
		return b.ID
	}
	return ""
}

// LinksTouching links referencing cardID at either end
// LinksTouching 返回任一端引用 cardID 的连线
func (c *Cache) LinksTouching(cardID string) []domain.Link {
	var out []domain.Link
	for _, l := range c.Links.Values() {
		if l.Touches(cardID) {
			out = append(out, l)
		}
	}
	return out
}

// FindLink an existing link between a and b in either direction
// FindLink 查找 a 与 b 之间（任意方向）已存在的连线
func (c *Cache) FindLink(a, b string) (domain.Link, bool) {
	for _, l := range c.Links.Snapshot() {
		if l.Connects(a, b) {
			return l, true
		}
	}
	return domain.Link{}, false
}
