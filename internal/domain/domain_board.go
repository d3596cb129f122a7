package domain

import (
	"time"
)

// CardType categorical card kind
// CardType 卡片类别
type CardType string

const (
	CardTypeClue     CardType = "clue"
	CardTypePerson   CardType = "person"
	CardTypeLocation CardType = "location"
	CardTypeEvent    CardType = "event"
	CardTypeTheory   CardType = "theory"
	CardTypeNote     CardType = "note"
)

// CardColor categorical card color
// CardColor 卡片颜色
type CardColor string

const (
	CardColorCream  CardColor = "cream"
	CardColorOrange CardColor = "orange"
	CardColorBrown  CardColor = "brown"
	CardColorRed    CardColor = "red"
	CardColorTeal   CardColor = "teal"
	CardColorPurple CardColor = "purple"
)

// LinkType categorical link kind
// LinkType 连线类别
type LinkType string

const (
	LinkTypeRelated     LinkType = "related"
	LinkTypeLeadsTo     LinkType = "leads-to"
	LinkTypeContradicts LinkType = "contradicts"
	LinkTypeConfirms    LinkType = "confirms"
)

// Role board member role
// Role 看板成员角色
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

const (
	// DefaultBoardName name given to automatically created boards
	// DefaultBoardName 自动创建看板时使用的名称
	DefaultBoardName = "Investigation Board"
	// DefaultCardTitle title of a freshly added card
	DefaultCardTitle = "New Card"
)

// DefaultCardSize size of a freshly added card
var DefaultCardSize = Size{Width: 200, Height: 150}

// Position 2-D canvas position
// Position 画布二维坐标
type Position struct {
	X float64 `json:"x" validate:"gte=0"`
	Y float64 `json:"y" validate:"gte=0"`
}

// Clamp returns p with negative coordinates raised to zero
// Clamp 将负坐标提升为 0
func (p Position) Clamp() Position {
	return Position{X: max(p.X, 0), Y: max(p.Y, 0)}
}

// Size 2-D card size
// Size 卡片尺寸
type Size struct {
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

// Clamp returns s with negative dimensions raised to zero
func (s Size) Clamp() Size {
	return Size{Width: max(s.Width, 0), Height: max(s.Height, 0)}
}

// CardMeta last-writer bookkeeping stamped on every remote write
// CardMeta 每次远程写入时附带的最后写入者信息
type CardMeta struct {
	CreatedBy string    `json:"createdBy,omitempty"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card a positioned, typed, colored note on a board
// Card 看板上带位置、类型和颜色的卡片
type Card struct {
	ID       string    `json:"id"`
	BoardID  string    `json:"boardId"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	CardType CardType  `json:"cardType"`
	Color    CardColor `json:"color"`
	Position Position  `json:"position"`
	Size     Size      `json:"size"`
	Meta     CardMeta  `json:"meta"`
}

// NewDefaultCard builds the card created by an "add card" gesture
// NewDefaultCard 构造“添加卡片”手势创建的默认卡片
func NewDefaultCard(id, boardID, userID string, pos Position, now time.Time) Card {
	return Card{
		ID:       id,
		BoardID:  boardID,
		Title:    DefaultCardTitle,
		CardType: CardTypeNote,
		Color:    CardColorCream,
		Position: pos.Clamp(),
		Size:     DefaultCardSize,
		Meta: CardMeta{
			CreatedBy: userID,
			UpdatedBy: userID,
			UpdatedAt: now,
		},
	}
}

// CardPatch partial card update; nil fields are left untouched
// CardPatch 卡片局部更新，nil 字段保持不变
type CardPatch struct {
	Title    *string
	Content  *string
	CardType *CardType
	Color    *CardColor
	Position *Position
	Size     *Size
}

// Fields converts the patch into document fields keyed by their JSON names
// Fields 将补丁转换为以 JSON 字段名为键的文档字段
func (p CardPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Content != nil {
		fields["content"] = *p.Content
	}
	if p.CardType != nil {
		fields["cardType"] = string(*p.CardType)
	}
	if p.Color != nil {
		fields["color"] = string(*p.Color)
	}
	if p.Position != nil {
		pos := p.Position.Clamp()
		fields["position"] = map[string]any{"x": pos.X, "y": pos.Y}
	}
	if p.Size != nil {
		size := p.Size.Clamp()
		fields["size"] = map[string]any{"width": size.Width, "height": size.Height}
	}
	return fields
}

// Apply returns c with the patch applied
// Apply 返回应用补丁后的卡片副本
func (p CardPatch) Apply(c Card) Card {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Content != nil {
		c.Content = *p.Content
	}
	if p.CardType != nil {
		c.CardType = *p.CardType
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	if p.Position != nil {
		c.Position = p.Position.Clamp()
	}
	if p.Size != nil {
		c.Size = p.Size.Clamp()
	}
	return c
}

// IsEmpty reports whether the patch touches no field
func (p CardPatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.CardType == nil &&
		p.Color == nil && p.Position == nil && p.Size == nil
}

// OnlyPosition reports whether the patch is a pure drag
// OnlyPosition 判断补丁是否仅为拖拽位置
func (p CardPatch) OnlyPosition() bool {
	return p.Position != nil && p.Title == nil && p.Content == nil &&
		p.CardType == nil && p.Color == nil && p.Size == nil
}

// Link a typed directed connection between two cards
// Link 两张卡片之间带类型的有向连线
type Link struct {
	ID           string   `json:"id"`
	BoardID      string   `json:"boardId"`
	SourceCardID string   `json:"sourceCardId"`
	TargetCardID string   `json:"targetCardId"`
	LinkType     LinkType `json:"linkType"`
	Label        string   `json:"label,omitempty"`
}

// NewDefaultLink builds the link created by a "connect" gesture
func NewDefaultLink(id, boardID, sourceCardID, targetCardID string) Link {
	return Link{
		ID:           id,
		BoardID:      boardID,
		SourceCardID: sourceCardID,
		TargetCardID: targetCardID,
		LinkType:     LinkTypeRelated,
	}
}

// Connects reports whether l joins a and b in either direction
// Connects 判断连线是否（不论方向）连接 a 与 b
func (l Link) Connects(a, b string) bool {
	return (l.SourceCardID == a && l.TargetCardID == b) ||
		(l.SourceCardID == b && l.TargetCardID == a)
}

// Touches reports whether l references cardID at either end
func (l Link) Touches(cardID string) bool {
	return l.SourceCardID == cardID || l.TargetCardID == cardID
}

// LinkPatch partial link update
// LinkPatch 连线局部更新
type LinkPatch struct {
	LinkType *LinkType
	Label    *string
}

// Fields converts the patch into document fields
func (p LinkPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.LinkType != nil {
		fields["linkType"] = string(*p.LinkType)
	}
	if p.Label != nil {
		fields["label"] = *p.Label
	}
	return fields
}

// Apply returns l with the patch applied
func (p LinkPatch) Apply(l Link) Link {
	if p.LinkType != nil {
		l.LinkType = *p.LinkType
	}
	if p.Label != nil {
		l.Label = *p.Label
	}
	return l
}

// MemberRecord membership entry of a board
// MemberRecord 看板成员记录
type MemberRecord struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// BoardMetadata per-board record with its membership mapping
// BoardMetadata 看板元数据及成员映射
type BoardMetadata struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	OwnerID   string                  `json:"ownerId"`
	Members   map[string]MemberRecord `json:"members"`
	MemberIDs []string                `json:"memberIds"`
	ShareCode string                  `json:"shareCode,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// NewDefaultBoard builds a board owned by owner
// NewDefaultBoard 构造由 owner 拥有的新看板
func NewDefaultBoard(id string, owner Identity, name string, now time.Time) BoardMetadata {
	if name == "" {
		name = DefaultBoardName
	}
	return BoardMetadata{
		ID:      id,
		Name:    name,
		OwnerID: owner.UserID,
		Members: map[string]MemberRecord{
			owner.UserID: owner.Member(RoleOwner, now),
		},
		MemberIDs: []string{owner.UserID},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsMember reports whether uid has a member entry
func (b BoardMetadata) IsMember(uid string) bool {
	_, ok := b.Members[uid]
	return ok
}

// RoleOf returns the role of uid, empty when not a member
// RoleOf 返回 uid 的角色，非成员返回空
func (b BoardMetadata) RoleOf(uid string) Role {
	if m, ok := b.Members[uid]; ok {
		return m.Role
	}
	return ""
}
