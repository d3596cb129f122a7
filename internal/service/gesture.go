package service

import (
	"context"

	"github.com/haierkeys/fast-board-sync/internal/domain"

	"github.com/pkg/errors"
)

// GestureKind user gesture emitted by the rendering layer
// GestureKind 渲染层发出的用户手势类型
type GestureKind string

const (
	GestureCreateCard GestureKind = "create-card"
	GestureEditCard   GestureKind = "edit-card"
	GestureMoveCard   GestureKind = "move-card"
	GestureResizeCard GestureKind = "resize-card"
	GestureDeleteCard GestureKind = "delete-card"
	GestureConnect    GestureKind = "connect"
	GestureEditLink   GestureKind = "edit-link"
	GestureDeleteLink GestureKind = "delete-link"
)

// Gesture one user gesture on the canvas
// Gesture 画布上的一次用户手势
type Gesture struct {
	Kind         GestureKind      `json:"kind" validate:"required,oneof=create-card edit-card move-card resize-card delete-card connect edit-link delete-link"`
	CardID       string           `json:"cardId,omitempty"`
	TargetCardID string           `json:"targetCardId,omitempty" validate:"required_if=Kind connect"`
	LinkID       string           `json:"linkId,omitempty"`
	Position     *domain.Position `json:"position,omitempty" validate:"required_if=Kind move-card"`
	Size         *domain.Size     `json:"size,omitempty" validate:"required_if=Kind resize-card"`
	Card         domain.CardPatch `json:"-" validate:"-"`
	Link         domain.LinkPatch `json:"-" validate:"-"`
}

// HandleGesture translates a gesture into the matching board operation
// HandleGesture 将手势转换为对应的看板操作
// The returned id is the created card or link, empty for other gestures.
func (s *BoardService) HandleGesture(ctx context.Context, g Gesture) (string, error) {
	if g.Position != nil {
		pos := g.Position.Clamp()
		g.Position = &pos
	}
	if g.Size != nil {
		size := g.Size.Clamp()
		g.Size = &size
	}
	if err := validate.Struct(g); err != nil {
		return "", errors.Wrap(domain.ErrInvalidGesture, err.Error())
	}
	switch g.Kind {
	case GestureCreateCard:
		var pos domain.Position
		if g.Position != nil {
			pos = *g.Position
		}
		return s.AddCard(ctx, pos)
	case GestureConnect:
		return s.AddLink(ctx, g.CardID, g.TargetCardID)
	case GestureEditLink, GestureDeleteLink:
		if g.LinkID == "" {
			return "", errors.Wrap(domain.ErrInvalidGesture, "linkId is required")
		}
		if g.Kind == GestureEditLink {
			return "", s.UpdateLink(ctx, g.LinkID, g.Link)
		}
		return "", s.DeleteLink(ctx, g.LinkID)
	}

	if g.CardID == "" {
		return "", errors.Wrap(domain.ErrInvalidGesture, "cardId is required")
	}
	switch g.Kind {
	case GestureEditCard:
		return "", s.UpdateCard(g.CardID, g.Card)
	case GestureMoveCard:
		return "", s.MoveCard(g.CardID, *g.Position)
	case GestureResizeCard:
		return "", s.ResizeCard(g.CardID, *g.Size)
	default:
		return "", s.DeleteCard(ctx, g.CardID)
	}
}
