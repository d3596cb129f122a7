package domain

import "errors"

var (
	// ErrUnauthenticated operation attempted without an active identity
	// ErrUnauthenticated 无有效身份时尝试操作
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrNoActiveBoard operation needs a loaded board
	// ErrNoActiveBoard 操作需要已加载的看板
	ErrNoActiveBoard = errors.New("no active board")
	// ErrBoardNotFound board document does not exist
	ErrBoardNotFound = errors.New("board not found")
	// ErrCardNotFound card is not present in the local view
	ErrCardNotFound = errors.New("card not found")
	// ErrLinkNotFound link is not present in the local view
	ErrLinkNotFound = errors.New("link not found")
	// ErrLinkExists a link between the two cards already exists, in either direction
	// ErrLinkExists 两张卡片之间（任意方向）已存在连线
	ErrLinkExists = errors.New("link already exists")
	// ErrInvalidLink link endpoints are invalid
	ErrInvalidLink = errors.New("invalid link")
	// ErrJoinFailed join by code failed; lookup misses and write failures are not distinguished
	// ErrJoinFailed 通过邀请码加入失败，不区分未找到与写入失败
	ErrJoinFailed = errors.New("unable to join board")
	// ErrOwnerImmutable the owner's membership cannot be removed or changed
	// ErrOwnerImmutable 看板所有者的成员身份不可移除或修改
	ErrOwnerImmutable = errors.New("board owner membership cannot be changed")
	// ErrForbidden caller's role does not allow the operation
	ErrForbidden = errors.New("operation not permitted for this member")
	// ErrInvalidRole unknown or disallowed role
	ErrInvalidRole = errors.New("invalid role")
	// ErrMemberNotFound user is not a member of the board
	ErrMemberNotFound = errors.New("member not found")
	// ErrInvalidBoardName board name is empty
	ErrInvalidBoardName = errors.New("invalid board name")
	// ErrInvalidGesture gesture is missing required fields
	// ErrInvalidGesture 手势缺少必要字段
	ErrInvalidGesture = errors.New("invalid gesture")
	// ErrNotTracking presence operation without active tracking
	ErrNotTracking = errors.New("presence tracking not active")
)
