package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/pkg/logger"
	"github.com/haierkeys/fast-board-sync/pkg/util"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errShareCodeExhausted = errors.New("no unused share code found")

// ShareService board invitations and membership management
// ShareService 看板邀请及成员管理
type ShareService struct {
	store    docstore.Store
	boards   *BoardService
	writer   *WriteCoalescer
	config   SyncConfig
	logger   *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

// NewShareService creates the invite resolver
// NewShareService 创建邀请解析服务
func NewShareService(store docstore.Store, boards *BoardService, writer *WriteCoalescer, cfg *SyncConfig, log *zap.Logger) *ShareService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShareService{
		store:    store,
		boards:   boards,
		writer:   writer,
		config:   cfg.withDefaults(),
		logger:   log,
		now:      time.Now,
		generate: util.GenerateShareCode,
	}
}

// GenerateShareLink creates a new share code for the active board and stores it
// GenerateShareLink 为活动看板生成新的邀请码并保存
func (s *ShareService) GenerateShareLink(ctx context.Context) (string, error) {
	_, boardID, err := s.boards.active()
	if err != nil {
		return "", err
	}

	code, err := s.newCode(ctx, boardID)
	if err != nil {
		s.logger.Error("share code generation failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
		return "", err
	}

	s.writer.Begin()
	err = s.writer.End(domain.BoardsCollection, s.store.Update(ctx, domain.BoardPath(boardID),
		docstore.Set([]string{"shareCode"}, code),
		docstore.Set([]string{"updatedAt"}, s.now().UTC()),
	))
	if err != nil {
		s.logger.Error("share code not saved", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
		return "", errors.Wrap(err, "save share code")
	}
	s.logger.Info("share code generated", zap.String(logger.FieldBoardID, boardID))
	return code, nil
}

// newCode draws codes until one is unused by other boards, when collision checks are enabled
func (s *ShareService) newCode(ctx context.Context, boardID string) (string, error) {
	attempts := s.config.ShareCodeAttempts
	if attempts == 0 {
		return s.generate()
	}
	for range attempts {
		code, err := s.generate()
		if err != nil {
			return "", err
		}
		docs, err := s.store.Query(ctx, docstore.Collection(domain.BoardsCollection,
			docstore.Where("shareCode", docstore.OpEqual, code)))
		if err != nil {
			s.logger.Warn("share code collision check skipped", zap.Error(err))
			return code, nil
		}
		if len(docs) == 0 || (len(docs) == 1 && docs[0].ID == boardID) {
			return code, nil
		}
		s.logger.Debug("share code collision", zap.String(logger.FieldBoardID, boardID))
	}
	return "", errShareCodeExhausted
}

// ShareURL link a collaborator opens to join with code
// ShareURL 协作者用于加入看板的链接
func (s *ShareService) ShareURL(code string) string {
	return strings.TrimRight(s.config.ShareBaseURL, "/") + "/?join=" + url.QueryEscape(code)
}

// JoinBoardByCode adds the signed-in user to the board holding code and loads it
// JoinBoardByCode 将当前用户加入持有该邀请码的看板并加载
//
// An existing member simply loads the board. Unknown codes and failed writes
// both return ErrJoinFailed.
func (s *ShareService) JoinBoardByCode(ctx context.Context, code string) (string, error) {
	user := s.boards.Identity()
	if user == nil {
		return "", domain.ErrUnauthenticated
	}
	code = util.NormalizeShareCode(code)
	if code == "" {
		return "", domain.ErrJoinFailed
	}

	docs, err := s.store.Query(ctx, docstore.Collection(domain.BoardsCollection,
		docstore.Where("shareCode", docstore.OpEqual, code)))
	if err != nil || len(docs) == 0 {
		s.logger.Warn("join by code: no board", zap.String(logger.FieldUID, user.UserID), zap.Error(err))
		return "", domain.ErrJoinFailed
	}
	var board domain.BoardMetadata
	if err := docs[0].Decode(&board); err != nil {
		s.logger.Warn("join by code: undecodable board", zap.String(logger.FieldPath, docs[0].Path), zap.Error(err))
		return "", domain.ErrJoinFailed
	}
	board.ID = docs[0].ID

	if !board.IsMember(user.UserID) {
		now := s.now().UTC()
		member, err := docstore.Encode(user.Member(domain.RoleEditor, now))
		if err == nil {
			s.writer.Begin()
			err = s.writer.End(domain.BoardsCollection, s.store.Update(ctx, domain.BoardPath(board.ID),
				docstore.Set([]string{"members", user.UserID}, member),
				docstore.ArrayUnion([]string{"memberIds"}, user.UserID),
				docstore.Set([]string{"updatedAt"}, now),
			))
		}
		if err != nil {
			s.logger.Error("join by code: membership not saved",
				zap.String(logger.FieldBoardID, board.ID),
				zap.String(logger.FieldUID, user.UserID),
				zap.Error(err))
			return "", domain.ErrJoinFailed
		}
		s.logger.Info("member joined",
			zap.String(logger.FieldBoardID, board.ID),
			zap.String(logger.FieldUID, user.UserID))
	}

	if err := s.boards.LoadBoard(ctx, board.ID); err != nil {
		s.logger.Error("join by code: load failed", zap.String(logger.FieldBoardID, board.ID), zap.Error(err))
		return "", domain.ErrJoinFailed
	}
	return board.ID, nil
}

// activeBoardDoc reads the active board from the store along with the caller
func (s *ShareService) activeBoardDoc(ctx context.Context) (domain.Identity, domain.BoardMetadata, error) {
	user, boardID, err := s.boards.active()
	if err != nil {
		return user, domain.BoardMetadata{}, err
	}
	doc, err := s.store.Get(ctx, domain.BoardPath(boardID))
	if err != nil {
		return user, domain.BoardMetadata{}, errors.Wrap(err, "read board")
	}
	var board domain.BoardMetadata
	if err := doc.Decode(&board); err != nil {
		return user, board, err
	}
	board.ID = doc.ID
	return user, board, nil
}

// RemoveMember drops uid from the active board; the owner cannot be removed
// RemoveMember 从活动看板移除 uid；所有者不可移除
// Removing the owner is a no-op returning ErrOwnerImmutable. Only the owner may remove
// members: any other caller, including a member removing itself, gets ErrForbidden.
// Removing a uid that is not a member is a no-op.
func (s *ShareService) RemoveMember(ctx context.Context, uid string) error {
	user, board, err := s.activeBoardDoc(ctx)
	if err != nil {
		s.logger.Error("remove member failed", zap.String(logger.FieldUID, uid), zap.Error(err))
		return err
	}
	if uid == board.OwnerID {
		s.logger.Warn("refusing to remove the board owner",
			zap.String(logger.FieldBoardID, board.ID),
			zap.String(logger.FieldUID, uid))
		return domain.ErrOwnerImmutable
	}
	if user.UserID != board.OwnerID {
		s.logger.Warn("only the owner can remove members",
			zap.String(logger.FieldBoardID, board.ID),
			zap.String(logger.FieldUID, user.UserID))
		return domain.ErrForbidden
	}
	if !board.IsMember(uid) {
		return nil
	}

	s.writer.Begin()
	err = s.writer.End(domain.BoardsCollection, s.store.Update(ctx, domain.BoardPath(board.ID),
		docstore.Remove([]string{"members", uid}),
		docstore.ArrayRemove([]string{"memberIds"}, uid),
		docstore.Set([]string{"updatedAt"}, s.now().UTC()),
	))
	if err != nil {
		s.logger.Error("remove member failed", zap.String(logger.FieldBoardID, board.ID), zap.Error(err))
		return err
	}
	s.logger.Info("member removed", zap.String(logger.FieldBoardID, board.ID), zap.String(logger.FieldUID, uid))
	return nil
}

// UpdateMemberRole changes the role of a non-owner member; owner only
// UpdateMemberRole 修改非所有者成员的角色（仅所有者可操作）
func (s *ShareService) UpdateMemberRole(ctx context.Context, uid string, role domain.Role) error {
	if !role.Valid() || role == domain.RoleOwner {
		return domain.ErrInvalidRole
	}
	user, board, err := s.activeBoardDoc(ctx)
	if err != nil {
		s.logger.Error("update member role failed", zap.String(logger.FieldUID, uid), zap.Error(err))
		return err
	}
	if uid == board.OwnerID {
		return domain.ErrOwnerImmutable
	}
	if user.UserID != board.OwnerID {
		return domain.ErrForbidden
	}
	if !board.IsMember(uid) {
		return domain.ErrMemberNotFound
	}

	s.writer.Begin()
	err = s.writer.End(domain.BoardsCollection, s.store.Update(ctx, domain.BoardPath(board.ID),
		docstore.Set([]string{"members", uid, "role"}, string(role)),
		docstore.Set([]string{"updatedAt"}, s.now().UTC()),
	))
	if err != nil {
		s.logger.Error("update member role failed", zap.String(logger.FieldBoardID, board.ID), zap.Error(err))
	}
	return err
}

// UpdateBoardName renames the active board; viewers may not rename
// UpdateBoardName 重命名活动看板，查看者无权操作
func (s *ShareService) UpdateBoardName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ErrInvalidBoardName
	}
	user, board, err := s.activeBoardDoc(ctx)
	if err != nil {
		s.logger.Error("rename board failed", zap.Error(err))
		return err
	}
	if role := board.RoleOf(user.UserID); role == "" || role == domain.RoleViewer {
		return domain.ErrForbidden
	}

	s.writer.Begin()
	err = s.writer.End(domain.BoardsCollection, s.store.Update(ctx, domain.BoardPath(board.ID),
		docstore.Set([]string{"name"}, name),
		docstore.Set([]string{"updatedAt"}, s.now().UTC()),
	))
	if err != nil {
		s.logger.Error("rename board failed", zap.String(logger.FieldBoardID, board.ID), zap.Error(err))
	}
	return err
}
