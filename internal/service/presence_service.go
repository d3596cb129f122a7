package service

import (
	"context"
	"sync"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/cache"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"
	"github.com/haierkeys/fast-board-sync/internal/metrics"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"go.uber.org/zap"
)

// PresenceService live presence of the local user on the active board and the view of the others
// PresenceService 本地用户在活动看板上的在线状态，以及其他用户的在线视图
//
// All presence writes go through the shared coalescing scheduler keyed by the
// user's presence document, so a cursor move and a selection change never
// race each other on the wire.
type PresenceService struct {
	store   docstore.Store
	ident   identity.Provider
	cache   *cache.Cache
	writer  *WriteCoalescer
	metrics *metrics.Collector
	config  SyncConfig
	logger  *zap.Logger
	now     func() time.Time

	// lifeMu serializes StartTracking and StopTracking
	lifeMu sync.Mutex

	mu      sync.Mutex
	boardID string
	uid     string
	gen     uint64
	unsub   docstore.Unsubscribe
	stop    chan struct{}
	done    chan struct{}
}

// NewPresenceService creates the presence engine
// NewPresenceService 创建在线状态引擎
func NewPresenceService(store docstore.Store, ident identity.Provider, c *cache.Cache, writer *WriteCoalescer, cfg *SyncConfig, m *metrics.Collector, log *zap.Logger) *PresenceService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceService{
		store:   store,
		ident:   ident,
		cache:   c,
		writer:  writer,
		metrics: m,
		config:  cfg.withDefaults(),
		logger:  log,
		now:     time.Now,
	}
}

// BoardActivated starts tracking on the newly active board
func (s *PresenceService) BoardActivated(ctx context.Context, boardID string) error {
	return s.StartTracking(ctx, boardID)
}

// BoardDeactivated stops tracking
func (s *PresenceService) BoardDeactivated(ctx context.Context, _ string) {
	s.StopTracking(ctx)
}

// StartTracking announces the local user on boardID and follows the other users there
// StartTracking 在 boardID 上宣告本地用户在线并跟踪其他用户
func (s *PresenceService) StartTracking(ctx context.Context, boardID string) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.stopLocked(ctx)

	id := s.ident.Current()
	if id == nil {
		return domain.ErrUnauthenticated
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.boardID = boardID
	s.uid = id.UserID
	s.mu.Unlock()

	record := map[string]any{
		"userId":         id.UserID,
		"displayName":    id.Name(),
		"avatarUrl":      id.AvatarURL,
		"color":          domain.PresenceColor(id.UserID),
		"cursorPosition": nil,
		"selectedCardId": "",
		"editingCardId":  "",
		"isOnline":       true,
	}
	if err := s.writer.SchedulePresence(boardID, id.UserID, 0, record); err != nil {
		s.logger.Warn("initial presence write failed", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
	}

	target := docstore.Collection(domain.PresencePath(boardID),
		docstore.Where("isOnline", docstore.OpEqual, true))
	unsub, err := s.store.Subscribe(target,
		func(snap docstore.Snapshot) { s.onPresence(gen, snap) },
		func(err error) {
			s.logger.Error("presence sync error", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
		})
	if err != nil {
		s.mu.Lock()
		s.boardID, s.uid = "", ""
		s.gen++
		s.mu.Unlock()
		s.writer.CancelPresence(boardID)
		return err
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.mu.Lock()
	s.unsub = unsub
	s.stop, s.done = stop, done
	s.mu.Unlock()
	go s.loop(boardID, id.UserID, stop, done)

	s.logger.Info("presence tracking started",
		zap.String(logger.FieldBoardID, boardID),
		zap.String(logger.FieldUID, id.UserID))
	return nil
}

// loop runs the heartbeat and cleanup timers
func (s *PresenceService) loop(boardID, uid string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	heartbeat := time.NewTicker(s.config.HeartbeatInterval())
	defer heartbeat.Stop()
	cleanup := time.NewTicker(s.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-stop:
			return
		case <-heartbeat.C:
			if err := s.writer.SchedulePresence(boardID, uid, 0, map[string]any{"isOnline": true}); err != nil {
				s.logger.Warn("heartbeat not scheduled", zap.String(logger.FieldBoardID, boardID), zap.Error(err))
			}
		case <-cleanup.C:
			s.Cleanup()
		}
	}
}

func (s *PresenceService) onPresence(gen uint64, snap docstore.Snapshot) {
	s.mu.Lock()
	current := s.gen == gen
	uid := s.uid
	s.mu.Unlock()
	if !current {
		s.metrics.ObserveDroppedSnapshot()
		return
	}

	now := s.now()
	others := make(map[string]domain.PresenceRecord, len(snap.Docs))
	for _, d := range snap.Docs {
		var rec domain.PresenceRecord
		if err := d.Decode(&rec); err != nil {
			s.logger.Warn("skip undecodable presence", zap.String(logger.FieldPath, d.Path), zap.Error(err))
			continue
		}
		rec.UserID = d.ID
		if rec.UserID == uid || !rec.IsOnline || rec.StaleAt(now, s.config.StaleTimeout) {
			continue
		}
		others[rec.UserID] = rec
	}
	s.cache.Presence.Replace(others)
	s.metrics.ObserveSnapshot(domain.PresenceCollection)
}

// Cleanup evicts stale records from the local view; remote records are left alone
// Cleanup 从本地视图中移除过期记录，不删除远程记录
func (s *PresenceService) Cleanup() int {
	now := s.now()
	n := s.cache.Presence.Filter(func(_ string, rec domain.PresenceRecord) bool {
		return !rec.StaleAt(now, s.config.StaleTimeout)
	})
	if n > 0 {
		s.metrics.ObserveEvictions(n)
		s.logger.Debug("stale presence evicted", zap.Int(logger.FieldCount, n))
	}
	return n
}

// StopTracking stops timers and the subscription and removes the local user's record
// StopTracking 停止定时器与订阅，并删除本地用户的在线记录
// The remote delete is best effort: a failure is logged and left to the other clients' stale timeout.
func (s *PresenceService) StopTracking(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked(ctx)
}

func (s *PresenceService) stopLocked(ctx context.Context) {
	s.mu.Lock()
	boardID, uid := s.boardID, s.uid
	unsub, stop, done := s.unsub, s.stop, s.done
	s.boardID, s.uid = "", ""
	s.unsub, s.stop, s.done = nil, nil, nil
	s.gen++
	s.mu.Unlock()
	if boardID == "" {
		return
	}

	if stop != nil {
		close(stop)
		<-done
	}
	if unsub != nil {
		unsub()
	}
	s.writer.CancelPresence(boardID)
	if err := s.store.Delete(ctx, domain.PresenceDocPath(boardID, uid)); err != nil {
		s.logger.Warn("presence record not removed",
			zap.String(logger.FieldBoardID, boardID),
			zap.String(logger.FieldUID, uid),
			zap.Error(err))
	}
	s.cache.Presence.Clear()
	s.logger.Info("presence tracking stopped", zap.String(logger.FieldBoardID, boardID))
}

func (s *PresenceService) tracking() (boardID, uid string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boardID == "" {
		return "", "", domain.ErrNotTracking
	}
	return s.boardID, s.uid, nil
}

// TrackedBoard board being tracked, empty when idle
func (s *PresenceService) TrackedBoard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardID
}

// UpdateCursorPosition coalesced cursor move; writes only cursorPosition
// UpdateCursorPosition 合并后的光标移动，仅写入 cursorPosition
func (s *PresenceService) UpdateCursorPosition(x, y float64) error {
	boardID, uid, err := s.tracking()
	if err != nil {
		return err
	}
	return s.writer.SchedulePresence(boardID, uid, s.config.CursorDelay,
		map[string]any{"cursorPosition": map[string]any{"x": x, "y": y}})
}

// UpdateSelectedCard publishes the selected card, empty to clear
func (s *PresenceService) UpdateSelectedCard(cardID string) error {
	boardID, uid, err := s.tracking()
	if err != nil {
		return err
	}
	return s.writer.SchedulePresence(boardID, uid, 0, map[string]any{"selectedCardId": cardID})
}

// UpdateEditingCard publishes the card being edited, empty to clear
func (s *PresenceService) UpdateEditingCard(cardID string) error {
	boardID, uid, err := s.tracking()
	if err != nil {
		return err
	}
	return s.writer.SchedulePresence(boardID, uid, 0, map[string]any{"editingCardId": cardID})
}

// OtherUsers online users on the board other than the local one, ordered by id
// OtherUsers 看板上除本地用户外的在线用户（按 ID 排序）
func (s *PresenceService) OtherUsers() []domain.PresenceRecord {
	return s.cache.Presence.Values()
}

// GetUsersEditingCard users currently editing cardID, nil for an empty id
func (s *PresenceService) GetUsersEditingCard(cardID string) []domain.PresenceRecord {
	if cardID == "" {
		return nil
	}
	var out []domain.PresenceRecord
	for _, rec := range s.cache.Presence.Values() {
		if rec.EditingCardID == cardID {
			out = append(out, rec)
		}
	}
	return out
}

// GetUsersSelectingCard users currently selecting cardID, nil for an empty id
func (s *PresenceService) GetUsersSelectingCard(cardID string) []domain.PresenceRecord {
	if cardID == "" {
		return nil
	}
	var out []domain.PresenceRecord
	for _, rec := range s.cache.Presence.Values() {
		if rec.SelectedCardID == cardID {
			out = append(out, rec)
		}
	}
	return out
}
