package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/cache"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/metrics"
	"github.com/haierkeys/fast-board-sync/pkg/logger"
	"github.com/haierkeys/fast-board-sync/pkg/writequeue"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WriteCoalescer debounced entity writes and the aggregate sync status
// WriteCoalescer 实体的去抖写入及聚合同步状态
//
// Card edits are merged per card and flushed as one merge-write stamped with
// the last writer. Direct writes (create, delete, link edits) report through
// Begin/End so the status only turns synced when nothing is outstanding.
type WriteCoalescer struct {
	queue   *writequeue.Manager
	store   docstore.Store
	cache   *cache.Cache
	metrics *metrics.Collector
	config  SyncConfig
	logger  *zap.Logger
	now     func() time.Time

	// statusMu orders status transitions against schedule and settle
	statusMu sync.Mutex
	direct   int
}

// NewWriteCoalescer creates the coalescer and installs its settle hook on queue
// NewWriteCoalescer 创建写入合并器并在调度器上注册完成回调
func NewWriteCoalescer(queue *writequeue.Manager, store docstore.Store, c *cache.Cache, cfg *SyncConfig, m *metrics.Collector, log *zap.Logger) *WriteCoalescer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &WriteCoalescer{
		queue:   queue,
		store:   store,
		cache:   c,
		metrics: m,
		config:  cfg.withDefaults(),
		logger:  log,
		now:     time.Now,
	}
	queue.OnSettled(w.settled)
	return w
}

// CardKey scheduler key of a card
func CardKey(boardID, cardID string) writequeue.Key {
	return writequeue.Key{Collection: domain.CardsPath(boardID), ID: cardID}
}

// PresenceKey scheduler key of a user's presence record
func PresenceKey(boardID, uid string) writequeue.Key {
	return writequeue.Key{Collection: domain.PresencePath(boardID), ID: uid}
}

// isEntityKey presence writes do not drive the sync status
func isEntityKey(k writequeue.Key) bool {
	return !strings.HasSuffix(k.Collection, "/"+domain.PresenceCollection)
}

// kind last path segment of a collection, used as metric label
func kind(collection string) string {
	if i := strings.LastIndexByte(collection, '/'); i >= 0 {
		return collection[i+1:]
	}
	return collection
}

// Status current aggregate sync status
func (w *WriteCoalescer) Status() domain.SyncStatus {
	return w.cache.Status.Get()
}

// SetStatus forces the aggregate sync status
// SetStatus 强制设置聚合同步状态
func (w *WriteCoalescer) SetStatus(s domain.SyncStatus) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.setStatusLocked(s)
}

func (w *WriteCoalescer) setStatusLocked(s domain.SyncStatus) {
	if w.cache.Status.Get() == s {
		return
	}
	w.cache.Status.Set(s)
	w.metrics.SetSyncStatus(s)
}

func (w *WriteCoalescer) busyLocked() bool {
	return w.direct > 0 || w.queue.Busy(isEntityKey)
}

// MarkSynced turns the status to synced when no write is outstanding
// MarkSynced 无未完成写入时将状态置为 synced
func (w *WriteCoalescer) MarkSynced() {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	if !w.busyLocked() {
		w.setStatusLocked(domain.SyncSynced)
	}
}

// ScheduleCard merges fields into the pending write of a card
// ScheduleCard 将字段合并进卡片的待写入内容
// The flush stamps meta.updatedBy with uid and meta.updatedAt with the flush time.
func (w *WriteCoalescer) ScheduleCard(boardID, cardID, uid string, delay time.Duration, fields map[string]any) error {
	key := CardKey(boardID, cardID)
	flush := func(ctx context.Context, key writequeue.Key, fields map[string]any) error {
		fields["meta"] = map[string]any{
			"updatedBy": uid,
			"updatedAt": w.now().UTC(),
		}
		err := w.store.Put(ctx, key.String(), fields, docstore.Merge())
		w.metrics.ObserveWrite(kind(key.Collection), err)
		return errors.Wrap(err, "flush card")
	}

	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	if err := w.queue.Schedule(key, delay, fields, flush); err != nil {
		return err
	}
	w.metrics.ObserveSchedule(kind(key.Collection))
	w.setStatusLocked(domain.SyncSyncing)
	return nil
}

// SchedulePresence merges fields into the pending presence write of uid
// SchedulePresence 合并在线状态的待写入字段
// Every presence flush refreshes lastSeen. Presence writes leave the sync status alone.
func (w *WriteCoalescer) SchedulePresence(boardID, uid string, delay time.Duration, fields map[string]any) error {
	key := PresenceKey(boardID, uid)
	flush := func(ctx context.Context, key writequeue.Key, fields map[string]any) error {
		fields["lastSeen"] = w.now().UTC()
		err := w.store.Put(ctx, key.String(), fields, docstore.Merge())
		w.metrics.ObserveWrite(kind(key.Collection), err)
		return errors.Wrap(err, "flush presence")
	}
	if err := w.queue.Schedule(key, delay, fields, flush); err != nil {
		return err
	}
	w.metrics.ObserveSchedule(kind(key.Collection))
	return nil
}

// Cancel drops the pending write of key
// Cancel 丢弃 key 的待写入内容
func (w *WriteCoalescer) Cancel(key writequeue.Key) bool {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	dropped := w.queue.Cancel(key)
	if dropped {
		w.logger.Debug("pending write cancelled", zap.String(logger.FieldPath, key.String()))
	}
	w.recomputeLocked()
	return dropped
}

// CancelPresence drops pending presence writes of a board
func (w *WriteCoalescer) CancelPresence(boardID string) int {
	prefix := domain.PresencePath(boardID)
	return w.queue.CancelMatching(func(k writequeue.Key) bool { return k.Collection == prefix })
}

// CancelBoard drops every pending write of a board and cancels its in-flight ones
// CancelBoard 丢弃看板的所有待写入内容并取消正在执行的写入
func (w *WriteCoalescer) CancelBoard(boardID string) int {
	prefix := domain.BoardPrefix(boardID)
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	n := w.queue.CancelMatching(func(k writequeue.Key) bool {
		return strings.HasPrefix(k.Collection+"/", prefix)
	})
	if n > 0 {
		w.logger.Info("pending writes dropped",
			zap.String(logger.FieldBoardID, boardID),
			zap.Int(logger.FieldCount, n))
	}
	w.recomputeLocked()
	return n
}

// CancelAll drops every pending write
func (w *WriteCoalescer) CancelAll() int {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.queue.CancelMatching(func(writequeue.Key) bool { return true })
}

// Flush fires the pending write of a card now
func (w *WriteCoalescer) Flush(key writequeue.Key) {
	w.queue.Flush(key)
}

// Pending not yet flushed fields of key
func (w *WriteCoalescer) Pending(key writequeue.Key) (map[string]any, bool) {
	return w.queue.Pending(key)
}

// recomputeLocked leaves syncing once nothing is outstanding after a cancel
func (w *WriteCoalescer) recomputeLocked() {
	if w.cache.Status.Get() == domain.SyncSyncing && !w.busyLocked() {
		w.setStatusLocked(domain.SyncSynced)
	}
}

// Begin marks the start of a direct remote write
// Begin 标记一次直接远程写入开始
func (w *WriteCoalescer) Begin() {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.direct++
	w.setStatusLocked(domain.SyncSyncing)
}

// End marks the end of a direct remote write started with Begin
// End 标记以 Begin 开始的直接远程写入结束
func (w *WriteCoalescer) End(collection string, err error) error {
	w.metrics.ObserveWrite(kind(collection), err)
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.direct--
	w.applyResultLocked(err)
	return err
}

func (w *WriteCoalescer) settled(key writequeue.Key, err error) {
	if !isEntityKey(key) {
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("presence write failed",
				zap.String(logger.FieldPath, key.String()),
				zap.Error(err))
		}
		return
	}
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.applyResultLocked(err)
}

func (w *WriteCoalescer) applyResultLocked(err error) {
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		w.setStatusLocked(domain.SyncError)
	case w.busyLocked():
	case w.cache.Status.Get() == domain.SyncOffline:
	default:
		w.setStatusLocked(domain.SyncSynced)
	}
}
