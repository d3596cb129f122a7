// Package writequeue keyed debounce scheduler for remote writes
// Package writequeue 按键去抖合并的远程写入调度器
//
// Every write is addressed by a Key. Fields scheduled for the same key before
// its timer expires are merged, and exactly one flush runs with their union.
// At most one flush per key is in flight; a key that becomes due while its
// previous flush is still running fires again as soon as that flush returns.
package writequeue

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/haierkeys/fast-board-sync/pkg/workerpool"

	"go.uber.org/zap"
)

var (
	// ErrClosed returned when the manager has been shut down
	// ErrClosed 调度器已关闭时返回
	ErrClosed = errors.New("write queue is closed")
)

// Key identifies one coalescing slot
// Key 标识一个合并写入槽位
type Key struct {
	// Collection document collection path, e.g. boards/B/cards
	Collection string
	// ID document id inside the collection
	ID string
}

// String returns the document path of the key
func (k Key) String() string {
	return k.Collection + "/" + k.ID
}

// FlushFunc performs the remote write for the merged fields of key
// FlushFunc 针对合并后的字段执行远程写入
type FlushFunc func(ctx context.Context, key Key, fields map[string]any) error

// SettledFunc observes every finished flush
// SettledFunc 观察每次结束的写入
type SettledFunc func(key Key, err error)

// Config scheduler configuration
// Config 调度器配置
type Config struct {
	// WriteTimeout bound for one flush, default 30 seconds
	// WriteTimeout 单次写入超时，默认 30 秒
	WriteTimeout time.Duration
}

// DefaultConfig returns default configuration
// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{WriteTimeout: 30 * time.Second}
}

type entry struct {
	key      Key
	fields   map[string]any
	fn       FlushFunc
	timer    *time.Timer
	seq      uint64
	pending  bool
	due      bool
	inFlight bool
	cancel   context.CancelFunc
}

// Manager the coalescing scheduler shared by all writers
// Manager 所有写入方共享的合并调度器
type Manager struct {
	config Config
	logger *zap.Logger
	pool   *workerpool.Pool

	ctx  context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	entries   map[Key]*entry
	busy      int
	idle      chan struct{}
	closed    bool
	onSettled SettledFunc
}

// New creates the scheduler
// New 创建调度器
// pool may be nil, flushes then run on their own goroutine.
func New(cfg *Config, pool *workerpool.Pool, logger *zap.Logger) *Manager {
	c := DefaultConfig()
	if cfg != nil && cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		config:  c,
		logger:  logger,
		pool:    pool,
		ctx:     ctx,
		stop:    stop,
		entries: make(map[Key]*entry),
	}
}

// OnSettled installs the observer called after every flush, outside the lock
// OnSettled 设置每次写入结束后的回调（在锁外调用）
func (m *Manager) OnSettled(fn SettledFunc) {
	m.mu.Lock()
	m.onSettled = fn
	m.mu.Unlock()
}

// Schedule merges fields into the pending write of key and restarts its timer
// Schedule 将字段合并进 key 的待写入集合并重置定时器
// A delay <= 0 fires immediately (or right after the in-flight write).
func (m *Manager) Schedule(key Key, delay time.Duration, fields map[string]any, fn FlushFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	e, ok := m.entries[key]
	if !ok {
		e = &entry{key: key}
		m.entries[key] = e
	}
	if e.fields == nil {
		e.fields = make(map[string]any, len(fields))
	}
	maps.Copy(e.fields, fields)
	e.fn = fn
	e.pending = true
	e.due = false
	e.seq++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if delay <= 0 {
		m.fireLocked(e)
		return nil
	}
	seq := e.seq
	e.timer = time.AfterFunc(delay, func() { m.expire(key, seq) })
	return nil
}

func (m *Manager) expire(key Key, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.seq != seq || !e.pending {
		return
	}
	e.timer = nil
	m.fireLocked(e)
}

// fireLocked starts the flush of e, or marks it due when a flush is running
func (m *Manager) fireLocked(e *entry) {
	if e.inFlight {
		e.due = true
		return
	}

	fields, fn, key := e.fields, e.fn, e.key
	e.fields = nil
	e.pending = false
	e.due = false
	e.inFlight = true

	ctx, cancel := context.WithTimeout(m.ctx, m.config.WriteTimeout)
	e.cancel = cancel
	m.busy++

	// the task always settles, even when cancelled before a worker picks it up
	m.pool.Go(context.Background(), func(context.Context) error {
		err := ctx.Err()
		if err == nil {
			err = fn(ctx, key, fields)
		}
		m.settle(e, err)
		return err
	})
}

func (m *Manager) settle(e *entry, err error) {
	m.mu.Lock()
	e.inFlight = false
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	m.busy--

	switch {
	case e.pending && e.due:
		m.fireLocked(e)
	case !e.pending:
		if m.entries[e.key] == e {
			delete(m.entries, e.key)
		}
	}
	if m.busy == 0 && m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
	hook := m.onSettled
	m.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("write flush failed",
			zap.String("key", e.key.String()),
			zap.Error(err))
	}
	if hook != nil {
		hook(e.key, err)
	}
}

// dropLocked discards the pending fields of e and cancels its in-flight write
func (m *Manager) dropLocked(e *entry) bool {
	dropped := e.pending || e.inFlight
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++
	e.fields = nil
	e.pending = false
	e.due = false
	if e.inFlight {
		if e.cancel != nil {
			e.cancel()
		}
	} else {
		delete(m.entries, e.key)
	}
	return dropped
}

// Cancel drops the pending write of key without flushing it
// Cancel 丢弃 key 的待写入内容而不执行写入
// An in-flight write for key has its context cancelled.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false
	}
	return m.dropLocked(e)
}

// CancelMatching cancels every key accepted by match and returns how many were dropped
// CancelMatching 取消所有匹配的 key，返回被丢弃的数量
func (m *Manager) CancelMatching(match func(Key) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, e := range m.entries {
		if match(key) && m.dropLocked(e) {
			n++
		}
	}
	return n
}

// Flush fires the pending write of key now
// Flush 立即触发 key 的待写入
func (m *Manager) Flush(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.pending {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		m.fireLocked(e)
	}
}

func (m *Manager) flushAllLocked() {
	for _, e := range m.entries {
		if !e.pending {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		m.fireLocked(e)
	}
}

// Pending returns a copy of the not yet flushed fields of key
// Pending 返回 key 尚未写入字段的副本
func (m *Manager) Pending(key Key) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.pending {
		return nil, false
	}
	return maps.Clone(e.fields), true
}

// PendingCount number of keys that are waiting or being written
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Busy reports whether any key accepted by match is waiting or being written
// Busy 判断是否存在匹配的 key 正在等待或写入
func (m *Manager) Busy(match func(Key) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if match == nil || match(key) {
			return true
		}
	}
	return false
}

// Wait blocks until no flush is in flight
// Wait 阻塞直到没有写入在执行
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.busy == 0 {
			m.mu.Unlock()
			return nil
		}
		if m.idle == nil {
			m.idle = make(chan struct{})
		}
		ch := m.idle
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown flushes everything pending, waits for the writes and refuses new ones
// Shutdown 写出所有待写入内容并等待完成，此后拒绝新的调度
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.flushAllLocked()
	m.mu.Unlock()

	err := m.Wait(ctx)
	m.stop()
	m.logger.Debug("write queue stopped", zap.Error(err))
	return err
}
