package docstore

import (
	"sync"

	"go.uber.org/zap"
)

// watcher one subscription with a latest-wins mailbox
// watcher 单个订阅，使用仅保留最新值的信箱
//
// Pushes never block the writer: a newer snapshot replaces an undelivered one,
// which is safe because every snapshot carries the full result set.
type watcher struct {
	id         uint64
	target     Target
	onSnapshot func(Snapshot)
	onError    func(error)

	mu     sync.Mutex
	snap   *Snapshot
	err    error
	signal chan struct{}

	// deliverMu held while a callback runs; Unsubscribe takes it to wait for one in progress
	deliverMu sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
	stopped   bool
}

func (w *watcher) pushSnapshot(s Snapshot) {
	w.mu.Lock()
	w.snap = &s
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) pushError(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) loop(logger *zap.Logger) {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}

		w.deliverMu.Lock()
		if w.stopped {
			w.deliverMu.Unlock()
			return
		}
		w.mu.Lock()
		snap, err := w.snap, w.err
		w.snap, w.err = nil, nil
		w.mu.Unlock()

		if err != nil && w.onError != nil {
			w.safeCall(logger, func() { w.onError(err) })
		}
		if snap != nil && w.onSnapshot != nil {
			w.safeCall(logger, func() { w.onSnapshot(*snap) })
		}
		w.deliverMu.Unlock()
	}
}

func (w *watcher) safeCall(logger *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscription callback panicked",
				zap.String("path", w.target.Path),
				zap.Any("panic", r))
		}
	}()
	fn()
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.deliverMu.Lock()
		w.stopped = true
		w.deliverMu.Unlock()
	})
}

// hub registry of local subscriptions
// hub 本地订阅注册表
type hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	watchers map[uint64]*watcher
	next     uint64
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, watchers: make(map[uint64]*watcher)}
}

// add registers a watcher and starts its delivery goroutine
func (h *hub) add(t Target, onSnapshot func(Snapshot), onError func(error)) *watcher {
	h.mu.Lock()
	h.next++
	w := &watcher{
		id:         h.next,
		target:     t,
		onSnapshot: onSnapshot,
		onError:    onError,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	h.watchers[w.id] = w
	h.mu.Unlock()

	go w.loop(h.logger)
	return w
}

func (h *hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w.id)
	h.mu.Unlock()
	w.stop()
}

// unsubscriber returns the Unsubscribe of w
func (h *hub) unsubscriber(w *watcher) Unsubscribe {
	return func() { h.remove(w) }
}

// affected watchers whose target may change when the document at path changes
// affected 返回可能因 path 处文档变更而受影响的订阅
func (h *hub) affected(path string) []*watcher {
	parent, _ := ParentPath(path)
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*watcher
	for _, w := range h.watchers {
		if w.target.Path == path || w.target.Path == parent {
			out = append(out, w)
		}
	}
	return out
}

func (h *hub) all() []*watcher {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		out = append(out, w)
	}
	return out
}

func (h *hub) closeAll() {
	for _, w := range h.all() {
		h.remove(w)
	}
}

func (h *hub) get(id uint64) (*watcher, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.watchers[id]
	return w, ok
}

// Fanout local subscriptions fed by snapshots that arrive from elsewhere, e.g. a remote gateway
// Fanout 由外部（如远程网关）推送快照的本地订阅集合
//
// Delivery keeps the Store guarantees: latest-wins per subscription, and no
// callback runs once the Unsubscribe returned by Add has returned.
type Fanout struct {
	h *hub
}

// NewFanout creates an empty fanout
func NewFanout(logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{h: newHub(logger)}
}

// Add registers a subscription and returns its id
// Add 注册订阅并返回其 ID
func (f *Fanout) Add(t Target, onSnapshot func(Snapshot), onError func(error)) (uint64, Unsubscribe) {
	w := f.h.add(t, onSnapshot, onError)
	return w.id, f.h.unsubscriber(w)
}

// Push hands a snapshot to subscription id; false when it is gone
func (f *Fanout) Push(id uint64, s Snapshot) bool {
	w, ok := f.h.get(id)
	if ok {
		w.pushSnapshot(s)
	}
	return ok
}

// PushError hands an error to subscription id; false when it is gone
func (f *Fanout) PushError(id uint64, err error) bool {
	w, ok := f.h.get(id)
	if ok {
		w.pushError(err)
	}
	return ok
}

// Broadcast pushes err to every subscription
// Broadcast 向所有订阅推送错误
func (f *Fanout) Broadcast(err error) {
	for _, w := range f.h.all() {
		w.pushError(err)
	}
}

// Close stops every subscription
func (f *Fanout) Close() {
	f.h.closeAll()
}
