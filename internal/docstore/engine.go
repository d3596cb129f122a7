package docstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// backend raw persistence used by engine; implementations need not be concurrency safe
// beyond what engine's single writer lock gives them
type backend interface {
	get(ctx context.Context, path string) (*Document, error)
	list(ctx context.Context, collection string) ([]Document, error)
	put(ctx context.Context, doc Document) error
	remove(ctx context.Context, paths []string) error
	close() error
}

// engine Store implementation over a single-process backend
// engine 基于单进程后端的 Store 实现
//
// All operations run under one lock and snapshots are computed and queued
// before it is released, so every subscriber observes states in write order.
type engine struct {
	b      backend
	hub    *hub
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newEngine(b backend, logger *zap.Logger) *engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &engine{b: b, hub: newHub(logger), logger: logger}
}

// lock takes the engine lock; a cancelled ctx releases it again and fails
func (e *engine) lock(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return err
	}
	return nil
}

// Put writes doc at path
func (e *engine) Put(ctx context.Context, path string, doc map[string]any, opts ...PutOption) error {
	p, err := docPath(path)
	if err != nil {
		return err
	}
	data, err := normalizeMap(doc)
	if err != nil {
		return err
	}
	o := applyPutOptions(opts)

	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	before, err := e.getLocked(ctx, p)
	if err != nil {
		return err
	}
	if o.merge && before != nil {
		data = deepMerge(before.Data, data)
	}
	after := newDocument(p, data)
	if err := e.b.put(ctx, after); err != nil {
		return errors.Wrap(err, "put document")
	}
	e.notifyLocked(p)
	return nil
}

// Update applies field transforms atomically
func (e *engine) Update(ctx context.Context, path string, updates ...FieldUpdate) error {
	p, err := docPath(path)
	if err != nil {
		return err
	}

	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	before, err := e.getLocked(ctx, p)
	if err != nil {
		return err
	}
	if before == nil {
		return ErrNotFound
	}
	data, err := applyUpdates(before.Data, updates)
	if err != nil {
		return err
	}
	if err := e.b.put(ctx, newDocument(p, data)); err != nil {
		return errors.Wrap(err, "update document")
	}
	e.notifyLocked(p)
	return nil
}

// Get reads one document
func (e *engine) Get(ctx context.Context, path string) (*Document, error) {
	p, err := docPath(path)
	if err != nil {
		return nil, err
	}
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	d, err := e.getLocked(ctx, p)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// Delete removes one document
func (e *engine) Delete(ctx context.Context, path string) error {
	return e.BatchDelete(ctx, []string{path})
}

// BatchDelete removes all paths atomically
func (e *engine) BatchDelete(ctx context.Context, paths []string) error {
	clean := make([]string, 0, len(paths))
	for _, path := range paths {
		p, err := docPath(path)
		if err != nil {
			return err
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return nil
	}

	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if err := e.b.remove(ctx, clean); err != nil {
		return errors.Wrap(err, "delete documents")
	}
	for _, p := range clean {
		e.notifyLocked(p)
	}
	return nil
}

// Query evaluates a collection target once
func (e *engine) Query(ctx context.Context, target Target) ([]Document, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	snap, err := e.evaluateLocked(ctx, target)
	if err != nil {
		return nil, err
	}
	return snap.Docs, nil
}

// Subscribe delivers the current result set of target now and after every change
func (e *engine) Subscribe(target Target, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if _, err := SplitPath(target.Path); err != nil {
		return nil, err
	}
	if _, err := newMatcher(target.Filters); err != nil {
		return nil, err
	}

	if err := e.lock(context.Background()); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	w := e.hub.add(target, onSnapshot, onError)
	e.refreshLocked(context.Background(), w)
	return e.hub.unsubscriber(w), nil
}

// Close stops every subscription and releases the backend
func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.closeAll()
	return e.b.close()
}

func (e *engine) getLocked(ctx context.Context, path string) (*Document, error) {
	d, err := e.b.get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// evaluateLocked computes the full current snapshot of t
func (e *engine) evaluateLocked(ctx context.Context, t Target) (Snapshot, error) {
	if t.IsDocument() {
		p, _ := docPath(t.Path)
		d, err := e.getLocked(ctx, p)
		if err != nil {
			return Snapshot{}, err
		}
		if d == nil {
			return Snapshot{Target: t, Docs: []Document{}}, nil
		}
		return Snapshot{Target: t, Docs: []Document{*d}, Exists: true}, nil
	}

	c, err := collectionPath(t.Path)
	if err != nil {
		return Snapshot{}, err
	}
	all, err := e.b.list(ctx, c)
	if err != nil {
		return Snapshot{}, err
	}
	docs, err := filterDocs(t, all)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Target: t, Docs: docs, Exists: true}, nil
}

func (e *engine) refreshLocked(ctx context.Context, w *watcher) {
	snap, err := e.evaluateLocked(ctx, w.target)
	if err != nil {
		e.logger.Warn("snapshot evaluation failed", zap.String("path", w.target.Path), zap.Error(err))
		w.pushError(err)
		return
	}
	w.pushSnapshot(snap)
}

func (e *engine) notifyLocked(path string) {
	for _, w := range e.hub.affected(path) {
		e.refreshLocked(context.Background(), w)
	}
}
