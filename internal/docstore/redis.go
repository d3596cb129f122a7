package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisTxRetries  = 16
	redisEvalTimeout = 5 * time.Second
)

// RedisStore Store shared through redis by several gateway processes
// RedisStore 通过 redis 在多个网关进程间共享的 Store
//
// Documents are JSON strings under <prefix>doc:<path>; every collection keeps a
// set of member ids under <prefix>col:<collection>. Writes publish the changed
// path on <prefix>changes, and each process re-evaluates its own affected
// subscriptions from a single goroutine so every subscriber sees states in order.
type RedisStore struct {
	client *redis.Client
	owned  bool
	prefix string
	logger *zap.Logger
	hub    *hub

	pubsub  *redis.PubSub
	refresh chan *watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRedisStore connects to redisURL, e.g. redis://localhost:6379/0
// NewRedisStore 连接 redisURL
func NewRedisStore(redisURL, prefix string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}

	s, err := NewRedisStoreWithClient(client, prefix, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient creates a store from an existing client; the client is not closed by Close
// NewRedisStoreWithClient 基于已有客户端创建存储，Close 不会关闭该客户端
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "board:"
	}
	s := &RedisStore{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		hub:     newHub(logger),
		refresh: make(chan *watcher),
		done:    make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.pubsub = client.Subscribe(ctx, s.channel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return nil, errors.Wrap(err, "subscribe change channel")
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *RedisStore) docKey(path string) string { return s.prefix + "doc:" + path }

func (s *RedisStore) colKey(collection string) string { return s.prefix + "col:" + collection }

func (s *RedisStore) channel() string { return s.prefix + "changes" }

func (s *RedisStore) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// watchTx runs fn as an optimistic transaction over keys, retrying on conflicts
// watchTx 以乐观事务执行 fn，冲突时重试
func (s *RedisStore) watchTx(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.New("redis transaction retries exhausted")
}

func (s *RedisStore) publish(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if err := s.client.Publish(ctx, s.channel(), p).Err(); err != nil {
			s.logger.Warn("publish document change failed", zap.String("path", p), zap.Error(err))
		}
	}
}

// Put writes doc at path
func (s *RedisStore) Put(ctx context.Context, path string, doc map[string]any, opts ...PutOption) error {
	if s.closed() {
		return ErrClosed
	}
	p, err := docPath(path)
	if err != nil {
		return err
	}
	patch, err := normalizeMap(doc)
	if err != nil {
		return err
	}
	o := applyPutOptions(opts)
	collection, id := ParentPath(p)
	docKey := s.docKey(p)

	err = s.watchTx(ctx, func(tx *redis.Tx) error {
		data := patch
		if o.merge {
			raw, err := tx.Get(ctx, docKey).Result()
			switch {
			case err == nil:
				before, err := unmarshalData(raw)
				if err != nil {
					return err
				}
				data = deepMerge(before, patch)
			case !errors.Is(err, redis.Nil):
				return err
			}
		}
		encoded, err := marshalData(data)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey, encoded, 0)
			pipe.SAdd(ctx, s.colKey(collection), id)
			return nil
		})
		return err
	}, docKey)
	if err != nil {
		return errors.Wrap(err, "put document")
	}
	s.publish(ctx, p)
	return nil
}

// Update applies field transforms atomically
func (s *RedisStore) Update(ctx context.Context, path string, updates ...FieldUpdate) error {
	if s.closed() {
		return ErrClosed
	}
	p, err := docPath(path)
	if err != nil {
		return err
	}
	docKey := s.docKey(p)

	err = s.watchTx(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, docKey).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		before, err := unmarshalData(raw)
		if err != nil {
			return err
		}
		data, err := applyUpdates(before, updates)
		if err != nil {
			return err
		}
		encoded, err := marshalData(data)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey, encoded, 0)
			return nil
		})
		return err
	}, docKey)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidUpdate) {
		return err
	}
	if err != nil {
		return errors.Wrap(err, "update document")
	}
	s.publish(ctx, p)
	return nil
}

// Get reads one document
func (s *RedisStore) Get(ctx context.Context, path string) (*Document, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	p, err := docPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.docKey(p)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get document")
	}
	data, err := unmarshalData(raw)
	if err != nil {
		return nil, err
	}
	d := newDocument(p, data)
	return &d, nil
}

// Delete removes one document
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	return s.BatchDelete(ctx, []string{path})
}

// BatchDelete removes all paths in one MULTI block
func (s *RedisStore) BatchDelete(ctx context.Context, paths []string) error {
	if s.closed() {
		return ErrClosed
	}
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

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range clean {
			collection, id := ParentPath(p)
			pipe.Del(ctx, s.docKey(p))
			pipe.SRem(ctx, s.colKey(collection), id)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "delete documents")
	}
	s.publish(ctx, clean...)
	return nil
}

func (s *RedisStore) list(ctx context.Context, collection string) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, s.colKey(collection)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list collection")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection + "/" + id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load collection")
	}

	out := make([]Document, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		data, err := unmarshalData(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Document{ID: ids[i], Path: collection + "/" + ids[i], Data: data})
	}
	return out, nil
}

// Query evaluates a collection target once
func (s *RedisStore) Query(ctx context.Context, target Target) ([]Document, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	snap, err := s.evaluate(ctx, target)
	if err != nil {
		return nil, err
	}
	return snap.Docs, nil
}

func (s *RedisStore) evaluate(ctx context.Context, t Target) (Snapshot, error) {
	if t.IsDocument() {
		d, err := s.Get(ctx, t.Path)
		if errors.Is(err, ErrNotFound) {
			return Snapshot{Target: t, Docs: []Document{}}, nil
		}
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Target: t, Docs: []Document{*d}, Exists: true}, nil
	}

	c, err := collectionPath(t.Path)
	if err != nil {
		return Snapshot{}, err
	}
	all, err := s.list(ctx, c)
	if err != nil {
		return Snapshot{}, err
	}
	docs, err := filterDocs(t, all)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Target: t, Docs: docs, Exists: true}, nil
}

// Subscribe delivers the current result set of target now and after every change
func (s *RedisStore) Subscribe(target Target, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if _, err := SplitPath(target.Path); err != nil {
		return nil, err
	}
	if _, err := newMatcher(target.Filters); err != nil {
		return nil, err
	}
	w := s.hub.add(target, onSnapshot, onError)
	select {
	case s.refresh <- w:
	case <-s.done:
		s.hub.remove(w)
		return nil, ErrClosed
	}
	return s.hub.unsubscriber(w), nil
}

func (s *RedisStore) loop() {
	defer s.wg.Done()
	changes := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case w := <-s.refresh:
			s.refreshWatcher(w)
		case msg, ok := <-changes:
			if !ok {
				return
			}
			for _, w := range s.hub.affected(msg.Payload) {
				s.refreshWatcher(w)
			}
		}
	}
}

func (s *RedisStore) refreshWatcher(w *watcher) {
	ctx, cancel := context.WithTimeout(context.Background(), redisEvalTimeout)
	defer cancel()

	snap, err := s.evaluate(ctx, w.target)
	if err != nil {
		s.logger.Warn("snapshot evaluation failed", zap.String("path", w.target.Path), zap.Error(err))
		w.pushError(err)
		return
	}
	w.pushSnapshot(snap)
}

// Close stops subscriptions and, when the store created it, the client
func (s *RedisStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.wg.Wait()
		s.hub.closeAll()
		if s.owned {
			if cerr := s.client.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
