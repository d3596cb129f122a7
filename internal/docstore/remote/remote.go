// Package remote docstore.Store served by a sync gateway over websocket
// Package remote 通过 websocket 连接同步网关的 docstore.Store 实现
package remote

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/dto"
	"github.com/haierkeys/fast-board-sync/pkg/code"
	"github.com/haierkeys/fast-board-sync/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized the gateway rejected the token
	// ErrUnauthorized 网关拒绝了令牌
	ErrUnauthorized = errors.New("gateway rejected the token")
	// ErrDisconnected the connection to the gateway was lost
	// ErrDisconnected 与网关的连接已断开
	ErrDisconnected = errors.New("gateway connection lost")
	// ErrTooManyRequests the gateway rate limit was hit
	ErrTooManyRequests = errors.New("gateway rate limit exceeded")
)

// GatewayError failure result without a matching sentinel
type GatewayError struct {
	Code    int
	Msg     string
	Details []string
}

func (e *GatewayError) Error() string {
	if len(e.Details) > 0 {
		return e.Msg + ": " + strings.Join(e.Details, ",")
	}
	return e.Msg
}

// Config connection settings
// Config 连接配置
type Config struct {
	// URL gateway websocket endpoint, e.g. ws://localhost:9100/api/sync
	URL string
	// Token identity token sent in the Authorization frame
	Token string
	// RequestTimeout bound of one request without its own deadline, default 10s
	// RequestTimeout 未设置截止时间的请求超时，默认 10 秒
	RequestTimeout time.Duration
}

// Store remote document store
// Store 远程文档存储
//
// Subscriptions are not restored after a disconnect: every open subscription
// receives ErrDisconnected and later calls fail with it.
type Store struct {
	config Config
	logger *zap.Logger
	conn   *gws.Conn
	fanout *docstore.Fanout

	nextID atomic.Uint64
	auth   chan dto.Result

	mu      sync.Mutex
	pending map[uint64]chan dto.Result
	closing bool
	lost    error
	done    chan struct{}
}

// Dial connects and authenticates
// Dial 连接网关并完成认证
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Store{
		config:  cfg,
		logger:  log,
		fanout:  docstore.NewFanout(log),
		auth:    make(chan dto.Result, 1),
		pending: make(map[uint64]chan dto.Result),
		done:    make(chan struct{}),
	}

	conn, _, err := gws.NewClient(&handler{s: s}, &gws.ClientOption{
		Addr:               cfg.URL,
		HandshakeTimeout:   cfg.RequestTimeout,
		PermessageDeflate:  gws.PermessageDeflate{Enabled: true},
		ReadMaxPayloadSize: 16 * 1024 * 1024,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.URL)
	}
	s.conn = conn
	go conn.ReadLoop()

	if err := s.authorize(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info("connected to gateway", zap.String("url", cfg.URL))
	return s, nil
}

func (s *Store) authorize(ctx context.Context) error {
	if err := s.conn.WriteMessage(gws.OpcodeText, []byte(dto.ActionAuthorization+"|"+s.config.Token)); err != nil {
		return errors.Wrap(err, "send authorization")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	select {
	case res := <-s.auth:
		if !res.Status {
			return ErrUnauthorized
		}
		return nil
	case <-s.done:
		return s.doneErr()
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "authorization")
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}

func (s *Store) doneErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost != nil {
		return s.lost
	}
	return docstore.ErrClosed
}

func (s *Store) send(action string, v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", action)
	}
	frame := make([]byte, 0, len(action)+1+len(payload))
	frame = append(frame, action...)
	frame = append(frame, '|')
	frame = append(frame, payload...)
	return s.conn.WriteMessage(gws.OpcodeText, frame)
}

// call sends one request and waits for its Result
// call 发送单个请求并等待其应答
func (s *Store) call(ctx context.Context, action string, build func(id uint64) any) (dto.Result, error) {
	id := s.nextID.Add(1)
	ch := make(chan dto.Result, 1)

	s.mu.Lock()
	if s.closing || s.lost != nil {
		s.mu.Unlock()
		return dto.Result{}, s.doneErr()
	}
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.send(action, build(id)); err != nil {
		return dto.Result{}, errors.Wrapf(err, "send %s", action)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	select {
	case res := <-ch:
		return res, resultError(res)
	case <-s.done:
		select {
		case res := <-ch:
			return res, resultError(res)
		default:
			return dto.Result{}, s.doneErr()
		}
	case <-ctx.Done():
		return dto.Result{}, errors.Wrap(ctx.Err(), action)
	}
}

// resultError maps a failed result back to the store sentinels
// resultError 将失败应答映射回存储错误
func resultError(res dto.Result) error {
	if res.Status {
		return nil
	}
	var sentinel error
	switch res.Code {
	case code.ErrorDocumentNotFound.Code():
		sentinel = docstore.ErrNotFound
	case code.ErrorInvalidPath.Code():
		sentinel = docstore.ErrInvalidPath
	case code.ErrorInvalidUpdate.Code():
		sentinel = docstore.ErrInvalidUpdate
	case code.ErrorStoreClosed.Code():
		sentinel = docstore.ErrClosed
	case code.ErrorTooManyRequests.Code():
		sentinel = ErrTooManyRequests
	case code.ErrorNotUserAuthToken.Code(), code.ErrorInvalidUserAuthToken.Code():
		sentinel = ErrUnauthorized
	default:
		return &GatewayError{Code: res.Code, Msg: res.Msg, Details: res.Details}
	}
	return errors.Wrap(sentinel, "gateway")
}

func (s *Store) Put(ctx context.Context, path string, doc map[string]any, opts ...docstore.PutOption) error {
	if doc == nil {
		doc = map[string]any{}
	}
	merge := docstore.IsMerge(opts...)
	_, err := s.call(ctx, dto.ActionPut, func(id uint64) any {
		return dto.PutRequest{ID: id, Path: path, Doc: doc, Merge: merge}
	})
	return err
}

func (s *Store) Update(ctx context.Context, path string, updates ...docstore.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	_, err := s.call(ctx, dto.ActionUpdate, func(id uint64) any {
		return dto.UpdateRequest{ID: id, Path: path, Updates: updates}
	})
	return err
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Document, error) {
	res, err := s.call(ctx, dto.ActionGet, func(id uint64) any {
		return dto.PathRequest{ID: id, Path: path}
	})
	if err != nil {
		return nil, err
	}
	if res.Doc == nil {
		return nil, docstore.ErrNotFound
	}
	return res.Doc, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.call(ctx, dto.ActionDelete, func(id uint64) any {
		return dto.PathRequest{ID: id, Path: path}
	})
	return err
}

func (s *Store) BatchDelete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := s.call(ctx, dto.ActionBatchDelete, func(id uint64) any {
		return dto.BatchDeleteRequest{ID: id, Paths: paths}
	})
	return err
}

func (s *Store) Query(ctx context.Context, target docstore.Target) ([]docstore.Document, error) {
	res, err := s.call(ctx, dto.ActionQuery, func(id uint64) any {
		return dto.QueryRequest{ID: id, Target: target}
	})
	if err != nil {
		return nil, err
	}
	return res.Docs, nil
}

// Subscribe registers the callbacks locally, then opens the subscription on the gateway
// Subscribe 先在本地注册回调，再在网关上开启订阅
func (s *Store) Subscribe(target docstore.Target, onSnapshot func(docstore.Snapshot), onError func(error)) (docstore.Unsubscribe, error) {
	subID, local := s.fanout.Add(target, onSnapshot, onError)
	_, err := s.call(context.Background(), dto.ActionSubscribe, func(id uint64) any {
		return dto.SubscribeRequest{ID: id, SubID: subID, Target: target}
	})
	if err != nil {
		local()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			local()
			go s.unsubscribeRemote(subID)
		})
	}, nil
}

func (s *Store) unsubscribeRemote(subID uint64) {
	_, err := s.call(context.Background(), dto.ActionUnsubscribe, func(id uint64) any {
		return dto.UnsubscribeRequest{ID: id, SubID: subID}
	})
	if err != nil && !errors.Is(err, docstore.ErrClosed) && !errors.Is(err, ErrDisconnected) {
		s.logger.Debug("gateway unsubscribe failed", zap.Uint64(logger.FieldSubID, subID), zap.Error(err))
	}
}

// Done closed once the connection is gone
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Close stops every subscription and closes the connection
// Close 停止所有订阅并关闭连接
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.fanout.Close()
	if s.conn != nil {
		s.conn.WriteClose(1000, []byte("ClientClose"))
		select {
		case <-s.done:
		case <-time.After(time.Second):
			_ = s.conn.NetConn().Close()
		}
	}
	return nil
}

// lose records the end of the connection
func (s *Store) lose(err error) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	intentional := s.closing
	if !intentional {
		s.lost = errors.Wrap(ErrDisconnected, errString(err))
	}
	close(s.done)
	s.mu.Unlock()

	if !intentional {
		s.logger.Warn("gateway connection lost", zap.String("url", s.config.URL), zap.Error(err))
		s.fanout.Broadcast(s.doneErr())
	}
}

func errString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}

// handler gws event handler of the client connection
type handler struct {
	gws.BuiltinEventHandler
	s *Store
}

func (h *handler) OnClose(socket *gws.Conn, err error) {
	h.s.lose(err)
}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode != gws.OpcodeText {
		return
	}
	raw := message.Bytes()
	index := strings.IndexByte(string(raw), '|')
	if index == -1 {
		h.s.logger.Warn("gateway sent an illegal frame", zap.Int("len", len(raw)))
		return
	}
	action, data := string(raw[:index]), raw[index+1:]

	switch action {
	case dto.ActionResult:
		var res dto.Result
		if err := sonic.Unmarshal(data, &res); err != nil {
			h.s.logger.Warn("gateway result undecodable", zap.Error(err))
			return
		}
		h.s.mu.Lock()
		ch, ok := h.s.pending[res.ID]
		h.s.mu.Unlock()
		if ok {
			select {
			case ch <- res:
			default:
			}
		}
	case dto.ActionAuthorization:
		var res dto.Result
		if err := sonic.Unmarshal(data, &res); err != nil {
			res = dto.Result{Status: false}
		}
		select {
		case h.s.auth <- res:
		default:
		}
	case dto.ActionSnapshot:
		var m dto.SnapshotMessage
		if err := sonic.Unmarshal(data, &m); err != nil {
			h.s.logger.Warn("gateway snapshot undecodable", zap.Error(err))
			return
		}
		h.s.fanout.Push(m.SubID, m.Snapshot)
	case dto.ActionSnapshotError:
		var m dto.SnapshotErrorMessage
		if err := sonic.Unmarshal(data, &m); err != nil {
			h.s.logger.Warn("gateway snapshot error undecodable", zap.Error(err))
			return
		}
		h.s.fanout.PushError(m.SubID, resultError(dto.Result{Code: m.Code, Msg: m.Msg}))
	default:
		h.s.logger.Debug("gateway sent an unknown action", zap.String(logger.FieldAction, action))
	}
}

var _ docstore.Store = (*Store)(nil)
