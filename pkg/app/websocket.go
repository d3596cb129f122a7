package app

import (
	"strings"
	"sync"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/dto"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/juju/ratelimit"
	"github.com/lxzan/gws"
	"go.uber.org/zap"
)

const (
	WebSocketServerPingInterval = 25 * time.Second
	WebSocketServerPingWait     = 40 * time.Second
	WebSocketAuthFailDelay      = 2 * time.Second
)

type WebSocketMessage struct {
	Type string // action, e.g. "Put", "Subscribe"
	Data []byte // json payload
}

// UserEntity authenticated connection owner
// UserEntity 已认证的连接所有者
type UserEntity struct {
	ID       string
	Nickname string
}

// Authenticator resolves the raw token of an Authorization frame
// Authenticator 解析 Authorization 帧携带的原始令牌
type Authenticator func(token string) (*UserEntity, error)

// Observer receives gateway counters
type Observer interface {
	SetGatewayConnections(n int)
	ObserveGatewayRequest(action string, code int)
}

type WebsocketServerConfig struct {
	GWSOption    gws.ServerOption
	PingInterval time.Duration
	PingWait     time.Duration
	// RateLimit requests per second allowed on one connection, 0 disables limiting
	// RateLimit 单连接每秒允许的请求数，0 表示不限制
	RateLimit float64
	// RateBurst bucket capacity, defaults to RateLimit rounded up
	RateBurst     int64
	AuthFailDelay time.Duration
	Logger        *zap.Logger
	Observer      Observer
}

// WebsocketClient 结构体来存储每个 WebSocket 连接及其相关状态
type WebsocketClient struct {
	conn      *gws.Conn
	done      chan struct{}
	closeOnce sync.Once
	IP        string
	User      *UserEntity
	bucket    *ratelimit.Bucket
	logger    *zap.Logger
	observer  Observer

	mu   sync.Mutex
	subs map[uint64]func()
}

// BindAndValid decodes a frame payload into obj and runs its binding rules
// BindAndValid 解码帧数据到 obj 并执行参数校验
func (c *WebsocketClient) BindAndValid(data []byte, obj any) (bool, ValidErrors) {
	if err := sonic.Unmarshal(data, obj); err != nil {
		return false, ValidErrors{{Key: "body", Message: "Invalid message format"}}
	}
	if errs := Validate(obj); len(errs) > 0 {
		return false, errs
	}
	return true, nil
}

// PingLoop 定期发送 Ping 消息
func (c *WebsocketClient) PingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WritePing(nil); err != nil {
				c.logger.Warn("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// ToResponse replies to request id with codeObj
// ToResponse 以结果码应答请求 id
func (c *WebsocketClient) ToResponse(action string, id uint64, codeObj *code.Code) {
	c.Reply(action, dto.NewResult(id, codeObj))
}

// Reply sends a fully built result of action
func (c *WebsocketClient) Reply(action string, res dto.Result) {
	if c.observer != nil {
		c.observer.ObserveGatewayRequest(action, res.Code)
	}
	c.Send(dto.ActionResult, res)
}

// Send writes "action|json" to the connection; safe for concurrent use
// Send 向连接写入 "action|json"，可并发调用
func (c *WebsocketClient) Send(action string, content any) {
	payload, err := sonic.Marshal(content)
	if err != nil {
		c.logger.Error("websocket encode failed", zap.String("action", action), zap.Error(err))
		return
	}
	frame := make([]byte, 0, len(action)+1+len(payload))
	frame = append(frame, action...)
	frame = append(frame, '|')
	frame = append(frame, payload...)
	if err := c.conn.WriteMessage(gws.OpcodeText, frame); err != nil {
		c.logger.Debug("websocket write failed", zap.String("action", action), zap.Error(err))
	}
}

// Track remembers the cancel function of subscription id, replacing an older one
// Track 记录订阅 id 的取消函数，已存在时先取消旧订阅
func (c *WebsocketClient) Track(id uint64, cancel func()) {
	c.mu.Lock()
	old, exists := c.subs[id]
	c.subs[id] = cancel
	c.mu.Unlock()
	if exists {
		old()
	}
}

// Untrack forgets subscription id and returns its cancel function
func (c *WebsocketClient) Untrack(id uint64) (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	return cancel, ok
}

// Subscriptions number of tracked subscriptions
func (c *WebsocketClient) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *WebsocketClient) release() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := c.subs
		c.subs = map[uint64]func(){}
		c.mu.Unlock()
		for _, cancel := range subs {
			cancel()
		}
	})
}

// ------------------------------------> WebsocketServer

type ConnStorage = map[*gws.Conn]*WebsocketClient

type WebsocketServer struct {
	handlers      map[string]func(*WebsocketClient, *WebSocketMessage)
	authenticator Authenticator
	clients       ConnStorage
	mu            sync.Mutex
	up            *gws.Upgrader
	config        *WebsocketServerConfig
	logger        *zap.Logger
}

func NewWebsocketServer(c WebsocketServerConfig) *WebsocketServer {
	if c.PingInterval == 0 {
		c.PingInterval = WebSocketServerPingInterval
	}
	if c.PingWait == 0 {
		c.PingWait = WebSocketServerPingWait
	}
	if c.AuthFailDelay == 0 {
		c.AuthFailDelay = WebSocketAuthFailDelay
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int64(c.RateLimit + 0.5)
		if c.RateBurst < 1 {
			c.RateBurst = 1
		}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	w := &WebsocketServer{
		handlers: make(map[string]func(*WebsocketClient, *WebSocketMessage)),
		clients:  make(ConnStorage),
		config:   &c,
		logger:   c.Logger,
	}
	w.up = gws.NewUpgrader(w, &w.config.GWSOption)
	return w
}

func (w *WebsocketServer) Run() gin.HandlerFunc {
	return func(c *gin.Context) {
		socket, err := w.up.Upgrade(c.Writer, c.Request)
		if err != nil {
			w.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &WebsocketClient{
			conn:     socket,
			done:     make(chan struct{}),
			IP:       GetRequestIP(c),
			logger:   w.logger,
			observer: w.config.Observer,
			subs:     make(map[uint64]func()),
		}
		if w.config.RateLimit > 0 {
			client.bucket = ratelimit.NewBucketWithRate(w.config.RateLimit, w.config.RateBurst)
		}
		w.AddClient(client)
		go socket.ReadLoop()
	}
}

// Use registers the handler of action
// Use 注册 action 的处理函数
func (w *WebsocketServer) Use(action string, handler func(*WebsocketClient, *WebSocketMessage)) {
	w.handlers[action] = handler
}

// AuthorizationUse sets the token resolver; without one every Authorization frame fails
func (w *WebsocketServer) AuthorizationUse(a Authenticator) {
	w.authenticator = a
}

func (w *WebsocketServer) Authorization(c *WebsocketClient, msg *WebSocketMessage) {
	var (
		user *UserEntity
		err  error
	)
	if w.authenticator != nil {
		user, err = w.authenticator(strings.TrimSpace(string(msg.Data)))
	}
	if user == nil || err != nil {
		w.logger.Warn("websocket authorization failed", zap.String("ip", c.IP), zap.Error(err))
		c.Send(dto.ActionAuthorization, dto.NewResult(0, code.ErrorInvalidUserAuthToken))
		conn := c.conn
		time.AfterFunc(w.config.AuthFailDelay, func() {
			conn.WriteClose(1000, []byte("AuthorizationFailed"))
		})
		return
	}

	c.User = user
	c.Send(dto.ActionAuthorization, dto.NewResult(0, code.Success))
	w.logger.Info("websocket user enters", zap.String("uid", user.ID), zap.String("nickname", user.Nickname))
	go c.PingLoop(w.config.PingInterval)
}

func (w *WebsocketServer) GetClient(conn *gws.Conn) *WebsocketClient {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clients[conn]
}

// ClientCount number of open connections
func (w *WebsocketServer) ClientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *WebsocketServer) AddClient(c *WebsocketClient) {
	w.mu.Lock()
	w.clients[c.conn] = c
	n := len(w.clients)
	w.mu.Unlock()
	if w.config.Observer != nil {
		w.config.Observer.SetGatewayConnections(n)
	}
}

func (w *WebsocketServer) RemoveClient(conn *gws.Conn) {
	w.mu.Lock()
	delete(w.clients, conn)
	n := len(w.clients)
	w.mu.Unlock()
	if w.config.Observer != nil {
		w.config.Observer.SetGatewayConnections(n)
	}
}

func (w *WebsocketServer) OnOpen(conn *gws.Conn) {
	_ = conn.SetDeadline(time.Now().Add(w.config.PingWait))
}

func (w *WebsocketServer) OnClose(conn *gws.Conn, err error) {
	c := w.GetClient(conn)
	w.RemoveClient(conn)
	if c == nil {
		return
	}
	c.release()
	if c.User != nil {
		w.logger.Info("websocket user leaves", zap.String("uid", c.User.ID), zap.Error(err))
	}
}

func (w *WebsocketServer) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(w.config.PingWait))
	_ = socket.WritePong(nil)
}

func (w *WebsocketServer) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(w.config.PingWait))
}

func (w *WebsocketServer) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode != gws.OpcodeText {
		return
	}
	_ = conn.SetDeadline(time.Now().Add(w.config.PingWait))

	c := w.GetClient(conn)
	if c == nil {
		return
	}

	messageStr := message.Data.String()
	index := strings.Index(messageStr, "|")
	if index == -1 {
		w.logger.Warn("websocket illegal message", zap.Int("len", len(messageStr)))
		return
	}
	msg := WebSocketMessage{
		Type: messageStr[:index],
		Data: []byte(messageStr[index+1:]),
	}

	if msg.Type == dto.ActionAuthorization {
		w.Authorization(c, &msg)
		return
	}

	id := RequestID(msg.Data)

	// 验证用户是否登录
	if c.User == nil {
		c.ToResponse(msg.Type, id, code.ErrorNotUserAuthToken)
		return
	}

	if c.bucket != nil && c.bucket.TakeAvailable(1) == 0 {
		c.ToResponse(msg.Type, id, code.ErrorTooManyRequests)
		return
	}

	handler, exists := w.handlers[msg.Type]
	if !exists {
		c.ToResponse(msg.Type, id, code.ErrorUnknownAction.WithDetails(msg.Type))
		return
	}
	handler(c, &msg)
}

// RequestID best effort extraction of the "id" field of a payload, 0 when absent
// RequestID 尽力提取载荷中的 "id" 字段，不存在时为 0
func RequestID(data []byte) uint64 {
	var head struct {
		ID uint64 `json:"id"`
	}
	_ = sonic.Unmarshal(data, &head)
	return head.ID
}
