package app

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/dto"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/lxzan/gws"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	action string
	result dto.Result
}

// testClient collects the frames a server sends
type testClient struct {
	gws.BuiltinEventHandler
	frames chan frame
}

func (c *testClient) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	action, data, _ := strings.Cut(message.Data.String(), "|")
	var res dto.Result
	_ = sonic.UnmarshalString(data, &res)
	c.frames <- frame{action: action, result: res}
}

func (c *testClient) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

type countingObserver struct {
	mu       sync.Mutex
	conns    int
	requests map[string]int
}

func (o *countingObserver) SetGatewayConnections(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conns = n
}

func (o *countingObserver) ObserveGatewayRequest(action string, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests[action]++
}

func (o *countingObserver) connections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conns
}

type echoRequest struct {
	ID   uint64 `json:"id" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func startServer(t *testing.T, cfg WebsocketServerConfig) (*WebsocketServer, func(t *testing.T) (*gws.Conn, *testClient)) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg.AuthFailDelay = 50 * time.Millisecond
	wss := NewWebsocketServer(cfg)
	wss.AuthorizationUse(func(token string) (*UserEntity, error) {
		if token != "good" {
			return nil, errors.New("bad token")
		}
		return &UserEntity{ID: "u1", Nickname: "Ada"}, nil
	})
	wss.Use("Echo", func(c *WebsocketClient, msg *WebSocketMessage) {
		var req echoRequest
		if ok, errs := c.BindAndValid(msg.Data, &req); !ok {
			c.ToResponse("Echo", RequestID(msg.Data), code.ErrorInvalidParams.WithDetails(errs.Errors()...))
			return
		}
		c.ToResponse("Echo", req.ID, code.Success.WithDetails(req.Text))
	})

	r := gin.New()
	r.GET("/ws", wss.Run())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	dial := func(t *testing.T) (*gws.Conn, *testClient) {
		t.Helper()
		h := &testClient{frames: make(chan frame, 16)}
		conn, _, err := gws.NewClient(h, &gws.ClientOption{Addr: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"})
		require.NoError(t, err)
		go conn.ReadLoop()
		t.Cleanup(func() { conn.WriteClose(1000, nil) })
		return conn, h
	}
	return wss, dial
}

func send(t *testing.T, conn *gws.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(gws.OpcodeText, []byte(text)))
}

func TestWebsocketServer_RequiresAuthorization(t *testing.T) {
	observer := &countingObserver{requests: map[string]int{}}
	wss, dial := startServer(t, WebsocketServerConfig{Observer: observer})
	conn, client := dial(t)

	send(t, conn, `Echo|{"id":7,"text":"hi"}`)
	f := client.next(t)
	assert.Equal(t, dto.ActionResult, f.action)
	assert.Equal(t, uint64(7), f.result.ID)
	assert.Equal(t, code.ErrorNotUserAuthToken.Code(), f.result.Code)

	send(t, conn, "Authorization|good")
	f = client.next(t)
	assert.Equal(t, dto.ActionAuthorization, f.action)
	assert.True(t, f.result.Status)

	send(t, conn, `Echo|{"id":8,"text":"hi"}`)
	f = client.next(t)
	assert.True(t, f.result.Status)
	assert.Equal(t, uint64(8), f.result.ID)
	assert.Equal(t, []string{"hi"}, f.result.Details)

	send(t, conn, `Echo|{"id":9}`)
	f = client.next(t)
	assert.Equal(t, code.ErrorInvalidParams.Code(), f.result.Code)
	assert.Equal(t, uint64(9), f.result.ID)

	send(t, conn, `Wave|{"id":10}`)
	f = client.next(t)
	assert.Equal(t, code.ErrorUnknownAction.Code(), f.result.Code)
	assert.Equal(t, []string{"Wave"}, f.result.Details)

	assert.Equal(t, 1, wss.ClientCount())
	assert.Equal(t, 1, observer.connections())
}

func TestWebsocketServer_RejectsBadToken(t *testing.T) {
	wss, dial := startServer(t, WebsocketServerConfig{})
	conn, client := dial(t)

	send(t, conn, "Authorization|bad")
	f := client.next(t)
	assert.Equal(t, dto.ActionAuthorization, f.action)
	assert.False(t, f.result.Status)
	assert.Equal(t, code.ErrorInvalidUserAuthToken.Code(), f.result.Code)

	require.Eventually(t, func() bool { return wss.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketServer_RateLimit(t *testing.T) {
	_, dial := startServer(t, WebsocketServerConfig{RateLimit: 0.001, RateBurst: 1})
	conn, client := dial(t)

	send(t, conn, "Authorization|good")
	client.next(t)

	send(t, conn, `Echo|{"id":1,"text":"a"}`)
	assert.True(t, client.next(t).result.Status)
	send(t, conn, `Echo|{"id":2,"text":"b"}`)
	f := client.next(t)
	assert.Equal(t, code.ErrorTooManyRequests.Code(), f.result.Code)
	assert.Equal(t, uint64(2), f.result.ID)
}

func TestWebsocketClient_TrackReplacesAndReleases(t *testing.T) {
	c := &WebsocketClient{done: make(chan struct{}), subs: map[uint64]func(){}}
	var cancelled []string
	c.Track(1, func() { cancelled = append(cancelled, "first") })
	c.Track(1, func() { cancelled = append(cancelled, "second") })
	c.Track(2, func() { cancelled = append(cancelled, "other") })
	assert.Equal(t, []string{"first"}, cancelled)
	assert.Equal(t, 2, c.Subscriptions())

	cancel, ok := c.Untrack(2)
	require.True(t, ok)
	require.NotNil(t, cancel)
	_, ok = c.Untrack(2)
	assert.False(t, ok)

	c.release()
	c.release()
	assert.Equal(t, []string{"first", "second"}, cancelled)
	assert.Zero(t, c.Subscriptions())
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, uint64(42), RequestID([]byte(`{"id":42,"path":"boards"}`)))
	assert.Zero(t, RequestID([]byte(`not json`)))
	assert.Zero(t, RequestID(nil))
}
