package routers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/docstore"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/routers"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int            `json:"code"`
	Status  bool           `json:"status"`
	Msg     string         `json:"msg"`
	Data    map[string]any `json:"data"`
	Details []string       `json:"details"`
	TraceID string         `json:"traceId"`
}

func newTestRouter(t *testing.T) (*app.App, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := app.NewAppWithStore(app.DefaultConfig(), docstore.NewMemoryStore(nil), nil)
	t.Cleanup(func() { _ = a.Close() })
	return a, routers.NewRouter(a)
}

func do(t *testing.T, r http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRouter_Health(t *testing.T) {
	a, r := newTestRouter(t)

	w, body := do(t, r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Status)
	assert.Equal(t, "healthy", body.Data["status"])
	assert.Equal(t, app.StoreMemory, body.Data["storeType"])
	assert.Equal(t, app.Version, w.Header().Get("X-App-Version"))
	assert.NotEmpty(t, body.Msg)
	assert.NotEmpty(t, body.TraceID)
	assert.Equal(t, w.Header().Get("X-Trace-ID"), body.TraceID)

	require.NoError(t, a.Store.Close())
	w, body = do(t, r, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, code.ErrorStoreClosed.Code(), body.Code)
	assert.Equal(t, "unhealthy", body.Data["status"])
}

func TestRouter_Version(t *testing.T) {
	_, r := newTestRouter(t)
	w, body := do(t, r, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, app.Version, body.Data["version"])
}

func TestRouter_UserInfo(t *testing.T) {
	a, r := newTestRouter(t)

	w, body := do(t, r, httptest.NewRequest(http.MethodGet, "/api/user/info", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, code.ErrorNotUserAuthToken.Code(), body.Code)

	token, err := a.Tokens.Generate(domain.Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/user/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w, body = do(t, r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", body.Data["userId"])
	assert.Equal(t, "Ada", body.Data["displayName"])
}

func TestRouter_NotFound(t *testing.T) {
	_, r := newTestRouter(t)
	w, body := do(t, r, httptest.NewRequest(http.MethodGet, "/api/nothing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, code.ErrorNotFoundAPI.Code(), body.Code)
	assert.Equal(t, []string{"/api/nothing"}, body.Details)
}

func TestRouter_Metrics(t *testing.T) {
	_, r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# TYPE")
	assert.Contains(t, w.Body.String(), "board_sync_gateway_connections 0")
}

func TestRouter_TraceIDEchoedInBody(t *testing.T) {
	_, r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/user/info", nil)
	req.Header.Set("X-Trace-ID", "trace-42")
	w, body := do(t, r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, body.Status)
	assert.Equal(t, "trace-42", body.TraceID)
	assert.Equal(t, code.ErrorNotUserAuthToken.Msg(), body.Msg)
}
