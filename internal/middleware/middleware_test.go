package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_PerIP(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(NewIPLimiter(0.001, 2)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func(ip string) int {
		q := httptest.NewRequest(http.MethodGet, "/x", nil)
		q.RemoteAddr = ip + ":1234"
		return serve(r, q).Code
	}
	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, req("10.0.0.2"), "buckets are per ip")
}

func TestRecovery_RespondsWithFailure(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryWithLogger(nil))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestTrace_EchoesOrGenerates(t *testing.T) {
	r := gin.New()
	r.Use(TraceMiddlewareWithConfig(true, ""))
	var seen string
	r.GET("/t", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	q := httptest.NewRequest(http.MethodGet, "/t", nil)
	q.Header.Set(DefaultTraceIDHeader, "abc")
	rec := serve(r, q)
	assert.Equal(t, "abc", rec.Header().Get(DefaultTraceIDHeader))
	assert.Equal(t, "abc", seen)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/t", nil))
	assert.NotEmpty(t, rec.Header().Get(DefaultTraceIDHeader))
	assert.Equal(t, rec.Header().Get(DefaultTraceIDHeader), seen)
}

func TestUserAuthToken(t *testing.T) {
	tokens := identity.NewTokenManager(identity.TokenConfig{SecretKey: "k", Expiry: time.Hour})
	token, err := tokens.Generate(domain.Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)

	r := gin.New()
	r.Use(UserAuthToken(tokens))
	r.GET("/me", func(c *gin.Context) {
		id := c.MustGet(UserIdentityKey).(domain.Identity)
		c.String(http.StatusOK, id.UserID)
	})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	q := httptest.NewRequest(http.MethodGet, "/me", nil)
	q.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusForbidden, serve(r, q).Code)

	q = httptest.NewRequest(http.MethodGet, "/me", nil)
	q.Header.Set("Authorization", "Bearer "+token)
	rec = serve(r, q)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
