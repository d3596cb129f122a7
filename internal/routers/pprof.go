package routers

import (
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/haierkeys/fast-board-sync/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// DefaultPrefix url prefix of pprof
	DefaultPrefix = "/debug/pprof"
)

// NewPrivateRouterWithLogger creates private router (using injected logger)
// NewPrivateRouterWithLogger 创建私有路由（使用注入的日志器）
// pprof endpoints are only mounted in debug mode.
func NewPrivateRouterWithLogger(runMode string, logger *zap.Logger) *gin.Engine {

	r := gin.New()
	r.Use(middleware.RecoveryWithLogger(logger))

	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	if runMode == "debug" {
		p := r.Group(DefaultPrefix)
		{
			p.GET("/", pprofHandler(pprof.Index))
			p.GET("/cmdline", pprofHandler(pprof.Cmdline))
			p.GET("/profile", pprofHandler(pprof.Profile))
			p.POST("/symbol", pprofHandler(pprof.Symbol))
			p.GET("/symbol", pprofHandler(pprof.Symbol))
			p.GET("/trace", pprofHandler(pprof.Trace))
			for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
				p.GET("/"+name, pprofHandler(pprof.Handler(name).ServeHTTP))
			}
		}
	}

	return r
}

func pprofHandler(h http.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
