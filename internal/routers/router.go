package routers

import (
	"time"

	"github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/dto"
	"github.com/haierkeys/fast-board-sync/internal/middleware"
	"github.com/haierkeys/fast-board-sync/internal/routers/api_router"
	"github.com/haierkeys/fast-board-sync/internal/routers/websocket_router"
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"

	"github.com/gin-gonic/gin"
	"github.com/lxzan/gws"
)

// httpRequestsPerSecond per ip budget of the plain HTTP endpoints
const httpRequestsPerSecond = 20

// NewRouter builds the gateway engine
// NewRouter 创建网关路由
func NewRouter(appContainer *app.App) *gin.Engine {

	// 获取配置
	cfg := appContainer.Config()

	wss := pkgapp.NewWebsocketServer(pkgapp.WebsocketServerConfig{
		GWSOption: gws.ServerOption{
			CheckUtf8Enabled:    true,
			Recovery:            gws.Recovery,                         // 开启异常恢复
			PermessageDeflate:   gws.PermessageDeflate{Enabled: true}, // 开启压缩
			ReadMaxPayloadSize:  1024 * 1024 * 16,                     // 设置最大读取缓冲区大小 16MB
			WriteMaxPayloadSize: 1024 * 1024 * 16,                     // 设置最大写入缓冲区大小 16MB
		},
		RateLimit: cfg.Security.RateLimit,
		RateBurst: cfg.Security.RateBurst,
		Logger:    appContainer.Logger(),
		Observer:  appContainer.Metrics,
	})
	wss.AuthorizationUse(appContainer.Authenticate)

	// 创建 WebSocket Handlers
	storeWSHandler := websocket_router.NewStoreWSHandler(websocket_router.NewWSHandler(appContainer.Store, appContainer.Logger()))

	wss.Use(dto.ActionPut, storeWSHandler.Put)
	wss.Use(dto.ActionUpdate, storeWSHandler.Update)
	wss.Use(dto.ActionGet, storeWSHandler.Get)
	wss.Use(dto.ActionDelete, storeWSHandler.Delete)
	wss.Use(dto.ActionBatchDelete, storeWSHandler.BatchDelete)
	wss.Use(dto.ActionQuery, storeWSHandler.Query)
	wss.Use(dto.ActionSubscribe, storeWSHandler.Subscribe)
	wss.Use(dto.ActionUnsubscribe, storeWSHandler.Unsubscribe)

	r := gin.New()
	r.Use(middleware.RecoveryWithLogger(appContainer.Logger()))

	base := api_router.NewHandlerWithWSS(appContainer, wss)
	r.GET("/metrics", api_router.NewMetricsHandler(base).Scrape)

	api := r.Group("/api")
	{
		api.Use(middleware.AppInfoWithConfig(app.Name, appContainer.Version().Version))
		api.Use(middleware.TraceMiddlewareWithConfig(cfg.Tracer.Enabled, cfg.Tracer.Header)) // Trace ID 中间件
		api.Use(middleware.AccessLogWithLogger(appContainer.Logger()))

		// 网关连接的限流在 websocket 服务内按连接进行
		api.GET("/sync", wss.Run())

		healthHandler := api_router.NewHealthHandler(base)
		versionHandler := api_router.NewVersionHandler(base)
		userHandler := api_router.NewUserHandler(base)

		rest := api.Group("")
		rest.Use(middleware.RateLimiter(middleware.NewIPLimiter(httpRequestsPerSecond, 2*httpRequestsPerSecond)))
		rest.Use(middleware.ContextTimeout(time.Duration(cfg.Server.ContextTimeout) * time.Second))

		rest.GET("/health", healthHandler.Check)
		rest.GET("/version", versionHandler.ServerVersion)
		rest.GET("/user/info", middleware.UserAuthToken(appContainer.Tokens), userHandler.UserInfo)
	}

	r.NoRoute(middleware.NoFound())

	return r
}
