package api_router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetricsHandler prometheus scrape endpoint backed by the app collector
// MetricsHandler 基于应用指标收集器的抓取接口
type MetricsHandler struct {
	*Handler
	serve http.Handler
}

// NewMetricsHandler 创建指标处理器实例
func NewMetricsHandler(h *Handler) *MetricsHandler {
	return &MetricsHandler{Handler: h, serve: h.App.Metrics.Handler()}
}

// Scrape serves the collector registry.
// The gateway connection gauge is resynced from the live client table first.
// Scrape 输出指标，输出前按当前连接表校准网关连接数
func (h *MetricsHandler) Scrape(c *gin.Context) {
	if h.WSS != nil {
		h.App.Metrics.GatewayConnections.Set(float64(h.WSS.ClientCount()))
	}
	h.serve.ServeHTTP(c.Writer, c.Request)
}
