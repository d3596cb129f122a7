package api_router

import (
	"context"
	"errors"
	"time"

	"github.com/haierkeys/fast-board-sync/internal/docstore"
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

// healthProbePath document read by the health check; it normally does not exist
const healthProbePath = "health/probe"

// HealthHandler 健康检查处理器
type HealthHandler struct {
	*Handler
}

// NewHealthHandler 创建健康检查处理器实例
func NewHealthHandler(h *Handler) *HealthHandler {
	return &HealthHandler{Handler: h}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string  `json:"status"`      // "healthy" 或 "unhealthy"
	Version     string  `json:"version"`     // 服务版本号
	Uptime      float64 `json:"uptime"`      // 运行时间（秒）
	Store       string  `json:"store"`       // "connected" 或 "error"
	StoreType   string  `json:"storeType"`   // 存储类型
	Connections int     `json:"connections"` // 网关连接数
}

// Check 健康检查接口
// @Summary 健康检查
// @Description 检查服务健康状态，包括文档存储连接
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /api/health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Version:   h.App.Version().Version,
		Uptime:    time.Since(h.App.StartTime).Seconds(),
		Store:     "connected",
		StoreType: h.App.Config().Store.Type,
	}
	if h.WSS != nil {
		response.Connections = h.WSS.ClientCount()
	}

	// 检查文档存储
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if _, err := h.App.Store.Get(ctx, healthProbePath); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		response.Status = "unhealthy"
		response.Store = "error"
		pkgapp.NewResponse(c).ToResponse(code.ErrorStoreClosed.WithData(response).WithDetails(err.Error()))
		return
	}

	pkgapp.NewResponse(c).ToResponse(code.Success.WithData(response))
}
