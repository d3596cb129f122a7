package api_router

import (
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

// VersionHandler version info API router handler
// VersionHandler 版本信息 API 路由处理器
type VersionHandler struct {
	*Handler
}

// NewVersionHandler creates VersionHandler instance
func NewVersionHandler(h *Handler) *VersionHandler {
	return &VersionHandler{Handler: h}
}

// ServerVersion retrieves server version information
// @Summary Get server version info
// @Tags System
// @Produce json
// @Success 200 {object} pkgapp.Envelope{data=pkgapp.VersionInfo} "Success"
// @Router /api/version [get]
func (h *VersionHandler) ServerVersion(c *gin.Context) {
	pkgapp.NewResponse(c).ToResponse(code.Success.WithData(h.App.Version()))
}
