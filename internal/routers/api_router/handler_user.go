package api_router

import (
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/middleware"
	pkgapp "github.com/haierkeys/fast-board-sync/pkg/app"
	"github.com/haierkeys/fast-board-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户 API 路由处理器
type UserHandler struct {
	*Handler
}

// NewUserHandler creates UserHandler instance
func NewUserHandler(h *Handler) *UserHandler {
	return &UserHandler{Handler: h}
}

// UserInfo returns the identity carried by the request token
// UserInfo 返回请求令牌携带的身份
// @Summary Get current user
// @Tags User
// @Security UserAuthToken
// @Produce json
// @Success 200 {object} pkgapp.Envelope{data=domain.Identity} "Success"
// @Router /api/user/info [get]
func (h *UserHandler) UserInfo(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	v, ok := c.Get(middleware.UserIdentityKey)
	id, _ := v.(domain.Identity)
	if !ok || id.UserID == "" {
		response.ToResponse(code.ErrorNotUserAuthToken)
		return
	}
	response.ToResponse(code.Success.WithData(id))
}
