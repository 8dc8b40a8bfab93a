package services

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/routing"
	"orchestrator-backend/pkg/types"
)

// RouteService 命令路由接口
type RouteService struct {
	router *routing.Router
	logger zerolog.Logger
}

// NewRouteService 创建路由服务实例
func NewRouteService(router *routing.Router, logger zerolog.Logger) *RouteService {
	return &RouteService{
		router: router,
		logger: logger.With().Str("service", "route").Logger(),
	}
}

func (s *RouteService) RegisterRoutes(r gin.IRouter) {
	r.POST("/route", s.HandleRoute)
}

// HandleRoute 需要确认且请求未带 confirmed 时返回 409 和候选决策
func (s *RouteService) HandleRoute(c *gin.Context) {
	var req types.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	decision, err := s.router.Route(c.Request.Context(), req.Capability, req.RequestContext)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	if decision.RequiresConfirmation && !req.Confirmed {
		c.JSON(http.StatusConflict, types.ErrorResponse{
			Error:    decision.Reason,
			Code:     types.CodeConfirmationRequired,
			Decision: decision,
		})
		return
	}
	c.JSON(http.StatusOK, types.RouteResponse{Decision: decision})
}
