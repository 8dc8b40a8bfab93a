package services

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/registry"
	"orchestrator-backend/pkg/store"
	"orchestrator-backend/pkg/types"
)

// NodeService 节点注册、心跳和查询接口
type NodeService struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewNodeService 创建节点服务实例
func NewNodeService(reg *registry.Registry, logger zerolog.Logger) *NodeService {
	return &NodeService{
		registry: reg,
		logger:   logger.With().Str("service", "node").Logger(),
	}
}

func (s *NodeService) RegisterRoutes(r gin.IRouter) {
	r.POST("/devices/register", s.HandleRegister)
	r.GET("/devices", s.HandleListNodes)
	r.GET("/devices/:id", s.HandleGetNode)
	r.PUT("/devices/:id/heartbeat", s.HandleHeartbeat)
}

func (s *NodeService) HandleRegister(c *gin.Context) {
	var req types.RegisterSpec
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.LastIP == "" {
		req.LastIP = c.ClientIP()
	}

	node, created, err := s.registry.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	status, message := http.StatusOK, "Device re-registered"
	if created {
		status, message = http.StatusCreated, "Device registered"
	}
	c.JSON(status, types.RegisterResponse{
		Success:  true,
		DeviceID: node.ID,
		Message:  message,
		Created:  created,
	})
}

func (s *NodeService) HandleListNodes(c *gin.Context) {
	var filter store.NodeFilter
	if raw := c.Query("status"); raw != "" {
		status := types.NodeStatus(raw)
		filter.Status = &status
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		respondError(c, s.logger, err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		respondError(c, s.logger, err)
		return
	}

	nodes, total, err := s.registry.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, types.NodeList{
		Devices: nodes,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func (s *NodeService) HandleGetNode(c *gin.Context) {
	node, err := s.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *NodeService) HandleHeartbeat(c *gin.Context) {
	var hb types.Heartbeat
	if err := c.ShouldBindJSON(&hb); err != nil {
		badRequest(c, err)
		return
	}

	node, err := s.registry.Heartbeat(c.Request.Context(), c.Param("id"), &hb)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, types.HeartbeatResponse{
		Success:  true,
		DeviceID: node.ID,
		Status:   node.Status,
		LastSeen: node.LastSeen,
	})
}
