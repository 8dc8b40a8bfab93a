package services

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"orchestrator-backend/pkg/registry"
	"orchestrator-backend/pkg/store"
	"orchestrator-backend/pkg/types"
)

// NodeCounts 节点数量统计
type NodeCounts struct {
	Total   int            `json:"total"`
	Online  int            `json:"online"`
	Offline int            `json:"offline"`
	ByType  map[string]int `json:"by_type"`
}

// HostInfo 编排服务所在主机的信息
type HostInfo struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// SystemStatus GET /v1/status 的响应
type SystemStatus struct {
	Nodes         NodeCounts     `json:"nodes"`
	Capabilities  map[string]int `json:"capabilities"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Host          HostInfo       `json:"host"`
}

// CapabilityInfo 能力目录条目
type CapabilityInfo struct {
	Name        string `json:"name"`
	Cataloged   bool   `json:"cataloged"`
	OnlineNodes int    `json:"online_nodes"`
}

// StatusService 系统状态与能力目录接口
type StatusService struct {
	registry  *registry.Registry
	logger    zerolog.Logger
	startedAt time.Time
}

// NewStatusService 创建状态服务实例
func NewStatusService(reg *registry.Registry, logger zerolog.Logger) *StatusService {
	return &StatusService{
		registry:  reg,
		logger:    logger.With().Str("service", "status").Logger(),
		startedAt: time.Now(),
	}
}

func (s *StatusService) RegisterRoutes(r gin.IRouter) {
	r.GET("/status", s.HandleGetStatus)
	r.GET("/capabilities", s.HandleListCapabilities)
}

// GetSystemStatus 汇总节点、能力和主机信息
func (s *StatusService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	nodes, _, err := s.registry.List(ctx, store.NodeFilter{})
	if err != nil {
		return nil, err
	}

	status := &SystemStatus{
		Nodes:         NodeCounts{ByType: make(map[string]int)},
		Capabilities:  onlineCounts(nodes),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Host:          s.hostInfo(),
	}
	for _, node := range nodes {
		status.Nodes.Total++
		status.Nodes.ByType[string(node.Type)]++
		if node.Status == types.NodeStatusOnline {
			status.Nodes.Online++
		} else {
			status.Nodes.Offline++
		}
	}
	return status, nil
}

// ListCapabilities 返回目录中的能力和在线节点声明的其他能力
func (s *StatusService) ListCapabilities(ctx context.Context) ([]CapabilityInfo, error) {
	online := types.NodeStatusOnline
	nodes, _, err := s.registry.List(ctx, store.NodeFilter{Status: &online})
	if err != nil {
		return nil, err
	}
	counts := onlineCounts(nodes)

	catalog := s.registry.Catalog()
	infos := make([]CapabilityInfo, 0, len(counts))
	seen := make(map[string]struct{})
	for _, name := range catalog.Names() {
		seen[name] = struct{}{}
		infos = append(infos, CapabilityInfo{Name: name, Cataloged: true, OnlineNodes: counts[name]})
	}
	for name, n := range counts {
		if _, ok := seen[name]; !ok {
			infos = append(infos, CapabilityInfo{Name: name, OnlineNodes: n})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *StatusService) HandleGetStatus(c *gin.Context) {
	status, err := s.GetSystemStatus(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *StatusService) HandleListCapabilities(c *gin.Context) {
	infos, err := s.ListCapabilities(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strict":       s.registry.Catalog().Strict(),
		"capabilities": infos,
	})
}

// hostInfo 采集失败的字段保持零值
func (s *StatusService) hostInfo() HostInfo {
	info := HostInfo{OS: runtime.GOOS}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
	} else {
		s.logger.Debug().Err(err).Msg("Failed to read host info")
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
	}
	return info
}

// onlineCounts 统计每个能力的在线节点数
func onlineCounts(nodes []*types.Node) map[string]int {
	counts := make(map[string]int)
	for _, node := range nodes {
		if node.Status != types.NodeStatusOnline {
			continue
		}
		for _, c := range node.Capabilities {
			counts[c.Name]++
		}
	}
	return counts
}
