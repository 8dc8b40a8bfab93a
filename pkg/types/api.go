package types

import "time"

// RegisterResponse 注册结果
type RegisterResponse struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"device_id"`
	Message  string `json:"message"`
	Created  bool   `json:"created"`
}

// HeartbeatRequest 心跳请求，NodeID 只在 gRPC 中使用，REST 从路径读取
type HeartbeatRequest struct {
	NodeID string `json:"node_id,omitempty"`
	Heartbeat
}

// HeartbeatResponse 心跳结果
type HeartbeatResponse struct {
	Success  bool       `json:"success"`
	DeviceID string     `json:"device_id"`
	Status   NodeStatus `json:"status"`
	LastSeen time.Time  `json:"last_seen"`
}

// NodeList 节点列表
type NodeList struct {
	Devices []*Node `json:"devices"`
	Total   int64   `json:"total"`
	Limit   int     `json:"limit,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// GetNodeRequest 查询单个节点
type GetNodeRequest struct {
	NodeID string `json:"node_id"`
}

// RouteRequest 路由请求
// Confirmed 表示调用方已经取得用户确认，此时需要确认的决策也按成功返回
type RouteRequest struct {
	Capability string `json:"capability"`
	RequestContext
	Confirmed bool `json:"confirmed,omitempty"`
}

// RouteResponse 路由结果
type RouteResponse struct {
	Decision *RoutingDecision `json:"decision"`
}

// ErrorResponse REST 错误响应
type ErrorResponse struct {
	Error    string           `json:"error"`
	Code     ErrorCode        `json:"code"`
	Decision *RoutingDecision `json:"decision,omitempty"`
}
