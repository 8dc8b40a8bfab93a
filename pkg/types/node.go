package types

import (
	"time"
)

// NodeType 节点类型
type NodeType string

const (
	NodeTypeMobile  NodeType = "mobile"
	NodeTypeDesktop NodeType = "desktop"
	NodeTypeIoT     NodeType = "iot"
	NodeTypeCloud   NodeType = "cloud"
)

// Valid 判断节点类型是否合法
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeMobile, NodeTypeDesktop, NodeTypeIoT, NodeTypeCloud:
		return true
	}
	return false
}

// NodeStatus 节点在线状态
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// Valid 判断状态是否合法
func (s NodeStatus) Valid() bool {
	return s == NodeStatusOnline || s == NodeStatusOffline
}

// NetworkType 节点所在网络类型
type NetworkType string

const (
	NetworkTypeWiFi     NetworkType = "wifi"
	NetworkTypeCellular NetworkType = "cellular"
	NetworkTypeEthernet NetworkType = "ethernet"
	NetworkTypeUnknown  NetworkType = "unknown"
)

// Valid 判断网络类型是否合法
func (t NetworkType) Valid() bool {
	switch t {
	case NetworkTypeWiFi, NetworkTypeCellular, NetworkTypeEthernet, NetworkTypeUnknown:
		return true
	}
	return false
}

// IsLocal wifi 和有线网络视为固定的本地网络
func (t NetworkType) IsLocal() bool {
	return t == NetworkTypeWiFi || t == NetworkTypeEthernet
}

// Node 已注册的执行节点
type Node struct {
	// 基本信息
	ID     string     `gorm:"primaryKey;size:64" json:"id"`
	Name   string     `gorm:"index;size:255;not null" json:"name"`
	Type   NodeType   `gorm:"size:16;not null" json:"type"`
	Status NodeStatus `gorm:"index;size:16;not null" json:"status"`

	// 最近一次存活信号
	LastSeen time.Time `gorm:"index" json:"last_seen"`

	// 网络与位置
	NetworkID   string      `gorm:"size:255" json:"network_id"`
	NetworkType NetworkType `gorm:"size:16" json:"network_type"`
	Lat         *float64    `json:"lat,omitempty"`
	Lon         *float64    `json:"lon,omitempty"`
	LastIP      string      `gorm:"size:64" json:"last_ip,omitempty"`

	Capabilities []Capability `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE" json:"capabilities"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCoordinates 节点是否带有完整坐标
func (n *Node) HasCoordinates() bool {
	return n.Lat != nil && n.Lon != nil
}

// HasCapability 精确匹配能力名
func (n *Node) HasCapability(name string) bool {
	for _, c := range n.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CapabilityNames 返回能力名列表，保持注册顺序
func (n *Node) CapabilityNames() []string {
	names := make([]string, 0, len(n.Capabilities))
	for _, c := range n.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// Clone 深拷贝节点，内存存储和缓存返回副本时使用
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Lat != nil {
		lat := *n.Lat
		cp.Lat = &lat
	}
	if n.Lon != nil {
		lon := *n.Lon
		cp.Lon = &lon
	}
	cp.Capabilities = make([]Capability, len(n.Capabilities))
	for i, c := range n.Capabilities {
		cp.Capabilities[i] = c.clone()
	}
	return &cp
}

// Capability 节点声明的能力
type Capability struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	NodeID      string         `gorm:"index;size:64;not null" json:"node_id"`
	Name        string         `gorm:"index;size:128;not null" json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	Position    int            `json:"-"`
}

func (c Capability) clone() Capability {
	if c.Metadata != nil {
		md := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			md[k] = v
		}
		c.Metadata = md
	}
	return c
}

// CapabilitySpec 注册请求中的能力描述
type CapabilitySpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RegisterSpec 节点注册参数
type RegisterSpec struct {
	ID           string           `json:"id,omitempty"`
	Name         string           `json:"name"`
	Type         NodeType         `json:"type"`
	Capabilities []CapabilitySpec `json:"capabilities"`
	NetworkID    string           `json:"network_id,omitempty"`
	NetworkType  NetworkType      `json:"network_type,omitempty"`
	Lat          *float64         `json:"lat,omitempty"`
	Lon          *float64         `json:"lon,omitempty"`
	LastIP       string           `json:"last_ip,omitempty"`
}

// Heartbeat 存活信号
type Heartbeat struct {
	Status NodeStatus `json:"status"`
	Lat    *float64   `json:"lat,omitempty"`
	Lon    *float64   `json:"lon,omitempty"`
	LastIP string     `json:"last_ip,omitempty"`
}

// Apply 把心跳写到节点上，last_seen 只前进不后退
func (h *Heartbeat) Apply(node *Node, now time.Time) {
	node.Status = h.Status
	if now.After(node.LastSeen) {
		node.LastSeen = now
	}
	if h.Lat != nil && h.Lon != nil {
		lat, lon := *h.Lat, *h.Lon
		node.Lat, node.Lon = &lat, &lon
	}
	if h.LastIP != "" {
		node.LastIP = h.LastIP
	}
}
