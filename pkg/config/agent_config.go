package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AgentCapability 节点代理声明的能力
type AgentCapability struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Metadata    map[string]any `yaml:"metadata"`
}

// AgentConfig 节点代理配置
type AgentConfig struct {
	// 节点标识，ID 为空时由服务端按名称识别
	Node struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	} `yaml:"node"`

	Capabilities []AgentCapability `yaml:"capabilities"`

	// 网络与位置
	Network struct {
		ID     string   `yaml:"id"`
		Type   string   `yaml:"type"`
		Lat    *float64 `yaml:"lat"`
		Lon    *float64 `yaml:"lon"`
		LastIP string   `yaml:"last_ip"`
	} `yaml:"network"`

	// 服务端连接信息
	Server struct {
		Address string        `yaml:"address"` // gRPC 地址，host:port
		TLS     bool          `yaml:"tls"`
		Token   string        `yaml:"token"` // 运维令牌，服务端开启认证时需要
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	// 运行时配置
	Runtime struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		LogPath           string        `yaml:"log_path"`
		Debug             bool          `yaml:"debug"`
	} `yaml:"runtime"`
}

// LoadAgentConfig 加载代理配置
func LoadAgentConfig(path string, workspaceRoot string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}

	// 处理相对路径
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// Validate 实现Config接口
func (c *AgentConfig) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Node.Type == "" {
		return fmt.Errorf("node.type is required")
	}
	if (c.Network.Lat == nil) != (c.Network.Lon == nil) {
		return fmt.Errorf("network.lat and network.lon must be set together")
	}
	if c.Runtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid runtime.heartbeat_interval: %s", c.Runtime.HeartbeatInterval)
	}
	return nil
}

// resolveRelativePaths 处理相对路径
func (c *AgentConfig) resolveRelativePaths(baseDir string) error {
	if c.Runtime.LogPath == "" {
		return nil
	}
	if !filepath.IsAbs(c.Runtime.LogPath) {
		c.Runtime.LogPath = filepath.Join(baseDir, c.Runtime.LogPath)
	}
	if err := os.MkdirAll(filepath.Dir(c.Runtime.LogPath), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	return nil
}

// DefaultAgentConfig 返回默认代理配置
func DefaultAgentConfig() *AgentConfig {
	cfg := &AgentConfig{}
	cfg.Node.Type = "desktop"
	cfg.Network.Type = "unknown"
	cfg.Server.Address = "localhost:8080"
	cfg.Server.Timeout = 10 * time.Second
	cfg.Runtime.HeartbeatInterval = 30 * time.Second
	return cfg
}
