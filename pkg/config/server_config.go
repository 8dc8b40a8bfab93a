package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCapabilities 默认能力目录
var DefaultCapabilities = []string{
	"camera",
	"microphone",
	"speaker",
	"ir_control",
	"screen_control",
	"keyboard_control",
	"local_automation",
	"location",
	"notification",
	"projector_control",
}

// APIKey 运维调用方的密钥，hash 为 argon2id 编码
type APIKey struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// ServerConfig 编排服务端配置
type ServerConfig struct {
	// 服务器配置
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"server"`

	// 日志配置
	Log struct {
		Debug      bool   `yaml:"debug"`
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`

	// 存储配置
	Storage struct {
		Type   string `yaml:"type"`
		SQLite struct {
			Path            string        `yaml:"path"`
			MaxOpenConns    int           `yaml:"max_open_conns"`
			MaxIdleConns    int           `yaml:"max_idle_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"sqlite"`
		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	// 能力索引缓存
	Cache struct {
		Redis struct {
			Enabled   bool   `yaml:"enabled"`
			Address   string `yaml:"address"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	// 节点注册
	Registry struct {
		StrictCapabilities bool          `yaml:"strict_capabilities"`
		Capabilities       []string      `yaml:"capabilities"`
		StaleAfter         time.Duration `yaml:"stale_after"`
		SweepInterval      time.Duration `yaml:"sweep_interval"`
	} `yaml:"registry"`

	// 路由阈值（公里）
	Routing struct {
		NearKm    float64 `yaml:"near_km"`
		NearbyKm  float64 `yaml:"nearby_km"`
		ConfirmKm float64 `yaml:"confirm_km"`
	} `yaml:"routing"`

	// 运维认证
	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		APIKeys   []APIKey      `yaml:"api_keys"`
	} `yaml:"auth"`
}

// LoadServerConfig 加载服务端配置，文件中缺省的字段使用默认值
func LoadServerConfig(path string, workspaceRoot string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}

	// 处理相对路径
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// DefaultServerConfigAt 返回处理过相对路径的默认配置，配置文件缺失时使用
func DefaultServerConfigAt(workspaceRoot string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}
	return cfg, nil
}

// Validate 实现Config接口
func (c *ServerConfig) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.Cert == "" || c.Server.TLS.Key == "") {
		return fmt.Errorf("server.tls.cert and server.tls.key are required when tls is enabled")
	}

	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case "postgres":
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.DBName == "" {
			return fmt.Errorf("storage.postgres.host and storage.postgres.dbname are required")
		}
	case "":
		return fmt.Errorf("storage.type is required")
	default:
		return fmt.Errorf("unknown storage.type: %s", c.Storage.Type)
	}

	if c.Cache.Redis.Enabled && c.Cache.Redis.Address == "" {
		return fmt.Errorf("cache.redis.address is required when redis is enabled")
	}

	if c.Registry.StrictCapabilities && len(c.Registry.Capabilities) == 0 {
		return fmt.Errorf("registry.capabilities must not be empty when strict_capabilities is set")
	}
	for _, name := range c.Registry.Capabilities {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("registry.capabilities contains an empty name")
		}
	}
	if c.Registry.StaleAfter < 0 {
		return fmt.Errorf("invalid registry.stale_after: %s", c.Registry.StaleAfter)
	}
	if c.Registry.StaleAfter > 0 && c.Registry.SweepInterval <= 0 {
		return fmt.Errorf("registry.sweep_interval is required when stale_after is set")
	}

	if c.Routing.NearKm <= 0 || c.Routing.NearbyKm <= c.Routing.NearKm {
		return fmt.Errorf("routing thresholds must satisfy 0 < near_km < nearby_km")
	}
	if c.Routing.ConfirmKm <= 0 {
		return fmt.Errorf("invalid routing.confirm_km: %v", c.Routing.ConfirmKm)
	}

	if c.Auth.Enabled {
		if len(c.Auth.JWTSecret) < 16 {
			return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("invalid auth.token_ttl: %s", c.Auth.TokenTTL)
		}
	}

	return nil
}

// resolveRelativePaths 处理相对路径
func (c *ServerConfig) resolveRelativePaths(baseDir string) error {
	// 处理日志文件路径
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		c.Log.File = filepath.Join(baseDir, c.Log.File)
	}
	if c.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Log.File), 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	// 处理SQLite数据库路径
	if c.Storage.Type == "sqlite" && !filepath.IsAbs(c.Storage.SQLite.Path) {
		c.Storage.SQLite.Path = filepath.Join(baseDir, c.Storage.SQLite.Path)
	}
	if c.Storage.Type == "sqlite" {
		// 确保数据库目录存在
		if err := os.MkdirAll(filepath.Dir(c.Storage.SQLite.Path), 0755); err != nil {
			return fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	return nil
}

// Address 监听地址
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}

	// 服务器配置
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080

	// 日志配置
	cfg.Log.Level = "info"
	cfg.Log.File = "data/orchestrator.log"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAgeDays = 28
	cfg.Log.Compress = true

	// 存储配置
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = "data/orchestrator.db"
	cfg.Storage.SQLite.MaxOpenConns = 1
	cfg.Storage.SQLite.MaxIdleConns = 1
	cfg.Storage.Postgres.Port = 5432
	cfg.Storage.Postgres.SSLMode = "disable"

	cfg.Cache.Redis.Address = "localhost:6379"
	cfg.Cache.Redis.KeyPrefix = "orchestrator:"

	// 注册与过期
	cfg.Registry.StrictCapabilities = true
	cfg.Registry.Capabilities = append([]string(nil), DefaultCapabilities...)
	cfg.Registry.SweepInterval = 30 * time.Second

	// 路由阈值
	cfg.Routing.NearKm = 1
	cfg.Routing.NearbyKm = 50
	cfg.Routing.ConfirmKm = 50

	cfg.Auth.Issuer = "orchestrator"
	cfg.Auth.TokenTTL = 12 * time.Hour

	return cfg
}
