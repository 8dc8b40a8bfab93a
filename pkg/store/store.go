package store

import (
	"context"
	"fmt"
	"time"

	"orchestrator-backend/pkg/types"
)

// Store 节点注册表存储接口，每次调用使用独立的事务或连接
type Store interface {
	// Node operations
	CreateNode(ctx context.Context, node *types.Node) error
	ReplaceNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, nodeID string) (*types.Node, error)
	GetNodes(ctx context.Context, nodeIDs []string) ([]*types.Node, error)
	FindNodeByName(ctx context.Context, name string) (*types.Node, error)
	ListNodes(ctx context.Context, filter NodeFilter) ([]*types.Node, error)
	CountNodes(ctx context.Context, filter NodeFilter) (int64, error)

	// Liveness
	ApplyHeartbeat(ctx context.Context, nodeID string, hb *types.Heartbeat, now time.Time) (*types.Node, error)
	MarkStale(ctx context.Context, cutoff time.Time) ([]string, error)

	// Capability index
	FindCandidates(ctx context.Context, capability string) ([]*types.Node, error)

	// Maintenance
	Ping(ctx context.Context) error
	Close() error
}

// NodeFilter 节点过滤条件，Limit 为 0 表示不分页
type NodeFilter struct {
	Status *types.NodeStatus
	Limit  int
	Offset int
}

// Config 存储配置
type Config struct {
	Type     string         `json:"type"` // 存储类型：memory, sqlite, postgres
	SQLite   SQLiteConfig   `json:"sqlite"`
	Postgres PostgresConfig `json:"postgres"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `json:"path"`              // 数据库文件路径
	MaxOpenConns    int           `json:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `json:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"` // 连接最大生命周期
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// NewStore 创建存储实例
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(&cfg.SQLite)
	case "postgres":
		return NewPostgreStore(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func notFound(nodeID string) error {
	return types.NewError(types.CodeNotFound, "node %s not found", nodeID)
}
