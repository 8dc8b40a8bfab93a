package store

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
)

// SQLiteStore 基于纯 Go SQLite 驱动的存储
type SQLiteStore struct {
	*GormStore
}

// DefaultSQLiteConfig 返回默认的 SQLite 配置
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	return &SQLiteConfig{
		Path:            path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

// NewSQLiteStore 创建一个新的 SQLite 存储实例
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// WAL + busy_timeout，单写多读
	dsn := config.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	gs, err := NewGormStore(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	// 配置连接池
	sqlDB, err := gs.db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	return &SQLiteStore{GormStore: gs}, nil
}
