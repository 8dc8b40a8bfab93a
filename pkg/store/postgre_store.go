package store

import (
	"fmt"

	"gorm.io/driver/postgres"
)

// PostgreStore PostgreSQL存储实现
type PostgreStore struct {
	*GormStore
}

// DSN 生成 PostgreSQL 连接串
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, sslMode)
}

// NewPostgreStore 创建PostgreSQL存储实例
func NewPostgreStore(config PostgresConfig) (*PostgreStore, error) {
	store, err := NewGormStore(postgres.Open(config.DSN()))
	if err != nil {
		return nil, err
	}

	return &PostgreStore{GormStore: store}, nil
}
