package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orchestrator-backend/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore 通用GORM存储实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建GORM存储实例
func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &GormStore{db: db}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return store, nil
}

// initialize 初始化数据库
func (s *GormStore) initialize() error {
	if err := s.db.AutoMigrate(&types.Node{}, &types.Capability{}); err != nil {
		return fmt.Errorf("auto migrating tables: %w", err)
	}
	return nil
}

// withCapabilities 按注册顺序预加载能力
func withCapabilities(db *gorm.DB) *gorm.DB {
	return db.Preload("Capabilities", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// forUpdate sqlite 不支持行锁，写事务本身已串行
func (s *GormStore) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// CreateNode 创建节点及其能力
func (s *GormStore) CreateNode(ctx context.Context, node *types.Node) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		caps := node.Capabilities
		if err := tx.Omit("Capabilities").Create(node).Error; err != nil {
			return fmt.Errorf("creating node: %w", err)
		}
		if len(caps) > 0 {
			if err := tx.Create(&caps).Error; err != nil {
				return fmt.Errorf("creating capabilities: %w", err)
			}
		}
		node.Capabilities = caps
		return nil
	})
	return err
}

// ReplaceNode 更新节点属性并整体替换能力集合
func (s *GormStore) ReplaceNode(ctx context.Context, node *types.Node) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.Node{}).
			Where("id = ?", node.ID).
			Select("name", "type", "status", "last_seen", "network_id", "network_type", "lat", "lon", "last_ip", "updated_at").
			Updates(node)
		if result.Error != nil {
			return fmt.Errorf("updating node: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFound(node.ID)
		}

		if err := tx.Where("node_id = ?", node.ID).Delete(&types.Capability{}).Error; err != nil {
			return fmt.Errorf("deleting capabilities: %w", err)
		}
		if len(node.Capabilities) > 0 {
			if err := tx.Create(&node.Capabilities).Error; err != nil {
				return fmt.Errorf("creating capabilities: %w", err)
			}
		}
		return nil
	})
}

// GetNode 获取节点
func (s *GormStore) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	var node types.Node
	result := withCapabilities(s.db.WithContext(ctx)).First(&node, "id = ?", nodeID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, notFound(nodeID)
		}
		return nil, fmt.Errorf("querying node: %w", result.Error)
	}
	return &node, nil
}

// GetNodes 批量获取节点，不存在的ID被忽略
func (s *GormStore) GetNodes(ctx context.Context, nodeIDs []string) ([]*types.Node, error) {
	var nodes []*types.Node
	if len(nodeIDs) == 0 {
		return nodes, nil
	}
	err := withCapabilities(s.db.WithContext(ctx)).
		Where("id IN ?", nodeIDs).
		Order("id ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	return nodes, nil
}

// FindNodeByName 按名称查找最近活跃的节点
func (s *GormStore) FindNodeByName(ctx context.Context, name string) (*types.Node, error) {
	var node types.Node
	result := withCapabilities(s.db.WithContext(ctx)).
		Where("name = ?", name).
		Order("last_seen DESC").
		Order("id ASC").
		First(&node)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.CodeNotFound, "node named %q not found", name)
		}
		return nil, fmt.Errorf("querying node by name: %w", result.Error)
	}
	return &node, nil
}

func applyFilter(db *gorm.DB, filter NodeFilter) *gorm.DB {
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	return db
}

// ListNodes 列出节点
func (s *GormStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*types.Node, error) {
	query := applyFilter(withCapabilities(s.db.WithContext(ctx)), filter).Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var nodes []*types.Node
	if err := query.Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	return nodes, nil
}

// CountNodes 统计节点数量，忽略分页参数
func (s *GormStore) CountNodes(ctx context.Context, filter NodeFilter) (int64, error) {
	var count int64
	if err := applyFilter(s.db.WithContext(ctx).Model(&types.Node{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}
	return count, nil
}

// ApplyHeartbeat 在单行事务内写入心跳
func (s *GormStore) ApplyHeartbeat(ctx context.Context, nodeID string, hb *types.Heartbeat, now time.Time) (*types.Node, error) {
	var node types.Node
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := s.forUpdate(tx).First(&node, "id = ?", nodeID)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return notFound(nodeID)
			}
			return fmt.Errorf("querying node: %w", result.Error)
		}

		hb.Apply(&node, now)

		err := tx.Model(&types.Node{}).
			Where("id = ?", nodeID).
			Select("status", "last_seen", "lat", "lon", "last_ip", "updated_at").
			Updates(&node).Error
		if err != nil {
			return fmt.Errorf("updating heartbeat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, nodeID)
}

// MarkStale 把 last_seen 早于 cutoff 的在线节点置为离线，返回受影响的节点
func (s *GormStore) MarkStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&types.Node{}).
			Where("status = ? AND last_seen < ?", types.NodeStatusOnline, cutoff).
			Order("id ASC").
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("querying stale nodes: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		// 只修改状态，last_seen 保持不变
		err = tx.Model(&types.Node{}).
			Where("id IN ? AND status = ?", ids, types.NodeStatusOnline).
			Update("status", types.NodeStatusOffline).Error
		if err != nil {
			return fmt.Errorf("marking stale nodes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindCandidates 返回在线且声明了该能力的节点
func (s *GormStore) FindCandidates(ctx context.Context, capability string) ([]*types.Node, error) {
	db := s.db.WithContext(ctx)
	owners := db.Model(&types.Capability{}).Select("node_id").Where("name = ?", capability)

	var nodes []*types.Node
	err := withCapabilities(db).
		Where("status = ?", types.NodeStatusOnline).
		Where("id IN (?)", owners).
		Order("id ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	return nodes, nil
}

// Ping 检查数据库连接
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}
	return sqlDB.Close()
}
