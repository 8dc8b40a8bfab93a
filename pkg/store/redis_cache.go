package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"orchestrator-backend/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// resyncInterval 缓存失效后两次重建之间的最短间隔
	resyncInterval = 30 * time.Second
	// refreshRetries 单个节点索引在并发写入下的最大重试次数
	refreshRetries = 5
)

// CachedStore 在 Redis 中维护能力名到节点ID集合的索引
// 写入先落数据库再更新 Redis，读取优先走 Redis，失败时回退到数据库
type CachedStore struct {
	Store
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger

	mu         sync.Mutex
	degraded   bool
	syncing    bool
	lastResync time.Time
}

// NewCachedStore 创建带 Redis 索引的存储
func NewCachedStore(inner Store, client redis.UniversalClient, prefix string, logger zerolog.Logger) *CachedStore {
	return &CachedStore{
		Store:    inner,
		client:   client,
		prefix:   prefix,
		logger:   logger.With().Str("component", "capability_cache").Logger(),
		degraded: true,
	}
}

func (s *CachedStore) capKey(name string) string {
	return s.prefix + "cap:" + name
}

func (s *CachedStore) nodeKey(nodeID string) string {
	return s.prefix + "node:" + nodeID + ":caps"
}

// revKey 每次重写节点索引都会递增，供 WATCH 检测并发修改
func (s *CachedStore) revKey(nodeID string) string {
	return s.prefix + "node:" + nodeID + ":rev"
}

// CreateNode 创建节点并写入索引
func (s *CachedStore) CreateNode(ctx context.Context, node *types.Node) error {
	if err := s.Store.CreateNode(ctx, node); err != nil {
		return err
	}
	s.refreshNode(ctx, node.ID)
	return nil
}

// ReplaceNode 替换节点并重写其索引
func (s *CachedStore) ReplaceNode(ctx context.Context, node *types.Node) error {
	if err := s.Store.ReplaceNode(ctx, node); err != nil {
		return err
	}
	s.refreshNode(ctx, node.ID)
	return nil
}

// FindCandidates 从 Redis 取候选节点ID，再从数据库读取最新状态
func (s *CachedStore) FindCandidates(ctx context.Context, capability string) ([]*types.Node, error) {
	if !s.ready(ctx) {
		return s.Store.FindCandidates(ctx, capability)
	}

	ids, err := s.client.SMembers(ctx, s.capKey(capability)).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("capability", capability).Msg("Redis lookup failed, falling back to database")
		s.markDegraded()
		return s.Store.FindCandidates(ctx, capability)
	}

	nodes, err := s.Store.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	// 集合里可能残留过期成员，以数据库为准再过滤一次
	candidates := make([]*types.Node, 0, len(nodes))
	for _, node := range nodes {
		if node.Status == types.NodeStatusOnline && node.HasCapability(capability) {
			candidates = append(candidates, node)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates, nil
}

// Ping 同时检查数据库和 Redis
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return err
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close 关闭 Redis 客户端和底层存储
func (s *CachedStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing redis client")
	}
	return s.Store.Close()
}

// Sync 按数据库重建整个索引，启动时和缓存失效后调用
func (s *CachedStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	s.lastResync = time.Now()
	s.syncing = true
	s.mu.Unlock()

	// 重建完成前读取一律走数据库
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if err := s.flush(ctx); err != nil {
		s.markDegraded()
		return err
	}

	// 先恢复写入，重建期间的并发注册同样会写入 Redis
	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()

	nodes, err := s.Store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		s.markDegraded()
		return fmt.Errorf("listing nodes: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, node := range nodes {
			s.addNode(ctx, pipe, node)
		}
		return nil
	})
	if err != nil {
		s.markDegraded()
		return fmt.Errorf("writing capability index: %w", err)
	}

	s.logger.Info().Int("nodes", len(nodes)).Msg("Capability index synced to redis")
	return nil
}

// refreshNode 按数据库当前记录重写单个节点的索引，失败时标记缓存失效
// 读取旧索引、读数据库和写入在同一个 WATCH 事务里完成，
// 并发写入同一节点时后提交的一方总是基于最新的数据库记录
func (s *CachedStore) refreshNode(ctx context.Context, nodeID string) {
	if s.isDegraded() {
		return
	}

	var err error
	for i := 0; i < refreshRetries; i++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.SMembers(ctx, s.nodeKey(nodeID)).Result()
			if err != nil {
				return err
			}
			node, err := s.Store.GetNode(ctx, nodeID)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, name := range previous {
					pipe.SRem(ctx, s.capKey(name), nodeID)
				}
				pipe.Del(ctx, s.nodeKey(nodeID))
				pipe.Incr(ctx, s.revKey(nodeID))
				s.addNode(ctx, pipe, node)
				return nil
			})
			return err
		}, s.revKey(nodeID))
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("Failed to update capability index in redis")
		s.markDegraded()
	}
}

func (s *CachedStore) addNode(ctx context.Context, pipe redis.Pipeliner, node *types.Node) {
	names := node.CapabilityNames()
	if len(names) == 0 {
		return
	}
	members := make([]any, len(names))
	for i, name := range names {
		pipe.SAdd(ctx, s.capKey(name), node.ID)
		members[i] = name
	}
	pipe.SAdd(ctx, s.nodeKey(node.ID), members...)
}

// flush 删除本前缀下的所有索引键
func (s *CachedStore) flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning redis keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting redis keys: %w", err)
	}
	return nil
}

// ready 缓存可用时返回 true，失效时按间隔尝试重建
func (s *CachedStore) ready(ctx context.Context) bool {
	s.mu.Lock()
	degraded, syncing := s.degraded, s.syncing
	due := time.Since(s.lastResync) >= resyncInterval
	s.mu.Unlock()

	if syncing {
		return false
	}
	if !degraded {
		return true
	}
	if !due {
		return false
	}
	if err := s.Sync(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Capability index resync failed")
		return false
	}
	return true
}

func (s *CachedStore) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *CachedStore) markDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = true
}
