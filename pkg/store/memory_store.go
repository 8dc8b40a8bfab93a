package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orchestrator-backend/pkg/types"
)

// MemoryStore 内存存储实现，维护能力名到节点ID集合的索引
type MemoryStore struct {
	sync.RWMutex
	nodes map[string]*types.Node
	index map[string]map[string]struct{}
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*types.Node),
		index: make(map[string]map[string]struct{}),
	}
}

// CreateNode 创建节点
func (s *MemoryStore) CreateNode(_ context.Context, node *types.Node) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("node %s already exists", node.ID)
	}

	now := time.Now().UTC()
	node.CreatedAt, node.UpdatedAt = now, now
	s.nodes[node.ID] = node.Clone()
	s.indexNode(node)
	return nil
}

// ReplaceNode 更新节点并替换能力集合
func (s *MemoryStore) ReplaceNode(_ context.Context, node *types.Node) error {
	s.Lock()
	defer s.Unlock()

	old, exists := s.nodes[node.ID]
	if !exists {
		return notFound(node.ID)
	}

	s.unindexNode(old)
	node.CreatedAt = old.CreatedAt
	node.UpdatedAt = time.Now().UTC()
	s.nodes[node.ID] = node.Clone()
	s.indexNode(node)
	return nil
}

// GetNode 获取节点
func (s *MemoryStore) GetNode(_ context.Context, nodeID string) (*types.Node, error) {
	s.RLock()
	defer s.RUnlock()

	node, exists := s.nodes[nodeID]
	if !exists {
		return nil, notFound(nodeID)
	}
	return node.Clone(), nil
}

// GetNodes 批量获取节点，不存在的ID被忽略
func (s *MemoryStore) GetNodes(_ context.Context, nodeIDs []string) ([]*types.Node, error) {
	s.RLock()
	defer s.RUnlock()

	nodes := make([]*types.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if node, ok := s.nodes[id]; ok {
			nodes = append(nodes, node.Clone())
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// FindNodeByName 按名称查找最近活跃的节点
func (s *MemoryStore) FindNodeByName(_ context.Context, name string) (*types.Node, error) {
	s.RLock()
	defer s.RUnlock()

	var found *types.Node
	for _, node := range s.nodes {
		if node.Name != name {
			continue
		}
		if found == nil || node.LastSeen.After(found.LastSeen) ||
			(node.LastSeen.Equal(found.LastSeen) && node.ID < found.ID) {
			found = node
		}
	}
	if found == nil {
		return nil, types.NewError(types.CodeNotFound, "node named %q not found", name)
	}
	return found.Clone(), nil
}

func (s *MemoryStore) filtered(filter NodeFilter) []*types.Node {
	nodes := make([]*types.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		if filter.Status != nil && node.Status != *filter.Status {
			continue
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// ListNodes 列出节点
func (s *MemoryStore) ListNodes(_ context.Context, filter NodeFilter) ([]*types.Node, error) {
	s.RLock()
	defer s.RUnlock()

	nodes := s.filtered(filter)
	if filter.Offset > 0 {
		if filter.Offset >= len(nodes) {
			return []*types.Node{}, nil
		}
		nodes = nodes[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(nodes) {
		nodes = nodes[:filter.Limit]
	}

	out := make([]*types.Node, len(nodes))
	for i, node := range nodes {
		out[i] = node.Clone()
	}
	return out, nil
}

// CountNodes 统计节点数量
func (s *MemoryStore) CountNodes(_ context.Context, filter NodeFilter) (int64, error) {
	s.RLock()
	defer s.RUnlock()
	return int64(len(s.filtered(filter))), nil
}

// ApplyHeartbeat 写入心跳
func (s *MemoryStore) ApplyHeartbeat(_ context.Context, nodeID string, hb *types.Heartbeat, now time.Time) (*types.Node, error) {
	s.Lock()
	defer s.Unlock()

	node, exists := s.nodes[nodeID]
	if !exists {
		return nil, notFound(nodeID)
	}
	hb.Apply(node, now)
	node.UpdatedAt = time.Now().UTC()
	return node.Clone(), nil
}

// MarkStale 把过期的在线节点置为离线
func (s *MemoryStore) MarkStale(_ context.Context, cutoff time.Time) ([]string, error) {
	s.Lock()
	defer s.Unlock()

	var ids []string
	for id, node := range s.nodes {
		if node.Status == types.NodeStatusOnline && node.LastSeen.Before(cutoff) {
			node.Status = types.NodeStatusOffline
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FindCandidates 通过能力索引查找在线节点
func (s *MemoryStore) FindCandidates(_ context.Context, capability string) ([]*types.Node, error) {
	s.RLock()
	defer s.RUnlock()

	ids := s.index[capability]
	nodes := make([]*types.Node, 0, len(ids))
	for id := range ids {
		node := s.nodes[id]
		if node == nil || node.Status != types.NodeStatusOnline {
			continue
		}
		nodes = append(nodes, node.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// Ping 内存存储始终可用
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) indexNode(node *types.Node) {
	for _, c := range node.Capabilities {
		set, ok := s.index[c.Name]
		if !ok {
			set = make(map[string]struct{})
			s.index[c.Name] = set
		}
		set[node.ID] = struct{}{}
	}
}

func (s *MemoryStore) unindexNode(node *types.Node) {
	for _, c := range node.Capabilities {
		set := s.index[c.Name]
		delete(set, node.ID)
		if len(set) == 0 {
			delete(s.index, c.Name)
		}
	}
}
