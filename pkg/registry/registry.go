package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/geo"
	"orchestrator-backend/pkg/store"
	"orchestrator-backend/pkg/types"
)

// Registry 节点注册表，负责注册、心跳和查询
//
// 节点身份：请求带 id 时按 id 识别，未知的 id 会以该 id 新建节点；
// 不带 id 时按 name 识别，同名节点取最近活跃的那个。
type Registry struct {
	store   store.Store
	catalog *Catalog
	logger  zerolog.Logger
	now     func() time.Time
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New 创建注册表
func New(s store.Store, catalog *Catalog, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:   s,
		catalog: catalog,
		logger:  logger.With().Str("service", "registry").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog 返回能力目录
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Register 注册或重新注册节点，整体替换其能力集合，返回节点和是否新建
func (r *Registry) Register(ctx context.Context, spec *types.RegisterSpec) (*types.Node, bool, error) {
	if err := r.validateSpec(spec); err != nil {
		r.logger.Debug().Err(err).Str("name", spec.Name).Msg("Rejected registration")
		return nil, false, err
	}

	existing, err := r.lookup(ctx, spec)
	if err != nil {
		return nil, false, err
	}

	now := r.now().UTC()
	node := &types.Node{
		Name:        strings.TrimSpace(spec.Name),
		Type:        spec.Type,
		Status:      types.NodeStatusOnline,
		LastSeen:    now,
		NetworkID:   spec.NetworkID,
		NetworkType: spec.NetworkType,
		Lat:         spec.Lat,
		Lon:         spec.Lon,
		LastIP:      spec.LastIP,
	}
	if node.NetworkType == "" {
		node.NetworkType = types.NetworkTypeUnknown
	}

	created := existing == nil
	switch {
	case existing != nil:
		node.ID = existing.ID
		if existing.LastSeen.After(now) {
			node.LastSeen = existing.LastSeen
		}
	case spec.ID != "":
		node.ID = spec.ID
	default:
		node.ID = uuid.NewString()
	}
	node.Capabilities = buildCapabilities(node.ID, spec.Capabilities)

	if created {
		err = r.store.CreateNode(ctx, node)
	} else {
		err = r.store.ReplaceNode(ctx, node)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("node_id", node.ID).Msg("Failed to persist registration")
		return nil, false, err
	}

	r.logger.Info().
		Str("node_id", node.ID).
		Str("name", node.Name).
		Str("type", string(node.Type)).
		Strs("capabilities", node.CapabilityNames()).
		Bool("created", created).
		Msg("Node registered")

	return node, created, nil
}

// lookup 按身份键查找已有节点，未找到返回 nil
func (r *Registry) lookup(ctx context.Context, spec *types.RegisterSpec) (*types.Node, error) {
	var (
		node *types.Node
		err  error
	)
	if spec.ID != "" {
		node, err = r.store.GetNode(ctx, spec.ID)
	} else {
		node, err = r.store.FindNodeByName(ctx, strings.TrimSpace(spec.Name))
	}
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	return node, err
}

// Heartbeat 更新节点存活状态，可重复调用
func (r *Registry) Heartbeat(ctx context.Context, nodeID string, hb *types.Heartbeat) (*types.Node, error) {
	if !hb.Status.Valid() {
		return nil, types.NewError(types.CodeValidation, "status must be online or offline, got %q", hb.Status)
	}
	if err := validateCoordinates(hb.Lat, hb.Lon); err != nil {
		return nil, err
	}

	node, err := r.store.ApplyHeartbeat(ctx, nodeID, hb, r.now().UTC())
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			r.logger.Error().Err(err).Str("node_id", nodeID).Msg("Failed to apply heartbeat")
		}
		return nil, err
	}

	r.logger.Debug().
		Str("node_id", nodeID).
		Str("status", string(node.Status)).
		Time("last_seen", node.LastSeen).
		Msg("Heartbeat received")

	return node, nil
}

// List 列出节点，返回当前页和过滤后的总数
func (r *Registry) List(ctx context.Context, filter store.NodeFilter) ([]*types.Node, int64, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, types.NewError(types.CodeValidation, "status filter must be online or offline, got %q", *filter.Status)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, types.NewError(types.CodeValidation, "limit and offset must not be negative")
	}

	nodes, err := r.store.ListNodes(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.store.CountNodes(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

// Get 获取节点
func (r *Registry) Get(ctx context.Context, nodeID string) (*types.Node, error) {
	return r.store.GetNode(ctx, nodeID)
}

// FindCandidates 返回在线且声明了该能力的节点，没有匹配时返回空列表
func (r *Registry) FindCandidates(ctx context.Context, capability string) ([]*types.Node, error) {
	nodes, err := r.store.FindCandidates(ctx, capability)
	if err != nil {
		return nil, err
	}
	candidates := nodes[:0]
	for _, node := range nodes {
		if node.Status == types.NodeStatusOnline {
			candidates = append(candidates, node)
		}
	}
	return candidates, nil
}

func (r *Registry) validateSpec(spec *types.RegisterSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return types.NewError(types.CodeValidation, "name is required")
	}
	if !spec.Type.Valid() {
		return types.NewError(types.CodeValidation, "type must be one of mobile, desktop, iot, cloud, got %q", spec.Type)
	}
	if spec.NetworkType != "" && !spec.NetworkType.Valid() {
		return types.NewError(types.CodeValidation, "network_type must be one of wifi, cellular, ethernet, unknown, got %q", spec.NetworkType)
	}
	if err := validateCoordinates(spec.Lat, spec.Lon); err != nil {
		return err
	}
	for i, c := range spec.Capabilities {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return types.NewError(types.CodeValidation, "capabilities[%d].name is required", i)
		}
		if !r.catalog.Allows(name) {
			return types.NewError(types.CodeValidation, "unknown capability %q", name)
		}
	}
	return nil
}

func validateCoordinates(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return types.NewError(types.CodeValidation, "lat and lon must be provided together")
	}
	if lat != nil && !geo.ValidCoordinates(*lat, *lon) {
		return types.NewError(types.CodeValidation, "coordinates out of range: %v, %v", *lat, *lon)
	}
	return nil
}

// buildCapabilities 保持声明顺序，重复的能力名只保留第一次出现
func buildCapabilities(nodeID string, specs []types.CapabilitySpec) []types.Capability {
	seen := make(map[string]struct{}, len(specs))
	caps := make([]types.Capability, 0, len(specs))
	for _, c := range specs {
		name := strings.TrimSpace(c.Name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		caps = append(caps, types.Capability{
			ID:          uuid.NewString(),
			NodeID:      nodeID,
			Name:        name,
			Description: c.Description,
			Metadata:    c.Metadata,
			Position:    len(caps),
		})
	}
	return caps
}
