package routing

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/geo"
	"orchestrator-backend/pkg/types"
)

// Directory 路由读取注册表所用的接口
type Directory interface {
	Get(ctx context.Context, nodeID string) (*types.Node, error)
	FindCandidates(ctx context.Context, capability string) ([]*types.Node, error)
}

// Config 路由阈值，单位千米
type Config struct {
	NearKm    float64
	NearbyKm  float64
	ConfirmKm float64
}

// DefaultConfig 默认阈值：1 km 内为近距离，50 km 内为附近，超过 50 km 需要确认
func DefaultConfig() Config {
	return Config{NearKm: 1, NearbyKm: 50, ConfirmKm: 50}
}

// Router 命令路由，依次调用能力索引、邻近度解析和确认校验
type Router struct {
	directory Directory
	resolver  *Resolver
	validator *Validator
	logger    zerolog.Logger
}

// NewRouter 创建命令路由
func NewRouter(directory Directory, cfg Config, logger zerolog.Logger) *Router {
	return &Router{
		directory: directory,
		resolver:  NewResolver(cfg.NearKm, cfg.NearbyKm),
		validator: NewValidator(cfg.ConfirmKm),
		logger:    logger.With().Str("service", "router").Logger(),
	}
}

// Route 为能力选出目标节点
// 没有在线节点提供该能力时返回 NO_CAPABLE_DEVICE
func (r *Router) Route(ctx context.Context, capability string, req types.RequestContext) (*types.RoutingDecision, error) {
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return nil, types.NewError(types.CodeValidation, "capability is required")
	}
	if err := validateCoordinates(req.Lat, req.Lon); err != nil {
		return nil, err
	}

	if err := r.enrich(ctx, &req); err != nil {
		return nil, err
	}

	candidates, err := r.directory.FindCandidates(ctx, capability)
	if err != nil {
		r.logger.Error().Err(err).Str("capability", capability).Msg("Failed to look up candidates")
		return nil, err
	}

	selected, score, err := r.resolver.Select(candidates, &req)
	if errors.Is(err, types.ErrNoCapableDevice) {
		r.logger.Info().Str("capability", capability).Msg("No capable device online")
		return nil, types.NewError(types.CodeNoCapableDevice, "no online device provides %q", capability)
	}
	if err != nil {
		return nil, err
	}

	check := r.validator.Validate(selected, &req, score.DistanceKm)
	decision := &types.RoutingDecision{
		TargetNodeID:         selected.ID,
		TargetNodeName:       selected.Name,
		RequiredCapability:   capability,
		RequiresConfirmation: check.RequiresConfirmation,
		Reason:               check.Reason,
		DistanceKm:           check.DistanceKm,
		Score:                score.Value,
		Tier:                 score.Tier,
	}

	event := r.logger.Info().
		Str("capability", capability).
		Str("source_node_id", req.SourceNodeID).
		Str("target_node_id", decision.TargetNodeID).
		Str("tier", decision.Tier.String()).
		Int("candidates", len(candidates)).
		Bool("requires_confirmation", decision.RequiresConfirmation)
	if decision.DistanceKm != nil {
		event = event.Float64("distance_km", *decision.DistanceKm)
	}
	event.Msg("Routed command")

	return decision, nil
}

// enrich 用来源节点的注册信息补全请求方缺失的网络和坐标
func (r *Router) enrich(ctx context.Context, req *types.RequestContext) error {
	if req.SourceNodeID == "" {
		return nil
	}
	source, err := r.directory.Get(ctx, req.SourceNodeID)
	if errors.Is(err, types.ErrNotFound) {
		r.logger.Debug().Str("source_node_id", req.SourceNodeID).Msg("Source node not registered")
		return nil
	}
	if err != nil {
		return err
	}

	if req.NetworkID == "" {
		req.NetworkID = source.NetworkID
	}
	if req.NetworkType == "" {
		req.NetworkType = source.NetworkType
	}
	if !req.HasCoordinates() && source.HasCoordinates() {
		lat, lon := *source.Lat, *source.Lon
		req.Lat, req.Lon = &lat, &lon
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
