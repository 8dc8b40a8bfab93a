package routing

import (
	"sort"

	"orchestrator-backend/pkg/geo"
	"orchestrator-backend/pkg/types"
)

// Score 单个候选节点的评分结果
type Score struct {
	Value      int
	Tier       types.Tier
	DistanceKm *float64
}

// Resolver 按邻近层级为候选节点打分并选出目标
type Resolver struct {
	NearKm   float64
	NearbyKm float64
}

// NewResolver 创建邻近度解析器
func NewResolver(nearKm, nearbyKm float64) *Resolver {
	return &Resolver{NearKm: nearKm, NearbyKm: nearbyKm}
}

// Score 自上而下匹配层级，命中即停止
// 双方都有坐标时总会带上距离，供确认规则使用
func (r *Resolver) Score(candidate *types.Node, req *types.RequestContext) Score {
	var distance *float64
	if km, ok := geo.DistanceBetween(candidate.Lat, candidate.Lon, req.Lat, req.Lon); ok {
		distance = &km
	}

	tier := types.TierOnline
	switch {
	case req.SourceNodeID != "" && candidate.ID == req.SourceNodeID:
		tier = types.TierSameNode
	case req.NetworkID != "" && candidate.NetworkID == req.NetworkID:
		tier = types.TierSameNetwork
	case distance != nil && *distance < r.NearKm:
		tier = types.TierNear
	case distance != nil && *distance < r.NearbyKm:
		tier = types.TierNearby
	}

	return Score{Value: tier.Score(), Tier: tier, DistanceKm: distance}
}

// Select 选出分数最高的候选节点
// 同分时 last_seen 较新者优先，仍相同则取 ID 较小者
func (r *Resolver) Select(candidates []*types.Node, req *types.RequestContext) (*types.Node, Score, error) {
	if len(candidates) == 0 {
		return nil, Score{}, types.ErrNoCapableDevice
	}

	type scored struct {
		node  *types.Node
		score Score
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{node: c, score: r.Score(c, req)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score.Value != b.score.Value {
			return a.score.Value > b.score.Value
		}
		if !a.node.LastSeen.Equal(b.node.LastSeen) {
			return a.node.LastSeen.After(b.node.LastSeen)
		}
		return a.node.ID < b.node.ID
	})

	best := ranked[0]
	return best.node, best.score, nil
}
