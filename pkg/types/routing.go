package types

// Tier 邻近层级，数值越小优先级越高
type Tier int

const (
	TierSameNode    Tier = 1
	TierSameNetwork Tier = 2
	TierNear        Tier = 3
	TierNearby      Tier = 4
	TierOnline      Tier = 5
)

var tierScores = map[Tier]int{
	TierSameNode:    100,
	TierSameNetwork: 80,
	TierNear:        70,
	TierNearby:      40,
	TierOnline:      10,
}

var tierNames = map[Tier]string{
	TierSameNode:    "same_node",
	TierSameNetwork: "same_network",
	TierNear:        "near",
	TierNearby:      "nearby",
	TierOnline:      "online",
}

// Score 层级对应的分数
func (t Tier) Score() int {
	return tierScores[t]
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// RequestContext 请求方上下文
type RequestContext struct {
	SourceNodeID string      `json:"source_node_id,omitempty"`
	NetworkID    string      `json:"network_id,omitempty"`
	NetworkType  NetworkType `json:"network_type,omitempty"`
	Lat          *float64    `json:"lat,omitempty"`
	Lon          *float64    `json:"lon,omitempty"`
}

// HasCoordinates 请求方是否带有完整坐标
func (r *RequestContext) HasCoordinates() bool {
	return r.Lat != nil && r.Lon != nil
}

// RoutingDecision 路由结果
type RoutingDecision struct {
	TargetNodeID         string   `json:"target_node_id"`
	TargetNodeName       string   `json:"target_node_name"`
	RequiredCapability   string   `json:"required_capability"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Reason               string   `json:"reason,omitempty"`
	DistanceKm           *float64 `json:"distance_km,omitempty"`
	Score                int      `json:"score"`
	Tier                 Tier     `json:"tier"`
}
