package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator-backend/pkg/types"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func node(id, networkID string, lat, lon *float64, lastSeen time.Time) *types.Node {
	return &types.Node{
		ID:          id,
		Name:        id,
		Type:        types.NodeTypeIoT,
		Status:      types.NodeStatusOnline,
		NetworkID:   networkID,
		NetworkType: types.NetworkTypeWiFi,
		Lat:         lat,
		Lon:         lon,
		LastSeen:    lastSeen,
	}
}

func TestResolverScore(t *testing.T) {
	r := NewResolver(1, 50)
	req := &types.RequestContext{
		SourceNodeID: "phone",
		NetworkID:    "Home-WiFi",
		Lat:          ptr(-23.5505),
		Lon:          ptr(-46.6333),
	}

	cases := []struct {
		name      string
		candidate *types.Node
		tier      types.Tier
		score     int
		distance  bool
	}{
		{"same node wins over everything", node("phone", "Other", ptr(-23.5505), ptr(-46.6333), baseTime), types.TierSameNode, 100, true},
		{"same network without coordinates", node("hub", "Home-WiFi", nil, nil, baseTime), types.TierSameNetwork, 80, false},
		{"under one kilometer", node("tv", "Neighbour", ptr(-23.5510), ptr(-46.6340), baseTime), types.TierNear, 70, true},
		{"within fifty kilometers", node("office", "Office", ptr(-23.6000), ptr(-46.9000), baseTime), types.TierNearby, 40, true},
		{"far away", node("rio", "Rio", ptr(-22.9068), ptr(-43.1729), baseTime), types.TierOnline, 10, true},
		{"no coordinates and other network", node("cloud", "", nil, nil, baseTime), types.TierOnline, 10, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Score(tc.candidate, req)
			assert.Equal(t, tc.tier, got.Tier)
			assert.Equal(t, tc.score, got.Value)
			assert.Equal(t, tc.distance, got.DistanceKm != nil)
		})
	}
}

func TestResolverEmptyNetworkIDNeverMatches(t *testing.T) {
	r := NewResolver(1, 50)
	got := r.Score(node("a", "", nil, nil, baseTime), &types.RequestContext{})
	assert.Equal(t, types.TierOnline, got.Tier)
}

func TestResolverSelect(t *testing.T) {
	r := NewResolver(1, 50)

	t.Run("empty candidate list", func(t *testing.T) {
		_, _, err := r.Select(nil, &types.RequestContext{})
		assert.ErrorIs(t, err, types.ErrNoCapableDevice)
	})

	t.Run("highest tier wins regardless of order", func(t *testing.T) {
		req := &types.RequestContext{NetworkID: "Home-WiFi"}
		candidates := []*types.Node{
			node("b", "Office", nil, nil, baseTime.Add(time.Hour)),
			node("a", "Home-WiFi", nil, nil, baseTime),
		}
		selected, score, err := r.Select(candidates, req)
		require.NoError(t, err)
		assert.Equal(t, "a", selected.ID)
		assert.Equal(t, types.TierSameNetwork, score.Tier)
	})

	t.Run("ties broken by most recent last_seen", func(t *testing.T) {
		candidates := []*types.Node{
			node("a", "", nil, nil, baseTime),
			node("b", "", nil, nil, baseTime.Add(time.Minute)),
		}
		selected, _, err := r.Select(candidates, &types.RequestContext{})
		require.NoError(t, err)
		assert.Equal(t, "b", selected.ID)
	})

	t.Run("then by lowest id", func(t *testing.T) {
		candidates := []*types.Node{
			node("c", "", nil, nil, baseTime),
			node("a", "", nil, nil, baseTime),
			node("b", "", nil, nil, baseTime),
		}
		for i := 0; i < 3; i++ {
			selected, _, err := r.Select(candidates, &types.RequestContext{})
			require.NoError(t, err)
			assert.Equal(t, "a", selected.ID)
			candidates = append(candidates[1:], candidates[0])
		}
	})
}
