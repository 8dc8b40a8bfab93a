package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator-backend/pkg/store"
	"orchestrator-backend/pkg/types"
)

func TestSweeperMarksStaleNodesOffline(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := store.NewMemoryStore()
	r := New(s, NewCatalog(nil, false), zerolog.Nop(), WithClock(clock.Now))

	old, _, err := r.Register(ctx, &types.RegisterSpec{Name: "old", Type: types.NodeTypeIoT, Capabilities: caps("camera")})
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	fresh, _, err := r.Register(ctx, &types.RegisterSpec{Name: "fresh", Type: types.NodeTypeIoT, Capabilities: caps("camera")})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	sweeper := NewSweeper(s, 5*time.Minute, time.Minute, zerolog.Nop())
	sweeper.now = clock.Now

	var notified []string
	sweeper.SetOnStale(func(ids []string) { notified = ids })

	ids, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids)
	assert.Equal(t, ids, notified)

	got, err := r.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, got.Status)
	assert.True(t, got.LastSeen.Equal(old.LastSeen), "sweeping must not touch last_seen")

	cams, err := r.FindCandidates(ctx, "camera")
	require.NoError(t, err)
	require.Len(t, cams, 1)
	assert.Equal(t, fresh.ID, cams[0].ID)

	// 第二次检查没有新的过期节点
	ids, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSweeperStartStop(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateNode(context.Background(), &types.Node{
		ID:       "n-1",
		Name:     "n-1",
		Type:     types.NodeTypeIoT,
		Status:   types.NodeStatusOnline,
		LastSeen: time.Now().Add(-time.Hour),
	}))

	sweeper := NewSweeper(s, time.Minute, 10*time.Millisecond, zerolog.Nop())
	done := make(chan []string, 1)
	sweeper.SetOnStale(func(ids []string) {
		select {
		case done <- ids:
		default:
		}
	})

	sweeper.Start()
	defer sweeper.Stop()

	select {
	case ids := <-done:
		assert.Equal(t, []string{"n-1"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}
}
