package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/registry"
	"orchestrator-backend/pkg/routing"
	"orchestrator-backend/pkg/server/rpc"
	"orchestrator-backend/pkg/store"
	"orchestrator-backend/pkg/types"
)

// swappableStore 可以整体替换的存储，用来模拟服务端数据丢失
type swappableStore struct {
	store.Store
}

type testBackend struct {
	store    *swappableStore
	registry *registry.Registry
	conn     *grpc.ClientConn
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	logger := zerolog.Nop()
	st := &swappableStore{Store: store.NewMemoryStore()}
	reg := registry.New(st, registry.NewCatalog(config.DefaultCapabilities, true), logger)
	router := routing.NewRouter(reg, routing.DefaultConfig(), logger)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	rpc.NewService(reg, router, logger).RegisterGRPC(server)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testBackend{store: st, registry: reg, conn: conn}
}

func testConfig() *config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.Node.Name = "living-room-hub"
	cfg.Node.Type = "iot"
	cfg.Network.ID = "Home-WiFi"
	cfg.Network.Type = "wifi"
	cfg.Network.LastIP = "192.168.1.40"
	cfg.Capabilities = []config.AgentCapability{{Name: "ir_control", Description: "IR blaster"}}
	cfg.Server.Timeout = 5 * time.Second
	cfg.Runtime.HeartbeatInterval = time.Hour
	return cfg
}

func TestAgentLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	a := newAgent(testConfig(), zerolog.Nop(), backend.conn)

	require.NoError(t, a.Start())
	nodeID := a.NodeID()
	require.NotEmpty(t, nodeID)

	node, err := backend.registry.Get(ctx, nodeID)
	require.NoError(t, err)
	assert.Equal(t, "living-room-hub", node.Name)
	assert.Equal(t, types.NodeStatusOnline, node.Status)
	assert.Equal(t, "192.168.1.40", node.LastIP)
	assert.Equal(t, []string{"ir_control"}, node.CapabilityNames())

	require.NoError(t, a.heartbeat(ctx))

	require.NoError(t, a.Stop())
	node, err = backend.registry.Get(ctx, nodeID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, node.Status)
}

func TestAgentReRegistersWhenServerForgetsNode(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	a := newAgent(testConfig(), zerolog.Nop(), backend.conn)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop() })
	nodeID := a.NodeID()

	backend.store.Store = store.NewMemoryStore()
	_, err := backend.registry.Get(ctx, nodeID)
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, a.heartbeat(ctx))
	assert.Equal(t, nodeID, a.NodeID(), "re-registration keeps the assigned id")

	node, err := backend.registry.Get(ctx, nodeID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, node.Status)
}

func TestRegisterSpecFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Node.ID = "hub-1"
	lat, lon := -23.55, -46.63
	cfg.Network.Lat, cfg.Network.Lon = &lat, &lon

	a := newAgent(cfg, zerolog.Nop(), nil)
	spec := a.registerSpec()
	assert.Equal(t, "hub-1", spec.ID)
	assert.Equal(t, types.NodeTypeIoT, spec.Type)
	assert.Equal(t, types.NetworkTypeWiFi, spec.NetworkType)
	assert.Equal(t, &lat, spec.Lat)
	require.Len(t, spec.Capabilities, 1)
	assert.Equal(t, "IR blaster", spec.Capabilities[0].Description)
}

func TestHasFlag(t *testing.T) {
	assert.True(t, hasFlag([]string{"up", "broadcast"}, "up"))
	assert.False(t, hasFlag([]string{"broadcast"}, "loopback"))
}
