package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/server/rpc"
	"orchestrator-backend/pkg/types"
	"orchestrator-backend/pkg/utils/secret"
)

func testConfig() *config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Log.File = ""
	cfg.Storage.Type = "memory"
	return cfg
}

func startServer(t *testing.T, cfg *config.ServerConfig) *Server {
	t.Helper()
	srv, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func dial(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(srv.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerSharesPortBetweenRESTAndGRPC(t *testing.T) {
	srv := startServer(t, testConfig())
	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// REST 注册，gRPC 路由，两端看到同一个注册表
	resp = postJSON(t, base+"/v1/devices/register", "", types.RegisterSpec{
		Name:         "living-room-hub",
		Type:         types.NodeTypeIoT,
		NetworkID:    "Home-WiFi",
		NetworkType:  types.NetworkTypeWiFi,
		Capabilities: []types.CapabilitySpec{{Name: "ir_control"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registered types.RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registered))

	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	decision, err := rpc.NewClient(conn).Route(ctx, &types.RouteRequest{
		Capability:     "ir_control",
		RequestContext: types.RequestContext{NetworkID: "Home-WiFi"},
	})
	require.NoError(t, err)
	assert.Equal(t, registered.DeviceID, decision.TargetNodeID)
	assert.Equal(t, types.TierSameNetwork, decision.Tier)
}

func TestServerRequiresTokenWhenAuthEnabled(t *testing.T) {
	hash, err := secret.HashWith("operator-key", secret.Params{
		Time:    1,
		Memory:  8 * 1024,
		Threads: 1,
		KeyLen:  32,
		SaltLen: 16,
	})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "test-secret-with-enough-entropy"
	cfg.Auth.APIKeys = []config.APIKey{{Name: "ops", Hash: hash}}
	srv := startServer(t, cfg)
	base := "http://" + srv.Addr().String()

	spec := types.RegisterSpec{Name: "tv", Type: types.NodeTypeIoT}
	resp := postJSON(t, base+"/v1/devices/register", "", spec)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, base+"/v1/auth/token", "", map[string]string{"name": "ops", "key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, base+"/v1/auth/token", "", map[string]string{"name": "ops", "key": "operator-key"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var issued struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	require.NotEmpty(t, issued.Token)

	resp = postJSON(t, base+"/v1/devices/register", issued.Token, spec)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// gRPC 同样校验令牌，健康检查除外
	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := rpc.NewClient(conn)

	_, err = client.Register(ctx, &spec)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+issued.Token)
	_, err = client.Register(authed, &spec)
	require.NoError(t, err)

	_, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	assert.NoError(t, err)
}
