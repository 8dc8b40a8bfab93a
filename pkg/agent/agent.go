package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/server/rpc"
	"orchestrator-backend/pkg/types"
)

// Agent 运行在节点上，负责注册和定期心跳
type Agent struct {
	config *config.AgentConfig
	logger zerolog.Logger

	// gRPC连接
	conn   *grpc.ClientConn
	client *rpc.Client

	// 节点状态
	mu     sync.Mutex
	nodeID string
	name   string
	lastIP string

	// 控制
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建新的Agent实例
func New(cfg *config.AgentConfig, logger zerolog.Logger) (*Agent, error) {
	conn, err := dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	a := newAgent(cfg, logger, conn)
	a.conn = conn
	return a, nil
}

func newAgent(cfg *config.AgentConfig, logger zerolog.Logger, cc grpc.ClientConnInterface) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		config: cfg,
		logger: logger.With().Str("component", "agent").Logger(),
		client: rpc.NewClient(cc),
		name:   cfg.Node.Name,
		lastIP: cfg.Network.LastIP,
		ctx:    ctx,
		cancel: cancel,
	}

	// 配置未指定时从主机信息补全
	if a.name == "" {
		if info, err := host.Info(); err == nil {
			a.name = info.Hostname
		} else {
			a.logger.Warn().Err(err).Msg("Failed to read hostname")
		}
	}
	if a.lastIP == "" {
		a.lastIP = localIP()
	}
	return a
}

// NodeID 服务端分配或确认的节点ID
func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeID
}

// Start 注册节点并启动心跳
func (a *Agent) Start() error {
	if err := a.register(a.ctx); err != nil {
		return fmt.Errorf("registering node: %w", err)
	}

	a.wg.Add(1)
	go a.heartbeatLoop()
	return nil
}

// Stop 停止心跳并上报离线
func (a *Agent) Stop() error {
	a.cancel()
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.Timeout)
	defer cancel()
	if _, err := a.client.Heartbeat(ctx, a.NodeID(), types.Heartbeat{Status: types.NodeStatusOffline}); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to report offline status")
	} else {
		a.logger.Info().Str("node_id", a.NodeID()).Msg("Reported offline")
	}

	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Runtime.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if err := a.heartbeat(a.ctx); err != nil && a.ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

// heartbeat 发送在线心跳，服务端不认识该节点时重新注册
func (a *Agent) heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Server.Timeout)
	defer cancel()

	_, err := a.client.Heartbeat(ctx, a.NodeID(), types.Heartbeat{
		Status: types.NodeStatusOnline,
		Lat:    a.config.Network.Lat,
		Lon:    a.config.Network.Lon,
		LastIP: a.lastIP,
	})
	if errors.Is(err, types.ErrNotFound) {
		a.logger.Info().Str("node_id", a.NodeID()).Msg("Node not registered, attempting to re-register")
		return a.register(ctx)
	}
	return err
}

func (a *Agent) register(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Server.Timeout)
	defer cancel()

	resp, err := a.client.Register(ctx, a.registerSpec())
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("registration failed: %s", resp.Message)
	}

	a.mu.Lock()
	a.nodeID = resp.DeviceID
	a.mu.Unlock()

	a.logger.Info().
		Str("node_id", resp.DeviceID).
		Str("name", a.name).
		Bool("created", resp.Created).
		Msg("Node registered")
	return nil
}

func (a *Agent) registerSpec() *types.RegisterSpec {
	spec := &types.RegisterSpec{
		ID:          a.config.Node.ID,
		Name:        a.name,
		Type:        types.NodeType(a.config.Node.Type),
		NetworkID:   a.config.Network.ID,
		NetworkType: types.NetworkType(a.config.Network.Type),
		Lat:         a.config.Network.Lat,
		Lon:         a.config.Network.Lon,
		LastIP:      a.lastIP,
	}
	// 重新注册时沿用服务端分配的ID，避免同名节点被拆成两个
	if spec.ID == "" {
		spec.ID = a.NodeID()
	}
	for _, c := range a.config.Capabilities {
		spec.Capabilities = append(spec.Capabilities, types.CapabilitySpec{
			Name:        c.Name,
			Description: c.Description,
			Metadata:    c.Metadata,
		})
	}
	return spec
}

// dial 创建到服务端的 gRPC 连接，连接在首次调用时建立
func dial(cfg *config.AgentConfig) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultServiceConfig(`{
			"methodConfig": [{
				"name": [{"service": "` + rpc.ServiceName + `"}],
				"retryPolicy": {
					"MaxAttempts": 5,
					"InitialBackoff": "0.1s",
					"MaxBackoff": "5s",
					"BackoffMultiplier": 2.0,
					"RetryableStatusCodes": ["UNAVAILABLE"]
				}
			}]
		}`),
	}

	if cfg.Server.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.Server.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerToken{token: cfg.Server.Token, secure: cfg.Server.TLS}))
	}

	return grpc.NewClient(cfg.Server.Address, opts...)
}

// bearerToken 在每次调用时附带运维令牌
type bearerToken struct {
	token  string
	secure bool
}

func (b bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerToken) RequireTransportSecurity() bool {
	return b.secure
}

// localIP 返回第一个启用的非回环 IPv4 地址
func localIP() string {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return ""
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
