package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/registry"
	"orchestrator-backend/pkg/routing"
	"orchestrator-backend/pkg/server/middleware"
	"orchestrator-backend/pkg/server/rpc"
	"orchestrator-backend/pkg/server/services"
	"orchestrator-backend/pkg/store"
)

// Server 编排服务，HTTP 与 gRPC 共用一个端口
type Server struct {
	config *config.ServerConfig
	logger zerolog.Logger
	store  store.Store

	// 领域组件
	registry *registry.Registry
	router   *routing.Router
	sweeper  *registry.Sweeper
	auth     *middleware.Authenticator

	// 服务器实例
	listener   net.Listener
	mux        cmux.CMux
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New 创建服务器实例
func New(cfg *config.ServerConfig, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}

	// 创建存储实例
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	s.store = st

	// 创建领域组件
	catalog := registry.NewCatalog(cfg.Registry.Capabilities, cfg.Registry.StrictCapabilities)
	s.registry = registry.New(st, catalog, logger)
	s.router = routing.NewRouter(s.registry, routing.Config{
		NearKm:    cfg.Routing.NearKm,
		NearbyKm:  cfg.Routing.NearbyKm,
		ConfirmKm: cfg.Routing.ConfirmKm,
	}, logger)
	if cfg.Registry.StaleAfter > 0 {
		s.sweeper = registry.NewSweeper(st, cfg.Registry.StaleAfter, cfg.Registry.SweepInterval, logger)
	}

	// 创建gRPC服务器
	grpcServer, err := s.newGRPCServer()
	if err != nil {
		st.Close()
		return nil, err
	}
	s.grpcServer = grpcServer

	s.httpServer = &http.Server{
		Handler:           s.newEngine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 创建基础TCP监听器
	listener, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating listener: %w", err)
	}
	s.listener = listener
	s.mux = cmux.New(listener)

	return s, nil
}

// openStore 按配置创建存储，启用 Redis 时包一层能力索引缓存
func (s *Server) openStore() (store.Store, error) {
	cfg := s.config
	st, err := store.NewStore(&store.Config{
		Type: cfg.Storage.Type,
		SQLite: store.SQLiteConfig{
			Path:            cfg.Storage.SQLite.Path,
			MaxOpenConns:    cfg.Storage.SQLite.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.SQLite.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.SQLite.ConnMaxLifetime,
		},
		Postgres: store.PostgresConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			DBName:   cfg.Storage.Postgres.DBName,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if !cfg.Cache.Redis.Enabled {
		return st, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Address,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	cached := store.NewCachedStore(st, client, cfg.Cache.Redis.KeyPrefix, s.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).
			Str("address", cfg.Cache.Redis.Address).
			Msg("Redis unavailable, running without cache until it recovers")
		return cached, nil
	}
	if err := cached.Sync(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to sync capability index to redis")
	}
	return cached, nil
}

func (s *Server) newGRPCServer() (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if s.config.Server.TLS.Enabled {
		creds, err := credentials.NewServerTLSFromFile(s.config.Server.TLS.Cert, s.config.Server.TLS.Key)
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	opts = append(opts,
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           5 * time.Second,
		}),
	)

	if s.config.Auth.Enabled {
		opts = append(opts, grpc.ChainUnaryInterceptor(s.authenticator().UnaryServerInterceptor()))
	}

	grpcServer := grpc.NewServer(opts...)

	// 注册服务
	rpc.NewService(s.registry, s.router, s.logger).RegisterGRPC(grpcServer)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, s.health)
	reflection.Register(grpcServer)

	return grpcServer, nil
}

// newEngine 注册 REST 路由，启用认证时 /v1 下除换取令牌外都需要 Bearer 令牌
func (s *Server) newEngine() *gin.Engine {
	if !s.config.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(s.logger))

	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/v1")
	protected := api.Group("")
	if s.config.Auth.Enabled {
		auth := s.authenticator()
		services.NewAuthService(auth, s.config.Auth.APIKeys, s.config.Auth.TokenTTL, s.logger).RegisterRoutes(api)
		protected.Use(auth.Require())
	}

	services.NewNodeService(s.registry, s.logger).RegisterRoutes(protected)
	services.NewRouteService(s.router, s.logger).RegisterRoutes(protected)
	services.NewStatusService(s.registry, s.logger).RegisterRoutes(protected)

	return engine
}

func (s *Server) authenticator() *middleware.Authenticator {
	if s.auth == nil {
		s.auth = middleware.NewAuthenticator(s.config.Auth.JWTSecret, s.config.Auth.Issuer, s.logger)
	}
	return s.auth
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Handler 返回 REST 处理器
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 启动服务器
func (s *Server) Start() error {
	// HTTP/1 走 REST，其余 HTTP/2 连接交给 gRPC（含 application/grpc+json）
	httpL := s.mux.Match(cmux.HTTP1Fast())
	grpcL := s.mux.Match(cmux.HTTP2())

	// 启动 gRPC 服务器
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(grpcL); err != nil && !errors.Is(err, cmux.ErrListenerClosed) {
			s.logger.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// 启动 HTTP 服务器
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(httpL); err != nil && err != http.ErrServerClosed && !errors.Is(err, cmux.ErrListenerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// 启动 cmux
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.mux.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error().Err(err).Msg("cmux server error")
		}
	}()

	if s.sweeper != nil {
		s.sweeper.Start()
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.logger.Info().
		Str("address", s.listener.Addr().String()).
		Str("storage", s.config.Storage.Type).
		Bool("redis", s.config.Cache.Redis.Enabled).
		Bool("tls", s.config.Server.TLS.Enabled).
		Bool("auth", s.config.Auth.Enabled).
		Dur("stale_after", s.config.Registry.StaleAfter).
		Msg("Server started")

	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	s.health.Shutdown()

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	// 优雅关闭 HTTP 服务器
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// 优雅关闭 gRPC 服务器
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	// 关闭监听器
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Error().Err(err).Msg("Error closing listener")
	}

	// 等待所有服务停止
	s.wg.Wait()

	// 关闭存储
	if err := s.store.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing store")
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}
