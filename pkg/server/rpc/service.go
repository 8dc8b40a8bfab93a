package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"orchestrator-backend/pkg/registry"
	"orchestrator-backend/pkg/routing"
	"orchestrator-backend/pkg/types"
)

const (
	// ServiceName gRPC 服务全名
	ServiceName = "orchestrator.v1.Orchestrator"

	// DecisionTrailer 需要确认时携带候选决策的 trailer，-bin 后缀允许任意字节
	DecisionTrailer = "x-routing-decision-bin"
)

// OrchestratorServer gRPC 服务端接口
type OrchestratorServer interface {
	Route(context.Context, *types.RouteRequest) (*types.RouteResponse, error)
	Register(context.Context, *types.RegisterSpec) (*types.RegisterResponse, error)
	Heartbeat(context.Context, *types.HeartbeatRequest) (*types.HeartbeatResponse, error)
	GetNode(context.Context, *types.GetNodeRequest) (*types.Node, error)
}

// Service 节点侧与编排层使用的 gRPC 接口
type Service struct {
	registry *registry.Registry
	router   *routing.Router
	logger   zerolog.Logger
}

// NewService 创建 gRPC 服务实例
func NewService(reg *registry.Registry, router *routing.Router, logger zerolog.Logger) *Service {
	return &Service{
		registry: reg,
		router:   router,
		logger:   logger.With().Str("service", "grpc").Logger(),
	}
}

// RegisterGRPC 注册到 gRPC 服务器
func (s *Service) RegisterGRPC(server grpc.ServiceRegistrar) {
	server.RegisterService(&ServiceDesc, s)
}

// Route 需要确认且未确认时返回 Aborted，决策放在 trailer 中
func (s *Service) Route(ctx context.Context, req *types.RouteRequest) (*types.RouteResponse, error) {
	decision, err := s.router.Route(ctx, req.Capability, req.RequestContext)
	if err != nil {
		return nil, s.toStatus(err)
	}
	if decision.RequiresConfirmation && !req.Confirmed {
		if raw, err := json.Marshal(decision); err == nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(DecisionTrailer, string(raw)))
		}
		return nil, status.Error(codes.Aborted, decision.Reason)
	}
	return &types.RouteResponse{Decision: decision}, nil
}

// Register 注册节点
func (s *Service) Register(ctx context.Context, req *types.RegisterSpec) (*types.RegisterResponse, error) {
	node, created, err := s.registry.Register(ctx, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	message := "Device re-registered"
	if created {
		message = "Device registered"
	}
	return &types.RegisterResponse{Success: true, DeviceID: node.ID, Message: message, Created: created}, nil
}

// Heartbeat 更新节点存活状态
func (s *Service) Heartbeat(ctx context.Context, req *types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	node, err := s.registry.Heartbeat(ctx, req.NodeID, &req.Heartbeat)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &types.HeartbeatResponse{Success: true, DeviceID: node.ID, Status: node.Status, LastSeen: node.LastSeen}, nil
}

// GetNode 查询节点
func (s *Service) GetNode(ctx context.Context, req *types.GetNodeRequest) (*types.Node, error) {
	node, err := s.registry.Get(ctx, req.NodeID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return node, nil
}

var codeToGRPC = map[types.ErrorCode]codes.Code{
	types.CodeValidation:           codes.InvalidArgument,
	types.CodeNotFound:             codes.NotFound,
	types.CodeNoCapableDevice:      codes.FailedPrecondition,
	types.CodeConfirmationRequired: codes.Aborted,
}

// toStatus 领域错误转换为 gRPC 状态，其他错误一律 Unavailable
func (s *Service) toStatus(err error) error {
	code := types.CodeOf(err)
	if c, ok := codeToGRPC[code]; ok {
		return status.Error(c, types.MessageOf(err))
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	s.logger.Error().Err(err).Msg("Request failed")
	return status.Error(codes.Unavailable, "storage unavailable, retry later")
}

func routeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.RouteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestratorServer).Route(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Route"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrchestratorServer).Route(ctx, req.(*types.RouteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.RegisterSpec)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestratorServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Register"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrchestratorServer).Register(ctx, req.(*types.RegisterSpec))
	}
	return interceptor(ctx, in, info, handler)
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestratorServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Heartbeat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrchestratorServer).Heartbeat(ctx, req.(*types.HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getNodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.GetNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestratorServer).GetNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrchestratorServer).GetNode(ctx, req.(*types.GetNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc 手写的服务描述，消息使用 JSON 编码
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchestratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Route", Handler: routeHandler},
		{MethodName: "Register", Handler: registerHandler},
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "GetNode", Handler: getNodeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orchestrator/v1/orchestrator.json",
}
