package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"orchestrator-backend/pkg/types"
)

// ConfirmationError 路由需要确认，Decision 为候选决策
type ConfirmationError struct {
	Decision *types.RoutingDecision
	Reason   string
}

func (e *ConfirmationError) Error() string {
	return string(types.CodeConfirmationRequired) + ": " + e.Reason
}

// Is 让 errors.Is(err, types.ErrConfirmationRequired) 成立
func (e *ConfirmationError) Is(target error) bool {
	return target == types.ErrConfirmationRequired
}

// Client Orchestrator 服务的客户端
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 创建客户端
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...)
}

// Route 请求路由，需要确认时返回 *ConfirmationError
func (c *Client) Route(ctx context.Context, req *types.RouteRequest) (*types.RoutingDecision, error) {
	var (
		resp    types.RouteResponse
		trailer metadata.MD
	)
	if err := c.invoke(ctx, "Route", req, &resp, grpc.Trailer(&trailer)); err != nil {
		if status.Code(err) == codes.Aborted {
			ce := &ConfirmationError{Reason: status.Convert(err).Message()}
			if raw := trailer.Get(DecisionTrailer); len(raw) > 0 {
				var decision types.RoutingDecision
				if json.Unmarshal([]byte(raw[0]), &decision) == nil {
					ce.Decision = &decision
				}
			}
			return nil, ce
		}
		return nil, FromStatus(err)
	}
	return resp.Decision, nil
}

// Register 注册节点
func (c *Client) Register(ctx context.Context, spec *types.RegisterSpec) (*types.RegisterResponse, error) {
	var resp types.RegisterResponse
	if err := c.invoke(ctx, "Register", spec, &resp); err != nil {
		return nil, FromStatus(err)
	}
	return &resp, nil
}

// Heartbeat 发送心跳
func (c *Client) Heartbeat(ctx context.Context, nodeID string, hb types.Heartbeat) (*types.HeartbeatResponse, error) {
	var resp types.HeartbeatResponse
	req := &types.HeartbeatRequest{NodeID: nodeID, Heartbeat: hb}
	if err := c.invoke(ctx, "Heartbeat", req, &resp); err != nil {
		return nil, FromStatus(err)
	}
	return &resp, nil
}

// GetNode 查询节点
func (c *Client) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	var node types.Node
	if err := c.invoke(ctx, "GetNode", &types.GetNodeRequest{NodeID: nodeID}, &node); err != nil {
		return nil, FromStatus(err)
	}
	return &node, nil
}

// FromStatus 把 gRPC 状态还原为领域错误，其他状态原样返回
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for code, c := range codeToGRPC {
		if st.Code() == c {
			return &types.Error{Code: code, Message: st.Message()}
		}
	}
	return err
}
