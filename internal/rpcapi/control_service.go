package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ControlServiceServer is the loopback-only membership-mutation surface.
type ControlServiceServer interface {
	AddWorkers(context.Context, *AddWorkersRequest) (*Empty, error)
	RemoveWorkers(context.Context, *RemoveWorkersRequest) (*Empty, error)
}

// ControlServiceClient is the client side, used by the ctl CLI.
type ControlServiceClient interface {
	AddWorkers(ctx context.Context, in *AddWorkersRequest, opts ...grpc.CallOption) (*Empty, error)
	RemoveWorkers(ctx context.Context, in *RemoveWorkersRequest, opts ...grpc.CallOption) (*Empty, error)
}

type controlServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewControlServiceClient wraps a gRPC connection to the dispatcher's
// loopback control port.
func NewControlServiceClient(cc grpc.ClientConnInterface) ControlServiceClient {
	return &controlServiceClient{cc: cc}
}

func (c *controlServiceClient) AddWorkers(ctx context.Context, in *AddWorkersRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.cc.Invoke(ctx, "/rpcapi.ControlService/AddWorkers", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlServiceClient) RemoveWorkers(ctx context.Context, in *RemoveWorkersRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.cc.Invoke(ctx, "/rpcapi.ControlService/RemoveWorkers", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterControlServiceServer registers srv's control RPCs on s.
func RegisterControlServiceServer(s *grpc.Server, srv ControlServiceServer) {
	s.RegisterService(&controlServiceDesc, srv)
}

func controlServiceAddWorkersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddWorkersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).AddWorkers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcapi.ControlService/AddWorkers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).AddWorkers(ctx, req.(*AddWorkersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceRemoveWorkersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RemoveWorkersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).RemoveWorkers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcapi.ControlService/RemoveWorkers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).RemoveWorkers(ctx, req.(*RemoveWorkersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpcapi.ControlService",
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddWorkers", Handler: controlServiceAddWorkersHandler},
		{MethodName: "RemoveWorkers", Handler: controlServiceRemoveWorkersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcapi/control_service.go",
}
