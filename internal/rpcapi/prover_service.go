package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ProverServiceServer is implemented both by the dispatcher itself (serving
// the public-facing proving RPCs) and, conceptually, by a worker process
// (which the dispatcher only ever calls, never implements in this repo).
type ProverServiceServer interface {
	ProveTransaction(context.Context, *TxWitness) (*TxProof, error)
	ProveBatch(context.Context, *ProposedBatch) (*BatchProof, error)
	ProveBlock(context.Context, *ProposedBlock) (*BlockProof, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// ProverServiceClient is the client side of ProverServiceServer, used by
// the dispatcher to forward requests to a worker and to probe its status.
type ProverServiceClient interface {
	ProveTransaction(ctx context.Context, in *TxWitness, opts ...grpc.CallOption) (*TxProof, error)
	ProveBatch(ctx context.Context, in *ProposedBatch, opts ...grpc.CallOption) (*BatchProof, error)
	ProveBlock(ctx context.Context, in *ProposedBlock, opts ...grpc.CallOption) (*BlockProof, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type proverServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProverServiceClient wraps a gRPC connection to a worker (or, in tests,
// to the dispatcher's own public listener) as a ProverServiceClient. The
// JSON codec is forced per-call so neither side needs proto.Message.
func NewProverServiceClient(cc grpc.ClientConnInterface) ProverServiceClient {
	return &proverServiceClient{cc: cc}
}

func (c *proverServiceClient) ProveTransaction(ctx context.Context, in *TxWitness, opts ...grpc.CallOption) (*TxProof, error) {
	out := new(TxProof)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.cc.Invoke(ctx, "/rpcapi.ProverService/ProveTransaction", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *proverServiceClient) ProveBatch(ctx context.Context, in *ProposedBatch, opts ...grpc.CallOption) (*BatchProof, error) {
	out := new(BatchProof)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.cc.Invoke(ctx, "/rpcapi.ProverService/ProveBatch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *proverServiceClient) ProveBlock(ctx context.Context, in *ProposedBlock, opts ...grpc.CallOption) (*BlockProof, error) {
	out := new(BlockProof)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.cc.Invoke(ctx, "/rpcapi.ProverService/ProveBlock", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *proverServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.cc.Invoke(ctx, "/rpcapi.ProverService/Status", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterProverServiceServer registers srv's proving RPCs on s. It does
// not choose a codec: s uses the JSON codec for every method only if it
// was built with ServerOption, otherwise the codec follows the caller's
// content-subtype.
func RegisterProverServiceServer(s *grpc.Server, srv ProverServiceServer) {
	s.RegisterService(&proverServiceDesc, srv)
}

func proverServiceProveTransactionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TxWitness)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProverServiceServer).ProveTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcapi.ProverService/ProveTransaction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProverServiceServer).ProveTransaction(ctx, req.(*TxWitness))
	}
	return interceptor(ctx, in, info, handler)
}

func proverServiceProveBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ProposedBatch)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProverServiceServer).ProveBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcapi.ProverService/ProveBatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProverServiceServer).ProveBatch(ctx, req.(*ProposedBatch))
	}
	return interceptor(ctx, in, info, handler)
}

func proverServiceProveBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ProposedBlock)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProverServiceServer).ProveBlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcapi.ProverService/ProveBlock"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProverServiceServer).ProveBlock(ctx, req.(*ProposedBlock))
	}
	return interceptor(ctx, in, info, handler)
}

func proverServiceStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProverServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpcapi.ProverService/Status"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProverServiceServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var proverServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpcapi.ProverService",
	HandlerType: (*ProverServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProveTransaction", Handler: proverServiceProveTransactionHandler},
		{MethodName: "ProveBatch", Handler: proverServiceProveBatchHandler},
		{MethodName: "ProveBlock", Handler: proverServiceProveBlockHandler},
		{MethodName: "Status", Handler: proverServiceStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcapi/prover_service.go",
}
