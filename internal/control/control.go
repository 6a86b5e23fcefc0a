// Package control implements the loopback-only membership-mutation
// surface spec.md §4.4 requires: add/remove workers, reachable only from
// 127.0.0.0/8 or ::1.
//
// The peer-address-gating interceptor is grounded on cuemby-warren's
// pkg/api/interceptor.go ReadOnlyInterceptor, which rejects gRPC calls
// based on a property of the caller rather than payload validation; here
// the gate is the caller's network address instead of the method name.
package control

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/cuemby/dispatcher/internal/logging"
	"github.com/cuemby/dispatcher/internal/pool"
	"github.com/cuemby/dispatcher/internal/rpcapi"
	"github.com/cuemby/dispatcher/internal/scheduler"
)

// LoopbackOnlyInterceptor rejects any unary call whose peer address is not
// loopback (127.0.0.0/8 or ::1). The control port must never be reachable
// from a remote address, per spec.md §4.4.
func LoopbackOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !isLoopbackCaller(ctx) {
			return nil, status.Errorf(codes.PermissionDenied, "control service only accepts loopback connections")
		}
		return handler(ctx, req)
	}
}

func isLoopbackCaller(ctx context.Context) bool {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return false
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		host = p.Addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// Service implements rpcapi.ControlServiceServer over a pool.Pool.
type Service struct {
	pool             *pool.Pool
	scheduler        *scheduler.Scheduler
	bestEffortRemove bool
	log              *logging.Logger
}

// New constructs a control Service. bestEffortRemove selects spec.md §9's
// alternate removal policy (drop immediately, interrupting any in-flight
// request) instead of the default tombstoning behavior.
func New(p *pool.Pool, s *scheduler.Scheduler, bestEffortRemove bool, log *logging.Logger) *Service {
	return &Service{pool: p, scheduler: s, bestEffortRemove: bestEffortRemove, log: log.WithComponent("control")}
}

func (s *Service) AddWorkers(ctx context.Context, req *rpcapi.AddWorkersRequest) (*rpcapi.Empty, error) {
	for _, addr := range req.Addresses {
		if addr == "" {
			return nil, status.Errorf(codes.InvalidArgument, "empty worker address")
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "malformed worker address %q: %v", addr, err)
		}
		if _, added := s.pool.Insert(addr); added {
			s.log.InfoContext(ctx, "worker added", "worker_address", addr)
		}
	}
	s.scheduler.NotifyPoolChanged()
	return &rpcapi.Empty{}, nil
}

func (s *Service) RemoveWorkers(ctx context.Context, req *rpcapi.RemoveWorkersRequest) (*rpcapi.Empty, error) {
	for _, addr := range req.Addresses {
		var removed bool
		if s.bestEffortRemove {
			removed = s.pool.ForceRemove(addr)
		} else {
			removed = s.pool.Tombstone(addr)
		}
		// Missing addresses are ignored silently; removal is idempotent.
		if removed {
			s.log.InfoContext(ctx, "worker removal requested", "worker_address", addr, "best_effort", s.bestEffortRemove)
		}
	}
	s.scheduler.NotifyPoolChanged()
	return &rpcapi.Empty{}, nil
}

// NewServer constructs a *grpc.Server carrying the loopback interceptor
// and the registered control service, ready to Serve on the control port.
func NewServer(svc *Service) *grpc.Server {
	srv := grpc.NewServer(
		rpcapi.ServerOption(),
		grpc.UnaryInterceptor(LoopbackOnlyInterceptor()),
	)
	rpcapi.RegisterControlServiceServer(srv, svc)
	return srv
}
