// Package grpcapi exposes the dashboard snapshot over gRPC.  Messages are
// well-known protobuf types so no generated code is involved: requests are
// google.protobuf.Empty and snapshots are google.protobuf.Struct in the
// same shape as the JSON endpoint.
package grpcapi

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/wire"
)

const (
	ServiceName    = "lotgate.v1.Dashboard"
	SnapshotMethod = "/" + ServiceName + "/Snapshot"
	WatchMethod    = "/" + ServiceName + "/Watch"
)

// Dashboard is the snapshot source; *service.Monitor implements it.
type Dashboard interface {
	Current(ctx context.Context) (types.Snapshot, error)
	Subscribe(ctx context.Context) (string, <-chan types.Snapshot, func(), error)
}

// DashboardServer is the handler type registered under ServiceDesc.
type DashboardServer interface {
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DashboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "lotgate/v1/dashboard.proto",
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DashboardServer).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DashboardServer).Watch(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Service implements DashboardServer over a Dashboard.
type Service struct {
	dashboard Dashboard
	logger    *zap.Logger
}

func NewService(dashboard Dashboard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{dashboard: dashboard, logger: logger}
}

func (s *Service) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, err := s.dashboard.Current(ctx)
	if err != nil {
		return nil, s.unavailable(ctx, "snapshot failed", err)
	}
	st, err := wire.SnapshotToStruct(snap)
	if err != nil {
		s.logger.Error("snapshot encode failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "snapshot encode failed")
	}
	return st, nil
}

// Watch sends the current snapshot immediately and then one per ledger
// change.  A slow client misses intermediate snapshots rather than queueing
// them.
func (s *Service) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	id, updates, unsubscribe, err := s.dashboard.Subscribe(ctx)
	if err != nil {
		return s.unavailable(ctx, "subscribe failed", err)
	}
	defer unsubscribe()

	s.logger.Debug("watch opened", zap.String("subscriber", id))
	for snap := range updates {
		st, err := wire.SnapshotToStruct(snap)
		if err != nil {
			s.logger.Error("snapshot encode failed", zap.Error(err))
			return status.Error(codes.Internal, "snapshot encode failed")
		}
		if err := stream.Send(st); err != nil {
			return err
		}
	}
	s.logger.Debug("watch closed", zap.String("subscriber", id))

	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Unavailable, "dashboard stopped")
}

func (s *Service) unavailable(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if ctx.Err() != nil {
		return status.FromContextError(ctx.Err()).Err()
	}
	s.logger.Error(msg, zap.Error(err))
	return status.Error(codes.Unavailable, "ledger unavailable")
}
