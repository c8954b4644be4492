package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type Dependencies struct {
	Logger    *zap.Logger
	Addr      string
	Dashboard Dashboard
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
	addr       string
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLogging(d.Logger)),
		grpc.ChainStreamInterceptor(streamLogging(d.Logger)),
	)
	gs.RegisterService(&ServiceDesc, NewService(d.Dashboard, d.Logger))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpcServer: gs, health: hs, logger: d.Logger, addr: d.Addr}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Shutdown marks the server NOT_SERVING and drains open calls.  Watch
// streams never finish on their own, so the drain is cut short when ctx
// ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

func unaryLogging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("dur", time.Since(start)),
		)
		return resp, err
	}
}

func streamLogging(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logger.Info("grpc stream",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("dur", time.Since(start)),
		)
		return err
	}
}
