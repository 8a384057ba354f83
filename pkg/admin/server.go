// Package admin exposes a bridge process to tooling: the standard gRPC health
// service on a unix socket next to the endpoints, and Prometheus metrics over
// HTTP.
package admin

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// SocketName is the admin socket's file name inside an endpoint base
// directory.
const SocketName = "admin.sock"

// Service is the health service name reporting the bridge's state.
const Service = "vstbridge.Bridge"

// SocketPath returns the admin socket for an endpoint base directory.
func SocketPath(baseDir string) string {
	return filepath.Join(baseDir, SocketName)
}

// Server serves gRPC health for one bridge.
type Server struct {
	logger *zap.Logger
	path   string
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener

	wg       sync.WaitGroup
	serveErr error
}

// Listen creates the admin socket in baseDir. Both the overall and the
// bridge service start as NOT_SERVING.
func Listen(baseDir string, logger *zap.Logger) (*Server, error) {
	path := SocketPath(baseDir)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale admin socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	logger = logger.Named("admin")
	opts := []grpc_zap.Option{
		grpc_zap.WithLevels(grpc_zap.DefaultCodeToLevel),
	}
	recoveryOpts := []grpc_recovery.Option{
		grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
			logger.Error("admin handler panicked", zap.Any("panic", p))
			return status.Errorf(codes.Internal, "%v", p)
		}),
	}
	s := &Server{
		logger: logger,
		path:   path,
		lis:    lis,
		health: health.NewServer(),
		grpc: grpc.NewServer(
			grpc_middleware.WithUnaryServerChain(
				grpc_ctxtags.UnaryServerInterceptor(grpc_ctxtags.WithFieldExtractor(grpc_ctxtags.CodeGenRequestFieldExtractor)),
				grpc_zap.UnaryServerInterceptor(logger, opts...),
				grpc_recovery.UnaryServerInterceptor(recoveryOpts...),
			),
			grpc_middleware.WithStreamServerChain(
				grpc_ctxtags.StreamServerInterceptor(grpc_ctxtags.WithFieldExtractor(grpc_ctxtags.CodeGenRequestFieldExtractor)),
				grpc_zap.StreamServerInterceptor(logger, opts...),
				grpc_recovery.StreamServerInterceptor(recoveryOpts...),
			),
		),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.serveErr = err
			logger.Error("admin server failed", zap.Error(err))
		}
	}()
	logger.Debug("listening", zap.String("path", path))
	return s, nil
}

// SetServing reports the bridge as started.
func (s *Server) SetServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)
}

// Close reports NOT_SERVING to watchers, stops the server and removes the
// socket.
func (s *Server) Close() error {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.wg.Wait()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(s.serveErr, err)
	}
	return s.serveErr
}
