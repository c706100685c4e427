package observability

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCHealthServer builds a gRPC server exposing only the standard health
// service, for orchestrators that probe over gRPC. The returned health
// server starts NOT_SERVING.
func NewGRPCHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptor()))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}
