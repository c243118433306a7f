package telemetry

import (
	"strings"

	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"

	"enginesound/server/internal/logging"
)

// NewServer builds a gRPC server exposing service. A non-empty secret enables the shared-secret
// interceptors on both streaming and unary calls. Clients may request gzip compression.
func NewServer(service *Service, secret string, logger *logging.Logger) *grpc.Server {
	if logger == nil {
		logger = logging.L()
	}
	var opts []grpc.ServerOption
	if strings.TrimSpace(secret) != "" {
		opts = append(opts,
			grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(secret)),
			grpc.ChainUnaryInterceptor(newSharedSecretUnaryInterceptor(secret)),
		)
		logger.Info("gRPC shared-secret authentication enabled")
	} else {
		logger.Warn("gRPC telemetry running without authentication")
	}
	server := grpc.NewServer(opts...)
	Register(server, service)
	return server
}
