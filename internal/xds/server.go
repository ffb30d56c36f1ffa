// Package xds implements the streaming gRPC core of SPEC_FULL.md §4.5: the
// Aggregated Discovery Service plus the per-type LDS/RDS/CDS/EDS/SDS
// services, each in both State-of-the-World and Delta flavors, backed by
// internal/cache and internal/store.
//
// Unlike the teacher's xDS layer, which wired Envoy's own
// pkg/server/v3.Server (a generic SnapshotCache-driven implementation)
// straight onto a process-global registry, the control-plane semantics
// here — per-team cache slots, synchronous NACK persistence, explicit
// CDS→EDS→LDS→RDS→SDS push ordering, coalesced-bump flow control — need a
// hand-rolled session per stream. The six gRPC service interfaces are
// still registered the way the teacher registered its one ADS service; the
// session loop underneath is new.
package xds

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	clusterservice "github.com/envoyproxy/go-control-plane/envoy/service/cluster/v3"
	discoverygrpc "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	endpointservice "github.com/envoyproxy/go-control-plane/envoy/service/endpoint/v3"
	listenerservice "github.com/envoyproxy/go-control-plane/envoy/service/listener/v3"
	routeservice "github.com/envoyproxy/go-control-plane/envoy/service/route/v3"
	secretservice "github.com/envoyproxy/go-control-plane/envoy/service/secret/v3"
	resourcev3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/rajeevramani/flowplane/internal/cache"
	"github.com/rajeevramani/flowplane/internal/config"
	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

// Server implements every xDS gRPC surface of SPEC_FULL.md §4.5 over one
// shared cache and NACK repository.
type Server struct {
	cache *cache.Cache
	nacks *store.NackRepository
	cfg   *config.Config
	log   *zap.SugaredLogger
}

// NewServer builds an xDS server reading from cache and writing rejected
// updates through nacks.
func NewServer(c *cache.Cache, nacks *store.NackRepository, cfg *config.Config, log *zap.Logger) *Server {
	return &Server{cache: c, nacks: nacks, cfg: cfg, log: log.Named("xds").Sugar()}
}

// recordNack persists a rejected update synchronously, per SPEC_FULL.md §6
// "NACK observability" and §4.5's "ACK/NACK state persisted synchronously
// on receipt, so they survive cancellation."
func (s *Server) recordNack(team, nodeID, typeURL, rejectedVersion, nonce string, code int32, message string, resourceNames []string) {
	_, err := s.nacks.Record(context.Background(), model.NackEvent{
		TeamID:            team,
		DataplaneName:     nodeID,
		TypeURL:           typeURL,
		RejectedVersion:   rejectedVersion,
		Nonce:             nonce,
		ErrorCode:         code,
		ErrorMessage:      message,
		NodeID:            nodeID,
		RejectedResources: resourceNames,
	})
	if err != nil {
		s.log.Errorw("failed to persist NACK event", "team", team, "type", typeURL, "node", nodeID, "error", err)
	}
}

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", errs.Transport, err)
}

// --- Aggregated Discovery Service ---

func (s *Server) StreamAggregatedResources(stream discoverygrpc.AggregatedDiscoveryService_StreamAggregatedResourcesServer) error {
	return newSotwSession(s, stream, nil).run()
}

func (s *Server) DeltaAggregatedResources(stream discoverygrpc.AggregatedDiscoveryService_DeltaAggregatedResourcesServer) error {
	return newDeltaSession(s, stream, nil).run()
}

// --- Cluster Discovery Service ---

func (s *Server) StreamClusters(stream clusterservice.ClusterDiscoveryService_StreamClustersServer) error {
	return newSotwSession(s, stream, []string{resourcev3.ClusterType}).run()
}

func (s *Server) DeltaClusters(stream clusterservice.ClusterDiscoveryService_DeltaClustersServer) error {
	return newDeltaSession(s, stream, []string{resourcev3.ClusterType}).run()
}

func (s *Server) FetchClusters(context.Context, *discoverygrpc.DiscoveryRequest) (*discoverygrpc.DiscoveryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "fetch-based xDS is not supported; use streaming ADS or per-type streams")
}

// --- Endpoint Discovery Service ---

func (s *Server) StreamEndpoints(stream endpointservice.EndpointDiscoveryService_StreamEndpointsServer) error {
	return newSotwSession(s, stream, []string{resourcev3.EndpointType}).run()
}

func (s *Server) DeltaEndpoints(stream endpointservice.EndpointDiscoveryService_DeltaEndpointsServer) error {
	return newDeltaSession(s, stream, []string{resourcev3.EndpointType}).run()
}

func (s *Server) FetchEndpoints(context.Context, *discoverygrpc.DiscoveryRequest) (*discoverygrpc.DiscoveryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "fetch-based xDS is not supported; use streaming ADS or per-type streams")
}

// --- Listener Discovery Service ---

func (s *Server) StreamListeners(stream listenerservice.ListenerDiscoveryService_StreamListenersServer) error {
	return newSotwSession(s, stream, []string{resourcev3.ListenerType}).run()
}

func (s *Server) DeltaListeners(stream listenerservice.ListenerDiscoveryService_DeltaListenersServer) error {
	return newDeltaSession(s, stream, []string{resourcev3.ListenerType}).run()
}

func (s *Server) FetchListeners(context.Context, *discoverygrpc.DiscoveryRequest) (*discoverygrpc.DiscoveryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "fetch-based xDS is not supported; use streaming ADS or per-type streams")
}

// --- Route Discovery Service ---

func (s *Server) StreamRoutes(stream routeservice.RouteDiscoveryService_StreamRoutesServer) error {
	return newSotwSession(s, stream, []string{resourcev3.RouteType}).run()
}

func (s *Server) DeltaRoutes(stream routeservice.RouteDiscoveryService_DeltaRoutesServer) error {
	return newDeltaSession(s, stream, []string{resourcev3.RouteType}).run()
}

func (s *Server) FetchRoutes(context.Context, *discoverygrpc.DiscoveryRequest) (*discoverygrpc.DiscoveryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "fetch-based xDS is not supported; use streaming ADS or per-type streams")
}

// --- Secret Discovery Service ---

func (s *Server) StreamSecrets(stream secretservice.SecretDiscoveryService_StreamSecretsServer) error {
	return newSotwSession(s, stream, []string{resourcev3.SecretType}).run()
}

func (s *Server) DeltaSecrets(stream secretservice.SecretDiscoveryService_DeltaSecretsServer) error {
	return newDeltaSession(s, stream, []string{resourcev3.SecretType}).run()
}

func (s *Server) FetchSecrets(context.Context, *discoverygrpc.DiscoveryRequest) (*discoverygrpc.DiscoveryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "fetch-based xDS is not supported; use streaming ADS or per-type streams")
}

// --- Transport wiring ---

// Serve builds the gRPC transport (plaintext, TLS, or mTLS per cfg) and
// serves every registered xDS service on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	opts, err := s.serverOptions()
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer(opts...)

	discoverygrpc.RegisterAggregatedDiscoveryServiceServer(grpcServer, s)
	clusterservice.RegisterClusterDiscoveryServiceServer(grpcServer, s)
	endpointservice.RegisterEndpointDiscoveryServiceServer(grpcServer, s)
	listenerservice.RegisterListenerDiscoveryServiceServer(grpcServer, s)
	routeservice.RegisterRouteDiscoveryServiceServer(grpcServer, s)
	secretservice.RegisterSecretDiscoveryServiceServer(grpcServer, s)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listening on %s: %v", errs.Backend, addr, err)
	}

	s.log.Infow("xDS server listening", "addr", addr, "mtls", s.cfg.MTLSEnabled(), "tls", s.cfg.TLSEnabled())

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down xDS server")
		grpcServer.GracefulStop()
	}()

	return grpcServer.Serve(lis)
}

// serverOptions builds plaintext, TLS, or mTLS transport credentials per
// SPEC_FULL.md §6: mTLS requires a client certificate and rejects the
// stream before any per-stream state is ever allocated.
func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	if !s.cfg.TLSEnabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading xDS server certificate: %v", errs.Backend, err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if s.cfg.MTLSEnabled() {
		caPEM, err := os.ReadFile(s.cfg.TLSClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading client CA file: %v", errs.Backend, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: client CA file contains no usable certificates", errs.Validation)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return []grpc.ServerOption{grpc.Creds(credentials.NewTLS(tlsCfg))}, nil
}
