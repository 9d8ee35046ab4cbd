package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/noriteio/norite/pkg/log"
	"github.com/noriteio/norite/pkg/types"
)

// Control-plane method names. Like the data-plane surface in
// pkg/connector, these are stable routing keys over the JSON codec, not
// generated stubs; requests are routed by full method name through the
// server's unknown-service handler.
const (
	methodPrefix = "/norite.control.v1.Control/"

	MethodProbe      = methodPrefix + "Probe"
	MethodRegister   = methodPrefix + "Register"
	MethodDeregister = methodPrefix + "Deregister"
	MethodGetNodes   = methodPrefix + "GetNodes"

	MethodCreatePool  = methodPrefix + "CreatePool"
	MethodDestroyPool = methodPrefix + "DestroyPool"
	MethodGetPools    = methodPrefix + "GetPools"

	MethodCreateReplica  = methodPrefix + "CreateReplica"
	MethodDestroyReplica = methodPrefix + "DestroyReplica"
	MethodShareReplica   = methodPrefix + "ShareReplica"
	MethodUnshareReplica = methodPrefix + "UnshareReplica"
	MethodGetReplicas    = methodPrefix + "GetReplicas"

	MethodCreateNexus   = methodPrefix + "CreateNexus"
	MethodDestroyNexus  = methodPrefix + "DestroyNexus"
	MethodShutdownNexus = methodPrefix + "ShutdownNexus"
	MethodShareNexus    = methodPrefix + "ShareNexus"
	MethodUnshareNexus  = methodPrefix + "UnshareNexus"
	MethodAddChild      = methodPrefix + "AddChild"
	MethodRemoveChild   = methodPrefix + "RemoveChild"
	MethodGetNexuses    = methodPrefix + "GetNexuses"

	MethodCreateVolume    = methodPrefix + "CreateVolume"
	MethodDestroyVolume   = methodPrefix + "DestroyVolume"
	MethodPublishVolume   = methodPrefix + "PublishVolume"
	MethodUnpublishVolume = methodPrefix + "UnpublishVolume"
	MethodGetVolumes      = methodPrefix + "GetVolumes"
)

// Wire-request shapes for methods whose dispatcher signature takes bare
// arguments.
type (
	// IDRequest addresses a node or pool by id.
	IDRequest struct {
		ID string `json:"id"`
	}
	// UUIDRequest addresses a replica, nexus, or volume by uuid.
	UUIDRequest struct {
		UUID string `json:"uuid"`
	}
	// ShareRequest shares a replica or nexus over a protocol.
	ShareRequest struct {
		UUID     string              `json:"uuid"`
		Protocol types.ShareProtocol `json:"protocol"`
	}
	// PublishRequest binds a volume to a nexus.
	PublishRequest struct {
		UUID    string `json:"uuid"`
		NexusID string `json:"nexus_id"`
	}
	// Empty is the zero-field request/response.
	Empty struct{}
)

// Server fronts a Dispatcher with a gRPC listener.
type Server struct {
	disp *Dispatcher
	grpc *grpc.Server
}

// NewServer builds a Server. A nil tlsConfig serves plaintext,
// appropriate only for local/test clusters.
func NewServer(disp *Dispatcher, tlsConfig *tls.Config) *Server {
	s := &Server{disp: disp}
	opts := []grpc.ServerOption{grpc.UnknownServiceHandler(s.route)}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	s.grpc = grpc.NewServer(opts...)
	return s
}

// Start binds addr and serves until Stop. A bind failure is returned
// synchronously so the caller can exit non-zero.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	logger := log.WithComponent("api")
	go func() {
		if err := s.grpc.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc serve stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("api server listening")
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// unary adapts a typed dispatcher call to the stream plumbing.
func unary[Req any, Resp any](stream grpc.ServerStream, fn func(context.Context, Req) (Resp, error)) error {
	var req Req
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	resp, err := fn(stream.Context(), req)
	if err != nil {
		return WireError(err)
	}
	return stream.SendMsg(&resp)
}

// route dispatches by full method name.
func (s *Server) route(srv interface{}, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}

	if mutating(method) && !s.authorized(stream.Context()) {
		return status.Error(codes.PermissionDenied, "host is not in the allowed set")
	}

	d := s.disp
	switch method {
	case MethodProbe:
		return unary(stream, func(ctx context.Context, _ Empty) (ProbeResponse, error) {
			return d.Probe(ctx)
		})
	case MethodRegister:
		return unary(stream, func(ctx context.Context, req RegisterRequest) (Empty, error) {
			return Empty{}, d.Register(ctx, req)
		})
	case MethodDeregister:
		return unary(stream, func(ctx context.Context, req IDRequest) (Empty, error) {
			return Empty{}, d.Deregister(ctx, req.ID)
		})
	case MethodGetNodes:
		return unary(stream, d.GetNodes)

	case MethodCreatePool:
		return unary(stream, d.CreatePool)
	case MethodDestroyPool:
		return unary(stream, func(ctx context.Context, req IDRequest) (Empty, error) {
			return Empty{}, d.DestroyPool(ctx, req.ID)
		})
	case MethodGetPools:
		return unary(stream, d.GetPools)

	case MethodCreateReplica:
		return unary(stream, d.CreateReplica)
	case MethodDestroyReplica:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (Empty, error) {
			return Empty{}, d.DestroyReplica(ctx, req.UUID)
		})
	case MethodShareReplica:
		return unary(stream, func(ctx context.Context, req ShareRequest) (types.ReplicaSpec, error) {
			return d.ShareReplica(ctx, req.UUID, req.Protocol)
		})
	case MethodUnshareReplica:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (types.ReplicaSpec, error) {
			return d.UnshareReplica(ctx, req.UUID)
		})
	case MethodGetReplicas:
		return unary(stream, d.GetReplicas)

	case MethodCreateNexus:
		return unary(stream, d.CreateNexus)
	case MethodDestroyNexus:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (Empty, error) {
			return Empty{}, d.DestroyNexus(ctx, req.UUID)
		})
	case MethodShutdownNexus:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (Empty, error) {
			return Empty{}, d.ShutdownNexus(ctx, req.UUID)
		})
	case MethodShareNexus:
		return unary(stream, func(ctx context.Context, req ShareRequest) (types.NexusSpec, error) {
			return d.ShareNexus(ctx, req.UUID, req.Protocol)
		})
	case MethodUnshareNexus:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (types.NexusSpec, error) {
			return d.UnshareNexus(ctx, req.UUID)
		})
	case MethodAddChild:
		return unary(stream, d.AddChild)
	case MethodRemoveChild:
		return unary(stream, d.RemoveChild)
	case MethodGetNexuses:
		return unary(stream, d.GetNexuses)

	case MethodCreateVolume:
		return unary(stream, d.CreateVolume)
	case MethodDestroyVolume:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (Empty, error) {
			return Empty{}, d.DestroyVolume(ctx, req.UUID)
		})
	case MethodPublishVolume:
		return unary(stream, func(ctx context.Context, req PublishRequest) (types.VolumeSpec, error) {
			return d.PublishVolume(ctx, req.UUID, req.NexusID)
		})
	case MethodUnpublishVolume:
		return unary(stream, func(ctx context.Context, req UUIDRequest) (types.VolumeSpec, error) {
			return d.UnpublishVolume(ctx, req.UUID)
		})
	case MethodGetVolumes:
		return unary(stream, d.GetVolumes)

	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

// mutating reports whether a method changes state (reads and the probe
// bypass the hosts ACL).
func mutating(method string) bool {
	switch method {
	case MethodProbe, MethodGetNodes, MethodGetPools, MethodGetReplicas, MethodGetNexuses, MethodGetVolumes:
		return false
	default:
		return true
	}
}

func (s *Server) authorized(ctx context.Context) bool {
	if len(s.disp.cfg.AllowedHosts) == 0 {
		return true
	}
	p, ok := peer.FromContext(ctx)
	if !ok {
		return false
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		host = p.Addr.String()
	}
	return s.disp.Authorized(host)
}
