/*
Package connector implements the NodeConnector abstraction: the
control plane's only outbound channel to a data-plane node.

Connections are pooled per endpoint and dialed lazily. Calls are
routed by full method name and JSON-encoded through a custom grpc
codec (jsonCodec) rather than generated protobuf stubs; the data-plane
service definition lives with the node agent, not here.
*/
package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/noriteio/norite/pkg/errs"
	"github.com/noriteio/norite/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Data-plane method names, one per typed operation on the outbound
// surface. The full method string exists as a stable routing key
// between this connector and the node agent's gRPC handler.
const (
	MethodCreatePool     = "/norite.dataplane.v1.DataPlane/CreatePool"
	MethodDestroyPool    = "/norite.dataplane.v1.DataPlane/DestroyPool"
	MethodCreateReplica  = "/norite.dataplane.v1.DataPlane/CreateReplica"
	MethodDestroyReplica = "/norite.dataplane.v1.DataPlane/DestroyReplica"
	MethodShareReplica   = "/norite.dataplane.v1.DataPlane/ShareReplica"
	MethodUnshareReplica = "/norite.dataplane.v1.DataPlane/UnshareReplica"
	MethodCreateNexus    = "/norite.dataplane.v1.DataPlane/CreateNexus"
	MethodDestroyNexus   = "/norite.dataplane.v1.DataPlane/DestroyNexus"
	MethodShutdownNexus  = "/norite.dataplane.v1.DataPlane/ShutdownNexus"
	MethodShareNexus     = "/norite.dataplane.v1.DataPlane/ShareNexus"
	MethodUnshareNexus   = "/norite.dataplane.v1.DataPlane/UnshareNexus"
	MethodAddChild       = "/norite.dataplane.v1.DataPlane/AddChild"
	MethodRemoveChild    = "/norite.dataplane.v1.DataPlane/RemoveChild"
	MethodProbe          = "/norite.dataplane.v1.DataPlane/Probe"
	MethodGetState       = "/norite.dataplane.v1.DataPlane/GetState"
)

// NodeConnector is the abstract outbound channel to a data-plane
// node's gRPC endpoint: dial lifecycle plus a generic, typed-by-caller
// Invoke. Concrete resource operations (CreatePool, AddChild, ...) are
// built on top of Invoke by the service layer, not exposed as
// distinct interface methods, since there is no generated client to
// shape them around.
type NodeConnector interface {
	// Invoke calls method against the node reachable at endpoint,
	// dialing (or reusing a pooled connection) as needed. req and resp
	// are JSON-marshaled; resp may be nil for methods with no response
	// body.
	Invoke(ctx context.Context, endpoint, method string, req, resp any) error
	// Forget drops any pooled connection to endpoint, forcing a fresh
	// dial on the next Invoke. Used when a node is marked Offline.
	Forget(endpoint string)
	// Close tears down every pooled connection.
	Close() error
}

// Config configures a GRPCConnector's dial behavior.
type Config struct {
	// TLS, when non-nil, is used for every dial. A nil TLS falls back
	// to an insecure connection, appropriate only for local/test
	// clusters.
	TLS *tls.Config
	// DialTimeout bounds establishing a new connection.
	DialTimeout time.Duration
	// RequestTimeout bounds a single Invoke call when the caller's ctx
	// carries no deadline of its own.
	RequestTimeout time.Duration
}

// GRPCConnector is the concrete NodeConnector: a pool of grpc.ClientConn
// keyed by endpoint, redialed lazily and torn down explicitly via
// Forget/Close.
type GRPCConnector struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// New builds a GRPCConnector. A zero Config dials insecurely with a
// 5s dial timeout and 10s request timeout.
func New(cfg Config) *GRPCConnector {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &GRPCConnector{cfg: cfg, conns: make(map[string]*grpc.ClientConn)}
}

var _ NodeConnector = (*GRPCConnector)(nil)

func (c *GRPCConnector) dial(endpoint string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}

	creds := insecure.NewCredentials()
	if c.cfg.TLS != nil {
		creds = credentials.NewTLS(c.cfg.TLS)
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: c.cfg.DialTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", endpoint, err)
	}
	c.conns[endpoint] = conn
	return conn, nil
}

// Invoke dials (or reuses) a connection to endpoint and calls method,
// JSON-encoding req/resp via jsonCodec instead of a generated
// protobuf message type.
func (c *GRPCConnector) Invoke(ctx context.Context, endpoint, method string, req, resp any) error {
	conn, err := c.dial(endpoint)
	if err != nil {
		return errs.NodeUnavailable(endpoint, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	if resp == nil {
		resp = &struct{}{}
	}

	if err := conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		logger := log.WithResource("Node", endpoint)
		logger.Debug().Err(err).Str("method", method).Msg("data-plane call failed")
		return errs.NodeUnavailable(endpoint, err)
	}
	return nil
}

// Forget drops the pooled connection for endpoint, if any.
func (c *GRPCConnector) Forget(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[endpoint]; ok {
		_ = conn.Close()
		delete(c.conns, endpoint)
	}
}

// Close tears down every pooled connection.
func (c *GRPCConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for endpoint, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection to %s: %w", endpoint, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
