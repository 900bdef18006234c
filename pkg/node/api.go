// This file is the client-facing API a cluster operator or client
// talks to (propose/status/membership/transfer), sharing the
// gRPC-plus-mTLS shape of pkg/transport: a grpc.ServiceDesc of unary
// methods over the same gob wire codec, served next to the peer
// endpoint but on the node's API address.
package node

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/gob"
	"fmt"
	"net"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// codecName matches pkg/transport's gob codec registration; the
// client API reuses the same wire format rather than inventing a
// second one for a sibling service.
const codecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("node: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("node: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// ProposeRequest asks the leader to replicate and apply a command.
type ProposeRequest struct {
	Payload []byte
}

// ProposeReply carries the result of a resolved ProposeRequest.
type ProposeReply struct {
	CommitIndex raft.Index
	Result      []byte
	Error       string
}

// BarrierRequest asks for a linearizable read fence. OK carries no
// information; encoding/gob cannot marshal a struct with no exported
// fields.
type BarrierRequest struct{ OK bool }

// ChangeRequest asks the leader to reconfigure cluster membership.
type ChangeRequest struct {
	Servers []raft.Server
}

// TransferRequest asks the leader to hand off leadership.
type TransferRequest struct {
	Target string
}

// StatusRequest carries no arguments; OK exists only because
// encoding/gob cannot marshal a struct with no exported fields.
type StatusRequest struct{ OK bool }

// StatusReply mirrors Status, gob-friendly at the wire boundary.
type StatusReply struct {
	ID          string
	Role        string
	Term        raft.Term
	LeaderID    string
	CommitIndex raft.Index
	LastApplied raft.Index
	Voters      []string
	Servers     []raft.Server
}

// GetRequest reads a key directly from the FSM (non-linearizable
// unless preceded by a client-side Barrier call).
type GetRequest struct {
	Key string
}

// GetReply carries a direct FSM read's result.
type GetReply struct {
	Value []byte
	Found bool
}

// clientServer is implemented by *APIServer.
type clientServer interface {
	Propose(ctx context.Context, in *ProposeRequest) (*ProposeReply, error)
	Barrier(ctx context.Context, in *BarrierRequest) (*ProposeReply, error)
	Change(ctx context.Context, in *ChangeRequest) (*ProposeReply, error)
	Transfer(ctx context.Context, in *TransferRequest) (*ProposeReply, error)
	Status(ctx context.Context, in *StatusRequest) (*StatusReply, error)
	Get(ctx context.Context, in *GetRequest) (*GetReply, error)
}

func proposeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProposeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	cs := srv.(clientServer)
	if interceptor == nil {
		return cs.Propose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.ClientAPI/Propose"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return cs.Propose(ctx, req.(*ProposeRequest))
	})
}

func barrierHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BarrierRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	cs := srv.(clientServer)
	if interceptor == nil {
		return cs.Barrier(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.ClientAPI/Barrier"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return cs.Barrier(ctx, req.(*BarrierRequest))
	})
}

func changeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	cs := srv.(clientServer)
	if interceptor == nil {
		return cs.Change(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.ClientAPI/Change"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return cs.Change(ctx, req.(*ChangeRequest))
	})
}

func transferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TransferRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	cs := srv.(clientServer)
	if interceptor == nil {
		return cs.Transfer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.ClientAPI/Transfer"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return cs.Transfer(ctx, req.(*TransferRequest))
	})
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	cs := srv.(clientServer)
	if interceptor == nil {
		return cs.Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.ClientAPI/Status"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return cs.Status(ctx, req.(*StatusRequest))
	})
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	cs := srv.(clientServer)
	if interceptor == nil {
		return cs.Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.ClientAPI/Get"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return cs.Get(ctx, req.(*GetRequest))
	})
}

var clientServiceDesc = grpc.ServiceDesc{
	ServiceName: "raftcore.ClientAPI",
	HandlerType: (*clientServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Propose", Handler: proposeHandler},
		{MethodName: "Barrier", Handler: barrierHandler},
		{MethodName: "Change", Handler: changeHandler},
		{MethodName: "Transfer", Handler: transferHandler},
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Get", Handler: getHandler},
	},
	Metadata: "pkg/node/api.go",
}

// APIServer exposes a Node's client-facing operations over gRPC.
type APIServer struct {
	node   *Node
	server *grpc.Server
}

// NewAPIServer wraps node for gRPC serving. tlsConfig may be nil for
// plaintext (tests, loopback dev use); production deployments should
// always pass mTLS config built the same way pkg/security issues node
// certificates for pkg/transport.
func NewAPIServer(n *Node, tlsConfig *tls.Config) *APIServer {
	var opts []grpc.ServerOption
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	s := grpc.NewServer(opts...)
	api := &APIServer{node: n, server: s}
	s.RegisterService(&clientServiceDesc, api)
	return api
}

// Listen starts serving on addr in the background.
func (a *APIServer) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("node: client api listen %s: %w", addr, err)
	}
	go func() {
		if err := a.server.Serve(lis); err != nil {
			log.WithComponent("clientapi").Warn().Err(err).Msg("client api server stopped")
		}
	}()
	return nil
}

// Close stops the client API server.
func (a *APIServer) Close() { a.server.GracefulStop() }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// observe records one served API call for the request counter and
// latency histogram.
func observe(kind string, timer *metrics.Timer, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	metrics.APIRequestsTotal.WithLabelValues(kind, status).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, kind)
}

func (a *APIServer) Propose(ctx context.Context, in *ProposeRequest) (*ProposeReply, error) {
	timer := metrics.NewTimer()
	c, err := a.node.Apply(ctx, in.Payload)
	observe("propose", timer, err != nil || c.Err != nil)
	if err != nil {
		return nil, err
	}
	return &ProposeReply{CommitIndex: c.CommitIndex, Result: c.Result, Error: errString(c.Err)}, nil
}

func (a *APIServer) Barrier(ctx context.Context, _ *BarrierRequest) (*ProposeReply, error) {
	timer := metrics.NewTimer()
	c, err := a.node.Barrier(ctx)
	observe("barrier", timer, err != nil || c.Err != nil)
	if err != nil {
		return nil, err
	}
	return &ProposeReply{CommitIndex: c.CommitIndex, Error: errString(c.Err)}, nil
}

func (a *APIServer) Change(ctx context.Context, in *ChangeRequest) (*ProposeReply, error) {
	timer := metrics.NewTimer()
	c, err := a.node.ChangeConfiguration(ctx, raft.NewConfiguration(in.Servers))
	observe("change", timer, err != nil || c.Err != nil)
	if err != nil {
		return nil, err
	}
	return &ProposeReply{CommitIndex: c.CommitIndex, Error: errString(c.Err)}, nil
}

func (a *APIServer) Transfer(ctx context.Context, in *TransferRequest) (*ProposeReply, error) {
	timer := metrics.NewTimer()
	c, err := a.node.TransferLeadership(ctx, in.Target)
	observe("transfer", timer, err != nil || c.Err != nil)
	if err != nil {
		return nil, err
	}
	return &ProposeReply{CommitIndex: c.CommitIndex, Error: errString(c.Err)}, nil
}

func (a *APIServer) Status(ctx context.Context, _ *StatusRequest) (*StatusReply, error) {
	s := a.node.Status()
	return &StatusReply{
		ID: s.ID, Role: s.Role, Term: s.Term, LeaderID: s.LeaderID,
		CommitIndex: s.CommitIndex, LastApplied: s.LastApplied,
		Voters: s.Voters, Servers: s.Servers,
	}, nil
}

func (a *APIServer) Get(ctx context.Context, in *GetRequest) (*GetReply, error) {
	v, ok := a.node.Get(in.Key)
	return &GetReply{Value: v, Found: ok}, nil
}

// --- CLI-facing client used by cmd/raftd's subcommands ---

// APIClient is a thin gRPC client for APIServer, used by cmd/raftd.
type APIClient struct {
	conn *grpc.ClientConn
}

// DialAPIClient connects to a raftd node's client API at addr.
// tlsConfig may be nil for plaintext (loopback dev use).
func DialAPIClient(addr string, tlsConfig *tls.Config) (*APIClient, error) {
	var creds credentials.TransportCredentials
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("node: dial client api %s: %w", addr, err)
	}
	return &APIClient{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *APIClient) Close() error { return c.conn.Close() }

func (c *APIClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, method, in, out)
}

// Propose submits a command for replication.
func (c *APIClient) Propose(ctx context.Context, payload []byte) (*ProposeReply, error) {
	out := new(ProposeReply)
	if err := c.invoke(ctx, "/raftcore.ClientAPI/Propose", &ProposeRequest{Payload: payload}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Barrier requests a linearizable read fence.
func (c *APIClient) Barrier(ctx context.Context) (*ProposeReply, error) {
	out := new(ProposeReply)
	if err := c.invoke(ctx, "/raftcore.ClientAPI/Barrier", &BarrierRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Change submits a membership change.
func (c *APIClient) Change(ctx context.Context, servers []raft.Server) (*ProposeReply, error) {
	out := new(ProposeReply)
	if err := c.invoke(ctx, "/raftcore.ClientAPI/Change", &ChangeRequest{Servers: servers}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transfer submits a leadership transfer request.
func (c *APIClient) Transfer(ctx context.Context, target string) (*ProposeReply, error) {
	out := new(ProposeReply)
	if err := c.invoke(ctx, "/raftcore.ClientAPI/Transfer", &TransferRequest{Target: target}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches the node's current consensus status.
func (c *APIClient) Status(ctx context.Context) (*StatusReply, error) {
	out := new(StatusReply)
	if err := c.invoke(ctx, "/raftcore.ClientAPI/Status", &StatusRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get performs a direct (non-linearizable) key read.
func (c *APIClient) Get(ctx context.Context, key string) (*GetReply, error) {
	out := new(GetReply)
	if err := c.invoke(ctx, "/raftcore.ClientAPI/Get", &GetRequest{Key: key}, out); err != nil {
		return nil, err
	}
	return out, nil
}
