// Package transport is the transport collaborator the consensus core
// calls on to exchange messages with peers: it accepts SEND_MESSAGE
// tasks and delivers RECEIVE events over gRPC, one pooled outbound
// connection per peer, secured with certificates issued by the
// cluster CA in pkg/security.
//
// Messages travel as gob-encoded Envelopes over a single unary
// Dispatch method: a "gob" encoding.Codec registered with grpc and a
// hand-written grpc.ServiceDesc wire the method up, and clients
// select the codec per call with CallContentSubtype.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// --- wire envelope and gob codec ---

// Envelope carries one raft.Message across the wire, tagged with the
// sender's id since a RECEIVE event needs From alongside the
// Message itself.
type Envelope struct {
	From    string
	Message raft.Message
}

// Ack is the unary reply every Dispatch call returns; the actual
// Raft-level reply (e.g. an AppendEntriesResult) travels later as its
// own independent Dispatch call in the other direction, mirroring
// a fire-and-forget "messages may be dropped, reordered, or
// duplicated" contract rather than a request/response RPC pattern.
// OK carries no information; encoding/gob cannot marshal a struct
// with no exported fields.
type Ack struct{ OK bool }

const codecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("transport: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// --- service descriptor and handler for the Dispatch method ---

// raftServer is implemented by *Transport.
type raftServer interface {
	Dispatch(ctx context.Context, in *Envelope) (*Ack, error)
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftcore.Raft/Dispatch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(raftServer).Dispatch(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raftcore.Raft",
	HandlerType: (*raftServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/transport/transport.go",
}

// --- Transport ---

// Received is one delivered message, ready to become an EventReceive.
type Received struct {
	From    string
	Message raft.Message
}

// Transport is the gRPC-backed transport collaborator for one node.
// It owns a listening gRPC server and a pool of outbound client
// connections, one per peer address last seen in a SEND_MESSAGE task.
type Transport struct {
	nodeID    string
	tlsConfig *tls.Config

	server   *grpc.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	recv chan Received
}

// Option configures New.
type Option func(*Transport)

// WithMTLS secures both the listening server and outbound dials with
// the given node certificate and CA pool: TLS 1.3, mutual
// client-cert verification.
func WithMTLS(cert *tls.Certificate, caPool *x509.CertPool) Option {
	return func(t *Transport) {
		t.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{*cert},
			ClientCAs:    caPool,
			RootCAs:      caPool,
			ClientAuth:   tls.RequireAndVerifyClientCert,
			MinVersion:   tls.VersionTLS13,
		}
	}
}

// New constructs a Transport for nodeID. Without WithMTLS it dials and
// serves in plaintext, used by single-process tests.
func New(nodeID string, opts ...Option) *Transport {
	t := &Transport{
		nodeID: nodeID,
		conns:  make(map[string]*grpc.ClientConn),
		recv:   make(chan Received, 256),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Listen starts accepting peer connections at addr. It returns once
// the listener is bound; serving happens on a background goroutine.
func (t *Transport) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	t.listener = lis

	var opts []grpc.ServerOption
	if t.tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(t.tlsConfig)))
	}
	t.server = grpc.NewServer(opts...)
	t.server.RegisterService(&serviceDesc, t)

	go func() {
		if err := t.server.Serve(lis); err != nil {
			log.WithComponent("transport").Warn().Err(err).Msg("grpc server stopped")
		}
	}()
	return nil
}

// Dispatch implements raftServer: it is invoked on the server side for
// every inbound peer message and hands it off to Recv.
func (t *Transport) Dispatch(ctx context.Context, in *Envelope) (*Ack, error) {
	select {
	case t.recv <- Received{From: in.From, Message: in.Message}:
	default:
		// Receive buffer full: drop it, tolerating loss rather than
		// blocking the server.
		log.WithComponent("transport").Warn().Str("from", in.From).Msg("receive buffer full, dropping message")
	}
	return &Ack{OK: true}, nil
}

// Recv is the channel of inbound messages the node's event loop
// drains into EventReceive events.
func (t *Transport) Recv() <-chan Received { return t.recv }

// Addr returns the bound listener address, or nil before Listen, used
// by the health surface to confirm the peer endpoint is up.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Send executes one TaskSendMessage: dial (or reuse) a connection to
// address and deliver msg. A failure here is swallowed by the caller
// as a dropped message, which Raft's retry-via-heartbeat design
// tolerates.
func (t *Transport) Send(ctx context.Context, to, address string, msg raft.Message) error {
	conn, err := t.conn(address)
	if err != nil {
		return err
	}
	client := newRaftClient(conn)
	_, err = client.Dispatch(ctx, &Envelope{From: t.nodeID, Message: msg})
	return err
}

func (t *Transport) conn(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[address]; ok {
		return c, nil
	}
	var creds credentials.TransportCredentials
	if t.tlsConfig != nil {
		creds = credentials.NewTLS(t.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	t.conns[address] = conn
	return conn, nil
}

// Close tears down the listener, server, and every outbound connection.
func (t *Transport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		_ = c.Close()
	}
	return nil
}

// --- thin client wrapper ---

type raftClient struct {
	cc *grpc.ClientConn
}

func newRaftClient(cc *grpc.ClientConn) *raftClient { return &raftClient{cc: cc} }

func (c *raftClient) Dispatch(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out := new(Ack)
	err := c.cc.Invoke(ctx, "/raftcore.Raft/Dispatch", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
