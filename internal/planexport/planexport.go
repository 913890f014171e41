// Package planexport — planexport.go
//
// mTLS gRPC service for exporting generated plans to a remote reviewer or
// fleet-wide collector.
//
// Transport security:
//   - TLS 1.3 only (tls.VersionTLS13).
//   - Mutual TLS: client must present a certificate signed by the
//     configured CA.
//   - Certificate key type: not checked; Ed25519 is used for envelope
//     signatures.
//
// Envelope verification:
//  1. Reject if timestamp older than EnvelopeTTL (default 30s).
//  2. Reject if peer node_id not in the trusted peer list.
//  3. Reject if Ed25519 signature invalid.
//
// The service is wired by hand against grpc.ServiceDesc rather than
// generated stubs: there is no .proto definition in this repo, so the
// method table and a JSON wire codec are built directly instead of via
// protoc-gen-go. Transport, TLS, and verification are otherwise the same
// shape as the gossip envelope service this package is adapted from.
package planexport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/octoreflex/triaged/internal/planner"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec over
// encoding/json, so messages need not be generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// Envelope wraps a generated plan for transmission to a remote peer.
type Envelope struct {
	NodeID          string        `json:"node_id"`
	TimestampUnixNs int64         `json:"timestamp_unix_ns"`
	Plan            planner.Plan  `json:"plan"`
	Signature       []byte        `json:"signature"`
}

// AckResponse is the peer's reply to an exported plan.
type AckResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Sink receives accepted plan envelopes. Injected as a dependency so the
// server has no opinion on what happens to an accepted plan (append to a
// remote ledger, forward to a review queue, etc).
type Sink interface {
	Record(nodeID string, plan planner.Plan)
}

// Server implements the PlanExportService gRPC server.
type Server struct {
	nodeID       string
	trustedPeers map[string]ed25519.PublicKey
	envelopeTTL  time.Duration
	sink         Sink
	log          *zap.Logger
	startTime    time.Time
}

// NewServer creates a plan-export server. trustedPeers maps node_id to
// Ed25519 public key for envelope verification.
func NewServer(nodeID string, trustedPeers map[string]ed25519.PublicKey, envelopeTTL time.Duration, sink Sink, log *zap.Logger) *Server {
	return &Server{
		nodeID:       nodeID,
		trustedPeers: trustedPeers,
		envelopeTTL:  envelopeTTL,
		sink:         sink,
		log:          log,
		startTime:    time.Now(),
	}
}

// ExportPlan verifies an incoming envelope and forwards accepted plans to
// the sink.
func (s *Server) ExportPlan(ctx context.Context, env *Envelope) (*AckResponse, error) {
	envTime := time.Unix(0, env.TimestampUnixNs)
	age := time.Since(envTime)
	if age > s.envelopeTTL || age < -5*time.Second {
		s.log.Warn("plan envelope rejected: stale timestamp",
			zap.String("node_id", env.NodeID), zap.Duration("age", age))
		return &AckResponse{Accepted: false, RejectionReason: "timestamp_stale"}, nil
	}

	pubKey, trusted := s.trustedPeers[env.NodeID]
	if !trusted {
		s.log.Warn("plan envelope rejected: unknown peer", zap.String("node_id", env.NodeID))
		return &AckResponse{Accepted: false, RejectionReason: "peer_unknown"}, nil
	}

	msg, err := envelopeSignatureMessage(env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "signature message: %v", err)
	}
	if !ed25519.Verify(pubKey, msg, env.Signature) {
		s.log.Warn("plan envelope rejected: invalid signature", zap.String("node_id", env.NodeID))
		return &AckResponse{Accepted: false, RejectionReason: "signature_invalid"}, nil
	}

	s.sink.Record(env.NodeID, env.Plan)
	s.log.Debug("plan envelope accepted",
		zap.String("node_id", env.NodeID), zap.String("plan_id", env.Plan.PlanID))

	return &AckResponse{Accepted: true}, nil
}

// envelopeSignatureMessage constructs the canonical byte sequence that is
// signed by the sender and verified by the receiver: node_id bytes,
// timestamp (8 LE), then the JSON encoding of the plan itself. JSON is
// deterministic here because planner.Plan's field order is fixed by its
// struct definition and encoding/json preserves struct field order.
func envelopeSignatureMessage(env *Envelope) ([]byte, error) {
	planBytes, err := json.Marshal(env.Plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	var buf []byte
	buf = append(buf, []byte(env.NodeID)...)
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(env.TimestampUnixNs))
	buf = append(buf, ts...)
	buf = append(buf, planBytes...)
	return buf, nil
}

// Sign produces the Ed25519 signature for an envelope, for use by clients
// exporting a plan.
func Sign(priv ed25519.PrivateKey, env *Envelope) ([]byte, error) {
	msg, err := envelopeSignatureMessage(env)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, msg), nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "planexport.PlanExportService",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExportPlan",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(Envelope)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).ExportPlan(ctx, in)
				}
				info := &grpc.UnaryServerInfo{
					Server:     srv,
					FullMethod: "/planexport.PlanExportService/ExportPlan",
				}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(*Server).ExportPlan(ctx, req.(*Envelope))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/planexport/planexport.go",
}

// ListenAndServe starts the gRPC mTLS plan-export server on addr. Blocks
// until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr, certFile, keyFile, caFile string, srv *Server, log *zap.Logger) error {
	tlsCfg, err := buildServerTLS(certFile, keyFile, caFile)
	if err != nil {
		return fmt.Errorf("planexport TLS config: %w", err)
	}

	creds := credentials.NewTLS(tlsCfg)
	grpcSrv := grpc.NewServer(
		grpc.Creds(creds),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	grpcSrv.RegisterService(&serviceDesc, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("planexport listen %s: %w", addr, err)
	}

	log.Info("plan-export server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("planexport grpc serve: %w", err)
	}
	return nil
}

// buildServerTLS constructs a TLS 1.3-only mTLS config for the gRPC
// server from a certificate/key pair (its key type is not checked) and a CA
// certificate for client verification.
func buildServerTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	caData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file %q: %w", caFile, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
