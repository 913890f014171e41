package planexport

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/triaged/internal/planner"
)

type recordingSink struct {
	nodeID string
	plan   planner.Plan
	called bool
}

func (r *recordingSink) Record(nodeID string, plan planner.Plan) {
	r.nodeID = nodeID
	r.plan = plan
	r.called = true
}

func newTestServer(t *testing.T, sink Sink) (*Server, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	srv := NewServer("node-a", map[string]ed25519.PublicKey{"peer-1": pub}, 30*time.Second, sink, zap.NewNop())
	return srv, priv
}

func signedEnvelope(t *testing.T, priv ed25519.PrivateKey, nodeID string, ts time.Time, plan planner.Plan) *Envelope {
	t.Helper()
	env := &Envelope{NodeID: nodeID, TimestampUnixNs: ts.UnixNano(), Plan: plan}
	sig, err := Sign(priv, env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	env.Signature = sig
	return env
}

func TestExportPlanAcceptsValidEnvelope(t *testing.T) {
	sink := &recordingSink{}
	srv, priv := newTestServer(t, sink)
	plan := planner.Plan{PlanID: "plan-1", SessionID: "session-1"}
	env := signedEnvelope(t, priv, "peer-1", time.Now(), plan)

	resp, err := srv.ExportPlan(context.Background(), env)
	if err != nil {
		t.Fatalf("ExportPlan: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("Accepted = false, reason %q", resp.RejectionReason)
	}
	if !sink.called || sink.nodeID != "peer-1" || sink.plan.PlanID != "plan-1" {
		t.Fatalf("sink not recorded correctly: %+v", sink)
	}
}

func TestExportPlanRejectsStaleTimestamp(t *testing.T) {
	sink := &recordingSink{}
	srv, priv := newTestServer(t, sink)
	env := signedEnvelope(t, priv, "peer-1", time.Now().Add(-time.Hour), planner.Plan{PlanID: "p"})

	resp, err := srv.ExportPlan(context.Background(), env)
	if err != nil {
		t.Fatalf("ExportPlan: %v", err)
	}
	if resp.Accepted || resp.RejectionReason != "timestamp_stale" {
		t.Fatalf("resp = %+v, want rejected timestamp_stale", resp)
	}
	if sink.called {
		t.Fatal("sink.Record called for rejected envelope")
	}
}

func TestExportPlanRejectsUnknownPeer(t *testing.T) {
	sink := &recordingSink{}
	srv, priv := newTestServer(t, sink)
	env := signedEnvelope(t, priv, "peer-unknown", time.Now(), planner.Plan{PlanID: "p"})

	resp, err := srv.ExportPlan(context.Background(), env)
	if err != nil {
		t.Fatalf("ExportPlan: %v", err)
	}
	if resp.Accepted || resp.RejectionReason != "peer_unknown" {
		t.Fatalf("resp = %+v, want rejected peer_unknown", resp)
	}
}

func TestExportPlanRejectsInvalidSignature(t *testing.T) {
	sink := &recordingSink{}
	srv, _ := newTestServer(t, sink)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	env := signedEnvelope(t, otherPriv, "peer-1", time.Now(), planner.Plan{PlanID: "p"})

	resp, err := srv.ExportPlan(context.Background(), env)
	if err != nil {
		t.Fatalf("ExportPlan: %v", err)
	}
	if resp.Accepted || resp.RejectionReason != "signature_invalid" {
		t.Fatalf("resp = %+v, want rejected signature_invalid", resp)
	}
}

func TestJSONCodecRoundTrips(t *testing.T) {
	var codec jsonCodec
	env := &Envelope{NodeID: "node-a", TimestampUnixNs: 123, Plan: planner.Plan{PlanID: "plan-1"}}

	data, err := codec.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Envelope
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.NodeID != env.NodeID || got.Plan.PlanID != env.Plan.PlanID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, *env)
	}
}
