package operator

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startTestServer(t *testing.T, reg PlanRegistry) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "operator.sock")
	srv := NewServer(sockPath, reg, zap.NewNop())

	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				srv.handleConn(conn)
			}()
		}
	}()
	return sockPath
}

func sendRequest(t *testing.T, sockPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	return resp
}

func TestListReturnsRegisteredPlans(t *testing.T) {
	reg := NewMemRegistry()
	reg.Put(PlanSummary{PlanID: "plan-1", SessionID: "s1", ActionCount: 2})
	sock := startTestServer(t, reg)

	resp := sendRequest(t, sock, Request{Cmd: "list"})
	if !resp.OK {
		t.Fatalf("resp = %+v, want OK", resp)
	}
	if len(resp.Plans) != 1 || resp.Plans[0].PlanID != "plan-1" {
		t.Fatalf("Plans = %+v, want [plan-1]", resp.Plans)
	}
}

func TestStatusReturnsSummary(t *testing.T) {
	reg := NewMemRegistry()
	reg.Put(PlanSummary{PlanID: "plan-1", ActionCount: 3, BlockedActions: []string{"a1"}})
	sock := startTestServer(t, reg)

	resp := sendRequest(t, sock, Request{Cmd: "status", PlanID: "plan-1"})
	if !resp.OK || resp.Summary == nil {
		t.Fatalf("resp = %+v, want OK with summary", resp)
	}
	if resp.Summary.ActionCount != 3 {
		t.Fatalf("ActionCount = %d, want 3", resp.Summary.ActionCount)
	}
}

func TestStatusUnknownPlanRejected(t *testing.T) {
	reg := NewMemRegistry()
	sock := startTestServer(t, reg)

	resp := sendRequest(t, sock, Request{Cmd: "status", PlanID: "nope"})
	if resp.OK {
		t.Fatalf("resp = %+v, want rejected", resp)
	}
}

func TestPinUnpinAction(t *testing.T) {
	reg := NewMemRegistry()
	reg.Put(PlanSummary{PlanID: "plan-1", ActionCount: 1})
	sock := startTestServer(t, reg)

	pinResp := sendRequest(t, sock, Request{Cmd: "pin", ActionID: "act-1"})
	if !pinResp.OK {
		t.Fatalf("pin resp = %+v, want OK", pinResp)
	}

	status := sendRequest(t, sock, Request{Cmd: "status", PlanID: "plan-1"})
	if len(status.Summary.PinnedActions) != 1 || status.Summary.PinnedActions[0] != "act-1" {
		t.Fatalf("PinnedActions = %+v, want [act-1]", status.Summary.PinnedActions)
	}

	unpinResp := sendRequest(t, sock, Request{Cmd: "unpin", ActionID: "act-1"})
	if !unpinResp.OK {
		t.Fatalf("unpin resp = %+v, want OK", unpinResp)
	}

	status2 := sendRequest(t, sock, Request{Cmd: "status", PlanID: "plan-1"})
	if len(status2.Summary.PinnedActions) != 0 {
		t.Fatalf("PinnedActions after unpin = %+v, want empty", status2.Summary.PinnedActions)
	}
}

func TestUnpinUnknownActionRejected(t *testing.T) {
	reg := NewMemRegistry()
	reg.Put(PlanSummary{PlanID: "plan-1"})
	sock := startTestServer(t, reg)

	resp := sendRequest(t, sock, Request{Cmd: "unpin", ActionID: "never-pinned"})
	if resp.OK {
		t.Fatalf("resp = %+v, want rejected", resp)
	}
}

func TestAckMarksPlanAcknowledged(t *testing.T) {
	reg := NewMemRegistry()
	reg.Put(PlanSummary{PlanID: "plan-1"})
	sock := startTestServer(t, reg)

	resp := sendRequest(t, sock, Request{Cmd: "ack", PlanID: "plan-1"})
	if !resp.OK {
		t.Fatalf("resp = %+v, want OK", resp)
	}

	status := sendRequest(t, sock, Request{Cmd: "status", PlanID: "plan-1"})
	if !status.Summary.Acknowledged {
		t.Fatal("plan not marked acknowledged after ack")
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	reg := NewMemRegistry()
	sock := startTestServer(t, reg)

	resp := sendRequest(t, sock, Request{Cmd: "bogus"})
	if resp.OK {
		t.Fatalf("resp = %+v, want rejected", resp)
	}
}

func TestChainHashIsDeterministicAndAdvances(t *testing.T) {
	reg := NewMemRegistry()
	reg.Put(PlanSummary{PlanID: "plan-1"})
	sock := startTestServer(t, reg)

	r1 := sendRequest(t, sock, Request{Cmd: "list"})
	r2 := sendRequest(t, sock, Request{Cmd: "list"})
	if r1.ChainHash == "" || r2.ChainHash == "" {
		t.Fatal("expected non-empty chain hash on every response")
	}
	if r1.ChainHash == r2.ChainHash {
		t.Fatal("chain hash did not advance between requests")
	}
}
