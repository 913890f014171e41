package audit

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
)

func TestCheckBoundsPassesWithinRange(t *testing.T) {
	g := NewGuard(zap.NewNop())
	if err := g.CheckBounds("severity", 0.5, 0, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckBoundsFailsOutsideRange(t *testing.T) {
	g := NewGuard(zap.NewNop())
	err := g.CheckBounds("severity", 1.5, 0, 1)
	if err == nil {
		t.Fatal("expected error for out-of-bounds value")
	}
	var fatal *Fatal
	if !errors.As(err, &fatal) {
		t.Fatalf("expected *Fatal, got %T", err)
	}
	if fatal.Violation.Type != ViolationOutOfBounds {
		t.Fatalf("expected ViolationOutOfBounds, got %v", fatal.Violation.Type)
	}
}

func TestCheckFiniteCatchesNaNAndInf(t *testing.T) {
	g := NewGuard(zap.NewNop())
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := g.CheckFinite("x", v); err == nil {
			t.Fatalf("expected error for non-finite value %v", v)
		}
	}
	if err := g.CheckFinite("x", 1.0); err != nil {
		t.Fatalf("unexpected error for finite value: %v", err)
	}
}

func TestCheckCycleAndTransition(t *testing.T) {
	g := NewGuard(zap.NewNop())
	if err := g.CheckCycle("ppid forest", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := g.CheckCycle("ppid forest", true)
	var fatal *Fatal
	if !errors.As(err, &fatal) || fatal.Violation.Type != ViolationCycleDetected {
		t.Fatalf("expected ViolationCycleDetected, got %v", err)
	}

	if err := g.CheckTransition("loss matrix row", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = g.CheckTransition("loss matrix row", false)
	if !errors.As(err, &fatal) || fatal.Violation.Type != ViolationInvalidTransition {
		t.Fatalf("expected ViolationInvalidTransition, got %v", err)
	}
}

func TestViolationCountAccumulates(t *testing.T) {
	g := NewGuard(zap.NewNop())
	_ = g.CheckBounds("a", 2, 0, 1)
	_ = g.CheckFinite("b", math.NaN())
	if got := g.ViolationCount(); got != 2 {
		t.Fatalf("ViolationCount = %d, want 2", got)
	}
}

func TestChainDecisionIsDeterministic(t *testing.T) {
	var zero Hash
	h1 := ChainDecision(zero, []byte("payload-a"))
	h2 := ChainDecision(zero, []byte("payload-a"))
	if h1 != h2 {
		t.Fatal("expected identical hash for identical prev+payload")
	}
}

func TestChainDecisionDiffersOnPayload(t *testing.T) {
	var zero Hash
	h1 := ChainDecision(zero, []byte("payload-a"))
	h2 := ChainDecision(zero, []byte("payload-b"))
	if h1 == h2 {
		t.Fatal("expected different hashes for different payloads")
	}
}

func TestChainDecisionChainsForward(t *testing.T) {
	var zero Hash
	h1 := ChainDecision(zero, []byte("record-1"))
	h2a := ChainDecision(h1, []byte("record-2"))
	h2b := ChainDecision(zero, []byte("record-2"))
	if h2a == h2b {
		t.Fatal("expected chaining on prev hash to change the result")
	}
}
