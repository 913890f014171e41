// Package audit provides the bounds/finiteness guards and the decision hash
// chain spec.md §7/§9 require: components must fail fast and loud on
// invalid state rather than silently corrupt it, and every decision must be
// tamper-evident.
//
// Grounded directly on the teacher's governance.ConstitutionalKernel
// (violation-type enum, bounds checking, SHA256-chained decision records),
// trimmed to the subset spec.md actually names and decoupled from its
// strict-mode-panics-in-tests behavior: here a violation is always returned
// as an error, never panicked, since spec.md §9 requires "no component
// throws across a module boundary."
package audit

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"
)

// ViolationType names the kind of invariant a Guard check caught.
type ViolationType string

const (
	ViolationOutOfBounds       ViolationType = "out_of_bounds"
	ViolationNonFinite         ViolationType = "non_finite"
	ViolationCycleDetected     ViolationType = "cycle_detected"
	ViolationInvalidTransition ViolationType = "invalid_transition"
)

// Violation describes one invariant failure.
type Violation struct {
	Type    ViolationType
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("audit violation [%s]: %s", v.Type, v.Message)
}

// Fatal marks a Violation as one that must fail its whole component rather
// than be recovered from in place — spec.md §7's "cycle detected in PPID
// forest, invalid transition row" class of error.
type Fatal struct {
	Violation *Violation
}

func (f *Fatal) Error() string { return f.Violation.Error() }
func (f *Fatal) Unwrap() error { return f.Violation }

// Hash is a 32-byte SHA256 digest.
type Hash [32]byte

// Guard is the shared invariant checker used across module boundaries: bound
// checks on decision inputs, finiteness checks on floating-point state, and
// the decision hash chain. Stateless except for a lifetime violation
// counter, logged via the same zap logger the rest of the module uses.
type Guard struct {
	logger         *zap.Logger
	violationCount atomic.Int64
}

// NewGuard creates a Guard that logs every violation via logger.
func NewGuard(logger *zap.Logger) *Guard {
	return &Guard{logger: logger}
}

// CheckBounds returns a *Fatal ViolationOutOfBounds if v is outside [lo, hi].
func (g *Guard) CheckBounds(name string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return g.fail(&Violation{
			Type:    ViolationOutOfBounds,
			Message: fmt.Sprintf("%s = %v outside bounds [%v, %v]", name, v, lo, hi),
		})
	}
	return nil
}

// CheckFinite returns a *Fatal ViolationNonFinite if v is NaN or ±Inf.
func (g *Guard) CheckFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return g.fail(&Violation{
			Type:    ViolationNonFinite,
			Message: fmt.Sprintf("%s = %v is not finite", name, v),
		})
	}
	return nil
}

// CheckCycle returns a *Fatal ViolationCycleDetected if found is true,
// for callers (e.g. the PPID forest builder) that detect a cycle structurally
// rather than via a numeric bound.
func (g *Guard) CheckCycle(context string, found bool) error {
	if found {
		return g.fail(&Violation{
			Type:    ViolationCycleDetected,
			Message: fmt.Sprintf("cycle detected: %s", context),
		})
	}
	return nil
}

// CheckTransition returns a *Fatal ViolationInvalidTransition if valid is
// false, for callers validating a transition/loss matrix row.
func (g *Guard) CheckTransition(context string, valid bool) error {
	if !valid {
		return g.fail(&Violation{
			Type:    ViolationInvalidTransition,
			Message: fmt.Sprintf("invalid transition: %s", context),
		})
	}
	return nil
}

func (g *Guard) fail(v *Violation) error {
	g.violationCount.Add(1)
	if g.logger != nil {
		g.logger.Error("audit violation",
			zap.String("type", string(v.Type)),
			zap.String("message", v.Message),
			zap.Int64("total_violations", g.violationCount.Load()),
		)
	}
	return &Fatal{Violation: v}
}

// ViolationCount returns the lifetime count of violations this Guard has
// recorded.
func (g *Guard) ViolationCount() int64 {
	return g.violationCount.Load()
}

// ChainDecision extends a Merkle-style hash chain over decision/plan
// records for the audit ledger: next = SHA256(prev || payload). This is
// distinct from, and complementary to, the FNV-1a content-addressed
// action_id/plan_id spec.md mandates for plan identity (SPEC_FULL.md §18)
// — this chain hashes *why* a decision was reached for tamper-evidence, the
// FNV-1a id hashes *what* the plan contains for determinism. Pass the zero
// Hash as prev to start a new chain.
func ChainDecision(prev Hash, payload []byte) Hash {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(payload)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
