// Package toolrunner implements the per-scan-cycle probe budget and
// subprocess deadline escalation spec.md §5 names as the *only* cross-thread
// mutable global in the core: a cumulative millisecond budget, reserved via
// atomic compare-and-swap and reconciled with atomic adds, never a mutex.
//
// Directly grounded on, and structurally close to, the teacher's
// budget.Bucket (capacity, atomic consumed counter, refill), generalized
// from "containment-action token cost" to "probe millisecond budget," with
// its fixed-cost-per-action model replaced by an estimate/actual
// reservation so callers can refund early completions and consume overruns,
// per spec.md §5's "refund when duration < allocated, consume extra when
// duration > allocated."
package toolrunner

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrBudgetExhausted is returned by Reserve when granting the reservation
// would exceed the cycle's remaining budget. Callers must fail the probe
// fast rather than block, per spec.md §5.
var ErrBudgetExhausted = errors.New("toolrunner: budget exhausted")

// Budget is the cumulative millisecond budget shared across every probe of
// one scan cycle. All mutation is atomic (CAS for reservations, Add for
// reconciliation, Store for Reset); there is no mutex.
type Budget struct {
	capacityMs int64
	usedMs     atomic.Int64
}

// NewBudget creates a Budget with the given capacity in milliseconds.
func NewBudget(capacityMs int64) *Budget {
	return &Budget{capacityMs: capacityMs}
}

// Reset reinitializes the budget to zero used, for the start of a new scan
// cycle.
func (b *Budget) Reset() {
	b.usedMs.Store(0)
}

// Remaining returns the unspent budget in milliseconds. May be negative
// immediately after an overrun is reconciled; callers should treat negative
// as zero when deciding whether to admit new probes.
func (b *Budget) Remaining() int64 {
	return b.capacityMs - b.usedMs.Load()
}

// Ticket is a granted reservation against a Budget. The holder must call
// Release exactly once with the probe's actual duration to reconcile the
// estimate.
type Ticket struct {
	budget     *Budget
	reservedMs int64
	released   atomic.Bool
}

// Reserve attempts to reserve estimate worth of budget via a CAS loop. It
// returns ErrBudgetExhausted immediately if granting the reservation would
// exceed capacity — probes must fail fast, not block, when the cycle budget
// is spent (spec.md §5.1).
func (b *Budget) Reserve(ctx context.Context, estimate time.Duration) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	estimateMs := estimate.Milliseconds()
	for {
		used := b.usedMs.Load()
		next := used + estimateMs
		if next > b.capacityMs {
			return nil, ErrBudgetExhausted
		}
		if b.usedMs.CompareAndSwap(used, next) {
			return &Ticket{budget: b, reservedMs: estimateMs}, nil
		}
	}
}

// Release reconciles this ticket's reservation against the probe's actual
// duration: it refunds the difference if the probe finished early, or
// consumes the extra if it overran. Safe to call at most once; subsequent
// calls are no-ops.
func (t *Ticket) Release(actual time.Duration) {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	delta := actual.Milliseconds() - t.reservedMs
	if delta != 0 {
		t.budget.usedMs.Add(delta)
	}
}

// Terminator is satisfied by *os.Process: anything that can be asked to
// stop gently (Signal) and then forcefully (Kill).
type Terminator interface {
	Signal(sig os.Signal) error
	Kill() error
}

// RunWithDeadline escalates a running probe toward termination if it has not
// signaled completion (by closing done) within deadline: SIGTERM first,
// then — after grace — SIGKILL, per spec.md §5's cancellation model. It
// returns when done closes, ctx is canceled, or the escalation completes.
func RunWithDeadline(ctx context.Context, proc Terminator, done <-chan struct{}, deadline, grace time.Duration) {
	deadlineTimer := time.NewTimer(deadline)
	defer deadlineTimer.Stop()

	select {
	case <-done:
		return
	case <-ctx.Done():
		return
	case <-deadlineTimer.C:
	}

	_ = proc.Signal(syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-done:
		return
	case <-graceTimer.C:
		_ = proc.Kill()
	}
}
