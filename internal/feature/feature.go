// Package feature defines the feature-source contract external collectors
// must implement (spec.md §6.1) and the ingestion pipeline that fans
// incoming per-PID snapshots out to single-threaded worker shards.
//
// Grounded on the teacher's internal/bpf/events.go (typed wire-contract
// struct with documented field semantics) and internal/kernel/events.go
// (channel + worker-pool ingestion with backpressure-drop metrics),
// generalized from "BPF ring buffer of kernel events" to "external feature
// source of process snapshots." Raw /proc sampling and capability detection
// are out of scope (spec.md §1); this package only defines the contract a
// collector must satisfy and the dispatch shape that preserves the
// per-PID single-writer invariant spec.md §5 requires.
package feature

import (
	"context"

	"github.com/octoreflex/triaged/internal/impact"
	"github.com/octoreflex/triaged/internal/planner"
	"github.com/octoreflex/triaged/internal/planner/session"
)

// CgroupInfo carries the cgroup/CPU-capacity context needed to decide
// whether threads or cores constrain a process's tick budget.
type CgroupInfo struct {
	Name      string
	NEffCores float64
}

// Snapshot is one PID's per-tick feature bundle, as spec.md §6.1's table
// requires. StartTime changing between two snapshots for the same PID
// signals PID reuse; the consumer must reset all per-PID inference state
// when that happens.
type Snapshot struct {
	PID       int
	PPID      int
	StartTime int64

	KTicks uint64
	NTicks uint64
	U      float64 // CPU occupancy, clamped to [0, 1]
	UCores float64
	NEff   float64

	CgroupDetails CgroupInfo
	ProcessState  planner.ProcessState

	WChan            string
	IOReadBytes      uint64
	IOWriteBytes     uint64
	DStateDurationMs int64

	Impact            impact.Components
	SessionProtection session.Verdict
}

// Source is the interface external feature extraction must implement —
// the actual /proc walking, cgroup reads, and session-graph probes are out
// of scope here (spec.md §1). Next blocks until the next snapshot is ready
// or ctx is canceled.
type Source interface {
	Next(ctx context.Context) (Snapshot, error)
}
