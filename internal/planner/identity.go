// Package planner converts a bundle of per-process decisions into a
// deterministic, content-addressed action plan, applying the zombie/D-state
// routing and session-safety gates spec §4.12/§4.13 require before any
// destructive action reaches an executor. Grounded on the original
// implementation's plan generation module, carried over field-for-field.
package planner

// IdentityQuality records how confidently an identity was resolved — a
// recycled PID with a stale start time degrades to Partial or Inferred
// rather than Full.
type IdentityQuality int

const (
	IdentityFull IdentityQuality = iota
	IdentityPartial
	IdentityInferred
)

func (q IdentityQuality) String() string {
	switch q {
	case IdentityFull:
		return "Full"
	case IdentityPartial:
		return "Partial"
	default:
		return "Inferred"
	}
}

// ProcessIdentity pins down exactly which process incarnation an action
// targets: pid alone is not sufficient once PIDs are recycled, so start_id
// (boot id + start time, however the collector derives it) disambiguates.
type ProcessIdentity struct {
	PID     int
	StartID string
	UID     int
	PGID    int
	SID     int
	Quality IdentityQuality
}

// ProcessState is the subset of /proc process states the planner must
// route around specially.
type ProcessState int

const (
	ProcessStateUnknown ProcessState = iota
	ProcessStateRunning
	ProcessStateSleeping
	ProcessStateDiskSleep // D-state: uninterruptible sleep, may ignore SIGKILL
	ProcessStateZombie    // Z-state: exited but not reaped
	ProcessStateStopped
)

func (s ProcessState) String() string {
	switch s {
	case ProcessStateRunning:
		return "Running"
	case ProcessStateSleeping:
		return "Sleeping"
	case ProcessStateDiskSleep:
		return "DiskSleep"
	case ProcessStateZombie:
		return "Zombie"
	case ProcessStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// DStateDiagnostics carries the evidence gathered for a process stuck in
// uninterruptible sleep, so an operator can tell a stuck NFS mount from a
// stuck disk controller without re-probing.
type DStateDiagnostics struct {
	Wchan            string
	IOReadBytes      uint64
	IOWriteBytes     uint64
	DStateDurationMs uint64
}
