// Package impact scores how disruptive killing or restarting a process
// would be, from externally observable signals: listening sockets,
// established connections, open and write-mode file descriptors, critical
// write categories, child count, and supervisor level. Spec §3
// ImpactComponents/ImpactResult.
//
// Mirrors the teacher anomaly engine's Engine.Score shape — a stateless
// scorer over a components struct — but where the teacher falls back to a
// cheaper distance metric on a singular covariance, this package's fallback
// rule runs the other way: a component that could not be measured elevates
// the score, it never lets the result look safer than it is.
package impact

import "sort"

// SupervisorLevel classifies what, if anything, is supervising a process:
// higher levels imply a wider blast radius if it's killed.
type SupervisorLevel int

const (
	SupervisorUnknown SupervisorLevel = iota
	SupervisorNone
	SupervisorTerminal
	SupervisorIDE
	SupervisorCI
	SupervisorOrchestrator
	SupervisorAgent
)

func (s SupervisorLevel) String() string {
	switch s {
	case SupervisorNone:
		return "None"
	case SupervisorTerminal:
		return "Terminal"
	case SupervisorIDE:
		return "IDE"
	case SupervisorCI:
		return "CI"
	case SupervisorOrchestrator:
		return "Orchestrator"
	case SupervisorAgent:
		return "Agent"
	default:
		return "Unknown"
	}
}

// weight returns this supervisor level's contribution to the normalized
// score, in [0,1]. Unknown is treated as maximally uncertain, not as zero.
func (s SupervisorLevel) weight() float64 {
	switch s {
	case SupervisorNone:
		return 0.0
	case SupervisorTerminal:
		return 0.2
	case SupervisorIDE:
		return 0.4
	case SupervisorCI:
		return 0.6
	case SupervisorOrchestrator:
		return 0.8
	case SupervisorAgent:
		return 1.0
	default:
		return 1.0
	}
}

// MissingSource names one component that could not be measured for this
// process (e.g. "/proc/<pid>/fd" unreadable, permission denied).
type MissingSource string

// Components is the raw, unnormalized evidence for one process's impact
// score.
type Components struct {
	ListenPorts           int
	EstablishedConns      int
	OpenFDs               int
	WriteModeFDs          int
	CriticalWriteCategory int // count of distinct critical-write categories held (SQLite WAL, git lock, pkg-manager lock, app lock)
	ChildCount            int
	Supervisor            SupervisorLevel
	MissingData           []MissingSource
}

// Severity buckets the normalized score at 0.25/0.5/0.75.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ClassifySeverity buckets a normalized score into Low/Medium/High/Critical
// at 0.25/0.5/0.75.
func ClassifySeverity(score float64) Severity {
	switch {
	case score >= 0.75:
		return SeverityCritical
	case score >= 0.5:
		return SeverityHigh
	case score >= 0.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Result is the scored output for one process.
type Result struct {
	Score                    float64
	Severity                 Severity
	ElevatedDueToMissingData bool
}

// saturating normalization knees — chosen so a handful of connections or
// FDs already pushes a component toward its ceiling rather than requiring
// unrealistic magnitudes to register.
const (
	listenPortsKnee      = 2.0
	establishedConnsKnee = 5.0
	openFDsKnee          = 50.0
	writeModeFDsKnee     = 5.0
	criticalWriteKnee    = 1.0
	childCountKnee       = 3.0
)

func saturate(value, knee float64) float64 {
	if knee <= 0 {
		return 0
	}
	r := value / knee
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// componentWeights assigns each of the seven components a share of the
// composite score; they sum to 1.
var componentWeights = map[string]float64{
	"listen_ports":       0.15,
	"established_conns":  0.15,
	"open_fds":           0.10,
	"write_mode_fds":     0.15,
	"critical_write":     0.20,
	"child_count":        0.10,
	"supervisor":         0.15,
}

// Score normalizes c into a Result. Any entry in c.MissingData forces that
// component to its maximum (1.0) contribution instead of whatever partial
// reading might exist, so missing evidence can only raise the score, never
// lower it — a direct, deliberately testable invariant (spec.md §8).
func Score(c Components) Result {
	missing := make(map[MissingSource]bool, len(c.MissingData))
	for _, m := range c.MissingData {
		missing[m] = true
	}

	component := func(measured float64, missingKey MissingSource) float64 {
		if missing[missingKey] {
			return 1.0
		}
		return measured
	}

	listenPorts := component(saturate(float64(c.ListenPorts), listenPortsKnee), "listen_ports")
	establishedConns := component(saturate(float64(c.EstablishedConns), establishedConnsKnee), "established_conns")
	openFDs := component(saturate(float64(c.OpenFDs), openFDsKnee), "open_fds")
	writeModeFDs := component(saturate(float64(c.WriteModeFDs), writeModeFDsKnee), "write_mode_fds")
	criticalWrite := component(saturate(float64(c.CriticalWriteCategory), criticalWriteKnee), "critical_write")
	childCount := component(saturate(float64(c.ChildCount), childCountKnee), "child_count")
	supervisor := component(c.Supervisor.weight(), "supervisor")

	score := listenPorts*componentWeights["listen_ports"] +
		establishedConns*componentWeights["established_conns"] +
		openFDs*componentWeights["open_fds"] +
		writeModeFDs*componentWeights["write_mode_fds"] +
		criticalWrite*componentWeights["critical_write"] +
		childCount*componentWeights["child_count"] +
		supervisor*componentWeights["supervisor"]

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return Result{
		Score:                    score,
		Severity:                 ClassifySeverity(score),
		ElevatedDueToMissingData: len(c.MissingData) > 0,
	}
}

// SortedMissing returns c.MissingData sorted for deterministic rendering.
func SortedMissing(c Components) []MissingSource {
	out := append([]MissingSource(nil), c.MissingData...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
