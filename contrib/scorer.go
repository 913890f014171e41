// Package contrib — scorer.go
//
// Plugin interface for custom evidence contributors.
//
// triaged's evidence core (internal/composite.EvidenceAggregator) combines
// named log-Bayes-factor terms from however many sources the deployment
// wants to run: the built-in BOCPD/CTW/EVT/Wasserstein/martingale detectors,
// plus any number of contrib-registered plugins supplying a domain-specific
// signal (an ML classifier, a rule derived from local incident history, an
// eBPF-assisted feature extractor).
//
// Plugin registration:
//
//	Plugins register themselves in an init() function using
//	RegisterContributor(). The daemon feeds every registered contributor
//	(ListContributors()) into the aggregator for each snapshot; there is no
//	config key that selects among them. The built-in "io_ratio"
//	contributor (see below) is always registered.
//
// Plugin contract:
//   - Contribute() must be goroutine-safe (called from multiple worker shards).
//   - Contribute() must return in < 1ms to avoid blocking the ingestion pipeline.
//   - Contribute() must not allocate on the hot path (use sync.Pool if needed).
//   - Contribute() must not call any blocking I/O (no disk, no network).
//   - Contribute() must not panic (use recover() internally if needed).
//   - Name() must return a stable, unique string (used as registry key).
//
// Example plugin (contrib/contributors/entropy_gap/entropy_gap.go):
//
//	package entropy_gap
//
//	import "github.com/octoreflex/triaged/contrib"
//
//	func init() {
//	  contrib.RegisterContributor(&EntropyGapContributor{})
//	}
//
//	type EntropyGapContributor struct{}
//
//	func (e *EntropyGapContributor) Name() string { return "entropy_gap" }
//
//	func (e *EntropyGapContributor) Contribute(req contrib.ContributionRequest) (float64, error) {
//	  return req.Snapshot.U - 0.5, nil
//	}
package contrib

import (
	"fmt"
	"math"
	"sync"

	"github.com/octoreflex/triaged/internal/composite"
	"github.com/octoreflex/triaged/internal/feature"
)

// ContributionRequest is the input to EvidenceContributor.Contribute().
type ContributionRequest struct {
	// PID is the process ID being evaluated.
	PID int

	// Snapshot is the current per-tick feature bundle for this PID.
	Snapshot feature.Snapshot

	// TimestampNs is the event timestamp in nanoseconds.
	TimestampNs int64
}

// EvidenceContributor is the interface custom evidence sources must
// implement to feed internal/composite.EvidenceAggregator.
//
// Contract:
//   - Contribute() must be goroutine-safe.
//   - Contribute() must return in < 1ms.
//   - Contribute() must not allocate on the hot path.
//   - Contribute() must not call blocking I/O.
//   - Contribute() must not panic.
//   - Name() must return a stable, unique string.
type EvidenceContributor interface {
	// Name returns the unique identifier for this contributor. Used as the
	// registry key and as the term name passed to EvidenceAggregator.Add.
	Name() string

	// Contribute computes a log-Bayes-factor term for the given request.
	// Positive values favor the bad/anomalous hypothesis, negative values
	// favor the good hypothesis, matching composite.EvidenceAggregator's
	// sign convention.
	Contribute(req ContributionRequest) (float64, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]EvidenceContributor)
)

// RegisterContributor registers a custom evidence contributor. Panics if a
// contributor with the same name is already registered. Call from init()
// functions in plugin packages.
func RegisterContributor(c EvidenceContributor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[c.Name()]; exists {
		panic(fmt.Sprintf("contrib: contributor %q already registered", c.Name()))
	}
	registry[c.Name()] = c
}

// GetContributor returns the registered contributor with the given name.
// Returns an error if no contributor with that name is registered.
func GetContributor(name string) (EvidenceContributor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: contributor %q not registered (available: %v)", name, listNames())
	}
	return c, nil
}

// ListContributors returns the names of all registered contributors.
func ListContributors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// FeedAll runs each named contributor against req and adds its term to agg.
// A contributor that errors is skipped (logged by the caller) rather than
// aborting the whole evidence combination — one misbehaving plugin must
// not blind the rest of the evidence core.
func FeedAll(agg *composite.EvidenceAggregator, req ContributionRequest, names []string) []error {
	var errs []error
	for _, name := range names {
		c, err := GetContributor(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logBF, err := c.Contribute(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("contrib %q: %w", name, err))
			continue
		}
		agg.Add(name, logBF)
	}
	return errs
}

// ─── Example contrib contributor: I/O ratio ────────────────────────────────
// Provided as a reference implementation in the contrib package itself.
// Community contributors should be in contrib/contributors/<name>/<name>.go.

// IORatioContributor scores evidence from the read/write byte imbalance of
// a process: a process that only ever reads (ratio near 1) and never
// writes back looks more consistent with a stalled consumer than an
// actively useful pipeline stage. Registered as "io_ratio".
type IORatioContributor struct{}

func init() {
	RegisterContributor(&IORatioContributor{})
}

func (c *IORatioContributor) Name() string { return "io_ratio" }

func (c *IORatioContributor) Contribute(req ContributionRequest) (float64, error) {
	read := float64(req.Snapshot.IOReadBytes)
	write := float64(req.Snapshot.IOWriteBytes)
	total := read + write
	if total == 0 {
		return 0.0, nil
	}
	ratio := read / total
	// Centered so a balanced read/write pattern contributes ~0, and a
	// read-only pattern pushes the log-Bayes-factor toward the bad
	// hypothesis. Scaled to stay within the aggregator's expected term
	// magnitude (see composite.ClassComponent usage elsewhere).
	return 2.0 * (ratio - 0.5) * math.Log(1+total/4096), nil
}
