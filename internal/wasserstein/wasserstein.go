// Package wasserstein implements 1-D Wasserstein (W₁) distribution-drift
// monitoring between an empirical baseline and a current sample window,
// with fixed or adaptive thresholds and DRO-gating severity classification
// — spec §4.7.
package wasserstein

import (
	"math"
	"sort"

	"github.com/octoreflex/triaged/internal/mathx"
)

// Severity classifies the drift ratio = distance / threshold:
// <0.5 None, <0.8 Minor, <1.0 Moderate, <2.0 Significant, ≥2.0 Severe.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMinor
	SeverityModerate
	SeveritySignificant
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "None"
	case SeverityMinor:
		return "Minor"
	case SeverityModerate:
		return "Moderate"
	case SeveritySignificant:
		return "Significant"
	case SeveritySevere:
		return "Severe"
	default:
		return "Unknown"
	}
}

// ClassifySeverity implements the spec's sequential highest-to-lowest
// threshold table on ratio = distance/threshold.
func ClassifySeverity(ratio float64) Severity {
	switch {
	case ratio >= 2.0:
		return SeveritySevere
	case ratio >= 1.0:
		return SeveritySignificant
	case ratio >= 0.8:
		return SeverityModerate
	case ratio >= 0.5:
		return SeverityMinor
	default:
		return SeverityNone
	}
}

// InterpolateMode selects how unequal-size samples are compared.
type InterpolateMode int

const (
	// Interpolate builds a common quantile grid of size max(|P|,|Q|) — the
	// default for unequal sample sizes.
	Interpolate InterpolateMode = iota
	// Subsample strides the larger sample down to the smaller's size by
	// index instead of interpolating.
	Subsample
)

// Distance computes the 1-D Wasserstein (W₁) distance between two samples.
// p and q need not be sorted; Distance sorts copies internally.
func Distance(p, q []float64, mode InterpolateMode) float64 {
	if len(p) == 0 || len(q) == 0 {
		return 0
	}
	ps := sortedCopy(p)
	qs := sortedCopy(q)

	if len(ps) == len(qs) {
		var sum float64
		for i := range ps {
			sum += math.Abs(ps[i] - qs[i])
		}
		return sum / float64(len(ps))
	}

	if mode == Subsample {
		return subsampleDistance(ps, qs)
	}
	return interpolatedDistance(ps, qs)
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// interpolatedDistance compares quantile functions of p and q evaluated on
// a common grid of size max(len(p), len(q)).
func interpolatedDistance(ps, qs []float64) float64 {
	n := len(ps)
	if len(qs) > n {
		n = len(qs)
	}
	var sum float64
	for i := 0; i < n; i++ {
		q := (float64(i) + 0.5) / float64(n)
		sum += math.Abs(mathx.QuantileInterp(ps, q) - mathx.QuantileInterp(qs, q))
	}
	return sum / float64(n)
}

// subsampleDistance strides the larger sorted sample down to the smaller's
// length by index and compares element-wise.
func subsampleDistance(ps, qs []float64) float64 {
	larger, smaller := ps, qs
	if len(qs) > len(ps) {
		larger, smaller = qs, ps
	}
	n := len(smaller)
	stride := float64(len(larger)-1) / float64(n-1)
	if n == 1 {
		stride = 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * stride))
		if idx >= len(larger) {
			idx = len(larger) - 1
		}
		sum += math.Abs(larger[idx] - smaller[i])
	}
	return sum / float64(n)
}

// ThresholdConfig holds the fixed/adaptive threshold and DRO-gate tunables.
type ThresholdConfig struct {
	Fixed                float64
	Adaptive             bool
	AdaptiveMultiplier   float64 // default 2.5
	DROTriggerMultiplier float64 // default 1.5
}

// DefaultThresholdConfig returns AdaptiveMultiplier=2.5,
// DROTriggerMultiplier=1.5, Adaptive=false.
func DefaultThresholdConfig(fixed float64) ThresholdConfig {
	return ThresholdConfig{
		Fixed:                fixed,
		Adaptive:             false,
		AdaptiveMultiplier:   2.5,
		DROTriggerMultiplier: 1.5,
	}
}

// EffectiveThreshold resolves the config's threshold: when Adaptive is set,
// computes W₁ between the two halves of the baseline and multiplies by
// AdaptiveMultiplier, bounded below by half of Fixed.
func (c ThresholdConfig) EffectiveThreshold(baseline []float64) float64 {
	if !c.Adaptive {
		return c.Fixed
	}
	mult := c.AdaptiveMultiplier
	if mult <= 0 {
		mult = 2.5
	}
	sorted := sortedCopy(baseline)
	if len(sorted) < 4 {
		return c.Fixed
	}
	mid := len(sorted) / 2
	half1 := sorted[:mid]
	half2 := sorted[mid:]
	adaptive := Distance(half1, half2, Interpolate) * mult

	floor := c.Fixed / 2
	if adaptive < floor {
		return floor
	}
	return adaptive
}

// Result is the per-evaluation output of Monitor.Evaluate.
type Result struct {
	Distance     float64
	Threshold    float64
	Ratio        float64
	Severity     Severity
	DROTriggered bool
}

// Monitor compares a baseline sample against a current sample window.
type Monitor struct {
	cfg  ThresholdConfig
	mode InterpolateMode
}

// NewMonitor constructs a Monitor with the given threshold config and
// interpolation mode.
func NewMonitor(cfg ThresholdConfig, mode InterpolateMode) *Monitor {
	return &Monitor{cfg: cfg, mode: mode}
}

// Evaluate computes W₁(baseline, current), classifies severity against the
// resolved threshold, and reports whether the DRO gate should trigger.
func (m *Monitor) Evaluate(baseline, current []float64) Result {
	dist := Distance(baseline, current, m.mode)
	threshold := m.cfg.EffectiveThreshold(baseline)

	droMult := m.cfg.DROTriggerMultiplier
	if droMult <= 0 {
		droMult = 1.5
	}

	var ratio float64
	if threshold > 0 {
		ratio = dist / threshold
	} else if dist > 0 {
		ratio = math.Inf(1)
	}

	return Result{
		Distance:     dist,
		Threshold:    threshold,
		Ratio:        ratio,
		Severity:     ClassifySeverity(ratio),
		DROTriggered: threshold > 0 && dist > droMult*threshold,
	}
}
